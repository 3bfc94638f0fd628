// Package pagination provides opaque cursors over append-only sequences.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// Page size bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var (
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrInvalidLimit  = errors.New("limit must be a positive integer")
)

const cursorPrefix = "seq:"

// Cursor is a position in an append-only log. Items with a sequence number
// greater than Seq come after it.
type Cursor struct {
	Seq int64
}

// Encode returns an opaque cursor string for a sequence number.
func Encode(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(seq, 10)))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	num, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return nil, ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(num, 10, 64)
	if err != nil || seq < 0 {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Seq: seq}, nil
}

// ParseLimit reads a page size. Empty means DefaultLimit; values above
// MaxLimit are clamped.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, ErrInvalidLimit
	}
	return min(n, MaxLimit), nil
}

// ComputePage takes items fetched with limit+1, trims them to limit and
// returns the cursor of the last kept item when more remain.
func ComputePage[T any](items []T, limit int, seqOf func(T) int64) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	return items, Encode(seqOf(items[len(items)-1])), true
}
