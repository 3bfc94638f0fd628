// Package idgen provides random ID generation for incidents and requests.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a random (version 4) UUID string.
// Format: xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a prefix (e.g. "inc_", "req_").
// Result is prefix + 32 hex chars.
func WithPrefix(prefix string) string {
	return prefix + Hex()
}

// Hex returns a random UUID without dashes.
func Hex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
