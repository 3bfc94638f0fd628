// Package syncutil provides locking primitives shared across packages.
package syncutil

import (
	"context"
	"errors"
)

// ErrUnknownKey is returned when locking a key the mutex was not built with.
var ErrUnknownKey = errors.New("syncutil: unknown key")

// KeyedMutex holds one context-aware mutex per key from a fixed key set.
// Keys are fixed at construction so lookups need no locking of their own,
// and distinct keys never contend with each other.
type KeyedMutex struct {
	locks map[string]chanMutex
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type chanMutex chan struct{}

// NewKeyedMutex creates a mutex per key. Duplicate keys share one mutex.
func NewKeyedMutex(keys []string) *KeyedMutex {
	m := &KeyedMutex{locks: make(map[string]chanMutex, len(keys))}
	for _, k := range keys {
		if _, ok := m.locks[k]; ok {
			continue
		}
		ch := make(chanMutex, 1)
		ch <- struct{}{} // Start unlocked.
		m.locks[k] = ch
	}
	return m
}

// Has reports whether key belongs to the fixed key set.
func (m *KeyedMutex) Has(key string) bool {
	_, ok := m.locks[key]
	return ok
}

// LockContext acquires the mutex for key, respecting context cancellation.
// On success it returns an unlock function the caller MUST call.
// On cancellation it returns nil and the context error.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch, ok := m.locks[key]
	if !ok {
		return nil, ErrUnknownKey
	}

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lock acquires the mutex for key without a deadline.
func (m *KeyedMutex) Lock(key string) (func(), error) {
	return m.LockContext(context.Background(), key)
}
