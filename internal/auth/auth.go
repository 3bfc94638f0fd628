// Package auth provides optional API-key authentication.
//
// Authentication model:
// - No keys configured: every endpoint is open
// - Operator keys: may call every API endpoint
// - Agent keys: may only call routes scoped to their own :agent_id
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mbd888/agentwatch/internal/validation"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrNotOwner      = errors.New("not authorized for this agent")
	ErrKeyTooShort   = errors.New("API key must be at least 16 characters")
	ErrDuplicateKey  = errors.New("duplicate API key")
)

// MinKeyLength is the shortest raw key Add accepts.
const MinKeyLength = 16

// APIKey represents an API key
type APIKey struct {
	ID      string `json:"id"`
	Hash    string `json:"-"`       // SHA256 hash of key (stored)
	AgentID string `json:"agentId"` // Empty for operator keys
}

// IsOperator reports whether the key is not bound to a single agent.
func (k *APIKey) IsOperator() bool {
	return k.AgentID == ""
}

// CanAct reports whether the key may act on behalf of agentID.
func (k *APIKey) CanAct(agentID string) bool {
	return k.IsOperator() || k.AgentID == agentID
}

// Manager holds the configured keys. Keys are fixed after startup.
type Manager struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by hash
}

// NewManager creates an empty manager. Authentication is disabled until a key is added.
func NewManager() *Manager {
	return &Manager{keys: make(map[string]*APIKey)}
}

// FromEntries builds a manager from entries of the form "key" (operator)
// or "agent_id:key" (agent-scoped).
func FromEntries(entries []string) (*Manager, error) {
	m := NewManager()
	for i, entry := range entries {
		agentID, raw := "", entry
		if before, after, ok := strings.Cut(entry, ":"); ok {
			agentID, raw = before, after
			if !validation.IsValidAgentID(agentID) {
				return nil, fmt.Errorf("API key %d: invalid agent id %q", i+1, agentID)
			}
		}
		if _, err := m.Add(raw, agentID); err != nil {
			return nil, fmt.Errorf("API key %d: %w", i+1, err)
		}
	}
	return m, nil
}

// Add registers a raw key. An empty agentID makes it an operator key.
func (m *Manager) Add(rawKey, agentID string) (*APIKey, error) {
	rawKey = strings.TrimSpace(rawKey)
	if len(rawKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	hash := hashKey(rawKey)
	key := &APIKey{
		ID:      "ak_" + hash[:12],
		Hash:    hash,
		AgentID: agentID,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[hash]; exists {
		return nil, ErrDuplicateKey
	}
	m.keys[hash] = key
	return key, nil
}

// Enabled reports whether any key is configured.
func (m *Manager) Enabled() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys) > 0
}

// Len returns the number of configured keys.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// ValidateKey validates an API key and returns the key metadata
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(rawKey, "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}

	hash := hashKey(rawKey)
	m.mu.RLock()
	key, ok := m.keys[hash]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	return key, nil
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
