// Package settings owns the pair of activity timeout values shared across
// the split cluster: how long a node may sit idle before dimming, and how
// long before it sleeps. Every node holds exactly one current Value; the
// reconciliation layer is responsible for keeping the copies in agreement.
package settings

import (
	"errors"
	"fmt"
	"sync"
)

// Accepted bounds for the two timeouts, in milliseconds.
// Values outside these bounds are rejected by Set with ErrOutOfRange.
const (
	MinTimeoutMS = 1_000      // 1 second
	MaxIdleMS    = 7_200_000  // 2 hours
	MaxSleepMS   = 86_400_000 // 24 hours
)

// Defaults applied when a node starts without persisted settings.
const (
	DefaultIdleMS  = 30_000
	DefaultSleepMS = 900_000
)

// ErrOutOfRange is returned when a Set carries a value outside the accepted
// bounds. The store is left unchanged and nothing is propagated.
var ErrOutOfRange = errors.New("settings value out of accepted range")

// Value is the unit of shared state: the idle and sleep timeouts in
// milliseconds. Values compare with == field by field.
type Value struct {
	IdleMS  uint32 `json:"idle_ms"`  // Milliseconds of inactivity before idle
	SleepMS uint32 `json:"sleep_ms"` // Milliseconds of inactivity before sleep
}

// Default returns the value a fresh node starts with.
func Default() Value {
	return Value{IdleMS: DefaultIdleMS, SleepMS: DefaultSleepMS}
}

// Validate checks v against the accepted bounds.
// Returns ErrOutOfRange (wrapped with the offending field) if any bound is
// violated, nil otherwise.
func (v Value) Validate() error {
	if v.IdleMS < MinTimeoutMS || v.IdleMS > MaxIdleMS {
		return fmt.Errorf("idle %d ms: %w", v.IdleMS, ErrOutOfRange)
	}
	if v.SleepMS < MinTimeoutMS || v.SleepMS > MaxSleepMS {
		return fmt.Errorf("sleep %d ms: %w", v.SleepMS, ErrOutOfRange)
	}
	if v.SleepMS < v.IdleMS {
		return fmt.Errorf("sleep %d ms shorter than idle %d ms: %w", v.SleepMS, v.IdleMS, ErrOutOfRange)
	}
	return nil
}

// Store defines get/set access to a node's current settings.
// All implementations must be safe for concurrent access: the engine mutates
// the store from RPC handlers and from relay deliveries.
type Store interface {
	// Get returns the current value. Always succeeds.
	Get() Value

	// Set replaces the current value.
	// Fails only with ErrOutOfRange; on success the new value is
	// immediately visible to subsequent Get calls.
	Set(Value) error
}

// MemoryStore implements Store with in-memory state.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryStore struct {
	mu      sync.RWMutex // Protects current
	current Value        // The node's one current value
}

// NewMemoryStore creates a store seeded with the default settings.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{current: Default()}
}

// Get returns the current value.
// Value is returned by copy; callers cannot mutate store state.
func (m *MemoryStore) Get() Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Set validates and replaces the current value.
// On ErrOutOfRange the previous value is kept.
func (m *MemoryStore) Set(v Value) error {
	if err := v.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = v
	return nil
}
