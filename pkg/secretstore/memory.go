package secretstore

import (
	"context"
	"sync"
)

type memoryEntry struct {
	value     []byte
	biometric bool
}

// MemoryStore is an in-process Store. Values are copied on the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// FailSave, when set, is consulted before every Save and its error returned.
	FailSave func(key string) error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Save stores a copy of value under key, replacing any previous entry.
func (m *MemoryStore) Save(ctx context.Context, key string, value []byte, requireBiometric bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if m.FailSave != nil {
		if err := m.FailSave(key); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: append([]byte{}, value...), biometric: requireBiometric}
	return nil
}

// Retrieve returns the value for key, or nil if absent.
func (m *MemoryStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return m.retrieve(ctx, key, false)
}

// RetrieveWithBiometric returns the value for key including biometric-gated entries.
func (m *MemoryStore) RetrieveWithBiometric(ctx context.Context, key string) ([]byte, error) {
	return m.retrieve(ctx, key, true)
}

func (m *MemoryStore) retrieve(ctx context.Context, key string, biometric bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if e.biometric && !biometric {
		return nil, ErrBiometricRequired
	}
	return append([]byte{}, e.value...), nil
}

// Delete removes key. Absent keys are ignored.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Exists reports whether key has an entry.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

// Keys returns the stored keys in no particular order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}
