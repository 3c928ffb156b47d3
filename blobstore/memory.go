package blobstore

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Memory keeps blobs in a map. Values are stored encoded so callers never
// share memory with the store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailSave, when set, is returned by every Save. Used to exercise
	// persistence failure paths.
	FailSave error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("blobstore: marshal %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	m.blobs[key] = data
	return nil
}

func (m *Memory) Load(key string, v any) (bool, error) {
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("blobstore: unmarshal %q: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

// Raw returns the stored bytes for key.
func (m *Memory) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	return data, ok
}

// SetRaw stores data under key without encoding it.
func (m *Memory) SetRaw(key string, data []byte) {
	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()
}
