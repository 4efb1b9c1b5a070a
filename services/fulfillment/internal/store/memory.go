package store

import (
	"context"
	"sync"
)

type MemoryBackend struct {
	mu   sync.RWMutex
	data map[Key][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: map[Key][]byte{}}
}

func (m *MemoryBackend) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryBackend) Put(_ context.Context, key Key, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryBackend) Append(_ context.Context, key Key, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append(m.data[key], body...)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}
	delete(m.data, key)
	return nil
}

// Has reports whether key is present.
func (m *MemoryBackend) Has(key Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}
