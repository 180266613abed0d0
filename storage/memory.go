package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps documents in process memory
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[string][]byte)}
}

func (m *MemoryBackend) EnsureNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[namespace]; !ok {
		m.docs[namespace] = make(map[string][]byte)
	}
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Put(ctx context.Context, namespace, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.docs[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.docs[namespace] = ns
	}
	ns[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Keys(ctx context.Context, namespace string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.docs[namespace]))
	for k := range m.docs[namespace] {
		keys = append(keys, k)
	}
	return keys, nil
}
