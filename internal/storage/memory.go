package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStorage keeps objects in process memory. It backs tests and local
// development without an object store.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	baseURL string
}

type memoryObject struct {
	data        []byte
	contentType string
}

var _ ObjectStore = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty store whose URLs are rooted at baseURL.
func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Save implements ObjectStore.
func (m *MemoryStorage) Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return "", fmt.Errorf("memory storage: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("memory storage read %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return key, nil
}

// Delete implements ObjectStore.
func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return fmt.Errorf("memory storage: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// URL implements ObjectStore.
func (m *MemoryStorage) URL(key string) string {
	return joinURL(m.baseURL, key)
}

// Get returns the stored bytes and content type of key.
func (m *MemoryStorage) Get(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

// Keys lists stored keys in sorted order.
func (m *MemoryStorage) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
