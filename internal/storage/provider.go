// Package storage defines the blob store abstraction for job artifacts and
// harvested page content, keeping the rest of the system independent of the
// backing store (local filesystem or Google Cloud Storage).
package storage

import (
	"context"
	"sync"
)

// Provider writes a blob to an object path and returns its URI.
type Provider interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// NoOp discards everything. Useful for dry runs where content is fetched
// but not kept.
type NoOp struct{}

// PutObject does nothing and reports a synthetic URI.
func (NoOp) PutObject(_ context.Context, path string, _ string, _ []byte) (string, error) {
	return "noop://" + path, nil
}

// Memory keeps blobs in a map, for tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// PutObject stores a copy of data under path.
func (m *Memory) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// Object returns the stored blob and whether it exists.
func (m *Memory) Object(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	return data, ok
}
