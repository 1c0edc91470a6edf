// Package statestore persists Mentara's application document.
//
// The document is stored as one opaque JSON blob per key and always written
// whole, so the last Save wins. Backends live in sub-packages: file (local
// directory) and postgres. [Memory] is an in-process backend for tests and
// throwaway runs.
package statestore

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Load when no document exists under the key.
var ErrNotFound = errors.New("statestore: not found")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("statestore: closed")

// Store loads and saves whole documents by key.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the document stored under key, or an error wrapping
	// [ErrNotFound].
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the document stored under key.
	Save(ctx context.Context, key string, body []byte) error

	// Close releases the backend. Calling Close twice is safe.
	Close() error
}

// Pinger is implemented by backends that can report their reachability.
// Health checks use it when present.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ Store = (*Memory)(nil)

// Memory is a map-backed [Store].
type Memory struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// Load implements [Store].
func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Save implements [Store].
func (m *Memory) Save(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs[key] = append([]byte(nil), body...)
	return nil
}

// Close implements [Store].
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
