// Package store holds the authoritative ICS document. Every backend
// guarantees that Store either fully succeeds or leaves the previous content
// in place.
package store

import (
	"context"
	"fmt"
	"sync"
)

// Store is the storage collaborator of a calendar.
type Store interface {
	// Load returns the stored document, or "" when nothing was stored yet.
	Load(ctx context.Context) (string, error)
	// Store replaces the document.
	Store(ctx context.Context, content string) error
}

// IOError reports a failed load or store.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open returns the store for a configured backend. The returned close
// function releases backend resources and is always non-nil.
func Open(backend, path, name string) (Store, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case "", BackendFile:
		return NewFileStore(path), noop, nil
	case BackendSQLite:
		s, err := OpenSQLite(path, name)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendMemory:
		return NewMemoryStore(""), noop, nil
	default:
		return nil, noop, fmt.Errorf("store: unknown backend %q", backend)
	}
}

// MemoryStore keeps the document in memory. FailNext makes the next Store
// call fail, which lets callers exercise their rollback path.
type MemoryStore struct {
	mu       sync.Mutex
	content  string
	stores   int
	failNext error
}

func NewMemoryStore(initial string) *MemoryStore {
	return &MemoryStore{content: initial}
}

func (m *MemoryStore) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &IOError{Op: "load", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content, nil
}

func (m *MemoryStore) Store(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return &IOError{Op: "store", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return &IOError{Op: "store", Err: err}
	}
	m.content = content
	m.stores++
	return nil
}

// FailNext arranges for the next Store call to fail with err.
func (m *MemoryStore) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Stores returns the number of successful Store calls.
func (m *MemoryStore) Stores() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores
}
