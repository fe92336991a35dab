package storage

import (
	"fmt"
	"sync"
)

// MemStore is an in-memory Storage. Capacity, when non-zero, caps the total
// number of bytes held so disk-full handling can be exercised.
type MemStore struct {
	mu       sync.Mutex
	files    map[string][]byte
	readOnly map[string]bool
	size     int

	Capacity int
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		files:    make(map[string][]byte),
		readOnly: make(map[string]bool),
	}
}

// Put stores content under name, replacing anything already there.
func (m *MemStore) Put(name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size += len(content) - len(m.files[name])
	m.files[name] = append([]byte(nil), content...)
}

// Protect makes name unreadable and unwritable (access violation).
func (m *MemStore) Protect(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly[name] = true
}

// Get returns a copy of name's content.
func (m *MemStore) Get(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[name]
	return append([]byte(nil), b...), ok
}

func (m *MemStore) ReadAll(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly[name] {
		return nil, fmt.Errorf("%s: %w", name, ErrAccessDenied)
	}
	b, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemStore) Create(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly[name] {
		return fmt.Errorf("%s: %w", name, ErrAccessDenied)
	}
	if _, ok := m.files[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrAlreadyExists)
	}
	if m.Capacity > 0 && m.size >= m.Capacity {
		return fmt.Errorf("%s: %w", name, ErrDiskFull)
	}
	m.files[name] = []byte{}
	return nil
}

func (m *MemStore) Append(name string, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly[name] {
		return fmt.Errorf("%s: %w", name, ErrAccessDenied)
	}
	cur, ok := m.files[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if m.Capacity > 0 && m.size+len(b) > m.Capacity {
		return fmt.Errorf("%s: %w", name, ErrDiskFull)
	}
	m.files[name] = append(cur, b...)
	m.size += len(b)
	return nil
}

// Remove deletes name if present.
func (m *MemStore) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size -= len(m.files[name])
	delete(m.files, name)
	return nil
}
