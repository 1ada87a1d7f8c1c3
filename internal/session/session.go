package session

import (
	"errors"
	"sync"
)

// Role names used across the portal.
const (
	RoleAdmin     = "admin"
	RoleHR        = "hr"
	RoleManager   = "manager"
	RoleDeveloper = "developer"
)

// ErrNoSession is returned by Store.Load when nothing has been saved.
var ErrNoSession = errors.New("no stored session")

// Session is the current identity plus the bearer credential. It is created
// at login, persisted so it survives restarts, and destroyed at logout. The
// chat subsystem reads it but never mutates it.
type Session struct {
	UserID      string
	DisplayName string
	Role        string
	Credential  string
}

// Store persists the session across process restarts.
type Store interface {
	Load() (*Session, error)
	Save(*Session) error
	Clear() error
}

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	current *Session
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the saved session or ErrNoSession.
func (m *MemoryStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	cp := *m.current
	return &cp, nil
}

// Save replaces the stored session.
func (m *MemoryStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.current = &cp
	return nil
}

// Clear drops the stored session.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return nil
}
