package user

import (
	"context"
	"fmt"
	"sync"
)

// Store persists registration records keyed by username.
type Store interface {
	// Create fails with ErrUsernameTaken when the username exists.
	Create(ctx context.Context, u *User) error
	// Get fails with ErrNotFound for unknown usernames.
	Get(ctx context.Context, username string) (*User, error)
	// Update loads the record, applies fn and writes it back atomically.
	Update(ctx context.Context, username string, fn func(*User) error) error
	Delete(ctx context.Context, username string) error
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return ErrUsernameTaken
	}
	s.users[u.Username] = u.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return u.clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, username string, fn func(*User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	next := u.clone()
	if err := fn(next); err != nil {
		return err
	}
	s.users[username] = next
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	delete(s.users, username)
	return nil
}
