package message

import (
	"context"
	"slices"
	"sync"
)

// MessageStore is the interface for room history backends. Messages are
// returned oldest first.
type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	History(ctx context.Context, roomID string) ([]*Message, error)
	Recent(ctx context.Context, roomID string, n int) ([]*Message, error)
	After(ctx context.Context, roomID, afterID string) ([]*Message, error)
	Count(ctx context.Context, roomID string) (int, error)
	DeleteRoom(ctx context.Context, roomID string) error
	PurgeAuthor(ctx context.Context, username string) (int, error)
}

// Store keeps room history in memory.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string][]*Message
	maxSize int
}

var _ MessageStore = (*Store)(nil)

// NewStore creates a message store that retains up to maxSize messages per
// room. A maxSize of 0 keeps the whole history.
func NewStore(maxSize int) *Store {
	return &Store{
		rooms:   make(map[string][]*Message),
		maxSize: maxSize,
	}
}

// Append adds a message to the room's history.
func (s *Store) Append(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.rooms[msg.RoomID], msg)
	if s.maxSize > 0 && len(msgs) > s.maxSize {
		msgs = msgs[len(msgs)-s.maxSize:]
	}
	s.rooms[msg.RoomID] = msgs
	return nil
}

// History returns the full retained history of a room.
func (s *Store) History(_ context.Context, roomID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rooms[roomID]), nil
}

// Recent returns the last n messages for a room.
func (s *Store) Recent(_ context.Context, roomID string, n int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[roomID]
	if len(msgs) == 0 || n <= 0 {
		return nil, nil
	}
	if n > len(msgs) {
		n = len(msgs)
	}
	return slices.Clone(msgs[len(msgs)-n:]), nil
}

// After returns all messages in a room that were stored after the message
// with the given ID. If afterID is empty or unknown, no messages are returned.
func (s *Store) After(_ context.Context, roomID, afterID string) ([]*Message, error) {
	if afterID == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[roomID]
	for i, m := range msgs {
		if m.ID == afterID {
			return slices.Clone(msgs[i+1:]), nil
		}
	}
	return nil, nil
}

// Count returns the number of stored messages for a room.
func (s *Store) Count(_ context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID]), nil
}

// DeleteRoom removes all stored messages for a room.
func (s *Store) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// PurgeAuthor removes every message written by username from all rooms.
// The relative order of the remaining messages is unchanged.
func (s *Store) PurgeAuthor(_ context.Context, username string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for roomID, msgs := range s.rooms {
		kept := slices.DeleteFunc(slices.Clone(msgs), func(m *Message) bool {
			return m.Username == username
		})
		removed += len(msgs) - len(kept)
		s.rooms[roomID] = kept
	}
	return removed, nil
}
