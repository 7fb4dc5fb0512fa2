package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists users in BadgerDB as JSON under "user:<username>".
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) the database directory at path.
func OpenBadger(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open user db %s: %w", path, err)
	}
	return db, nil
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log.With("component", "user-store")}
}

func key(username string) []byte {
	return []byte("user:" + username)
}

func (s *BadgerStore) Create(_ context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(u.Username)); err == nil {
			return ErrUsernameTaken
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key(u.Username), data)
	})
}

func (s *BadgerStore) Get(_ context.Context, username string) (*User, error) {
	var u *User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = read(txn, username)
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *BadgerStore) Update(_ context.Context, username string, fn func(*User) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		u, err := read(txn, username)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
		return txn.Set(key(username), data)
	})
}

func (s *BadgerStore) Delete(_ context.Context, username string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(username)); err != nil {
			return err
		}
		return txn.Delete(key(username))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err == nil {
		s.log.Debug("user deleted", "username", username)
	}
	return err
}

func read(txn *badger.Txn, username string) (*User, error) {
	item, err := txn.Get(key(username))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	var u User
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &u)
	}); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", username, err)
	}
	return &u, nil
}
