// Package presence tracks which user each live connection speaks for and
// which rooms those users are currently present in.
package presence

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// ErrNotBound is returned when joining a room for a username that has no
// live connection.
var ErrNotBound = errors.New("username is not bound to a connection")

// Binding ties a connection to the username it speaks for and the rooms that
// username joined through it.
type Binding struct {
	ConnID   string
	Username string
	Rooms    []string
}

// Registry is the connection registry. A username is bound to at most one
// connection: binding it again from another connection detaches the old one.
// All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Binding
	byUser map[string]string
	online map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Binding),
		byUser: make(map[string]string),
		online: make(map[string]map[string]struct{}),
	}
}

// Bind attaches username to connID and returns the bindings it displaced:
// the previous connection of the same username, and the previous username of
// the same connection. Displaced bindings have already left their rooms.
// Binding a connection to the username it already holds is a no-op.
func (r *Registry) Bind(connID, username string) []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.byConn[connID]; ok && b.Username == username {
		return nil
	}

	var displaced []Binding
	if b, ok := r.byConn[connID]; ok {
		displaced = append(displaced, r.detach(b))
	}
	if prev, ok := r.byUser[username]; ok {
		displaced = append(displaced, r.detach(r.byConn[prev]))
	}

	r.byConn[connID] = &Binding{ConnID: connID, Username: username}
	r.byUser[username] = connID
	return displaced
}

// Join marks the bound username online in roomID. It reports whether the
// online set changed.
func (r *Registry) Join(roomID, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID, ok := r.byUser[username]
	if !ok {
		return false, ErrNotBound
	}
	b := r.byConn[connID]
	if lo.Contains(b.Rooms, roomID) {
		return false, nil
	}
	b.Rooms = append(b.Rooms, roomID)
	set, ok := r.online[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.online[roomID] = set
	}
	set[username] = struct{}{}
	return true, nil
}

// Leave removes username from roomID's online set. Leaving a room the user
// is not present in changes nothing and reports false.
func (r *Registry) Leave(roomID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID, ok := r.byUser[username]
	if !ok {
		return false
	}
	b := r.byConn[connID]
	if !lo.Contains(b.Rooms, roomID) {
		return false
	}
	b.Rooms = lo.Without(b.Rooms, roomID)
	r.removeOnline(roomID, username)
	return true
}

// UnbindAll drops the connection's binding and takes its username out of
// every joined room. The returned binding lists those rooms. A connection
// that was never bound, or was already displaced, reports false.
func (r *Registry) UnbindAll(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	return r.detach(b), true
}

// IsOnline reports whether username is present in roomID.
func (r *Registry) IsOnline(roomID, username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[roomID][username]
	return ok
}

// Online returns the sorted online usernames of a room.
func (r *Registry) Online(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.online[roomID]))
}

// ConnFor returns the connection bound to username.
func (r *Registry) ConnFor(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[username]
	return id, ok
}

// BindingFor returns a copy of the binding held by connID.
func (r *Registry) BindingFor(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	return copyBinding(b), true
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// detach must be called with mu held.
func (r *Registry) detach(b *Binding) Binding {
	for _, roomID := range b.Rooms {
		r.removeOnline(roomID, b.Username)
	}
	delete(r.byConn, b.ConnID)
	if r.byUser[b.Username] == b.ConnID {
		delete(r.byUser, b.Username)
	}
	return copyBinding(b)
}

func (r *Registry) removeOnline(roomID, username string) {
	set := r.online[roomID]
	delete(set, username)
	if len(set) == 0 {
		delete(r.online, roomID)
	}
}

func copyBinding(b *Binding) Binding {
	return Binding{ConnID: b.ConnID, Username: b.Username, Rooms: slices.Clone(b.Rooms)}
}
