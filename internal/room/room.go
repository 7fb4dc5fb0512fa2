package room

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	// ErrValidation is wrapped by every error caused by bad caller input.
	ErrValidation = errors.New("validation error")

	ErrNameRequired  = fmt.Errorf("%w: Room name is required", ErrValidation)
	ErrDuplicateName = fmt.Errorf("%w: Room name already taken", ErrValidation)
	ErrNotFound      = errors.New("room not found")
)

// Room represents a chat room. Message history is kept by the message store
// under the room's ID.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the list view of a room.
type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Registry manages chat rooms.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	byName map[string]string
	order  []string
}

// NewRegistry creates an empty room Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		byName: make(map[string]string),
	}
}

// Create adds a new room with no members. Names are compared after trimming
// surrounding whitespace.
func (r *Registry) Create(name string) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[name]; taken {
		return nil, ErrDuplicateName
	}

	rm := &Room{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   []string{},
		CreatedAt: time.Now(),
	}
	r.rooms[rm.ID] = rm
	r.byName[name] = rm.ID
	r.order = append(r.order, rm.ID)
	return rm.clone(), nil
}

// Get returns a copy of the room with the given ID.
func (r *Registry) Get(id string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rm.clone(), nil
}

// Exists reports whether a room with the given ID is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[id]
	return ok
}

// Members returns the member list of a room in insertion order.
func (r *Registry) Members(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]string(nil), rm.Members...), nil
}

// List returns the rooms in creation order. The sequence is lazy: the
// registry is read when iteration starts, and every new range sees the
// rooms registered at that moment.
func (r *Registry) List() iter.Seq[Summary] {
	return func(yield func(Summary) bool) {
		r.mu.RLock()
		summaries := lo.Map(r.order, func(id string, _ int) Summary {
			return Summary{ID: id, Name: r.rooms[id].Name}
		})
		r.mu.RUnlock()

		for _, s := range summaries {
			if !yield(s) {
				return
			}
		}
	}
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// AddMember records username as a member of the room. Adding an existing
// member is a no-op.
func (r *Registry) AddMember(id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !lo.Contains(rm.Members, username) {
		rm.Members = append(rm.Members, username)
	}
	return nil
}

// RemoveMember drops username from every room and returns the IDs of the
// rooms it was removed from, in creation order.
func (r *Registry) RemoveMember(username string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []string
	for _, id := range r.order {
		rm := r.rooms[id]
		if lo.Contains(rm.Members, username) {
			rm.Members = lo.Without(rm.Members, username)
			affected = append(affected, id)
		}
	}
	return affected
}

// Delete removes a room by ID. Only the admin API deletes rooms.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.rooms, id)
	delete(r.byName, rm.Name)
	r.order = lo.Without(r.order, id)
	return nil
}

func (rm *Room) clone() *Room {
	c := *rm
	c.Members = append([]string{}, rm.Members...)
	return &c
}
