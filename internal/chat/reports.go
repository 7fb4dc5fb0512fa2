package chat

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Reports is the insertion-ordered set of reported usernames.
type Reports struct {
	mu    sync.RWMutex
	names []string
}

func NewReports() *Reports {
	return &Reports{}
}

// Add reports whether username was newly added.
func (r *Reports) Add(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lo.Contains(r.names, username) {
		return false
	}
	r.names = append(r.names, username)
	return true
}

// Remove reports whether username was present.
func (r *Reports) Remove(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !lo.Contains(r.names, username) {
		return false
	}
	r.names = lo.Without(r.names, username)
	return true
}

func (r *Reports) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.names == nil {
		return []string{}
	}
	return slices.Clone(r.names)
}
