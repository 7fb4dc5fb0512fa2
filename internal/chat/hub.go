package chat

import (
	"log/slog"
	"sync"
)

// Hub fans events out to channels grouped by room.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Channel
	rooms map[string]map[string]Channel
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		conns: make(map[string]Channel),
		rooms: make(map[string]map[string]Channel),
		log:   log.With("component", "hub"),
	}
}

// Register makes ch reachable by Send and BroadcastAll.
func (h *Hub) Register(ch Channel) {
	h.mu.Lock()
	h.conns[ch.ID()] = ch
	h.mu.Unlock()
}

// Unregister removes the channel and all of its room subscriptions.
func (h *Hub) Unregister(connID string) {
	h.UnsubscribeAll(connID)
	h.mu.Lock()
	delete(h.conns, connID)
	h.mu.Unlock()
}

// Subscribe adds a registered channel to a room's audience.
func (h *Hub) Subscribe(connID, roomID string) {
	h.mu.Lock()
	ch, ok := h.conns[connID]
	if ok {
		if h.rooms[roomID] == nil {
			h.rooms[roomID] = make(map[string]Channel)
		}
		h.rooms[roomID][connID] = ch
	}
	h.mu.Unlock()

	if ok {
		ch.Subscribe(roomID)
	}
}

func (h *Hub) Unsubscribe(connID, roomID string) {
	h.mu.Lock()
	ch, ok := h.rooms[roomID][connID]
	if ok {
		h.removeLocked(connID, roomID)
	}
	h.mu.Unlock()

	if ok {
		ch.Unsubscribe(roomID)
	}
}

// UnsubscribeAll removes the channel from every room it listens to.
func (h *Hub) UnsubscribeAll(connID string) {
	h.mu.Lock()
	var left []string
	ch := h.conns[connID]
	for roomID, members := range h.rooms {
		if _, ok := members[connID]; ok {
			h.removeLocked(connID, roomID)
			left = append(left, roomID)
		}
	}
	h.mu.Unlock()

	if ch != nil {
		for _, roomID := range left {
			ch.Unsubscribe(roomID)
		}
	}
}

// DropRoom unsubscribes every channel from roomID.
func (h *Hub) DropRoom(roomID string) {
	h.mu.Lock()
	members := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for _, ch := range members {
		ch.Unsubscribe(roomID)
	}
}

// BroadcastRoom sends an event to every channel subscribed to roomID.
func (h *Hub) BroadcastRoom(roomID, event string, payload any) {
	ev := Event{Type: event, Room: roomID, Payload: payload}
	for _, ch := range h.audience(roomID) {
		ch.Send(ev)
	}
}

// BroadcastAll sends an event to every registered channel.
func (h *Hub) BroadcastAll(event string, payload any) {
	h.mu.RLock()
	targets := make([]Channel, 0, len(h.conns))
	for _, ch := range h.conns {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	ev := Event{Type: event, Payload: payload}
	for _, ch := range targets {
		ch.Send(ev)
	}
}

// Send delivers an event to one channel. It reports false for unknown
// connections.
func (h *Hub) Send(connID, event string, payload any) bool {
	h.mu.RLock()
	ch, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("send to unknown connection", "conn_id", connID, "event", event)
		return false
	}
	ch.Send(Event{Type: event, Payload: payload})
	return true
}

// SubscriberCount returns the number of channels listening to a room.
func (h *Hub) SubscriberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Len returns the number of registered channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// audience copies the room's subscribers so sends happen without the lock.
func (h *Hub) audience(roomID string) []Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[roomID]
	out := make([]Channel, 0, len(members))
	for _, ch := range members {
		out = append(out, ch)
	}
	return out
}

func (h *Hub) removeLocked(connID, roomID string) {
	members := h.rooms[roomID]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}
