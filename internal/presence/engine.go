package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

// EventMemberUpdate is the event carrying a room's member snapshot.
const EventMemberUpdate = "memberUpdate"

// Member is one entry of a room's member snapshot.
type Member struct {
	Username          string `json:"username"`
	HasProfilePicture bool   `json:"hasProfilePicture"`
	Online            bool   `json:"online"`
}

// Rooms lists the recorded members of a room in insertion order.
type Rooms interface {
	Members(roomID string) ([]string, error)
}

// Profiles answers whether a user has uploaded a profile picture. Unknown
// users have none.
type Profiles interface {
	HasProfilePicture(ctx context.Context, username string) bool
}

// Broadcaster delivers an event to every connection subscribed to a room.
type Broadcaster interface {
	BroadcastRoom(roomID, event string, payload any)
}

// Engine computes member snapshots and announces them to room subscribers.
type Engine struct {
	rooms    Rooms
	profiles Profiles
	registry *Registry
	out      Broadcaster
	log      *slog.Logger
}

func NewEngine(rooms Rooms, profiles Profiles, registry *Registry, out Broadcaster, log *slog.Logger) *Engine {
	return &Engine{
		rooms:    rooms,
		profiles: profiles,
		registry: registry,
		out:      out,
		log:      log.With("component", "presence"),
	}
}

// Snapshot joins the room's recorded members with profile data and the
// current online set. Member order follows the room's member list.
func (e *Engine) Snapshot(ctx context.Context, roomID string) ([]Member, error) {
	names, err := e.rooms.Members(roomID)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", roomID, err)
	}
	return lo.Map(names, func(name string, _ int) Member {
		return Member{
			Username:          name,
			HasProfilePicture: e.profiles.HasProfilePicture(ctx, name),
			Online:            e.registry.IsOnline(roomID, name),
		}
	}), nil
}

// Announce broadcasts the room's current snapshot. It must run after the
// state change it reports.
func (e *Engine) Announce(ctx context.Context, roomID string) error {
	members, err := e.Snapshot(ctx, roomID)
	if err != nil {
		return err
	}
	e.out.BroadcastRoom(roomID, EventMemberUpdate, members)
	e.log.Debug("member update", "room_id", roomID, "members", len(members))
	return nil
}
