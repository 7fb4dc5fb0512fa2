package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/christopherjohns/nodchat/internal/message"
	"github.com/christopherjohns/nodchat/internal/room"
	"github.com/christopherjohns/nodchat/internal/user"
	"github.com/samber/lo"
)

// CreateRoom registers a new empty room.
func (s *Service) CreateRoom(ctx context.Context, name string) (*room.Room, error) {
	var created *room.Room
	err := s.submit(ctx, func(context.Context) error {
		r, err := s.rooms.Create(name)
		if err != nil {
			return err
		}
		created = r
		s.log.Info("room created", "room_id", r.ID, "name", r.Name)
		return nil
	})
	return created, err
}

// Rooms lists the rooms in creation order.
func (s *Service) Rooms() iter.Seq[room.Summary] {
	return s.rooms.List()
}

// AddMember records username as a room member and announces the new
// member list.
func (s *Service) AddMember(ctx context.Context, roomID, username string) error {
	username = strings.TrimSpace(username)
	return s.submit(ctx, func(ctx context.Context) error {
		if username == "" {
			return ErrInvalidUsername
		}
		if s.IsReserved(username) {
			return ErrReservedIdentity
		}
		if err := s.rooms.AddMember(roomID, username); err != nil {
			return err
		}
		s.announce(ctx, roomID)
		return nil
	})
}

// History returns a room's messages, or only those stored after afterID
// when it is set.
func (s *Service) History(ctx context.Context, roomID, afterID string) ([]*message.Message, error) {
	if !s.rooms.Exists(roomID) {
		return nil, fmt.Errorf("%w: %s", room.ErrNotFound, roomID)
	}
	if afterID != "" {
		return s.messages.After(ctx, roomID, afterID)
	}
	return s.messages.History(ctx, roomID)
}

// Report adds username to the report list and tells every connection
// when the list changed.
func (s *Service) Report(ctx context.Context, username string) error {
	return s.submit(ctx, func(context.Context) error {
		if !s.reports.Add(username) {
			return nil
		}
		s.hub.BroadcastAll(EventReportsUpdate, s.reports.List())
		s.log.Info("user reported", "username", username)
		return nil
	})
}

// Reports returns the reported usernames in report order.
func (s *Service) Reports() []string {
	return s.reports.List()
}

// PurgeUser deletes a user and everything attached to it: room
// memberships, authored messages, its report entry and its live
// connection, which receives forceLogout. It fails with user.ErrNotFound
// only when nothing referenced the username.
func (s *Service) PurgeUser(ctx context.Context, username string) error {
	return s.submit(ctx, func(ctx context.Context) error {
		deleteErr := s.users.Delete(ctx, username)
		if deleteErr != nil && !errors.Is(deleteErr, user.ErrNotFound) {
			return deleteErr
		}

		affected := s.rooms.RemoveMember(username)
		purged, err := s.messages.PurgeAuthor(ctx, username)
		if err != nil {
			s.log.Warn("purge authored messages failed", "username", username, "error", err)
		}
		reported := s.reports.Remove(username)

		connID, bound := s.registry.ConnFor(username)
		if bound {
			b, _ := s.registry.UnbindAll(connID)
			s.hub.Send(connID, EventForceLogout, ForceLogoutPayload{Reason: reasonPurged})
			s.hub.UnsubscribeAll(connID)
			affected = append(affected, b.Rooms...)
		}

		for _, roomID := range lo.Uniq(affected) {
			s.announce(ctx, roomID)
		}
		if reported {
			s.hub.BroadcastAll(EventReportsUpdate, s.reports.List())
		}

		if deleteErr != nil && len(affected) == 0 && purged == 0 && !reported && !bound {
			return deleteErr
		}
		s.log.Info("user purged", "username", username, "rooms", len(affected), "messages", purged)
		return nil
	})
}

// DeleteRoom removes a room and its history. Present users are taken
// offline without a member update since the room is gone.
func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	return s.submit(ctx, func(ctx context.Context) error {
		if err := s.rooms.Delete(roomID); err != nil {
			return err
		}
		for _, username := range s.registry.Online(roomID) {
			s.registry.Leave(roomID, username)
		}
		s.hub.DropRoom(roomID)
		if err := s.messages.DeleteRoom(ctx, roomID); err != nil {
			s.log.Warn("delete room history failed", "room_id", roomID, "error", err)
		}
		s.log.Info("room deleted", "room_id", roomID)
		return nil
	})
}
