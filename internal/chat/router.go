package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/christopherjohns/nodchat/internal/message"
)

// Post routes a chat message: validate, append to the room history,
// broadcast to the room and maybe trigger a bot reply. Rejected messages
// are dropped without notifying anyone.
func (s *Service) Post(ctx context.Context, connID, roomID, username, text string) error {
	username = strings.TrimSpace(username)
	return s.submit(ctx, func(ctx context.Context) error {
		return s.route(ctx, connID, roomID, username, text)
	})
}

func (s *Service) route(ctx context.Context, connID, roomID, username, text string) error {
	log := s.log.With("conn_id", connID, "room_id", roomID)

	if username == "" {
		log.Warn("message without username dropped")
		return ErrInvalidUsername
	}
	if s.IsReserved(username) {
		log.Warn("message claiming the bot identity dropped")
		return ErrReservedIdentity
	}
	if b, ok := s.registry.BindingFor(connID); !ok || b.Username != username {
		log.Warn("message author does not match connection", "username", username)
		return ErrIdentityMismatch
	}
	if !s.rooms.Exists(roomID) {
		log.Debug("message for unknown room dropped")
		return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	if strings.TrimSpace(text) == "" || utf8.RuneCountInString(text) > s.cfg.MaxMessageLength {
		log.Debug("invalid message text dropped", "length", len(text))
		return ErrInvalidText
	}

	msg := message.New(roomID, username, text, message.TypeChat)
	if err := s.messages.Append(ctx, msg); err != nil {
		log.Error("append message failed", "error", err)
		return fmt.Errorf("append message: %w", err)
	}
	s.hub.BroadcastRoom(roomID, EventMessage, MessagePayload{Username: username, Text: text})

	s.maybeReply(ctx, msg)
	return nil
}
