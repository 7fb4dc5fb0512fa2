package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/christopherjohns/nodchat/internal/message"
)

// mentions reports whether text addresses the bot.
func (s *Service) mentions(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(s.cfg.Mention))
}

// maybeReply starts a bot reply for msg when it mentions the bot. The reply
// context is the message stored right before msg; without one nothing is
// generated. Runs on the loop, right after msg was appended.
func (s *Service) maybeReply(ctx context.Context, msg *message.Message) {
	if msg.Type == message.TypeBot || s.IsReserved(msg.Username) || !s.mentions(msg.Text) {
		return
	}

	recent, err := s.messages.Recent(ctx, msg.RoomID, 2)
	if err != nil {
		s.log.Warn("read reply context failed", "room_id", msg.RoomID, "error", err)
		return
	}
	if len(recent) < 2 || recent[1].ID != msg.ID {
		s.log.Debug("no context for bot reply", "room_id", msg.RoomID)
		return
	}

	s.replies.Add(1)
	go func() {
		defer s.replies.Done()
		s.reply(ctx, msg.RoomID, recent[0].Text)
	}()
}

// reply calls the generator off the loop, then re-enters the loop to post
// the answer if the room still exists.
func (s *Service) reply(ctx context.Context, roomID, contextText string) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	text, err := s.generator.Generate(genCtx, contextText)
	cancel()
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		s.log.Warn("reply generation failed, posting fallback", "room_id", roomID, "error", err)
		text = s.cfg.Fallback
	}

	err = s.submit(ctx, func(ctx context.Context) error {
		if !s.rooms.Exists(roomID) {
			return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
		}
		msg := message.New(roomID, s.cfg.BotName, text, message.TypeBot)
		if err := s.messages.Append(ctx, msg); err != nil {
			return fmt.Errorf("append bot reply: %w", err)
		}
		s.hub.BroadcastRoom(roomID, EventMessage, MessagePayload{Username: s.cfg.BotName, Text: text})
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownRoom):
		s.log.Info("room removed before bot reply, dropping", "room_id", roomID)
	default:
		s.log.Warn("bot reply dropped", "room_id", roomID, "error", err)
	}
}
