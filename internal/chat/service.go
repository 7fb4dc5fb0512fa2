// Package chat is the real-time core: a single event loop that owns room
// presence, routes messages to room subscribers and injects bot replies.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/christopherjohns/nodchat/internal/message"
	"github.com/christopherjohns/nodchat/internal/presence"
	"github.com/christopherjohns/nodchat/internal/reply"
	"github.com/christopherjohns/nodchat/internal/room"
)

const (
	defaultQueueSize        = 256
	defaultReplyTimeout     = 10 * time.Second
	defaultMaxMessageLength = 2000
)

// Config tunes the chat core.
type Config struct {
	// BotName is the reserved identity that authors automatic replies.
	BotName string
	// Mention triggers an automatic reply when it appears in a message,
	// compared case-insensitively.
	Mention string
	// Fallback is posted when reply generation fails or yields nothing.
	Fallback         string
	ReplyTimeout     time.Duration
	MaxMessageLength int
	QueueSize        int
}

// DefaultConfig returns the stock bot settings.
func DefaultConfig() Config {
	return Config{
		BotName:          "nodbot",
		Mention:          "@nodbot",
		Fallback:         "Sorry, I can't come up with an answer right now.",
		ReplyTimeout:     defaultReplyTimeout,
		MaxMessageLength: defaultMaxMessageLength,
		QueueSize:        defaultQueueSize,
	}
}

// Users is the identity store as seen by the core.
type Users interface {
	presence.Profiles
	Delete(ctx context.Context, username string) error
}

// Service serializes every state change through one loop. Public methods
// queue a step and block until it ran, the caller's ctx ends or the loop
// stops.
type Service struct {
	cfg       Config
	rooms     *room.Registry
	messages  message.MessageStore
	users     Users
	generator reply.Generator

	hub      *Hub
	registry *presence.Registry
	presence *presence.Engine
	reports  *Reports

	queue   chan func(context.Context)
	done    chan struct{}
	replies sync.WaitGroup
	log     *slog.Logger
}

func NewService(cfg Config, rooms *room.Registry, messages message.MessageStore, users Users, generator reply.Generator, log *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.BotName == "" {
		cfg.BotName = def.BotName
	}
	if cfg.Mention == "" {
		cfg.Mention = "@" + cfg.BotName
	}
	if cfg.Fallback == "" {
		cfg.Fallback = def.Fallback
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = def.ReplyTimeout
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = def.MaxMessageLength
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	hub := NewHub(log)
	registry := presence.NewRegistry()
	return &Service{
		cfg:       cfg,
		rooms:     rooms,
		messages:  messages,
		users:     users,
		generator: generator,
		hub:       hub,
		registry:  registry,
		presence:  presence.NewEngine(rooms, users, registry, hub, log),
		reports:   NewReports(),
		queue:     make(chan func(context.Context), cfg.QueueSize),
		done:      make(chan struct{}),
		log:       log.With("component", "chat"),
	}
}

// Run processes queued steps until ctx is cancelled. In-flight bot replies
// are cancelled and waited for before Run returns. Run must be called once.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("event loop started", "queue_size", s.cfg.QueueSize)
	defer func() {
		close(s.done)
		s.replies.Wait()
		s.log.Info("event loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case step := <-s.queue:
			step(ctx)
		}
	}
}

// submit queues fn on the loop and waits for its result.
func (s *Service) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	errc := make(chan error, 1)
	step := func(loopCtx context.Context) { errc <- fn(loopCtx) }

	select {
	case s.queue <- step:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect makes ch reachable for broadcasts to all connections.
func (s *Service) Connect(ctx context.Context, ch Channel) error {
	return s.submit(ctx, func(context.Context) error {
		s.hub.Register(ch)
		s.log.Debug("connection registered", "conn_id", ch.ID())
		return nil
	})
}

// Join binds the connection to username, records the membership and puts
// the user online in roomID. Connections previously bound to the same
// username are sent forceLogout and leave their rooms first.
func (s *Service) Join(ctx context.Context, connID, roomID, username string) error {
	username = strings.TrimSpace(username)
	return s.submit(ctx, func(ctx context.Context) error {
		if username == "" {
			s.log.Warn("join without username refused", "conn_id", connID)
			return ErrInvalidUsername
		}
		if s.IsReserved(username) {
			s.log.Warn("join with reserved identity refused", "conn_id", connID)
			return ErrReservedIdentity
		}
		if !s.rooms.Exists(roomID) {
			s.log.Debug("join for unknown room dropped", "conn_id", connID, "room_id", roomID)
			return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
		}

		for _, b := range s.registry.Bind(connID, username) {
			s.detach(ctx, b, connID, reasonReplaced)
		}
		if err := s.rooms.AddMember(roomID, username); err != nil {
			return err
		}
		if _, err := s.registry.Join(roomID, username); err != nil {
			return err
		}
		s.hub.Subscribe(connID, roomID)
		s.announce(ctx, roomID)
		s.log.Info("user joined", "username", username, "room_id", roomID, "conn_id", connID)
		return nil
	})
}

// Leave takes username offline in roomID. Leaving a room the user is not
// present in is a silent no-op.
func (s *Service) Leave(ctx context.Context, connID, roomID, username string) error {
	username = strings.TrimSpace(username)
	return s.submit(ctx, func(ctx context.Context) error {
		b, ok := s.registry.BindingFor(connID)
		if !ok {
			return nil
		}
		if b.Username != username {
			return ErrIdentityMismatch
		}
		if !s.registry.Leave(roomID, username) {
			return nil
		}
		s.hub.Unsubscribe(connID, roomID)
		s.announce(ctx, roomID)
		s.log.Info("user left", "username", username, "room_id", roomID)
		return nil
	})
}

// Disconnect releases everything held by a closed connection.
func (s *Service) Disconnect(ctx context.Context, connID string) error {
	return s.submit(ctx, func(ctx context.Context) error {
		b, bound := s.registry.UnbindAll(connID)
		s.hub.Unregister(connID)
		if !bound {
			return nil
		}
		for _, roomID := range b.Rooms {
			s.announce(ctx, roomID)
		}
		s.log.Info("user disconnected", "username", b.Username, "conn_id", connID)
		return nil
	})
}

// IsReserved reports whether username is the bot identity.
func (s *Service) IsReserved(username string) bool {
	return strings.EqualFold(strings.TrimSpace(username), s.cfg.BotName)
}

// Stats is a point-in-time view of the core.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
	Bound       int `json:"bound"`
	Reports     int `json:"reports"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Rooms:       s.rooms.Len(),
		Connections: s.hub.Len(),
		Bound:       s.registry.Len(),
		Reports:     len(s.reports.List()),
	}
}

// detach finishes taking a displaced binding out of service. The binding's
// rooms were already left by the registry.
func (s *Service) detach(ctx context.Context, b presence.Binding, current, reason string) {
	if b.ConnID == current {
		for _, roomID := range b.Rooms {
			s.hub.Unsubscribe(b.ConnID, roomID)
		}
	} else {
		s.hub.Send(b.ConnID, EventForceLogout, ForceLogoutPayload{Reason: reason})
		s.hub.UnsubscribeAll(b.ConnID)
		s.log.Info("connection displaced", "username", b.Username, "conn_id", b.ConnID, "reason", reason)
	}
	for _, roomID := range b.Rooms {
		s.announce(ctx, roomID)
	}
}

func (s *Service) announce(ctx context.Context, roomID string) {
	if err := s.presence.Announce(ctx, roomID); err != nil {
		s.log.Debug("member update skipped", "room_id", roomID, "error", err)
	}
}
