package chat

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/christopherjohns/nodchat/internal/message"
	"github.com/christopherjohns/nodchat/internal/mocks"
	"github.com/christopherjohns/nodchat/internal/presence"
	"github.com/christopherjohns/nodchat/internal/room"
	"github.com/christopherjohns/nodchat/internal/user"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

type fakeChannel struct {
	id     string
	mu     sync.Mutex
	events []Event
	rooms  map[string]bool
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id, rooms: make(map[string]bool)}
}

func (f *fakeChannel) ID() string { return f.id }

func (f *fakeChannel) Send(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeChannel) Subscribe(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[roomID] = true
}

func (f *fakeChannel) Unsubscribe(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomID)
}

func (f *fakeChannel) subscribed(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[roomID]
}

func (f *fakeChannel) all() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func (f *fakeChannel) ofType(typ string) []Event {
	var out []Event
	for _, ev := range f.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeChannel) messages() []MessagePayload {
	var out []MessagePayload
	for _, ev := range f.ofType(EventMessage) {
		out = append(out, ev.Payload.(MessagePayload))
	}
	return out
}

func (f *fakeChannel) lastMembers() []presence.Member {
	updates := f.ofType(EventMemberUpdate)
	if len(updates) == 0 {
		return nil
	}
	return updates[len(updates)-1].Payload.([]presence.Member)
}

func (f *fakeChannel) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

type fixture struct {
	svc      *Service
	rooms    *room.Registry
	messages *message.Store
	users    *user.Directory
	gen      *mocks.MockGenerator
	stop     func()
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	cfg := DefaultConfig()
	cfg.ReplyTimeout = time.Second
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		rooms:    room.NewRegistry(),
		messages: message.NewStore(0),
		users:    user.NewDirectory(user.NewMemoryStore(), cfg.BotName, bcrypt.MinCost, log),
		gen:      mocks.NewMockGenerator(gomock.NewController(t)),
	}
	f.svc = NewService(cfg, f.rooms, f.messages, f.users, f.gen, log)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		f.svc.Run(ctx)
	}()
	var once sync.Once
	f.stop = func() {
		once.Do(func() {
			cancel()
			<-stopped
		})
	}
	t.Cleanup(f.stop)
	return f
}

func (f *fixture) room(t *testing.T, name string) string {
	t.Helper()
	r, err := f.svc.CreateRoom(context.Background(), name)
	require.NoError(t, err)
	return r.ID
}

// connect registers a channel and joins it to roomID as username.
func (f *fixture) connect(t *testing.T, connID, roomID, username string) *fakeChannel {
	t.Helper()
	ch := newFakeChannel(connID)
	require.NoError(t, f.svc.Connect(context.Background(), ch))
	if roomID != "" {
		require.NoError(t, f.svc.Join(context.Background(), connID, roomID, username))
	}
	return ch
}

func (f *fixture) history(t *testing.T, roomID string) []MessagePayload {
	t.Helper()
	msgs, err := f.messages.History(context.Background(), roomID)
	require.NoError(t, err)
	out := make([]MessagePayload, len(msgs))
	for i, m := range msgs {
		out[i] = MessagePayload{Username: m.Username, Text: m.Text}
	}
	return out
}
