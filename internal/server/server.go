package server

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/christopherjohns/nodchat/internal/chat"
	"github.com/christopherjohns/nodchat/internal/message"
	"github.com/christopherjohns/nodchat/internal/ratelimit"
	"github.com/christopherjohns/nodchat/internal/room"
	"github.com/christopherjohns/nodchat/internal/user"
	"github.com/christopherjohns/nodchat/internal/ws"
	"github.com/go-playground/validator/v10"
)

// Chat is the part of the chat core the HTTP API drives.
type Chat interface {
	CreateRoom(ctx context.Context, name string) (*room.Room, error)
	Rooms() iter.Seq[room.Summary]
	AddMember(ctx context.Context, roomID, username string) error
	History(ctx context.Context, roomID, afterID string) ([]*message.Message, error)
	Report(ctx context.Context, username string) error
	Reports() []string
	PurgeUser(ctx context.Context, username string) error
	DeleteRoom(ctx context.Context, roomID string) error
	Stats() chat.Stats
}

// Server is the HTTP front of the chat service.
type Server struct {
	addr       string
	mux        *http.ServeMux
	http       *http.Server
	chat       Chat
	users      *user.Directory
	tokens     *user.Tokens
	ws         http.Handler
	conns      *ws.ConnManager
	limiter    *ratelimit.IPLimiter
	adminToken string
	validate   *validator.Validate
	log        *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithWebsocket mounts the websocket handler at /ws. conns feeds the
// connection stats on /health and the admin connection list.
func WithWebsocket(h http.Handler, conns *ws.ConnManager) Option {
	return func(s *Server) {
		s.ws = h
		s.conns = conns
	}
}

// WithAuthLimiter throttles register and login per client address.
func WithAuthLimiter(l *ratelimit.IPLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithAdminToken enables the admin API for requests carrying token.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminToken = token
	}
}

// New creates a Server listening on addr.
func New(addr string, c Chat, users *user.Directory, tokens *user.Tokens, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		mux:      http.NewServeMux(),
		chat:     c,
		users:    users,
		tokens:   tokens,
		validate: validator.New(),
		log:      log.With("component", "http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("listening", "addr", s.addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routes, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ping", s.handlePing)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.Handle("POST /api/register", s.limited(s.handleRegister))
	s.mux.Handle("POST /api/login", s.limited(s.handleLogin))
	s.mux.HandleFunc("POST /api/upload-profile", s.authenticated(s.handleUploadProfile))
	s.mux.HandleFunc("POST /api/user/bio", s.authenticated(s.handleSetBio))
	s.mux.HandleFunc("GET /api/user/{username}", s.handleGetUser)
	s.mux.HandleFunc("GET /api/user/{username}/profile-pic", s.handleProfilePic)

	s.mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	s.mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	s.mux.HandleFunc("POST /api/rooms/{id}/members", s.handleAddMember)
	s.mux.HandleFunc("GET /api/rooms/{id}/messages", s.handleRoomMessages)

	s.mux.HandleFunc("POST /api/report", s.handleReport)
	s.mux.HandleFunc("GET /api/reports", s.handleListReports)

	s.mux.HandleFunc("DELETE /api/admin/users/{username}", s.admin(s.handlePurgeUser))
	s.mux.HandleFunc("DELETE /api/admin/rooms/{id}", s.admin(s.handleDeleteRoom))
	s.mux.HandleFunc("GET /api/admin/connections", s.admin(s.handleConnections))

	if s.ws != nil {
		s.mux.Handle("GET /ws", s.ws)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("pong"))
}

type healthResponse struct {
	Status      string        `json:"status"`
	Chat        chat.Stats    `json:"chat"`
	Connections *ws.ConnStats `json:"connections,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Chat: s.chat.Stats()}
	if s.conns != nil {
		stats := s.conns.Stats()
		resp.Connections = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}
