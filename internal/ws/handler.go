package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/christopherjohns/nodchat/internal/chat"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

var (
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrTokenRequired = errors.New("session token required")
	ErrTokenMismatch = errors.New("session token belongs to another user")
)

// Envelope is the JSON frame sent by clients.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinPayload is sent by the client to enter a room as username.
type JoinPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

// LeavePayload is sent by the client to leave a room.
type LeavePayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// MessagePayload is sent by the client to post in a room.
type MessagePayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// Core is the chat service as driven by the transport.
type Core interface {
	Connect(ctx context.Context, ch chat.Channel) error
	Join(ctx context.Context, connID, roomID, username string) error
	Leave(ctx context.Context, connID, roomID, username string) error
	Post(ctx context.Context, connID, roomID, username, text string) error
	Disconnect(ctx context.Context, connID string) error
}

// TokenVerifier resolves a session token to the username it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Handler upgrades requests to websocket connections and feeds client
// events into the chat core.
type Handler struct {
	core         Core
	conns        *ConnManager
	tokens       TokenVerifier
	requireToken bool
	log          *slog.Logger
}

// NewHandler creates a websocket Handler. A token supplied with joinRoom is
// always verified when tokens is set; requireToken also rejects joins
// without one.
func NewHandler(core Core, conns *ConnManager, tokens TokenVerifier, requireToken bool, log *slog.Logger) *Handler {
	return &Handler{
		core:         core,
		conns:        conns,
		tokens:       tokens,
		requireToken: requireToken,
		log:          log.With("component", "ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn("accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &Client{conn: conn, id: uuid.NewString()}
	connCtx := h.conns.Add(client)
	if connCtx.Err() != nil {
		return
	}
	defer h.conns.Remove(client)

	if err := h.core.Connect(r.Context(), client); err != nil {
		h.log.Warn("register connection failed", "conn_id", client.id, "error", err)
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := h.core.Disconnect(ctx, client.id); err != nil && !errors.Is(err, chat.ErrStopped) {
			h.log.Warn("disconnect failed", "conn_id", client.id, "error", err)
		}
	}()

	h.log.Debug("connection opened", "conn_id", client.id, "remote", r.RemoteAddr)
	h.readLoop(r.Context(), connCtx, client)
	h.log.Debug("connection closed", "conn_id", client.id)
}

// readLoop reads client frames until the connection closes or the
// connection manager cancels connCtx. Bad frames are skipped.
func (h *Handler) readLoop(ctx, connCtx context.Context, client *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := client.conn.Read(ctx)
		if err != nil {
			return
		}
		h.conns.TouchActivity(client)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Debug("undecodable frame", "conn_id", client.id, "error", err)
			continue
		}
		if err := h.dispatch(ctx, client, env); err != nil {
			if errors.Is(err, chat.ErrStopped) {
				return
			}
			h.log.Debug("event dropped", "conn_id", client.id, "type", env.Type, "error", err)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, env Envelope) error {
	switch env.Type {
	case chat.EventJoinRoom:
		var p JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		p.Username = strings.TrimSpace(p.Username)
		if err := h.authorize(p.Username, p.Token); err != nil {
			client.Send(chat.Event{
				Type:    chat.EventForceLogout,
				Payload: chat.ForceLogoutPayload{Reason: "invalid session token"},
			})
			return err
		}
		if err := h.core.Join(ctx, client.id, p.Room, p.Username); err != nil {
			return err
		}
		client.setUsername(p.Username)
		return nil

	case chat.EventLeaveRoom:
		var p LeavePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return h.core.Leave(ctx, client.id, p.Room, p.Username)

	case chat.EventMessage:
		var p MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return h.core.Post(ctx, client.id, p.Room, p.Username, p.Text)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func (h *Handler) authorize(username, token string) error {
	if h.tokens == nil {
		return nil
	}
	if token == "" {
		if h.requireToken {
			return ErrTokenRequired
		}
		return nil
	}
	subject, err := h.tokens.Verify(token)
	if err != nil {
		return err
	}
	if subject != username {
		return ErrTokenMismatch
	}
	return nil
}
