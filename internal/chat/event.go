package chat

import "github.com/christopherjohns/nodchat/internal/presence"

// Events exchanged with clients.
const (
	EventJoinRoom      = "joinRoom"
	EventLeaveRoom     = "leaveRoom"
	EventMessage       = "message"
	EventMemberUpdate  = presence.EventMemberUpdate
	EventReportsUpdate = "reportsUpdate"
	EventForceLogout   = "forceLogout"
)

// Event is one server-to-client notification. Room is set for room-scoped
// events.
type Event struct {
	Type    string `json:"type"`
	Room    string `json:"room,omitempty"`
	Payload any    `json:"payload"`
}

// MessagePayload is the broadcast form of a chat message.
type MessagePayload struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// ForceLogoutPayload tells a connection its session was ended by the server.
type ForceLogoutPayload struct {
	Reason string `json:"reason"`
}

const (
	reasonReplaced = "signed in from another connection"
	reasonPurged   = "account removed by an administrator"
)

// Channel is a live client connection as seen by the chat core. Send must
// not block: transports queue the event or drop it.
type Channel interface {
	ID() string
	Send(ev Event)
	Subscribe(roomID string)
	Unsubscribe(roomID string)
}
