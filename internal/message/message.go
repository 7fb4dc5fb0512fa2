package message

import (
	"time"

	"github.com/google/uuid"
)

// Type represents the kind of message.
type Type string

const (
	TypeChat Type = "chat"
	TypeBot  Type = "bot"
)

// Message is one entry of a room's history. It is never modified after
// it has been appended.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Type      Type      `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// New returns a message with a fresh ID and the current time.
func New(roomID, username, text string, typ Type) *Message {
	return &Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Username:  username,
		Text:      text,
		Type:      typ,
		CreatedAt: time.Now(),
	}
}
