package ws

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/christopherjohns/nodchat/internal/chat"
	"nhooyr.io/websocket"
)

// Client is one websocket connection. It implements chat.Channel.
type Client struct {
	conn    *websocket.Conn
	id      string
	send    chan []byte
	ctx     context.Context
	manager *ConnManager

	mu       sync.Mutex
	username string
	rooms    []string
}

var _ chat.Channel = (*Client)(nil)

func (c *Client) ID() string { return c.id }

// Send encodes the event and queues it for the write pump. Events for a
// full or closed queue are dropped.
func (c *Client) Send(ev chat.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.manager.log.Error("encode event failed", "conn_id", c.id, "type", ev.Type, "error", err)
		return
	}
	c.manager.Send(c, data)
}

func (c *Client) Subscribe(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.rooms, roomID) {
		c.rooms = append(c.rooms, roomID)
	}
}

func (c *Client) Unsubscribe(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = slices.DeleteFunc(c.rooms, func(r string) bool { return r == roomID })
}

func (c *Client) setUsername(username string) {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
}

func (c *Client) info() (string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, slices.Clone(c.rooms)
}
