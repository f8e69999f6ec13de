package model

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"intervu.me/pkg/websocket"
)

// Client is one upgraded websocket connection. Role and RoomID record the
// last call-role assignment; they are mutated only from the connection's own
// read loop.
type Client struct {
	ID     string
	Name   string
	Conn   net.Conn
	Role   string
	RoomID string

	// mu serializes frame writes: negotiation timers, the broker fan-out
	// and the keepalive ticker all write concurrently with the relay path.
	mu sync.Mutex
}

func (c *Client) GetID() string {
	return c.ID
}

// RecordRole remembers the call assignment handed out by the coordinator.
func (c *Client) RecordRole(roomID, role string) {
	c.RoomID = roomID
	c.Role = role
}

// Send marshals e and writes it as a single text frame.
func (c *Client) Send(e websocket.Event) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	err = wsutil.WriteServerText(c.Conn, b)
	c.mu.Unlock()
	return err
}

// Ping writes a websocket ping frame.
func (c *Client) Ping() error {
	c.mu.Lock()
	err := wsutil.WriteServerMessage(c.Conn, ws.OpPing, []byte("ping"))
	c.mu.Unlock()
	return err
}
