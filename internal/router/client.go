package router

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parley-im/parley/pkg/protocol"
)

// wsConn is the subset of *websocket.Conn the client write path needs.
// Narrowed so tests can substitute a recording or failing connection.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one live WebSocket connection bound to an identity. All writes to
// the underlying connection go through Send, serialized by the client mutex.
type Client struct {
	mu   sync.Mutex
	name string
	conn wsConn
}

func newClient(name string, conn wsConn) *Client {
	return &Client{name: name, conn: conn}
}

// Name returns the identity currently bound to this connection. It can change
// while the connection is live if the identity is renamed.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// Send marshals a frame and writes it to the connection.
func (c *Client) Send(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection. Any blocked read on it fails,
// which ends the owning read loop.
func (c *Client) Close() error {
	return c.conn.Close()
}
