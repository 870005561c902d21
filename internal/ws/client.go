package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Client is the reconnecting browser-side reference implementation of the
// gateway protocol. It treats the connection as stateless: on every
// (re)connect it simply resubscribes and takes whatever state event the
// server sends first. There is no replay; delivery is lossy across
// reconnects.
type Client struct {
	// URL is the WebSocket endpoint including the ?token= ticket when
	// cookies are unavailable.
	URL string

	// OnEvent receives every server message. Called from the read loop.
	OnEvent func(env Envelope, raw []byte)
	// OnStateChange is called on connection state transitions.
	OnStateChange func(state string, err error)

	conn *websocket.Conn
	mu   sync.Mutex
}

// Run connects and processes events until ctx is cancelled, reconnecting
// with exponential backoff (1s doubling to 30s).
func (c *Client) Run(ctx context.Context) error {
	backoff := NewBackoff(time.Second, 30*time.Second)
	for {
		c.notify("connecting", nil)
		err := c.connectAndServe(ctx, backoff)
		if ctx.Err() != nil {
			c.notify("disconnected", ctx.Err())
			return ctx.Err()
		}
		c.notify("disconnected", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff.Next()):
		}
	}
}

func (c *Client) notify(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

func (c *Client) connectAndServe(ctx context.Context, backoff *Backoff) error {
	conn, _, err := websocket.Dial(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(512 * 1024)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.CloseNow()

	c.notify("connected", nil)
	backoff.Reset()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if c.OnEvent != nil {
			c.OnEvent(env, data)
		}
	}
}

// SendMessage submits a user chat turn.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	return c.writeJSON(ctx, Message{Type: TypeMessage, Content: content})
}

// RespondPermission answers a permission request.
func (c *Client) RespondPermission(ctx context.Context, id string, allow bool) error {
	return c.writeJSON(ctx, PermissionResponse{Type: TypePermissionResponse, ID: id, Allow: allow})
}

// Interrupt requests best-effort cancellation of the running session.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.writeJSON(ctx, Envelope{Type: TypeInterrupt})
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
