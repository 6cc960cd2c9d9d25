// Package agentclient implements the gateway's WebSocket client to the
// upstream agent service: a lazy-connecting, request/response-plus-
// server-pushed-event protocol with monotonic per-connection request IDs.
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrAgentError reports any failure talking to the upstream agent: a
// failed dial or auth handshake, a rejected or unexpected response, a
// lost connection, or an error the agent itself reports.
type ErrAgentError struct {
	msg string
}

func (e *ErrAgentError) Error() string { return e.msg }

func agentError(format string, args ...any) error {
	return &ErrAgentError{msg: fmt.Sprintf(format, args...)}
}

const (
	defaultSessionKey  = "agent:claw:g2"
	handshakeReadTimeout = 10 * time.Second
)

// request is the client->agent envelope.
type request struct {
	Type   string `json:"type"`
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type authParams struct {
	Auth authToken `json:"auth"`
}

type authToken struct {
	Token string `json:"token"`
}

type agentParams struct {
	Message    string `json:"message"`
	SessionKey string `json:"sessionKey"`
}

// response is the agent->client reply to a request.
type response struct {
	Type  string `json:"type"`
	ID    int    `json:"id"`
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

// event is a server-pushed message, unrelated to any specific request ID.
type event struct {
	Type    string  `json:"type"`
	Event   string  `json:"event"`
	Payload payload `json:"payload"`
}

type payload struct {
	Stream string `json:"stream"`
	Delta  string `json:"delta"`
	Phase  string `json:"phase"`
	Error  string `json:"error"`
}

// Client is a lazily-connecting client to the upstream agent service.
// Exactly one in-flight SendMessage call is supported at a time: the
// gateway's session runtime guarantees this by construction (one agent
// turn runs to completion before the next begins).
type Client struct {
	host  string
	port  int
	token string

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	nextID  int
	connected bool
}

// New creates a Client for the given upstream agent host/port/token. No
// network connection is made until the first SendMessage call.
func New(host string, port int, token string) *Client {
	return &Client{host: host, port: port, token: token, nextID: 1}
}

func (c *Client) url() string {
	return fmt.Sprintf("ws://%s:%d", c.host, c.port)
}

func (c *Client) nextRequestID() int {
	id := c.nextID
	c.nextID++
	return id
}

// EnsureConnected connects and authenticates if not already connected.
// It is idempotent: a second call while already connected is a no-op.
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnectedLocked(ctx)
}

func (c *Client) ensureConnectedLocked(ctx context.Context) error {
	if c.connected && c.conn != nil {
		return nil
	}
	if c.conn != nil {
		c.closeConnLocked()
	}
	c.nextID = 1

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url(), nil)
	if err != nil {
		return agentError("connection refused: %v", err)
	}
	c.conn = conn

	authID := c.nextRequestID()
	req := request{
		Type:   "req",
		ID:     authID,
		Method: "connect",
		Params: authParams{Auth: authToken{Token: c.token}},
	}
	if err := c.writeJSONLocked(req); err != nil {
		c.closeConnLocked()
		return agentError("auth handshake failed: %v", err)
	}

	var resp response
	if err := c.readJSONWithTimeoutLocked(&resp, handshakeReadTimeout); err != nil {
		c.closeConnLocked()
		return agentError("auth handshake failed: %v", err)
	}
	if resp.Type != "res" || resp.ID != authID {
		c.closeConnLocked()
		return agentError("unexpected auth response: %+v", resp)
	}
	if !resp.Ok {
		errMsg := resp.Error
		if errMsg == "" {
			errMsg = "unknown error"
		}
		c.closeConnLocked()
		return agentError("auth rejected: %s", errMsg)
	}

	c.connected = true
	return nil
}

// SendMessage sends an agent request and, once the agent acknowledges it,
// returns a DeltaStream the caller can drain for assistant text deltas.
func (c *Client) SendMessage(ctx context.Context, text, sessionKey string) (*DeltaStream, error) {
	if sessionKey == "" {
		sessionKey = defaultSessionKey
	}

	c.mu.Lock()
	if err := c.ensureConnectedLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	reqID := c.nextRequestID()
	req := request{
		Type:   "req",
		ID:     reqID,
		Method: "agent",
		Params: agentParams{Message: text, SessionKey: sessionKey},
	}
	if err := c.writeJSONLocked(req); err != nil {
		c.connected = false
		c.mu.Unlock()
		return nil, agentError("failed to send agent request: %v", err)
	}

	var resp response
	if err := c.readJSONWithTimeoutLocked(&resp, handshakeReadTimeout); err != nil {
		c.connected = false
		c.mu.Unlock()
		return nil, agentError("no response to agent request: %v", err)
	}
	if resp.Type != "res" || resp.ID != reqID {
		c.connected = false
		c.mu.Unlock()
		return nil, agentError("unexpected agent response: %+v", resp)
	}
	if !resp.Ok {
		errMsg := resp.Error
		if errMsg == "" {
			errMsg = "unknown error"
		}
		c.mu.Unlock()
		return nil, agentError("agent request rejected: %s", errMsg)
	}
	conn := c.conn
	c.mu.Unlock()

	return &DeltaStream{client: c, conn: conn}, nil
}

// Close gracefully closes the upstream connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return c.closeConnLocked()
}

func (c *Client) closeConnLocked() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	return conn.Close()
}

func (c *Client) writeJSONLocked(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) readJSONWithTimeoutLocked(v any, timeout time.Duration) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// markDisconnected is called by a DeltaStream when it observes the
// connection is no longer usable.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// ErrStreamEnded is returned by DeltaStream.Next once the agent's
// lifecycle event reports a clean end of the turn.
var ErrStreamEnded = errors.New("agent stream ended")

// DeltaStream iterates the assistant-delta events pushed by the upstream
// agent for one SendMessage turn. It owns the connection's read loop
// until it observes a terminal lifecycle event or an error.
type DeltaStream struct {
	client *Client
	conn   *websocket.Conn
	ended  bool
}

// Next blocks until the next assistant delta is available, the turn ends
// cleanly (ErrStreamEnded), or an error occurs (an *ErrAgentError for a
// lifecycle error event or a lost connection, or ctx's error if ctx is
// done before a read starts).
func (d *DeltaStream) Next(ctx context.Context) (string, error) {
	if d.ended {
		return "", ErrStreamEnded
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		_ = d.conn.SetReadDeadline(time.Time{})
		_, raw, err := d.conn.ReadMessage()
		if err != nil {
			d.ended = true
			d.client.markDisconnected()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", agentError("disconnected: %v", err)
			}
			return "", agentError("disconnected: %v", err)
		}

		var msg event
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // malformed event: skipped without reporting it
		}
		if msg.Type != "event" || msg.Event != "agent" {
			continue
		}

		switch msg.Payload.Stream {
		case "assistant":
			if msg.Payload.Delta != "" {
				return msg.Payload.Delta, nil
			}
		case "lifecycle":
			switch msg.Payload.Phase {
			case "end":
				d.ended = true
				return "", ErrStreamEnded
			case "error":
				d.ended = true
				detail := msg.Payload.Error
				if detail == "" {
					detail = "agent error"
				}
				return "", agentError("agent error: %s", detail)
			}
		}
		// other streams (tool, etc.) are ignored.
	}
}
