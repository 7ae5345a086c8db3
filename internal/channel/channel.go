// Package channel owns the realtime connection to the relay: the
// connect/reconnect lifecycle, demo-mode degradation, event subscription, and
// outbound emits gated on connection state. It is the only legal mutator of
// the session's connected flag.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ashishkr710/Encrypted-Chat/internal/events"
	"github.com/ashishkr710/Encrypted-Chat/internal/session"
	"github.com/ashishkr710/Encrypted-Chat/internal/wire"
)

// Status describes the channel state reported to listeners.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
	StatusDemo         Status = "demo"
)

// StatusUpdate is the payload of the connection-status event.
type StatusUpdate struct {
	Status  Status
	Message string
}

// Options wires the client's dependencies and cadence.
type Options struct {
	Log               *zap.Logger
	Session           *session.Session
	ServerURL         string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
}

// Client is the realtime channel client.
type Client struct {
	log      *zap.Logger
	sess     *session.Session
	emitter  *events.Emitter
	serverWS string
	serverHT string
	attempts int
	delay    time.Duration
	timeout  time.Duration
	httpc    *http.Client

	mu         sync.Mutex
	conn       *websocket.Conn
	writeMu    sync.Mutex
	connecting bool
	closed     bool
	gen        int
}

// New builds a channel client. The session is required; it carries the
// connection flag the rest of the client reads.
func New(opts Options) (*Client, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if opts.ServerURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	base := strings.TrimSuffix(opts.ServerURL, "/")
	ws := base
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}

	return &Client{
		log:      opts.Log,
		sess:     opts.Session,
		emitter:  events.NewEmitter(opts.Log),
		serverWS: ws + "/ws",
		serverHT: base,
		attempts: opts.ReconnectAttempts,
		delay:    opts.ReconnectDelay,
		timeout:  opts.ConnectTimeout,
		httpc:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Connected reports whether the realtime channel is up.
func (c *Client) Connected() bool {
	return c.sess.Connected()
}

// On subscribes a handler to a wire event (or the synthetic
// connection-status event). Handlers receive json.RawMessage payloads for
// wire events and StatusUpdate for status changes.
func (c *Client) On(event string, handler events.Handler) events.Subscription {
	return c.emitter.On(event, handler)
}

// Off removes a subscription.
func (c *Client) Off(sub events.Subscription) {
	c.emitter.Off(sub)
}

// Connect establishes the realtime connection. It is idempotent and never
// blocks: the dial attempts run on their own goroutine and observers learn
// the outcome through connection-status events. After the configured
// wall-clock timeout the channel degrades to demo status; a late success
// still flips the connected flag.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.connecting || c.conn != nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()

	timer := time.AfterFunc(c.timeout, func() {
		if !c.sess.Connected() {
			c.log.Info("connect timeout, entering demo mode")
			c.emitStatus(StatusDemo, "Demo Mode")
		}
	})

	go func() {
		defer timer.Stop()
		c.attemptLoop(ctx)
	}()
}

// attemptLoop dials the relay up to the configured attempt count, with a
// fixed delay between attempts. On success it starts the read loop; on
// exhaustion it reports demo status.
func (c *Client) attemptLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		c.emitStatus(StatusConnecting, fmt.Sprintf("Connecting... (%d)", attempt))

		dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.serverWS, nil)
		cancel()
		if err == nil {
			c.adopt(conn)
			return
		}
		c.log.Warn("dial relay failed", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}

	c.log.Info("reconnect attempts exhausted, entering demo mode")
	c.emitStatus(StatusDemo, "Demo Mode")
}

func (c *Client) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.sess.SetConnected(true)
	c.log.Info("connected to relay", zap.String("url", c.serverWS))
	c.emitStatus(StatusConnected, "Connected")

	go c.readLoop(conn, gen)
}

// readLoop dispatches inbound envelopes to listeners. On a read error it
// clears the connection flag and re-enters the bounded reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, gen, err)
			return
		}
		env, decodeErr := wire.DecodeEnvelope(raw)
		if decodeErr != nil {
			c.log.Warn("drop malformed frame", zap.Error(decodeErr))
			continue
		}
		c.emitter.Emit(env.Event, env.Data)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, gen int, err error) {
	conn.Close()

	c.mu.Lock()
	stale := c.gen != gen || c.closed
	if !stale {
		c.conn = nil
		c.connecting = true
	}
	c.mu.Unlock()
	if stale {
		return
	}

	c.sess.SetConnected(false)
	c.log.Warn("relay connection lost", zap.Error(err))
	c.emitStatus(StatusDisconnected, "Disconnected")

	go c.attemptLoop(context.Background())
}

// Emit sends an event iff the channel is currently connected. It never
// queues; a false return means the frame was not sent.
func (c *Client) Emit(event string, payload any) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || !c.sess.Connected() {
		c.log.Debug("emit while disconnected", zap.String("event", event))
		return false
	}

	frame, err := wire.EncodeEnvelope(event, payload)
	if err != nil {
		c.log.Warn("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn("write frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}

// Disconnect tears the connection down. Idempotent; no reconnection follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.sess.SetConnected(false)
	c.emitStatus(StatusDisconnected, "Disconnected")
}

// PostFallback fires the stateless HTTP fallback with a message payload. The
// response is acknowledged only in logs; delivery is not linked back to
// message state and failures are swallowed.
func (c *Client) PostFallback(msg wire.Message) {
	go func() {
		body, err := json.Marshal(map[string]wire.Message{"message": msg})
		if err != nil {
			c.log.Warn("encode fallback body", zap.Error(err))
			return
		}
		resp, err := c.httpc.Post(c.serverHT+"/api/messages", "application/json", bytes.NewReader(body))
		if err != nil {
			c.log.Warn("http fallback failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		c.log.Debug("message sent via http fallback", zap.Int("status", resp.StatusCode))
	}()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) emitStatus(status Status, message string) {
	c.emitter.Emit(wire.EventConnectionStatus, StatusUpdate{Status: status, Message: message})
}
