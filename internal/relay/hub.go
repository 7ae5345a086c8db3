package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ashishkr710/Encrypted-Chat/internal/config"
	"github.com/ashishkr710/Encrypted-Chat/internal/wire"
)

// client is one realtime connection. Frames go out through sendCh so the
// writer goroutine is the only writer on the socket.
type client struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// hub holds the connection set and fans inbound frames out to everyone but
// the sender. It keeps no message state: a frame is rebroadcast once, under
// its delivery name, and forgotten.
type hub struct {
	log     *zap.Logger
	cfg     config.RelayConfig
	metrics *relayMetrics

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

func newHub(log *zap.Logger, cfg config.RelayConfig, metrics *relayMetrics) *hub {
	return &hub{
		log:     log,
		cfg:     cfg,
		metrics: metrics,
		clients: map[string]*client{},
	}
}

// handle owns the connection for its lifetime: register, read loop, cleanup.
func (h *hub) handle(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan []byte, h.cfg.SendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.incConn()
	h.log.Info("client connected", zap.String("conn_id", c.id))

	defer h.cleanupClient(c)
	go h.writer(c)

	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			h.metrics.recordDrop("malformed")
			h.log.Warn("drop malformed frame", zap.String("conn_id", c.id), zap.Error(err))
			continue
		}

		out, err := wire.EncodeEnvelope(wire.BroadcastName(env.Event), env.Data)
		if err != nil {
			h.metrics.recordDrop("encode")
			h.log.Warn("re-encode frame", zap.String("event", env.Event), zap.Error(err))
			continue
		}

		h.metrics.recordFrame(env.Event)
		h.broadcastExcept(c.id, out)
	}
}

// broadcastExcept queues the frame for every client but the sender.
func (h *hub) broadcastExcept(senderID string, frame []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		if id == senderID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.push(c, frame)
	}
}

// push hands a frame to the client's writer. A full buffer means the client
// cannot keep up; the connection is cut rather than letting it stall the
// room.
func (h *hub) push(c *client, frame []byte) {
	select {
	case <-c.ctx.Done():
	case c.sendCh <- frame:
	default:
		h.metrics.recordDrop("backpressure")
		h.log.Warn("send buffer full, dropping client", zap.String("conn_id", c.id))
		c.cancel()
	}
}

func (h *hub) writer(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Warn("write failed", zap.String("conn_id", c.id), zap.Error(err))
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (h *hub) cleanupClient(c *client) {
	c.cancel()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.conn.Close()
	h.metrics.decConn()
	h.log.Info("client disconnected", zap.String("conn_id", c.id))
}

// connCount reports the current connection count.
func (h *hub) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// closeAll cuts every connection and rejects new ones. Used on shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.cancel()
		c.conn.Close()
	}
}
