package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/ashishkr710/Encrypted-Chat/internal/session"
	"github.com/ashishkr710/Encrypted-Chat/internal/wire"
)

// echoRelay upgrades /ws and echoes every frame back to its sender. It also
// records hits on /api/messages.
type echoRelay struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	fallback [][]byte
	conns    []*websocket.Conn
}

func (r *echoRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/ws":
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
		go func() {
			for {
				mt, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if err := conn.WriteMessage(mt, raw); err != nil {
					return
				}
			}
		}()
	case "/api/messages":
		var body json.RawMessage
		if err := json.NewDecoder(req.Body).Decode(&body); err == nil {
			r.mu.Lock()
			r.fallback = append(r.fallback, body)
			r.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	default:
		http.NotFound(w, req)
	}
}

func (r *echoRelay) dropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.Close()
	}
	r.conns = nil
}

func (r *echoRelay) fallbackCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fallback)
}

func newTestClient(t *testing.T, serverURL string) (*Client, *session.Session) {
	t.Helper()
	sess := session.New()
	c, err := New(Options{
		Log:               zaptest.NewLogger(t),
		Session:           sess,
		ServerURL:         serverURL,
		ReconnectAttempts: 3,
		ReconnectDelay:    20 * time.Millisecond,
		ConnectTimeout:    500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, sess
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectAndEcho(t *testing.T) {
	relay := &echoRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	defer c.Disconnect()

	var mu sync.Mutex
	var got []wire.Message
	c.On(wire.EventMessage, func(data any) {
		raw, ok := data.(json.RawMessage)
		if !ok {
			t.Errorf("payload type = %T, want json.RawMessage", data)
			return
		}
		var msg wire.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Errorf("unmarshal message: %v", err)
			return
		}
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	c.Connect(context.Background())
	waitFor(t, "connected", sess.Connected)

	sent := wire.Message{ID: "m1", Sender: "alice", Text: "hi", CreatedAt: 42}
	if !c.Emit(wire.EventMessage, sent) {
		t.Fatal("Emit returned false while connected")
	}

	waitFor(t, "echo", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0] != sent {
		t.Fatalf("echoed message = %+v, want %+v", got[0], sent)
	}
}

func TestConnectFailureEntersDemoMode(t *testing.T) {
	// Nothing listens here.
	c, sess := newTestClient(t, "http://127.0.0.1:1")
	defer c.Disconnect()

	var mu sync.Mutex
	var statuses []Status
	c.On(wire.EventConnectionStatus, func(data any) {
		upd := data.(StatusUpdate)
		mu.Lock()
		statuses = append(statuses, upd.Status)
		mu.Unlock()
	})

	c.Connect(context.Background())
	waitFor(t, "demo status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			if s == StatusDemo {
				return true
			}
		}
		return false
	})

	if sess.Connected() {
		t.Fatal("session reports connected after exhausted attempts")
	}
	mu.Lock()
	defer mu.Unlock()
	if statuses[0] != StatusConnecting {
		t.Fatalf("first status = %s, want %s", statuses[0], StatusConnecting)
	}
}

func TestLateConnectAfterDemoMode(t *testing.T) {
	relay := &echoRelay{}
	var accepting atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ws" && !accepting.Load() {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		relay.ServeHTTP(w, req)
	}))
	defer srv.Close()

	sess := session.New()
	c, err := New(Options{
		Log:               zaptest.NewLogger(t),
		Session:           sess,
		ServerURL:         srv.URL,
		ReconnectAttempts: 50,
		ReconnectDelay:    20 * time.Millisecond,
		ConnectTimeout:    100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Disconnect()

	var mu sync.Mutex
	var statuses []Status
	c.On(wire.EventConnectionStatus, func(data any) {
		upd := data.(StatusUpdate)
		mu.Lock()
		statuses = append(statuses, upd.Status)
		mu.Unlock()
	})

	c.Connect(context.Background())
	waitFor(t, "demo status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			if s == StatusDemo {
				return true
			}
		}
		return false
	})
	if sess.Connected() {
		t.Fatal("session reports connected while the relay refuses upgrades")
	}

	// A dial succeeding after the demo timeout still wins.
	accepting.Store(true)
	waitFor(t, "late connect", sess.Connected)
	waitFor(t, "connected status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			if s == StatusConnected {
				return true
			}
		}
		return false
	})

	mu.Lock()
	defer mu.Unlock()
	demoAt, connectedAt := -1, -1
	for i, s := range statuses {
		if s == StatusDemo && demoAt < 0 {
			demoAt = i
		}
		if s == StatusConnected && connectedAt < 0 {
			connectedAt = i
		}
	}
	if connectedAt < demoAt {
		t.Fatalf("connected status at %d precedes demo at %d", connectedAt, demoAt)
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	c, _ := newTestClient(t, "http://127.0.0.1:1")
	if c.Emit(wire.EventMessage, wire.Message{ID: "x"}) {
		t.Fatal("Emit returned true without a connection")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	relay := &echoRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	defer c.Disconnect()

	var mu sync.Mutex
	var statuses []Status
	c.On(wire.EventConnectionStatus, func(data any) {
		upd := data.(StatusUpdate)
		mu.Lock()
		statuses = append(statuses, upd.Status)
		mu.Unlock()
	})

	c.Connect(context.Background())
	waitFor(t, "connected", sess.Connected)

	relay.dropAll()
	waitFor(t, "disconnected status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			if s == StatusDisconnected {
				return true
			}
		}
		return false
	})

	// The bounded reconnect loop should bring the channel back.
	waitFor(t, "reconnected", sess.Connected)
}

func TestDisconnectIdempotent(t *testing.T) {
	relay := &echoRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	c.Connect(context.Background())
	waitFor(t, "connected", sess.Connected)

	c.Disconnect()
	c.Disconnect()
	if sess.Connected() {
		t.Fatal("still connected after Disconnect")
	}
	// No reconnect after an explicit disconnect.
	time.Sleep(100 * time.Millisecond)
	if sess.Connected() {
		t.Fatal("client reconnected after explicit Disconnect")
	}
}

func TestPostFallback(t *testing.T) {
	relay := &echoRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	c.PostFallback(wire.Message{ID: "m1", Sender: "alice", Text: "offline"})

	waitFor(t, "fallback hit", func() bool { return relay.fallbackCount() == 1 })
}
