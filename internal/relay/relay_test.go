package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/ashishkr710/Encrypted-Chat/internal/config"
	"github.com/ashishkr710/Encrypted-Chat/internal/wire"
)

func testConfig() config.Config {
	return config.Config{
		Relay: config.RelayConfig{
			PingInterval:    50 * time.Millisecond,
			PongTimeout:     2 * time.Second,
			WriteTimeout:    time.Second,
			MaxMessageBytes: 64 * 1024,
			SendBufferSize:  32,
		},
	}
}

// newTestRelay wires a Server onto an httptest listener without going
// through Start.
func newTestRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(testConfig(), zaptest.NewLogger(t))
	s.metrics = newRelayMetrics(prometheus.NewRegistry())
	s.hub = newHub(s.log, s.cfg.Relay, s.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(s.newRouter(ctx))
	t.Cleanup(func() {
		cancel()
		s.hub.closeAll()
		ts.Close()
	})
	return s, ts
}

func wsDial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := wire.EncodeEnvelope(event, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return env
	}
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, within time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(within))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", raw)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	_, ts := newTestRelay(t)
	alice := wsDial(t, ts)
	bob := wsDial(t, ts)

	sendEnvelope(t, alice, wire.EventMessage, wire.Message{ID: "m1", Sender: "alice", Text: "hi", CreatedAt: 1})

	env := readEnvelope(t, bob)
	if env.Event != wire.EventMessage {
		t.Fatalf("event = %q, want %q", env.Event, wire.EventMessage)
	}
	var msg wire.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.Text != "hi" || msg.Sender != "alice" {
		t.Fatalf("payload = %+v", msg)
	}

	// The sender must not hear its own frame back.
	expectNoFrame(t, alice, 200*time.Millisecond)
}

func TestCallEventsRebroadcastUnderDeliveryNames(t *testing.T) {
	_, ts := newTestRelay(t)
	caller := wsDial(t, ts)
	callee := wsDial(t, ts)

	cases := []struct {
		emit string
		want string
	}{
		{wire.EventCallUser, wire.EventIncomingCall},
		{wire.EventAnswerCall, wire.EventCallAnswered},
		{wire.EventDeclineCall, wire.EventCallDeclined},
		{wire.EventEndCall, wire.EventCallEnded},
		{wire.EventIceCandidate, wire.EventIceCandidate},
		{wire.EventUserLeftCall, wire.EventUserLeftCall},
	}
	for _, tc := range cases {
		sendEnvelope(t, caller, tc.emit, map[string]string{"k": "v"})
		env := readEnvelope(t, callee)
		if env.Event != tc.want {
			t.Fatalf("%s rebroadcast as %q, want %q", tc.emit, env.Event, tc.want)
		}
	}
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	_, ts := newTestRelay(t)
	alice := wsDial(t, ts)
	bob := wsDial(t, ts)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)); err != nil {
		t.Fatalf("write empty event: %v", err)
	}

	// The connection survives and keeps relaying.
	sendEnvelope(t, alice, wire.EventMessage, wire.Message{ID: "m2", Sender: "alice", Text: "still here", CreatedAt: 2})
	env := readEnvelope(t, bob)
	if env.Event != wire.EventMessage {
		t.Fatalf("event = %q, want %q", env.Event, wire.EventMessage)
	}
}

func TestBackpressureCutsSlowClient(t *testing.T) {
	s, _ := newTestRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &client{
		id:     "slow",
		sendCh: make(chan []byte, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	s.hub.push(c, []byte("one"))
	if c.ctx.Err() != nil {
		t.Fatal("client cut with room in the buffer")
	}
	s.hub.push(c, []byte("two"))
	if c.ctx.Err() == nil {
		t.Fatal("client survived a full send buffer")
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestRelay(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["timestamp"] == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestMessageFallback(t *testing.T) {
	_, ts := newTestRelay(t)
	receiver := wsDial(t, ts)

	payload := strings.NewReader(`{"message":{"id":"m1","sender":"alice","text":"offline","createdAt":1}}`)
	resp, err := http.Post(ts.URL+"/api/messages", "application/json", payload)
	if err != nil {
		t.Fatalf("POST /api/messages: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["success"] != true || body["message"] != "Message received" {
		t.Fatalf("body = %+v", body)
	}

	// The fallback is an acknowledgement only; nothing is relayed.
	expectNoFrame(t, receiver, 200*time.Millisecond)

	getResp, err := http.Get(ts.URL + "/api/messages")
	if err != nil {
		t.Fatalf("GET /api/messages: %v", err)
	}
	defer getResp.Body.Close()
	var getBody map[string]any
	if err := json.NewDecoder(getResp.Body).Decode(&getBody); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if getBody["status"] != "API endpoint working" {
		t.Fatalf("body = %+v", getBody)
	}
}

func TestConnCountTracksLifecycle(t *testing.T) {
	s, ts := newTestRelay(t)

	conn := wsDial(t, ts)
	waitCount(t, s.hub, 1)
	conn.Close()
	waitCount(t, s.hub, 0)
}

func waitCount(t *testing.T, h *hub, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if h.connCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("conn count = %d, want %d", h.connCount(), want)
}
