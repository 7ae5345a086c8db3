package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ashishkr710/Encrypted-Chat/internal/wire"
)

// newRouter builds the public HTTP surface: the websocket endpoint, the
// stateless message fallback, the health probe, and optionally the static
// client bundle.
func (s *Server) newRouter(ctx context.Context) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The relay fronts browser clients from arbitrary origins.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s.hub.handle(ctx, conn)
	})
	mux.HandleFunc("/api/messages", s.handleMessageFallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return mux
}

// handleMessageFallback accepts a message over plain HTTP when a client has
// no realtime connection. The relay acknowledges and drops it: there is no
// store to deliver from, and connected clients only receive rebroadcast
// frames. The acknowledgement keeps offline senders working without
// pretending delivery happened.
func (s *Server) handleMessageFallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "API endpoint working",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	var body struct {
		Message wire.Message `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid message payload",
		})
		return
	}

	s.metrics.recordFallback()
	s.log.Info("message received via http fallback",
		zap.String("id", body.Message.ID),
		zap.String("sender", body.Message.Sender))

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"message":   "Message received",
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
