// Package messages turns user input into wire messages and inbound frames
// into local history: validation, encryption, de-duplication, and the HTTP
// fallback path when the realtime channel is down.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ashishkr710/Encrypted-Chat/internal/crypto/passphrase"
	"github.com/ashishkr710/Encrypted-Chat/internal/events"
	"github.com/ashishkr710/Encrypted-Chat/internal/session"
	"github.com/ashishkr710/Encrypted-Chat/internal/validate"
	"github.com/ashishkr710/Encrypted-Chat/internal/wire"
)

// Channel is the slice of the realtime client the handler needs.
type Channel interface {
	Emit(event string, payload any) bool
	PostFallback(msg wire.Message)
	Connected() bool
	On(event string, handler events.Handler) events.Subscription
	Off(sub events.Subscription)
}

// EventAdded fires locally whenever a message lands in history, own or
// remote. The payload is the stored session.Message.
const EventAdded = "message-added"

var ErrNotLoggedIn = errors.New("no user is logged in")

// Handler owns the message flow for one client.
type Handler struct {
	log   *zap.Logger
	sess  *session.Session
	ch    Channel
	local *events.Emitter
	sub   events.Subscription
}

// NewHandler builds a handler and subscribes it to inbound message frames.
func NewHandler(log *zap.Logger, sess *session.Session, ch Channel) (*Handler, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if ch == nil {
		return nil, fmt.Errorf("channel is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		log:   log,
		sess:  sess,
		ch:    ch,
		local: events.NewEmitter(log),
	}
	h.sub = ch.On(wire.EventMessage, h.onMessage)
	return h, nil
}

// On subscribes to the handler's local events.
func (h *Handler) On(event string, handler events.Handler) events.Subscription {
	return h.local.On(event, handler)
}

// Off removes a local subscription.
func (h *Handler) Off(sub events.Subscription) {
	h.local.Off(sub)
}

// Close unsubscribes from the channel.
func (h *Handler) Close() {
	h.ch.Off(h.sub)
}

// Send validates, encrypts when a key is set, stores the local copy, and
// ships the message. When the channel is down the frame goes out through the
// stateless HTTP fallback instead; the local copy is kept either way.
func (h *Handler) Send(text string) (session.Message, error) {
	sender := h.sess.User()
	if sender == "" {
		return session.Message{}, ErrNotLoggedIn
	}
	text = strings.TrimSpace(text)
	if errs := validate.Message(text); len(errs) > 0 {
		return session.Message{}, fmt.Errorf("invalid message: %s", strings.Join(errs, "; "))
	}

	out := wire.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		CreatedAt: time.Now().UnixMilli(),
	}
	if key := h.sess.SecretKey(); key != "" {
		cipher, err := passphrase.Encrypt(text, key)
		if err != nil {
			return session.Message{}, fmt.Errorf("encrypt message: %w", err)
		}
		out.Cipher = cipher
	} else {
		out.Text = text
	}

	stored := session.Message{
		ID:        out.ID,
		Sender:    out.Sender,
		Text:      text,
		Cipher:    out.Cipher,
		CreatedAt: out.CreatedAt,
		IsOwn:     true,
	}
	h.sess.AddMessage(stored)
	h.local.Emit(EventAdded, stored)

	if h.ch.Connected() {
		if !h.ch.Emit(wire.EventMessage, out) {
			h.log.Warn("realtime send failed, using http fallback", zap.String("id", out.ID))
			h.ch.PostFallback(out)
		}
	} else {
		h.log.Debug("channel down, using http fallback", zap.String("id", out.ID))
		h.ch.PostFallback(out)
	}
	return stored, nil
}

// onMessage handles an inbound message frame: drops malformed frames and our
// own echoes, assigns an id when the sender did not, and de-duplicates
// against history.
func (h *Handler) onMessage(data any) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		h.log.Warn("unexpected message payload type", zap.String("type", fmt.Sprintf("%T", data)))
		return
	}
	var msg wire.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Warn("drop malformed message", zap.Error(err))
		return
	}
	if !msg.Valid() {
		h.log.Warn("drop message without exactly one body", zap.String("id", msg.ID))
		return
	}
	if msg.Sender != "" && msg.Sender == h.sess.User() {
		// Our own copy is already in history.
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}

	stored := session.Message{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Text:      msg.Text,
		Cipher:    msg.Cipher,
		CreatedAt: msg.CreatedAt,
	}
	if !h.sess.AddMessage(stored) {
		h.log.Debug("drop duplicate message", zap.String("id", msg.ID))
		return
	}
	h.local.Emit(EventAdded, stored)
}

// DecryptedText returns the displayable body of a message. Plaintext passes
// through; ciphertext is decrypted with the session key when one is set. When
// there is no key, or the key does not fit, the raw ciphertext comes back
// rather than an error: rendering always has something to show.
func (h *Handler) DecryptedText(msg session.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Cipher == "" {
		return ""
	}
	key := h.sess.SecretKey()
	if key == "" {
		return msg.Cipher
	}
	plain, err := passphrase.Decrypt(msg.Cipher, key)
	if err != nil {
		h.log.Debug("ciphertext unreadable with current key", zap.String("id", msg.ID))
		return msg.Cipher
	}
	return plain
}

// IsEncrypted reports whether the message cannot currently be shown in the
// clear: ciphertext only, and no key set.
func (h *Handler) IsEncrypted(msg session.Message) bool {
	return msg.Text == "" && msg.Cipher != "" && h.sess.SecretKey() == ""
}

// All returns the full message history in arrival order.
func (h *Handler) All() []session.Message {
	return h.sess.Messages()
}

// Clear drops the local history.
func (h *Handler) Clear() {
	h.sess.ClearMessages()
}

// Search returns messages whose displayable body or sender contains the
// query, case-insensitively.
func (h *Handler) Search(query string) []session.Message {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var out []session.Message
	for _, msg := range h.sess.Messages() {
		text := strings.ToLower(h.DecryptedText(msg))
		if strings.Contains(text, query) || strings.Contains(strings.ToLower(msg.Sender), query) {
			out = append(out, msg)
		}
	}
	return out
}

// BySender returns messages from one sender in arrival order.
func (h *Handler) BySender(sender string) []session.Message {
	var out []session.Message
	for _, msg := range h.sess.Messages() {
		if msg.Sender == sender {
			out = append(out, msg)
		}
	}
	return out
}

// ByDateRange returns messages created between from and to, inclusive, in
// arrival order. Timestamps are Unix milliseconds; a zero to means no upper
// bound.
func (h *Handler) ByDateRange(from, to int64) []session.Message {
	var out []session.Message
	for _, msg := range h.sess.Messages() {
		if msg.CreatedAt < from {
			continue
		}
		if to != 0 && msg.CreatedAt > to {
			continue
		}
		out = append(out, msg)
	}
	return out
}

type exportEntry struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	SentAt    string `json:"sentAt"`
	Encrypted bool   `json:"encrypted"`
	Own       bool   `json:"own"`
}

// Export renders the history as JSON, decrypting what the session key can
// read. Unreadable ciphertext is exported raw with the encrypted flag set.
func (h *Handler) Export() ([]byte, error) {
	msgs := h.sess.Messages()
	entries := make([]exportEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, exportEntry{
			Sender:    msg.Sender,
			Text:      h.DecryptedText(msg),
			SentAt:    time.UnixMilli(msg.CreatedAt).UTC().Format(time.RFC3339),
			Encrypted: msg.Cipher != "",
			Own:       msg.IsOwn,
		})
	}
	return json.MarshalIndent(entries, "", "  ")
}
