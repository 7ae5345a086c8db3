// Package session holds the per-client mutable state: who the user is, the
// passphrase, the connection flag, and the ordered message list with its
// de-duplication set. Each client instance owns exactly one Session; there is
// no package-level singleton.
package session

import (
	"sync"
)

// Message is a chat message as held locally. IsOwn marks messages this client
// authored; it never goes on the wire.
type Message struct {
	ID        string
	Sender    string
	Text      string
	Cipher    string
	CreatedAt int64
	IsOwn     bool
}

// Session is the mutable client state. Safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	user      string
	secretKey string
	connected bool
	messages  []Message
	seen      map[string]struct{}
}

// New constructs an empty session.
func New() *Session {
	return &Session{seen: make(map[string]struct{})}
}

// SetUser records the current display name; empty clears it.
func (s *Session) SetUser(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// User returns the current display name, or empty when logged out.
func (s *Session) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SetSecretKey records the passphrase; empty clears it.
func (s *Session) SetSecretKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secretKey = key
}

// SecretKey returns the current passphrase, or empty when none is set.
func (s *Session) SecretKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secretKey
}

// SetConnected flips the connection flag.
func (s *Session) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Connected reports the connection flag.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// AddMessage appends a message unless its id was already seen. Returns false
// for duplicates. Messages without an id are always appended.
func (s *Session) AddMessage(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID != "" {
		if _, dup := s.seen[msg.ID]; dup {
			return false
		}
		s.seen[msg.ID] = struct{}{}
	}
	s.messages = append(s.messages, msg)
	return true
}

// Messages returns a copy of the ordered message list.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ClearMessages drops all messages and forgets seen ids.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.seen = make(map[string]struct{})
}

// Reset clears everything: identity, key, messages, connection flag. Used on
// logout.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = ""
	s.secretKey = ""
	s.connected = false
	s.messages = nil
	s.seen = make(map[string]struct{})
}
