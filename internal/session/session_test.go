package session

import (
	"testing"
)

func TestAddMessageDeduplicates(t *testing.T) {
	s := New()

	first := Message{ID: "m1", Sender: "A", Text: "hello", CreatedAt: 1}
	if !s.AddMessage(first) {
		t.Fatal("first add should succeed")
	}
	if s.AddMessage(Message{ID: "m1", Sender: "A", Text: "hello again", CreatedAt: 2}) {
		t.Fatal("duplicate id should be dropped")
	}
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("expected 1 message after duplicate, got %d", got)
	}
}

func TestAddMessageWithoutIDAlwaysAppends(t *testing.T) {
	s := New()
	s.AddMessage(Message{Sender: "A", Text: "one"})
	s.AddMessage(Message{Sender: "A", Text: "two"})
	if got := len(s.Messages()); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := New()
	s.AddMessage(Message{ID: "m1", Sender: "A", Text: "hello"})

	msgs := s.Messages()
	msgs[0].Text = "mutated"

	if s.Messages()[0].Text != "hello" {
		t.Fatal("mutating the returned slice must not affect the session")
	}
}

func TestClearMessagesForgetsSeenIDs(t *testing.T) {
	s := New()
	s.AddMessage(Message{ID: "m1", Text: "hello"})
	s.ClearMessages()

	if !s.AddMessage(Message{ID: "m1", Text: "hello"}) {
		t.Fatal("id should be acceptable again after clear")
	}
}

func TestReset(t *testing.T) {
	s := New()
	s.SetUser("Alice")
	s.SetSecretKey("secret123")
	s.SetConnected(true)
	s.AddMessage(Message{ID: "m1", Text: "hello"})

	s.Reset()

	if s.User() != "" || s.SecretKey() != "" || s.Connected() {
		t.Fatal("reset should clear identity, key and connection flag")
	}
	if len(s.Messages()) != 0 {
		t.Fatal("reset should clear messages")
	}
}
