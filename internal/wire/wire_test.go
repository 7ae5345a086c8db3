package wire

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := EncodeEnvelope(EventMessage, Message{ID: "m1", Sender: "alice", Text: "hi", CreatedAt: 7})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Event != EventMessage {
		t.Fatalf("event = %q, want %q", env.Event, EventMessage)
	}
	var msg Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.ID != "m1" || msg.Sender != "alice" || msg.Text != "hi" || msg.CreatedAt != 7 {
		t.Fatalf("payload = %+v", msg)
	}
}

func TestEncodeEnvelopeRejectsEmptyEvent(t *testing.T) {
	if _, err := EncodeEnvelope("", nil); err != ErrEmptyEvent {
		t.Fatalf("err = %v, want ErrEmptyEvent", err)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("not json")); err == nil {
		t.Fatal("malformed frame accepted")
	}
	if _, err := DecodeEnvelope([]byte(`{"data":{}}`)); err != ErrEmptyEvent {
		t.Fatalf("err = %v, want ErrEmptyEvent", err)
	}
}

func TestBroadcastName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{EventCallUser, EventIncomingCall},
		{EventAnswerCall, EventCallAnswered},
		{EventDeclineCall, EventCallDeclined},
		{EventEndCall, EventCallEnded},
		{EventMessage, EventMessage},
		{EventIceCandidate, EventIceCandidate},
		{EventUserLeftCall, EventUserLeftCall},
		{"custom-event", "custom-event"},
	}
	for _, tc := range cases {
		if got := BroadcastName(tc.in); got != tc.want {
			t.Errorf("BroadcastName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMessageValid(t *testing.T) {
	cases := []struct {
		msg  Message
		want bool
	}{
		{Message{Text: "hi"}, true},
		{Message{Cipher: "abc"}, true},
		{Message{}, false},
		{Message{Text: "hi", Cipher: "abc"}, false},
	}
	for _, tc := range cases {
		if got := tc.msg.Valid(); got != tc.want {
			t.Errorf("Valid(%+v) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}
