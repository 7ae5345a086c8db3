// Package wire defines the JSON events exchanged between chat clients and the
// relay. The relay never interprets payloads; it re-wraps them under the
// event name the receiving side listens for.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names emitted by clients.
const (
	EventMessage      = "message"
	EventCallUser     = "call-user"
	EventAnswerCall   = "answer-call"
	EventDeclineCall  = "decline-call"
	EventEndCall      = "end-call"
	EventIceCandidate = "ice-candidate"
	EventUserLeftCall = "user-left-call"
)

// Event names delivered to clients. Message and ICE candidates keep their
// names; call signaling is renamed so callers and callees listen on distinct
// vocabularies, mirroring the browser client.
const (
	EventIncomingCall = "incoming-call"
	EventCallAnswered = "call-answered"
	EventCallDeclined = "call-declined"
	EventCallEnded    = "call-ended"
)

// Synthetic client-side event carrying connection status changes. Never put
// on the wire.
const EventConnectionStatus = "connection-status"

// broadcastAlias maps a client-emitted event to the name it is rebroadcast
// under. Events without an alias are forwarded verbatim.
var broadcastAlias = map[string]string{
	EventCallUser:    EventIncomingCall,
	EventAnswerCall:  EventCallAnswered,
	EventDeclineCall: EventCallDeclined,
	EventEndCall:     EventCallEnded,
}

// BroadcastName returns the event name a frame is rebroadcast under.
func BroadcastName(event string) string {
	if alias, ok := broadcastAlias[event]; ok {
		return alias
	}
	return event
}

// Envelope is the frame every wire event travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var ErrEmptyEvent = errors.New("envelope event name is empty")

// EncodeEnvelope wraps a payload under an event name.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEnvelope parses a raw frame, leaving the payload opaque.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return env, nil
}

// Message is the chat message payload. Exactly one of Text/Cipher is set on
// the wire; a message carrying neither is invalid.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text,omitempty"`
	Cipher    string `json:"cipher,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// Valid reports whether the message carries exactly one body field.
func (m Message) Valid() bool {
	return (m.Text != "") != (m.Cipher != "")
}

// SessionDescription mirrors the browser's RTCSessionDescription shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidateInit mirrors the browser's RTCIceCandidateInit shape.
type CandidateInit struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// CallInvite is the call-user / incoming-call payload.
type CallInvite struct {
	Caller string             `json:"caller"`
	Offer  SessionDescription `json:"offer"`
}

// CallAnswer is the answer-call / call-answered payload.
type CallAnswer struct {
	Answerer string             `json:"answerer"`
	Answer   SessionDescription `json:"answer"`
}

// CallDecline is the decline-call / call-declined payload.
type CallDecline struct {
	Decliner string `json:"decliner"`
}

// CallEnd is the end-call / call-ended payload.
type CallEnd struct {
	Ender string `json:"ender"`
}

// IceCandidate is the ice-candidate payload.
type IceCandidate struct {
	Candidate CandidateInit `json:"candidate"`
}

// UserLeft is the user-left-call payload.
type UserLeft struct {
	UserID string `json:"userId"`
}
