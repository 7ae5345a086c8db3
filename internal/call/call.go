// Package call drives voice calls: the WebRTC peer connection, the offer and
// answer exchange over the realtime channel, and the local call state
// machine. Media never touches the relay; only signaling does.
package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/ashishkr710/Encrypted-Chat/internal/events"
	"github.com/ashishkr710/Encrypted-Chat/internal/session"
	"github.com/ashishkr710/Encrypted-Chat/internal/wire"
)

// State is the call lifecycle position.
type State int

const (
	// Idle means no call is in flight.
	Idle State = iota
	// Initiating means we sent an offer and wait for the answer.
	Initiating
	// Ringing means an offer arrived and waits for our accept or decline.
	Ringing
	// Active means the offer/answer exchange completed.
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initiating:
		return "initiating"
	case Ringing:
		return "ringing"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Local events the manager emits for its consumer. These never go on the
// wire.
const (
	EventStateChanged = "call-state"
	EventIncoming     = "call-incoming"
	EventDeclined     = "call-declined-local"
	EventEnded        = "call-ended-local"
	EventDuration     = "call-duration"
	EventError        = "call-error"
)

// Signaler is the slice of the realtime channel the call manager needs.
type Signaler interface {
	Emit(event string, payload any) bool
	On(event string, handler events.Handler) events.Subscription
	Off(sub events.Subscription)
}

// Options wires the manager's dependencies.
type Options struct {
	Log        *zap.Logger
	Session    *session.Session
	Signaler   Signaler
	Media      MediaSource
	ICEServers []string
}

// Manager owns at most one call at a time.
type Manager struct {
	log   *zap.Logger
	sess  *session.Session
	sig   Signaler
	media MediaSource
	ice   []string
	local *events.Emitter
	subs  []events.Subscription

	mu         sync.Mutex
	state      State
	peer       *webrtc.PeerConnection
	remote     string
	invite     *wire.CallInvite
	candidates []wire.CandidateInit
	muted      bool
	speakerOff bool
	started    time.Time
	tickerStop chan struct{}
}

// NewManager builds a call manager and subscribes it to the signaling events
// the channel delivers.
func NewManager(opts Options) (*Manager, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if opts.Signaler == nil {
		return nil, fmt.Errorf("signaler is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Media == nil {
		src, err := NewSilenceSource()
		if err != nil {
			return nil, fmt.Errorf("default media source: %w", err)
		}
		opts.Media = src
	}

	m := &Manager{
		log:   opts.Log,
		sess:  opts.Session,
		sig:   opts.Signaler,
		media: opts.Media,
		ice:   opts.ICEServers,
		local: events.NewEmitter(opts.Log),
		state: Idle,
	}

	m.subs = []events.Subscription{
		m.sig.On(wire.EventIncomingCall, m.onIncomingCall),
		m.sig.On(wire.EventCallAnswered, m.onCallAnswered),
		m.sig.On(wire.EventCallDeclined, m.onCallDeclined),
		m.sig.On(wire.EventCallEnded, m.onCallEnded),
		m.sig.On(wire.EventIceCandidate, m.onIceCandidate),
		m.sig.On(wire.EventUserLeftCall, m.onUserLeft),
	}
	return m, nil
}

// On subscribes a handler to one of the manager's local events.
func (m *Manager) On(event string, handler events.Handler) events.Subscription {
	return m.local.On(event, handler)
}

// Off removes a local subscription.
func (m *Manager) Off(sub events.Subscription) {
	m.local.Off(sub)
}

// State returns the current call state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remote returns the other party's display name, or empty when idle.
func (m *Manager) Remote() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

// StartCall sends an offer to the room. It fails fast when the channel is
// down; an in-flight call is ended first, there is never more than one.
func (m *Manager) StartCall() error {
	if !m.sess.Connected() {
		m.local.Emit(EventError, "cannot start a call while disconnected")
		return fmt.Errorf("channel is not connected")
	}
	if m.State() != Idle {
		m.EndCall()
	}

	m.mu.Lock()
	peer, err := m.newPeerLocked()
	if err != nil {
		m.mu.Unlock()
		m.local.Emit(EventError, "microphone unavailable")
		return err
	}

	offer, err := peer.CreateOffer(nil)
	if err != nil {
		m.cleanupLocked()
		m.mu.Unlock()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		m.cleanupLocked()
		m.mu.Unlock()
		return fmt.Errorf("set local description: %w", err)
	}

	m.state = Initiating
	m.started = time.Now()
	m.startTickerLocked()
	caller := m.sess.User()
	m.mu.Unlock()

	m.media.Start()
	m.emitState(Initiating)
	m.log.Info("call started", zap.String("caller", caller))

	if !m.sig.Emit(wire.EventCallUser, wire.CallInvite{
		Caller: caller,
		Offer:  wire.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP},
	}) {
		m.EndCallLocal("offer could not be sent")
		return fmt.Errorf("offer could not be sent")
	}
	return nil
}

// AcceptCall answers the pending incoming offer. Only legal while ringing.
// Any setup failure funnels through cleanup back to idle.
func (m *Manager) AcceptCall() error {
	m.mu.Lock()
	if m.state != Ringing || m.invite == nil {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("no incoming call to accept (state %s)", state)
	}
	invite := *m.invite

	fail := func(err error) error {
		m.cleanupLocked()
		m.mu.Unlock()
		m.emitState(Idle)
		m.local.Emit(EventError, "call setup failed")
		return err
	}

	peer, err := m.newPeerLocked()
	if err != nil {
		return fail(err)
	}

	sdpType, err := parseSDPType(invite.Offer.Type)
	if err != nil {
		return fail(err)
	}
	if err := peer.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: invite.Offer.SDP}); err != nil {
		return fail(fmt.Errorf("set remote description: %w", err))
	}

	answer, err := peer.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("create answer: %w", err))
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}

	m.flushCandidatesLocked(peer)
	m.state = Active
	m.started = time.Now()
	m.startTickerLocked()
	answerer := m.sess.User()
	m.mu.Unlock()

	m.media.Start()
	m.emitState(Active)
	m.log.Info("call accepted", zap.String("caller", invite.Caller))

	m.sig.Emit(wire.EventAnswerCall, wire.CallAnswer{
		Answerer: answerer,
		Answer:   wire.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP},
	})
	return nil
}

// DeclineCall rejects the pending incoming offer. Only legal while ringing.
func (m *Manager) DeclineCall() error {
	m.mu.Lock()
	if m.state != Ringing {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("no incoming call to decline (state %s)", state)
	}
	m.cleanupLocked()
	decliner := m.sess.User()
	m.mu.Unlock()

	m.emitState(Idle)
	m.sig.Emit(wire.EventDeclineCall, wire.CallDecline{Decliner: decliner})
	m.log.Info("call declined")
	return nil
}

// EndCall hangs up the current call, whatever stage it is in, and tells the
// room. A no-op when idle.
func (m *Manager) EndCall() {
	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		return
	}
	m.cleanupLocked()
	ender := m.sess.User()
	m.mu.Unlock()

	m.emitState(Idle)
	m.local.Emit(EventEnded, "")
	m.sig.Emit(wire.EventEndCall, wire.CallEnd{Ender: ender})
	m.log.Info("call ended")
}

// EndCallLocal tears the call down without signaling the room, surfacing the
// reason as a call error. Used when the remote side already left or when an
// outbound frame could not be sent.
func (m *Manager) EndCallLocal(reason string) {
	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		return
	}
	m.cleanupLocked()
	m.mu.Unlock()

	m.emitState(Idle)
	m.local.Emit(EventEnded, reason)
	if reason != "" {
		m.local.Emit(EventError, reason)
	}
	m.log.Info("call torn down", zap.String("reason", reason))
}

// ToggleMute flips the microphone gate and returns the new muted state.
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	m.muted = !m.muted
	muted := m.muted
	m.mu.Unlock()

	m.media.SetMuted(muted)
	m.log.Debug("mute toggled", zap.Bool("muted", muted))
	return muted
}

// ToggleSpeaker flips the local playback flag and returns true when the
// speaker is now off. Playback routing is the consumer's concern; the flag
// only tracks intent.
func (m *Manager) ToggleSpeaker() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakerOff = !m.speakerOff
	return m.speakerOff
}

// Muted reports the microphone gate.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Duration returns the elapsed call time, zero when idle.
func (m *Manager) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle || m.started.IsZero() {
		return 0
	}
	return time.Since(m.started)
}

// Close unsubscribes from the channel and tears down any in-flight call.
func (m *Manager) Close() {
	for _, sub := range m.subs {
		m.sig.Off(sub)
	}
	m.subs = nil

	m.mu.Lock()
	active := m.state != Idle
	m.cleanupLocked()
	m.mu.Unlock()
	if active {
		m.emitState(Idle)
	}
}

// parseSDPType maps the wire-level type string onto the pion constant.
func parseSDPType(kind string) (webrtc.SDPType, error) {
	switch kind {
	case "offer":
		return webrtc.SDPTypeOffer, nil
	case "answer":
		return webrtc.SDPTypeAnswer, nil
	case "pranswer":
		return webrtc.SDPTypePranswer, nil
	case "rollback":
		return webrtc.SDPTypeRollback, nil
	default:
		return webrtc.SDPTypeOffer, fmt.Errorf("unknown sdp type %q", kind)
	}
}

// FormatDuration renders an elapsed time as MM:SS.
func FormatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// newPeerLocked builds the peer connection and attaches the outbound track
// and callbacks. Caller holds the mutex.
func (m *Manager) newPeerLocked() (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{}
	if len(m.ice) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: m.ice}}
	}

	peer, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	if track := m.media.Track(); track != nil {
		if _, err := peer.AddTrack(track); err != nil {
			peer.Close()
			return nil, fmt.Errorf("add audio track: %w", err)
		}
	}

	peer.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		m.sig.Emit(wire.EventIceCandidate, wire.IceCandidate{Candidate: wire.CandidateInit{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}})
	})
	peer.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.log.Info("remote track", zap.String("codec", track.Codec().MimeType))
	})
	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.log.Debug("peer connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed {
			go m.EndCallLocal("peer connection failed")
		}
	})

	m.peer = peer
	return peer, nil
}

// cleanupLocked is the single teardown funnel: every path out of a call goes
// through here. Caller holds the mutex.
func (m *Manager) cleanupLocked() {
	if m.tickerStop != nil {
		close(m.tickerStop)
		m.tickerStop = nil
	}
	if m.peer != nil {
		m.peer.Close()
		m.peer = nil
	}
	m.media.Stop()
	m.state = Idle
	m.remote = ""
	m.invite = nil
	m.candidates = nil
	m.started = time.Time{}
}

func (m *Manager) startTickerLocked() {
	stop := make(chan struct{})
	m.tickerStop = stop
	started := m.started
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				m.local.Emit(EventDuration, FormatDuration(now.Sub(started)))
			}
		}
	}()
}

func (m *Manager) flushCandidatesLocked(peer *webrtc.PeerConnection) {
	for _, cand := range m.candidates {
		if err := peer.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     cand.Candidate,
			SDPMid:        cand.SDPMid,
			SDPMLineIndex: cand.SDPMLineIndex,
		}); err != nil {
			m.log.Warn("add buffered candidate", zap.Error(err))
		}
	}
	m.candidates = nil
}

func (m *Manager) emitState(state State) {
	m.local.Emit(EventStateChanged, state)
}

func (m *Manager) onIncomingCall(data any) {
	var invite wire.CallInvite
	if !decodePayload(m.log, wire.EventIncomingCall, data, &invite) {
		return
	}
	if invite.Caller != "" && invite.Caller == m.sess.User() {
		return
	}

	m.mu.Lock()
	if m.state != Idle {
		state := m.state
		m.mu.Unlock()
		m.log.Info("ignoring call while busy", zap.String("caller", invite.Caller), zap.String("state", state.String()))
		m.local.Emit(EventError, fmt.Sprintf("missed call from %s", invite.Caller))
		return
	}
	m.state = Ringing
	m.invite = &invite
	m.remote = invite.Caller
	m.mu.Unlock()

	m.log.Info("incoming call", zap.String("caller", invite.Caller))
	m.emitState(Ringing)
	m.local.Emit(EventIncoming, invite.Caller)
}

func (m *Manager) onCallAnswered(data any) {
	var ans wire.CallAnswer
	if !decodePayload(m.log, wire.EventCallAnswered, data, &ans) {
		return
	}
	if ans.Answerer != "" && ans.Answerer == m.sess.User() {
		return
	}

	m.mu.Lock()
	if m.state != Initiating || m.peer == nil {
		state := m.state
		m.mu.Unlock()
		m.log.Warn("unexpected answer", zap.String("state", state.String()))
		return
	}

	sdpType, err := parseSDPType(ans.Answer.Type)
	if err == nil {
		err = m.peer.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: ans.Answer.SDP})
	}
	if err != nil {
		m.cleanupLocked()
		m.mu.Unlock()
		m.log.Warn("apply answer", zap.Error(err))
		m.emitState(Idle)
		m.local.Emit(EventError, "call setup failed")
		return
	}

	// The duration ticker has been running since the offer went out.
	m.flushCandidatesLocked(m.peer)
	m.state = Active
	m.remote = ans.Answerer
	m.mu.Unlock()

	m.log.Info("call answered", zap.String("answerer", ans.Answerer))
	m.emitState(Active)
}

func (m *Manager) onCallDeclined(data any) {
	var dec wire.CallDecline
	if !decodePayload(m.log, wire.EventCallDeclined, data, &dec) {
		return
	}
	if dec.Decliner != "" && dec.Decliner == m.sess.User() {
		return
	}

	m.mu.Lock()
	if m.state != Initiating {
		m.mu.Unlock()
		return
	}
	m.cleanupLocked()
	m.mu.Unlock()

	m.log.Info("call declined by remote", zap.String("decliner", dec.Decliner))
	m.emitState(Idle)
	m.local.Emit(EventDeclined, dec.Decliner)
}

func (m *Manager) onCallEnded(data any) {
	var end wire.CallEnd
	if !decodePayload(m.log, wire.EventCallEnded, data, &end) {
		return
	}
	if end.Ender != "" && end.Ender == m.sess.User() {
		return
	}
	m.EndCallLocal("")
}

func (m *Manager) onUserLeft(data any) {
	var left wire.UserLeft
	if !decodePayload(m.log, wire.EventUserLeftCall, data, &left) {
		return
	}
	if left.UserID != "" && left.UserID == m.sess.User() {
		return
	}
	m.EndCallLocal(fmt.Sprintf("%s left the call", left.UserID))
}

func (m *Manager) onIceCandidate(data any) {
	var ice wire.IceCandidate
	if !decodePayload(m.log, wire.EventIceCandidate, data, &ice) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peer == nil {
		// No session. Candidates are broadcast to the whole room, so an
		// idle client hears ones that belong to other peers' calls.
		return
	}
	if m.peer.RemoteDescription() == nil {
		// Candidates can outrun the offer/answer exchange; hold them.
		m.candidates = append(m.candidates, ice.Candidate)
		return
	}
	if err := m.peer.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     ice.Candidate.Candidate,
		SDPMid:        ice.Candidate.SDPMid,
		SDPMLineIndex: ice.Candidate.SDPMLineIndex,
	}); err != nil {
		m.log.Warn("add candidate", zap.Error(err))
	}
}
