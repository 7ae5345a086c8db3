package call

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// MediaSource supplies the outbound audio track for a call. Start and Stop
// may be called repeatedly; SetMuted gates samples without detaching the
// track.
type MediaSource interface {
	Track() webrtc.TrackLocal
	Start()
	Stop()
	SetMuted(muted bool)
}

// opusSilence is a minimal Opus frame decoding to silence. Keeping frames
// flowing while muted holds the RTP stream open.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const sampleInterval = 20 * time.Millisecond

// SilenceSource is the default MediaSource for headless clients: an Opus
// track fed comfort-noise silence at a fixed cadence. It stands in where a
// browser would attach a microphone.
type SilenceSource struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	muted   bool
	stop    chan struct{}
	running bool
}

// NewSilenceSource builds the track. The pump only runs between Start and
// Stop.
func NewSilenceSource() (*SilenceSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "chat-voice")
	if err != nil {
		return nil, err
	}
	return &SilenceSource{track: track}, nil
}

func (s *SilenceSource) Track() webrtc.TrackLocal {
	return s.track
}

// Start launches the sample pump. Idempotent.
func (s *SilenceSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	go s.pump(s.stop)
}

// Stop halts the sample pump. Idempotent.
func (s *SilenceSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stop)
	s.stop = nil
	s.running = false
}

// SetMuted gates sample delivery.
func (s *SilenceSource) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *SilenceSource) pump(stop chan struct{}) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			muted := s.muted
			s.mu.Unlock()
			if muted {
				continue
			}
			_ = s.track.WriteSample(media.Sample{Data: opusSilence, Duration: sampleInterval})
		}
	}
}

// decodePayload unmarshals an event payload into dst. Payloads arrive as raw
// JSON from the channel, or as typed values from in-process signalers.
func decodePayload(log *zap.Logger, event string, data any, dst any) bool {
	var raw []byte
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			log.Warn("encode payload", zap.String("event", event), zap.Error(err))
			return false
		}
		raw = enc
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn("decode payload", zap.String("event", event), zap.Error(err))
		return false
	}
	return true
}
