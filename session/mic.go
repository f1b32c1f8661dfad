package session

import (
	"log/slog"

	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

// micState debounces microphone_state_change sends. lastSent survives
// the debounce record so a later burst knows what the device believes.
type micState struct {
	timer    clock.Timer
	desired  bool
	lastSent bool
	everSent bool
}

// UpdateMicrophoneState asks the glasses to open or close the microphone.
// Callers invoke it when the media-subscription predicate flips. The
// first request of a burst is sent immediately; requests inside the
// debounce window only move the target. When the window settles, at most
// one corrective send goes out and the speech pipeline's transcription
// gate is aligned with the settled state.
func (s *UserSession) UpdateMicrophoneState(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return
	}
	window := s.registry.cfg.MicDebounce
	if s.mic.timer != nil {
		s.mic.desired = enabled
		s.mic.timer.Reset(window)
		return
	}
	s.mic.desired = enabled
	s.mic.lastSent = enabled
	s.mic.everSent = true
	s.sendMicLocked(enabled)
	s.mic.timer = s.registry.cfg.Clock.AfterFunc(window, s.settleMicrophone)
}

// settleMicrophone runs when the debounce window closes: flush the target
// state if it drifted from what was sent, then drive the transcription
// gate to match.
func (s *UserSession) settleMicrophone() {
	s.mu.Lock()
	s.mic.timer = nil
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	if s.mic.desired != s.mic.lastSent {
		s.mic.lastSent = s.mic.desired
		s.sendMicLocked(s.mic.lastSent)
	}
	enabled := s.mic.lastSent
	s.mu.Unlock()

	if enabled {
		s.pipeline.StartTranscription()
	} else {
		s.pipeline.StopTranscription()
	}
}

// MicrophoneEnabled reports the last microphone state sent to the
// glasses.
func (s *UserSession) MicrophoneEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mic.lastSent
}

func (s *UserSession) sendMicLocked(enabled bool) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Send(&wire.MicrophoneStateChange{
		Enabled:   enabled,
		Timestamp: s.registry.cfg.Clock.Now().UnixMilli(),
	}); err != nil {
		slog.Warn("microphone state send failed",
			"sessionId", s.SessionID, "error", err)
		return
	}
	slog.Debug("microphone state sent",
		"sessionId", s.SessionID, "enabled", enabled)
}
