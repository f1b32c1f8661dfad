package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OkGoDoIt/AugmentOS/asr"
	"github.com/OkGoDoIt/AugmentOS/display"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/speech"
	"github.com/OkGoDoIt/AugmentOS/stream"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

// Subscriptions is the slice of the subscription registry a session
// needs for teardown.
type Subscriptions interface {
	RemoveSession(sessionID string)
}

// TranscriptHandler receives every recognizer event of a session with
// its effective stream key. The router implements it.
type TranscriptHandler func(s *UserSession, key stream.Key, ev asr.Event)

// Config wires a Registry's dependencies.
type Config struct {
	Clock         clock.Clock
	Provider      asr.Provider
	Subscriptions Subscriptions

	// ReconnectGrace is how long a disconnected session waits for the
	// glasses to come back before it ends.
	ReconnectGrace time.Duration
	// MicDebounce is the microphone-state settle window.
	MicDebounce time.Duration
	// TranscriptRetention bounds the session transcript window.
	TranscriptRetention time.Duration
	SampleRate          int

	OnTranscript TranscriptHandler
	// OnEnd runs after a session fully ended, outside any session lock.
	OnEnd func(s *UserSession)
}

// Defaults.
const (
	DefaultReconnectGrace = 60 * time.Second
	DefaultMicDebounce    = time.Second
)

// Registry owns every live UserSession in the process.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*UserSession
	byUser   map[string]*UserSession
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = DefaultReconnectGrace
	}
	if cfg.MicDebounce <= 0 {
		cfg.MicDebounce = DefaultMicDebounce
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*UserSession),
		byUser:   make(map[string]*UserSession),
	}
}

// Create starts a fresh session for userID on conn. Any previous session
// of the same user is ended first; reconnects that should survive go
// through Adopt instead.
func (r *Registry) Create(conn Conn, userID string) *UserSession {
	s := &UserSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		StartedAt: r.cfg.Clock.Now(),
		registry:  r,
		state:     StateActive,
		conn:      conn,
		appConns:  make(map[string]Conn),
	}
	s.pipeline = speech.NewPipeline(speech.Config{
		SessionID:  s.SessionID,
		Provider:   r.cfg.Provider,
		Clock:      r.cfg.Clock,
		SampleRate: r.cfg.SampleRate,
		Retention:  r.cfg.TranscriptRetention,
		OnEvent: func(key stream.Key, ev asr.Event) {
			if h := r.cfg.OnTranscript; h != nil {
				h(s, key, ev)
			}
		},
	})
	s.arbiter = display.NewArbiter(r.cfg.Clock, func(ev wire.DisplayEvent) {
		s.SendData(&ev)
	})

	r.mu.Lock()
	old := r.byUser[userID]
	r.sessions[s.SessionID] = s
	r.byUser[userID] = s
	r.mu.Unlock()

	if old != nil {
		r.End(old)
	}
	slog.Info("session created", "sessionId", s.SessionID, "userId", userID)
	return s
}

// Get returns the live session with id, or nil.
func (r *Registry) Get(id string) *UserSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// GetByUser returns the user's live session, or nil.
func (r *Registry) GetByUser(userID string) *UserSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

// Sessions snapshots every live session.
func (r *Registry) Sessions() []*UserSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*UserSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// MarkDisconnected starts the reconnect grace window after the glasses
// channel died. The session ends when the window expires without an
// Adopt. Repeat calls while already disconnected are no-ops, as are
// calls naming a connection the session no longer holds: a read loop
// whose conn was superseded by a reconnect must not disturb the session.
// A nil from skips the ownership check.
func (r *Registry) MarkDisconnected(s *UserSession, from Conn) {
	s.mu.Lock()
	if s.state != StateActive || (from != nil && s.conn != from) {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.conn = nil
	s.graceTimer = r.cfg.Clock.AfterFunc(r.cfg.ReconnectGrace, func() {
		s.mu.Lock()
		expired := s.state == StateDisconnected
		s.mu.Unlock()
		if expired {
			r.End(s)
		}
	})
	s.mu.Unlock()
	slog.Info("glasses disconnected, grace running",
		"sessionId", s.SessionID, "graceMs", r.cfg.ReconnectGrace.Milliseconds())
}

// Adopt rebinds a reconnecting glasses channel to the user's surviving
// session: same session id, same apps, same recognizer streams. It
// returns nil when nothing survives and the caller should Create.
func (r *Registry) Adopt(conn Conn, userID string) *UserSession {
	r.mu.RLock()
	s := r.byUser[userID]
	r.mu.RUnlock()
	if s == nil {
		return nil
	}

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil
	}
	old := s.conn
	s.conn = conn
	s.state = StateActive
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	resendMic := s.mic.everSent
	micOn := s.mic.lastSent
	s.mu.Unlock()

	if old != nil && old != conn {
		old.Close("superseded by reconnect")
	}
	// The device lost its mic state with the old connection.
	if resendMic {
		s.Send(&wire.MicrophoneStateChange{
			Enabled:   micOn,
			Timestamp: r.cfg.Clock.Now().UnixMilli(),
		})
	}
	slog.Info("session adopted", "sessionId", s.SessionID, "userId", userID)
	return s
}

// End tears the session down: TPA channels get app_stopped and close,
// the pipeline and arbiter stop, subscriptions drop. Idempotent.
func (r *Registry) End(s *UserSession) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.mic.timer != nil {
		s.mic.timer.Stop()
		s.mic.timer = nil
	}
	conn := s.conn
	s.conn = nil
	appConns := s.appConns
	s.appConns = make(map[string]Conn)
	s.activeApps = nil
	s.loadingApps = nil
	s.mu.Unlock()

	now := r.cfg.Clock.Now().UnixMilli()
	for pkg, c := range appConns {
		if err := c.Send(&wire.AppStopped{Reason: "session_ended", Timestamp: now}); err != nil {
			slog.Debug("app_stopped send failed",
				"sessionId", s.SessionID, "packageName", pkg, "error", err)
		}
		c.Close("session ended")
	}
	if conn != nil {
		conn.Close("session ended")
	}
	s.pipeline.Close()
	s.arbiter.Close()
	r.cfg.Subscriptions.RemoveSession(s.SessionID)

	r.mu.Lock()
	if r.sessions[s.SessionID] == s {
		delete(r.sessions, s.SessionID)
	}
	if r.byUser[s.UserID] == s {
		delete(r.byUser, s.UserID)
	}
	r.mu.Unlock()

	if r.cfg.OnEnd != nil {
		r.cfg.OnEnd(s)
	}
	slog.Info("session ended", "sessionId", s.SessionID, "userId", s.UserID)
}

// Shutdown ends every live session.
func (r *Registry) Shutdown() {
	for _, s := range r.Sessions() {
		r.End(s)
	}
}
