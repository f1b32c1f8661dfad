// Package session holds the per-user state the cloud keeps while a pair
// of glasses is connected: the glasses channel, running TPAs and their
// channels, the speech pipeline, and the display arbiter.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OkGoDoIt/AugmentOS/display"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/speech"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

// Conn is one live WebSocket connection, glasses or TPA side. All sends
// enqueue into the connection's outbound queue and never block.
type Conn interface {
	// Send enqueues a control message. It fails when the connection is
	// closed or the queue cannot take another control message; the
	// connection tears itself down in that case rather than drop silently.
	Send(m wire.Message) error
	// SendData enqueues a droppable data message. Overflow drops it.
	SendData(m wire.Message)
	// SendBinary enqueues a droppable binary frame. Overflow drops it.
	SendBinary(p []byte)
	// Close closes the connection. reason lands in the close frame.
	Close(reason string)
}

// State is a session's lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDisconnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// UserSession is the coordination point for one user. Mutations go
// through exported methods and complete one logical transition under the
// session mutex before returning. Methods never hold the mutex across a
// pipeline or arbiter call.
type UserSession struct {
	SessionID string
	UserID    string
	StartedAt time.Time

	registry *Registry
	pipeline *speech.Pipeline
	arbiter  *display.Arbiter

	mu          sync.Mutex
	state       State
	conn        Conn
	graceTimer  clock.Timer
	activeApps  []string
	loadingApps []string
	appConns    map[string]Conn
	location    *wire.LocationUpdate
	mic         micState
}

// Pipeline exposes the session's speech pipeline.
func (s *UserSession) Pipeline() *speech.Pipeline { return s.pipeline }

// Arbiter exposes the session's display arbiter.
func (s *UserSession) Arbiter() *display.Arbiter { return s.arbiter }

func (s *UserSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conn returns the current glasses connection, or nil while disconnected.
func (s *UserSession) Conn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Snapshot captures the session view carried by connection_ack and
// app_state_change.
func (s *UserSession) Snapshot() wire.UserSessionInfo {
	s.mu.Lock()
	info := wire.UserSessionInfo{
		SessionID:   s.SessionID,
		UserID:      s.UserID,
		StartTime:   s.StartedAt.UnixMilli(),
		ActiveApps:  append([]string{}, s.activeApps...),
		LoadingApps: append([]string{}, s.loadingApps...),
	}
	s.mu.Unlock()
	info.IsTranscribing = s.pipeline.IsTranscribing()
	return info
}

// Send enqueues a control message on the glasses channel. Nothing is
// sent while the glasses are disconnected.
func (s *UserSession) Send(m wire.Message) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(m); err != nil {
		slog.Warn("glasses send failed", "sessionId", s.SessionID, "error", err)
	}
}

// SendData enqueues a droppable message on the glasses channel.
func (s *UserSession) SendData(m wire.Message) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.SendData(m)
	}
}

// PushAppState sends the current membership snapshot to the glasses.
func (s *UserSession) PushAppState() {
	s.Send(&wire.AppStateChange{
		SessionID:   s.SessionID,
		UserSession: s.Snapshot(),
		Timestamp:   s.registry.cfg.Clock.Now().UnixMilli(),
	})
}

// BeginLoading puts pkg into the loading set. It reports false when the
// package is already loading or active.
func (s *UserSession) BeginLoading(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return false
	}
	if containsString(s.activeApps, pkg) || containsString(s.loadingApps, pkg) {
		return false
	}
	s.loadingApps = append(s.loadingApps, pkg)
	return true
}

// FinishLoading moves pkg from loading to active. For a given load,
// exactly one of FinishLoading and CancelLoading returns true.
func (s *UserSession) FinishLoading(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !removeString(&s.loadingApps, pkg) {
		return false
	}
	if !containsString(s.activeApps, pkg) {
		s.activeApps = append(s.activeApps, pkg)
	}
	return true
}

// CancelLoading drops pkg from the loading set, the timeout path.
func (s *UserSession) CancelLoading(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeString(&s.loadingApps, pkg)
}

// Activate puts pkg straight into the active set. System apps bind
// without a start cycle.
func (s *UserSession) Activate(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded || containsString(s.activeApps, pkg) {
		return false
	}
	removeString(&s.loadingApps, pkg)
	s.activeApps = append(s.activeApps, pkg)
	return true
}

// RemoveApp drops pkg from both membership sets and reports whether it
// was a member of either.
func (s *UserSession) RemoveApp(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := removeString(&s.activeApps, pkg)
	loading := removeString(&s.loadingApps, pkg)
	return active || loading
}

func (s *UserSession) IsActive(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsString(s.activeApps, pkg)
}

func (s *UserSession) IsLoading(pkg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return containsString(s.loadingApps, pkg)
}

// ActiveApps returns the active packages in start order.
func (s *UserSession) ActiveApps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.activeApps...)
}

// LoadingApps returns the loading packages in start order.
func (s *UserSession) LoadingApps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loadingApps...)
}

// BindAppConn attaches a TPA connection for pkg and returns the one it
// replaced, if any, so the caller can close it.
func (s *UserSession) BindAppConn(pkg string, c Conn) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.appConns[pkg]
	s.appConns[pkg] = c
	return old
}

// UnbindAppConn detaches c from pkg. A stale connection whose read loop
// exits after a rebind must not unbind its replacement.
func (s *UserSession) UnbindAppConn(pkg string, c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appConns[pkg] == c {
		delete(s.appConns, pkg)
	}
}

// AppConn returns the live TPA connection for pkg, or nil.
func (s *UserSession) AppConn(pkg string) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appConns[pkg]
}

// AppConns returns a snapshot of the bound TPA connections.
func (s *UserSession) AppConns() map[string]Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Conn, len(s.appConns))
	for pkg, c := range s.appConns {
		out[pkg] = c
	}
	return out
}

// SetLocation caches the latest device fix for replay to late
// subscribers.
func (s *UserSession) SetLocation(loc wire.LocationUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = &loc
}

// Location returns the cached device fix, if any arrived yet.
func (s *UserSession) Location() (wire.LocationUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil {
		return wire.LocationUpdate{}, false
	}
	return *s.location, true
}

// CompositeID returns the session identifier handed to a TPA.
func (s *UserSession) CompositeID(pkg string) string {
	return CompositeID(s.SessionID, pkg)
}

// CompositeID joins a session id and package name into the identifier
// TPAs authenticate with.
func CompositeID(sessionID, pkg string) string {
	return sessionID + "-" + pkg
}

// ParseComposite splits a composite id back into session id and package
// name. Session ids are UUIDs, so the split point is fixed.
func ParseComposite(id string) (sessionID, pkg string, err error) {
	if len(id) > 37 && id[36] == '-' {
		if _, perr := uuid.Parse(id[:36]); perr == nil {
			return id[:36], id[37:], nil
		}
	}
	return "", "", fmt.Errorf("malformed composite session id %q", id)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// removeString deletes the first occurrence of s, preserving order, and
// reports whether it was present.
func removeString(list *[]string, s string) bool {
	for i, v := range *list {
		if v == s {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}
