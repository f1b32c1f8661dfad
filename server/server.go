// Package server owns the two WebSocket endpoints: the glasses channel
// and the TPA channel.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/OkGoDoIt/AugmentOS/applife"
	"github.com/OkGoDoIt/AugmentOS/auth"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/router"
	"github.com/OkGoDoIt/AugmentOS/session"
	"github.com/OkGoDoIt/AugmentOS/stream"
	"github.com/OkGoDoIt/AugmentOS/subscription"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

// Endpoint paths.
const (
	GlassesPath = "/glasses-ws"
	TPAPath     = "/tpa-ws"
)

const (
	// initTimeout bounds the wait for a TPA's tpa_connection_init.
	initTimeout = 5 * time.Second
	pingTimeout = 10 * time.Second
	// DefaultPingInterval is how often the health monitor pings each
	// glasses channel.
	DefaultPingInterval = 15 * time.Second
)

// Config wires a Server.
type Config struct {
	Verifier      *auth.Verifier
	Sessions      *session.Registry
	Subscriptions *subscription.Registry
	Lifecycle     *applife.Controller
	Router        *router.Router
	Clock         clock.Clock
	PingInterval  time.Duration
}

type Server struct {
	cfg Config
}

func New(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	return &Server{cfg: cfg}
}

// Routes mounts both WebSocket endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc(GlassesPath, s.handleGlasses)
	mux.HandleFunc(TPAPath, s.handleTPA)
}

// handleGlasses upgrades a glasses connection, authenticates its bearer
// token, and attaches it to the user's session: an adopted one inside
// the reconnect grace, otherwise a fresh one.
func (s *Server) handleGlasses(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("glasses upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws := newWSConn(conn)

	userID, err := s.cfg.Verifier.VerifyToken(token)
	if err != nil {
		slog.Info("glasses auth failed", "remote", r.RemoteAddr, "error", err)
		ws.Send(&wire.AuthError{Message: "invalid or missing bearer token"})
		ws.Close("authentication failed")
		return
	}

	sess := s.cfg.Sessions.Adopt(ws, userID)
	if sess == nil {
		sess = s.cfg.Sessions.Create(ws, userID)
	}
	if err := ws.Send(&wire.ConnectionAck{
		SessionID:   sess.SessionID,
		UserSession: sess.Snapshot(),
		Timestamp:   s.cfg.Clock.Now().UnixMilli(),
	}); err != nil {
		s.cfg.Sessions.MarkDisconnected(sess, ws)
		return
	}

	go s.pingLoop(sess, ws)
	s.glassesReadLoop(r.Context(), sess, ws)
}

func (s *Server) glassesReadLoop(ctx context.Context, sess *session.UserSession, ws *wsConn) {
	for {
		typ, data, err := ws.conn.Read(ctx)
		if err != nil {
			s.cfg.Sessions.MarkDisconnected(sess, ws)
			ws.Close("read failed")
			return
		}
		if typ == websocket.MessageBinary {
			sess.Pipeline().HandleAudio(data)
			s.cfg.Router.DeliverAudio(sess, data)
			continue
		}
		m, err := wire.ParseGlassesMessage(data)
		if err != nil {
			// The message is rejected; the channel survives.
			slog.Debug("bad glasses message", "sessionId", sess.SessionID, "error", err)
			ws.Send(&wire.ConnectionError{Message: err.Error()})
			continue
		}
		s.handleGlassesMessage(ctx, sess, m)
	}
}

func (s *Server) handleGlassesMessage(ctx context.Context, sess *session.UserSession, m wire.Message) {
	switch msg := m.(type) {
	case wire.ConnectionInit:
		// Identity already came from the bearer token.
		return
	case wire.StartApp:
		if _, err := s.cfg.Lifecycle.Start(ctx, sess, msg.PackageName); err != nil {
			slog.Warn("start app",
				"sessionId", sess.SessionID, "packageName", msg.PackageName, "error", err)
			sess.Send(&wire.AppStateChange{
				SessionID:   sess.SessionID,
				UserSession: sess.Snapshot(),
				Error:       fmt.Sprintf("could not start %s", msg.PackageName),
				Timestamp:   s.cfg.Clock.Now().UnixMilli(),
			})
		}
		return
	case wire.StopApp:
		s.cfg.Lifecycle.Stop(ctx, sess, msg.PackageName, applife.ReasonUserRequested)
		return
	case wire.VAD:
		if bool(msg.Status) {
			sess.Pipeline().StartTranscription()
		} else {
			sess.Pipeline().StopTranscription()
		}
	case wire.LocationUpdate:
		sess.SetLocation(msg)
	}
	if key, ok := router.KeyForGlassesMessage(m); ok {
		s.cfg.Router.DeliverEvent(sess, key, m)
	}
}

// pingLoop is the per-connection health monitor. A failed ping starts
// the reconnect grace instead of ending the session.
func (s *Server) pingLoop(sess *session.UserSession, ws *wsConn) {
	ticker := s.cfg.Clock.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.Done():
			return
		case <-ticker.C():
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := ws.Ping(ctx)
			cancel()
			if err != nil {
				slog.Info("glasses ping failed", "sessionId", sess.SessionID, "error", err)
				s.cfg.Sessions.MarkDisconnected(sess, ws)
				ws.Close("ping failed")
				return
			}
		}
	}
}

// handleTPA upgrades a TPA connection and runs the bind handshake: the
// first frame must be tpa_connection_init, answered with an ack carrying
// the user's settings for that app.
func (s *Server) handleTPA(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("tpa upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws := newWSConn(conn)

	initCtx, cancel := context.WithTimeout(r.Context(), initTimeout)
	typ, data, err := conn.Read(initCtx)
	cancel()
	if err != nil {
		ws.Close("expected tpa_connection_init")
		return
	}
	var init wire.TPAConnectionInit
	if typ == websocket.MessageText {
		if m, perr := wire.ParseTPAMessage(data); perr == nil {
			if i, ok := m.(wire.TPAConnectionInit); ok {
				init = i
			}
		}
	}
	if init.SessionID == "" {
		ws.Send(&wire.TPAConnectionError{Message: "first frame must be tpa_connection_init"})
		ws.Close("bad handshake")
		return
	}
	_, pkg, err := session.ParseComposite(init.SessionID)
	if err != nil {
		ws.Send(&wire.TPAConnectionError{Message: err.Error()})
		ws.Close("bad handshake")
		return
	}

	sess, settings, err := s.cfg.Lifecycle.Bind(r.Context(), ws, &init, r.RemoteAddr)
	if err != nil {
		slog.Info("tpa bind rejected",
			"sessionId", init.SessionID, "remote", r.RemoteAddr, "error", err)
		ws.Send(&wire.TPAConnectionError{Message: err.Error()})
		ws.Close("bind rejected")
		return
	}
	if err := ws.Send(&wire.TPAConnectionAck{
		SessionID: init.SessionID,
		Settings:  settings,
		Timestamp: s.cfg.Clock.Now().UnixMilli(),
	}); err != nil {
		sess.UnbindAppConn(pkg, ws)
		return
	}
	s.tpaReadLoop(r.Context(), sess, pkg, ws)
}

func (s *Server) tpaReadLoop(ctx context.Context, sess *session.UserSession, pkg string, ws *wsConn) {
	for {
		_, data, err := ws.conn.Read(ctx)
		if err != nil {
			// The app keeps running; only its channel is gone. A
			// registration-service restart can offer the session back.
			sess.UnbindAppConn(pkg, ws)
			ws.Close("read failed")
			return
		}
		m, err := wire.ParseTPAMessage(data)
		if err != nil {
			slog.Debug("bad tpa message",
				"sessionId", sess.SessionID, "packageName", pkg, "error", err)
			ws.Send(&wire.TPAConnectionError{Message: err.Error()})
			continue
		}
		switch msg := m.(type) {
		case wire.SubscriptionUpdate:
			s.applySubscriptions(sess, pkg, msg, ws)
		case wire.DisplayEvent:
			sess.Arbiter().Submit(pkg, msg.View, msg.Layout,
				time.Duration(msg.DurationMs)*time.Millisecond)
		case wire.TPAConnectionInit:
			ws.Send(&wire.TPAConnectionError{Message: "channel already bound"})
		}
	}
}

// applySubscriptions atomically replaces the package's subscription set,
// converges recognizer streams onto the session's language union, and
// follows the media predicate with the microphone.
func (s *Server) applySubscriptions(sess *session.UserSession, pkg string, msg wire.SubscriptionUpdate, ws *wsConn) {
	keys := make([]stream.Key, 0, len(msg.Subscriptions))
	for _, raw := range msg.Subscriptions {
		k, err := stream.ParseKey(raw)
		if err != nil {
			// Reject the whole update; the previous set stays in force.
			ws.Send(&wire.TPAConnectionError{Message: err.Error()})
			return
		}
		keys = append(keys, k)
	}

	before := s.cfg.Subscriptions.HasMediaSubscriptions(sess.SessionID)
	diff := s.cfg.Subscriptions.Update(sess.SessionID, pkg, sess.UserID, keys)
	// Recognizer streams belong to the session, not to this TPA channel.
	sess.Pipeline().UpdateStreams(context.Background(),
		s.cfg.Subscriptions.MinimalLanguageKeys(sess.SessionID))
	if after := s.cfg.Subscriptions.HasMediaSubscriptions(sess.SessionID); after != before {
		sess.UpdateMicrophoneState(after)
	}
	for _, k := range diff.Added {
		if k.Kind == stream.KindLocationUpdate {
			s.cfg.Router.ReplayLocation(sess, pkg)
		}
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
