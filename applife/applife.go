// Package applife drives the TPA lifecycle: start webhooks and the boot
// screen, the bind handshake, the loading timeout, and teardown.
package applife

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/OkGoDoIt/AugmentOS/apps"
	"github.com/OkGoDoIt/AugmentOS/auth"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/session"
	"github.com/OkGoDoIt/AugmentOS/store"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

// Stop reasons carried in app_stopped and the stop webhook.
const (
	ReasonUserRequested = "user_requested"
	ReasonReplaced      = "replaced_by_standard_app"
	ReasonError         = "error"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotStarted rejects a bind for a package that is neither loading
	// nor active in the session.
	ErrNotStarted = errors.New("app was not started for this session")
	// ErrForbiddenOrigin rejects a system-app bind from outside the
	// internal network.
	ErrForbiddenOrigin = errors.New("system app bound from external address")
)

// DefaultLoadingTimeout bounds how long a started TPA may take to bind.
const DefaultLoadingTimeout = 5 * time.Second

// webhookTimeout bounds every webhook POST.
const webhookTimeout = 5 * time.Second

// Subscriptions is the slice of the subscription registry the lifecycle
// needs.
type Subscriptions interface {
	HasMediaSubscriptions(sessionID string) bool
	RemovePackage(sessionID, pkg string)
}

// Config wires a Controller.
type Config struct {
	Directory     apps.Directory
	Sessions      *session.Registry
	Subscriptions Subscriptions
	Store         *store.Store // optional, best-effort persistence
	Clock         clock.Clock
	HTTPClient    *http.Client

	LoadingTimeout time.Duration
	// PublicWSURL is the TPA WebSocket endpoint handed to normal apps in
	// webhooks; InternalWSURL goes to system apps.
	PublicWSURL   string
	InternalWSURL string
}

// Controller owns per-(session, package) lifecycle state.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	loadTimers map[string]clock.Timer // composite id -> bind deadline
}

func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.LoadingTimeout <= 0 {
		cfg.LoadingTimeout = DefaultLoadingTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: webhookTimeout}
	}
	if cfg.InternalWSURL == "" {
		cfg.InternalWSURL = cfg.PublicWSURL
	}
	return &Controller{
		cfg:        cfg,
		loadTimers: make(map[string]clock.Timer),
	}
}

// Start launches pkg in the session: boot screen up, session_request
// webhook out, bind timer running. Starting a package that is already
// loading or active returns its composite id unchanged.
func (c *Controller) Start(ctx context.Context, s *session.UserSession, pkg string) (string, error) {
	composite := s.CompositeID(pkg)
	if s.IsActive(pkg) || s.IsLoading(pkg) {
		return composite, nil
	}

	app, err := c.cfg.Directory.Get(ctx, pkg)
	if err != nil {
		return "", err
	}

	// At most one standard app holds the display.
	if app.Kind == apps.KindStandard {
		for _, other := range s.ActiveApps() {
			if other == pkg {
				continue
			}
			rec, err := c.cfg.Directory.Get(ctx, other)
			if err != nil {
				slog.Warn("active app missing from directory",
					"sessionId", s.SessionID, "packageName", other, "error", err)
				continue
			}
			if rec.Kind == apps.KindStandard {
				c.Stop(ctx, s, other, ReasonReplaced)
			}
		}
	}

	if !s.BeginLoading(pkg) {
		return composite, nil
	}
	s.Arbiter().ShowBoot(pkg)
	slog.Info("app loading", "sessionId", s.SessionID, "packageName", pkg)

	go c.sendSessionRequest(app, composite, s.UserID)

	c.mu.Lock()
	if old := c.loadTimers[composite]; old != nil {
		old.Stop()
	}
	c.loadTimers[composite] = c.cfg.Clock.AfterFunc(c.cfg.LoadingTimeout, func() {
		c.loadTimedOut(s, pkg)
	})
	c.mu.Unlock()

	s.PushAppState()
	return composite, nil
}

// loadTimedOut reverts a load that never bound. If the bind won the race
// this is a no-op.
func (c *Controller) loadTimedOut(s *session.UserSession, pkg string) {
	composite := s.CompositeID(pkg)
	c.mu.Lock()
	delete(c.loadTimers, composite)
	c.mu.Unlock()

	if !s.CancelLoading(pkg) {
		return
	}
	slog.Warn("app start timed out", "sessionId", s.SessionID, "packageName", pkg)
	s.Arbiter().ClearBoot(pkg)
	s.Send(&wire.AppStateChange{
		SessionID:   s.SessionID,
		UserSession: s.Snapshot(),
		Error:       fmt.Sprintf("%s did not start in time", pkg),
		Timestamp:   c.cfg.Clock.Now().UnixMilli(),
	})
}

// Stop tears pkg down: subscriptions out, membership out, stop webhook,
// app_stopped to its channel, displays withdrawn, mic re-evaluated.
// Stopping a package that is not running is a no-op.
func (c *Controller) Stop(ctx context.Context, s *session.UserSession, pkg, reason string) {
	if !s.IsActive(pkg) && !s.IsLoading(pkg) {
		return
	}
	composite := s.CompositeID(pkg)

	mediaBefore := c.cfg.Subscriptions.HasMediaSubscriptions(s.SessionID)
	c.cfg.Subscriptions.RemovePackage(s.SessionID, pkg)
	s.RemoveApp(pkg)
	c.cancelLoadTimer(composite)

	if app, err := c.cfg.Directory.Get(ctx, pkg); err == nil {
		go c.sendStopRequest(app, composite, s.UserID, reason)
	} else {
		slog.Warn("stop webhook skipped, app not in directory",
			"sessionId", s.SessionID, "packageName", pkg, "error", err)
	}

	if conn := s.AppConn(pkg); conn != nil {
		if err := conn.Send(&wire.AppStopped{
			Reason:    reason,
			Timestamp: c.cfg.Clock.Now().UnixMilli(),
		}); err != nil {
			slog.Debug("app_stopped send failed",
				"sessionId", s.SessionID, "packageName", pkg, "error", err)
		}
		conn.Close("app stopped")
		s.UnbindAppConn(pkg, conn)
	}

	c.persistMembership(s)
	s.Arbiter().RemovePackage(pkg)

	if mediaAfter := c.cfg.Subscriptions.HasMediaSubscriptions(s.SessionID); mediaAfter != mediaBefore {
		s.UpdateMicrophoneState(mediaAfter)
	}
	s.PushAppState()
	slog.Info("app stopped",
		"sessionId", s.SessionID, "packageName", pkg, "reason", reason)
}

// Bind authenticates a TPA connection's first frame and attaches it to
// its session. It returns the session and the app's settings snapshot
// for the tpa_connection_ack.
func (c *Controller) Bind(ctx context.Context, conn session.Conn, init *wire.TPAConnectionInit, remoteAddr string) (*session.UserSession, []wire.AppSetting, error) {
	sessionID, pkg, err := session.ParseComposite(init.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if init.PackageName != "" && init.PackageName != pkg {
		return nil, nil, fmt.Errorf("package %q does not match session id %q", init.PackageName, init.SessionID)
	}

	s := c.cfg.Sessions.Get(sessionID)
	if s == nil {
		return nil, nil, ErrSessionNotFound
	}

	app, err := c.cfg.Directory.Get(ctx, pkg)
	if err != nil {
		return nil, nil, err
	}
	if !app.CheckAPIKey(init.APIKey) {
		return nil, nil, auth.ErrInvalidAPIKey
	}
	if app.IsSystem() && !internalAddr(remoteAddr) {
		return nil, nil, ErrForbiddenOrigin
	}

	switch {
	case s.FinishLoading(pkg):
		c.cancelLoadTimer(init.SessionID)
		s.Arbiter().ClearBoot(pkg)
	case s.IsActive(pkg):
		// Reconnect of a live app.
	case app.IsSystem():
		// System apps bind on demand without a start cycle.
		s.Activate(pkg)
	default:
		return nil, nil, ErrNotStarted
	}

	if old := s.BindAppConn(pkg, conn); old != nil && old != conn {
		old.Close("superseded by new connection")
	}
	c.persistMembership(s)
	s.PushAppState()

	var settings []wire.AppSetting
	if c.cfg.Store != nil {
		settings, err = c.cfg.Store.AppSettings(s.UserID, pkg)
		if err != nil {
			slog.Warn("load app settings",
				"userId", s.UserID, "packageName", pkg, "error", err)
		}
	}
	slog.Info("app bound", "sessionId", s.SessionID, "packageName", pkg)
	return s, settings, nil
}

// Shutdown stops every pending bind timer.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.loadTimers {
		t.Stop()
		delete(c.loadTimers, id)
	}
}

func (c *Controller) cancelLoadTimer(composite string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.loadTimers[composite]; t != nil {
		t.Stop()
		delete(c.loadTimers, composite)
	}
}

// persistMembership snapshots the session's running apps, best-effort.
func (c *Controller) persistMembership(s *session.UserSession) {
	if c.cfg.Store == nil {
		return
	}
	if err := c.cfg.Store.SetUserApps(s.UserID, s.ActiveApps()); err != nil {
		slog.Warn("persist running apps", "userId", s.UserID, "error", err)
	}
}

func (c *Controller) sendSessionRequest(app *apps.App, composite, userID string) {
	url := c.cfg.PublicWSURL
	if app.IsSystem() {
		url = c.cfg.InternalWSURL
	}
	err := c.postWebhook(app.WebhookURL(), &wire.SessionRequest{
		Type:         wire.TypeWebhookSessionRequest,
		SessionID:    composite,
		UserID:       userID,
		Timestamp:    c.cfg.Clock.Now().UnixMilli(),
		WebSocketURL: url,
	})
	if err != nil {
		// The bind timer still runs; a TPA that never heard the webhook
		// simply times out.
		slog.Warn("session_request webhook failed",
			"packageName", app.PackageName, "sessionId", composite, "error", err)
	}
}

func (c *Controller) sendStopRequest(app *apps.App, composite, userID, reason string) {
	err := c.postWebhook(app.WebhookURL(), &wire.StopRequest{
		Type:      wire.TypeWebhookStopRequest,
		SessionID: composite,
		UserID:    userID,
		Reason:    reason,
		Timestamp: c.cfg.Clock.Now().UnixMilli(),
	})
	if err != nil {
		slog.Warn("stop_request webhook failed",
			"packageName", app.PackageName, "sessionId", composite, "error", err)
	}
}

func (c *Controller) postWebhook(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// internalAddr reports whether remoteAddr is loopback or private, the
// networks system apps are trusted to bind from.
func internalAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
