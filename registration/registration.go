// Package registration is the HTTP service TPA servers use to announce
// themselves, prove liveness, and recover live sessions after a restart.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/OkGoDoIt/AugmentOS/apps"
	"github.com/OkGoDoIt/AugmentOS/auth"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/session"
	"github.com/OkGoDoIt/AugmentOS/store"
	"github.com/OkGoDoIt/AugmentOS/wire"
)

var (
	ErrMissingFields = errors.New("packageName, apiKey and webhookUrl are required")
	// ErrStaleRegistration rejects recovery for a server that stopped
	// heartbeating; it must register again first.
	ErrStaleRegistration = errors.New("registration is stale, register again first")
)

// DefaultDeadTime is how long a registration survives without a
// heartbeat before recovery is refused.
const DefaultDeadTime = 90 * time.Second

const webhookTimeout = 5 * time.Second

// Sessions is the slice of the session registry recovery needs.
type Sessions interface {
	Sessions() []*session.UserSession
}

// Config wires a Service.
type Config struct {
	Store      *store.Store
	Directory  apps.Directory
	Sessions   Sessions
	Clock      clock.Clock
	HTTPClient *http.Client
	DeadTime   time.Duration
	// PublicWSURL is the TPA WebSocket endpoint carried in recovery
	// webhooks.
	PublicWSURL string
}

type Service struct {
	cfg Config
}

func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.DeadTime <= 0 {
		cfg.DeadTime = DefaultDeadTime
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: webhookTimeout}
	}
	return &Service{cfg: cfg}
}

// RegisterRequest is the POST /register body.
type RegisterRequest struct {
	PackageName string   `json:"packageName"`
	APIKey      string   `json:"apiKey"`
	WebhookURL  string   `json:"webhookUrl"`
	ServerURLs  []string `json:"serverUrls,omitempty"`
}

// Register records a TPA server after checking its API key against the
// app record. Re-registering the same (packageName, webhookUrl) pair
// refreshes the existing record instead of minting a new id.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*store.Registration, error) {
	if req.PackageName == "" || req.APIKey == "" || req.WebhookURL == "" {
		return nil, ErrMissingFields
	}
	app, err := s.cfg.Directory.Get(ctx, req.PackageName)
	if err != nil {
		slog.Debug("registration for unknown package", "packageName", req.PackageName)
		return nil, auth.ErrInvalidAPIKey
	}
	if !app.CheckAPIKey(req.APIKey) {
		return nil, auth.ErrInvalidAPIKey
	}

	now := s.cfg.Clock.Now()
	reg, err := s.cfg.Store.FindRegistration(req.PackageName, req.WebhookURL)
	switch {
	case err == nil:
		reg.ServerURLs = req.ServerURLs
		reg.LastHeartbeat = now
	case errors.Is(err, store.ErrNotFound):
		reg = &store.Registration{
			ID:            uuid.NewString(),
			PackageName:   req.PackageName,
			WebhookURL:    req.WebhookURL,
			ServerURLs:    req.ServerURLs,
			RegisteredAt:  now,
			LastHeartbeat: now,
		}
	default:
		return nil, err
	}
	if err := s.cfg.Store.PutRegistration(reg); err != nil {
		return nil, err
	}
	slog.Info("tpa server registered",
		"packageName", reg.PackageName, "registrationId", reg.ID)
	return reg, nil
}

// Heartbeat refreshes a registration's liveness.
func (s *Service) Heartbeat(id string) error {
	return s.cfg.Store.TouchRegistration(id, s.cfg.Clock.Now())
}

// Restart re-sends session_recovery webhooks for every live session that
// has the registered package active but no bound TPA channel. It returns
// how many sessions were offered back.
func (s *Service) Restart(ctx context.Context, id string) (int, error) {
	reg, err := s.cfg.Store.GetRegistration(id)
	if err != nil {
		return 0, err
	}
	if s.cfg.Clock.Now().Sub(reg.LastHeartbeat) > s.cfg.DeadTime {
		return 0, ErrStaleRegistration
	}

	recovered := 0
	for _, sess := range s.cfg.Sessions.Sessions() {
		if !sess.IsActive(reg.PackageName) || sess.AppConn(reg.PackageName) != nil {
			continue
		}
		err := s.postWebhook(ctx, reg.WebhookURL, &wire.SessionRecovery{
			Type:         wire.TypeWebhookSessionRecovery,
			SessionID:    sess.CompositeID(reg.PackageName),
			UserID:       sess.UserID,
			Timestamp:    s.cfg.Clock.Now().UnixMilli(),
			WebSocketURL: s.cfg.PublicWSURL,
		})
		if err != nil {
			slog.Warn("session_recovery webhook failed",
				"registrationId", id, "sessionId", sess.SessionID, "error", err)
			continue
		}
		recovered++
	}

	// The restart call itself proves the server is back up.
	if err := s.cfg.Store.TouchRegistration(id, s.cfg.Clock.Now()); err != nil {
		slog.Warn("touch registration after restart", "registrationId", id, "error", err)
	}
	slog.Info("tpa server restarted",
		"registrationId", id, "packageName", reg.PackageName, "recovered", recovered)
	return recovered, nil
}

func (s *Service) postWebhook(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.cfg.HTTPClient.Do(req)
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

// Routes mounts the service's HTTP surface on mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /restart", s.handleRestart)
	mux.HandleFunc("GET /health", s.handleHealth)
}

type registerResponse struct {
	Success        bool   `json:"success"`
	RegistrationID string `json:"registrationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type restartResponse struct {
	Success           bool   `json:"success"`
	RecoveredSessions int    `json:"recoveredSessions"`
	Error             string `json:"error,omitempty"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, registerResponse{Error: "invalid json body"})
		return
	}
	reg, err := s.Register(r.Context(), &req)
	switch {
	case errors.Is(err, ErrMissingFields):
		writeJSON(w, http.StatusBadRequest, registerResponse{Error: err.Error()})
	case errors.Is(err, auth.ErrInvalidAPIKey):
		writeJSON(w, http.StatusUnauthorized, registerResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, registerResponse{Error: "registration failed"})
	default:
		writeJSON(w, http.StatusCreated, registerResponse{Success: true, RegistrationID: reg.ID})
	}
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RegistrationID string `json:"registrationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RegistrationID == "" {
		writeJSON(w, http.StatusBadRequest, statusResponse{Error: "registrationId is required"})
		return
	}
	err := s.Heartbeat(req.RegistrationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, statusResponse{Error: "unknown registrationId"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, statusResponse{Error: "heartbeat failed"})
	default:
		writeJSON(w, http.StatusOK, statusResponse{Success: true})
	}
}

func (s *Service) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RegistrationID string `json:"registrationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RegistrationID == "" {
		writeJSON(w, http.StatusBadRequest, restartResponse{Error: "registrationId is required"})
		return
	}
	n, err := s.Restart(r.Context(), req.RegistrationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, restartResponse{Error: "unknown registrationId"})
	case errors.Is(err, ErrStaleRegistration):
		writeJSON(w, http.StatusOK, restartResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, restartResponse{Error: "restart failed"})
	default:
		writeJSON(w, http.StatusOK, restartResponse{Success: true, RecoveredSessions: n})
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("write http response", "error", err)
	}
}
