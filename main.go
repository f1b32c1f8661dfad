// AugmentOS cloud: the broker between smart glasses and the third-party
// apps (TPAs) that drive their display.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OkGoDoIt/AugmentOS/applife"
	"github.com/OkGoDoIt/AugmentOS/apps"
	"github.com/OkGoDoIt/AugmentOS/asr/openairt"
	"github.com/OkGoDoIt/AugmentOS/auth"
	"github.com/OkGoDoIt/AugmentOS/config"
	"github.com/OkGoDoIt/AugmentOS/internal/clock"
	"github.com/OkGoDoIt/AugmentOS/registration"
	"github.com/OkGoDoIt/AugmentOS/router"
	"github.com/OkGoDoIt/AugmentOS/server"
	"github.com/OkGoDoIt/AugmentOS/session"
	"github.com/OkGoDoIt/AugmentOS/store"
	"github.com/OkGoDoIt/AugmentOS/subscription"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg *config.Config

	store     *store.Store
	sessions  *session.Registry
	lifecycle *applife.Controller
	http      *http.Server
}

// NewApp assembles the server from cfg. The store and the listener are
// the only components holding external resources; everything else is
// wiring.
func NewApp(cfg *config.Config) (*App, error) {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	dir, err := apps.LoadDirectory(cfg.AppsFile)
	if err != nil {
		// A fresh install has no directory yet; the server still serves
		// registrations and glasses connections.
		slog.Warn("app directory unavailable", "path", cfg.AppsFile, "error", err)
		dir = apps.NewStaticDirectory()
	}

	provider := openairt.New(openairt.Config{
		APIKey: cfg.ASR.APIKey,
		Model:  cfg.ASR.Model,
	})
	if !provider.IsReady() {
		slog.Warn("asr api key missing, recognizer streams will not open")
	}

	clk := clock.Real()
	subs := subscription.NewRegistry()
	rtr := router.New(subs, dir, clk)
	sessions := session.NewRegistry(session.Config{
		Clock:               clk,
		Provider:            provider,
		Subscriptions:       subs,
		ReconnectGrace:      cfg.ReconnectGrace(),
		MicDebounce:         cfg.MicDebounce(),
		TranscriptRetention: cfg.TranscriptRetention(),
		OnTranscript:        rtr.DeliverTranscript,
	})

	lifecycle := applife.New(applife.Config{
		Directory:      dir,
		Sessions:       sessions,
		Subscriptions:  subs,
		Store:          st,
		Clock:          clk,
		LoadingTimeout: cfg.LoadingTimeout(),
		PublicWSURL:    cfg.PublicHost + server.TPAPath,
		InternalWSURL:  cfg.InternalHost + server.TPAPath,
	})

	mux := http.NewServeMux()
	server.New(server.Config{
		Verifier:      auth.NewVerifier(cfg.JWTSecret),
		Sessions:      sessions,
		Subscriptions: subs,
		Lifecycle:     lifecycle,
		Router:        rtr,
		Clock:         clk,
	}).Routes(mux)
	registration.New(registration.Config{
		Store:       st,
		Directory:   dir,
		Sessions:    sessions,
		Clock:       clk,
		DeadTime:    cfg.HeartbeatDeadTime(),
		PublicWSURL: cfg.PublicHost + server.TPAPath,
	}).Routes(mux)

	return &App{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		lifecycle: lifecycle,
		http:      &http.Server{Addr: cfg.ListenAddr, Handler: mux},
	}, nil
}

// Run serves until SIGINT/SIGTERM or a listener failure, then shuts
// down.
func (a *App) Run() error {
	errc := make(chan error, 1)
	go func() {
		slog.Info("listening",
			"addr", a.cfg.ListenAddr, "publicHost", a.cfg.PublicHost, "version", version)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		a.Shutdown()
		return err
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
		a.Shutdown()
		return nil
	}
}

// Shutdown stops the listener, ends every session so connected clients
// hear a farewell, and releases the store.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	a.sessions.Shutdown()
	a.lifecycle.Shutdown()
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("augmentos-cloud %s (%s, %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	})))

	app, err := NewApp(cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
