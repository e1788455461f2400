// Package relay is the main orchestrator that ties all relay components together.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/parley-im/parley/internal/api"
	"github.com/parley-im/parley/internal/auth"
	"github.com/parley-im/parley/internal/config"
	"github.com/parley-im/parley/internal/metrics"
	"github.com/parley-im/parley/internal/router"
	"github.com/parley-im/parley/internal/session"
	"github.com/parley-im/parley/internal/store"
)

// Relay is the main relay process.
type Relay struct {
	cfg    *config.Config
	store  store.Store
	router *router.Router
	api    *api.Server
	logger *slog.Logger
}

// New creates a new relay from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	sessions := session.NewStore()
	rt := router.New(sessions, logger, m, router.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
		PingInterval:    cfg.Relay.PingInterval.Duration,
		PongWait:        cfg.Relay.PongWait.Duration,
	})

	// Every stored identity must be routable before its first login, so its
	// queue exists even while it has never connected.
	users, err := db.ListUsers(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		rt.RegisterIdentity(u.Nickname)
	}
	if len(users) > 0 {
		logger.Info("seeded identities from store", "count", len(users))
	}

	authSvc := auth.NewService(db, sessions, rt)
	apiSrv := api.NewServer(db, authSvc, sessions, rt, cfg, registry, logger)

	r := &Relay{
		cfg:    cfg,
		store:  db,
		router: rt,
		api:    apiSrv,
		logger: logger.With("component", "relay"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return r, nil
}

// Run starts the relay HTTP server and blocks until the context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    r.cfg.Server.Addr,
		Handler: r.api.Handler(),
	}

	// Start rate limiter cleanup tasks.
	r.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("relay listening", "addr", r.cfg.Server.Addr)
		if r.cfg.Server.TLSCert != "" && r.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(r.cfg.Server.TLSCert, r.cfg.Server.TLSKey)
		} else {
			r.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutting down relay gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			r.logger.Info("http server stopped gracefully")
		}

		r.logger.Info("closing store")
		_ = r.store.Close()
		r.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = r.store.Close()
		return err
	}
}
