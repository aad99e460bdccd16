// Package app assembles the relay from configuration and runs its HTTP server.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"account-relay/internal/config"
	"account-relay/internal/telemetry"
)

// App is a configured relay ready to serve.
type App struct {
	httpServer *http.Server
	infra      *Infra
	logger     *slog.Logger
}

// New wires stores, protocol, services and routes from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	infra, err := OpenInfra(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	router, err := setupHTTP(ctx, cfg, infra, logger)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &App{httpServer: server, infra: infra, logger: logger}, nil
}

// Addr is the configured listen address.
func (a *App) Addr() string {
	return a.httpServer.Addr
}

// Run serves until Shutdown. It returns nil after a graceful shutdown.
func (a *App) Run() error {
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones, lets async telemetry drain,
// then flushes OTel and closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	drain := time.NewTimer(telemetry.ShutdownDrainDuration)
	select {
	case <-drain.C:
	case <-ctx.Done():
		drain.Stop()
	}
	if p := a.infra.Providers; p != nil && p.Shutdown != nil {
		// ctx may already be spent; flush with a fresh deadline.
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Shutdown(flushCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := a.infra.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
