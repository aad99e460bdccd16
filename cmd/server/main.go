package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"account-relay/internal/app"
	"account-relay/internal/config"
	"account-relay/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatalf("config: %v", err)
	}
	l := logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, l)
	if err != nil {
		log.Fatalf("app: %v", err)
	}

	go func() {
		l.Info("relay listening", "addr", application.Addr(), "store", cfg.StoreBackend, "protocol", cfg.ProtocolMode)
		if err := application.Run(); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	l.Info("shutting down relay...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
	l.Info("relay stopped")
}
