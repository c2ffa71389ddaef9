package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcus/offtask/internal/api"
	"github.com/marcus/offtask/internal/logging"
	"github.com/marcus/offtask/internal/version"
)

// Version may be set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cfg := api.LoadConfig()

	closer := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer closer.Close()

	srv := api.NewServer(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		slog.Error("start server", "err", err)
		os.Exit(1)
	}
	slog.Info("server started", "version", version.Effective(Version), "addr", srv.Addr(), "latency", cfg.Latency.String(), "rate_limit", cfg.RateLimit)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}
