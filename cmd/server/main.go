package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"caredrop/internal/app"
	"caredrop/internal/platform/config"
	"caredrop/internal/platform/httpserver"
	"caredrop/internal/platform/logger"
)

// main loads configuration, wires the services, and keeps the server
// lifecycle small. Business logic lives in internal/donation.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wired, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer wired.Close()

	srv := httpserver.New(cfg.Addr, wired.Router, log)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting caredrop", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Donation.SweepInterval > 0 {
		g.Go(func() error {
			log.Info("claim expiry sweeper started", "interval", cfg.Donation.SweepInterval.String())
			if err := wired.Lifecycle.StartSweeper(gctx, cfg.Donation.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
