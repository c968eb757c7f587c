package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"rollcall/internal/app"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/httpserver"
	"rollcall/internal/platform/logger"
)

// main wires the identity services, serves the admin API, and runs the
// periodic legacy sync until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rollcall: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.New(cfg.Server.Environment, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log, app.Options{AllowMemoryStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	router, err := newRouter(a)
	if err != nil {
		return err
	}
	srv := httpserver.New(cfg.Server.Addr, router)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, log)
	})
	// The queue outlives the HTTP server so notifications from requests
	// finishing during shutdown still go out.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		_ = a.Queue.Run(queueCtx)
	}()
	if cfg.Legacy.BaseURL != "" {
		g.Go(func() error {
			log.Info("periodic legacy sync enabled", "interval", cfg.Policy.SyncInterval)
			if err := a.Sync.Run(gctx, cfg.Policy.SyncInterval); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	stopQueue()
	<-queueDone
	log.Info("rollcall stopped")
	return err
}
