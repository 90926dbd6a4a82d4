package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"beatframe/internal/platform/config"
	"beatframe/internal/platform/httpserver"
	"beatframe/internal/platform/logger"
)

const reapInterval = time.Minute

// main wires high-level dependencies, exposes the HTTP router and runs the
// queue worker, event forwarder and lease reaper next to it.
func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	recovered, err := app.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if recovered > 0 {
		log.Info("recovered interrupted jobs", "count", recovered)
	}
	if err := app.pods.Resume(ctx); err != nil {
		log.Warn("resume pod lease failed", "error", err)
	}

	srv := httpserver.New(cfg.Server.Addr, app.router, cfg.Server.ReadHeaderTimeout)
	log.Info("starting beatframe", "addr", cfg.Server.Addr, "engines", app.queue.Engines())

	stopPublishing := app.startPublishing()
	defer stopPublishing()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return app.queue.Run(gctx)
	})
	g.Go(func() error {
		return app.pods.RunReaper(gctx, reapInterval)
	})
	g.Go(func() error {
		return app.runJanitor(gctx, cfg.Queue.Janitor, cfg.Queue.Retention, log)
	})

	err = g.Wait()
	app.queue.Wait()
	app.pods.Close()
	// Events emitted while the workers stopped are drained before the
	// deferred closers flush Kafka.
	stopPublishing()
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
