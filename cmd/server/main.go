package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"partnerhub/internal/platform/config"
	"partnerhub/internal/platform/httpserver"
	"partnerhub/internal/platform/logger"
)

// main loads configuration, wires the features onto the selected backends and
// runs the HTTP server next to the background workers until a signal arrives.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := connectInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	app, err := buildApp(ctx, cfg, infra, log)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := httpserver.New(cfg.Server.Addr, app.router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	g.Go(func() error {
		// Open event streams would otherwise hold Shutdown until its timeout.
		<-gctx.Done()
		app.hub.Close()
		return nil
	})
	for _, w := range app.workers {
		g.Go(func() error {
			if err := w.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", w.name, err)
			}
			return nil
		})
	}

	log.Info("partnerhub started",
		"addr", cfg.Server.Addr,
		"postgres", infra.pool != nil,
		"redis", infra.redis != nil,
		"kafka", cfg.Kafka.Enabled(),
	)
	if err := g.Wait(); err != nil {
		log.Error("partnerhub stopped with error", "error", err)
		return err
	}
	log.Info("partnerhub stopped")
	return nil
}
