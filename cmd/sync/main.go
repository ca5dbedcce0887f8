// Command sync runs one catalog refresh (delta sync plus image
// materialization) and exits. Useful for cron-driven hosts and smoke tests.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/falconrep/catalog-mirror/internal/blob"
	"github.com/falconrep/catalog-mirror/internal/images"
	"github.com/falconrep/catalog-mirror/internal/progress"
	"github.com/falconrep/catalog-mirror/internal/store"
	"github.com/falconrep/catalog-mirror/internal/syncer"
	"github.com/falconrep/catalog-mirror/internal/wc"
	"github.com/falconrep/catalog-mirror/pkg/config"
	"github.com/falconrep/catalog-mirror/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sync",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		logg.Error(context.Background(), "failed to create data dir", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Data.DatabasePath(), logg)
	if err != nil {
		logg.Error(ctx, "failed to open catalog store", err)
		os.Exit(1)
	}
	defer st.Close()

	bus := progress.NewBus()
	remote := wc.NewClient(cfg.Remote)
	engine := syncer.New(st, remote, bus, logg, nil, cfg.Sync.SkewBuffer)
	materializer := images.New(st, blob.New(cfg.Data.ImageDir()), bus, logg, nil, cfg.Remote.UserAgent)

	// Echo progress snapshots while the run is in flight.
	go func() {
		for {
			u, ok := bus.Next(ctx.Done())
			if !ok {
				return
			}
			msgCtx := logg.WithFields(ctx, map[string]any{
				"phase":   string(u.Phase),
				"percent": u.Percent,
			})
			logg.Info(msgCtx, u.Message)
		}
	}()

	if err := engine.Run(ctx); err != nil {
		logg.Error(ctx, "catalog sync failed", err)
		os.Exit(1)
	}
	if err := materializer.Run(ctx); err != nil {
		logg.Error(ctx, "image materialization failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "catalog refresh complete")
}
