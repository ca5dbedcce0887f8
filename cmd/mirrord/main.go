package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/falconrep/catalog-mirror/api/routes"
	"github.com/falconrep/catalog-mirror/internal/blob"
	"github.com/falconrep/catalog-mirror/internal/images"
	"github.com/falconrep/catalog-mirror/internal/jobs"
	"github.com/falconrep/catalog-mirror/internal/progress"
	"github.com/falconrep/catalog-mirror/internal/store"
	"github.com/falconrep/catalog-mirror/internal/syncer"
	"github.com/falconrep/catalog-mirror/internal/wc"
	"github.com/falconrep/catalog-mirror/pkg/config"
	"github.com/falconrep/catalog-mirror/pkg/logger"
	"github.com/falconrep/catalog-mirror/pkg/metrics"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "mirrord"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "mirrord",
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
	defer func() {
		if err := st.Close(); err != nil {
			logg.Error(context.Background(), "error closing catalog store", err)
		}
	}()

	registry := prometheus.NewRegistry()
	jobMetrics := metrics.NewJobMetrics(registry)

	blobs := blob.New(cfg.Data.ImageDir())
	bus := progress.NewBus()
	remote := wc.NewClient(cfg.Remote)

	engine := syncer.New(st, remote, bus, logg, jobMetrics, cfg.Sync.SkewBuffer)
	materializer := images.New(st, blobs, bus, logg, jobMetrics, cfg.Remote.UserAgent)

	refresh := jobs.Chain("catalog_refresh",
		jobs.FuncJob{JobName: "catalog_sync", Fn: engine.Run},
		jobs.FuncJob{JobName: "image_materializer", Fn: materializer.Run},
	)

	runner := jobs.NewRunner(logg)
	scheduler := jobs.NewScheduler(ctx, runner, logg)
	if err := scheduler.Add(cfg.Sync.Schedule, refresh); err != nil {
		logg.Error(ctx, "failed to schedule catalog refresh", err)
		os.Exit(1)
	}
	scheduler.Start()
	if cfg.Sync.OnStart {
		runner.Submit(ctx, refresh)
	}

	handler := routes.NewRouter(routes.RouterParams{
		Config:     cfg,
		Logger:     logg,
		Store:      st,
		Blobs:      blobs,
		Bus:        bus,
		SubmitSync: func() { runner.Submit(ctx, refresh) },
		Metrics:    registry,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	server := &http.Server{Addr: addr, Handler: handler}

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(logCtx, "starting mirror server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(logCtx, "mirror server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down")
	scheduler.Stop()
	runner.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(logCtx, "error shutting down server", err)
	}
}
