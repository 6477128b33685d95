package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"image-pipeline/internal/metrics"
	"image-pipeline/internal/operations"
	"image-pipeline/internal/pipeline"
	"image-pipeline/internal/server"
	"image-pipeline/internal/storage"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the operation catalog and pipeline execution over HTTP.

Endpoints:
  GET  /api/operations
  GET  /api/operations/:id/params
  PUT  /api/operations/:id/params
  POST /api/process
  GET  /api/runs
  GET  /api/runs/:id
  GET  /health
  GET  /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}

		logger := initLogger(cfg.Log.Debug)
		logger.WithFields(logrus.Fields{
			"version": AppVersion,
			"addr":    cfg.Server.Addr,
			"strict":  cfg.Pipeline.StrictParams,
			"quality": cfg.Pipeline.Quality,
		}).Info("Starting image pipeline server")

		registry := operations.Default(logger)
		defer registry.Close()

		opts := server.Options{
			Registry: registry,
			Pipeline: pipeline.Options{
				StrictParams: cfg.Pipeline.StrictParams,
				Quality:      cfg.Pipeline.Quality,
			},
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
			Logger:         logger,
			Version:        AppVersion,
		}

		if cfg.Storage.Enabled {
			db, err := storage.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			opts.Pipeline.Recorder = db
			opts.History = db
			logger.WithFields(logrus.Fields{
				"path":      cfg.Storage.Path,
				"retention": cfg.Storage.Retention,
			}).Info("Run history enabled")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if db, ok := opts.History.(*storage.DB); ok && cfg.Storage.Retention.Duration > 0 {
			go pruneRuns(ctx, db, cfg.Storage.Retention.Duration, logger)
		}

		if cfg.Pipeline.Sessions {
			sessions := operations.NewSessions(registry, cfg.Pipeline.SessionIdle.Duration, cfg.Pipeline.MaxSessions, logger)
			defer sessions.Close()
			opts.Sessions = sessions
			go evictSessions(ctx, sessions, cfg.Pipeline.SessionIdle.Duration, logger)
		}

		srv := server.New(opts)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(cfg.Server.Addr)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

// evictSessions drops idle sessions until ctx is cancelled
func evictSessions(ctx context.Context, sessions *operations.Sessions, idle time.Duration, logger logrus.FieldLogger) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Evict(); n > 0 {
				logger.WithField("evicted", n).Info("Evicted idle sessions")
			}
			metrics.ActiveSessions.Set(float64(sessions.Len()))
		}
	}
}

// runPruner is the part of the run store retention needs
type runPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// pruneRuns deletes runs older than retention now and then on every tick
// until ctx is cancelled
func pruneRuns(ctx context.Context, store runPruner, retention time.Duration, logger logrus.FieldLogger) {
	interval := min(retention, time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pruneOnce(ctx, store, time.Now().Add(-retention), logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneOnce(ctx context.Context, store runPruner, cutoff time.Time, logger logrus.FieldLogger) int64 {
	n, err := store.DeleteBefore(ctx, cutoff)
	if err != nil {
		logger.WithError(err).Warn("Failed to prune run history")
		return 0
	}
	if n > 0 {
		logger.WithFields(logrus.Fields{"deleted": n, "cutoff": cutoff}).Info("Pruned run history")
	}
	return n
}
