package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signagekit/transferd/internal/config"
	"github.com/signagekit/transferd/internal/observability"
	"github.com/signagekit/transferd/internal/server"
	"github.com/signagekit/transferd/internal/server/handlers"
	"github.com/signagekit/transferd/pkg/admission"
	"github.com/signagekit/transferd/pkg/assembler"
	"github.com/signagekit/transferd/pkg/downloader"
	"github.com/signagekit/transferd/pkg/jobstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transfer job API server",
	Long: `Run the HTTP job API.

Endpoints:
  POST   /jobs/upload     submit one upload chunk
  POST   /jobs/download   submit a download URL
  GET    /jobs            list jobs, newest first
  GET    /jobs/{id}       job status
  DELETE /jobs/{id}       cancel/remove a job
  GET    /health          dependency checks
  GET    /version         build info`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	defer observability.Sync()
	log := observability.ServerLogger

	if err := prepareFilesystem(cfg); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to prepare data directories", err)
	}

	store, err := jobstore.NewStore(cfg.Store.Root)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open job store", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	asm := assembler.New(store, cfg.Media.ScratchDir, cfg.Media.Dir, cfg.Media.AllowedPatterns, log)
	driver := downloader.New(store, cfg.Downloader.Binary, cfg.Media.Dir, nil, log)
	controller, err := admission.New(ctx, store, driver, cfg.Downloader.MaxConcurrent, log)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid concurrency limit", err)
	}
	if err := controller.Recover(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to reconcile job store", err)
	}

	jobs := handlers.NewJobsHandler(store, asm, controller, driver, log)
	srv := server.New(cfg, server.Deps{
		Jobs:    jobs,
		Health:  server.NewHealthManager(versionInfo.Version, cfg.Store.Root, cfg.Downloader.Binary),
		Version: handlers.VersionInfo(versionInfo),
	}, log)

	if cfg.Retention > 0 {
		go runJanitor(ctx, store, cfg.Retention, log)
	}

	log.Info("transferd starting",
		zap.String("version", versionInfo.Version),
		zap.String("media_dir", cfg.Media.Dir),
		zap.Int("max_concurrent_downloads", cfg.Downloader.MaxConcurrent))

	err = srv.Start(ctx)
	controller.Wait()
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
	}
	return nil
}

func prepareFilesystem(cfg *config.Config) error {
	dirs := []string{cfg.Store.Root, cfg.Media.Dir, cfg.Media.ScratchDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// runJanitor prunes terminal job records older than the retention window.
func runJanitor(ctx context.Context, store *jobstore.Store, retention time.Duration, log *zap.Logger) {
	interval := retention
	if interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.PruneOlderThan(retention)
			if err != nil {
				log.Warn("janitor prune failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				log.Info("janitor pruned terminal jobs", zap.Int("removed", removed))
			}
		}
	}
}
