// Command apprun-worker is the child process spawned by a Worker Instance
// for one running app. It loads the app's entrypoint, announces readiness,
// and serves REQUEST frames over stdin/stdout until told to terminate.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"apprun/internal/apprun/config"
	"apprun/internal/apprun/workerproc"
	"apprun/internal/logging"
)

func main() {
	logger := logging.New(os.Getenv("APPRUN_LOG_LEVEL"))

	if err := run(logger.With("worker_id", os.Getenv("WORKER_ID"))); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	appDir := os.Getenv("APP_DIR")
	entrypoint := os.Getenv("ENTRYPOINT")
	if appDir == "" || entrypoint == "" {
		return fmt.Errorf("apprun-worker: APP_DIR and ENTRYPOINT must be set")
	}

	var cfg config.WorkerConfig
	if raw := os.Getenv("WORKER_CONFIG"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return fmt.Errorf("apprun-worker: decode WORKER_CONFIG: %w", err)
		}
	}

	resolved, err := workerproc.ResolveEntrypoint(appDir, entrypoint)
	if err != nil {
		return fmt.Errorf("apprun-worker: %w", err)
	}

	if cfg.AutoInstall {
		if err := workerproc.InstallDependencies(context.Background(), appDir); err != nil {
			return fmt.Errorf("apprun-worker: %w", err)
		}
	}

	app, err := workerproc.Load(appDir, resolved)
	if err != nil {
		return fmt.Errorf("apprun-worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return workerproc.Run(ctx, os.Stdin, os.Stdout, workerproc.Config{
		App:      app,
		BasePath: os.Getenv("APPRUN_BASE_PATH"),
		Env:      cfg.Env,
		Logger:   logger,
	})
}
