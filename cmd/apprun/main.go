// Command apprun is the front door: it serves installed apps over HTTP,
// dispatching each request through the Worker Pool, and exposes Prometheus
// metrics alongside a health check.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"apprun/internal/apprun/dispatcher"
	"apprun/internal/apprun/front"
	"apprun/internal/apprun/metadatastore"
	"apprun/internal/apprun/metrics"
	"apprun/internal/apprun/middleware"
	"apprun/internal/apprun/pool"
	"apprun/internal/logging"
)

// Config holds apprun's runtime configuration. Values come from environment
// variables, with flags taking precedence.
type Config struct {
	HTTPAddr                string        // APPRUN_HTTP_ADDR
	DBPath                  string        // APPRUN_DB_PATH
	AppsRoot                string        // APPRUN_APPS_ROOT
	WorkerBinary            string        // APPRUN_WORKER_BINARY
	MaxPoolSize             int           // APPRUN_MAX_POOL_SIZE
	MaxBodySizeCeilingBytes int64         // APPRUN_MAX_BODY_SIZE_BYTES
	MaintenanceInterval     time.Duration // APPRUN_MAINTENANCE_INTERVAL
	LogLevel                string        // APPRUN_LOG_LEVEL
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:                ":8080",
		DBPath:                  "./apprun.db",
		AppsRoot:                "./var/apprun/apps",
		WorkerBinary:            "./apprun-worker",
		MaxPoolSize:             64,
		MaxBodySizeCeilingBytes: 25 << 20,
		MaintenanceInterval:     10 * time.Second,
		LogLevel:                "info",
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// parseConfig builds Config from env vars, then lets flags override.
func parseConfig() Config {
	def := defaultConfig()

	cfg := Config{
		HTTPAddr:                getenv("APPRUN_HTTP_ADDR", def.HTTPAddr),
		DBPath:                  getenv("APPRUN_DB_PATH", def.DBPath),
		AppsRoot:                getenv("APPRUN_APPS_ROOT", def.AppsRoot),
		WorkerBinary:            getenv("APPRUN_WORKER_BINARY", def.WorkerBinary),
		MaxPoolSize:             getenvInt("APPRUN_MAX_POOL_SIZE", def.MaxPoolSize),
		MaxBodySizeCeilingBytes: getenvInt64("APPRUN_MAX_BODY_SIZE_BYTES", def.MaxBodySizeCeilingBytes),
		MaintenanceInterval:     getenvDuration("APPRUN_MAINTENANCE_INTERVAL", def.MaintenanceInterval),
		LogLevel:                getenv("APPRUN_LOG_LEVEL", def.LogLevel),
	}

	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address (env APPRUN_HTTP_ADDR)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite metadata DB path (env APPRUN_DB_PATH)")
	flag.StringVar(&cfg.AppsRoot, "apps-root", cfg.AppsRoot, "Directory installed apps live under (env APPRUN_APPS_ROOT)")
	flag.StringVar(&cfg.WorkerBinary, "worker-binary", cfg.WorkerBinary, "Path to the apprun-worker executable (env APPRUN_WORKER_BINARY)")
	flag.IntVar(&cfg.MaxPoolSize, "max-pool-size", cfg.MaxPoolSize, "Max live worker instances across all apps (env APPRUN_MAX_POOL_SIZE)")
	flag.Int64Var(&cfg.MaxBodySizeCeilingBytes, "max-body-size-bytes", cfg.MaxBodySizeCeilingBytes, "Runtime ceiling on request body size (env APPRUN_MAX_BODY_SIZE_BYTES)")
	flag.DurationVar(&cfg.MaintenanceInterval, "maintenance-interval", cfg.MaintenanceInterval, "Pool maintenance sweep interval (env APPRUN_MAINTENANCE_INTERVAL)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error (env APPRUN_LOG_LEVEL)")
	flag.Parse()

	return cfg
}

func main() {
	cfg := parseConfig()
	logger := logging.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.AppsRoot, 0o755); err != nil {
		logger.Error("failed to create apps root", "err", err)
		os.Exit(1)
	}

	store, err := metadatastore.Open(context.Background(), cfg.DBPath)
	if err != nil {
		logger.Error("failed to open metadata store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	m := metrics.New()
	m.EnablePrometheus()

	p, err := pool.New(cfg.MaxPoolSize, cfg.WorkerBinary, m, logger)
	if err != nil {
		logger.Error("failed to construct worker pool", "err", err)
		os.Exit(1)
	}

	maintenanceCtx, stopMaintenance := context.WithCancel(context.Background())
	go p.RunMaintenance(maintenanceCtx, cfg.MaintenanceInterval)

	d := dispatcher.New(p, logger)

	router := front.New(store, d, m, front.Options{
		AppsRoot:                cfg.AppsRoot,
		MaxBodySizeCeilingBytes: cfg.MaxBodySizeCeilingBytes,
		SecurityHeaders:         middleware.DefaultSecurityHeadersConfig(),
		Logger:                  logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}

	stopMaintenance()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	} else {
		logger.Info("server stopped gracefully")
	}
}
