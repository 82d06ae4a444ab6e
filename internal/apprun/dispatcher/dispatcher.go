// Package dispatcher implements the Dispatcher Facade: the single entry
// point the front HTTP router calls into, translating an inbound request
// into a pool fetch and an apprunerr classification into an HTTP status.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"apprun/internal/apprun/config"
	"apprun/internal/apprun/ipc"
	"apprun/internal/apprun/pool"
	"apprun/internal/apprunerr"
	"apprun/internal/ctxkeys"
)

// Dispatcher is the facade C6 exposes to the front router: one method,
// Fetch, that hides the pool/instance/child machinery behind a single
// request/response call.
type Dispatcher struct {
	pool   *pool.Pool
	logger *slog.Logger
}

// New builds a Dispatcher over an already-constructed Pool.
func New(p *pool.Pool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{pool: p, logger: logger}
}

// Fetch runs the body-size gate, stamps a correlation id onto ctx, and
// dispatches req through the pool. preReadBody is the request body read up
// front by the front router (so the gate can reject an oversized body
// before ever spawning a worker); it is threaded into req.Body by the
// caller before this is invoked — Fetch only enforces the ceiling.
func (d *Dispatcher) Fetch(ctx context.Context, appDir string, cfg config.WorkerConfig, req *ipc.RequestPayload) (*ipc.ResponsePayload, error) {
	ctx, reqID := ctxkeys.EnsureCorrelationID(ctx)
	logger := d.logger.With(slog.String("req_id", reqID), slog.String("app_dir", appDir))

	if cfg.MaxBodySizeBytes > 0 && int64(len(req.Body)) > cfg.MaxBodySizeBytes {
		return nil, apprunerr.New(apprunerr.CodeBodyTooLarge, fmt.Errorf(
			"request body of %d bytes exceeds configured limit of %d bytes", len(req.Body), cfg.MaxBodySizeBytes))
	}

	resp, err := d.pool.Fetch(ctx, appDir, cfg.Entrypoint, cfg, req)
	if err != nil {
		logger.Error("dispatch failed", slog.Any("err", err))
		return nil, err
	}
	return resp, nil
}

// StatusFor classifies an error returned by Fetch into the HTTP status code
// the front router should send.
func StatusFor(err error) int {
	var e *apprunerr.Error
	if !errors.As(err, &e) {
		return 500
	}
	switch e.Code {
	case apprunerr.CodeTimeout:
		return 504
	case apprunerr.CodeBodyTooLarge:
		return 413
	case apprunerr.CodeSpawn, apprunerr.CodeCriticalChild:
		return 502
	case apprunerr.CodeCapacity:
		return 503
	default:
		return 500
	}
}
