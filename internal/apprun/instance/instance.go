// Package instance implements the Worker Instance: a parent-side handle
// over one spawned apprun-worker child process, correlating REQUEST frames
// with their RESPONSE/ERROR replies and tracking the child's health.
package instance

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"apprun/internal/apprun/config"
	"apprun/internal/apprun/ipc"
	"apprun/internal/apprunerr"

	"github.com/google/uuid"
)

// Status is the point-in-time snapshot returned by Instance.Status.
type Status struct {
	Active bool
	Idle   bool
}

// Stats accumulates per-instance request counts and timing, read by the
// pool when retiring an instance so totals survive eviction.
type Stats struct {
	RequestCount    int64
	ErrorCount      int64
	TotalDurationMs int64
}

// Instance is a live handle over one apprun-worker child process serving
// exactly one app.
type Instance struct {
	id         string
	appDir     string
	entrypoint string
	cfg        config.WorkerConfig
	logger     *slog.Logger

	cmd *exec.Cmd
	enc *ipc.Encoder
	dec *ipc.Decoder

	ready     chan struct{}
	readyOnce sync.Once
	readyErr  error

	createdAt time.Time

	mu           sync.Mutex
	pending      map[string]chan ipc.Frame
	inFlight     int
	lastUsed     time.Time
	stats        Stats
	terminated   bool
	terminateCh  chan struct{}
	idleSignaled bool
}

// Spawn starts the child process for appDir/entrypoint under cfg and begins
// pumping frames. basePath is the app's mount path (typically
// "/apps/<name>/"), forwarded to the child as a default for its <base href>
// injection. Callers must call WaitReady before the first Fetch, and
// Terminate when done with the instance.
func Spawn(ctx context.Context, appDir, entrypoint, basePath string, cfg config.WorkerConfig, workerBinary string, logger *slog.Logger) (*Instance, error) {
	return spawnWithArgs(ctx, appDir, entrypoint, basePath, cfg, workerBinary, nil, logger)
}

// spawnWithArgs is Spawn with an explicit argv tail, split out so tests can
// re-exec the test binary itself (via a GO_WANT_HELPER_PROCESS guard) as a
// stand-in worker process instead of requiring a built apprun-worker binary.
func spawnWithArgs(ctx context.Context, appDir, entrypoint, basePath string, cfg config.WorkerConfig, workerBinary string, extraArgs []string, logger *slog.Logger) (*Instance, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()

	cmd := exec.CommandContext(ctx, workerBinary, extraArgs...)
	cmd.Dir = appDir
	cmd.Env = buildEnv(appDir, entrypoint, basePath, id, cfg)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apprunerr.New(apprunerr.CodeSpawn, fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apprunerr.New(apprunerr.CodeSpawn, fmt.Errorf("stdout pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, apprunerr.New(apprunerr.CodeSpawn, fmt.Errorf("start worker process: %w", err))
	}

	now := time.Now()
	inst := &Instance{
		id:          id,
		appDir:      appDir,
		entrypoint:  entrypoint,
		cfg:         cfg,
		logger:      logger.With(slog.String("worker_id", id)),
		cmd:         cmd,
		enc:         ipc.NewEncoder(stdin),
		dec:         ipc.NewDecoder(bufio.NewReader(stdout)),
		ready:       make(chan struct{}),
		pending:     make(map[string]chan ipc.Frame),
		createdAt:   now,
		lastUsed:    now,
		terminateCh: make(chan struct{}),
	}

	go inst.pump()

	return inst, nil
}

// buildEnv composes the child's environment: APP_DIR, ENTRYPOINT,
// WORKER_CONFIG (JSON), WORKER_ID, APPRUN_BASE_PATH, the parent's own
// environment, and finally the app's configured env vars (which take
// precedence).
func buildEnv(appDir, entrypoint, basePath, id string, cfg config.WorkerConfig) []string {
	configJSON, _ := json.Marshal(cfg)

	env := os.Environ()
	env = append(env,
		"APP_DIR="+appDir,
		"ENTRYPOINT="+entrypoint,
		"WORKER_ID="+id,
		"WORKER_CONFIG="+string(configJSON),
		"APPRUN_BASE_PATH="+basePath,
	)
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// WaitReady blocks until the child sends its READY frame, the context is
// canceled, or the child's configured timeout elapses.
func (i *Instance) WaitReady(ctx context.Context) error {
	select {
	case <-i.ready:
		return i.readyErr
	case <-ctx.Done():
		return apprunerr.New(apprunerr.CodeTimeout, ctx.Err())
	case <-time.After(time.Duration(i.cfg.TimeoutMs) * time.Millisecond):
		return apprunerr.New(apprunerr.CodeTimeout, fmt.Errorf("worker %s did not become ready in time", i.id))
	}
}

// pump is the single reader goroutine: it owns the decoder and demultiplexes
// RESPONSE/ERROR frames by ReqID to whichever Fetch call is waiting, until
// the child's stdout closes.
func (i *Instance) pump() {
	for {
		frame, err := i.dec.Decode()
		if err != nil {
			i.shutdownWithErr(err)
			return
		}
		switch frame.Type {
		case ipc.FrameReady:
			i.readyOnce.Do(func() { close(i.ready) })
		case ipc.FrameResponse, ipc.FrameError:
			i.mu.Lock()
			ch, ok := i.pending[frame.ReqID]
			if ok {
				delete(i.pending, frame.ReqID)
			}
			i.mu.Unlock()
			if ok {
				ch <- frame
			}
		default:
			i.logger.Warn("unexpected frame from child", slog.String("type", string(frame.Type)))
		}
	}
}

func (i *Instance) shutdownWithErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	code := apprunerr.CodeCriticalChild
	select {
	case <-i.ready:
	default:
		code = apprunerr.CodeSpawn
	}
	i.readyErr = apprunerr.New(code, err)
	i.readyOnce.Do(func() { close(i.ready) })
	for id, ch := range i.pending {
		close(ch)
		delete(i.pending, id)
	}
	select {
	case <-i.terminateCh:
	default:
		close(i.terminateCh)
	}
}

// Fetch dispatches req to the child and waits for its reply, correlating on
// a fresh request id generated for this call.
func (i *Instance) Fetch(ctx context.Context, req *ipc.RequestPayload) (*ipc.ResponsePayload, error) {
	reqID := uuid.NewString()

	replyCh := make(chan ipc.Frame, 1)
	i.mu.Lock()
	if i.terminated {
		i.mu.Unlock()
		return nil, apprunerr.New(apprunerr.CodeCriticalChild, fmt.Errorf("worker %s already terminated", i.id))
	}
	i.pending[reqID] = replyCh
	i.inFlight++
	i.lastUsed = time.Now()
	i.idleSignaled = false
	i.mu.Unlock()

	start := time.Now()
	defer func() {
		i.mu.Lock()
		i.inFlight--
		i.lastUsed = time.Now()
		i.mu.Unlock()
	}()

	if err := i.enc.Encode(ipc.Frame{Type: ipc.FrameRequest, ReqID: reqID, Req: req}); err != nil {
		i.mu.Lock()
		delete(i.pending, reqID)
		i.mu.Unlock()
		return nil, apprunerr.New(apprunerr.CodeCriticalChild, fmt.Errorf("write request frame: %w", err))
	}

	timeout := time.Duration(i.cfg.TimeoutMs) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-replyCh:
		elapsed := time.Since(start)
		i.recordResult(elapsed, ok && frame.Type == ipc.FrameResponse)
		if !ok {
			return nil, apprunerr.New(apprunerr.CodeCriticalChild, fmt.Errorf("worker %s closed while request in flight", i.id))
		}
		if frame.Type == ipc.FrameError {
			return nil, apprunerr.New(apprunerr.CodeHandler, fmt.Errorf("%s", frame.Error))
		}
		return frame.Res, nil
	case <-timer.C:
		i.mu.Lock()
		delete(i.pending, reqID)
		i.mu.Unlock()
		i.recordResult(timeout, false)
		return nil, apprunerr.New(apprunerr.CodeTimeout, fmt.Errorf("worker %s timed out after %s", i.id, timeout))
	case <-ctx.Done():
		i.mu.Lock()
		delete(i.pending, reqID)
		i.mu.Unlock()
		return nil, apprunerr.New(apprunerr.CodeTimeout, ctx.Err())
	}
}

func (i *Instance) recordResult(elapsed time.Duration, success bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stats.RequestCount++
	i.stats.TotalDurationMs += elapsed.Milliseconds()
	if !success {
		i.stats.ErrorCount++
	}
}

// Status reports whether the instance has work in flight and whether it has
// crossed its idle threshold. The first call to observe an active-to-idle
// transition sends the child one IDLE control frame, latched by
// idleSignaled until the next Fetch resets it.
func (i *Instance) Status() Status {
	i.mu.Lock()
	idleFor := time.Since(i.lastUsed)
	idle := i.inFlight == 0 && idleFor >= time.Duration(i.cfg.IdleTimeoutMs)*time.Millisecond
	shouldSignal := idle && !i.idleSignaled
	if shouldSignal {
		i.idleSignaled = true
	}
	active := i.inFlight > 0
	i.mu.Unlock()

	if shouldSignal {
		if err := i.sendIdle(); err != nil {
			i.logger.Warn("failed to send idle frame", slog.Any("err", err))
		}
	}

	return Status{Active: active, Idle: idle}
}

// IsHealthy reports whether the instance may still serve requests: the
// child process must be alive with no fatal decode error, and none of its
// recycling limits (ttl, idle timeout, maxRequests) may have been crossed.
// A zero limit (ttlMs, maxRequests) is unbounded and never trips.
func (i *Instance) IsHealthy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.terminated {
		return false
	}
	select {
	case <-i.terminateCh:
		return false
	default:
	}

	now := time.Now()
	if i.cfg.TTLMs > 0 && now.Sub(i.createdAt) >= time.Duration(i.cfg.TTLMs)*time.Millisecond {
		return false
	}
	if i.inFlight == 0 && now.Sub(i.lastUsed) >= time.Duration(i.cfg.IdleTimeoutMs)*time.Millisecond {
		return false
	}
	if i.cfg.MaxRequests > 0 && i.stats.RequestCount >= int64(i.cfg.MaxRequests) {
		return false
	}
	return true
}

// GetStats returns a snapshot of this instance's cumulative counters, used
// by the pool to fold per-instance totals into historical metrics on
// retirement.
func (i *Instance) GetStats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}

// ID returns the instance's generated worker id.
func (i *Instance) ID() string { return i.id }

// sendIdle sends an IDLE control frame so the child can run any
// resource-release hook it registered.
func (i *Instance) sendIdle() error {
	return i.enc.Encode(ipc.Frame{Type: ipc.FrameIdle})
}

// Terminate sends a TERMINATE control frame, gives the child graceStop to
// exit on its own, and kills it if it hasn't.
func (i *Instance) Terminate(graceStop time.Duration) error {
	i.mu.Lock()
	if i.terminated {
		i.mu.Unlock()
		return nil
	}
	i.terminated = true
	i.mu.Unlock()

	_ = i.enc.Encode(ipc.Frame{Type: ipc.FrameTerminate})

	done := make(chan error, 1)
	go func() { done <- i.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(graceStop):
		if i.cmd.Process != nil {
			_ = i.cmd.Process.Kill()
		}
		<-done
		return nil
	}
}
