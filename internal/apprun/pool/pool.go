// Package pool implements the Worker Pool: a bounded, keyed cache of live
// Worker Instances with LRU eviction, in-flight-construction dedup, and a
// background sweep that retires idle or unhealthy entries.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"apprun/internal/apprun/config"
	"apprun/internal/apprun/instance"
	"apprun/internal/apprun/ipc"
	"apprun/internal/apprun/metrics"
	"apprun/internal/apprunerr"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultGraceStop = 5 * time.Second

type entry struct {
	inst       *instance.Instance
	appDir     string
	entrypoint string
	cfg        config.WorkerConfig
}

// Pool is a global, keyed cache of Worker Instances. The cache's capacity is
// a single ceiling shared across all apps; config.WorkerConfig.MaxInstances
// is an optional additional per-app ceiling Fetch enforces before
// construct is reached (a best-effort check, not a hard atomic guarantee:
// concurrent Fetch calls racing to construct distinct keys for the same app
// can both pass it before either finishes, the same tradeoff the in-flight
// dedup map already makes).
type Pool struct {
	cache     *lru.Cache[string, *entry]
	metrics   *metrics.Metrics
	binary    string
	logger    *slog.Logger
	graceStop time.Duration

	inflightMu sync.Mutex
	inflight   map[string]chan struct{}

	// staleMu/staleKeys let onEvicted tell a programmatic removal (a
	// lookup that found a stale/unhealthy entry) apart from a genuine
	// capacity-pressure eviction, since the LRU cache invokes the same
	// onEvict callback for both.
	staleMu   sync.Mutex
	staleKeys map[string]bool
}

// New builds a Pool capped at capacity live instances, spawning children via
// workerBinary (the path to the built apprun-worker executable).
func New(capacity int, workerBinary string, m *metrics.Metrics, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		metrics:   m,
		binary:    workerBinary,
		logger:    logger,
		graceStop: defaultGraceStop,
		inflight:  make(map[string]chan struct{}),
		staleKeys: make(map[string]bool),
	}
	cache, err := lru.NewWithEvict[string, *entry](capacity, p.onEvicted)
	if err != nil {
		return nil, fmt.Errorf("pool: new lru cache: %w", err)
	}
	p.cache = cache
	return p, nil
}

// onEvicted runs synchronously from inside the LRU cache whenever an entry
// leaves it, whether by genuine capacity-pressure eviction or by a
// programmatic removeStale call. It must never touch the cache itself.
func (p *Pool) onEvicted(key string, e *entry) {
	p.staleMu.Lock()
	stale := p.staleKeys[key]
	delete(p.staleKeys, key)
	p.staleMu.Unlock()

	if !stale {
		p.metrics.RecordEviction()
	}
	p.retire(key, e)
}

// removeStale removes a cache entry found stale or unhealthy on lookup
// (not under capacity pressure), so onEvicted records it as a retirement
// rather than double-counting it as an LRU eviction.
func (p *Pool) removeStale(key string) {
	p.staleMu.Lock()
	p.staleKeys[key] = true
	p.staleMu.Unlock()

	p.cache.Remove(key)

	p.staleMu.Lock()
	delete(p.staleKeys, key)
	p.staleMu.Unlock()
}

func (p *Pool) retire(key string, e *entry) {
	stats := e.inst.GetStats()
	p.metrics.AccumulateWorkerStats(key, metrics.WorkerStats{
		RequestCount:        stats.RequestCount,
		ErrorCount:          stats.ErrorCount,
		TotalResponseTimeMs: stats.TotalDurationMs,
	})
	p.metrics.RecordRetired()
	go func() {
		if err := e.inst.Terminate(p.graceStop); err != nil {
			p.logger.Warn("error terminating retired worker", slog.String("worker_id", e.inst.ID()), slog.Any("err", err))
		}
	}()
}

// Fetch dispatches req to the instance cached under (appDir, entrypoint,
// cfg), constructing one on first use. An ephemeral config (cfg.Ephemeral())
// bypasses the cache entirely: a fresh instance is spawned per request and
// torn down immediately after.
func (p *Pool) Fetch(ctx context.Context, appDir, entrypoint string, cfg config.WorkerConfig, req *ipc.RequestPayload) (*ipc.ResponsePayload, error) {
	if cfg.Ephemeral() {
		return p.fetchEphemeral(ctx, appDir, entrypoint, cfg, req)
	}

	key := fingerprint(appDir, entrypoint, cfg)

	for {
		if e, ok := p.cache.Get(key); ok {
			if e.inst.IsHealthy() {
				p.metrics.RecordHit()
				return e.inst.Fetch(ctx, req)
			}
			p.removeStale(key)
		}

		if cfg.MaxInstances > 0 && p.countByAppDir(appDir) >= cfg.MaxInstances {
			return nil, apprunerr.New(apprunerr.CodeCapacity, fmt.Errorf(
				"app %s already has %d live instance(s), at its configured maxInstances limit", appDir, cfg.MaxInstances))
		}

		p.inflightMu.Lock()
		if ch, building := p.inflight[key]; building {
			p.inflightMu.Unlock()
			select {
			case <-ch:
				continue // whoever was building finished (or failed); re-check the cache
			case <-ctx.Done():
				return nil, apprunerr.New(apprunerr.CodeTimeout, ctx.Err())
			}
		}
		ch := make(chan struct{})
		p.inflight[key] = ch
		p.inflightMu.Unlock()

		inst, err := p.construct(ctx, appDir, entrypoint, cfg)

		p.inflightMu.Lock()
		delete(p.inflight, key)
		close(ch)
		p.inflightMu.Unlock()

		if err != nil {
			p.metrics.RecordFailed()
			return nil, err
		}

		p.cache.Add(key, &entry{inst: inst, appDir: appDir, entrypoint: entrypoint, cfg: cfg})
		p.metrics.RecordCreated()
		p.metrics.RecordMiss()

		return inst.Fetch(ctx, req)
	}
}

// countByAppDir reports how many live cache entries belong to appDir, used
// to enforce a per-app WorkerConfig.MaxInstances ceiling layered on top of
// the pool's global capacity.
func (p *Pool) countByAppDir(appDir string) int {
	n := 0
	for _, key := range p.cache.Keys() {
		if e, ok := p.cache.Peek(key); ok && e.appDir == appDir {
			n++
		}
	}
	return n
}

func (p *Pool) construct(ctx context.Context, appDir, entrypoint string, cfg config.WorkerConfig) (*instance.Instance, error) {
	basePath := "/apps/" + filepath.Base(appDir) + "/"
	// The child outlives the request that triggered its construction, so its
	// process must not be tied to that request's cancellation.
	inst, err := instance.Spawn(context.WithoutCancel(ctx), appDir, entrypoint, basePath, cfg, p.binary, p.logger)
	if err != nil {
		return nil, err
	}
	if err := inst.WaitReady(ctx); err != nil {
		_ = inst.Terminate(p.graceStop)
		return nil, err
	}
	return inst, nil
}

func (p *Pool) fetchEphemeral(ctx context.Context, appDir, entrypoint string, cfg config.WorkerConfig, req *ipc.RequestPayload) (*ipc.ResponsePayload, error) {
	key := fingerprint(appDir, entrypoint, cfg)

	inst, err := p.construct(ctx, appDir, entrypoint, cfg)
	if err != nil {
		p.metrics.RecordFailed()
		return nil, err
	}
	p.metrics.RecordCreated()
	defer func() {
		p.metrics.RecordRetired()
		go func() { _ = inst.Terminate(p.graceStop) }()
	}()

	start := time.Now()
	resp, err := inst.Fetch(ctx, req)
	elapsed := time.Since(start).Milliseconds()

	isDoc, isAPI := classifyRequest(req)
	p.metrics.RecordEphemeralWorker(key, elapsed, isDoc, isAPI)

	return resp, err
}

// classifyRequest distinguishes a top-level document navigation (Accept
// asks for text/html) from an API call (path under /api/), the two request
// shapes that reset an ephemeral key's session window in Metrics.
func classifyRequest(req *ipc.RequestPayload) (isDocumentRequest, isAPIRequest bool) {
	accept := headerValue(req.Headers, "accept")
	isDocumentRequest = strings.Contains(accept, "text/html")
	isAPIRequest = strings.HasPrefix(req.URL, "/api/")
	return
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// RunMaintenance sweeps the cache on interval until ctx is canceled,
// retiring any entry whose instance is unhealthy or has crossed its idle
// threshold. Intended to run as its own goroutine for the pool's lifetime.
func (p *Pool) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	for _, key := range p.cache.Keys() {
		e, ok := p.cache.Peek(key)
		if !ok {
			continue
		}
		e.inst.Status() // may send the latched IDLE frame on first idle observation
		if !e.inst.IsHealthy() {
			p.removeStale(key)
		}
	}
}

// Len reports the number of live, cached instances (for GetStats's
// activeWorkers argument).
func (p *Pool) Len() int {
	return p.cache.Len()
}
