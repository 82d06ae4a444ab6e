// Package metrics implements the Worker Pool's counters: a thread-safe
// struct matching the pool's exact read contract, with a Prometheus mirror
// registered alongside it for operators who want the usual /metrics scrape.
package metrics

import (
	"runtime"
	"sync"
	"time"
)

const responseTimeBufferSize = 100

// WorkerStats accumulates counts for one pool key, either a live instance's
// running totals or a retired instance's final totals folded into history.
type WorkerStats struct {
	RequestCount        int64
	ErrorCount          int64
	TotalResponseTimeMs int64
}

// AvgResponseTimeMs returns the mean response time, rounded to two decimal
// places, or 0 if no requests have been recorded.
func (s WorkerStats) AvgResponseTimeMs() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return round2(float64(s.TotalResponseTimeMs) / float64(s.RequestCount))
}

// EphemeralStats tracks a one-shot-worker key across two scopes: the
// current session (reset whenever a document or API request starts a new
// session) and the lifetime cumulative total.
type EphemeralStats struct {
	Session    WorkerStats
	Cumulative WorkerStats
}

// Snapshot is the point-in-time, read-only view returned by GetStats.
type Snapshot struct {
	Created         int64
	Retired         int64
	Failed          int64
	Evictions       int64
	Hits            int64
	Misses          int64
	TotalRequests   int64
	AvgResponseMs   float64
	RequestsPerSec  float64
	UptimeSeconds   float64
	MemoryUsageMB   float64
	ActiveWorkers   int
	Historical      map[string]WorkerStats
	Ephemeral       map[string]EphemeralStats
}

// Metrics is the Worker Pool's counters: created/retired/failed/evictions,
// hit/miss, a 100-slot circular buffer of response times, and per-key
// historical/ephemeral accumulation. All write operations are O(1); every
// operation is safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	created   int64
	retired   int64
	failed    int64
	evictions int64
	hits      int64
	misses    int64

	requestCount int64
	rtBuffer     [responseTimeBufferSize]int64
	rtRecorded   int64 // total ever recorded; min(rtRecorded, size) slots are valid
	rtSum        int64 // sum of the currently valid slots only

	historical map[string]WorkerStats
	ephemeral  map[string]*EphemeralStats

	startedAt time.Time

	prom *promMirror
}

// New constructs a Metrics with its clock reset to now. No Prometheus mirror
// is wired until EnablePrometheus is called.
func New() *Metrics {
	m := &Metrics{
		historical: make(map[string]WorkerStats),
		ephemeral:  make(map[string]*EphemeralStats),
	}
	m.Reset()
	return m
}

// Reset clears all counters and restarts the uptime clock. Used by tests
// and by an operator-triggered metrics reset.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = 0
	m.retired = 0
	m.failed = 0
	m.evictions = 0
	m.hits = 0
	m.misses = 0
	m.requestCount = 0
	m.rtBuffer = [responseTimeBufferSize]int64{}
	m.rtRecorded = 0
	m.rtSum = 0
	m.historical = make(map[string]WorkerStats)
	m.ephemeral = make(map[string]*EphemeralStats)
	m.startedAt = time.Now()
}

// EnablePrometheus wires a Prometheus registry mirroring this Metrics'
// counters. Call once at startup; Handler() then serves it.
func (m *Metrics) EnablePrometheus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prom = newPromMirror()
}

func (m *Metrics) RecordCreated() {
	m.mu.Lock()
	m.created++
	if m.prom != nil {
		m.prom.created.Inc()
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordRetired() {
	m.mu.Lock()
	m.retired++
	if m.prom != nil {
		m.prom.retired.Inc()
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordFailed() {
	m.mu.Lock()
	m.failed++
	if m.prom != nil {
		m.prom.failed.Inc()
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordEviction() {
	m.mu.Lock()
	m.evictions++
	if m.prom != nil {
		m.prom.evictions.Inc()
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordHit() {
	m.mu.Lock()
	m.hits++
	if m.prom != nil {
		m.prom.hits.Inc()
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordMiss() {
	m.mu.Lock()
	m.misses++
	if m.prom != nil {
		m.prom.misses.Inc()
	}
	m.mu.Unlock()
}

// RecordRequest records one completed request's duration in the circular
// response-time buffer.
func (m *Metrics) RecordRequest(durationMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount++

	slot := m.rtRecorded % responseTimeBufferSize
	if m.rtRecorded >= responseTimeBufferSize {
		m.rtSum -= m.rtBuffer[slot]
	}
	m.rtBuffer[slot] = durationMs
	m.rtSum += durationMs
	m.rtRecorded++

	if m.prom != nil {
		m.prom.requestDuration.Observe(float64(durationMs) / 1000)
	}
}

// RecordEphemeralWorker folds one ephemeral (one-shot) worker's request
// into key's session and cumulative stats. The session view resets whenever
// isDocumentRequest or isApiRequest is true, modeling a fresh browsing
// session starting a new measurement window while the cumulative view keeps
// growing across the key's whole lifetime.
func (m *Metrics) RecordEphemeralWorker(key string, durationMs int64, isDocumentRequest, isApiRequest bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.ephemeral[key]
	if !ok {
		e = &EphemeralStats{}
		m.ephemeral[key] = e
	}
	if isDocumentRequest || isApiRequest {
		e.Session = WorkerStats{}
	}
	e.Session.RequestCount++
	e.Session.TotalResponseTimeMs += durationMs
	e.Cumulative.RequestCount++
	e.Cumulative.TotalResponseTimeMs += durationMs
}

// AccumulateWorkerStats merges a retiring instance's final totals into
// key's historical entry.
func (m *Metrics) AccumulateWorkerStats(key string, stats WorkerStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.historical[key]
	h.RequestCount += stats.RequestCount
	h.ErrorCount += stats.ErrorCount
	h.TotalResponseTimeMs += stats.TotalResponseTimeMs
	m.historical[key] = h
}

// GetStats composes a read-only snapshot, including pool uptime since the
// last Reset and the caller-supplied count of currently live workers (the
// pool, not Metrics, owns instance lifetimes).
func (m *Metrics) GetStats(activeWorkers int) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	uptime := time.Since(m.startedAt)
	recorded := m.rtRecorded
	if recorded > responseTimeBufferSize {
		recorded = responseTimeBufferSize
	}
	var avg float64
	if recorded > 0 {
		avg = round2(float64(m.rtSum) / float64(recorded))
	}

	var rps float64
	if secs := uptime.Seconds(); secs > 0 {
		rps = round2(float64(m.requestCount) / secs)
	}

	historical := make(map[string]WorkerStats, len(m.historical))
	for k, v := range m.historical {
		historical[k] = v
	}
	ephemeral := make(map[string]EphemeralStats, len(m.ephemeral))
	for k, v := range m.ephemeral {
		ephemeral[k] = *v
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		Created:        m.created,
		Retired:        m.retired,
		Failed:         m.failed,
		Evictions:      m.evictions,
		Hits:           m.hits,
		Misses:         m.misses,
		TotalRequests:  m.requestCount,
		AvgResponseMs:  avg,
		RequestsPerSec: rps,
		UptimeSeconds:  round2(uptime.Seconds()),
		MemoryUsageMB:  round2(float64(memStats.Alloc) / (1 << 20)),
		ActiveWorkers:  activeWorkers,
		Historical:     historical,
		Ephemeral:      ephemeral,
	}
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
