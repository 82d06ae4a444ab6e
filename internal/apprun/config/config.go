// Package config loads a per-app manifest into a normalized WorkerConfig:
// durations in milliseconds, sizes in bytes, relationships validated.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// WorkerConfig is the immutable, normalized configuration for one app's
// worker pool entry. All durations are milliseconds, all sizes are bytes.
type WorkerConfig struct {
	AutoInstall      bool
	Entrypoint       string
	Env              map[string]string
	TimeoutMs        int64
	TTLMs            int64
	IdleTimeoutMs    int64
	MaxRequests      int
	MaxBodySizeBytes int64
	LowMemory        bool
	MaxInstances     int // 0 = unbounded, only the pool's global cap applies
	PublicRoutes     any
}

// Ephemeral reports whether workers for this config are one-shot (ttlMs == 0).
func (c WorkerConfig) Ephemeral() bool { return c.TTLMs == 0 }

// Manifest is the raw decoded shape of an app's manifest file (or the
// provisioner section of its package manifest), before normalization.
type Manifest struct {
	AutoInstall  bool              `json:"autoInstall"`
	Entrypoint   string            `json:"entrypoint"`
	Env          map[string]string `json:"env"`
	Timeout      any               `json:"timeout"`
	TTL          any               `json:"ttl"`
	IdleTimeout  any               `json:"idleTimeout"`
	MaxRequests  *int              `json:"maxRequests"`
	MaxBodySize  any               `json:"maxBodySize"`
	LowMemory    bool              `json:"lowMemory"`
	MaxInstances *int              `json:"maxInstances"`
	PublicRoutes any               `json:"publicRoutes"`
}

// Options bounds what a loaded manifest may request, enforced regardless
// of what the manifest itself declares.
type Options struct {
	// MaxBodySizeCeilingBytes caps WorkerConfig.MaxBodySizeBytes; a manifest
	// requesting more is clamped to this ceiling with a logged warning.
	MaxBodySizeCeilingBytes int64
	// EnvExpand substitutes ${VAR} references in manifest env values. When
	// nil, os.Getenv is used.
	EnvExpand func(string) string
	Logger    *slog.Logger
}

// Load normalizes a decoded Manifest into a WorkerConfig, applying the
// runtime ceiling and the following invariants:
//   - timeout > 0, ttl >= 0, idleTimeout > 0 are required (fatal otherwise)
//   - ttl > 0 && ttl < timeout is fatal
//   - ttl > 0 && idleTimeout < timeout is fatal
//   - idleTimeout > ttl (when ttl > 0) is clamped to ttl, with a warning
func Load(m Manifest, opts Options) (WorkerConfig, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expand := opts.EnvExpand
	if expand == nil {
		expand = os.Getenv
	}

	timeoutMs, err := parseDurationMs(m.Timeout, "timeout")
	if err != nil {
		return WorkerConfig{}, err
	}
	if timeoutMs <= 0 {
		return WorkerConfig{}, fmt.Errorf("config: timeout must be > 0, got %dms", timeoutMs)
	}

	ttlMs, err := parseDurationMs(m.TTL, "ttl")
	if err != nil {
		return WorkerConfig{}, err
	}
	if ttlMs < 0 {
		return WorkerConfig{}, fmt.Errorf("config: ttl must be >= 0, got %dms", ttlMs)
	}
	if ttlMs > 0 && ttlMs < timeoutMs {
		return WorkerConfig{}, fmt.Errorf("config: ttl (%dms) must be >= timeout (%dms)", ttlMs, timeoutMs)
	}

	idleMs, err := parseDurationMs(m.IdleTimeout, "idleTimeout")
	if err != nil {
		return WorkerConfig{}, err
	}
	if idleMs <= 0 {
		return WorkerConfig{}, fmt.Errorf("config: idleTimeout must be > 0, got %dms", idleMs)
	}
	if ttlMs > 0 && idleMs < timeoutMs {
		return WorkerConfig{}, fmt.Errorf("config: idleTimeout (%dms) must be >= timeout (%dms) for persistent workers", idleMs, timeoutMs)
	}
	if ttlMs > 0 && idleMs > ttlMs {
		logger.Warn("idleTimeout exceeds ttl; clamping",
			slog.Int64("idle_timeout_ms", idleMs),
			slog.Int64("ttl_ms", ttlMs))
		idleMs = ttlMs
	}

	maxBodyBytes, err := parseSizeBytes(m.MaxBodySize, "maxBodySize")
	if err != nil {
		return WorkerConfig{}, err
	}
	if maxBodyBytes <= 0 {
		return WorkerConfig{}, fmt.Errorf("config: maxBodySize must be > 0")
	}
	if opts.MaxBodySizeCeilingBytes > 0 && maxBodyBytes > opts.MaxBodySizeCeilingBytes {
		logger.Warn("maxBodySize exceeds runtime ceiling; clamping",
			slog.Int64("requested_bytes", maxBodyBytes),
			slog.Int64("ceiling_bytes", opts.MaxBodySizeCeilingBytes))
		maxBodyBytes = opts.MaxBodySizeCeilingBytes
	}

	maxRequests := 0
	if m.MaxRequests != nil {
		if *m.MaxRequests < 0 {
			return WorkerConfig{}, fmt.Errorf("config: maxRequests must be >= 0")
		}
		maxRequests = *m.MaxRequests
	}

	maxInstances := 0
	if m.MaxInstances != nil {
		if *m.MaxInstances < 0 {
			return WorkerConfig{}, fmt.Errorf("config: maxInstances must be >= 0")
		}
		maxInstances = *m.MaxInstances
	}

	env := make(map[string]string, len(m.Env))
	for k, v := range m.Env {
		env[k] = expandVars(v, expand)
	}

	entrypoint := strings.TrimSpace(m.Entrypoint)
	if entrypoint == "" {
		return WorkerConfig{}, fmt.Errorf("config: entrypoint is required")
	}

	return WorkerConfig{
		AutoInstall:      m.AutoInstall,
		Entrypoint:       entrypoint,
		Env:              env,
		TimeoutMs:        timeoutMs,
		TTLMs:            ttlMs,
		IdleTimeoutMs:    idleMs,
		MaxRequests:      maxRequests,
		MaxBodySizeBytes: maxBodyBytes,
		LowMemory:        m.LowMemory,
		MaxInstances:     maxInstances,
		PublicRoutes:     m.PublicRoutes,
	}, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandVars(v string, lookup func(string) string) string {
	return envVarPattern.ReplaceAllStringFunc(v, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return lookup(name)
	})
}

// parseDurationMs accepts a numeric seconds value or a string like "30s",
// "1m", "1h" and returns milliseconds.
func parseDurationMs(v any, field string) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(t * 1000), nil
	case int:
		return int64(t) * 1000, nil
	case int64:
		return t * 1000, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(n * 1000), nil
		}
		unit := s[len(s)-1]
		numPart := s[:len(s)-1]
		n, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			return 0, fmt.Errorf("config: invalid %s duration %q", field, s)
		}
		switch unit {
		case 's':
			return int64(n * 1000), nil
		case 'm':
			return int64(n * 60 * 1000), nil
		case 'h':
			return int64(n * 3600 * 1000), nil
		default:
			return 0, fmt.Errorf("config: invalid %s duration unit in %q", field, s)
		}
	default:
		return 0, fmt.Errorf("config: invalid %s duration value %v", field, v)
	}
}

var sizeSuffixes = map[string]int64{
	"b":  1,
	"kb": 1 << 10,
	"mb": 1 << 20,
	"gb": 1 << 30,
}

// parseSizeBytes accepts a numeric byte count or a string like "10mb",
// "512kb", "1gb".
func parseSizeBytes(v any, field string) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		if s == "" {
			return 0, nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(n), nil
		}
		for _, suffixLen := range []int{2, 1} {
			if len(s) <= suffixLen {
				continue
			}
			suffix := s[len(s)-suffixLen:]
			mult, ok := sizeSuffixes[suffix]
			if !ok {
				continue
			}
			n, err := strconv.ParseFloat(s[:len(s)-suffixLen], 64)
			if err != nil {
				continue
			}
			return int64(n * float64(mult)), nil
		}
		return 0, fmt.Errorf("config: invalid %s size %q", field, s)
	default:
		return 0, fmt.Errorf("config: invalid %s size value %v", field, v)
	}
}
