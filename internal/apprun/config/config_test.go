package config

import "testing"

func TestLoadNormalizesDurationsAndSizes(t *testing.T) {
	m := Manifest{
		Entrypoint:  "index.ts",
		Timeout:     "30s",
		TTL:         "10m",
		IdleTimeout: "2m",
		MaxBodySize: "10mb",
	}
	cfg, err := Load(m, Options{MaxBodySizeCeilingBytes: 50 << 20})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TimeoutMs != 30_000 {
		t.Fatalf("timeout: got %d want 30000", cfg.TimeoutMs)
	}
	if cfg.TTLMs != 600_000 {
		t.Fatalf("ttl: got %d want 600000", cfg.TTLMs)
	}
	if cfg.IdleTimeoutMs != 120_000 {
		t.Fatalf("idle: got %d want 120000", cfg.IdleTimeoutMs)
	}
	if cfg.MaxBodySizeBytes != 10<<20 {
		t.Fatalf("max body: got %d want %d", cfg.MaxBodySizeBytes, 10<<20)
	}
}

func TestLoadRejectsTTLBelowTimeout(t *testing.T) {
	m := Manifest{
		Entrypoint:  "index.ts",
		Timeout:     "30s",
		TTL:         "5s",
		IdleTimeout: "10s",
		MaxBodySize: "1mb",
	}
	if _, err := Load(m, Options{}); err == nil {
		t.Fatalf("expected error for ttl < timeout")
	}
}

func TestLoadClampsIdleTimeoutAboveTTL(t *testing.T) {
	m := Manifest{
		Entrypoint:  "index.ts",
		Timeout:     "1s",
		TTL:         "10s",
		IdleTimeout: "20s",
		MaxBodySize: "1mb",
	}
	cfg, err := Load(m, Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IdleTimeoutMs != 10_000 {
		t.Fatalf("expected idleTimeout clamped to ttl (10000ms), got %d", cfg.IdleTimeoutMs)
	}
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	m := Manifest{Entrypoint: "index.ts", Timeout: "0s", IdleTimeout: "1s", MaxBodySize: "1mb"}
	if _, err := Load(m, Options{}); err == nil {
		t.Fatalf("expected error for timeout <= 0")
	}
}

func TestLoadClampsMaxBodySizeToRuntimeCeiling(t *testing.T) {
	m := Manifest{
		Entrypoint:  "index.ts",
		Timeout:     "1s",
		IdleTimeout: "1s",
		MaxBodySize: "100mb",
	}
	cfg, err := Load(m, Options{MaxBodySizeCeilingBytes: 10 << 20})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxBodySizeBytes != 10<<20 {
		t.Fatalf("expected ceiling clamp to %d, got %d", 10<<20, cfg.MaxBodySizeBytes)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	m := Manifest{
		Entrypoint:  "index.ts",
		Timeout:     "1s",
		IdleTimeout: "1s",
		MaxBodySize: "1mb",
		Env:         map[string]string{"URL": "https://${HOST}/api"},
	}
	cfg, err := Load(m, Options{EnvExpand: func(name string) string {
		if name == "HOST" {
			return "example.test"
		}
		return ""
	}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env["URL"] != "https://example.test/api" {
		t.Fatalf("env expansion: got %q", cfg.Env["URL"])
	}
}

func TestEphemeralWhenTTLZero(t *testing.T) {
	m := Manifest{Entrypoint: "index.ts", Timeout: "1s", IdleTimeout: "1s", MaxBodySize: "1mb"}
	cfg, err := Load(m, Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Ephemeral() {
		t.Fatalf("expected ephemeral config when ttl is absent (0)")
	}
}
