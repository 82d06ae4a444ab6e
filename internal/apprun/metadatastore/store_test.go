package metadatastore

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apprun.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInstalledAppUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	app := InstalledApp{Name: "demo", Entrypoint: "index.ts", ManifestJSON: `{"entrypoint":"index.ts"}`}
	if err := s.UpsertInstalledApp(ctx, app); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetInstalledApp(ctx, "demo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Entrypoint != "index.ts" {
		t.Fatalf("unexpected entrypoint: %s", got.Entrypoint)
	}

	app.Entrypoint = "index2.ts"
	if err := s.UpsertInstalledApp(ctx, app); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = s.GetInstalledApp(ctx, "demo")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Entrypoint != "index2.ts" {
		t.Fatalf("expected updated entrypoint, got %s", got.Entrypoint)
	}
}

func TestGetInstalledAppNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetInstalledApp(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyCreateVerifyRevoke(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	plaintext, key, err := s.CreateAPIKey(ctx, "ci-bot")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if plaintext == "" || key.ID == "" {
		t.Fatalf("expected plaintext and id to be populated")
	}

	verified, err := s.VerifyAPIKey(ctx, plaintext)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.ID != key.ID {
		t.Fatalf("id mismatch: got %s want %s", verified.ID, key.ID)
	}
	if verified.LastUsedAt == nil {
		t.Fatalf("expected last_used_at to be set after verify")
	}

	if _, err := s.VerifyAPIKey(ctx, "not-the-right-secret"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for wrong secret, got %v", err)
	}

	if err := s.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.VerifyAPIKey(ctx, plaintext); err != ErrNotFound {
		t.Fatalf("expected revoked key to fail verification, got %v", err)
	}
}

func TestRecordAuditDoesNotError(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordAudit(context.Background(), "admin", "install", "demo app installed"); err != nil {
		t.Fatalf("record audit: %v", err)
	}
}
