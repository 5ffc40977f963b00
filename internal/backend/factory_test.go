package backend

import (
	"context"
	"path/filepath"
	"testing"

	"ainopay/internal/config"
	"ainopay/internal/log"
)

func TestCreateBackend(t *testing.T) {
	f := NewFactory(log.Discard())
	ctx := context.Background()

	mem, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if err := mem.Store.Ping(ctx); err != nil {
		t.Fatal(err)
	}

	sql, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "a.db")})
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	defer sql.Cleanup()
	cats, err := sql.Store.ListCategories(ctx)
	if err != nil || len(cats) == 0 {
		t.Fatalf("expected seeded categories, got %d (%v)", len(cats), err)
	}

	if _, err := f.CreateBackend(ctx, Config{Type: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend}); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db"})
	if err != nil || cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "x.db" {
		t.Fatalf("unexpected %+v (%v)", cfg, err)
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "postgres"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
