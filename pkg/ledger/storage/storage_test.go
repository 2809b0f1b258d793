package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:             filepath.Join(t.TempDir(), "nested", "batches.db"),
		CheckpointInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func record(id string, status Status, created time.Time) *BatchRecord {
	return &BatchRecord{
		ID:        id,
		Nonce:     "0x01",
		Secrets:   []string{"0xaa", "0xbb"},
		Total:     "131072",
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestBackend_SaveLoadUpdate(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec := record("b1", StatusPending, time.Time{})
			if err := b.Save(ctx, rec); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := b.Load(ctx, "b1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Status != StatusPending || loaded.Total != "131072" || len(loaded.Secrets) != 2 {
				t.Errorf("unexpected record %+v", loaded)
			}
			if loaded.CreatedAt.IsZero() {
				t.Error("expected CreatedAt to be set on save")
			}

			loaded.Status = StatusSettled
			loaded.TxHash = "0xdead"
			loaded.Attempts = 2
			loaded.UpdatedAt = time.Now()
			if err := b.Save(ctx, loaded); err != nil {
				t.Fatalf("update failed: %v", err)
			}

			again, err := b.Load(ctx, "b1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if again.Status != StatusSettled || again.TxHash != "0xdead" || again.Attempts != 2 {
				t.Errorf("update not persisted: %+v", again)
			}
		})
	}
}

func TestBackend_LoadMissing(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestBackend_ListFilterAndOrder(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			_ = b.Save(ctx, record("old", StatusFailed, base))
			_ = b.Save(ctx, record("mid", StatusSettled, base.Add(time.Minute)))
			_ = b.Save(ctx, record("new", StatusFailed, base.Add(2*time.Minute)))

			all, err := b.List(ctx, Filter{})
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(all) != 3 || all[0].ID != "new" || all[2].ID != "old" {
				t.Errorf("expected newest first, got %v", ids(all))
			}

			failed, _ := b.List(ctx, Filter{Status: StatusFailed})
			if len(failed) != 2 {
				t.Errorf("expected 2 failed records, got %v", ids(failed))
			}

			limited, _ := b.List(ctx, Filter{Limit: 1})
			if len(limited) != 1 || limited[0].ID != "new" {
				t.Errorf("expected only the newest record, got %v", ids(limited))
			}
		})
	}
}

func TestBackend_CleanupKeepsUnsettled(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().Add(-48 * time.Hour)

			_ = b.Save(ctx, record("settled-old", StatusSettled, old))
			_ = b.Save(ctx, record("failed-old", StatusFailed, old))
			_ = b.Save(ctx, record("settled-new", StatusSettled, time.Now()))

			deleted, err := b.Cleanup(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("Cleanup failed: %v", err)
			}
			if deleted != 1 {
				t.Errorf("expected 1 deleted, got %d", deleted)
			}
			if _, err := b.Load(ctx, "failed-old"); err != nil {
				t.Errorf("failed records must survive cleanup: %v", err)
			}
			if _, err := b.Load(ctx, "settled-old"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected settled-old to be pruned, got %v", err)
			}
		})
	}
}

func TestBackend_Delete(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = b.Save(ctx, record("gone", StatusPending, time.Time{}))

			if err := b.Delete(ctx, "gone"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := b.Delete(ctx, "gone"); err != nil {
				t.Errorf("deleting a missing record should not fail: %v", err)
			}
			if _, err := b.Load(ctx, "gone"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	b, err := Open("", "")
	if err != nil {
		t.Fatalf("Open default failed: %v", err)
	}
	if _, ok := b.(*MemoryBackend); !ok {
		t.Errorf("expected memory backend by default, got %T", b)
	}

	if _, err := Open("postgres", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func ids(recs []*BatchRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
