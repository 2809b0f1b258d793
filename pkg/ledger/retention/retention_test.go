package retention

import (
	"context"
	"testing"
	"time"

	"mercator-hq/turnpike/pkg/ledger/storage"
)

func TestPruner_DeletesOnlyOldSettled(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	now := time.Date(2026, 6, 1, 4, 0, 0, 0, time.UTC)

	save := func(id string, status storage.Status, age time.Duration) {
		ts := now.Add(-age)
		if err := backend.Save(ctx, &storage.BatchRecord{
			ID: id, Status: status, CreatedAt: ts, UpdatedAt: ts,
		}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	save("a", storage.StatusSettled, 40*24*time.Hour)
	save("b", storage.StatusSettled, 10*24*time.Hour)
	save("c", storage.StatusFailed, 40*24*time.Hour)

	p := NewPruner(backend, &Config{RetentionDays: 30})
	p.now = func() time.Time { return now }

	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	if backend.Size() != 2 {
		t.Errorf("expected 2 records left, got %d", backend.Size())
	}
}

func TestPruner_Disabled(t *testing.T) {
	backend := storage.NewMemoryBackend()
	_ = backend.Save(context.Background(), &storage.BatchRecord{
		ID: "x", Status: storage.StatusSettled, UpdatedAt: time.Unix(0, 0),
	})

	p := NewPruner(backend, &Config{RetentionDays: 0})
	deleted, err := p.Prune(context.Background())
	if err != nil || deleted != 0 {
		t.Errorf("expected no pruning when disabled, got %d %v", deleted, err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(NewPruner(storage.NewMemoryBackend(), &Config{
		RetentionDays: 30,
		Schedule:      "0 4 * * *",
	}))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("expected scheduler to be running")
	}
	if next := s.NextRun(); next == nil || next.Hour() != 4 {
		t.Errorf("expected next run at 04:00, got %v", next)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("expected scheduler to be stopped")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(NewPruner(storage.NewMemoryBackend(), &Config{Schedule: "not cron"}))
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestScheduler_EmptySchedule(t *testing.T) {
	s := NewScheduler(NewPruner(storage.NewMemoryBackend(), &Config{}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.IsRunning() {
		t.Error("expected scheduler not to run without a schedule")
	}
}
