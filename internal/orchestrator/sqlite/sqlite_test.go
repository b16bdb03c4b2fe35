package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loreweave/loreweave-engine/internal/orchestrator"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRecordAndListTransitions(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	started := base.Add(time.Second)
	finished := base.Add(3 * time.Second)

	first := orchestrator.Job{
		ID:         "job-1",
		ParentID:   "novel-1",
		AccountID:  "acct-1",
		ModuleKey:  "outline",
		Model:      "quill-large",
		Status:     orchestrator.StatusFailed,
		Attempts:   0,
		EnqueuedAt: base,
		StartedAt:  &started,
		FinishedAt: &finished,
		LastError:  "upstream generation error: boom",
	}
	if err := a.RecordTransition(ctx, first); err != nil {
		t.Fatalf("record first: %v", err)
	}

	// Same job id again after a retry; both rows must survive.
	retried := first
	retried.Status = orchestrator.StatusSucceeded
	retried.Attempts = 1
	retried.LastError = ""
	if err := a.RecordTransition(ctx, retried); err != nil {
		t.Fatalf("record retried: %v", err)
	}
	if err := a.RecordTransition(ctx, orchestrator.Job{
		ID:         "job-2",
		ParentID:   "novel-2",
		AccountID:  "acct-1",
		ModuleKey:  "characters",
		Status:     orchestrator.StatusCancelled,
		EnqueuedAt: base,
	}); err != nil {
		t.Fatalf("record other parent: %v", err)
	}

	jobs, err := a.ListParent(ctx, "novel-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 transitions for novel-1, got %d", len(jobs))
	}
	if jobs[0].Status != orchestrator.StatusSucceeded || jobs[0].Attempts != 1 {
		t.Fatalf("expected newest-first with the retried row on top, got %+v", jobs[0])
	}
	if jobs[1].Status != orchestrator.StatusFailed || jobs[1].LastError == "" {
		t.Fatalf("expected the failed attempt preserved, got %+v", jobs[1])
	}
	if jobs[1].StartedAt == nil || !jobs[1].StartedAt.Equal(started) {
		t.Fatalf("expected started_at round-trip, got %v", jobs[1].StartedAt)
	}
}

func TestListParentUnknownIsEmpty(t *testing.T) {
	a := newTestArchive(t)
	jobs, err := a.ListParent(context.Background(), "novel-9", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no rows, got %d", len(jobs))
	}
}

func TestRecordRequiresJobID(t *testing.T) {
	a := newTestArchive(t)
	if err := a.RecordTransition(context.Background(), orchestrator.Job{ParentID: "novel-1"}); err == nil {
		t.Fatal("expected error for missing job id")
	}
}
