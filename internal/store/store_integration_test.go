//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/botprobe/internal/batch"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func testRun(results ...batch.Result) *batch.Run {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &batch.Run{
		ID:         uuid.New(),
		Mode:       batch.ModeBatched,
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
		Total:      3,
		Results:    results,
	}
}

func TestIntegration_SaveAndResumeRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	run := testRun(
		batch.Result{Index: 1, Question: "b", Answer: "B", SQL: "SELECT 1 FROM t", Status: batch.StatusSuccess, ComplexityLabel: "Simple SQL", CompletedAt: now},
		batch.Result{Index: 0, Question: "a", Answer: "TIMEOUT: no answer after 300 seconds", Status: batch.StatusTimeout, CompletedAt: now},
	)
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), "DELETE FROM bot_runs WHERE id = $1", run.ID)
	})

	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	// The resumed run carries the old rows plus a new one; saving again must not duplicate.
	run.Results = append(run.Results, batch.Result{Index: 2, Question: "c", Status: batch.StatusFailed, Answer: "ERROR: boom", CompletedAt: now})
	run.Complete = true
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("second SaveRun failed: %v", err)
	}

	sum, err := s.GetRunSummary(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRunSummary failed: %v", err)
	}
	if sum.Processed != 3 || !sum.Complete {
		t.Errorf("expected 3 processed and complete, got %+v", sum)
	}
	if sum.Success != 1 || sum.Failed != 1 || sum.Timeout != 1 {
		t.Errorf("unexpected counts %+v", sum)
	}

	rows, err := s.ListResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if r.Index != i {
			t.Errorf("row %d has index %d", i, r.Index)
		}
	}
	if rows[1].SQL != "SELECT 1 FROM t" || rows[1].Status != batch.StatusSuccess {
		t.Errorf("row 1 not round-tripped: %+v", rows[1])
	}
}

func TestIntegration_GetUnknownRun(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.GetRunSummary(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error for unknown run")
	}
}
