package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/botprobe/internal/batch"
)

// RunSummary is a stored run with per-status counts.
type RunSummary struct {
	ID         uuid.UUID
	Mode       string
	Total      int
	Processed  int
	Complete   bool
	StartedAt  time.Time
	FinishedAt time.Time
	Success    int
	Failed     int
	Timeout    int
}

// SaveRun upserts a run and its results. Saving a resumed run again adds the
// newly processed rows and leaves existing ones untouched.
func (s *Store) SaveRun(ctx context.Context, run *batch.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO bot_runs (id, mode, total, processed, complete, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			processed = EXCLUDED.processed,
			complete = EXCLUDED.complete,
			finished_at = EXCLUDED.finished_at`,
		run.ID, string(run.Mode), run.Total, len(run.Results), run.Complete, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	for _, r := range run.Results {
		_, err = tx.Exec(ctx, `
			INSERT INTO bot_results (
				run_id, question_index, question, answer, interpretation, sql_text, insights,
				api_response_time, total_response_time, complexity_label, complexity_latency,
				estimated_first_response, status, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (run_id, question_index) DO NOTHING`,
			run.ID, r.Index, r.Question, r.Answer, r.Interpretation, r.SQL, r.Insights,
			r.APIResponseTime, r.TotalResponseTime, r.ComplexityLabel, r.ComplexityLatency,
			r.EstimatedFirstResponse, string(r.Status), r.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("insert result %d: %w", r.Index, err)
		}
	}

	return tx.Commit(ctx)
}

// GetRunSummary loads a run and tallies its results by status.
func (s *Store) GetRunSummary(ctx context.Context, id uuid.UUID) (*RunSummary, error) {
	sum := &RunSummary{ID: id}
	err := s.pool.QueryRow(ctx, `
		SELECT r.mode, r.total, r.processed, r.complete, r.started_at, r.finished_at,
			count(*) FILTER (WHERE res.status = 'success'),
			count(*) FILTER (WHERE res.status = 'failed'),
			count(*) FILTER (WHERE res.status = 'timeout')
		FROM bot_runs r
		LEFT JOIN bot_results res ON res.run_id = r.id
		WHERE r.id = $1
		GROUP BY r.id`, id,
	).Scan(&sum.Mode, &sum.Total, &sum.Processed, &sum.Complete, &sum.StartedAt, &sum.FinishedAt,
		&sum.Success, &sum.Failed, &sum.Timeout)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return sum, nil
}

// ListResults returns the stored rows of a run ordered by question index.
func (s *Store) ListResults(ctx context.Context, id uuid.UUID) ([]batch.Result, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT question_index, question, answer, interpretation, sql_text, insights,
			api_response_time, total_response_time, complexity_label, complexity_latency,
			estimated_first_response, status, completed_at
		FROM bot_results
		WHERE run_id = $1
		ORDER BY question_index`, id)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []batch.Result
	for rows.Next() {
		var r batch.Result
		var status string
		if err := rows.Scan(&r.Index, &r.Question, &r.Answer, &r.Interpretation, &r.SQL, &r.Insights,
			&r.APIResponseTime, &r.TotalResponseTime, &r.ComplexityLabel, &r.ComplexityLatency,
			&r.EstimatedFirstResponse, &status, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = batch.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
