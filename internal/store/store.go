package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS bot_runs (
	id          UUID PRIMARY KEY,
	mode        TEXT NOT NULL,
	total       INT NOT NULL,
	processed   INT NOT NULL,
	complete    BOOLEAN NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS bot_results (
	run_id                   UUID NOT NULL REFERENCES bot_runs(id) ON DELETE CASCADE,
	question_index           INT NOT NULL,
	question                 TEXT NOT NULL,
	answer                   TEXT NOT NULL,
	interpretation           TEXT NOT NULL,
	sql_text                 TEXT NOT NULL,
	insights                 TEXT NOT NULL,
	api_response_time        DOUBLE PRECISION NOT NULL,
	total_response_time      DOUBLE PRECISION NOT NULL,
	complexity_label         TEXT NOT NULL,
	complexity_latency       DOUBLE PRECISION NOT NULL,
	estimated_first_response DOUBLE PRECISION NOT NULL,
	status                   TEXT NOT NULL,
	completed_at             TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, question_index)
);`

// Migrate creates the run tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
