package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/optimo/internal/models"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS optimo_runs (
    id          TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    record      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_optimo_runs_created ON optimo_runs(created_at DESC);
`

// PgStore keeps run records in Postgres, one JSONB document per run.
type PgStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and migrates.
func OpenPostgres(ctx context.Context, url string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PgStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the ledger table. Idempotent.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaV1); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PgStore) Save(ctx context.Context, run *models.Run) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO optimo_runs (id, state, created_at, updated_at, record)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at, record = EXCLUDED.record`,
		run.ID, string(run.State), run.CreatedAt, run.UpdatedAt, record)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*models.Run, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM optimo_runs WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var run models.Run
	if err := json.Unmarshal(record, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

func (s *PgStore) List(ctx context.Context) ([]models.Run, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM optimo_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]models.Run, 0, len(records))
	for _, rec := range records {
		var run models.Run
		if err := json.Unmarshal(rec, &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}
