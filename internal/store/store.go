// Package store is the run ledger: a durable record of every pipeline run so runs can
// be listed and inspected after a restart.
package store

import (
	"context"
	"errors"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/models"
)

var ErrNotFound = errors.New("run not found")

// Store persists run records. Save replaces the whole record.
type Store interface {
	Save(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context) ([]models.Run, error)
	Close() error
}

// Open returns a Postgres store when a database URL is configured, otherwise a JSON
// file store under cfg.Dir.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	fs, err := NewFileStore(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return fs, nil
}
