// Package storage persists machines, check records, thresholds and DOC
// factors in Postgres behind one pgx pool.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound marks a lookup or delete that matched no row.
var ErrNotFound = errors.New("not found")

type Store struct {
	Pool *pgxpool.Pool
}

// NewStore opens the pool and verifies connectivity before anything is
// served from it.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	// series endpoints fan out several queries per request; keep a few
	// connections warm between importer sweeps
	if cfg.MinConns == 0 {
		cfg.MinConns = 2
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
