package source

import (
	"context"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"linacqa-backend/internal/checks"
)

type PostgresConnector struct {
	baseConnector
}

func newPostgresConnector(cfg SourceConfig) (*PostgresConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	sslMode := normalizedSSLMode(cfg)
	if sslMode == "" {
		sslMode = "prefer"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	db, err := openDatabase("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &PostgresConnector{baseConnector{
		cfg: cfg,
		db:  db,
		d: dialect{
			placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
			quote:       func(s string) string { return `"` + s + `"` },
		},
	}}, nil
}

func (c *PostgresConnector) FetchBeamChecks(ctx context.Context, since time.Time) ([]checks.BeamCheckRecord, error) {
	return c.fetchBeamChecks(ctx, since)
}

func (c *PostgresConnector) FetchGeoChecks(ctx context.Context, since time.Time) ([]checks.GeoCheckRecord, error) {
	return c.fetchGeoChecks(ctx, since)
}
