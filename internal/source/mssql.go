package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"linacqa-backend/internal/checks"
)

// MSSQLConnector reads the primary vendor dialect.
type MSSQLConnector struct {
	baseConnector
}

func newMSSQLConnector(cfg SourceConfig) (*MSSQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	query := url.Values{}
	query.Set("database", cfg.Database)
	if normalizedSSLMode(cfg) == "disable" {
		query.Set("encrypt", "disable")
	} else {
		query.Set("encrypt", "true")
		query.Set("TrustServerCertificate", "true")
	}
	dsn := (&url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}).String()
	db, err := openDatabase("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	return &MSSQLConnector{baseConnector{
		cfg: cfg,
		db:  db,
		d: dialect{
			placeholder: func(i int) string { return fmt.Sprintf("@p%d", i) },
			quote:       func(s string) string { return "[" + s + "]" },
		},
	}}, nil
}

func (c *MSSQLConnector) FetchBeamChecks(ctx context.Context, since time.Time) ([]checks.BeamCheckRecord, error) {
	return c.fetchBeamChecks(ctx, since)
}

func (c *MSSQLConnector) FetchGeoChecks(ctx context.Context, since time.Time) ([]checks.GeoCheckRecord, error) {
	return c.fetchGeoChecks(ctx, since)
}
