package source

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"linacqa-backend/internal/checks"
)

type MySQLConnector struct {
	baseConnector
}

func newMySQLConnector(cfg SourceConfig) (*MySQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	switch normalizedSSLMode(cfg) {
	case "disable":
		dsn += "&tls=false"
	case "":
	default:
		dsn += "&tls=true"
	}
	db, err := openDatabase("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &MySQLConnector{baseConnector{
		cfg: cfg,
		db:  db,
		d: dialect{
			placeholder: func(int) string { return "?" },
			quote:       func(s string) string { return "`" + s + "`" },
		},
	}}, nil
}

func (c *MySQLConnector) FetchBeamChecks(ctx context.Context, since time.Time) ([]checks.BeamCheckRecord, error) {
	return c.fetchBeamChecks(ctx, since)
}

func (c *MySQLConnector) FetchGeoChecks(ctx context.Context, since time.Time) ([]checks.GeoCheckRecord, error) {
	return c.fetchGeoChecks(ctx, since)
}
