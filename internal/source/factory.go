package source

import (
	"database/sql"
	"fmt"
	"strings"
)

func NewConnector(cfg SourceConfig) (Connector, error) {
	driver, err := driverFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	switch driver {
	case "mysql":
		return newMySQLConnector(cfg)
	case "postgres":
		return newPostgresConnector(cfg)
	case "sqlserver":
		return newMSSQLConnector(cfg)
	}
	return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
}

func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func normalizedSSLMode(cfg SourceConfig) string {
	return strings.ToLower(strings.TrimSpace(cfg.SSLMode))
}
