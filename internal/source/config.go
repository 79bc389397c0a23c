package source

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one machine's vendor database.
type SourceConfig struct {
	MachineID string `yaml:"machineId"`
	Type      string `yaml:"type"` // mysql | postgres | mssql
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	SSLMode   string `yaml:"sslMode"`
	BeamTable string `yaml:"beamTable"`
	GeoTable  string `yaml:"geoTable"`
	LeafTable string `yaml:"leafTable"`
}

type Config struct {
	Sources []SourceConfig `yaml:"sources"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Sources) == 0 {
		return Config{}, fmt.Errorf("no sources configured")
	}
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src.MachineID) == "" {
			return Config{}, fmt.Errorf("source %d: machineId is required", i)
		}
		if strings.TrimSpace(src.BeamTable) == "" && strings.TrimSpace(src.GeoTable) == "" {
			return Config{}, fmt.Errorf("source %d: at least one of beamTable or geoTable is required", i)
		}
		if _, err := driverFor(src.Type); err != nil {
			return Config{}, fmt.Errorf("source %d: %w", i, err)
		}
	}
	return cfg, nil
}

func driverFor(sourceType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case "mysql":
		return "mysql", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "mssql", "sqlserver":
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", sourceType)
	}
}
