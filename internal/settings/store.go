// Package settings persists client-local configuration as one JSON blob
// under a single well-known key, read at startup and rewritten wholesale on
// every mutation.
package settings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"linacqa-backend/internal/baseline"
)

// SchemaVersion is bumped whenever the blob layout changes; older blobs are
// merged onto defaults on load.
const SchemaVersion = 1

const settingsKey = "qatrack.settings"

type ShadingSettings struct {
	WarningPercent float64 `json:"warningPercent"`
	FailPercent    float64 `json:"failPercent"`
	Color          string  `json:"color"`
}

type Settings struct {
	SchemaVersion int               `json:"schemaVersion"`
	AccentColor   string            `json:"accentColor"`
	Theme         string            `json:"theme"`
	Shading       ShadingSettings   `json:"shading"`
	Baseline      baseline.Settings `json:"baseline"`
}

func Defaults() Settings {
	return Settings{
		SchemaVersion: SchemaVersion,
		AccentColor:   "#1976d2",
		Theme:         "light",
		Shading:       ShadingSettings{WarningPercent: 80, FailPercent: 100, Color: "#d0211c"},
		Baseline:      baseline.Settings{Mode: baseline.ModeManual},
	}
}

// Store is the explicit settings boundary injected into consumers.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// SQLiteStore keeps the blob in a local key-value table.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS client_settings (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init settings schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load() (Settings, error) {
	var blob string
	err := s.db.QueryRow(`SELECT value FROM client_settings WHERE key = ?`, settingsKey).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	// merge onto defaults so blobs written by an older schema keep every
	// newer field at its default instead of a zero value
	loaded := Defaults()
	if err := json.Unmarshal([]byte(blob), &loaded); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	loaded.SchemaVersion = SchemaVersion
	return loaded, nil
}

func (s *SQLiteStore) Save(settings Settings) error {
	settings.SchemaVersion = SchemaVersion
	blob, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO client_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		settingsKey, string(blob))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
