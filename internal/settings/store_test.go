package settings

import (
	"path/filepath"
	"testing"

	"linacqa-backend/internal/baseline"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	store := openTestStore(t)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	want := Defaults()
	want.Theme = "dark"
	want.Baseline = baseline.Settings{
		Mode:         baseline.ModeDate,
		Date:         "2026-01-05",
		ManualValues: baseline.ManualValues{OutputChange: 1.5},
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestSaveRewritesWholesale(t *testing.T) {
	store := openTestStore(t)
	first := Defaults()
	first.AccentColor = "#00ff00"
	if err := store.Save(first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := Defaults()
	second.Theme = "dark"
	if err := store.Save(second); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccentColor != Defaults().AccentColor {
		t.Fatalf("expected wholesale rewrite, got accent %q", got.AccentColor)
	}
	if got.Theme != "dark" {
		t.Fatalf("expected theme persisted, got %q", got.Theme)
	}
}

func TestLoadOlderSchemaMergesOntoDefaults(t *testing.T) {
	store := openTestStore(t)
	_, err := store.db.Exec(`INSERT INTO client_settings (key, value) VALUES (?, ?)`,
		settingsKey, `{"schemaVersion":0,"theme":"dark"}`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Theme != "dark" {
		t.Fatalf("expected stored theme, got %q", got.Theme)
	}
	if got.Shading != Defaults().Shading {
		t.Fatalf("expected default shading for missing fields, got %+v", got.Shading)
	}
	if got.SchemaVersion != SchemaVersion {
		t.Fatalf("expected schema version upgraded, got %d", got.SchemaVersion)
	}
}
