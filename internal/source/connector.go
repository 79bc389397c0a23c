// Package source reads raw check rows out of vendor machine databases. The
// importer drains these into the service store; the engine itself never
// talks to a vendor database directly.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"linacqa-backend/internal/checks"
)

// Connector is one vendor database for one machine.
type Connector interface {
	TestConnection(ctx context.Context) error

	FetchBeamChecks(ctx context.Context, since time.Time) ([]checks.BeamCheckRecord, error)

	FetchGeoChecks(ctx context.Context, since time.Time) ([]checks.GeoCheckRecord, error)

	Close() error
}

type dialect struct {
	placeholder func(i int) string
	quote       func(s string) string
}

type baseConnector struct {
	cfg SourceConfig
	db  *sql.DB
	d   dialect
}

func (b *baseConnector) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *baseConnector) TestConnection(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func quoteIdent(ident string, quote func(string) string) (string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return "", errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	quoted := make([]string, len(parts))
	for i, part := range parts {
		if !identPattern.MatchString(part) {
			return "", fmt.Errorf("identifier segment %q is invalid", part)
		}
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), nil
}

func scanRowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			var v any
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := *(values[i].(*any))
			row[col] = normalizeValue(v)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseTime(t)
	default:
		return time.Time{}, false
	}
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func floatField(row map[string]any, col string) *float64 {
	v, ok := row[col]
	if !ok || v == nil {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func stringField(row map[string]any, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Vendor beam-check table columns, shared across dialects.
var beamColumns = []string{
	"id", "beam_variant_id", "beam_variant", "ts",
	"relative_output", "relative_uniformity", "center_shift",
	"status", "output_status", "uniformity_status", "center_shift_status",
}

// fetchBeamChecks runs the shared query shape with the dialect's quoting and
// placeholder style.
func (b *baseConnector) fetchBeamChecks(ctx context.Context, since time.Time) ([]checks.BeamCheckRecord, error) {
	table, err := quoteIdent(b.cfg.BeamTable, b.d.quote)
	if err != nil {
		return nil, fmt.Errorf("invalid beam table: %w", err)
	}
	quoted := make([]string, len(beamColumns))
	for i, col := range beamColumns {
		quoted[i] = b.d.quote(col)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > %s ORDER BY %s",
		strings.Join(quoted, ", "), table, b.d.quote("ts"), b.d.placeholder(1), b.d.quote("ts"))
	rows, err := b.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query beam checks: %w", err)
	}
	defer rows.Close()
	raw, err := scanRowsToMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("scan beam checks: %w", err)
	}
	records := make([]checks.BeamCheckRecord, 0, len(raw))
	for _, row := range raw {
		ts, ok := toTime(row["ts"])
		if !ok {
			continue
		}
		records = append(records, checks.BeamCheckRecord{
			ID:                  stringField(row, "id"),
			MachineID:           b.cfg.MachineID,
			BeamVariantID:       stringField(row, "beam_variant_id"),
			BeamVariantName:     stringField(row, "beam_variant"),
			Timestamp:           ts.UTC(),
			RelativeOutput:      floatField(row, "relative_output"),
			RelativeUniformity:  floatField(row, "relative_uniformity"),
			CenterShift:         floatField(row, "center_shift"),
			Status:              stringField(row, "status"),
			RelOutputStatus:     stringField(row, "output_status"),
			RelUniformityStatus: stringField(row, "uniformity_status"),
			CenterShiftStatus:   stringField(row, "center_shift_status"),
		})
	}
	return records, nil
}

var geoScalarColumns = map[string]func(*checks.GeoCheckRecord) **float64{
	"iso_center_x":           func(r *checks.GeoCheckRecord) **float64 { return &r.IsoCenterX },
	"iso_center_y":           func(r *checks.GeoCheckRecord) **float64 { return &r.IsoCenterY },
	"iso_center_z":           func(r *checks.GeoCheckRecord) **float64 { return &r.IsoCenterZ },
	"iso_center_size":        func(r *checks.GeoCheckRecord) **float64 { return &r.IsoCenterSize },
	"beam_output_change":     func(r *checks.GeoCheckRecord) **float64 { return &r.BeamOutputChange },
	"beam_uniformity_change": func(r *checks.GeoCheckRecord) **float64 { return &r.BeamUniformityChange },
	"beam_center_shift":      func(r *checks.GeoCheckRecord) **float64 { return &r.BeamCenterShift },
	"collimation_offset":     func(r *checks.GeoCheckRecord) **float64 { return &r.CollimationOffset },
	"collimation_rotation":   func(r *checks.GeoCheckRecord) **float64 { return &r.CollimationRotation },
	"gantry_absolute":        func(r *checks.GeoCheckRecord) **float64 { return &r.GantryAbsolute },
	"gantry_relative":        func(r *checks.GeoCheckRecord) **float64 { return &r.GantryRelative },
	"couch_lat":              func(r *checks.GeoCheckRecord) **float64 { return &r.CouchLat },
	"couch_lng":              func(r *checks.GeoCheckRecord) **float64 { return &r.CouchLng },
	"couch_vrt":              func(r *checks.GeoCheckRecord) **float64 { return &r.CouchVrt },
	"couch_rtn":              func(r *checks.GeoCheckRecord) **float64 { return &r.CouchRtn },
	"couch_pitch":            func(r *checks.GeoCheckRecord) **float64 { return &r.CouchPitch },
	"couch_roll":             func(r *checks.GeoCheckRecord) **float64 { return &r.CouchRoll },
	"mlc_max_offset_a":       func(r *checks.GeoCheckRecord) **float64 { return &r.MLCMaxOffsetA },
	"mlc_max_offset_b":       func(r *checks.GeoCheckRecord) **float64 { return &r.MLCMaxOffsetB },
	"mlc_mean_offset_a":      func(r *checks.GeoCheckRecord) **float64 { return &r.MLCMeanOffsetA },
	"mlc_mean_offset_b":      func(r *checks.GeoCheckRecord) **float64 { return &r.MLCMeanOffsetB },
	"jaw_x1":                 func(r *checks.GeoCheckRecord) **float64 { return &r.JawX1 },
	"jaw_x2":                 func(r *checks.GeoCheckRecord) **float64 { return &r.JawX2 },
	"jaw_y1":                 func(r *checks.GeoCheckRecord) **float64 { return &r.JawY1 },
	"jaw_y2":                 func(r *checks.GeoCheckRecord) **float64 { return &r.JawY2 },
	"jaw_parallelism_x":      func(r *checks.GeoCheckRecord) **float64 { return &r.JawParallelismX },
	"jaw_parallelism_y":      func(r *checks.GeoCheckRecord) **float64 { return &r.JawParallelismY },
}

func (b *baseConnector) fetchGeoChecks(ctx context.Context, since time.Time) ([]checks.GeoCheckRecord, error) {
	table, err := quoteIdent(b.cfg.GeoTable, b.d.quote)
	if err != nil {
		return nil, fmt.Errorf("invalid geo table: %w", err)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s > %s ORDER BY %s",
		table, b.d.quote("ts"), b.d.placeholder(1), b.d.quote("ts"))
	rows, err := b.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query geo checks: %w", err)
	}
	defer rows.Close()
	raw, err := scanRowsToMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("scan geo checks: %w", err)
	}
	records := make([]checks.GeoCheckRecord, 0, len(raw))
	for _, row := range raw {
		ts, ok := toTime(row["ts"])
		if !ok {
			continue
		}
		rec := checks.GeoCheckRecord{
			ID:        stringField(row, "id"),
			MachineID: b.cfg.MachineID,
			Timestamp: ts.UTC(),
		}
		for col, field := range geoScalarColumns {
			*field(&rec) = floatField(row, col)
		}
		if b.cfg.LeafTable != "" {
			if err := b.attachLeafValues(ctx, &rec); err != nil {
				return nil, err
			}
		}
		rec.MetricStatuses = map[string]string{}
		records = append(records, rec)
	}
	return records, nil
}

// attachLeafValues loads per-leaf MLC position and backlash rows recorded
// alongside one geometry check.
func (b *baseConnector) attachLeafValues(ctx context.Context, rec *checks.GeoCheckRecord) error {
	table, err := quoteIdent(b.cfg.LeafTable, b.d.quote)
	if err != nil {
		return fmt.Errorf("invalid leaf table: %w", err)
	}
	query := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s = %s",
		b.d.quote("bank"), b.d.quote("leaf_number"), b.d.quote("position"), b.d.quote("backlash"),
		table, b.d.quote("check_id"), b.d.placeholder(1))
	rows, err := b.db.QueryContext(ctx, query, rec.ID)
	if err != nil {
		return fmt.Errorf("query leaf values: %w", err)
	}
	defer rows.Close()
	raw, err := scanRowsToMaps(rows)
	if err != nil {
		return fmt.Errorf("scan leaf values: %w", err)
	}
	rec.MLCLeavesA = checks.LeafValues{}
	rec.MLCLeavesB = checks.LeafValues{}
	rec.BacklashA = checks.LeafValues{}
	rec.BacklashB = checks.LeafValues{}
	for _, row := range raw {
		leaf := stringField(row, "leaf_number")
		bank := strings.ToUpper(stringField(row, "bank"))
		position := floatField(row, "position")
		backlash := floatField(row, "backlash")
		switch bank {
		case "A":
			if position != nil {
				rec.MLCLeavesA[leaf] = *position
			}
			if backlash != nil {
				rec.BacklashA[leaf] = *backlash
			}
		case "B":
			if position != nil {
				rec.MLCLeavesB[leaf] = *position
			}
			if backlash != nil {
				rec.BacklashB[leaf] = *backlash
			}
		}
	}
	return nil
}
