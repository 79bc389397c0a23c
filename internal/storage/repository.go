package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"linacqa-backend/internal/checks"
	"linacqa-backend/internal/doc"
	"linacqa-backend/internal/threshold"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) ListMachines(ctx context.Context) ([]checks.Machine, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT id, name FROM machines ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []checks.Machine{}
	for rows.Next() {
		var m checks.Machine
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func (r *Repository) ListBeamVariants(ctx context.Context) ([]checks.BeamVariant, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT id, variant FROM beam_variants ORDER BY variant`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []checks.BeamVariant{}
	for rows.Next() {
		var v checks.BeamVariant
		if err := rows.Scan(&v.ID, &v.Variant); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

func (r *Repository) ListBeamChecks(ctx context.Context, machineID string, from, to time.Time) ([]checks.BeamCheckRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, machine_id, beam_variant_id, beam_variant_name, ts,
		       relative_output, relative_uniformity, center_shift,
		       status, rel_output_status, rel_uniformity_status, center_shift_status,
		       approved_by, approved_date
		FROM beam_checks
		WHERE machine_id=$1 AND ts >= $2 AND ts < $3
		ORDER BY ts`, machineID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []checks.BeamCheckRecord{}
	for rows.Next() {
		var rec checks.BeamCheckRecord
		var approvedBy, relOut, relUni, shift *string
		if err := rows.Scan(&rec.ID, &rec.MachineID, &rec.BeamVariantID, &rec.BeamVariantName, &rec.Timestamp,
			&rec.RelativeOutput, &rec.RelativeUniformity, &rec.CenterShift,
			&rec.Status, &relOut, &relUni, &shift,
			&approvedBy, &rec.ApprovedDate); err != nil {
			return nil, err
		}
		rec.RelOutputStatus = deref(relOut)
		rec.RelUniformityStatus = deref(relUni)
		rec.CenterShiftStatus = deref(shift)
		rec.ApprovedBy = deref(approvedBy)
		results = append(results, rec)
	}
	return results, rows.Err()
}

// Geometry payloads are wide and sparse, so everything beyond the identity
// and approval columns lives in one jsonb payload.
func (r *Repository) ListGeoChecks(ctx context.Context, machineID string, from, to time.Time) ([]checks.GeoCheckRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, machine_id, ts, payload, approved_by, approved_date
		FROM geo_checks
		WHERE machine_id=$1 AND ts >= $2 AND ts < $3
		ORDER BY ts`, machineID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []checks.GeoCheckRecord{}
	for rows.Next() {
		var id, machine string
		var ts time.Time
		var payload []byte
		var approvedBy *string
		var approvedDate *time.Time
		if err := rows.Scan(&id, &machine, &ts, &payload, &approvedBy, &approvedDate); err != nil {
			return nil, err
		}
		var rec checks.GeoCheckRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode geo check %s: %w", id, err)
		}
		rec.ID = id
		rec.MachineID = machine
		rec.Timestamp = ts
		rec.ApprovedBy = deref(approvedBy)
		rec.ApprovedDate = approvedDate
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) InsertBeamCheck(ctx context.Context, rec checks.BeamCheckRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO beam_checks (id, machine_id, beam_variant_id, beam_variant_name, ts,
			relative_output, relative_uniformity, center_shift,
			status, rel_output_status, rel_uniformity_status, center_shift_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (machine_id, beam_variant_id, ts) DO NOTHING`,
		rec.ID, rec.MachineID, rec.BeamVariantID, rec.BeamVariantName, rec.Timestamp,
		rec.RelativeOutput, rec.RelativeUniformity, rec.CenterShift,
		rec.Status, rec.RelOutputStatus, rec.RelUniformityStatus, rec.CenterShiftStatus,
	)
	return err
}

func (r *Repository) InsertGeoCheck(ctx context.Context, rec checks.GeoCheckRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode geo check: %w", err)
	}
	_, err = r.Store.Pool.Exec(ctx, `
		INSERT INTO geo_checks (id, machine_id, ts, payload)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (machine_id, ts) DO NOTHING`,
		rec.ID, rec.MachineID, rec.Timestamp, payload,
	)
	return err
}

func (r *Repository) LatestCheckTimestamp(ctx context.Context, machineID string) (time.Time, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT greatest(
			coalesce((SELECT max(ts) FROM beam_checks WHERE machine_id=$1), 'epoch'::timestamptz),
			coalesce((SELECT max(ts) FROM geo_checks WHERE machine_id=$1), 'epoch'::timestamptz)
		)`, machineID)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

func (r *Repository) ListThresholds(ctx context.Context) ([]threshold.Threshold, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, machine_id, check_type, metric_type, coalesce(beam_variant_id, ''), value, last_updated
		FROM thresholds ORDER BY machine_id, check_type, metric_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []threshold.Threshold{}
	for rows.Next() {
		var t threshold.Threshold
		if err := rows.Scan(&t.ID, &t.MachineID, &t.CheckType, &t.MetricType, &t.BeamVariantID, &t.Value, &t.LastUpdated); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func (r *Repository) UpsertThreshold(ctx context.Context, t threshold.Threshold) (threshold.Threshold, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
		_, err := r.Store.Pool.Exec(ctx, `
			INSERT INTO thresholds (id, machine_id, check_type, metric_type, beam_variant_id, value, last_updated)
			VALUES ($1,$2,$3,$4,nullif($5,''),$6,$7)`,
			t.ID, t.MachineID, t.CheckType, t.MetricType, t.BeamVariantID, t.Value, t.LastUpdated,
		)
		if err != nil {
			return threshold.Threshold{}, err
		}
		return t, nil
	}
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE thresholds SET value=$1, last_updated=$2 WHERE id=$3`,
		t.Value, t.LastUpdated, t.ID,
	)
	if err != nil {
		return threshold.Threshold{}, err
	}
	return t, nil
}

func (r *Repository) ListDocFactors(ctx context.Context, machineID string) ([]doc.Factor, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, machine_id, beam_variant_id, beam_id, msd_abs, mpc_rel, doc_factor,
		       measurement_date, start_date, end_date
		FROM doc_factors WHERE machine_id=$1 ORDER BY start_date`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []doc.Factor{}
	for rows.Next() {
		var f doc.Factor
		if err := rows.Scan(&f.ID, &f.MachineID, &f.BeamVariantID, &f.BeamID, &f.MsdAbs, &f.MpcRel, &f.DocFactor,
			&f.MeasurementDate, &f.StartDate, &f.EndDate); err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

func (r *Repository) CreateDocFactor(ctx context.Context, f doc.Factor) (doc.Factor, error) {
	f.ID = uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO doc_factors (id, machine_id, beam_variant_id, beam_id, msd_abs, mpc_rel, doc_factor,
			measurement_date, start_date, end_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())`,
		f.ID, f.MachineID, f.BeamVariantID, f.BeamID, f.MsdAbs, f.MpcRel, f.DocFactor,
		f.MeasurementDate, f.StartDate, f.EndDate,
	)
	if err != nil {
		return doc.Factor{}, err
	}
	return f, nil
}

func (r *Repository) DeleteDocFactor(ctx context.Context, id string) error {
	tag, err := r.Store.Pool.Exec(ctx, `DELETE FROM doc_factors WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApproveChecks stamps the approve side effect on both record kinds; ids not
// matching any row are ignored.
func (r *Repository) ApproveChecks(ctx context.Context, ids []string, approvedBy string) error {
	now := time.Now().UTC()
	if _, err := r.Store.Pool.Exec(ctx, `
		UPDATE beam_checks SET approved_by=$1, approved_date=$2 WHERE id = ANY($3)`,
		approvedBy, now, ids); err != nil {
		return err
	}
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE geo_checks SET approved_by=$1, approved_date=$2 WHERE id = ANY($3)`,
		approvedBy, now, ids)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
