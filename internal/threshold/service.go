package threshold

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Repository is the persistence surface the service needs. The pgx-backed
// implementation lives in internal/storage.
type Repository interface {
	ListThresholds(ctx context.Context) ([]Threshold, error)
	UpsertThreshold(ctx context.Context, t Threshold) (Threshold, error)
}

type Service struct {
	Repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{Repo: repo}
}

// Upsert saves a tolerance keyed by (machine, check type, metric, variant).
// An existing threshold for the key is replaced in place, carrying its id
// forward; otherwise a new one is appended.
func (s *Service) Upsert(ctx context.Context, t Threshold) (Threshold, error) {
	existing, err := s.Repo.ListThresholds(ctx)
	if err != nil {
		return Threshold{}, fmt.Errorf("list thresholds: %w", err)
	}
	for _, cur := range existing {
		if cur.MachineID == t.MachineID && cur.CheckType == t.CheckType &&
			cur.MetricType == t.MetricType && cur.BeamVariantID == t.BeamVariantID {
			t.ID = cur.ID
			break
		}
	}
	now := time.Now().UTC()
	t.LastUpdated = &now
	return s.Repo.UpsertThreshold(ctx, t)
}

// ApplyResult reports a bulk apply's per-item outcomes. Bulk applies are
// sequential and never roll back prior successful upserts.
type ApplyResult struct {
	Applied int      `json:"applied"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

func (r *ApplyResult) record(key string, err error) {
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, key+": "+err.Error())
		return
	}
	r.Applied++
}

// ApplyToAllVariants copies one representative value per beam metric across
// every beam variant of a machine.
func (s *Service) ApplyToAllVariants(ctx context.Context, machineID string, values map[string]float64, variantIDs []string) ApplyResult {
	var result ApplyResult
	metricTypes := make([]string, 0, len(values))
	for metricType := range values {
		metricTypes = append(metricTypes, metricType)
	}
	sort.Strings(metricTypes)
	for _, metricType := range metricTypes {
		value := values[metricType]
		for _, variantID := range variantIDs {
			_, err := s.Upsert(ctx, Threshold{
				MachineID:     machineID,
				CheckType:     CheckTypeBeam,
				MetricType:    metricType,
				BeamVariantID: variantID,
				Value:         value,
			})
			result.record(metricType+"/"+variantID, err)
		}
	}
	return result
}

// ApplyToAllGeometry broadcasts a single tolerance to every named geometry
// metric of a machine.
func (s *Service) ApplyToAllGeometry(ctx context.Context, machineID string, value float64, metricTypes []string) ApplyResult {
	var result ApplyResult
	for _, metricType := range metricTypes {
		_, err := s.Upsert(ctx, Threshold{
			MachineID:  machineID,
			CheckType:  CheckTypeGeometry,
			MetricType: metricType,
			Value:      value,
		})
		result.record(metricType, err)
	}
	return result
}
