package doc

import (
	"context"
	"fmt"
	"time"
)

// ValidationError marks input rejected before any persistence call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type Repository interface {
	ListDocFactors(ctx context.Context, machineID string) ([]Factor, error)
	CreateDocFactor(ctx context.Context, f Factor) (Factor, error)
	DeleteDocFactor(ctx context.Context, id string) error
}

type Service struct {
	Repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{Repo: repo}
}

// CreateInput is one operator-submitted measurement pair.
type CreateInput struct {
	MachineID       string     `json:"machineId"`
	BeamVariantID   string     `json:"beamVariantId"`
	BeamID          string     `json:"beamId"`
	MsdAbs          float64    `json:"msdAbs"`
	MpcRel          *float64   `json:"mpcRel"`
	MeasurementDate time.Time  `json:"measurementDate"`
	StartDate       time.Time  `json:"startDate"`
	EndDate         *time.Time `json:"endDate,omitempty"`
}

// Create validates and persists one factor. Out-of-band msdAbs, a missing
// MPC reading and a timeline overlap with an existing factor for the same
// variant are all rejected before the repository is touched.
func (s *Service) Create(ctx context.Context, in CreateInput) (Factor, error) {
	if !ValidMsdAbs(in.MsdAbs) {
		return Factor{}, &ValidationError{Message: fmt.Sprintf("msdAbs %.4f outside accepted band [%.2f, %.2f]", in.MsdAbs, MsdAbsMin, MsdAbsMax)}
	}
	factorValue := ComputeFactor(in.MsdAbs, in.MpcRel)
	if factorValue == nil {
		return Factor{}, &ValidationError{Message: "doc factor is not computable from the submitted measurements"}
	}
	candidate := Factor{
		MachineID:       in.MachineID,
		BeamVariantID:   in.BeamVariantID,
		BeamID:          in.BeamID,
		MsdAbs:          in.MsdAbs,
		MpcRel:          in.MpcRel,
		DocFactor:       *factorValue,
		MeasurementDate: in.MeasurementDate,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
	}
	existing, err := s.Repo.ListDocFactors(ctx, in.MachineID)
	if err != nil {
		return Factor{}, fmt.Errorf("list doc factors: %w", err)
	}
	for _, f := range existing {
		if f.BeamVariantID != in.BeamVariantID {
			continue
		}
		if overlaps(f, candidate) {
			return Factor{}, &ValidationError{Message: fmt.Sprintf("validity window overlaps factor %s starting %s", f.ID, f.StartDate.Format("2006-01-02"))}
		}
	}
	return s.Repo.CreateDocFactor(ctx, candidate)
}

// BatchOutcome reports one variant's result in a batch creation.
type BatchOutcome struct {
	BeamVariantID string  `json:"beamVariantId"`
	Created       *Factor `json:"created,omitempty"`
	Skipped       string  `json:"skipped,omitempty"`
}

// CreateBatch validates each variant independently; a rejected or
// uncomputable variant is reported as skipped, never failing the batch.
func (s *Service) CreateBatch(ctx context.Context, inputs []CreateInput) ([]BatchOutcome, error) {
	outcomes := make([]BatchOutcome, 0, len(inputs))
	for _, in := range inputs {
		created, err := s.Create(ctx, in)
		if err != nil {
			if _, ok := err.(*ValidationError); ok {
				outcomes = append(outcomes, BatchOutcome{BeamVariantID: in.BeamVariantID, Skipped: err.Error()})
				continue
			}
			return outcomes, err
		}
		outcomes = append(outcomes, BatchOutcome{BeamVariantID: in.BeamVariantID, Created: &created})
	}
	return outcomes, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.Repo.DeleteDocFactor(ctx, id)
}
