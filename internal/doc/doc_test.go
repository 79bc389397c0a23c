package doc

import (
	"context"
	"math"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dayPtr(s string) *time.Time {
	t := day(s)
	return &t
}

func TestComputeFactor(t *testing.T) {
	rel := 2.0
	got := ComputeFactor(1.0, &rel)
	if got == nil {
		t.Fatalf("expected factor")
	}
	want := 1.0 / 1.02
	if math.Abs(*got-want) > 1e-12 {
		t.Fatalf("got %v want %v", *got, want)
	}
}

func TestComputeFactorMissingMpc(t *testing.T) {
	if ComputeFactor(1.0, nil) != nil {
		t.Fatalf("expected nil without mpcRel")
	}
	nan := math.NaN()
	if ComputeFactor(1.0, &nan) != nil {
		t.Fatalf("expected nil for NaN mpcRel")
	}
}

func TestComputeFactorNonFinite(t *testing.T) {
	rel := -100.0
	if ComputeFactor(1.0, &rel) != nil {
		t.Fatalf("expected nil for division by zero")
	}
}

func TestValidMsdAbsInclusiveBand(t *testing.T) {
	if ValidMsdAbs(0.965) {
		t.Fatalf("0.965 must be rejected")
	}
	if !ValidMsdAbs(0.97) || !ValidMsdAbs(1.03) {
		t.Fatalf("boundaries must be accepted")
	}
	if ValidMsdAbs(1.031) {
		t.Fatalf("1.031 must be rejected")
	}
}

func TestCurrentFactorPicksLatestApplicableStart(t *testing.T) {
	factors := []Factor{
		{ID: "a", MachineID: "M1", BeamVariantID: "v1", StartDate: day("2026-01-01"), EndDate: dayPtr("2026-02-01")},
		{ID: "b", MachineID: "M1", BeamVariantID: "v1", StartDate: day("2026-02-01")},
		{ID: "c", MachineID: "M1", BeamVariantID: "v2", StartDate: day("2026-03-01")},
	}
	got := CurrentFactor(factors, "M1", "v1", day("2026-02-15"))
	if got == nil || got.ID != "b" {
		t.Fatalf("expected b, got %+v", got)
	}
	got = CurrentFactor(factors, "M1", "v1", day("2026-01-15"))
	if got == nil || got.ID != "a" {
		t.Fatalf("expected a, got %+v", got)
	}
}

func TestCurrentFactorExcludesEnded(t *testing.T) {
	factors := []Factor{
		{ID: "a", MachineID: "M1", BeamVariantID: "v1", StartDate: day("2026-01-01"), EndDate: dayPtr("2026-02-01")},
	}
	// endDate on or before the date excludes the factor
	if CurrentFactor(factors, "M1", "v1", day("2026-02-01")) != nil {
		t.Fatalf("expected nil on end date")
	}
	if CurrentFactor(factors, "M1", "v1", day("2025-12-31")) != nil {
		t.Fatalf("expected nil before start date")
	}
}

type fakeRepo struct {
	factors []Factor
	nextID  int
}

func (f *fakeRepo) ListDocFactors(ctx context.Context, machineID string) ([]Factor, error) {
	out := []Factor{}
	for _, fac := range f.factors {
		if fac.MachineID == machineID {
			out = append(out, fac)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateDocFactor(ctx context.Context, fac Factor) (Factor, error) {
	f.nextID++
	fac.ID = time.Now().Format("150405") + "-" + string(rune('a'+f.nextID))
	f.factors = append(f.factors, fac)
	return fac, nil
}

func (f *fakeRepo) DeleteDocFactor(ctx context.Context, id string) error { return nil }

func TestCreateRejectsOutOfBandMsdAbs(t *testing.T) {
	svc := NewService(&fakeRepo{})
	rel := 1.0
	_, err := svc.Create(context.Background(), CreateInput{
		MachineID: "M1", BeamVariantID: "v1", MsdAbs: 0.965, MpcRel: &rel,
		StartDate: day("2026-01-01"),
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	repo := &fakeRepo{factors: []Factor{
		{ID: "a", MachineID: "M1", BeamVariantID: "v1", StartDate: day("2026-01-01")},
	}}
	svc := NewService(repo)
	rel := 1.0
	_, err := svc.Create(context.Background(), CreateInput{
		MachineID: "M1", BeamVariantID: "v1", MsdAbs: 1.0, MpcRel: &rel,
		StartDate: day("2026-02-01"),
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected overlap rejection, got %v", err)
	}
}

func TestCreateAllowsTouchingWindows(t *testing.T) {
	repo := &fakeRepo{factors: []Factor{
		{ID: "a", MachineID: "M1", BeamVariantID: "v1", StartDate: day("2026-01-01"), EndDate: dayPtr("2026-02-01")},
	}}
	svc := NewService(repo)
	rel := 1.0
	_, err := svc.Create(context.Background(), CreateInput{
		MachineID: "M1", BeamVariantID: "v1", MsdAbs: 1.0, MpcRel: &rel,
		StartDate: day("2026-02-01"),
	})
	if err != nil {
		t.Fatalf("expected touching windows to be accepted: %v", err)
	}
}

func TestCreateBatchSkipsInvalidVariants(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)
	rel := 1.0
	outcomes, err := svc.CreateBatch(context.Background(), []CreateInput{
		{MachineID: "M1", BeamVariantID: "v1", MsdAbs: 1.0, MpcRel: &rel, StartDate: day("2026-01-01")},
		{MachineID: "M1", BeamVariantID: "v2", MsdAbs: 1.1, MpcRel: &rel, StartDate: day("2026-01-01")},
		{MachineID: "M1", BeamVariantID: "v3", MsdAbs: 1.0, MpcRel: nil, StartDate: day("2026-01-01")},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if outcomes[0].Created == nil || outcomes[0].Skipped != "" {
		t.Fatalf("v1 should be created: %+v", outcomes[0])
	}
	if outcomes[1].Created != nil || outcomes[1].Skipped == "" {
		t.Fatalf("v2 should be skipped: %+v", outcomes[1])
	}
	if outcomes[2].Created != nil || outcomes[2].Skipped == "" {
		t.Fatalf("v3 should be skipped: %+v", outcomes[2])
	}
	if len(repo.factors) != 1 {
		t.Fatalf("expected 1 persisted factor, got %d", len(repo.factors))
	}
}
