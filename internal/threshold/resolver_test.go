package threshold

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestResolveExactVariantMatch(t *testing.T) {
	r := NewResolver([]Threshold{
		{MachineID: "M1", CheckType: CheckTypeBeam, MetricType: "Relative Output", BeamVariantID: "v1", Value: 3.0},
	})
	got := r.Resolve("M1", CheckTypeBeam, "Relative Output", "v1", "6x")
	if got == nil || *got != 3.0 {
		t.Fatalf("expected 3.0, got %v", got)
	}
	if r.Resolve("M1", CheckTypeBeam, "Relative Output", "v2", "10x") != nil {
		t.Fatalf("expected nil for unknown variant")
	}
}

func TestResolveLegacyVariantName(t *testing.T) {
	r := NewResolver([]Threshold{
		{MachineID: "M1", CheckType: CheckTypeBeam, MetricType: "Relative Output", BeamVariantID: "6x", Value: 2.0},
	})
	got := r.Resolve("M1", CheckTypeBeam, "Relative Output", "v1", "6x")
	if got == nil || *got != 2.0 {
		t.Fatalf("expected legacy-name match, got %v", got)
	}
}

func TestResolveGeometryWithoutVariant(t *testing.T) {
	r := NewResolver([]Threshold{
		{MachineID: "M1", CheckType: CheckTypeGeometry, MetricType: "Gantry Absolute", Value: 0.5},
		{MachineID: "M1", CheckType: CheckTypeGeometry, MetricType: "Couch Lat", BeamVariantID: "v1", Value: 1.0},
	})
	got := r.Resolve("M1", CheckTypeGeometry, "Gantry Absolute", "", "")
	if got == nil || *got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	// a variant-scoped row must not satisfy a variant-less lookup
	if r.Resolve("M1", CheckTypeGeometry, "Couch Lat", "", "") != nil {
		t.Fatalf("expected nil when only variant-scoped rows exist")
	}
}

func TestClassify(t *testing.T) {
	tol := 3.0
	if Classify(2.9, &tol) != StatusPass {
		t.Fatalf("expected pass")
	}
	if Classify(-3.1, &tol) != StatusFail {
		t.Fatalf("expected fail")
	}
	if Classify(1.0, nil) != StatusWarning {
		t.Fatalf("expected warning without tolerance")
	}
}

func TestFormatTolerance(t *testing.T) {
	tol := 3.0
	if got := FormatTolerance(&tol, true); got != "± 3.00%" {
		t.Fatalf("unexpected %q", got)
	}
	mag := 0.5
	if got := FormatTolerance(&mag, false); got != "≤ 0.500" {
		t.Fatalf("unexpected %q", got)
	}
	if got := FormatTolerance(nil, true); got != "" {
		t.Fatalf("expected empty for nil, got %q", got)
	}
}

type fakeRepo struct {
	thresholds []Threshold
	failOn     map[string]bool
	nextID     int
}

func (f *fakeRepo) ListThresholds(ctx context.Context) ([]Threshold, error) {
	return append([]Threshold(nil), f.thresholds...), nil
}

func (f *fakeRepo) UpsertThreshold(ctx context.Context, t Threshold) (Threshold, error) {
	if f.failOn[t.MetricType+"/"+t.BeamVariantID] {
		return Threshold{}, errors.New("upstream failure")
	}
	if t.ID == "" {
		f.nextID++
		t.ID = fmt.Sprintf("id-%d", f.nextID)
		f.thresholds = append(f.thresholds, t)
		return t, nil
	}
	for i := range f.thresholds {
		if f.thresholds[i].ID == t.ID {
			f.thresholds[i] = t
		}
	}
	return t, nil
}

func TestUpsertReplacesInPlace(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)
	first, err := svc.Upsert(context.Background(), Threshold{MachineID: "M1", CheckType: CheckTypeBeam, MetricType: "Relative Output", BeamVariantID: "v1", Value: 3})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := svc.Upsert(context.Background(), Threshold{MachineID: "M1", CheckType: CheckTypeBeam, MetricType: "Relative Output", BeamVariantID: "v1", Value: 4})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected id carried forward, got %q vs %q", second.ID, first.ID)
	}
	if len(repo.thresholds) != 1 {
		t.Fatalf("expected single row, got %d", len(repo.thresholds))
	}
	if repo.thresholds[0].Value != 4 {
		t.Fatalf("expected value replaced, got %v", repo.thresholds[0].Value)
	}
}

func TestApplyToAllVariantsPartialFailure(t *testing.T) {
	repo := &fakeRepo{failOn: map[string]bool{"Relative Output/v2": true}}
	svc := NewService(repo)
	result := svc.ApplyToAllVariants(context.Background(), "M1",
		map[string]float64{"Relative Output": 3}, []string{"v1", "v2", "v3"})
	if result.Applied != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	// prior successes stay in place
	if len(repo.thresholds) != 2 {
		t.Fatalf("expected 2 persisted rows, got %d", len(repo.thresholds))
	}
}

func TestApplyToAllGeometry(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)
	result := svc.ApplyToAllGeometry(context.Background(), "M1", 0.5,
		[]string{"Gantry Absolute", "Couch Lat", "Jaw X1"})
	if result.Applied != 3 || result.Failed != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, row := range repo.thresholds {
		if row.CheckType != CheckTypeGeometry || row.Value != 0.5 {
			t.Fatalf("unexpected row %+v", row)
		}
	}
}
