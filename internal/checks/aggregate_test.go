package checks

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
	"time"

	"linacqa-backend/internal/doc"
	"linacqa-backend/internal/threshold"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func f(v float64) *float64 { return &v }

func testAggregator() *Aggregator {
	resolver := threshold.NewResolver([]threshold.Threshold{
		{MachineID: "M1", CheckType: threshold.CheckTypeBeam, MetricType: MetricRelativeOutput, BeamVariantID: "v1", Value: 3},
		{MachineID: "M1", CheckType: threshold.CheckTypeBeam, MetricType: MetricCenterShift, BeamVariantID: "v1", Value: 0.5},
		{MachineID: "M1", CheckType: threshold.CheckTypeGeometry, MetricType: "Gantry Absolute", Value: 0.3},
	})
	rel := 2.0
	factors := doc.NewCatalog([]doc.Factor{
		{ID: "f1", MachineID: "M1", BeamVariantID: "v1", MsdAbs: 1.0, MpcRel: &rel, DocFactor: 1.0 / 1.02, StartDate: day("2026-01-01")},
	})
	return NewAggregator(resolver, factors)
}

func beamRecord() BeamCheckRecord {
	return BeamCheckRecord{
		ID: "b1", MachineID: "M1", BeamVariantID: "v1", BeamVariantName: "6x",
		Timestamp:      day("2026-02-10"),
		RelativeOutput: f(1.2345), RelativeUniformity: f(-0.4), CenterShift: f(0.1),
	}
}

func TestAggregateDayBeamGroup(t *testing.T) {
	agg := testAggregator()
	variants := []BeamVariant{{ID: "v1", Variant: "6x"}}
	result := agg.AggregateDay("M1", day("2026-02-10"), variants, []BeamCheckRecord{beamRecord()}, nil)
	if len(result.BeamGroups) != 1 {
		t.Fatalf("expected 1 beam group, got %d", len(result.BeamGroups))
	}
	group := result.BeamGroups[0]
	if group.Name != "6x" || group.Status != GroupPass {
		t.Fatalf("unexpected group %+v", group)
	}
	output := group.Metrics[0]
	if output.Name != "Output Change (6x)" {
		t.Fatalf("unexpected metric name %q", output.Name)
	}
	if output.Value != "1.23%" {
		t.Fatalf("unexpected value %q", output.Value)
	}
	if output.Thresholds != "± 3.00%" {
		t.Fatalf("unexpected thresholds %q", output.Thresholds)
	}
	if output.AbsoluteValue != "1.2103" { // 1.2345 / 1.02
		t.Fatalf("unexpected absolute value %q", output.AbsoluteValue)
	}
	shift := group.Metrics[2]
	if shift.Thresholds != "≤ 0.500" {
		t.Fatalf("unexpected shift thresholds %q", shift.Thresholds)
	}
}

func TestAggregateDayPlaceholderForMissingVariant(t *testing.T) {
	agg := testAggregator()
	variants := []BeamVariant{{ID: "v1", Variant: "6x"}, {ID: "v2", Variant: "10x"}}
	result := agg.AggregateDay("M1", day("2026-02-10"), variants, []BeamCheckRecord{beamRecord()}, nil)
	if len(result.BeamGroups) != 2 {
		t.Fatalf("expected both variants present, got %d", len(result.BeamGroups))
	}
	// natural sort: 6x before 10x
	if result.BeamGroups[0].Name != "6x" || result.BeamGroups[1].Name != "10x" {
		t.Fatalf("unexpected order %q, %q", result.BeamGroups[0].Name, result.BeamGroups[1].Name)
	}
	placeholder := result.BeamGroups[1]
	if placeholder.Status != GroupPass {
		t.Fatalf("placeholder group must stay PASS, got %q", placeholder.Status)
	}
	for _, m := range placeholder.Metrics {
		if m.Value != "-" || m.Status != threshold.StatusWarning {
			t.Fatalf("unexpected placeholder metric %+v", m)
		}
	}
}

func TestBeamGroupFailsOnUpstreamFail(t *testing.T) {
	agg := testAggregator()
	record := beamRecord()
	record.RelOutputStatus = "FAIL"
	result := agg.AggregateDay("M1", day("2026-02-10"), []BeamVariant{{ID: "v1", Variant: "6x"}}, []BeamCheckRecord{record}, nil)
	if result.BeamGroups[0].Status != GroupFail {
		t.Fatalf("expected FAIL, got %q", result.BeamGroups[0].Status)
	}
}

func TestAbsoluteValueMissingWithoutFactor(t *testing.T) {
	agg := testAggregator()
	record := beamRecord()
	record.BeamVariantID = "v9"
	result := agg.AggregateDay("M1", day("2026-02-10"), []BeamVariant{{ID: "v9", Variant: "6x"}}, []BeamCheckRecord{record}, nil)
	if got := result.BeamGroups[0].Metrics[0].AbsoluteValue; got != "" {
		t.Fatalf("expected empty absolute value, got %q", got)
	}
}

func TestBeamGroupDropsNonFiniteValues(t *testing.T) {
	agg := testAggregator()
	record := beamRecord()
	record.RelativeOutput = f(math.NaN())
	record.RelativeUniformity = f(math.Inf(1))
	result := agg.AggregateDay("M1", day("2026-02-10"), []BeamVariant{{ID: "v1", Variant: "6x"}}, []BeamCheckRecord{record}, nil)
	output := result.BeamGroups[0].Metrics[0]
	if output.Value != "-" {
		t.Fatalf("NaN output must render as no value, got %q", output.Value)
	}
	if output.AbsoluteValue != "" {
		t.Fatalf("NaN output must not produce an absolute value, got %q", output.AbsoluteValue)
	}
	if uniformity := result.BeamGroups[0].Metrics[1]; uniformity.Value != "-" {
		t.Fatalf("Inf uniformity must render as no value, got %q", uniformity.Value)
	}
}

func TestAbsoluteValueResolvedAtMeasurementInstant(t *testing.T) {
	rel := 2.0
	// factor becomes valid at 06:00; the check was measured at 08:00 the
	// same day, so it applies even though the aggregation day starts earlier
	factors := doc.NewCatalog([]doc.Factor{
		{ID: "f1", MachineID: "M1", BeamVariantID: "v1", MsdAbs: 1.0, MpcRel: &rel, DocFactor: 1.0 / 1.02,
			StartDate: day("2026-02-10").Add(6 * time.Hour)},
	})
	agg := NewAggregator(threshold.NewResolver(nil), factors)
	record := beamRecord()
	record.Timestamp = day("2026-02-10").Add(8 * time.Hour)
	result := agg.AggregateDay("M1", day("2026-02-10"), []BeamVariant{{ID: "v1", Variant: "6x"}}, []BeamCheckRecord{record}, nil)
	if got := result.BeamGroups[0].Metrics[0].AbsoluteValue; got != "1.2103" {
		t.Fatalf("factor valid at measurement time must apply, got %q", got)
	}
}

func geoRecord() GeoCheckRecord {
	return GeoCheckRecord{
		ID: "g1", MachineID: "M1", Timestamp: day("2026-02-10"),
		IsoCenterX: f(0.1), IsoCenterY: f(0.2), IsoCenterZ: f(-0.1), IsoCenterSize: f(0.4),
		BeamOutputChange: f(0.8), BeamUniformityChange: f(0.3), BeamCenterShift: f(0.05),
		CollimationOffset: f(0.2), CollimationRotation: f(0.1),
		GantryAbsolute: f(0.25), GantryRelative: f(0.12),
		CouchLat: f(0.3), CouchLng: f(0.1), CouchVrt: f(0.2), CouchRtn: f(0.15), CouchPitch: f(0.05), CouchRoll: f(0.07),
		MLCMaxOffsetA: f(0.6), MLCMaxOffsetB: f(0.5), MLCMeanOffsetA: f(0.2), MLCMeanOffsetB: f(0.3),
		JawX1: f(0.1), JawX2: f(0.2), JawY1: f(0.15), JawY2: f(0.25),
		JawParallelismX: f(0.02), JawParallelismY: f(0.03),
		MLCLeavesA: LeafValues{"1": 0.1, "2": 0.2, "10": 0.3},
		MLCLeavesB: LeafValues{"1": 0.15},
		BacklashA:  LeafValues{"1": 0.05},
		BacklashB:  LeafValues{"1": 0.06},
		MetricStatuses: map[string]string{
			"Gantry Absolute": "FAIL",
			"Couch Lat":       "PASS",
		},
	}
}

func TestGeoGroupsLayoutAndStatus(t *testing.T) {
	agg := testAggregator()
	result := agg.AggregateDay("M1", day("2026-02-10"), nil, nil, []GeoCheckRecord{geoRecord()})
	if len(result.GeoGroups) != len(geoGroupOrder) {
		t.Fatalf("expected %d groups, got %d", len(geoGroupOrder), len(result.GeoGroups))
	}
	byName := map[string]CheckResult{}
	for _, g := range result.GeoGroups {
		byName[g.Name] = g
	}
	gantry := byName["Gantry"]
	if gantry.Status != GroupFail {
		t.Fatalf("gantry group should FAIL, got %q", gantry.Status)
	}
	if gantry.Metrics[0].Status != threshold.StatusFail {
		t.Fatalf("gantry absolute should carry upstream fail")
	}
	if gantry.Metrics[0].Thresholds != "≤ 0.300" {
		t.Fatalf("unexpected thresholds %q", gantry.Metrics[0].Thresholds)
	}
	couch := byName["Enhanced Couch"]
	if couch.Status != GroupPass {
		t.Fatalf("couch group should PASS")
	}
	// leaf groups emit metrics in numeric leaf order
	leaves := byName["MLC Leaves A"]
	names := []string{leaves.Metrics[0].Name, leaves.Metrics[1].Name, leaves.Metrics[2].Name}
	if !reflect.DeepEqual(names, []string{"MLC Leaf A 1", "MLC Leaf A 2", "MLC Leaf A 10"}) {
		t.Fatalf("unexpected leaf order %v", names)
	}
}

func TestGeoGroupsEmptyWithoutRecord(t *testing.T) {
	agg := testAggregator()
	result := agg.AggregateDay("M1", day("2026-02-10"), nil, nil, nil)
	if len(result.GeoGroups) != 0 {
		t.Fatalf("expected no geometry groups, got %d", len(result.GeoGroups))
	}
}

func TestAggregateDayDeterministic(t *testing.T) {
	agg := testAggregator()
	variants := []BeamVariant{{ID: "v2", Variant: "10x"}, {ID: "v1", Variant: "6x"}}
	first := agg.AggregateDay("M1", day("2026-02-10"), variants, []BeamCheckRecord{beamRecord()}, []GeoCheckRecord{geoRecord()})
	second := agg.AggregateDay("M1", day("2026-02-10"), variants, []BeamCheckRecord{beamRecord()}, []GeoCheckRecord{geoRecord()})
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("aggregation not deterministic")
	}
}

func TestLeafValuesAcceptsBothForms(t *testing.T) {
	var fromMap LeafValues
	if err := json.Unmarshal([]byte(`{"1":0.1,"2":0.2}`), &fromMap); err != nil {
		t.Fatalf("map form: %v", err)
	}
	var fromList LeafValues
	if err := json.Unmarshal([]byte(`[{"leafNumber":1,"value":0.1},{"leafNumber":2,"value":0.2}]`), &fromList); err != nil {
		t.Fatalf("list form: %v", err)
	}
	if !reflect.DeepEqual(fromMap, fromList) {
		t.Fatalf("forms disagree: %v vs %v", fromMap, fromList)
	}
}
