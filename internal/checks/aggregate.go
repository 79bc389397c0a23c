package checks

import (
	"math"
	"sort"
	"strconv"
	"time"

	"linacqa-backend/internal/doc"
	"linacqa-backend/internal/metric"
	"linacqa-backend/internal/threshold"
)

// Threshold metric types as stored in threshold configuration. The beam
// types differ from the display labels for historical reasons.
const (
	MetricRelativeOutput     = "Relative Output"
	MetricRelativeUniformity = "Relative Uniformity"
	MetricCenterShift        = "Center Shift"
)

// ThresholdSource resolves a configured tolerance, nil when none exists.
type ThresholdSource interface {
	Resolve(machineID, checkType, metricType, variantID, variantName string) *float64
}

// FactorSource resolves the dose output correction factor current at a date.
type FactorSource interface {
	CurrentFactor(machineID, beamVariantID string, on time.Time) *doc.Factor
}

type Aggregator struct {
	Thresholds ThresholdSource
	Factors    FactorSource
}

func NewAggregator(thresholds ThresholdSource, factors FactorSource) *Aggregator {
	return &Aggregator{Thresholds: thresholds, Factors: factors}
}

// AggregateDay merges one day's raw records into the display tree. The same
// inputs always produce an identical tree.
func (a *Aggregator) AggregateDay(machineID string, date time.Time, variants []BeamVariant, beamChecks []BeamCheckRecord, geoChecks []GeoCheckRecord) DayAggregate {
	return DayAggregate{
		BeamGroups: a.beamGroups(machineID, date, variants, beamChecks),
		GeoGroups:  a.geoGroups(machineID, date, geoChecks),
	}
}

// beamGroups emits one group per available variant, including variants with
// no same-day record, which surface as placeholder rows so consumers can
// show an explicit "no data" state.
func (a *Aggregator) beamGroups(machineID string, date time.Time, variants []BeamVariant, beamChecks []BeamCheckRecord) []CheckResult {
	sorted := append([]BeamVariant(nil), variants...)
	sort.Slice(sorted, func(i, j int) bool {
		return metric.NaturalLess(sorted[i].Variant, sorted[j].Variant)
	})
	groups := make([]CheckResult, 0, len(sorted))
	for _, variant := range sorted {
		record := findBeamRecord(beamChecks, variant, date)
		groups = append(groups, a.beamGroup(machineID, variant, record))
	}
	return groups
}

func findBeamRecord(records []BeamCheckRecord, variant BeamVariant, date time.Time) *BeamCheckRecord {
	for i := range records {
		r := &records[i]
		if !sameDay(r.Timestamp, date) {
			continue
		}
		if r.BeamVariantID == variant.ID || r.BeamVariantName == variant.Variant {
			return r
		}
	}
	return nil
}

func (a *Aggregator) beamGroup(machineID string, variant BeamVariant, record *BeamCheckRecord) CheckResult {
	outputTol := a.Thresholds.Resolve(machineID, threshold.CheckTypeBeam, MetricRelativeOutput, variant.ID, variant.Variant)
	uniformityTol := a.Thresholds.Resolve(machineID, threshold.CheckTypeBeam, MetricRelativeUniformity, variant.ID, variant.Variant)
	shiftTol := a.Thresholds.Resolve(machineID, threshold.CheckTypeBeam, MetricCenterShift, variant.ID, variant.Variant)

	group := CheckResult{Name: variant.Variant}
	if record == nil {
		group.Metrics = []CheckMetric{
			placeholderMetric(metric.QualifyBeamMetric(metric.BaseOutputChange, variant.Variant), threshold.FormatTolerance(outputTol, true)),
			placeholderMetric(metric.QualifyBeamMetric(metric.BaseUniformityChange, variant.Variant), threshold.FormatTolerance(uniformityTol, true)),
			placeholderMetric(metric.QualifyBeamMetric(metric.BaseCenterShift, variant.Variant), threshold.FormatTolerance(shiftTol, false)),
		}
		group.Status = groupStatus(group.Metrics)
		return group
	}

	outputName := metric.QualifyBeamMetric(metric.BaseOutputChange, variant.Variant)
	output := CheckMetric{
		Name:       outputName,
		Value:      metric.FormatValue(outputName, floatOrNil(record.RelativeOutput)),
		Thresholds: threshold.FormatTolerance(outputTol, true),
		Status:     upstreamStatus(record.RelOutputStatus),
	}
	if record.RelativeOutput != nil {
		// resolve at the measurement instant, not the aggregation day: a
		// factor becoming valid later the same day must still apply
		if factor := a.Factors.CurrentFactor(machineID, record.BeamVariantID, record.Timestamp); factor != nil {
			if abs := *record.RelativeOutput * factor.DocFactor; !math.IsNaN(abs) && !math.IsInf(abs, 0) {
				output.AbsoluteValue = strconv.FormatFloat(abs, 'f', 4, 64)
			}
		}
	}

	uniformityName := metric.QualifyBeamMetric(metric.BaseUniformityChange, variant.Variant)
	uniformity := CheckMetric{
		Name:       uniformityName,
		Value:      metric.FormatValue(uniformityName, floatOrNil(record.RelativeUniformity)),
		Thresholds: threshold.FormatTolerance(uniformityTol, true),
		Status:     upstreamStatus(record.RelUniformityStatus),
	}

	shiftName := metric.QualifyBeamMetric(metric.BaseCenterShift, variant.Variant)
	shift := CheckMetric{
		Name:       shiftName,
		Value:      metric.FormatValue(shiftName, floatOrNil(record.CenterShift)),
		Thresholds: threshold.FormatTolerance(shiftTol, false),
		Status:     upstreamStatus(record.CenterShiftStatus),
	}

	group.Metrics = []CheckMetric{output, uniformity, shift}
	group.Status = groupStatus(group.Metrics)
	group.ApprovedBy = record.ApprovedBy
	group.ApprovedDate = record.ApprovedDate
	return group
}

func placeholderMetric(name, thresholds string) CheckMetric {
	return CheckMetric{Name: name, Value: "-", Thresholds: thresholds, Status: threshold.StatusWarning}
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// upstreamStatus maps the record's own pass/fail flag; absence defaults to
// pass, the aggregator never re-decides it.
func upstreamStatus(s string) threshold.Status {
	switch s {
	case "FAIL", "fail":
		return threshold.StatusFail
	case "WARNING", "warning":
		return threshold.StatusWarning
	default:
		return threshold.StatusPass
	}
}

// groupStatus escalates to FAIL only on failed metrics; warning placeholder
// rows stay PASS at group level.
func groupStatus(metrics []CheckMetric) string {
	for _, m := range metrics {
		if m.Status == threshold.StatusFail {
			return GroupFail
		}
	}
	return GroupPass
}
