package checks

import (
	"strings"
	"time"

	"linacqa-backend/internal/metric"
	"linacqa-backend/internal/threshold"
)

// Fixed geometry sub-group layout. Order is the rendering order.
var geoGroupOrder = []string{
	"Iso Center",
	"Beam Group",
	"Collimation",
	"Gantry",
	"Enhanced Couch",
	"MLC Leaves A",
	"MLC Leaves B",
	"MLC Offsets",
	"Backlash A",
	"Backlash B",
	"Jaws",
	"Jaws Parallelism",
}

type geoField struct {
	label string
	value func(*GeoCheckRecord) *float64
}

var geoScalarGroups = map[string][]geoField{
	"Iso Center": {
		{"Iso Center X", func(r *GeoCheckRecord) *float64 { return r.IsoCenterX }},
		{"Iso Center Y", func(r *GeoCheckRecord) *float64 { return r.IsoCenterY }},
		{"Iso Center Z", func(r *GeoCheckRecord) *float64 { return r.IsoCenterZ }},
		{"Iso Center Size", func(r *GeoCheckRecord) *float64 { return r.IsoCenterSize }},
	},
	"Beam Group": {
		{"Beam Output Change", func(r *GeoCheckRecord) *float64 { return r.BeamOutputChange }},
		{"Beam Uniformity Change", func(r *GeoCheckRecord) *float64 { return r.BeamUniformityChange }},
		{"Beam Center Shift", func(r *GeoCheckRecord) *float64 { return r.BeamCenterShift }},
	},
	"Collimation": {
		{"Collimation Offset", func(r *GeoCheckRecord) *float64 { return r.CollimationOffset }},
		{"Collimation Rotation", func(r *GeoCheckRecord) *float64 { return r.CollimationRotation }},
	},
	"Gantry": {
		{"Gantry Absolute", func(r *GeoCheckRecord) *float64 { return r.GantryAbsolute }},
		{"Gantry Relative", func(r *GeoCheckRecord) *float64 { return r.GantryRelative }},
	},
	"Enhanced Couch": {
		{"Couch Lat", func(r *GeoCheckRecord) *float64 { return r.CouchLat }},
		{"Couch Lng", func(r *GeoCheckRecord) *float64 { return r.CouchLng }},
		{"Couch Vrt", func(r *GeoCheckRecord) *float64 { return r.CouchVrt }},
		{"Couch Rtn", func(r *GeoCheckRecord) *float64 { return r.CouchRtn }},
		{"Couch Pitch", func(r *GeoCheckRecord) *float64 { return r.CouchPitch }},
		{"Couch Roll", func(r *GeoCheckRecord) *float64 { return r.CouchRoll }},
	},
	"MLC Offsets": {
		{"MLC Max Offset A", func(r *GeoCheckRecord) *float64 { return r.MLCMaxOffsetA }},
		{"MLC Max Offset B", func(r *GeoCheckRecord) *float64 { return r.MLCMaxOffsetB }},
		{"MLC Mean Offset A", func(r *GeoCheckRecord) *float64 { return r.MLCMeanOffsetA }},
		{"MLC Mean Offset B", func(r *GeoCheckRecord) *float64 { return r.MLCMeanOffsetB }},
	},
	"Jaws": {
		{"Jaw X1", func(r *GeoCheckRecord) *float64 { return r.JawX1 }},
		{"Jaw X2", func(r *GeoCheckRecord) *float64 { return r.JawX2 }},
		{"Jaw Y1", func(r *GeoCheckRecord) *float64 { return r.JawY1 }},
		{"Jaw Y2", func(r *GeoCheckRecord) *float64 { return r.JawY2 }},
	},
	"Jaws Parallelism": {
		{"Jaw Parallelism X", func(r *GeoCheckRecord) *float64 { return r.JawParallelismX }},
		{"Jaw Parallelism Y", func(r *GeoCheckRecord) *float64 { return r.JawParallelismY }},
	},
}

var geoLeafGroups = map[string]struct {
	prefix string
	values func(*GeoCheckRecord) LeafValues
}{
	"MLC Leaves A": {"MLC Leaf A", func(r *GeoCheckRecord) LeafValues { return r.MLCLeavesA }},
	"MLC Leaves B": {"MLC Leaf B", func(r *GeoCheckRecord) LeafValues { return r.MLCLeavesB }},
	"Backlash A":   {"Backlash A", func(r *GeoCheckRecord) LeafValues { return r.BacklashA }},
	"Backlash B":   {"Backlash B", func(r *GeoCheckRecord) LeafValues { return r.BacklashB }},
}

// GeoMetricLabels lists every scalar geometry metric in rendering order,
// used by the broadcast tolerance path.
func GeoMetricLabels() []string {
	labels := []string{}
	for _, groupName := range geoGroupOrder {
		for _, field := range geoScalarGroups[groupName] {
			labels = append(labels, field.label)
		}
	}
	return labels
}

func (a *Aggregator) geoGroups(machineID string, date time.Time, geoChecks []GeoCheckRecord) []CheckResult {
	record := findGeoRecord(geoChecks, date)
	if record == nil {
		return []CheckResult{}
	}
	groups := make([]CheckResult, 0, len(geoGroupOrder))
	for _, groupName := range geoGroupOrder {
		var metrics []CheckMetric
		if fields, ok := geoScalarGroups[groupName]; ok {
			for _, field := range fields {
				metrics = append(metrics, a.geoMetric(machineID, field.label, field.value(record), record))
			}
		} else if leaf, ok := geoLeafGroups[groupName]; ok {
			values := leaf.values(record)
			for _, leafNum := range values.sortedLeaves() {
				v := values[leafNum]
				metrics = append(metrics, a.geoMetric(machineID, leaf.prefix+" "+leafNum, &v, record))
			}
		}
		if len(metrics) == 0 {
			continue
		}
		groups = append(groups, CheckResult{
			Name:         groupName,
			Status:       groupStatus(metrics),
			Metrics:      metrics,
			ApprovedBy:   record.ApprovedBy,
			ApprovedDate: record.ApprovedDate,
		})
	}
	return groups
}

func findGeoRecord(records []GeoCheckRecord, date time.Time) *GeoCheckRecord {
	for i := range records {
		if sameDay(records[i].Timestamp, date) {
			return &records[i]
		}
	}
	return nil
}

// geoMetric builds one geometry row. Pass/fail comes from the record's own
// per-metric flag map; the aggregator does not re-evaluate geometry values.
func (a *Aggregator) geoMetric(machineID, label string, value *float64, record *GeoCheckRecord) CheckMetric {
	tol := a.Thresholds.Resolve(machineID, threshold.CheckTypeGeometry, label, "", "")
	return CheckMetric{
		Name:       label,
		Value:      metric.FormatValue(label, floatOrNil(value)),
		Thresholds: threshold.FormatTolerance(tol, strings.Contains(strings.ToLower(label), "change")),
		Status:     upstreamStatus(record.MetricStatuses[label]),
	}
}
