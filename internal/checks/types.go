// Package checks flattens raw beam and geometry check records into the
// uniform group/metric tree consumed by tables and charts.
package checks

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"linacqa-backend/internal/threshold"
)

// Group-level aggregate statuses.
const (
	GroupPass = "PASS"
	GroupFail = "FAIL"
)

type Machine struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type BeamVariant struct {
	ID      string `json:"id"`
	Variant string `json:"variant"`
}

// BeamCheckRecord is one beam-variant measurement produced by the upstream
// measurement pipeline. Read-only here except for the approve stamp.
type BeamCheckRecord struct {
	ID                  string     `json:"id"`
	MachineID           string     `json:"machineId"`
	BeamVariantID       string     `json:"beamVariantId"`
	BeamVariantName     string     `json:"beamVariantName"`
	Timestamp           time.Time  `json:"timestamp"`
	RelativeOutput      *float64   `json:"relativeOutput"`
	RelativeUniformity  *float64   `json:"relativeUniformity"`
	CenterShift         *float64   `json:"centerShift"`
	Status              string     `json:"status"`
	RelOutputStatus     string     `json:"relOutputStatus,omitempty"`
	RelUniformityStatus string     `json:"relUniformityStatus,omitempty"`
	CenterShiftStatus   string     `json:"centerShiftStatus,omitempty"`
	ApprovedBy          string     `json:"approvedBy,omitempty"`
	ApprovedDate        *time.Time `json:"approvedDate,omitempty"`
}

// LeafValues holds per-leaf measurements keyed by leaf number. Upstream
// serializes these either as a key→value map or as an array of
// {leafNumber, value} entries; both normalize to the map form.
type LeafValues map[string]float64

func (l *LeafValues) UnmarshalJSON(data []byte) error {
	asMap := map[string]float64{}
	if err := json.Unmarshal(data, &asMap); err == nil {
		*l = asMap
		return nil
	}
	var asList []struct {
		LeafNumber int     `json:"leafNumber"`
		Value      float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &asList); err != nil {
		return fmt.Errorf("leaf values must be a map or a leafNumber/value list: %w", err)
	}
	out := make(map[string]float64, len(asList))
	for _, entry := range asList {
		out[fmt.Sprintf("%d", entry.LeafNumber)] = entry.Value
	}
	*l = out
	return nil
}

// sortedLeaves returns leaf numbers in numeric order for stable rendering.
func (l LeafValues) sortedLeaves() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		var a, b int
		fmt.Sscanf(keys[i], "%d", &a)
		fmt.Sscanf(keys[j], "%d", &b)
		if a != b {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// GeoCheckRecord is one per-day geometry measurement for a machine.
type GeoCheckRecord struct {
	ID        string    `json:"id"`
	MachineID string    `json:"machineId"`
	Timestamp time.Time `json:"timestamp"`

	IsoCenterX    *float64 `json:"isoCenterX"`
	IsoCenterY    *float64 `json:"isoCenterY"`
	IsoCenterZ    *float64 `json:"isoCenterZ"`
	IsoCenterSize *float64 `json:"isoCenterSize"`

	BeamOutputChange     *float64 `json:"beamOutputChange"`
	BeamUniformityChange *float64 `json:"beamUniformityChange"`
	BeamCenterShift      *float64 `json:"beamCenterShift"`

	CollimationOffset   *float64 `json:"collimationOffset"`
	CollimationRotation *float64 `json:"collimationRotation"`

	GantryAbsolute *float64 `json:"gantryAbsolute"`
	GantryRelative *float64 `json:"gantryRelative"`

	CouchLat   *float64 `json:"couchLat"`
	CouchLng   *float64 `json:"couchLng"`
	CouchVrt   *float64 `json:"couchVrt"`
	CouchRtn   *float64 `json:"couchRtn"`
	CouchPitch *float64 `json:"couchPitch"`
	CouchRoll  *float64 `json:"couchRoll"`

	MLCMaxOffsetA  *float64 `json:"mlcMaxOffsetA"`
	MLCMaxOffsetB  *float64 `json:"mlcMaxOffsetB"`
	MLCMeanOffsetA *float64 `json:"mlcMeanOffsetA"`
	MLCMeanOffsetB *float64 `json:"mlcMeanOffsetB"`

	JawX1 *float64 `json:"jawX1"`
	JawX2 *float64 `json:"jawX2"`
	JawY1 *float64 `json:"jawY1"`
	JawY2 *float64 `json:"jawY2"`

	JawParallelismX *float64 `json:"jawParallelismX"`
	JawParallelismY *float64 `json:"jawParallelismY"`

	MLCLeavesA LeafValues `json:"mlcLeavesA,omitempty"`
	MLCLeavesB LeafValues `json:"mlcLeavesB,omitempty"`
	BacklashA  LeafValues `json:"backlashA,omitempty"`
	BacklashB  LeafValues `json:"backlashB,omitempty"`

	// MetricStatuses carries the upstream per-metric pass/fail decision,
	// keyed by metric display name with "PASS"/"FAIL" values.
	MetricStatuses map[string]string `json:"metricStatuses,omitempty"`

	ApprovedBy   string     `json:"approvedBy,omitempty"`
	ApprovedDate *time.Time `json:"approvedDate,omitempty"`
}

// CheckMetric is one display-ready leaf value. Derived, never persisted.
type CheckMetric struct {
	Name          string           `json:"name"`
	Value         string           `json:"value"`
	Thresholds    string           `json:"thresholds"`
	AbsoluteValue string           `json:"absoluteValue,omitempty"`
	Status        threshold.Status `json:"status"`
}

// CheckResult is a named group of metrics with an aggregate status.
type CheckResult struct {
	Name         string        `json:"name"`
	Status       string        `json:"status"`
	Metrics      []CheckMetric `json:"metrics"`
	ApprovedBy   string        `json:"approvedBy,omitempty"`
	ApprovedDate *time.Time    `json:"approvedDate,omitempty"`
}

// DayAggregate is the full check tree for one machine/day.
type DayAggregate struct {
	BeamGroups []CheckResult `json:"beamGroups"`
	GeoGroups  []CheckResult `json:"geoGroups"`
}

// GraphDataPoint is one day's aggregated values keyed by sanitized metric
// key.
type GraphDataPoint struct {
	Date     string             `json:"date"`
	FullDate string             `json:"fullDate"`
	Values   map[string]float64 `json:"values"`
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
