// Package threshold resolves operator-configured tolerances and classifies
// measured values against them.
package threshold

import (
	"strconv"
	"time"
)

const (
	CheckTypeBeam     = "beam"
	CheckTypeGeometry = "geometry"
)

type Threshold struct {
	ID            string     `json:"id,omitempty"`
	MachineID     string     `json:"machineId"`
	CheckType     string     `json:"checkType"`
	MetricType    string     `json:"metricType"`
	BeamVariantID string     `json:"beamVariantId,omitempty"`
	Value         float64    `json:"value"`
	LastUpdated   *time.Time `json:"lastUpdated,omitempty"`
}

// Resolver answers tolerance lookups over a loaded threshold set.
type Resolver struct {
	thresholds []Threshold
}

func NewResolver(thresholds []Threshold) *Resolver {
	return &Resolver{thresholds: thresholds}
}

// Resolve returns the configured tolerance for the key, or nil when none is
// configured. Absence is a valid state, not an error, and never means zero.
// Beam lookups match the variant by UUID or by its legacy display name,
// since historical thresholds were stored with either.
func (r *Resolver) Resolve(machineID, checkType, metricType, variantID, variantName string) *float64 {
	for i := range r.thresholds {
		t := &r.thresholds[i]
		if t.MachineID != machineID || t.CheckType != checkType || t.MetricType != metricType {
			continue
		}
		if variantID == "" && variantName == "" {
			if t.BeamVariantID == "" {
				v := t.Value
				return &v
			}
			continue
		}
		if t.BeamVariantID == variantID || (variantName != "" && t.BeamVariantID == variantName) {
			v := t.Value
			return &v
		}
	}
	return nil
}

// Status classification for a measured value.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusWarning Status = "warning"
)

// Classify compares a value's magnitude against a tolerance. A nil tolerance
// leaves the value unclassified (warning), matching how missing data rows
// are presented.
func Classify(value float64, tolerance *float64) Status {
	if tolerance == nil {
		return StatusWarning
	}
	if value < -*tolerance || value > *tolerance {
		return StatusFail
	}
	return StatusPass
}

// FormatTolerance renders the tolerance column. Symmetric tolerances are
// percentages around zero, magnitude tolerances are plain upper bounds.
func FormatTolerance(value *float64, symmetric bool) string {
	if value == nil {
		return ""
	}
	if symmetric {
		return "± " + strconv.FormatFloat(*value, 'f', 2, 64) + "%"
	}
	return "≤ " + strconv.FormatFloat(*value, 'f', 3, 64)
}
