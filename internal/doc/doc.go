// Package doc resolves time-versioned dose output correction factors used to
// convert a machine's relative output reading into an absolute dose ratio.
package doc

import (
	"math"
	"time"
)

// Factor is one time-bounded correction for a (machine, beam variant) pair.
// Factors for a pair form a timeline ordered by StartDate; the factor current
// at a date is the one with the latest start not after it.
type Factor struct {
	ID              string     `json:"id"`
	MachineID       string     `json:"machineId"`
	BeamVariantID   string     `json:"beamVariantId"`
	BeamID          string     `json:"beamId"`
	MsdAbs          float64    `json:"msdAbs"`
	MpcRel          *float64   `json:"mpcRel"`
	DocFactor       float64    `json:"docFactor"`
	MeasurementDate time.Time  `json:"measurementDate"`
	StartDate       time.Time  `json:"startDate"`
	EndDate         *time.Time `json:"endDate,omitempty"`
}

// Inclusive acceptance band for manually measured absolute dose.
const (
	MsdAbsMin = 0.97
	MsdAbsMax = 1.03
)

// ComputeFactor derives docFactor = msdAbs / (1 + mpcRel/100). A missing
// MPC reading or a non-finite result yields no factor rather than NaN.
func ComputeFactor(msdAbs float64, mpcRel *float64) *float64 {
	if mpcRel == nil || math.IsNaN(*mpcRel) || math.IsNaN(msdAbs) {
		return nil
	}
	f := msdAbs / (1 + *mpcRel/100)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ValidMsdAbs reports whether a manual dose measurement is inside the
// accepted band. Boundaries are inclusive.
func ValidMsdAbs(msdAbs float64) bool {
	return !math.IsNaN(msdAbs) && msdAbs >= MsdAbsMin && msdAbs <= MsdAbsMax
}

// CurrentFactor selects the factor valid on a date for a machine/variant
// pair, or nil when none applies. A factor whose EndDate is on or before the
// date is excluded; ties on StartDate resolve to the latest.
func CurrentFactor(factors []Factor, machineID, beamVariantID string, on time.Time) *Factor {
	var best *Factor
	for i := range factors {
		f := &factors[i]
		if f.MachineID != machineID || f.BeamVariantID != beamVariantID {
			continue
		}
		if f.StartDate.After(on) {
			continue
		}
		if f.EndDate != nil && !f.EndDate.After(on) {
			continue
		}
		if best == nil || f.StartDate.After(best.StartDate) || f.StartDate.Equal(best.StartDate) {
			best = f
		}
	}
	return best
}

// Catalog answers current-factor lookups over a loaded factor set.
type Catalog struct {
	factors []Factor
}

func NewCatalog(factors []Factor) *Catalog {
	return &Catalog{factors: factors}
}

func (c *Catalog) CurrentFactor(machineID, beamVariantID string, on time.Time) *Factor {
	return CurrentFactor(c.factors, machineID, beamVariantID, on)
}

// overlaps reports whether two factor validity windows intersect.
func overlaps(a, b Factor) bool {
	if a.EndDate != nil && !a.EndDate.After(b.StartDate) {
		return false
	}
	if b.EndDate != nil && !b.EndDate.After(a.StartDate) {
		return false
	}
	return true
}
