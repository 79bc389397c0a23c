// Package graph derives chart axis ranges and threshold shading bands from a
// multi-metric selection.
package graph

import (
	"math"

	"linacqa-backend/internal/checks"
	"linacqa-backend/internal/metric"
)

// thresholdBuffer keeps shading clear of the plot edge.
const thresholdBuffer = 0.5

// warningBandWidth is the warning zone immediately inside a threshold line.
const warningBandWidth = 0.1

// ComputeDomain returns the [min, max] axis range for a metric selection.
// The range seeds from the union of the metrics' default domains, expands to
// cover every sample and active baseline, and is padded once any expansion
// happened. An empty selection falls back to the global default.
func ComputeDomain(selected []metric.ID, chartData []checks.GraphDataPoint, baselines map[string]*float64, effectiveThreshold *float64) (float64, float64) {
	if len(selected) == 0 {
		return -6, 6
	}
	min := math.Inf(1)
	max := math.Inf(-1)
	for _, id := range selected {
		lo, hi := metric.DefaultDomain(id.Label())
		min = math.Min(min, lo)
		max = math.Max(max, hi)
	}

	expanded := false
	for _, point := range chartData {
		for _, id := range selected {
			v, ok := point.Values[id.Key()]
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			expanded = true
			min = math.Min(min, v)
			max = math.Max(max, v)
		}
	}
	for _, id := range selected {
		base, ok := baselines[id.Key()]
		if !ok || base == nil {
			continue
		}
		expanded = true
		min = math.Min(min, *base)
		max = math.Max(max, *base)
	}
	if effectiveThreshold != nil {
		t := math.Abs(*effectiveThreshold)
		if max < t+thresholdBuffer {
			max = t + thresholdBuffer
			expanded = true
		}
		if min > -t-thresholdBuffer {
			min = -t - thresholdBuffer
			expanded = true
		}
	}

	if min == max {
		pad := math.Max(math.Abs(min)*0.1, 0.5)
		return min - pad, max + pad
	}
	if !expanded {
		return min, max
	}
	pad := math.Max((max-min)*0.1, 0.1)
	return min - pad, max + pad
}

// EffectiveThreshold is the single symmetric tolerance shading is drawn at:
// the minimum absolute tolerance among the selection's resolved thresholds.
func EffectiveThreshold(tolerances []*float64) *float64 {
	var best *float64
	for _, tol := range tolerances {
		if tol == nil {
			continue
		}
		abs := math.Abs(*tol)
		if best == nil || abs < *best {
			v := abs
			best = &v
		}
	}
	return best
}

type BandKind string

const (
	BandWarning BandKind = "warning"
	BandFail    BandKind = "fail"
)

// Band is one horizontal shading interval for rendering.
type Band struct {
	Kind BandKind `json:"kind"`
	From float64  `json:"from"`
	To   float64  `json:"to"`
}

// Bands derives the warning and fail shading intervals for a domain: a
// warning strip immediately inside each ±threshold line and a fail zone
// from each line to the axis extreme.
func Bands(min, max float64, threshold *float64) []Band {
	if threshold == nil {
		return nil
	}
	t := math.Abs(*threshold)
	bands := []Band{}
	if t-warningBandWidth > min {
		bands = append(bands, Band{Kind: BandWarning, From: t - warningBandWidth, To: t})
		bands = append(bands, Band{Kind: BandWarning, From: -t, To: -t + warningBandWidth})
	}
	if max > t {
		bands = append(bands, Band{Kind: BandFail, From: t, To: max})
	}
	if min < -t {
		bands = append(bands, Band{Kind: BandFail, From: min, To: -t})
	}
	return bands
}
