// Package metric defines canonical metric identity, display formatting and
// default chart ranges for machine-QA measurements.
package metric

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type Family string

const (
	FamilyBeam Family = "beam"
	FamilyGeo  Family = "geometry"
)

// Beam metric bases.
const (
	BaseOutputChange     = "Output Change"
	BaseUniformityChange = "Uniformity Change"
	BaseCenterShift      = "Center Shift"
)

// ID identifies a metric without going through its display label, so two
// labels that sanitize to the same key stay distinguishable.
type ID struct {
	Family  Family
	Base    string
	Variant string
}

func (id ID) Label() string {
	if id.Family == FamilyBeam {
		return QualifyBeamMetric(id.Base, id.Variant)
	}
	return id.Base
}

func (id ID) Key() string {
	return SanitizeKey(id.Label())
}

func BeamID(base, variant string) ID {
	return ID{Family: FamilyBeam, Base: base, Variant: variant}
}

func GeoID(base string) ID {
	return ID{Family: FamilyGeo, Base: base}
}

// ParseLabel recovers the ID from a display label produced by Label.
func ParseLabel(family Family, label string) ID {
	if family == FamilyBeam {
		if open := strings.LastIndex(label, " ("); open >= 0 && strings.HasSuffix(label, ")") {
			return ID{Family: family, Base: label[:open], Variant: label[open+2 : len(label)-1]}
		}
	}
	return ID{Family: family, Base: label}
}

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)

// SanitizeKey maps a display label onto a series key. Not injective: distinct
// labels can collide, which is why series building checks for collisions.
func SanitizeKey(name string) string {
	return nonAlphanumeric.ReplaceAllString(name, "_")
}

// QualifyBeamMetric appends the beam variant to a base metric name.
func QualifyBeamMetric(base, variant string) string {
	if variant == "" {
		return base
	}
	return base + " (" + variant + ")"
}

// FormatValue renders a raw metric value for tabular display. Output and
// uniformity changes are percentages to 2 decimals; everything else is a
// plain number to 3 decimals. Missing values render as "-".
func FormatValue(metricName string, value any) string {
	if value == nil {
		return "-"
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return "-"
	}
	f, ok := toFloat(value)
	if !ok {
		return fmt.Sprint(value)
	}
	// NaN and Inf read as measurement glitches, not values
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "-"
	}
	lower := strings.ToLower(metricName)
	switch {
	case strings.Contains(lower, "output change"), strings.Contains(lower, "uniformity change"):
		return strconv.FormatFloat(f, 'f', 2, 64) + "%"
	case strings.Contains(lower, "center shift"):
		return strconv.FormatFloat(f, 'f', 3, 64)
	default:
		return strconv.FormatFloat(f, 'f', 3, 64)
	}
}

// DefaultDomain returns the fallback chart range for a metric.
func DefaultDomain(metricName string) (float64, float64) {
	lower := strings.ToLower(metricName)
	switch {
	case strings.Contains(lower, "output change"):
		return -6, 6
	case strings.Contains(lower, "uniformity change"):
		return -5, 5
	case strings.Contains(lower, "center shift"):
		return -4, 4
	default:
		return -6, 6
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// NaturalLess orders strings with embedded numbers numerically, so "6x"
// sorts before "10x" and "6xFFF" after "6x".
func NaturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		aDigit := isDigit(a[0])
		bDigit := isDigit(b[0])
		if aDigit && bDigit {
			aNum, aRest := leadingInt(a)
			bNum, bRest := leadingInt(b)
			if aNum != bNum {
				return aNum < bNum
			}
			a, b = aRest, bRest
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func leadingInt(s string) (int64, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	n, _ := strconv.ParseInt(s[:i], 10, 64)
	return n, s[i:]
}
