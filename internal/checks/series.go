package checks

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"linacqa-backend/internal/metric"
)

// scalar geometry accessors by display label, derived from the group layout.
var geoAccessors = func() map[string]func(*GeoCheckRecord) *float64 {
	out := map[string]func(*GeoCheckRecord) *float64{}
	for _, fields := range geoScalarGroups {
		for _, f := range fields {
			out[f.label] = f.value
		}
	}
	return out
}()

// KeyCollisionError reports two selected metrics whose labels sanitize to
// the same series key. The selection is caller input, so consumers can map
// this to a client error.
type KeyCollisionError struct {
	LabelA, LabelB, Key string
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("metric key collision: %q and %q both map to %q", e.LabelA, e.LabelB, e.Key)
}

// BuildSeries turns a date range of raw records into one chart point per
// measured day, keyed by sanitized metric key. Two selected metrics whose
// labels sanitize to the same key are rejected instead of silently merged.
func BuildSeries(selected []metric.ID, beamChecks []BeamCheckRecord, geoChecks []GeoCheckRecord, from, to time.Time) ([]GraphDataPoint, error) {
	keys := map[string]string{}
	for _, id := range selected {
		label := id.Label()
		key := metric.SanitizeKey(label)
		if prev, ok := keys[key]; ok && prev != label {
			return nil, &KeyCollisionError{LabelA: prev, LabelB: label, Key: key}
		}
		keys[key] = label
	}

	days := map[string]time.Time{}
	collect := func(ts time.Time) {
		day := ts.UTC().Truncate(24 * time.Hour)
		if day.Before(from.UTC().Truncate(24*time.Hour)) || day.After(to.UTC().Truncate(24*time.Hour)) {
			return
		}
		days[day.Format("2006-01-02")] = day
	}
	for _, r := range beamChecks {
		collect(r.Timestamp)
	}
	for _, r := range geoChecks {
		collect(r.Timestamp)
	}

	ordered := make([]string, 0, len(days))
	for k := range days {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	points := make([]GraphDataPoint, 0, len(ordered))
	for _, dayKey := range ordered {
		day := days[dayKey]
		values := DayValues(selected, beamChecks, geoChecks, day)
		points = append(points, GraphDataPoint{
			Date:     day.Format("Jan 02"),
			FullDate: dayKey,
			Values:   values,
		})
	}
	return points, nil
}

// DayValues extracts all selected metric values measured on one day. Metrics
// without a measurement that day are absent from the map, and so are
// non-finite readings: a NaN in the map would poison every consumer from
// baseline math to JSON encoding.
func DayValues(selected []metric.ID, beamChecks []BeamCheckRecord, geoChecks []GeoCheckRecord, day time.Time) map[string]float64 {
	values := map[string]float64{}
	for _, id := range selected {
		var v *float64
		switch id.Family {
		case metric.FamilyBeam:
			v = beamValue(id, beamChecks, day)
		case metric.FamilyGeo:
			v = geoValue(id, geoChecks, day)
		}
		if v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) {
			values[id.Key()] = *v
		}
	}
	return values
}

func beamValue(id metric.ID, records []BeamCheckRecord, day time.Time) *float64 {
	for i := range records {
		r := &records[i]
		if !sameDay(r.Timestamp, day) {
			continue
		}
		if r.BeamVariantName != id.Variant && r.BeamVariantID != id.Variant {
			continue
		}
		switch id.Base {
		case metric.BaseOutputChange:
			return r.RelativeOutput
		case metric.BaseUniformityChange:
			return r.RelativeUniformity
		case metric.BaseCenterShift:
			return r.CenterShift
		}
	}
	return nil
}

func geoValue(id metric.ID, records []GeoCheckRecord, day time.Time) *float64 {
	record := findGeoRecord(records, day)
	if record == nil {
		return nil
	}
	if accessor, ok := geoAccessors[id.Base]; ok {
		return accessor(record)
	}
	// per-leaf metrics: "<prefix> <leafNumber>"
	for _, leaf := range geoLeafGroups {
		if !strings.HasPrefix(id.Base, leaf.prefix+" ") {
			continue
		}
		leafNum := strings.TrimPrefix(id.Base, leaf.prefix+" ")
		if v, ok := leaf.values(record)[leafNum]; ok {
			return &v
		}
	}
	return nil
}
