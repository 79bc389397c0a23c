package api

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"linacqa-backend/internal/baseline"
	"linacqa-backend/internal/checks"
	"linacqa-backend/internal/graph"
	"linacqa-backend/internal/metric"
	"linacqa-backend/internal/threshold"
)

type seriesRequest struct {
	From     string             `json:"from"`
	To       string             `json:"to"`
	Metrics  []metricSelector   `json:"metrics"`
	Baseline *baseline.Settings `json:"baseline,omitempty"`
}

// handleSeries returns the raw daily series for the requested metrics.
// Metrics are passed as repeated metric=family:label query params.
func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "id")
	from, to, err := parseRange(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	selected, err := parseQuerySelectors(r.URL.Query()["metric"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	points, err := h.loadSeries(ctx, machineID, selected, from, to)
	if err != nil {
		writeSeriesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

// handleSeriesNormalized builds the series and rewrites every baselined
// metric as its delta from the resolved baseline. With no baseline settings
// in the body the stored client settings apply.
func (h *Handler) handleSeriesNormalized(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "id")
	var req seriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	selected, from, to, err := h.parseSeriesRequest(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	points, err := h.loadSeries(ctx, machineID, selected, from, to)
	if err != nil {
		writeSeriesError(w, err)
		return
	}
	result, err := h.resolveBaseline(ctx, machineID, selected, points, req.Baseline)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to resolve baseline"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points":   baseline.Apply(points, result),
		"baseline": result,
	})
}

// handleGraphDomain computes the y-axis window and tolerance bands for the
// requested metric selection over its normalized series.
func (h *Handler) handleGraphDomain(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "id")
	var req seriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	selected, from, to, err := h.parseSeriesRequest(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	points, err := h.loadSeries(ctx, machineID, selected, from, to)
	if err != nil {
		writeSeriesError(w, err)
		return
	}
	result, err := h.resolveBaseline(ctx, machineID, selected, points, req.Baseline)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to resolve baseline"})
		return
	}
	normalized := baseline.Apply(points, result)
	effective, err := h.effectiveThreshold(ctx, machineID, selected)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to resolve thresholds"})
		return
	}
	min, max := graph.ComputeDomain(selected, normalized, result.ValuesByKey, effective)
	writeJSON(w, http.StatusOK, map[string]any{
		"min":                min,
		"max":                max,
		"effectiveThreshold": effective,
		"bands":              graph.Bands(min, max, effective),
	})
}

// handleGraphPNG renders the normalized series as a PNG chart. Pass
// normalize=false to chart raw values.
func (h *Handler) handleGraphPNG(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "id")
	from, to, err := parseRange(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	selected, err := parseQuerySelectors(r.URL.Query()["metric"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	points, err := h.loadSeries(ctx, machineID, selected, from, to)
	if err != nil {
		writeSeriesError(w, err)
		return
	}
	if r.URL.Query().Get("normalize") != "false" {
		result, err := h.resolveBaseline(ctx, machineID, selected, points, nil)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to resolve baseline"})
			return
		}
		points = baseline.Apply(points, result)
	}
	effective, err := h.effectiveThreshold(ctx, machineID, selected)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to resolve thresholds"})
		return
	}
	min, max := graph.ComputeDomain(selected, points, nil, effective)
	var buf bytes.Buffer
	if err := graph.Render(&buf, points, selected, min, max, graph.Bands(min, max, effective)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to render chart"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) parseSeriesRequest(req seriesRequest) ([]metric.ID, time.Time, time.Time, error) {
	from, to, err := parseRange(map[string][]string{"from": {req.From}, "to": {req.To}})
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	selected, err := parseSelectors(req.Metrics)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	return selected, from, to, nil
}

func (h *Handler) loadSeries(ctx context.Context, machineID string, selected []metric.ID, from, to time.Time) ([]checks.GraphDataPoint, error) {
	beamChecks, err := h.Repo.ListBeamChecks(ctx, machineID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	geoChecks, err := h.Repo.ListGeoChecks(ctx, machineID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return checks.BuildSeries(selected, beamChecks, geoChecks, from, to)
}

// resolveBaseline computes baselines under the given settings, falling back
// to the stored client settings. Date-mode reference days outside the loaded
// range are fetched on demand.
func (h *Handler) resolveBaseline(ctx context.Context, machineID string, selected []metric.ID, points []checks.GraphDataPoint, override *baseline.Settings) (baseline.Result, error) {
	cfg := override
	if cfg == nil {
		stored, err := h.Settings.Load()
		if err != nil {
			return baseline.Result{}, err
		}
		cfg = &stored.Baseline
	}
	fetchDay := func(date string) (map[string]float64, error) {
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, err
		}
		beamChecks, err := h.Repo.ListBeamChecks(ctx, machineID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
		geoChecks, err := h.Repo.ListGeoChecks(ctx, machineID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
		return checks.DayValues(selected, beamChecks, geoChecks, day), nil
	}
	return baseline.Compute(*cfg, selected, points, fetchDay)
}

// effectiveThreshold resolves each selected metric's tolerance and takes the
// tightest one for band placement.
func (h *Handler) effectiveThreshold(ctx context.Context, machineID string, selected []metric.ID) (*float64, error) {
	thresholds, err := h.Repo.ListThresholds(ctx)
	if err != nil {
		return nil, err
	}
	variants, err := h.Repo.ListBeamVariants(ctx)
	if err != nil {
		return nil, err
	}
	variantIDs := make(map[string]string, len(variants))
	for _, v := range variants {
		variantIDs[v.Variant] = v.ID
	}
	resolver := threshold.NewResolver(thresholds)
	tolerances := make([]*float64, 0, len(selected))
	for _, id := range selected {
		if id.Family == metric.FamilyBeam {
			tolerances = append(tolerances, resolver.Resolve(machineID, threshold.CheckTypeBeam,
				beamThresholdType(id.Base), variantIDs[id.Variant], id.Variant))
			continue
		}
		tolerances = append(tolerances, resolver.Resolve(machineID, threshold.CheckTypeGeometry, id.Base, "", ""))
	}
	return graph.EffectiveThreshold(tolerances), nil
}

// beamThresholdType maps a beam display base onto its stored threshold
// metric type.
func beamThresholdType(base string) string {
	switch base {
	case metric.BaseOutputChange:
		return checks.MetricRelativeOutput
	case metric.BaseUniformityChange:
		return checks.MetricRelativeUniformity
	default:
		return checks.MetricCenterShift
	}
}

// writeSeriesError distinguishes the caller-induced key collision from
// storage failures.
func writeSeriesError(w http.ResponseWriter, err error) {
	if _, ok := err.(*checks.KeyCollisionError); ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to build series"})
}
