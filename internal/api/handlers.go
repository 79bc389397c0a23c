// Package api exposes the QA evaluation engine over HTTP: daily check
// aggregates, metric time series, baseline normalization, tolerance and
// correction-factor administration, and chart rendering.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"linacqa-backend/internal/bus"
	"linacqa-backend/internal/checks"
	"linacqa-backend/internal/doc"
	"linacqa-backend/internal/metric"
	"linacqa-backend/internal/settings"
	"linacqa-backend/internal/threshold"
)

const dateLayout = "2006-01-02"

// Repository is the persistence surface the handlers need. The pgx-backed
// implementation lives in internal/storage.
type Repository interface {
	ListMachines(ctx context.Context) ([]checks.Machine, error)
	ListBeamVariants(ctx context.Context) ([]checks.BeamVariant, error)
	ListBeamChecks(ctx context.Context, machineID string, from, to time.Time) ([]checks.BeamCheckRecord, error)
	ListGeoChecks(ctx context.Context, machineID string, from, to time.Time) ([]checks.GeoCheckRecord, error)
	ListThresholds(ctx context.Context) ([]threshold.Threshold, error)
	UpsertThreshold(ctx context.Context, t threshold.Threshold) (threshold.Threshold, error)
	ListDocFactors(ctx context.Context, machineID string) ([]doc.Factor, error)
	CreateDocFactor(ctx context.Context, f doc.Factor) (doc.Factor, error)
	DeleteDocFactor(ctx context.Context, id string) error
	ApproveChecks(ctx context.Context, ids []string, approvedBy string) error
}

// EventPublisher decouples handlers from the NATS connection.
type EventPublisher interface {
	Publish(subject string, payload any) error
}

type Handler struct {
	Repo     Repository
	Bus      EventPublisher
	Settings settings.Store
	Timeout  time.Duration
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/machines", h.handleMachinesList)
		r.Route("/machines/{id}", func(r chi.Router) {
			r.Get("/checks", h.handleChecksDay)
			r.Get("/series", h.handleSeries)
			r.Post("/series/normalized", h.handleSeriesNormalized)
			r.Post("/graph/domain", h.handleGraphDomain)
			r.Get("/graph.png", h.handleGraphPNG)
			r.Get("/doc-factors", h.handleDocFactorsList)
			r.Post("/doc-factors", h.handleDocFactorCreate)
			r.Post("/doc-factors/batch", h.handleDocFactorBatch)
		})
		r.Get("/thresholds", h.handleThresholdsList)
		r.Post("/thresholds", h.handleThresholdUpsert)
		r.Post("/thresholds/apply-variants", h.handleApplyVariants)
		r.Post("/thresholds/apply-geometry", h.handleApplyGeometry)
		r.Delete("/doc-factors/{id}", h.handleDocFactorDelete)
		r.Post("/checks/approve", h.handleChecksApprove)
		r.Get("/settings", h.handleSettingsGet)
		r.Put("/settings", h.handleSettingsPut)
	})
}

func (h *Handler) handleMachinesList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	machines, err := h.Repo.ListMachines(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list machines"})
		return
	}
	writeJSON(w, http.StatusOK, machines)
}

// handleChecksDay returns one day's aggregated beam and geometry groups for a
// machine. Days with no records still produce placeholder beam groups, one
// per known variant.
func (h *Handler) handleChecksDay(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "id")
	day, err := parseDate(r.URL.Query().Get("date"), time.Now().UTC())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	agg, variants, beamChecks, geoChecks, err := h.loadDay(ctx, machineID, day)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to load checks"})
		return
	}
	writeJSON(w, http.StatusOK, agg.AggregateDay(machineID, day, variants, beamChecks, geoChecks))
}

// loadDay assembles the aggregation inputs for one machine-day.
func (h *Handler) loadDay(ctx context.Context, machineID string, day time.Time) (*checks.Aggregator, []checks.BeamVariant, []checks.BeamCheckRecord, []checks.GeoCheckRecord, error) {
	variants, err := h.Repo.ListBeamVariants(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	thresholds, err := h.Repo.ListThresholds(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	factors, err := h.Repo.ListDocFactors(ctx, machineID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	beamChecks, err := h.Repo.ListBeamChecks(ctx, machineID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	geoChecks, err := h.Repo.ListGeoChecks(ctx, machineID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	agg := checks.NewAggregator(threshold.NewResolver(thresholds), doc.NewCatalog(factors))
	return agg, variants, beamChecks, geoChecks, nil
}

func (h *Handler) handleChecksApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs        []string `json:"ids"`
		ApprovedBy string   `json:"approvedBy"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if len(req.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "ids must not be empty"})
		return
	}
	if req.ApprovedBy == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "approvedBy is required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.ApproveChecks(ctx, req.IDs, req.ApprovedBy); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to approve checks"})
		return
	}
	_ = h.Bus.Publish(bus.SubjectChecksApproved, map[string]any{"ids": req.IDs, "approved_by": req.ApprovedBy})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "approved": len(req.IDs)})
}

// metricSelector names one series metric in request bodies.
type metricSelector struct {
	Family string `json:"family"`
	Label  string `json:"label"`
}

func parseSelectors(selectors []metricSelector) ([]metric.ID, error) {
	ids := make([]metric.ID, 0, len(selectors))
	for _, s := range selectors {
		family := metric.Family(s.Family)
		if family != metric.FamilyBeam && family != metric.FamilyGeo {
			return nil, fmt.Errorf("unknown metric family %q", s.Family)
		}
		if s.Label == "" {
			return nil, fmt.Errorf("metric label must not be empty")
		}
		ids = append(ids, metric.ParseLabel(family, s.Label))
	}
	return ids, nil
}

// parseQuerySelectors reads repeated metric=family:label query params.
func parseQuerySelectors(values []string) ([]metric.ID, error) {
	selectors := make([]metricSelector, 0, len(values))
	for _, v := range values {
		var s metricSelector
		for i := 0; i < len(v); i++ {
			if v[i] == ':' {
				s.Family, s.Label = v[:i], v[i+1:]
				break
			}
		}
		if s.Family == "" {
			return nil, fmt.Errorf("metric %q must be family:label", v)
		}
		selectors = append(selectors, s)
	}
	return parseSelectors(selectors)
}

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback.Truncate(24 * time.Hour), nil
	}
	day, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return day, nil
}

func parseRange(q map[string][]string) (time.Time, time.Time, error) {
	from, err := parseDate(first(q["from"]), time.Time{})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(first(q["to"]), time.Time{})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("from and to are required")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must not precede from")
	}
	return from, to, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
