package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"linacqa-backend/internal/bus"
	"linacqa-backend/internal/checks"
	"linacqa-backend/internal/doc"
	"linacqa-backend/internal/settings"
	"linacqa-backend/internal/storage"
	"linacqa-backend/internal/threshold"
)

func (h *Handler) handleThresholdsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	thresholds, err := h.Repo.ListThresholds(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list thresholds"})
		return
	}
	writeJSON(w, http.StatusOK, thresholds)
}

func (h *Handler) handleThresholdUpsert(w http.ResponseWriter, r *http.Request) {
	var req threshold.Threshold
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if req.MachineID == "" || req.CheckType == "" || req.MetricType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "machineId, checkType and metricType are required"})
		return
	}
	if req.CheckType != threshold.CheckTypeBeam && req.CheckType != threshold.CheckTypeGeometry {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "unknown checkType"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	svc := threshold.NewService(h.Repo)
	saved, err := svc.Upsert(ctx, req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to save threshold"})
		return
	}
	_ = h.Bus.Publish(bus.SubjectThresholdUpdated, map[string]any{"threshold_id": saved.ID, "machine_id": saved.MachineID})
	writeJSON(w, http.StatusOK, saved)
}

type applyVariantsRequest struct {
	MachineID  string             `json:"machineId"`
	Values     map[string]float64 `json:"values"`
	VariantIDs []string           `json:"variantIds,omitempty"`
}

// handleApplyVariants copies one value per beam metric to every beam variant
// of the machine. The apply is sequential; per-item failures are reported,
// prior successes stay.
func (h *Handler) handleApplyVariants(w http.ResponseWriter, r *http.Request) {
	var req applyVariantsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if req.MachineID == "" || len(req.Values) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "machineId and values are required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	variantIDs := req.VariantIDs
	if len(variantIDs) == 0 {
		variants, err := h.Repo.ListBeamVariants(ctx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list beam variants"})
			return
		}
		for _, v := range variants {
			variantIDs = append(variantIDs, v.ID)
		}
	}
	svc := threshold.NewService(h.Repo)
	result := svc.ApplyToAllVariants(ctx, req.MachineID, req.Values, variantIDs)
	_ = h.Bus.Publish(bus.SubjectThresholdBulkApplied, map[string]any{
		"machine_id": req.MachineID, "check_type": threshold.CheckTypeBeam,
		"applied": result.Applied, "failed": result.Failed,
	})
	writeJSON(w, http.StatusOK, result)
}

type applyGeometryRequest struct {
	MachineID   string   `json:"machineId"`
	Value       float64  `json:"value"`
	MetricTypes []string `json:"metricTypes,omitempty"`
}

// handleApplyGeometry broadcasts one tolerance across the scalar geometry
// metrics, all of them when no explicit list is given.
func (h *Handler) handleApplyGeometry(w http.ResponseWriter, r *http.Request) {
	var req applyGeometryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if req.MachineID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "machineId is required"})
		return
	}
	metricTypes := req.MetricTypes
	if len(metricTypes) == 0 {
		metricTypes = checks.GeoMetricLabels()
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	svc := threshold.NewService(h.Repo)
	result := svc.ApplyToAllGeometry(ctx, req.MachineID, req.Value, metricTypes)
	_ = h.Bus.Publish(bus.SubjectThresholdBulkApplied, map[string]any{
		"machine_id": req.MachineID, "check_type": threshold.CheckTypeGeometry,
		"applied": result.Applied, "failed": result.Failed,
	})
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDocFactorsList(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	factors, err := h.Repo.ListDocFactors(ctx, machineID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list doc factors"})
		return
	}
	writeJSON(w, http.StatusOK, factors)
}

func (h *Handler) handleDocFactorCreate(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "id")
	var req doc.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	req.MachineID = machineID
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	svc := doc.NewService(h.Repo)
	created, err := svc.Create(ctx, req)
	if err != nil {
		var invalid *doc.ValidationError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": invalid.Message})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to create doc factor"})
		return
	}
	_ = h.Bus.Publish(bus.SubjectDocFactorCreated, map[string]any{"doc_factor_id": created.ID, "machine_id": machineID})
	writeJSON(w, http.StatusOK, created)
}

// handleDocFactorBatch creates one factor per submitted variant. Variants
// failing validation are skipped and reported, never failing the batch.
func (h *Handler) handleDocFactorBatch(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "id")
	var req struct {
		Factors []doc.CreateInput `json:"factors"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if len(req.Factors) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "factors must not be empty"})
		return
	}
	for i := range req.Factors {
		req.Factors[i].MachineID = machineID
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	svc := doc.NewService(h.Repo)
	outcomes, err := svc.CreateBatch(ctx, req.Factors)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to create doc factors"})
		return
	}
	created := 0
	for _, outcome := range outcomes {
		if outcome.Created != nil {
			created++
			_ = h.Bus.Publish(bus.SubjectDocFactorCreated, map[string]any{"doc_factor_id": outcome.Created.ID, "machine_id": machineID})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "created": created, "outcomes": outcomes})
}

func (h *Handler) handleDocFactorDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Repo.DeleteDocFactor(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "doc factor not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to delete doc factor"})
		return
	}
	_ = h.Bus.Publish(bus.SubjectDocFactorDeleted, map[string]any{"doc_factor_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	loaded, err := h.Settings.Load()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to load settings"})
		return
	}
	writeJSON(w, http.StatusOK, loaded)
}

func (h *Handler) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var req settings.Settings
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if err := h.Settings.Save(req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to save settings"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
