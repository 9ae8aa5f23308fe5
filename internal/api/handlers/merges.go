package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/api/middleware"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/merge"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

// MergesHandler exposes merge detection and execution.
type MergesHandler struct {
	engine *merge.Engine
	store  store.Store
	log    zerolog.Logger
}

// NewMergesHandler creates the merges handler.
func NewMergesHandler(engine *merge.Engine, st store.Store, log zerolog.Logger) *MergesHandler {
	return &MergesHandler{
		engine: engine,
		store:  st,
		log:    log,
	}
}

// Detect handles POST /api/merges/detect.
func (h *MergesHandler) Detect(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.DetectMerges(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Merge detection failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Merge detection failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// ListSuggestions handles GET /api/merges/suggestions.
func (h *MergesHandler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := h.store.ListPendingSuggestions(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list suggestions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list suggestions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// Merge handles POST /api/merges.
func (h *MergesHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetID    string   `json:"target_id"`
		BusinessIDs []string `json:"business_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.engine.MergeBusinesses(r.Context(), req.TargetID, req.BusinessIDs)
	if err != nil {
		h.writeEngineError(w, err, "Merge failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// RejectSuggestion handles POST /api/merges/suggestions/{id}/reject.
func (h *MergesHandler) RejectSuggestion(w http.ResponseWriter, r *http.Request, suggestionID string) {
	if err := h.engine.RejectSuggestion(r.Context(), suggestionID); err != nil {
		h.writeEngineError(w, err, "Failed to reject suggestion")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// Unmerge handles POST /api/businesses/{id}/unmerge.
func (h *MergesHandler) Unmerge(w http.ResponseWriter, r *http.Request, businessID string) {
	result, err := h.engine.UnmergeBusiness(r.Context(), businessID)
	if err != nil {
		h.writeEngineError(w, err, "Unmerge failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

// DeleteBusiness handles DELETE /api/businesses/{id}?mode=parent_only|cascade.
func (h *MergesHandler) DeleteBusiness(w http.ResponseWriter, r *http.Request, businessID string) {
	mode := merge.DeleteMode(r.URL.Query().Get("mode"))

	if err := h.engine.DeleteBusiness(r.Context(), businessID, mode); err != nil {
		h.writeEngineError(w, err, "Failed to delete business")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *MergesHandler) writeEngineError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Business or suggestion not found")
	case errors.Is(err, merge.ErrInvalidMergeRequest):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, merge.ErrMergedBusiness), errors.Is(err, merge.ErrDeleteModeRequired):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}
