package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/api/middleware"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/recon"
)

// TransactionsHandler exposes the guarded transaction deletion flow.
type TransactionsHandler struct {
	engine *recon.Engine
	log    zerolog.Logger
}

// NewTransactionsHandler creates the transactions handler.
func NewTransactionsHandler(engine *recon.Engine, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{engine: engine, log: log}
}

// Delete handles DELETE /api/transactions. A request that would break
// up an installment group or a subscription stream comes back 409 with
// the split detail; the caller re-sends with confirmed=true.
func (h *TransactionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionIDs []string `json:"transaction_ids"`
		Confirmed      bool     `json:"confirmed,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.TransactionIDs) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "transaction_ids are required")
		return
	}

	err := h.engine.DeleteTransactions(r.Context(), req.TransactionIDs, req.Confirmed)
	if err != nil {
		var partial *recon.PartialGroupDeletionError
		if errors.As(err, &partial) {
			middleware.WriteJSON(w, http.StatusConflict, map[string]interface{}{
				"error":  "deletion would split groups; re-send with confirmed=true",
				"splits": partial.Splits,
			})
			return
		}
		h.log.Error().Err(err).Msg("Failed to delete transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to delete transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "deleted",
		"deleted": len(req.TransactionIDs),
	})
}
