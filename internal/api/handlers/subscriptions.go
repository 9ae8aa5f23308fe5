package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/api/middleware"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/subscription"
)

// SubscriptionsHandler exposes subscription creation and cancellation.
type SubscriptionsHandler struct {
	engine *subscription.Engine
	log    zerolog.Logger
}

// NewSubscriptionsHandler creates the subscriptions handler.
func NewSubscriptionsHandler(engine *subscription.Engine, log zerolog.Logger) *SubscriptionsHandler {
	return &SubscriptionsHandler{engine: engine, log: log}
}

// Create handles POST /api/subscriptions.
func (h *SubscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BusinessID             string          `json:"business_id"`
		CardLast4              string          `json:"card_last4"`
		Amount                 decimal.Decimal `json:"amount"`
		Frequency              string          `json:"frequency"`
		StartDate              string          `json:"start_date"`
		EndDate                string          `json:"end_date,omitempty"`
		CreatedFromSuggestion  bool            `json:"created_from_suggestion,omitempty"`
		BackfillTransactionIDs []string        `json:"backfill_transaction_ids,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
		return
	}

	params := subscription.CreateParams{
		BusinessID:             req.BusinessID,
		CardLast4:              req.CardLast4,
		Amount:                 req.Amount,
		Frequency:              domain.SubscriptionFrequency(req.Frequency),
		StartDate:              startDate,
		CreatedFromSuggestion:  req.CreatedFromSuggestion,
		BackfillTransactionIDs: req.BackfillTransactionIDs,
	}
	if req.EndDate != "" {
		endDate, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
		params.EndDate = &endDate
	}

	result, err := h.engine.Create(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrInvalidParams):
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			middleware.WriteError(w, http.StatusNotFound, "Business not found")
		default:
			h.log.Error().Err(err).Msg("Failed to create subscription")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to create subscription")
		}
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, result)
}

// Cancel handles DELETE /api/subscriptions/{id}?end_date=YYYY-MM-DD.
// Without end_date the subscription ends today.
func (h *SubscriptionsHandler) Cancel(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	endDate := time.Now()
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
		endDate = parsed
	}

	if err := h.engine.Cancel(r.Context(), subscriptionID, endDate); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Subscription not found")
			return
		}
		h.log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("Failed to cancel subscription")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to cancel subscription")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
