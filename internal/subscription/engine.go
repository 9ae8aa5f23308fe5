// Package subscription generates the transaction stream of a
// recurring-charge definition: completed backfills for already-elapsed
// occurrences and projected placeholders for future ones. The
// reconciliation engine completes the placeholders as real bank charges
// arrive.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/hash"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

// ErrInvalidParams reports a malformed subscription definition.
var ErrInvalidParams = errors.New("subscription: invalid parameters")

// openEndedHorizonYears bounds projection for subscriptions with no end
// date.
const openEndedHorizonYears = 3

// backfillMatchWindowDays is how far a caller-supplied backfilled
// transaction may sit from an occurrence date and still cover it.
const backfillMatchWindowDays = 15

// CreateParams defines a new subscription.
type CreateParams struct {
	BusinessID string
	CardLast4  string

	Amount    decimal.Decimal
	Frequency domain.SubscriptionFrequency

	StartDate time.Time
	EndDate   *time.Time

	CreatedFromSuggestion bool

	// BackfillTransactionIDs are pre-existing real transactions the
	// caller already identified as occurrences of this subscription.
	// They are linked to the subscription; no synthetic row is generated
	// for the dates they cover.
	BackfillTransactionIDs []string
}

// CreateResult reports what subscription creation produced.
type CreateResult struct {
	Subscription    *domain.Subscription `json:"subscription"`
	ProjectedCount  int                  `json:"projected_count"`
	BackfilledCount int                  `json:"backfilled_count"`
	LinkedCount     int                  `json:"linked_count"`
}

// Engine computes subscription projections. Projection is synchronous
// at creation time; there is no recurring job.
type Engine struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a subscription engine.
func New(st store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		store: st,
		log:   log,
		now:   time.Now,
	}
}

// Create persists the subscription and generates one transaction per
// expected occurrence from StartDate to EndDate (or the open-ended
// horizon): elapsed occurrences as completed backfills, future ones as
// projected placeholders.
func (e *Engine) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	business, err := e.store.GetBusiness(ctx, params.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("loading business: %w", err)
	}
	if !business.Active() {
		return nil, fmt.Errorf("%w: business %s was merged away", ErrInvalidParams, business.ID)
	}

	now := e.now()
	sub := &domain.Subscription{
		ID:                    uuid.NewString(),
		BusinessID:            params.BusinessID,
		CardLast4:             params.CardLast4,
		Amount:                params.Amount,
		Frequency:             params.Frequency,
		StartDate:             params.StartDate,
		EndDate:               copyTime(params.EndDate),
		Status:                domain.SubscriptionActive,
		CreatedFromSuggestion: params.CreatedFromSuggestion,
		CreatedAt:             now,
	}
	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}

	result := &CreateResult{Subscription: sub}

	linked, err := e.linkBackfills(ctx, sub, params.BackfillTransactionIDs)
	if err != nil {
		return nil, err
	}
	result.LinkedCount = len(linked)

	horizon := params.StartDate.AddDate(openEndedHorizonYears, 0, 0)
	if params.EndDate != nil {
		horizon = *params.EndDate
	}

	// Each occurrence is normalized from the start date rather than from
	// the previous occurrence, so a month-end start does not drift when
	// AddDate rolls a short month over.
	step := params.Frequency.Months()
	for i := 0; ; i++ {
		d := params.StartDate.AddDate(0, i*step, 0)
		if d.After(horizon) {
			break
		}
		if coveredByBackfill(d, linked) {
			continue
		}

		tx, projected := e.occurrenceRow(sub, business.NormalizedName, d, now)
		if err := e.store.InsertTransaction(ctx, tx); err != nil {
			if errors.Is(err, store.ErrDuplicateHash) {
				// A real charge with this exact identity is already stored;
				// adopt it into the stream instead of generating a twin.
				if adopted := e.adoptExisting(ctx, tx.Hash, sub.ID); adopted {
					result.LinkedCount++
				}
				continue
			}
			return nil, fmt.Errorf("inserting occurrence for %s: %w", d.Format("2006-01-02"), err)
		}
		if projected {
			result.ProjectedCount++
		} else {
			result.BackfilledCount++
		}
	}

	e.log.Info().
		Str("subscription_id", sub.ID).
		Str("business_id", sub.BusinessID).
		Int("projected", result.ProjectedCount).
		Int("backfilled", result.BackfilledCount).
		Int("linked", result.LinkedCount).
		Msg("Subscription created")

	return result, nil
}

// Cancel ends the subscription at endDate: future projected rows are
// cancelled, completed history stays.
func (e *Engine) Cancel(ctx context.Context, id string, endDate time.Time) error {
	sub, err := e.store.GetSubscription(ctx, id)
	if err != nil {
		return fmt.Errorf("loading subscription: %w", err)
	}

	now := e.now()
	sub.Status = domain.SubscriptionCancelled
	sub.EndDate = &endDate
	sub.UpdatedAt = &now
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}

	stream, err := e.store.ListTransactionsBySubscription(ctx, id)
	if err != nil {
		return fmt.Errorf("loading subscription stream: %w", err)
	}

	cancelled := 0
	for _, tx := range stream {
		if tx.Status != domain.StatusProjected {
			continue
		}
		if tx.ProjectedChargeDate != nil && !tx.ProjectedChargeDate.After(endDate) {
			continue
		}
		tx.Status = domain.StatusCancelled
		tx.UpdatedAt = &now
		if err := e.store.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("cancelling projected row %s: %w", tx.ID, err)
		}
		cancelled++
	}

	e.log.Info().Str("subscription_id", id).Int("cancelled_rows", cancelled).Msg("Subscription cancelled")
	return nil
}

// occurrenceRow builds the synthetic transaction for one occurrence
// date. The hash matches what the reconciliation engine computes for
// the eventual real charge, so the two always reconcile.
func (e *Engine) occurrenceRow(sub *domain.Subscription, normalizedName string, date time.Time, now time.Time) (*domain.Transaction, bool) {
	h := hash.Transaction(normalizedName, date, sub.Amount, sub.CardLast4, 0, domain.PaymentOneTime, false)
	d := date

	tx := &domain.Transaction{
		ID:               uuid.NewString(),
		Hash:             h,
		BusinessID:       sub.BusinessID,
		CardLast4:        sub.CardLast4,
		DealDate:         date,
		ChargedAmountILS: sub.Amount,
		PaymentType:      domain.PaymentOneTime,
		TransactionType:  domain.TypeSubscription,
		SubscriptionID:   sub.ID,
		CreatedAt:        now,
	}

	if date.Before(now) {
		tx.Status = domain.StatusCompleted
		tx.ActualChargeDate = &d
		return tx, false
	}
	tx.Status = domain.StatusProjected
	tx.ProjectedChargeDate = &d
	return tx, true
}

// linkBackfills attaches the caller's pre-existing transactions to the
// subscription.
func (e *Engine) linkBackfills(ctx context.Context, sub *domain.Subscription, ids []string) ([]*domain.Transaction, error) {
	var linked []*domain.Transaction
	now := e.now()
	for _, id := range ids {
		tx, err := e.store.GetTransaction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading backfill transaction %s: %w", id, err)
		}
		tx.SubscriptionID = sub.ID
		tx.TransactionType = domain.TypeSubscription
		tx.UpdatedAt = &now
		if err := e.store.UpdateTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("linking backfill transaction %s: %w", id, err)
		}
		linked = append(linked, tx)
	}
	return linked, nil
}

func (e *Engine) adoptExisting(ctx context.Context, h, subscriptionID string) bool {
	existing, err := e.store.GetTransactionByHash(ctx, h)
	if err != nil {
		return false
	}
	if existing.SubscriptionID != "" {
		return false
	}
	now := e.now()
	existing.SubscriptionID = subscriptionID
	existing.TransactionType = domain.TypeSubscription
	existing.UpdatedAt = &now
	return e.store.UpdateTransaction(ctx, existing) == nil
}

func coveredByBackfill(date time.Time, linked []*domain.Transaction) bool {
	for _, tx := range linked {
		diff := tx.DealDate.Sub(date)
		if diff < 0 {
			diff = -diff
		}
		if diff <= backfillMatchWindowDays*24*time.Hour {
			return true
		}
	}
	return false
}

func validateParams(params CreateParams) error {
	if params.BusinessID == "" {
		return fmt.Errorf("%w: business id is required", ErrInvalidParams)
	}
	if params.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidParams)
	}
	if !params.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	switch params.Frequency {
	case domain.FrequencyMonthly, domain.FrequencyAnnual:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidParams, params.Frequency)
	}
	if params.EndDate != nil && params.EndDate.Before(params.StartDate) {
		return fmt.Errorf("%w: end date precedes start date", ErrInvalidParams)
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
