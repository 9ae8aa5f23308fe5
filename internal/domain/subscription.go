package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionFrequency is the billing cadence of a recurring charge.
type SubscriptionFrequency string

const (
	FrequencyMonthly SubscriptionFrequency = "monthly"
	FrequencyAnnual  SubscriptionFrequency = "annual"
)

// Months returns the calendar-month step between occurrences.
func (f SubscriptionFrequency) Months() int {
	if f == FrequencyAnnual {
		return 12
	}
	return 1
}

// SubscriptionStatus tracks the lifecycle of a subscription definition.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionEnded     SubscriptionStatus = "ended"
)

// Subscription is a recurring-charge definition. It owns a stream of
// generated transactions: already-elapsed occurrences are backfilled as
// completed, future ones as projected placeholders that real bank
// charges complete in place.
type Subscription struct {
	ID         string
	BusinessID string
	CardLast4  string

	Amount    decimal.Decimal
	Frequency SubscriptionFrequency

	StartDate time.Time
	EndDate   *time.Time

	Status                SubscriptionStatus
	CreatedFromSuggestion bool

	CreatedAt time.Time
	UpdatedAt *time.Time
}
