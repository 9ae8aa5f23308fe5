package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus tracks where a transaction is in its lifecycle.
// Projected rows are synthetic placeholders awaiting a matching bank
// charge; completed rows were confirmed by a statement.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusProjected TransactionStatus = "projected"
	StatusCancelled TransactionStatus = "cancelled"
)

// PaymentType distinguishes single charges from multi-payment purchases.
type PaymentType string

const (
	PaymentOneTime      PaymentType = "one_time"
	PaymentInstallments PaymentType = "installments"
)

// TransactionType distinguishes ordinary charges from subscription occurrences.
type TransactionType string

const (
	TypeRegular      TransactionType = "regular"
	TypeSubscription TransactionType = "subscription"
)

// Transaction is a single charge or refund event. Hash is the
// content-addressed identity: re-ingesting the same logical charge
// always resolves to the same hash, which the store enforces unique.
type Transaction struct {
	ID   string
	Hash string

	BusinessID string
	// OriginalBusinessID records the owning business before any merge,
	// so merges stay reversible. Empty until the first merge touches it.
	OriginalBusinessID string

	CardLast4 string

	DealDate       time.Time
	BankChargeDate *time.Time

	ChargedAmountILS decimal.Decimal
	OriginalAmount   decimal.Decimal
	OriginalCurrency string
	ExchangeRateUsed decimal.Decimal

	PaymentType     PaymentType
	TransactionType TransactionType

	// Installment linkage. GroupID is derived from the purchase itself
	// (business, total, count, deal date) and deliberately excludes the
	// card, so a plan survives a mid-sequence card reissue.
	InstallmentGroupID string
	InstallmentIndex   int
	InstallmentTotal   int

	SubscriptionID string

	Status              TransactionStatus
	ProjectedChargeDate *time.Time
	ActualChargeDate    *time.Time

	IsRefund bool

	SourceFile    string
	UploadBatchID string

	CreatedAt time.Time
	UpdatedAt *time.Time
}
