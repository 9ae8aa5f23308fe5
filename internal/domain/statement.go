package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StatementRow is one well-formed parsed statement line, as handed over
// by the bank-format parsers. Parsing itself happens upstream; the
// reconciliation engine only classifies rows.
type StatementRow struct {
	BusinessName string
	DealDate     time.Time

	ChargedAmountILS decimal.Decimal
	OriginalAmount   decimal.Decimal
	OriginalCurrency string
	ExchangeRateUsed decimal.Decimal

	CardLast4 string

	PaymentType PaymentType
	// InstallmentIndex/Total are set only for installment rows. The
	// reported DealDate of payment N is the charge date of that payment;
	// the deal date of the underlying purchase is back-calculated.
	InstallmentIndex int
	InstallmentTotal int
	// TotalPaymentSum is the full purchase amount across all payments.
	TotalPaymentSum decimal.Decimal

	IsRefund bool

	SourceFile string
}

// IngestOutcome classifies what the reconciliation engine decided for
// one statement row.
type IngestOutcome string

const (
	// OutcomeNew: a brand-new transaction was inserted.
	OutcomeNew IngestOutcome = "new"
	// OutcomeDuplicate: the row's identity already exists; nothing done.
	OutcomeDuplicate IngestOutcome = "duplicate"
	// OutcomeGroupJoined: a fresh payment extended an existing
	// installment group.
	OutcomeGroupJoined IngestOutcome = "group_joined"
	// OutcomeCompleted: a projected placeholder was completed in place.
	OutcomeCompleted IngestOutcome = "completed"
	// OutcomeAmbiguous: more than one plausible placeholder matched;
	// surfaced to the caller, never auto-resolved.
	OutcomeAmbiguous IngestOutcome = "ambiguous"
)

// NormalizeBusinessName lowercases, trims and collapses inner
// whitespace. The result is the canonical dedup key for businesses.
func NormalizeBusinessName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
