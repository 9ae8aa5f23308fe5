// Package recon implements the transaction identity and reconciliation
// state machine. For each parsed statement row it decides: brand-new
// transaction, duplicate, payment joining an installment group, or the
// completion of a previously projected occurrence — and reports
// anything it cannot decide deterministically as ambiguous instead of
// guessing.
package recon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/hash"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

// ErrInvalidRow reports a statement row missing a required field.
var ErrInvalidRow = errors.New("recon: invalid statement row")

// subscriptionMatchWindowDays bounds how far a real bank charge may
// land from a projected occurrence date and still complete it.
const subscriptionMatchWindowDays = 15

// IngestResult is the classification of one statement row.
type IngestResult struct {
	Outcome       domain.IngestOutcome `json:"outcome"`
	TransactionID string               `json:"transaction_id,omitempty"`
	// Note carries a human-readable explanation for duplicate and
	// ambiguous outcomes.
	Note string `json:"note,omitempty"`
}

// BatchResult summarizes one upload batch.
type BatchResult struct {
	BatchID string         `json:"batch_id"`
	Results []IngestResult `json:"results"`

	New         int `json:"new"`
	Duplicates  int `json:"duplicates"`
	GroupJoined int `json:"group_joined"`
	Completed   int `json:"completed"`
	Ambiguous   int `json:"ambiguous"`
}

// Engine classifies statement rows against the store.
type Engine struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a reconciliation engine.
func New(st store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		store: st,
		log:   log,
		now:   time.Now,
	}
}

// IngestBatch processes the rows of one upload sequentially, so
// group-establishing decisions within the batch are strictly ordered.
// Re-running the same batch is a no-op: every row classifies as
// duplicate on the second pass.
func (e *Engine) IngestBatch(ctx context.Context, batchID string, rows []domain.StatementRow) (*BatchResult, error) {
	if batchID == "" {
		batchID = uuid.NewString()
	}

	result := &BatchResult{BatchID: batchID}
	for i, row := range rows {
		r, err := e.ingest(ctx, batchID, row)
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): %w", i+1, row.BusinessName, err)
		}
		result.Results = append(result.Results, *r)
		switch r.Outcome {
		case domain.OutcomeNew:
			result.New++
		case domain.OutcomeDuplicate:
			result.Duplicates++
		case domain.OutcomeGroupJoined:
			result.GroupJoined++
		case domain.OutcomeCompleted:
			result.Completed++
		case domain.OutcomeAmbiguous:
			result.Ambiguous++
		}
	}

	e.log.Info().
		Str("batch_id", batchID).
		Int("rows", len(rows)).
		Int("new", result.New).
		Int("duplicates", result.Duplicates).
		Int("group_joined", result.GroupJoined).
		Int("completed", result.Completed).
		Int("ambiguous", result.Ambiguous).
		Msg("Batch ingested")

	return result, nil
}

// Ingest classifies a single statement row.
func (e *Engine) Ingest(ctx context.Context, row domain.StatementRow) (*IngestResult, error) {
	return e.ingest(ctx, uuid.NewString(), row)
}

func (e *Engine) ingest(ctx context.Context, batchID string, row domain.StatementRow) (*IngestResult, error) {
	if err := validateRow(row); err != nil {
		return nil, err
	}

	business, err := e.resolveBusiness(ctx, row.BusinessName)
	if err != nil {
		return nil, err
	}

	if row.PaymentType == domain.PaymentInstallments {
		return e.ingestInstallment(ctx, batchID, row, business)
	}
	return e.ingestOneTime(ctx, batchID, row, business)
}

// ingestOneTime handles the one_time path: duplicate short-circuit by
// hash, then subscription-placeholder completion, then fresh insert.
func (e *Engine) ingestOneTime(ctx context.Context, batchID string, row domain.StatementRow, business *domain.Business) (*IngestResult, error) {
	normalized := domain.NormalizeBusinessName(row.BusinessName)
	h := hash.Transaction(normalized, row.DealDate, row.ChargedAmountILS, row.CardLast4, 0, domain.PaymentOneTime, row.IsRefund)

	if existing, err := e.store.GetTransactionByHash(ctx, h); err == nil {
		// A projected row can carry this exact hash when the charge lands
		// on its projected date; that is a confirmation, not a duplicate.
		if existing.Status == domain.StatusProjected {
			return e.completePlaceholder(ctx, existing, row, h)
		}
		return &IngestResult{
			Outcome:       domain.OutcomeDuplicate,
			TransactionID: existing.ID,
			Note:          "hash already recorded",
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up hash: %w", err)
	}

	// A charge that matches an awaiting subscription occurrence completes
	// the placeholder instead of inserting a second row. Refunds never
	// complete projections.
	if !row.IsRefund {
		placeholders, err := e.findSubscriptionPlaceholders(ctx, row, business.ID)
		if err != nil {
			return nil, err
		}
		switch len(placeholders) {
		case 0:
			// fall through to fresh insert
		case 1:
			return e.completePlaceholder(ctx, placeholders[0], row, h)
		default:
			e.log.Warn().
				Str("business_id", business.ID).
				Int("candidates", len(placeholders)).
				Time("deal_date", row.DealDate).
				Msg("Multiple projected occurrences match incoming charge")
			return &IngestResult{
				Outcome: domain.OutcomeAmbiguous,
				Note:    fmt.Sprintf("%d projected occurrences match this charge", len(placeholders)),
			}, nil
		}
	}

	tx := e.newTransaction(batchID, row, business, h)
	tx.PaymentType = domain.PaymentOneTime

	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		// A concurrent batch may have won the insert; the constraint is
		// the arbiter and this row is in fact a duplicate.
		if errors.Is(err, store.ErrDuplicateHash) {
			return &IngestResult{Outcome: domain.OutcomeDuplicate, Note: "insert lost to concurrent duplicate"}, nil
		}
		return nil, fmt.Errorf("inserting transaction: %w", err)
	}

	return &IngestResult{Outcome: domain.OutcomeNew, TransactionID: tx.ID}, nil
}

// ingestInstallment handles the multi-payment path. The deal date of
// the underlying purchase is back-calculated from the reported date of
// payment N, so independently-arriving statements describing the same
// purchase derive the same group id even when neither saw payment 1.
func (e *Engine) ingestInstallment(ctx context.Context, batchID string, row domain.StatementRow, business *domain.Business) (*IngestResult, error) {
	if row.InstallmentTotal < 1 || row.InstallmentIndex < 1 || row.InstallmentIndex > row.InstallmentTotal {
		return nil, fmt.Errorf("%w: installment index %d of %d", ErrInvalidRow, row.InstallmentIndex, row.InstallmentTotal)
	}

	normalized := domain.NormalizeBusinessName(row.BusinessName)
	purchaseDate := row.DealDate.AddDate(0, -(row.InstallmentIndex - 1), 0)
	groupID := hash.InstallmentGroup(normalized, row.TotalPaymentSum, row.InstallmentTotal, purchaseDate)

	// The group+index bucket is checked before any insert. This is what
	// prevents a second upload from establishing a divergent "payment 1"
	// twin for a group that already has one.
	bucket, err := e.store.FindByGroupAndIndex(ctx, groupID, row.InstallmentIndex)
	if err != nil {
		return nil, fmt.Errorf("bucket lookup: %w", err)
	}

	var projected []*domain.Transaction
	for _, tx := range bucket {
		switch tx.Status {
		case domain.StatusCompleted:
			return &IngestResult{
				Outcome:       domain.OutcomeDuplicate,
				TransactionID: tx.ID,
				Note:          fmt.Sprintf("payment %d of group already recorded", row.InstallmentIndex),
			}, nil
		case domain.StatusProjected:
			projected = append(projected, tx)
		}
	}

	if len(projected) > 1 {
		e.log.Warn().
			Str("group_id", groupID).
			Int("index", row.InstallmentIndex).
			Int("candidates", len(projected)).
			Msg("Multiple projected rows in one installment bucket")
		return &IngestResult{
			Outcome: domain.OutcomeAmbiguous,
			Note:    fmt.Sprintf("%d projected rows at group index %d", len(projected), row.InstallmentIndex),
		}, nil
	}

	if len(projected) == 1 {
		payHash := hash.InstallmentTransaction(groupID, row.InstallmentIndex)
		return e.completePlaceholder(ctx, projected[0], row, payHash)
	}

	// Empty bucket: payment 1 establishes the group under the standard
	// per-payment hash; any later index joins (or retroactively
	// establishes) the group under the group-derived hash.
	var h string
	outcome := domain.OutcomeGroupJoined
	if row.InstallmentIndex == 1 {
		h = hash.Transaction(normalized, row.DealDate, row.ChargedAmountILS, row.CardLast4, 1, domain.PaymentInstallments, row.IsRefund)
		outcome = domain.OutcomeNew
	} else {
		h = hash.InstallmentTransaction(groupID, row.InstallmentIndex)
	}

	tx := e.newTransaction(batchID, row, business, h)
	tx.PaymentType = domain.PaymentInstallments
	tx.InstallmentGroupID = groupID
	tx.InstallmentIndex = row.InstallmentIndex
	tx.InstallmentTotal = row.InstallmentTotal

	if err := e.store.InsertTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicateHash) {
			return &IngestResult{Outcome: domain.OutcomeDuplicate, Note: "insert lost to concurrent duplicate"}, nil
		}
		return nil, fmt.Errorf("inserting installment payment: %w", err)
	}

	return &IngestResult{Outcome: outcome, TransactionID: tx.ID}, nil
}

// completePlaceholder confirms a projected row in place: no new row is
// inserted. The hash is corrected to the real charge's identity so a
// re-upload of the same statement short-circuits as duplicate on the
// hash lookup.
func (e *Engine) completePlaceholder(ctx context.Context, placeholder *domain.Transaction, row domain.StatementRow, realHash string) (*IngestResult, error) {
	actual := row.DealDate
	now := e.now()

	placeholder.Hash = realHash
	placeholder.Status = domain.StatusCompleted
	placeholder.ActualChargeDate = &actual
	placeholder.ChargedAmountILS = row.ChargedAmountILS
	if !row.OriginalAmount.IsZero() {
		placeholder.OriginalAmount = row.OriginalAmount
		placeholder.OriginalCurrency = row.OriginalCurrency
		placeholder.ExchangeRateUsed = row.ExchangeRateUsed
	}
	if row.SourceFile != "" {
		placeholder.SourceFile = row.SourceFile
	}
	placeholder.UpdatedAt = &now

	if err := e.store.UpdateTransaction(ctx, placeholder); err != nil {
		if errors.Is(err, store.ErrDuplicateHash) {
			// The real charge is already stored elsewhere; the placeholder
			// stays untouched and the row is a duplicate.
			return &IngestResult{Outcome: domain.OutcomeDuplicate, Note: "charge already recorded outside placeholder"}, nil
		}
		return nil, fmt.Errorf("completing projected row: %w", err)
	}

	return &IngestResult{Outcome: domain.OutcomeCompleted, TransactionID: placeholder.ID}, nil
}

// findSubscriptionPlaceholders returns projected subscription rows for
// the row's business and card whose occurrence date is within the match
// window and whose amount equals the charged amount.
func (e *Engine) findSubscriptionPlaceholders(ctx context.Context, row domain.StatementRow, businessID string) ([]*domain.Transaction, error) {
	from := row.DealDate.AddDate(0, 0, -subscriptionMatchWindowDays)
	to := row.DealDate.AddDate(0, 0, subscriptionMatchWindowDays)

	candidates, err := e.store.FindProjectedByBusinessCard(ctx, businessID, row.CardLast4, from, to)
	if err != nil {
		return nil, fmt.Errorf("projected lookup: %w", err)
	}

	var matched []*domain.Transaction
	for _, tx := range candidates {
		if tx.SubscriptionID == "" {
			continue
		}
		if tx.ChargedAmountILS.Round(2).Equal(row.ChargedAmountILS.Round(2)) {
			matched = append(matched, tx)
		}
	}
	return matched, nil
}

// resolveBusiness finds the business for a raw statement name, creating
// it on first sight. Charges always land on the active target of a
// merged business.
func (e *Engine) resolveBusiness(ctx context.Context, rawName string) (*domain.Business, error) {
	normalized := domain.NormalizeBusinessName(rawName)

	b, err := e.store.GetBusinessByNormalizedName(ctx, normalized)
	if err == nil {
		if !b.Active() {
			target, err := e.store.GetBusiness(ctx, b.MergedToID)
			if err != nil {
				return nil, fmt.Errorf("merged business %s points to missing target %s: %w", b.ID, b.MergedToID, err)
			}
			return target, nil
		}
		return b, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("business lookup: %w", err)
	}

	b = &domain.Business{
		ID:             uuid.NewString(),
		NormalizedName: normalized,
		DisplayName:    strings.TrimSpace(rawName),
		CreatedAt:      e.now(),
	}
	if err := e.store.CreateBusiness(ctx, b); err != nil {
		// Concurrent creation for the same name: re-read the winner.
		if existing, lookupErr := e.store.GetBusinessByNormalizedName(ctx, normalized); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("creating business %q: %w", normalized, err)
	}

	e.log.Debug().Str("business_id", b.ID).Str("normalized_name", normalized).Msg("Business created")
	return b, nil
}

func (e *Engine) newTransaction(batchID string, row domain.StatementRow, business *domain.Business, h string) *domain.Transaction {
	return &domain.Transaction{
		ID:               uuid.NewString(),
		Hash:             h,
		BusinessID:       business.ID,
		CardLast4:        row.CardLast4,
		DealDate:         row.DealDate,
		ChargedAmountILS: row.ChargedAmountILS,
		OriginalAmount:   row.OriginalAmount,
		OriginalCurrency: row.OriginalCurrency,
		ExchangeRateUsed: row.ExchangeRateUsed,
		TransactionType:  domain.TypeRegular,
		Status:           domain.StatusCompleted,
		IsRefund:         row.IsRefund,
		SourceFile:       row.SourceFile,
		UploadBatchID:    batchID,
		CreatedAt:        e.now(),
	}
}

func validateRow(row domain.StatementRow) error {
	if strings.TrimSpace(row.BusinessName) == "" {
		return fmt.Errorf("%w: business name is required", ErrInvalidRow)
	}
	if row.DealDate.IsZero() {
		return fmt.Errorf("%w: deal date is required", ErrInvalidRow)
	}
	if row.ChargedAmountILS.IsZero() && !row.IsRefund {
		return fmt.Errorf("%w: charged amount is required", ErrInvalidRow)
	}
	switch row.PaymentType {
	case domain.PaymentOneTime:
	case domain.PaymentInstallments:
		// The total purchase sum feeds the card-independent group
		// identity. Without it, unrelated purchases would collapse into
		// one group and the bucket check would swallow real payments.
		if row.TotalPaymentSum.Sign() <= 0 {
			return fmt.Errorf("%w: installment rows require a positive total payment sum", ErrInvalidRow)
		}
	default:
		return fmt.Errorf("%w: unknown payment type %q", ErrInvalidRow, row.PaymentType)
	}
	return nil
}
