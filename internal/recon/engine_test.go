package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/hash"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store/memory"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	e := New(st, zerolog.Nop())
	e.now = func() time.Time { return fixedNow }
	return e, st
}

func oneTimeRow(name string, date time.Time, amount string) domain.StatementRow {
	return domain.StatementRow{
		BusinessName:     name,
		DealDate:         date,
		ChargedAmountILS: decimal.RequireFromString(amount),
		CardLast4:        "1234",
		PaymentType:      domain.PaymentOneTime,
		SourceFile:       "statement.xlsx",
	}
}

func installmentRow(name string, reportedDate time.Time, amount, total string, index, count int) domain.StatementRow {
	return domain.StatementRow{
		BusinessName:     name,
		DealDate:         reportedDate,
		ChargedAmountILS: decimal.RequireFromString(amount),
		TotalPaymentSum:  decimal.RequireFromString(total),
		CardLast4:        "1234",
		PaymentType:      domain.PaymentInstallments,
		InstallmentIndex: index,
		InstallmentTotal: count,
		SourceFile:       "statement.xlsx",
	}
}

func seedBusiness(t *testing.T, st *memory.Store, name string) *domain.Business {
	t.Helper()
	b := &domain.Business{
		ID:             uuid.NewString(),
		NormalizedName: domain.NormalizeBusinessName(name),
		DisplayName:    name,
		CreatedAt:      fixedNow,
	}
	require.NoError(t, st.CreateBusiness(context.Background(), b))
	return b
}

func TestIngest_OneTimeNewThenDuplicate(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	row := oneTimeRow("Cafe Joe", time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), "32.50")

	first, err := e.Ingest(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNew, first.Outcome)
	require.NotEmpty(t, first.TransactionID)

	second, err := e.Ingest(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	stored, err := st.GetTransaction(ctx, first.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, domain.PaymentOneTime, stored.PaymentType)
}

func TestIngest_RefundDistinctFromCharge(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	date := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

	charge := oneTimeRow("Zara", date, "199.90")
	refund := oneTimeRow("Zara", date, "199.90")
	refund.IsRefund = true

	r1, err := e.Ingest(ctx, charge)
	require.NoError(t, err)
	r2, err := e.Ingest(ctx, refund)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeNew, r1.Outcome)
	assert.Equal(t, domain.OutcomeNew, r2.Outcome)
	assert.NotEqual(t, r1.TransactionID, r2.TransactionID)
}

func TestIngestBatch_Idempotent(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	rows := []domain.StatementRow{
		oneTimeRow("Cafe Joe", time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), "32.50"),
		oneTimeRow("Super-Pharm", time.Date(2025, 5, 11, 0, 0, 0, 0, time.UTC), "89.00"),
		installmentRow("Electra", time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC), "100.00", "1200.00", 1, 12),
	}

	first, err := e.IngestBatch(ctx, "batch-1", rows)
	require.NoError(t, err)
	assert.Equal(t, 3, first.New)
	assert.Equal(t, 0, first.Duplicates)

	second, err := e.IngestBatch(ctx, "batch-2", rows)
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 3, second.Duplicates)

	// Same final transaction set as ingesting once.
	for _, r := range first.Results {
		_, err := st.GetTransaction(ctx, r.TransactionID)
		assert.NoError(t, err)
	}
}

func TestIngest_MidSequenceBackfill(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Payment 5 of 12 arrives with no earlier payments stored. The group
	// is established retroactively from the back-calculated deal date.
	reported := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
	r, err := e.Ingest(ctx, installmentRow("Electra", reported, "100.00", "1200.00", 5, 12))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeGroupJoined, r.Outcome)

	tx, err := st.GetTransaction(ctx, r.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	assert.Equal(t, 5, tx.InstallmentIndex)
	assert.Equal(t, 12, tx.InstallmentTotal)

	wantGroup := hash.InstallmentGroup("electra", decimal.RequireFromString("1200.00"), 12, reported.AddDate(0, -4, 0))
	assert.Equal(t, wantGroup, tx.InstallmentGroupID)
}

func TestIngest_IndependentStatementsDeriveSameGroup(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Statement A reports payment 2 in May; statement B reports payment 1
	// in April. Both back-date to the same purchase, so the group ids
	// agree and re-sighted payments classify as duplicates.
	r2, err := e.Ingest(ctx, installmentRow("Electra", time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC), "100.00", "1200.00", 2, 12))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeGroupJoined, r2.Outcome)

	r1, err := e.Ingest(ctx, installmentRow("Electra", time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), "100.00", "1200.00", 1, 12))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNew, r1.Outcome)

	tx1, err := st.GetTransaction(ctx, r1.TransactionID)
	require.NoError(t, err)
	tx2, err := st.GetTransaction(ctx, r2.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, tx1.InstallmentGroupID, tx2.InstallmentGroupID)

	again, err := e.Ingest(ctx, installmentRow("Electra", time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC), "100.00", "1200.00", 2, 12))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, again.Outcome)
}

func TestIngest_TwinPaymentOneResolvesToDuplicate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// Two uploads each believe they are seeing payment 1 of the same
	// purchase; the second one differs in card (reissued mid-plan), so
	// its per-payment hash diverges. The group+index bucket check must
	// classify it as a duplicate instead of creating a twin row.
	first := installmentRow("Electra", time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), "100.00", "1200.00", 1, 12)
	r1, err := e.Ingest(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNew, r1.Outcome)

	twin := first
	twin.CardLast4 = "5678"
	r2, err := e.Ingest(ctx, twin)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, r2.Outcome)
	assert.Equal(t, r1.TransactionID, r2.TransactionID)
}

func TestIngest_CompletesProjectedInstallment(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	b := seedBusiness(t, st, "Electra")
	reported := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	groupID := hash.InstallmentGroup("electra", decimal.RequireFromString("1200.00"), 12, reported.AddDate(0, -2, 0))

	projectedDate := reported
	placeholder := &domain.Transaction{
		ID:                  uuid.NewString(),
		Hash:                hash.InstallmentTransaction(groupID, 3),
		BusinessID:          b.ID,
		CardLast4:           "1234",
		DealDate:            projectedDate,
		ChargedAmountILS:    decimal.RequireFromString("100.00"),
		PaymentType:         domain.PaymentInstallments,
		TransactionType:     domain.TypeRegular,
		InstallmentGroupID:  groupID,
		InstallmentIndex:    3,
		InstallmentTotal:    12,
		Status:              domain.StatusProjected,
		ProjectedChargeDate: &projectedDate,
		CreatedAt:           fixedNow,
	}
	require.NoError(t, st.InsertTransaction(ctx, placeholder))

	r, err := e.Ingest(ctx, installmentRow("Electra", reported, "100.00", "1200.00", 3, 12))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, r.Outcome)
	assert.Equal(t, placeholder.ID, r.TransactionID)

	got, err := st.GetTransaction(ctx, placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.ActualChargeDate)
	assert.True(t, got.ActualChargeDate.Equal(reported))

	// No second row appeared for the bucket.
	bucket, err := st.FindByGroupAndIndex(ctx, groupID, 3)
	require.NoError(t, err)
	assert.Len(t, bucket, 1)
}

func TestIngest_AmbiguousInstallmentBucket(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	b := seedBusiness(t, st, "Electra")
	reported := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	groupID := hash.InstallmentGroup("electra", decimal.RequireFromString("1200.00"), 12, reported.AddDate(0, -2, 0))

	for i := 0; i < 2; i++ {
		d := reported
		tx := &domain.Transaction{
			ID:                  uuid.NewString(),
			Hash:                uuid.NewString(), // divergent placeholder identities
			BusinessID:          b.ID,
			CardLast4:           "1234",
			DealDate:            d,
			ChargedAmountILS:    decimal.RequireFromString("100.00"),
			PaymentType:         domain.PaymentInstallments,
			InstallmentGroupID:  groupID,
			InstallmentIndex:    3,
			InstallmentTotal:    12,
			Status:              domain.StatusProjected,
			ProjectedChargeDate: &d,
			CreatedAt:           fixedNow,
		}
		require.NoError(t, st.InsertTransaction(ctx, tx))
	}

	r, err := e.Ingest(ctx, installmentRow("Electra", reported, "100.00", "1200.00", 3, 12))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAmbiguous, r.Outcome)
}

func TestIngest_CompletesSubscriptionPlaceholder(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	b := seedBusiness(t, st, "Netflix")
	projectedDate := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	placeholder := &domain.Transaction{
		ID:                  uuid.NewString(),
		Hash:                hash.Transaction("netflix", projectedDate, decimal.RequireFromString("54.90"), "1234", 0, domain.PaymentOneTime, false),
		BusinessID:          b.ID,
		CardLast4:           "1234",
		DealDate:            projectedDate,
		ChargedAmountILS:    decimal.RequireFromString("54.90"),
		PaymentType:         domain.PaymentOneTime,
		TransactionType:     domain.TypeSubscription,
		SubscriptionID:      uuid.NewString(),
		Status:              domain.StatusProjected,
		ProjectedChargeDate: &projectedDate,
		CreatedAt:           fixedNow,
	}
	require.NoError(t, st.InsertTransaction(ctx, placeholder))

	// The real charge lands three days after the projected date.
	row := oneTimeRow("Netflix", projectedDate.AddDate(0, 0, 3), "54.90")
	r, err := e.Ingest(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, r.Outcome)
	assert.Equal(t, placeholder.ID, r.TransactionID)

	got, err := st.GetTransaction(ctx, placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, domain.TypeSubscription, got.TransactionType)

	// Re-uploading the same statement is a no-op: the corrected hash
	// short-circuits the lookup.
	again, err := e.Ingest(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, again.Outcome)

	all, err := st.ListTransactionsByBusiness(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngest_ChargeOnExactProjectedDate(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	b := seedBusiness(t, st, "Spotify")
	projectedDate := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	placeholder := &domain.Transaction{
		ID:                  uuid.NewString(),
		Hash:                hash.Transaction("spotify", projectedDate, decimal.RequireFromString("19.90"), "1234", 0, domain.PaymentOneTime, false),
		BusinessID:          b.ID,
		CardLast4:           "1234",
		DealDate:            projectedDate,
		ChargedAmountILS:    decimal.RequireFromString("19.90"),
		PaymentType:         domain.PaymentOneTime,
		TransactionType:     domain.TypeSubscription,
		SubscriptionID:      uuid.NewString(),
		Status:              domain.StatusProjected,
		ProjectedChargeDate: &projectedDate,
		CreatedAt:           fixedNow,
	}
	require.NoError(t, st.InsertTransaction(ctx, placeholder))

	// Identical hash: the charge landed exactly on the projected date.
	// That confirms the placeholder rather than reporting a duplicate.
	r, err := e.Ingest(ctx, oneTimeRow("Spotify", projectedDate, "19.90"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, r.Outcome)

	got, err := st.GetTransaction(ctx, placeholder.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestIngest_AmbiguousSubscriptionPlaceholders(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	b := seedBusiness(t, st, "Netflix")
	for _, day := range []int{3, 7} {
		d := time.Date(2025, 6, day, 0, 0, 0, 0, time.UTC)
		tx := &domain.Transaction{
			ID:                  uuid.NewString(),
			Hash:                uuid.NewString(),
			BusinessID:          b.ID,
			CardLast4:           "1234",
			DealDate:            d,
			ChargedAmountILS:    decimal.RequireFromString("54.90"),
			PaymentType:         domain.PaymentOneTime,
			TransactionType:     domain.TypeSubscription,
			SubscriptionID:      uuid.NewString(),
			Status:              domain.StatusProjected,
			ProjectedChargeDate: &d,
			CreatedAt:           fixedNow,
		}
		require.NoError(t, st.InsertTransaction(ctx, tx))
	}

	r, err := e.Ingest(ctx, oneTimeRow("Netflix", time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), "54.90"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAmbiguous, r.Outcome)
}

func TestIngest_InvalidRows(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	date := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		row  domain.StatementRow
	}{
		{"missing business name", oneTimeRow("  ", date, "10.00")},
		{"zero deal date", oneTimeRow("Cafe", time.Time{}, "10.00")},
		{"bad payment type", domain.StatementRow{BusinessName: "Cafe", DealDate: date, ChargedAmountILS: decimal.RequireFromString("10.00"), PaymentType: "weekly"}},
		{"installment index out of range", installmentRow("Electra", date, "100.00", "1200.00", 13, 12)},
		{"installment index zero", installmentRow("Electra", date, "100.00", "1200.00", 0, 12)},
		{"installment zero total sum", installmentRow("Electra", date, "100.00", "0", 1, 12)},
		{"installment negative total sum", installmentRow("Electra", date, "100.00", "-1200.00", 1, 12)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Ingest(ctx, tt.row)
			assert.ErrorIs(t, err, ErrInvalidRow)
		})
	}
}

func TestIngest_RejectsInstallmentsWithoutTotalSum(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	// Two unrelated 12-payment purchases, both arriving without a total.
	// Were they accepted, both would hash into the same zero-sum group
	// and the second would be mistaken for a re-sighting of the first.
	a := installmentRow("Electra", time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC), "100.00", "0", 1, 12)
	b := installmentRow("Electra", time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC), "200.00", "0", 1, 12)

	_, err := e.Ingest(ctx, a)
	assert.ErrorIs(t, err, ErrInvalidRow)
	_, err = e.Ingest(ctx, b)
	assert.ErrorIs(t, err, ErrInvalidRow)

	businesses, err := st.ListActiveBusinesses(ctx)
	require.NoError(t, err)
	assert.Empty(t, businesses, "invalid rows must not create businesses")
}

func TestIngest_ReusesMergedBusinessTarget(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")
	source.MergedToID = target.ID
	require.NoError(t, st.UpdateBusiness(ctx, source))

	r, err := e.Ingest(ctx, oneTimeRow("SuperPharm", time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), "45.00"))
	require.NoError(t, err)

	tx, err := st.GetTransaction(ctx, r.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, tx.BusinessID)
}

func TestDeleteTransactions_PartialGroupRequiresConfirmation(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 3; i++ {
		reported := time.Date(2025, time.Month(3+i), 15, 0, 0, 0, 0, time.UTC)
		r, err := e.Ingest(ctx, installmentRow("Electra", reported, "100.00", "300.00", i, 3))
		require.NoError(t, err)
		ids = append(ids, r.TransactionID)
	}

	// Deleting one payment of three must be surfaced, not silently done.
	err := e.DeleteTransactions(ctx, ids[:1], false)
	var partial *PartialGroupDeletionError
	require.True(t, errors.As(err, &partial))
	require.Len(t, partial.Splits, 1)
	assert.Equal(t, "installment_group", partial.Splits[0].Kind)
	assert.Len(t, partial.Splits[0].Remaining, 2)

	// Nothing was deleted.
	_, err = st.GetTransaction(ctx, ids[0])
	assert.NoError(t, err)

	// Confirmed, the split goes through.
	require.NoError(t, e.DeleteTransactions(ctx, ids[:1], true))
	_, err = st.GetTransaction(ctx, ids[0])
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Deleting the whole group needs no confirmation.
	require.NoError(t, e.DeleteTransactions(ctx, ids[1:], false))
}
