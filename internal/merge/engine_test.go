package merge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/similarity"
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

func seedTransactions(t *testing.T, st *memory.Store, businessID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tx := &domain.Transaction{
			ID:               uuid.NewString(),
			Hash:             uuid.NewString(),
			BusinessID:       businessID,
			CardLast4:        "1234",
			DealDate:         fixedNow.AddDate(0, 0, -i),
			ChargedAmountILS: decimal.RequireFromString(fmt.Sprintf("%d.50", 10+i)),
			PaymentType:      domain.PaymentOneTime,
			TransactionType:  domain.TypeRegular,
			Status:           domain.StatusCompleted,
			CreatedAt:        fixedNow,
		}
		require.NoError(t, st.InsertTransaction(context.Background(), tx))
		ids = append(ids, tx.ID)
	}
	return ids
}

func TestDetectMerges_SuggestsSimilarPairsOnly(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	a := seedBusiness(t, st, "Super-Pharm")
	b := seedBusiness(t, st, "SuperPharm")
	seedBusiness(t, st, "McDonald's")

	result, err := e.DetectMerges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.BusinessesCompared)
	assert.Equal(t, 1, result.SuggestionsCreated)

	sg, err := st.FindSuggestionForPair(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, sg.Pending())
	assert.GreaterOrEqual(t, sg.Score, similarity.DefaultThreshold)
	assert.Contains(t, sg.Reason, "Super-Pharm")
}

func TestDetectMerges_DoesNotResuggestPendingPair(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedBusiness(t, st, "Super-Pharm")
	seedBusiness(t, st, "SuperPharm")

	first, err := e.DetectMerges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SuggestionsCreated)

	second, err := e.DetectMerges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.SuggestionsCreated)
}

func TestDetectMerges_RejectionFreeze(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	a := seedBusiness(t, st, "Super-Pharm")
	b := seedBusiness(t, st, "SuperPharm")

	_, err := e.DetectMerges(ctx)
	require.NoError(t, err)
	sg, err := st.FindSuggestionForPair(ctx, a.ID, b.ID)
	require.NoError(t, err)

	require.NoError(t, e.RejectSuggestion(ctx, sg.ID))

	rejected, err := st.GetSuggestion(ctx, sg.ID)
	require.NoError(t, err)
	require.NotNil(t, rejected.RejectedUntil)
	assert.Equal(t, fixedNow.AddDate(0, 0, RejectionFreezeDays), *rejected.RejectedUntil)

	// Inside the freeze window the pair stays off the list.
	result, err := e.DetectMerges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SuggestionsCreated)

	// Once the freeze elapses the pair is fair game again.
	e.now = func() time.Time { return fixedNow.AddDate(0, 0, RejectionFreezeDays+1) }
	result, err = e.DetectMerges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuggestionsCreated)
}

func TestMergeBusinesses_MovesTransactionsWithProvenance(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")
	seedTransactions(t, st, target.ID, 5)
	seedTransactions(t, st, source.ID, 3)

	result, err := e.MergeBusinesses(ctx, target.ID, []string{target.ID, source.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.BusinessesMerged)
	assert.Equal(t, 3, result.TransactionsMoved)

	owned, err := st.ListTransactionsByBusiness(ctx, target.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 8)

	withProvenance := 0
	for _, tx := range owned {
		if tx.OriginalBusinessID == source.ID {
			withProvenance++
		}
	}
	assert.Equal(t, 3, withProvenance)

	merged, err := st.GetBusiness(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, merged.MergedToID)
	assert.False(t, merged.Active())
}

func TestMergeBusinesses_PrunesPendingSuggestions(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")

	_, err := e.DetectMerges(ctx)
	require.NoError(t, err)

	_, err = e.MergeBusinesses(ctx, target.ID, []string{target.ID, source.ID})
	require.NoError(t, err)

	_, err = st.FindSuggestionForPair(ctx, target.ID, source.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMergeBusinesses_Validation(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")
	other := seedBusiness(t, st, "McDonald's")

	_, err := e.MergeBusinesses(ctx, target.ID, []string{target.ID})
	assert.ErrorIs(t, err, ErrInvalidMergeRequest)

	_, err = e.MergeBusinesses(ctx, target.ID, []string{source.ID, other.ID})
	assert.ErrorIs(t, err, ErrInvalidMergeRequest)

	// A merged-away business can be neither target nor source.
	_, err = e.MergeBusinesses(ctx, target.ID, []string{target.ID, source.ID})
	require.NoError(t, err)

	_, err = e.MergeBusinesses(ctx, source.ID, []string{source.ID, other.ID})
	assert.ErrorIs(t, err, ErrMergedBusiness)

	_, err = e.MergeBusinesses(ctx, other.ID, []string{other.ID, source.ID})
	assert.ErrorIs(t, err, ErrMergedBusiness)
}

func TestUnmergeBusiness_RestoresOriginatedTransactions(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")
	seedTransactions(t, st, target.ID, 5)
	seedTransactions(t, st, source.ID, 3)

	_, err := e.MergeBusinesses(ctx, target.ID, []string{target.ID, source.ID})
	require.NoError(t, err)

	result, err := e.UnmergeBusiness(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, result.TargetID)
	assert.Equal(t, 3, result.TransactionsMoved)

	restored, err := st.GetBusiness(ctx, source.ID)
	require.NoError(t, err)
	assert.True(t, restored.Active())

	back, err := st.ListTransactionsByBusiness(ctx, source.ID)
	require.NoError(t, err)
	assert.Len(t, back, 3)

	remaining, err := st.ListTransactionsByBusiness(ctx, target.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 5)

	_, err = e.UnmergeBusiness(ctx, source.ID)
	assert.Error(t, err)
}

func TestUnmergeBusiness_LeavesPreProvenanceTransactions(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")

	// A transaction that landed on the target before provenance
	// tracking: no OriginalBusinessID, so an unmerge cannot claim it.
	legacy := &domain.Transaction{
		ID:               uuid.NewString(),
		Hash:             uuid.NewString(),
		BusinessID:       target.ID,
		CardLast4:        "1234",
		DealDate:         fixedNow,
		ChargedAmountILS: decimal.RequireFromString("33.00"),
		PaymentType:      domain.PaymentOneTime,
		TransactionType:  domain.TypeRegular,
		Status:           domain.StatusCompleted,
		CreatedAt:        fixedNow,
	}
	require.NoError(t, st.InsertTransaction(ctx, legacy))

	_, err := e.MergeBusinesses(ctx, target.ID, []string{target.ID, source.ID})
	require.NoError(t, err)

	result, err := e.UnmergeBusiness(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TransactionsMoved)

	kept, err := st.GetTransaction(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, target.ID, kept.BusinessID)
}

func TestDeleteBusiness_ModeRequiredWithMergedSources(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")
	seedTransactions(t, st, source.ID, 3)

	_, err := e.MergeBusinesses(ctx, target.ID, []string{target.ID, source.ID})
	require.NoError(t, err)

	err = e.DeleteBusiness(ctx, target.ID, "")
	assert.ErrorIs(t, err, ErrDeleteModeRequired)

	// Nothing was touched.
	_, err = st.GetBusiness(ctx, target.ID)
	require.NoError(t, err)
}

func TestDeleteBusiness_ParentOnlyRestoresSources(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")
	seedTransactions(t, st, target.ID, 2)
	seedTransactions(t, st, source.ID, 3)

	_, err := e.MergeBusinesses(ctx, target.ID, []string{target.ID, source.ID})
	require.NoError(t, err)

	require.NoError(t, e.DeleteBusiness(ctx, target.ID, DeleteParentOnly))

	_, err = st.GetBusiness(ctx, target.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	restored, err := st.GetBusiness(ctx, source.ID)
	require.NoError(t, err)
	assert.True(t, restored.Active())

	back, err := st.ListTransactionsByBusiness(ctx, source.ID)
	require.NoError(t, err)
	assert.Len(t, back, 3)
}

func TestDeleteBusiness_CascadeRemovesEverything(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	target := seedBusiness(t, st, "Super-Pharm")
	source := seedBusiness(t, st, "SuperPharm")
	seedTransactions(t, st, target.ID, 2)
	seedTransactions(t, st, source.ID, 3)

	_, err := e.MergeBusinesses(ctx, target.ID, []string{target.ID, source.ID})
	require.NoError(t, err)

	require.NoError(t, e.DeleteBusiness(ctx, target.ID, DeleteCascade))

	_, err = st.GetBusiness(ctx, target.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetBusiness(ctx, source.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	orphans, err := st.ListTransactionsByBusiness(ctx, target.ID)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestDeleteBusiness_NoSourcesNeedsNoMode(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	b := seedBusiness(t, st, "McDonald's")
	seedTransactions(t, st, b.ID, 2)

	require.NoError(t, e.DeleteBusiness(ctx, b.ID, ""))

	_, err := st.GetBusiness(ctx, b.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
