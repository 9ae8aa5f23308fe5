package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
)

// NUMERIC scales used when converting *big.Rat back into decimals.
// Statement amounts are agorot-precise; exchange rates carry more.
const (
	amountScale = 2
	rateScale   = 6
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	Hash          string `bigquery:"hash"`           // REQUIRED, unique

	BusinessID         string              `bigquery:"business_id"` // REQUIRED
	OriginalBusinessID bigquery.NullString `bigquery:"original_business_id"`

	CardLast4 string `bigquery:"card_last4"` // REQUIRED

	DealDate       civil.Date        `bigquery:"deal_date"` // REQUIRED
	BankChargeDate bigquery.NullDate `bigquery:"bank_charge_date"`

	ChargedAmountILS *big.Rat            `bigquery:"charged_amount_ils"` // REQUIRED NUMERIC
	OriginalAmount   *big.Rat            `bigquery:"original_amount"`    // NULLABLE NUMERIC
	OriginalCurrency bigquery.NullString `bigquery:"original_currency"`
	ExchangeRateUsed *big.Rat            `bigquery:"exchange_rate_used"` // NULLABLE NUMERIC

	PaymentType        string              `bigquery:"payment_type"` // REQUIRED
	InstallmentGroupID bigquery.NullString `bigquery:"installment_group_id"`
	InstallmentIndex   bigquery.NullInt64  `bigquery:"installment_index"`
	InstallmentTotal   bigquery.NullInt64  `bigquery:"installment_total"`

	TransactionType string              `bigquery:"transaction_type"` // REQUIRED
	SubscriptionID  bigquery.NullString `bigquery:"subscription_id"`

	Status              string            `bigquery:"status"` // REQUIRED
	ProjectedChargeDate bigquery.NullDate `bigquery:"projected_charge_date"`
	ActualChargeDate    bigquery.NullDate `bigquery:"actual_charge_date"`

	IsRefund bool `bigquery:"is_refund"`

	SourceFile    bigquery.NullString `bigquery:"source_file"`
	UploadBatchID bigquery.NullString `bigquery:"upload_batch_id"`

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
}

type BusinessRow struct {
	BusinessID     string `bigquery:"business_id"`     // REQUIRED
	NormalizedName string `bigquery:"normalized_name"` // REQUIRED, unique
	DisplayName    string `bigquery:"display_name"`    // REQUIRED

	CategoryID bigquery.NullString `bigquery:"category_id"`
	Approved   bool                `bigquery:"approved"`

	MergedToID bigquery.NullString `bigquery:"merged_to_id"` // set = soft-deleted

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
}

type SuggestionRow struct {
	SuggestionID string  `bigquery:"suggestion_id"` // REQUIRED
	BusinessID1  string  `bigquery:"business_id_1"` // REQUIRED
	BusinessID2  string  `bigquery:"business_id_2"` // REQUIRED
	Score        float64 `bigquery:"score"`         // REQUIRED
	Reason       string  `bigquery:"reason"`

	RejectedUntil bigquery.NullTimestamp `bigquery:"rejected_until"` // NULL = pending

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

type SubscriptionRow struct {
	SubscriptionID string `bigquery:"subscription_id"` // REQUIRED
	BusinessID     string `bigquery:"business_id"`     // REQUIRED
	CardLast4      string `bigquery:"card_last4"`      // REQUIRED

	Amount    *big.Rat `bigquery:"amount"`    // REQUIRED NUMERIC
	Frequency string   `bigquery:"frequency"` // REQUIRED

	StartDate civil.Date        `bigquery:"start_date"` // REQUIRED
	EndDate   bigquery.NullDate `bigquery:"end_date"`

	Status                string `bigquery:"status"` // REQUIRED
	CreatedFromSuggestion bool   `bigquery:"created_from_suggestion"`

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"`
}

// conversions

func transactionToRow(tx *domain.Transaction) *TransactionRow {
	return &TransactionRow{
		TransactionID:       tx.ID,
		Hash:                tx.Hash,
		BusinessID:          tx.BusinessID,
		OriginalBusinessID:  nullString(tx.OriginalBusinessID),
		CardLast4:           tx.CardLast4,
		DealDate:            civil.DateOf(tx.DealDate),
		BankChargeDate:      nullDate(tx.BankChargeDate),
		ChargedAmountILS:    tx.ChargedAmountILS.Rat(),
		OriginalAmount:      ratOrNil(tx.OriginalAmount),
		OriginalCurrency:    nullString(tx.OriginalCurrency),
		ExchangeRateUsed:    ratOrNil(tx.ExchangeRateUsed),
		PaymentType:         string(tx.PaymentType),
		InstallmentGroupID:  nullString(tx.InstallmentGroupID),
		InstallmentIndex:    nullInt(tx.InstallmentIndex),
		InstallmentTotal:    nullInt(tx.InstallmentTotal),
		TransactionType:     string(tx.TransactionType),
		SubscriptionID:      nullString(tx.SubscriptionID),
		Status:              string(tx.Status),
		ProjectedChargeDate: nullDate(tx.ProjectedChargeDate),
		ActualChargeDate:    nullDate(tx.ActualChargeDate),
		IsRefund:            tx.IsRefund,
		SourceFile:          nullString(tx.SourceFile),
		UploadBatchID:       nullString(tx.UploadBatchID),
		CreatedTS:           tx.CreatedAt,
		UpdatedTS:           nullTimestamp(tx.UpdatedAt),
	}
}

func rowToTransaction(r *TransactionRow) *domain.Transaction {
	return &domain.Transaction{
		ID:                  r.TransactionID,
		Hash:                r.Hash,
		BusinessID:          r.BusinessID,
		OriginalBusinessID:  r.OriginalBusinessID.StringVal,
		CardLast4:           r.CardLast4,
		DealDate:            r.DealDate.In(time.UTC),
		BankChargeDate:      dateOrNil(r.BankChargeDate),
		ChargedAmountILS:    decimalFromRat(r.ChargedAmountILS, amountScale),
		OriginalAmount:      decimalFromRat(r.OriginalAmount, amountScale),
		OriginalCurrency:    r.OriginalCurrency.StringVal,
		ExchangeRateUsed:    decimalFromRat(r.ExchangeRateUsed, rateScale),
		PaymentType:         domain.PaymentType(r.PaymentType),
		InstallmentGroupID:  r.InstallmentGroupID.StringVal,
		InstallmentIndex:    int(r.InstallmentIndex.Int64),
		InstallmentTotal:    int(r.InstallmentTotal.Int64),
		TransactionType:     domain.TransactionType(r.TransactionType),
		SubscriptionID:      r.SubscriptionID.StringVal,
		Status:              domain.TransactionStatus(r.Status),
		ProjectedChargeDate: dateOrNil(r.ProjectedChargeDate),
		ActualChargeDate:    dateOrNil(r.ActualChargeDate),
		IsRefund:            r.IsRefund,
		SourceFile:          r.SourceFile.StringVal,
		UploadBatchID:       r.UploadBatchID.StringVal,
		CreatedAt:           r.CreatedTS,
		UpdatedAt:           timestampOrNil(r.UpdatedTS),
	}
}

func businessToRow(b *domain.Business) *BusinessRow {
	return &BusinessRow{
		BusinessID:     b.ID,
		NormalizedName: b.NormalizedName,
		DisplayName:    b.DisplayName,
		CategoryID:     nullString(b.CategoryID),
		Approved:       b.Approved,
		MergedToID:     nullString(b.MergedToID),
		CreatedTS:      b.CreatedAt,
		UpdatedTS:      nullTimestamp(b.UpdatedAt),
	}
}

func rowToBusiness(r *BusinessRow) *domain.Business {
	return &domain.Business{
		ID:             r.BusinessID,
		NormalizedName: r.NormalizedName,
		DisplayName:    r.DisplayName,
		CategoryID:     r.CategoryID.StringVal,
		Approved:       r.Approved,
		MergedToID:     r.MergedToID.StringVal,
		CreatedAt:      r.CreatedTS,
		UpdatedAt:      timestampOrNil(r.UpdatedTS),
	}
}

func suggestionToRow(sg *domain.MergeSuggestion) *SuggestionRow {
	return &SuggestionRow{
		SuggestionID:  sg.ID,
		BusinessID1:   sg.BusinessID1,
		BusinessID2:   sg.BusinessID2,
		Score:         sg.Score,
		Reason:        sg.Reason,
		RejectedUntil: nullTimestamp(sg.RejectedUntil),
		CreatedTS:     sg.CreatedAt,
	}
}

func rowToSuggestion(r *SuggestionRow) *domain.MergeSuggestion {
	return &domain.MergeSuggestion{
		ID:            r.SuggestionID,
		BusinessID1:   r.BusinessID1,
		BusinessID2:   r.BusinessID2,
		Score:         r.Score,
		Reason:        r.Reason,
		RejectedUntil: timestampOrNil(r.RejectedUntil),
		CreatedAt:     r.CreatedTS,
	}
}

func subscriptionToRow(sub *domain.Subscription) *SubscriptionRow {
	return &SubscriptionRow{
		SubscriptionID:        sub.ID,
		BusinessID:            sub.BusinessID,
		CardLast4:             sub.CardLast4,
		Amount:                sub.Amount.Rat(),
		Frequency:             string(sub.Frequency),
		StartDate:             civil.DateOf(sub.StartDate),
		EndDate:               nullDate(sub.EndDate),
		Status:                string(sub.Status),
		CreatedFromSuggestion: sub.CreatedFromSuggestion,
		CreatedTS:             sub.CreatedAt,
		UpdatedTS:             nullTimestamp(sub.UpdatedAt),
	}
}

func rowToSubscription(r *SubscriptionRow) *domain.Subscription {
	return &domain.Subscription{
		ID:                    r.SubscriptionID,
		BusinessID:            r.BusinessID,
		CardLast4:             r.CardLast4,
		Amount:                decimalFromRat(r.Amount, amountScale),
		Frequency:             domain.SubscriptionFrequency(r.Frequency),
		StartDate:             r.StartDate.In(time.UTC),
		EndDate:               dateOrNil(r.EndDate),
		Status:                domain.SubscriptionStatus(r.Status),
		CreatedFromSuggestion: r.CreatedFromSuggestion,
		CreatedAt:             r.CreatedTS,
		UpdatedAt:             timestampOrNil(r.UpdatedTS),
	}
}

// null helpers

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullInt(n int) bigquery.NullInt64 {
	return bigquery.NullInt64{Int64: int64(n), Valid: n != 0}
}

func nullDate(t *time.Time) bigquery.NullDate {
	if t == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(*t), Valid: true}
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}

func dateOrNil(d bigquery.NullDate) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Date.In(time.UTC)
	return &t
}

func timestampOrNil(ts bigquery.NullTimestamp) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Timestamp
	return &t
}

func ratOrNil(d decimal.Decimal) *big.Rat {
	if d.IsZero() {
		return nil
	}
	return d.Rat()
}

func decimalFromRat(r *big.Rat, scale int32) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigRat(r, scale)
}
