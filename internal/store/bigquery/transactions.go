package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

const txColumns = `
	transaction_id,
	hash,
	business_id,
	original_business_id,
	card_last4,
	deal_date,
	bank_charge_date,
	charged_amount_ils,
	original_amount,
	original_currency,
	exchange_rate_used,
	payment_type,
	installment_group_id,
	installment_index,
	installment_total,
	transaction_type,
	subscription_id,
	status,
	projected_charge_date,
	actual_charge_date,
	is_refund,
	source_file,
	upload_batch_id,
	created_ts,
	updated_ts`

const txAssignments = `
	hash = @hash,
	business_id = @business_id,
	original_business_id = @original_business_id,
	card_last4 = @card_last4,
	deal_date = @deal_date,
	bank_charge_date = @bank_charge_date,
	charged_amount_ils = @charged_amount_ils,
	original_amount = @original_amount,
	original_currency = @original_currency,
	exchange_rate_used = @exchange_rate_used,
	payment_type = @payment_type,
	installment_group_id = @installment_group_id,
	installment_index = @installment_index,
	installment_total = @installment_total,
	transaction_type = @transaction_type,
	subscription_id = @subscription_id,
	status = @status,
	projected_charge_date = @projected_charge_date,
	actual_charge_date = @actual_charge_date,
	is_refund = @is_refund,
	source_file = @source_file,
	upload_batch_id = @upload_batch_id,
	updated_ts = @updated_ts`

func transactionParams(r *TransactionRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "transaction_id", Value: r.TransactionID},
		{Name: "hash", Value: r.Hash},
		{Name: "business_id", Value: r.BusinessID},
		{Name: "original_business_id", Value: r.OriginalBusinessID},
		{Name: "card_last4", Value: r.CardLast4},
		{Name: "deal_date", Value: r.DealDate},
		{Name: "bank_charge_date", Value: r.BankChargeDate},
		{Name: "charged_amount_ils", Value: orZeroRat(r.ChargedAmountILS)},
		{Name: "original_amount", Value: orZeroRat(r.OriginalAmount)},
		{Name: "original_currency", Value: r.OriginalCurrency},
		{Name: "exchange_rate_used", Value: orZeroRat(r.ExchangeRateUsed)},
		{Name: "payment_type", Value: r.PaymentType},
		{Name: "installment_group_id", Value: r.InstallmentGroupID},
		{Name: "installment_index", Value: r.InstallmentIndex},
		{Name: "installment_total", Value: r.InstallmentTotal},
		{Name: "transaction_type", Value: r.TransactionType},
		{Name: "subscription_id", Value: r.SubscriptionID},
		{Name: "status", Value: r.Status},
		{Name: "projected_charge_date", Value: r.ProjectedChargeDate},
		{Name: "actual_charge_date", Value: r.ActualChargeDate},
		{Name: "is_refund", Value: r.IsRefund},
		{Name: "source_file", Value: r.SourceFile},
		{Name: "upload_batch_id", Value: r.UploadBatchID},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "updated_ts", Value: r.UpdatedTS},
	}
}

// orZeroRat keeps NUMERIC parameters non-nil; the domain treats a zero
// decimal as absent.
func orZeroRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return r
}

// InsertTransaction inserts the row unless its hash is already stored.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	row := transactionToRow(tx)

	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		SELECT
			@transaction_id, @hash, @business_id, @original_business_id,
			@card_last4, @deal_date, @bank_charge_date, @charged_amount_ils,
			@original_amount, @original_currency, @exchange_rate_used,
			@payment_type, @installment_group_id, @installment_index,
			@installment_total, @transaction_type, @subscription_id, @status,
			@projected_charge_date, @actual_charge_date, @is_refund,
			@source_file, @upload_batch_id, @created_ts, @updated_ts
		FROM (SELECT 1)
		WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE hash = @hash)
	`, s.table(transactionsTable), txColumns))
	q.Parameters = transactionParams(row)

	affected, err := s.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	if affected == 0 {
		return store.ErrDuplicateHash
	}
	return nil
}

// UpdateTransaction rewrites the row. Hash corrections are checked
// against the uniqueness constraint first.
func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	q := s.client.Query(fmt.Sprintf(`
		SELECT transaction_id FROM %s
		WHERE hash = @hash AND transaction_id != @transaction_id
		LIMIT 1
	`, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "hash", Value: tx.Hash},
		{Name: "transaction_id", Value: tx.ID},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return fmt.Errorf("UpdateTransaction: hash check: %w", err)
	}
	var probe struct {
		TransactionID string `bigquery:"transaction_id"`
	}
	switch err := it.Next(&probe); err {
	case iterator.Done:
	case nil:
		return store.ErrDuplicateHash
	default:
		return fmt.Errorf("UpdateTransaction: hash check: %w", err)
	}

	row := transactionToRow(tx)
	upd := s.client.Query(fmt.Sprintf(`
		UPDATE %s SET %s
		WHERE transaction_id = @transaction_id
	`, s.table(transactionsTable), txAssignments))
	upd.Parameters = transactionParams(row)

	affected, err := s.runDML(ctx, upd)
	if err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.queryOneTransaction(ctx, "GetTransaction",
		fmt.Sprintf(`SELECT %s FROM %s WHERE transaction_id = @id LIMIT 1`, txColumns, s.table(transactionsTable)),
		[]bigquery.QueryParameter{{Name: "id", Value: id}})
}

func (s *Store) GetTransactionByHash(ctx context.Context, hash string) (*domain.Transaction, error) {
	return s.queryOneTransaction(ctx, "GetTransactionByHash",
		fmt.Sprintf(`SELECT %s FROM %s WHERE hash = @hash LIMIT 1`, txColumns, s.table(transactionsTable)),
		[]bigquery.QueryParameter{{Name: "hash", Value: hash}})
}

func (s *Store) FindByGroupAndIndex(ctx context.Context, groupID string, index int) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "FindByGroupAndIndex",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE installment_group_id = @group_id AND installment_index = @index
		`, txColumns, s.table(transactionsTable)),
		[]bigquery.QueryParameter{
			{Name: "group_id", Value: groupID},
			{Name: "index", Value: int64(index)},
		})
}

func (s *Store) FindProjectedByBusinessCard(ctx context.Context, businessID, cardLast4 string, from, to time.Time) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "FindProjectedByBusinessCard",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE status = 'projected'
			  AND business_id = @business_id
			  AND card_last4 = @card_last4
			  AND projected_charge_date BETWEEN @from_date AND @to_date
		`, txColumns, s.table(transactionsTable)),
		[]bigquery.QueryParameter{
			{Name: "business_id", Value: businessID},
			{Name: "card_last4", Value: cardLast4},
			{Name: "from_date", Value: civil.DateOf(from)},
			{Name: "to_date", Value: civil.DateOf(to)},
		})
}

func (s *Store) ListTransactionsByBusiness(ctx context.Context, businessID string) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "ListTransactionsByBusiness",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE business_id = @business_id
			ORDER BY deal_date, created_ts
		`, txColumns, s.table(transactionsTable)),
		[]bigquery.QueryParameter{{Name: "business_id", Value: businessID}})
}

func (s *Store) ListTransactionsBySubscription(ctx context.Context, subscriptionID string) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "ListTransactionsBySubscription",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE subscription_id = @subscription_id
			ORDER BY deal_date
		`, txColumns, s.table(transactionsTable)),
		[]bigquery.QueryParameter{{Name: "subscription_id", Value: subscriptionID}})
}

func (s *Store) ListTransactionsByGroup(ctx context.Context, groupID string) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, "ListTransactionsByGroup",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE installment_group_id = @group_id
			ORDER BY installment_index
		`, txColumns, s.table(transactionsTable)),
		[]bigquery.QueryParameter{{Name: "group_id", Value: groupID}})
}

func (s *Store) DeleteTransactions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := s.client.Query(fmt.Sprintf(`
		DELETE FROM %s WHERE transaction_id IN UNNEST(@ids)
	`, s.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "ids", Value: ids}}

	if _, err := s.runDML(ctx, q); err != nil {
		return fmt.Errorf("DeleteTransactions: %w", err)
	}
	return nil
}

func (s *Store) queryOneTransaction(ctx context.Context, op, query string, params []bigquery.QueryParameter) (*domain.Transaction, error) {
	rows, err := s.queryTransactions(ctx, op, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) queryTransactions(ctx context.Context, op, query string, params []bigquery.QueryParameter) ([]*domain.Transaction, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var result []*domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		result = append(result, rowToTransaction(&row))
	}
	return result, nil
}
