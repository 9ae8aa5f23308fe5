package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

const subscriptionColumns = `
	subscription_id,
	business_id,
	card_last4,
	amount,
	frequency,
	start_date,
	end_date,
	status,
	created_from_suggestion,
	created_ts,
	updated_ts`

func subscriptionParams(r *SubscriptionRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "subscription_id", Value: r.SubscriptionID},
		{Name: "business_id", Value: r.BusinessID},
		{Name: "card_last4", Value: r.CardLast4},
		{Name: "amount", Value: orZeroRat(r.Amount)},
		{Name: "frequency", Value: r.Frequency},
		{Name: "start_date", Value: r.StartDate},
		{Name: "end_date", Value: r.EndDate},
		{Name: "status", Value: r.Status},
		{Name: "created_from_suggestion", Value: r.CreatedFromSuggestion},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "updated_ts", Value: r.UpdatedTS},
	}
}

func (s *Store) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	row := subscriptionToRow(sub)

	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (@subscription_id, @business_id, @card_last4, @amount, @frequency,
			@start_date, @end_date, @status, @created_from_suggestion, @created_ts, @updated_ts)
	`, s.table(subscriptionsTable), subscriptionColumns))
	q.Parameters = subscriptionParams(row)

	if _, err := s.runDML(ctx, q); err != nil {
		return fmt.Errorf("CreateSubscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT %s FROM %s WHERE subscription_id = @id LIMIT 1
	`, subscriptionColumns, s.table(subscriptionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: query read: %w", err)
	}

	var row SubscriptionRow
	switch err := it.Next(&row); err {
	case iterator.Done:
		return nil, store.ErrNotFound
	case nil:
		return rowToSubscription(&row), nil
	default:
		return nil, fmt.Errorf("GetSubscription: iter next: %w", err)
	}
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	row := subscriptionToRow(sub)

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s SET
			business_id = @business_id,
			card_last4 = @card_last4,
			amount = @amount,
			frequency = @frequency,
			start_date = @start_date,
			end_date = @end_date,
			status = @status,
			created_from_suggestion = @created_from_suggestion,
			updated_ts = @updated_ts
		WHERE subscription_id = @subscription_id
	`, s.table(subscriptionsTable)))
	q.Parameters = subscriptionParams(row)

	affected, err := s.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateSubscription: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
