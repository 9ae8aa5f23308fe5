package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

const businessColumns = `
	business_id,
	normalized_name,
	display_name,
	category_id,
	approved,
	merged_to_id,
	created_ts,
	updated_ts`

func businessParams(r *BusinessRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "business_id", Value: r.BusinessID},
		{Name: "normalized_name", Value: r.NormalizedName},
		{Name: "display_name", Value: r.DisplayName},
		{Name: "category_id", Value: r.CategoryID},
		{Name: "approved", Value: r.Approved},
		{Name: "merged_to_id", Value: r.MergedToID},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "updated_ts", Value: r.UpdatedTS},
	}
}

// CreateBusiness inserts the row unless the normalized name is taken.
func (s *Store) CreateBusiness(ctx context.Context, b *domain.Business) error {
	row := businessToRow(b)

	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s)
		SELECT
			@business_id, @normalized_name, @display_name, @category_id,
			@approved, @merged_to_id, @created_ts, @updated_ts
		FROM (SELECT 1)
		WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE normalized_name = @normalized_name)
	`, s.table(businessesTable), businessColumns))
	q.Parameters = businessParams(row)

	affected, err := s.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("CreateBusiness: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("CreateBusiness: business %q already exists", b.NormalizedName)
	}
	return nil
}

func (s *Store) GetBusiness(ctx context.Context, id string) (*domain.Business, error) {
	return s.queryOneBusiness(ctx, "GetBusiness",
		fmt.Sprintf(`SELECT %s FROM %s WHERE business_id = @id LIMIT 1`, businessColumns, s.table(businessesTable)),
		[]bigquery.QueryParameter{{Name: "id", Value: id}})
}

func (s *Store) GetBusinessByNormalizedName(ctx context.Context, normalizedName string) (*domain.Business, error) {
	return s.queryOneBusiness(ctx, "GetBusinessByNormalizedName",
		fmt.Sprintf(`SELECT %s FROM %s WHERE normalized_name = @name LIMIT 1`, businessColumns, s.table(businessesTable)),
		[]bigquery.QueryParameter{{Name: "name", Value: normalizedName}})
}

// ListActiveBusinesses returns businesses that were not merged away.
func (s *Store) ListActiveBusinesses(ctx context.Context) ([]*domain.Business, error) {
	return s.queryBusinesses(ctx, "ListActiveBusinesses",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE merged_to_id IS NULL
			ORDER BY normalized_name
		`, businessColumns, s.table(businessesTable)), nil)
}

func (s *Store) ListBusinessesMergedInto(ctx context.Context, targetID string) ([]*domain.Business, error) {
	return s.queryBusinesses(ctx, "ListBusinessesMergedInto",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE merged_to_id = @target_id
			ORDER BY normalized_name
		`, businessColumns, s.table(businessesTable)),
		[]bigquery.QueryParameter{{Name: "target_id", Value: targetID}})
}

func (s *Store) UpdateBusiness(ctx context.Context, b *domain.Business) error {
	row := businessToRow(b)

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s SET
			normalized_name = @normalized_name,
			display_name = @display_name,
			category_id = @category_id,
			approved = @approved,
			merged_to_id = @merged_to_id,
			updated_ts = @updated_ts
		WHERE business_id = @business_id
	`, s.table(businessesTable)))
	q.Parameters = businessParams(row)

	affected, err := s.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateBusiness: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) queryOneBusiness(ctx context.Context, op, query string, params []bigquery.QueryParameter) (*domain.Business, error) {
	rows, err := s.queryBusinesses(ctx, op, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) queryBusinesses(ctx context.Context, op, query string, params []bigquery.QueryParameter) ([]*domain.Business, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var result []*domain.Business
	for {
		var row BusinessRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		result = append(result, rowToBusiness(&row))
	}
	return result, nil
}
