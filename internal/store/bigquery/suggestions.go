package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

const suggestionColumns = `
	suggestion_id,
	business_id_1,
	business_id_2,
	score,
	reason,
	rejected_until,
	created_ts`

func (s *Store) CreateSuggestion(ctx context.Context, sg *domain.MergeSuggestion) error {
	row := suggestionToRow(sg)

	q := s.client.Query(fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (@suggestion_id, @business_id_1, @business_id_2, @score, @reason, @rejected_until, @created_ts)
	`, s.table(suggestionsTable), suggestionColumns))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "suggestion_id", Value: row.SuggestionID},
		{Name: "business_id_1", Value: row.BusinessID1},
		{Name: "business_id_2", Value: row.BusinessID2},
		{Name: "score", Value: row.Score},
		{Name: "reason", Value: row.Reason},
		{Name: "rejected_until", Value: row.RejectedUntil},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	if _, err := s.runDML(ctx, q); err != nil {
		return fmt.Errorf("CreateSuggestion: %w", err)
	}
	return nil
}

func (s *Store) GetSuggestion(ctx context.Context, id string) (*domain.MergeSuggestion, error) {
	rows, err := s.querySuggestions(ctx, "GetSuggestion",
		fmt.Sprintf(`SELECT %s FROM %s WHERE suggestion_id = @id LIMIT 1`, suggestionColumns, s.table(suggestionsTable)),
		[]bigquery.QueryParameter{{Name: "id", Value: id}})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

// FindSuggestionForPair returns the live suggestion for a pair in
// either id order: the pending one if present, otherwise the most
// recently rejected.
func (s *Store) FindSuggestionForPair(ctx context.Context, businessID1, businessID2 string) (*domain.MergeSuggestion, error) {
	rows, err := s.querySuggestions(ctx, "FindSuggestionForPair",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE (business_id_1 = @id1 AND business_id_2 = @id2)
			   OR (business_id_1 = @id2 AND business_id_2 = @id1)
			ORDER BY rejected_until IS NULL DESC, rejected_until DESC
			LIMIT 1
		`, suggestionColumns, s.table(suggestionsTable)),
		[]bigquery.QueryParameter{
			{Name: "id1", Value: businessID1},
			{Name: "id2", Value: businessID2},
		})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) ListPendingSuggestions(ctx context.Context) ([]*domain.MergeSuggestion, error) {
	return s.querySuggestions(ctx, "ListPendingSuggestions",
		fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE rejected_until IS NULL
			ORDER BY score DESC, created_ts
		`, suggestionColumns, s.table(suggestionsTable)), nil)
}

func (s *Store) RejectSuggestion(ctx context.Context, id string, until time.Time) error {
	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s SET rejected_until = @until
		WHERE suggestion_id = @id
	`, s.table(suggestionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: id},
		{Name: "until", Value: until},
	}

	affected, err := s.runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("RejectSuggestion: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) querySuggestions(ctx context.Context, op, query string, params []bigquery.QueryParameter) ([]*domain.MergeSuggestion, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var result []*domain.MergeSuggestion
	for {
		var row SuggestionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		result = append(result, rowToSuggestion(&row))
	}
	return result, nil
}
