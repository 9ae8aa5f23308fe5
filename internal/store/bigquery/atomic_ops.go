package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// ApplyMerge runs the merge bookkeeping as one BigQuery transaction:
// source transactions move to the target with first-owner provenance
// stamped, pending suggestions touching any involved business are
// pruned, and the sources are soft-deleted with a merged_to_id pointer.
// The moved count is captured inside the transaction via @@row_count,
// so it cannot race with concurrent writes.
func (s *Store) ApplyMerge(ctx context.Context, targetID string, sourceIDs []string) (int, error) {
	q := s.client.Query(fmt.Sprintf(`
		DECLARE moved INT64 DEFAULT 0;

		BEGIN TRANSACTION;

		UPDATE %[1]s SET
			original_business_id = IFNULL(original_business_id, business_id),
			business_id = @target_id
		WHERE business_id IN UNNEST(@source_ids);
		SET moved = @@row_count;

		DELETE FROM %[2]s
		WHERE rejected_until IS NULL
		  AND (business_id_1 IN UNNEST(@involved_ids) OR business_id_2 IN UNNEST(@involved_ids));

		UPDATE %[3]s SET merged_to_id = @target_id
		WHERE business_id IN UNNEST(@source_ids);

		COMMIT TRANSACTION;

		SELECT moved AS n;
	`, s.table(transactionsTable), s.table(suggestionsTable), s.table(businessesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "target_id", Value: targetID},
		{Name: "source_ids", Value: sourceIDs},
		{Name: "involved_ids", Value: append([]string{targetID}, sourceIDs...)},
	}

	moved, err := s.runScriptCount(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("ApplyMerge: %w", err)
	}
	return moved, nil
}

// ApplyUnmerge reverses a merge for one source: transactions that
// originated there come home with provenance cleared, and the business
// goes active again.
func (s *Store) ApplyUnmerge(ctx context.Context, businessID string) (int, error) {
	q := s.client.Query(fmt.Sprintf(`
		DECLARE moved INT64 DEFAULT 0;

		BEGIN TRANSACTION;

		UPDATE %[1]s SET
			business_id = @business_id,
			original_business_id = NULL
		WHERE original_business_id = @business_id;
		SET moved = @@row_count;

		UPDATE %[2]s SET merged_to_id = NULL
		WHERE business_id = @business_id;

		COMMIT TRANSACTION;

		SELECT moved AS n;
	`, s.table(transactionsTable), s.table(businessesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "business_id", Value: businessID},
	}

	moved, err := s.runScriptCount(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("ApplyUnmerge: %w", err)
	}
	return moved, nil
}

// DeleteBusinessCascade deletes a business. With includeSources the
// merged sources and every transaction they own or originated go too;
// otherwise provenance-tracked transactions return to their sources,
// the sources go active again, and only the parent and its own
// transactions are removed.
func (s *Store) DeleteBusinessCascade(ctx context.Context, businessID string, includeSources bool) error {
	var script string
	if includeSources {
		script = fmt.Sprintf(`
			BEGIN TRANSACTION;

			DELETE FROM %[1]s
			WHERE business_id = @business_id
			   OR original_business_id = @business_id
			   OR business_id IN (SELECT business_id FROM %[2]s WHERE merged_to_id = @business_id)
			   OR original_business_id IN (SELECT business_id FROM %[2]s WHERE merged_to_id = @business_id);

			DELETE FROM %[2]s
			WHERE business_id = @business_id OR merged_to_id = @business_id;

			COMMIT TRANSACTION;
		`, s.table(transactionsTable), s.table(businessesTable))
	} else {
		script = fmt.Sprintf(`
			BEGIN TRANSACTION;

			UPDATE %[1]s SET
				business_id = original_business_id,
				original_business_id = NULL
			WHERE original_business_id IN (SELECT business_id FROM %[2]s WHERE merged_to_id = @business_id);

			UPDATE %[2]s SET merged_to_id = NULL
			WHERE merged_to_id = @business_id;

			DELETE FROM %[1]s WHERE business_id = @business_id;

			DELETE FROM %[2]s WHERE business_id = @business_id;

			COMMIT TRANSACTION;
		`, s.table(transactionsTable), s.table(businessesTable))
	}

	q := s.client.Query(script)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "business_id", Value: businessID},
	}

	if err := s.runScript(ctx, q); err != nil {
		return fmt.Errorf("DeleteBusinessCascade: %w", err)
	}
	return nil
}

// runScriptCount executes a script whose final statement selects a
// single INT64 column n, and returns its value.
func (s *Store) runScriptCount(ctx context.Context, q *bigquery.Query) (int, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return 0, err
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, err
	}
	return int(row.N), nil
}
