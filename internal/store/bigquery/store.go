// Package bigquery is the BigQuery-backed Store implementation. One
// shared client serves every repository; queries are parameterized and
// the composite operations run as multi-statement transactions so the
// merge bookkeeping commits atomically.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/store"
)

const (
	transactionsTable  = "transactions"
	businessesTable    = "businesses"
	suggestionsTable   = "merge_suggestions"
	subscriptionsTable = "subscriptions"
)

// Store implements store.Store on BigQuery.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewStore creates a Store with a shared BigQuery client.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery store: creating client: %w", err)
	}
	return &Store{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// table returns the fully qualified quoted table name.
func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

// runDML executes a DML statement and reports how many rows it touched.
func (s *Store) runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}

// runScript executes a multi-statement script (BEGIN TRANSACTION ...
// COMMIT TRANSACTION) and waits for completion.
func (s *Store) runScript(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

// Ensure Store satisfies the full persistence contract.
var _ store.Store = (*Store)(nil)
