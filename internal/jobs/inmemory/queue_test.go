package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/jobs"
)

func TestQueue_ProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 2, store)
	defer q.Close()

	processed := make(chan string, 1)
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		processed <- job.GetID()
		return nil
	}))

	job := &jobs.IngestBatchJob{BatchID: "batch-1", SourceFile: "may.xlsx"}
	require.NoError(t, q.PublishIngestBatch(context.Background(), job))

	select {
	case id := <-processed:
		assert.Equal(t, job.JobID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), job.JobID)
		return err == nil && got.Status == jobs.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_RetriesThenFails(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	defer q.Close()

	var attempts atomic.Int32
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		attempts.Add(1)
		return errors.New("bad statement")
	}))

	job := &jobs.IngestBatchJob{BatchID: "batch-2", MaxRetries: 1}
	require.NoError(t, q.PublishIngestBatch(context.Background(), job))

	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), job.JobID)
		return err == nil && got.Status == jobs.JobStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(2), attempts.Load())
	got, err := store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "bad statement", got.Error)
}

func TestQueue_RejectsPublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())

	err := q.PublishIngestBatch(context.Background(), &jobs.IngestBatchJob{})
	assert.Error(t, err)
}

func TestStore_ListJobsFilters(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SaveJob(ctx, &jobs.IngestBatchJob{JobID: "j1", BatchID: "b1", Status: jobs.JobStatusCompleted, CreatedAt: time.Now()}))
	require.NoError(t, store.SaveJob(ctx, &jobs.IngestBatchJob{JobID: "j2", BatchID: "b2", Status: jobs.JobStatusPending, CreatedAt: time.Now().Add(time.Second)}))

	byBatch, err := store.ListJobs(ctx, jobs.JobFilter{BatchID: "b1"})
	require.NoError(t, err)
	require.Len(t, byBatch, 1)
	assert.Equal(t, "j1", byBatch[0].JobID)

	byStatus, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "j2", byStatus[0].JobID)
}
