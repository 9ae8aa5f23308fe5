package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/jobs"
)

// Store keeps job state in memory so upload callers can poll results.
// Lost on restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.IngestBatchJob
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*jobs.IngestBatchJob),
	}
}

func (s *Store) SaveJob(ctx context.Context, job *jobs.IngestBatchJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *job
	s.jobs[job.JobID] = &c
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.IngestBatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	c := *job
	return &c, nil
}

func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.IngestBatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.IngestBatchJob
	for _, job := range s.jobs {
		if filter.BatchID != "" && job.BatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		c := *job
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.IngestBatchJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

var _ jobs.JobStore = (*Store)(nil)
