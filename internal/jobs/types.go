// Package jobs defines the asynchronous ingest work queue. Statement
// uploads return immediately with a job id; workers run the
// reconciliation batch and record its outcome here.
package jobs

import (
	"context"
	"time"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
)

// JobType identifies what a job does.
type JobType string

const (
	// JobTypeIngestBatch reconciles one uploaded statement file.
	JobTypeIngestBatch JobType = "ingest_batch"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// BatchSummary carries the reconciliation counters of a finished batch.
type BatchSummary struct {
	Rows        int `json:"rows"`
	New         int `json:"new"`
	Duplicates  int `json:"duplicates"`
	GroupJoined int `json:"group_joined"`
	Completed   int `json:"completed"`
	Ambiguous   int `json:"ambiguous"`
}

// IngestBatchJob is one statement file waiting to be reconciled.
type IngestBatchJob struct {
	JobID string `json:"job_id"`

	// BatchID tags every transaction the batch inserts or completes.
	BatchID string `json:"batch_id"`

	// ArchiveURI points at the archived statement file.
	ArchiveURI string `json:"archive_uri"`

	// SourceFile is the original filename as uploaded.
	SourceFile string `json:"source_file"`

	// Rows are the parsed statement lines to reconcile.
	Rows []domain.StatementRow `json:"rows"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the failure detail of the last attempt.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Summary is set once the batch finishes.
	Summary *BatchSummary `json:"summary,omitempty"`
}

// Job is the generic queue item.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *IngestBatchJob) GetID() string        { return j.JobID }
func (j *IngestBatchJob) GetType() JobType     { return JobTypeIngestBatch }
func (j *IngestBatchJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues jobs. Implementations may be in-memory or a real
// broker; callers only see this interface.
type Publisher interface {
	PublishIngestBatch(ctx context.Context, job *IngestBatchJob) error
	Close() error
}

// Consumer drains the queue. Start is non-blocking; Stop waits for
// in-flight jobs.
type Consumer interface {
	Start(ctx context.Context, handler JobHandler) error
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error requeues the job
// until its retry budget runs out.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job state so upload callers can poll for results.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestBatchJob) error
	GetJob(ctx context.Context, jobID string) (*IngestBatchJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestBatchJob, error)
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	BatchID string
	Status  JobStatus
	Limit   int
	Offset  int
}
