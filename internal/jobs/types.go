package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned by a JobStore for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeImportStatement imports one statement file.
	JobTypeImportStatement JobType = "import_statement"
	// JobTypeReconcileStatement runs reconciliation for an imported statement.
	JobTypeReconcileStatement JobType = "reconcile_statement"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a job is published without MaxRetries.
const DefaultMaxRetries = 3

// StatementJob is a unit of background work on a bank statement.
type StatementJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type      JobType `json:"type"`
	CompanyID string  `json:"company_id"`

	// StatementID is set for reconcile jobs.
	StatementID string `json:"statement_id,omitempty"`

	// Source is a local path or gs:// URI for import jobs.
	Source string `json:"source,omitempty"`
	// Format is the declared statement format; empty means detect.
	Format string `json:"format,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Publisher publishes jobs to a queue (in-memory channel or Kafka topic).
type Publisher interface {
	Publish(ctx context.Context, job *StatementJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer consumes jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the job for retry.
type JobHandler func(ctx context.Context, job *StatementJob) error

// JobStore tracks job execution state.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *StatementJob) error

	GetJob(ctx context.Context, jobID string) (*StatementJob, error)

	// ListJobs retrieves jobs with optional filtering, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*StatementJob, error)

	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	CompanyID   string
	StatementID string
	Type        JobType
	Status      JobStatus

	Limit  int
	Offset int
}

// SetDefaults fills the ID, status, creation time and retry budget of a
// job about to be published.
func (j *StatementJob) SetDefaults(now time.Time) {
	if j.JobID == "" {
		j.JobID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
}

// Validate checks the fields the job type needs.
func (j *StatementJob) Validate() error {
	if j.CompanyID == "" {
		return fmt.Errorf("job %s: company ID is required", j.JobID)
	}
	switch j.Type {
	case JobTypeImportStatement:
		if j.Source == "" {
			return fmt.Errorf("job %s: import needs a source", j.JobID)
		}
	case JobTypeReconcileStatement:
		if j.StatementID == "" {
			return fmt.Errorf("job %s: reconcile needs a statement ID", j.JobID)
		}
	default:
		return fmt.Errorf("job %s: unknown job type %q", j.JobID, j.Type)
	}
	return nil
}

// PermanentError marks a job failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that queues fail the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
