package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/taxledger/internal/jobs"
)

func reconcileJob(statementID string) *jobs.StatementJob {
	return &jobs.StatementJob{
		Type:        jobs.JobTypeReconcileStatement,
		CompanyID:   "company-1",
		StatementID: statementID,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func jobStatus(t *testing.T, s *Store, id string) jobs.JobStatus {
	t.Helper()
	j, err := s.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	return j.Status
}

func TestQueue_ProcessesJob(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var handled atomic.Int32
	if err := q.Start(ctx, func(ctx context.Context, job *jobs.StatementJob) error {
		handled.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := reconcileJob("st-1")
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if job.JobID == "" || job.MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("defaults not applied: %+v", job)
	}

	waitFor(t, func() bool { return jobStatus(t, store, job.JobID) == jobs.JobStatusCompleted })
	if handled.Load() != 1 {
		t.Errorf("handler called %d times, want 1", handled.Load())
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(10, 1, store)
	q.retryDelay = time.Millisecond
	defer q.Close()

	var calls atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job *jobs.StatementJob) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	job := reconcileJob("st-1")
	if err := q.Publish(ctx, job); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return jobStatus(t, store, job.JobID) == jobs.JobStatusCompleted })
	got, _ := store.GetJob(ctx, job.JobID)
	if got.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", got.RetryCount)
	}
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(10, 1, store)
	q.retryDelay = time.Millisecond
	defer q.Close()

	_ = q.Start(ctx, func(ctx context.Context, job *jobs.StatementJob) error {
		return errors.New("permanent")
	})

	job := reconcileJob("st-1")
	job.MaxRetries = 1
	_ = q.Publish(ctx, job)

	waitFor(t, func() bool { return jobStatus(t, store, job.JobID) == jobs.JobStatusFailed })
	got, _ := store.GetJob(ctx, job.JobID)
	if got.Error != "permanent" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestQueue_RejectsInvalidAndClosed(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(1, 1, nil)

	if err := q.Publish(ctx, &jobs.StatementJob{Type: jobs.JobTypeImportStatement, CompanyID: "c"}); err == nil {
		t.Error("import job without source accepted")
	}

	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := q.Publish(ctx, reconcileJob("st-1")); err == nil {
		t.Error("Publish() on closed queue succeeded")
	}
	if err := q.Start(ctx, nil); err == nil {
		t.Error("Start() on closed queue succeeded")
	}
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		_ = s.SaveJob(ctx, &jobs.StatementJob{
			JobID:       id,
			Type:        jobs.JobTypeReconcileStatement,
			CompanyID:   "company-1",
			StatementID: "st-" + id,
			Status:      jobs.JobStatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	_ = s.SaveJob(ctx, &jobs.StatementJob{JobID: "other", CompanyID: "company-2", CreatedAt: base})

	got, err := s.ListJobs(ctx, jobs.JobFilter{CompanyID: "company-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].JobID != "c" || got[2].JobID != "b" {
		t.Errorf("ListJobs order = %v", ids(got))
	}

	got, _ = s.ListJobs(ctx, jobs.JobFilter{CompanyID: "company-1", Offset: 1, Limit: 1})
	if len(got) != 1 || got[0].JobID != "a" {
		t.Errorf("paged ListJobs = %v", ids(got))
	}

	got, _ = s.ListJobs(ctx, jobs.JobFilter{StatementID: "st-b"})
	if len(got) != 1 || got[0].JobID != "b" {
		t.Errorf("statement filter = %v", ids(got))
	}

	if err := s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	if len(got) != 1 || got[0].Error != "boom" {
		t.Errorf("status filter = %v", ids(got))
	}
	if err := s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""); err == nil {
		t.Error("UpdateJobStatus() on unknown job succeeded")
	}
}

func ids(js []*jobs.StatementJob) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.JobID
	}
	return out
}
