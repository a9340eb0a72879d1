// Package kafka carries statement jobs over a Kafka topic so that several
// worker instances can share the load.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/taxledger/internal/jobs"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue publishes jobs to a topic and, when started, consumes them from the
// same topic within a consumer group. Failed jobs are re-published with an
// incremented retry count; the original message is committed either way.
type Queue struct {
	writer messageWriter
	reader messageReader
	store  jobs.JobStore

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewQueue connects a writer and, if groupID is set, a group reader.
func NewQueue(brokers []string, topic, groupID string, store jobs.JobStore) (*Queue, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("NewQueue: brokers and topic are required")
	}
	q := &Queue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		store: store,
	}
	if groupID != "" {
		q.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		})
	}
	return q, nil
}

// Publish writes the job as JSON. Jobs for one statement share a key and
// therefore a partition.
func (q *Queue) Publish(ctx context.Context, job *jobs.StatementJob) error {
	job.SetDefaults(time.Now())
	if err := job.Validate(); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("Publish: encoding job %s: %w", job.JobID, err)
	}
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("Publish: saving job %s: %w", job.JobID, err)
		}
	}
	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(messageKey(job)),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("Publish: writing job %s: %w", job.JobID, err)
	}
	return nil
}

func messageKey(job *jobs.StatementJob) string {
	if job.StatementID != "" {
		return job.CompanyID + "/" + job.StatementID
	}
	return job.CompanyID + "/" + job.Source
}

// Start consumes messages in a background loop until Stop or ctx ends.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	if q.reader == nil {
		return fmt.Errorf("Start: queue has no consumer group")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return fmt.Errorf("queue is closed")
	}
	if q.done != nil {
		return fmt.Errorf("Start: already started")
	}

	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	go q.consume(ctx, handler)
	return nil
}

func (q *Queue) consume(ctx context.Context, handler jobs.JobHandler) {
	defer close(q.done)
	log := logger.FromContext(ctx)

	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("Failed to fetch job message")
			continue
		}

		var job jobs.StatementJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Dropping undecodable job message")
		} else {
			q.processJob(ctx, &job, handler)
		}

		if err := q.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit job message")
		}
	}
}

func (q *Queue) processJob(ctx context.Context, job *jobs.StatementJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("job_type", string(job.Type)).
		Str("company_id", job.CompanyID).
		Logger()

	now := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &now
	q.save(ctx, job)

	err := handler(logger.WithContext(ctx, log), job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt
	if err == nil {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		q.save(ctx, job)
		return
	}

	job.Error = err.Error()
	if job.RetryCount >= job.MaxRetries || jobs.IsPermanent(err) {
		job.Status = jobs.JobStatusFailed
		q.save(ctx, job)
		log.Error().Err(err).Msg("Job failed permanently")
		return
	}

	job.RetryCount++
	job.Status = jobs.JobStatusRetrying
	q.save(ctx, job)
	log.Warn().Err(err).Int("retry", job.RetryCount).Msg("Job failed, re-publishing")

	retry := *job
	retry.Status = jobs.JobStatusPending
	retry.StartedAt = nil
	retry.CompletedAt = nil
	if err := q.Publish(ctx, &retry); err != nil {
		log.Error().Err(err).Msg("Failed to re-publish job")
	}
}

func (q *Queue) save(ctx context.Context, job *jobs.StatementJob) {
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

// Stop ends the consume loop and waits for the in-flight job.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if q.reader != nil {
		if err := q.reader.Close(); err != nil {
			return fmt.Errorf("Stop: closing reader: %w", err)
		}
	}
	return nil
}

// Close stops consuming and closes the writer.
func (q *Queue) Close() error {
	if err := q.Stop(context.Background()); err != nil {
		return err
	}
	if err := q.writer.Close(); err != nil {
		return fmt.Errorf("Close: closing writer: %w", err)
	}
	return nil
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
