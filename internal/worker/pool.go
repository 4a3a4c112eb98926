package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueClosingReport = "jobs:closing_report"

	JobClosingReport = "closing_report"

	maxAttempts = 3
)

// Job is the generic envelope for all async tasks.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes the payload of one job type. Returned errors are retried
// unless wrapped with Permanent.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error { return f(ctx, payload) }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job goes straight to the DLQ.
func Permanent(err error) error { return permanentError{err: err} }

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// ClosingReportPayload is the body of a closing_report job.
type ClosingReportPayload struct {
	SessionID string `json:"session_id"`
}

// EnqueueClosingReport asks the workers to mail the report of a closed session.
func (d *Dispatcher) EnqueueClosingReport(ctx context.Context, sessionID uuid.UUID) error {
	return d.enqueue(ctx, QueueClosingReport, JobClosingReport, ClosingReportPayload{SessionID: sessionID.String()})
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(Job{ID: uuid.NewString(), Type: jobType, Payload: data, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := d.rdb.LPush(ctx, queue, encoded).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return nil
}

// pool routes dequeued jobs to their handler.
type pool struct {
	handlers   map[string]Handler
	backoff    time.Duration
	deadLetter func(ctx context.Context, queue string, job Job, reason string, attempts int)
}

// StartWorkerPool launches numWorkers goroutines consuming the job queues.
// Each goroutine blocks on BRPOP and uses no CPU while idle.
func StartWorkerPool(ctx context.Context, rdb *redis.Client, handlers map[string]Handler, numWorkers int) {
	p := &pool{
		handlers: handlers,
		backoff:  time.Second,
		deadLetter: func(ctx context.Context, queue string, job Job, reason string, attempts int) {
			SendToDLQ(ctx, rdb, queue, job.Type, job.Payload, reason, attempts)
		},
	}
	for i := 0; i < numWorkers; i++ {
		go p.run(ctx, rdb, i)
	}
	log.Info().Int("workers", numWorkers).Msg("worker pool started")
}

func (p *pool) run(ctx context.Context, rdb *redis.Client, id int) {
	queues := []string{QueueClosingReport}
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("worker", id).Msg("worker shutting down")
			return
		default:
		}

		// waits up to 5s then loops to check ctx
		result, err := rdb.BRPop(ctx, 5*time.Second, queues...).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn().Err(err).Int("worker", id).Msg("brpop failed")
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		p.process(ctx, result[0], result[1])
	}
}

func (p *pool) process(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		p.deadLetter(ctx, queue, Job{Payload: json.RawMessage(fmt.Sprintf("%q", raw))}, "malformed envelope: "+err.Error(), 0)
		return
	}
	logger := log.With().Str("queue", queue).Str("job_id", job.ID).Str("type", job.Type).Logger()

	h, ok := p.handlers[job.Type]
	if !ok {
		logger.Error().Msg("no handler for job type")
		p.deadLetter(ctx, queue, job, "unknown job type", 0)
		return
	}

	attempts := 0
	err := withRetry(ctx, maxAttempts, p.backoff, func(attempt int) error {
		attempts = attempt + 1
		err := h.Handle(ctx, job.Payload)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempts).Msg("job attempt failed")
		}
		return err
	})
	if err != nil {
		logger.Error().Err(err).Int("attempts", attempts).Msg("job failed")
		p.deadLetter(ctx, queue, job, err.Error(), attempts)
		return
	}
	logger.Info().Int("attempts", attempts).Msg("job done")
}
