package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dead struct {
	queue    string
	job      Job
	reason   string
	attempts int
}

type recorder struct {
	mu   sync.Mutex
	dead []dead
}

func (r *recorder) deadLetter(_ context.Context, queue string, job Job, reason string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead = append(r.dead, dead{queue, job, reason, attempts})
}

func newTestPool(handlers map[string]Handler) (*pool, *recorder) {
	rec := &recorder{}
	return &pool{handlers: handlers, backoff: 0, deadLetter: rec.deadLetter}, rec
}

func encode(t *testing.T, job Job) string {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return string(b)
}

func TestPool_RoutesByType(t *testing.T) {
	var got json.RawMessage
	p, rec := newTestPool(map[string]Handler{
		JobClosingReport: HandlerFunc(func(_ context.Context, payload json.RawMessage) error {
			got = payload
			return nil
		}),
	})

	p.process(context.Background(), QueueClosingReport, encode(t, Job{ID: "1", Type: JobClosingReport, Payload: json.RawMessage(`{"session_id":"x"}`)}))

	assert.JSONEq(t, `{"session_id":"x"}`, string(got))
	assert.Empty(t, rec.dead)
}

func TestPool_RetriesThenDeadLetters(t *testing.T) {
	calls := 0
	p, rec := newTestPool(map[string]Handler{
		JobClosingReport: HandlerFunc(func(context.Context, json.RawMessage) error {
			calls++
			return errors.New("smtp timeout")
		}),
	})

	p.process(context.Background(), QueueClosingReport, encode(t, Job{ID: "2", Type: JobClosingReport}))

	assert.Equal(t, maxAttempts, calls)
	require.Len(t, rec.dead, 1)
	assert.Equal(t, QueueClosingReport, rec.dead[0].queue)
	assert.Equal(t, "smtp timeout", rec.dead[0].reason)
	assert.Equal(t, maxAttempts, rec.dead[0].attempts)
}

func TestPool_RecoversOnRetry(t *testing.T) {
	calls := 0
	p, rec := newTestPool(map[string]Handler{
		JobClosingReport: HandlerFunc(func(context.Context, json.RawMessage) error {
			calls++
			if calls < 2 {
				return errors.New("flaky")
			}
			return nil
		}),
	})

	p.process(context.Background(), QueueClosingReport, encode(t, Job{Type: JobClosingReport}))
	assert.Equal(t, 2, calls)
	assert.Empty(t, rec.dead)
}

func TestPool_PermanentErrorSkipsRetries(t *testing.T) {
	calls := 0
	p, rec := newTestPool(map[string]Handler{
		JobClosingReport: HandlerFunc(func(context.Context, json.RawMessage) error {
			calls++
			return Permanent(errors.New("bad payload"))
		}),
	})

	p.process(context.Background(), QueueClosingReport, encode(t, Job{Type: JobClosingReport}))
	assert.Equal(t, 1, calls)
	require.Len(t, rec.dead, 1)
	assert.Equal(t, 1, rec.dead[0].attempts)
}

func TestPool_UnknownTypeAndMalformed(t *testing.T) {
	p, rec := newTestPool(map[string]Handler{})

	p.process(context.Background(), QueueClosingReport, encode(t, Job{Type: "print_receipt"}))
	p.process(context.Background(), QueueClosingReport, "{not json")

	require.Len(t, rec.dead, 2)
	assert.Equal(t, "unknown job type", rec.dead[0].reason)
	assert.Contains(t, rec.dead[1].reason, "malformed envelope")
	assert.True(t, json.Valid(rec.dead[1].job.Payload))
}

func TestWithRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, 3, 1e9, func(int) error {
		calls++
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
