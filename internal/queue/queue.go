// Package queue is the durable job queue: enqueue, schedule, fetch, complete and fail
// with at-least-once delivery.
package queue

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateCreated   State = "created"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateRetry     State = "retry"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

const (
	DefaultRetryLimit = 3
	DefaultRetryDelay = 30 * time.Second
)

var ErrJobNotFound = errors.New("job not found")

// Job is one unit of work on a topic.
type Job struct {
	ID          string         `json:"id"`
	Topic       string         `json:"topic"`
	Payload     map[string]any `json:"payload"`
	State       State          `json:"state"`
	Ref         string         `json:"ref,omitempty"`
	RetryCount  int            `json:"retry_count"`
	RetryLimit  int            `json:"retry_limit"`
	RetryDelay  time.Duration  `json:"-"`
	StartAfter  time.Time      `json:"start_after"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// EnqueueOptions tunes a single enqueue. Zero values use queue defaults.
type EnqueueOptions struct {
	// Ref is a lookup key for status subscribers, e.g. "story:42".
	Ref        string
	RetryLimit *int
	RetryDelay time.Duration
	StartAfter time.Time
}

// Schedule is a named cron registration for a topic.
type Schedule struct {
	Topic   string         `json:"topic"`
	Name    string         `json:"name"`
	Cron    string         `json:"cron"`
	Payload map[string]any `json:"payload"`
}

// Queue is the contract shared by the Postgres and in-memory implementations.
type Queue interface {
	Enqueue(ctx context.Context, topic string, payload map[string]any, opts EnqueueOptions) (string, error)
	Schedule(ctx context.Context, schedule Schedule) error
	Schedules(ctx context.Context) ([]Schedule, error)
	FetchBatch(ctx context.Context, topic string, n int) ([]Job, error)
	Complete(ctx context.Context, id string, output map[string]any) error
	Fail(ctx context.Context, id string, cause error, output map[string]any) error
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Job, error)
	LatestByRef(ctx context.Context, ref string) (Job, error)
	// RequeueStale returns active jobs started before cutoff to the retry state.
	RequeueStale(ctx context.Context, cutoff time.Time) (int, error)
}

// retryBackoff is delay * 2^retryCount.
func retryBackoff(delay time.Duration, retryCount int) time.Duration {
	if delay <= 0 {
		return 0
	}
	if retryCount > 16 {
		retryCount = 16
	}
	return delay * time.Duration(1<<uint(retryCount))
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
