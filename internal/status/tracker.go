// Package status turns queue job state into a stream of client-facing events.
package status

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/queue"
)

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

const (
	EventStatus  = "status"
	EventClose   = "close"
	EventError   = "error"
	EventTimeout = "timeout"
)

const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 300
)

var ErrJobNotFound = errors.New("job not found")

// Payload is the body of status and close events.
type Payload struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	TaskID      string         `json:"task_id,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	CompletedOn *time.Time     `json:"completed_on,omitempty"`
}

type Event struct {
	Name    string
	Payload Payload
	Message string
}

// Data is the JSON body written for the event.
func (e Event) Data() any {
	switch e.Name {
	case EventError, EventTimeout:
		return map[string]any{"id": e.Payload.ID, "status": e.Payload.Status, "message": e.Message}
	default:
		return e.Payload
	}
}

// FromQueueState maps a queue state onto the client status enum.
func FromQueueState(state queue.State) Status {
	switch state {
	case queue.StateActive:
		return StatusExecuting
	case queue.StateCompleted:
		return StatusCompleted
	case queue.StateFailed:
		return StatusFailed
	case queue.StateCancelled:
		return StatusCancelled
	default:
		return StatusQueued
	}
}

type jobReader interface {
	Get(ctx context.Context, id string) (queue.Job, error)
	LatestByRef(ctx context.Context, ref string) (queue.Job, error)
}

type overlayReader interface {
	GetStoryOverlay(ctx context.Context, storyID int64) (db.OverlayRecord, error)
}

type Options struct {
	Interval    time.Duration
	MaxAttempts int
}

type Tracker struct {
	jobs     jobReader
	overlays overlayReader
	opts     Options
	logger   zerolog.Logger
}

func NewTracker(jobs jobReader, overlays overlayReader, opts Options, logger zerolog.Logger) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Tracker{jobs: jobs, overlays: overlays, opts: opts, logger: logger}
}

// Target identifies what a subscriber follows: a job, or the analysis of a story.
type Target struct {
	JobID   string
	StoryID int64
}

// ParseTarget reads "story:<id>", a bare story id, or a job id.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("id is required")
	}
	if rest, ok := strings.CutPrefix(raw, "story:"); ok {
		return storyTarget(rest)
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return storyTarget(raw)
	}
	return Target{JobID: raw}, nil
}

func storyTarget(raw string) (Target, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return Target{}, fmt.Errorf("invalid story id %q", raw)
	}
	return Target{StoryID: id}, nil
}

func (t Target) String() string {
	if t.StoryID > 0 {
		return "story:" + strconv.FormatInt(t.StoryID, 10)
	}
	return t.JobID
}

// Snapshot returns the current status of target.
func (t *Tracker) Snapshot(ctx context.Context, target Target) (Payload, error) {
	if target.StoryID > 0 {
		return t.storySnapshot(ctx, target.StoryID)
	}
	job, err := t.jobs.Get(ctx, target.JobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return Payload{}, ErrJobNotFound
		}
		return Payload{}, err
	}
	return fromJob(target.String(), job), nil
}

func (t *Tracker) storySnapshot(ctx context.Context, storyID int64) (Payload, error) {
	id := Target{StoryID: storyID}.String()

	job, err := t.jobs.LatestByRef(ctx, id)
	hasJob := err == nil
	if err != nil && !errors.Is(err, queue.ErrJobNotFound) {
		return Payload{}, err
	}
	if hasJob && !job.State.Terminal() {
		return fromJob(id, job), nil
	}

	overlay, err := t.overlays.GetStoryOverlay(ctx, storyID)
	switch {
	case err == nil:
		completed := overlay.AnalyzedAt
		return Payload{
			ID:     id,
			Status: StatusCompleted,
			TaskID: "analyze.story",
			Output: map[string]any{
				"story_id":       overlay.StoryID,
				"why_it_matters": overlay.WhyItMatters,
				"chili":          overlay.Chili,
				"confidence":     overlay.Confidence,
				"citations":      map[string]any(overlay.Citations),
				"model_version":  overlay.ModelVersion,
			},
			CompletedOn: &completed,
		}, nil
	case !db.IsNoRows(err):
		return Payload{}, err
	}

	if hasJob {
		return fromJob(id, job), nil
	}
	return Payload{}, ErrJobNotFound
}

func fromJob(id string, job queue.Job) Payload {
	return Payload{
		ID:          id,
		Status:      FromQueueState(job.State),
		TaskID:      job.Topic,
		Output:      job.Output,
		Error:       job.LastError,
		CompletedOn: job.CompletedAt,
	}
}

// Stream emits the current status, then polls until the status is terminal, the
// attempt budget is spent, or ctx is done. It returns ErrJobNotFound without
// emitting anything when target is unknown at subscribe time.
func (t *Tracker) Stream(ctx context.Context, target Target, emit func(Event) error) error {
	current, err := t.Snapshot(ctx, target)
	if err != nil {
		return err
	}
	if err := emit(Event{Name: EventStatus, Payload: current}); err != nil {
		return err
	}
	if current.Status.Terminal() {
		return emit(Event{Name: EventClose, Payload: current})
	}

	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		timer := time.NewTimer(t.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		next, err := t.Snapshot(ctx, target)
		if errors.Is(err, ErrJobNotFound) {
			return emit(Event{Name: EventError, Payload: current, Message: "job no longer exists"})
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn().Err(err).Str("id", target.String()).Msg("status poll failed")
			continue
		}

		if next.Status != current.Status {
			if err := emit(Event{Name: EventStatus, Payload: next}); err != nil {
				return err
			}
		}
		current = next
		if current.Status.Terminal() {
			return emit(Event{Name: EventClose, Payload: current})
		}
	}

	return emit(Event{
		Name:    EventTimeout,
		Payload: current,
		Message: fmt.Sprintf("no terminal status after %d polls", t.opts.MaxAttempts),
	})
}
