package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/queue"
)

type fakeOverlays map[int64]db.OverlayRecord

func (f fakeOverlays) GetStoryOverlay(_ context.Context, id int64) (db.OverlayRecord, error) {
	rec, ok := f[id]
	if !ok {
		return db.OverlayRecord{}, db.ErrNoRows
	}
	return rec, nil
}

func newTracker(q *queue.Memory, overlays fakeOverlays, attempts int) *Tracker {
	return NewTracker(q, overlays, Options{Interval: time.Millisecond, MaxAttempts: attempts}, zerolog.Nop())
}

func names(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Name+":"+string(e.Payload.Status))
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStreamTerminalOnSubscribe(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	id, _ := q.Enqueue(context.Background(), "analyze.story", nil, queue.EnqueueOptions{})
	_, _ = q.FetchBatch(context.Background(), "analyze.story", 1)
	_ = q.Complete(context.Background(), id, map[string]any{"chili": 3})

	var events []Event
	err := newTracker(q, nil, 5).Stream(context.Background(), Target{JobID: id}, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if want := []string{"status:COMPLETED", "close:COMPLETED"}; !equal(names(events), want) {
		t.Fatalf("events = %v, want %v", names(events), want)
	}
	if events[0].Payload.Output["chili"] != 3 || events[0].Payload.CompletedOn == nil {
		t.Fatalf("payload missing output: %+v", events[0].Payload)
	}
}

func TestStreamFollowsTransitions(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, "extract.content", nil, queue.EnqueueOptions{})

	var events []Event
	err := newTracker(q, nil, 10).Stream(ctx, Target{JobID: id}, func(e Event) error {
		events = append(events, e)
		switch e.Payload.Status {
		case StatusQueued:
			_, _ = q.FetchBatch(ctx, "extract.content", 1)
		case StatusExecuting:
			_ = q.Complete(ctx, id, nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	want := []string{"status:QUEUED", "status:EXECUTING", "status:COMPLETED", "close:COMPLETED"}
	if !equal(names(events), want) {
		t.Fatalf("events = %v, want %v", names(events), want)
	}
}

func TestStreamTimesOut(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	id, _ := q.Enqueue(context.Background(), "extract.content", nil, queue.EnqueueOptions{})

	var events []Event
	err := newTracker(q, nil, 3).Stream(context.Background(), Target{JobID: id}, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if want := []string{"status:QUEUED", "timeout:QUEUED"}; !equal(names(events), want) {
		t.Fatalf("events = %v, want %v", names(events), want)
	}
}

func TestStreamJobDisappears(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	id, _ := q.Enqueue(context.Background(), "extract.content", nil, queue.EnqueueOptions{})

	var events []Event
	err := newTracker(q, nil, 5).Stream(context.Background(), Target{JobID: id}, func(e Event) error {
		events = append(events, e)
		q.Delete(id)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(events) != 2 || events[1].Name != EventError {
		t.Fatalf("events = %v", names(events))
	}
}

func TestStreamUnknownJob(t *testing.T) {
	t.Parallel()

	called := false
	err := newTracker(queue.NewMemory(), nil, 5).Stream(context.Background(), Target{JobID: "nope"}, func(Event) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrJobNotFound) || called {
		t.Fatalf("expected ErrJobNotFound without events, got %v (called=%v)", err, called)
	}
}

func TestStoryWithOverlayIsCompleted(t *testing.T) {
	t.Parallel()

	overlays := fakeOverlays{7: {StoryID: 7, WhyItMatters: "because", Chili: 4, Confidence: 0.8, ModelVersion: "stub-v1", AnalyzedAt: time.Now()}}
	var events []Event
	err := newTracker(queue.NewMemory(), overlays, 5).Stream(context.Background(), Target{StoryID: 7}, func(e Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if want := []string{"status:COMPLETED", "close:COMPLETED"}; !equal(names(events), want) {
		t.Fatalf("events = %v", names(events))
	}
	if events[0].Payload.Output["why_it_matters"] != "because" || events[0].Payload.ID != "story:7" {
		t.Fatalf("unexpected payload %+v", events[0].Payload)
	}
}

func TestStoryWithPendingJobFollowsJob(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	_, _ = q.Enqueue(context.Background(), "analyze.story", nil, queue.EnqueueOptions{Ref: "story:9"})
	overlays := fakeOverlays{9: {StoryID: 9}}

	got, err := newTracker(q, overlays, 5).Snapshot(context.Background(), Target{StoryID: 9})
	if err != nil || got.Status != StatusQueued {
		t.Fatalf("Snapshot() = %+v, %v", got, err)
	}

	if _, err := newTracker(q, fakeOverlays{}, 5).Snapshot(context.Background(), Target{StoryID: 10}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("unknown story should be not found, got %v", err)
	}
}

func TestFromQueueState(t *testing.T) {
	t.Parallel()

	cases := map[queue.State]Status{
		queue.StateCreated:   StatusQueued,
		queue.StateRetry:     StatusQueued,
		queue.StateActive:    StatusExecuting,
		queue.StateCompleted: StatusCompleted,
		queue.StateFailed:    StatusFailed,
		queue.StateCancelled: StatusCancelled,
	}
	for in, want := range cases {
		if got := FromQueueState(in); got != want {
			t.Fatalf("FromQueueState(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	if got, err := ParseTarget("story:12"); err != nil || got.StoryID != 12 {
		t.Fatalf("ParseTarget(story:12) = %+v, %v", got, err)
	}
	if got, err := ParseTarget("12"); err != nil || got.StoryID != 12 {
		t.Fatalf("ParseTarget(12) = %+v, %v", got, err)
	}
	if got, err := ParseTarget("2f1c7a52-8b3e-4c57-9a53-2d1c1c6e4c10"); err != nil || got.JobID == "" {
		t.Fatalf("ParseTarget(uuid) = %+v, %v", got, err)
	}
	if _, err := ParseTarget("story:abc"); err == nil {
		t.Fatalf("expected error for bad story id")
	}
}
