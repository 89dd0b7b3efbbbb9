package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"horse.fit/zeke/internal/globaltime"
)

func TestMemoryLifecycleCompleted(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()

	id, err := q.Enqueue(ctx, "extract.content", map[string]any{"raw_item_ids": []any{1}}, EnqueueOptions{Ref: "raw:1"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	job, err := q.Get(ctx, id)
	if err != nil || job.State != StateCreated {
		t.Fatalf("Get() = %+v, %v", job, err)
	}

	batch, err := q.FetchBatch(ctx, "extract.content", 10)
	if err != nil || len(batch) != 1 || batch[0].ID != id || batch[0].State != StateActive {
		t.Fatalf("FetchBatch() = %+v, %v", batch, err)
	}

	again, _ := q.FetchBatch(ctx, "extract.content", 10)
	if len(again) != 0 {
		t.Fatalf("active job must not be fetched twice, got %d", len(again))
	}

	if err := q.Complete(ctx, id, map[string]any{"ok": true}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	job, _ = q.Get(ctx, id)
	if job.State != StateCompleted || job.CompletedAt == nil || job.Output["ok"] != true {
		t.Fatalf("unexpected completed job %+v", job)
	}
	if err := q.Complete(ctx, id, nil); err == nil {
		t.Fatalf("expected error completing a completed job")
	}
}

func TestMemoryFailRetriesThenFails(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	ctx := context.Background()
	q := NewMemory().WithRetry(1, 10*time.Second)
	id, _ := q.Enqueue(ctx, "analyze.story", nil, EnqueueOptions{})

	_, _ = q.FetchBatch(ctx, "analyze.story", 1)
	if err := q.Fail(ctx, id, errors.New("llm down"), nil); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	job, _ := q.Get(ctx, id)
	if job.State != StateRetry || job.RetryCount != 1 || job.LastError != "llm down" {
		t.Fatalf("unexpected retry job %+v", job)
	}
	if !job.StartAfter.Equal(base.Add(10 * time.Second)) {
		t.Fatalf("StartAfter = %s", job.StartAfter)
	}

	if batch, _ := q.FetchBatch(ctx, "analyze.story", 1); len(batch) != 0 {
		t.Fatalf("retry job fetched before start_after")
	}

	globaltime.Advance(11 * time.Second)
	batch, _ := q.FetchBatch(ctx, "analyze.story", 1)
	if len(batch) != 1 {
		t.Fatalf("expected retry job after delay, got %d", len(batch))
	}
	if err := q.Fail(ctx, id, errors.New("still down"), nil); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	job, _ = q.Get(ctx, id)
	if job.State != StateFailed || !job.State.Terminal() {
		t.Fatalf("expected failed job, got %+v", job)
	}
}

func TestMemoryFetchBatchRespectsTopicAndLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemory()
	for i := 0; i < 3; i++ {
		_, _ = q.Enqueue(ctx, "ingest.rss", nil, EnqueueOptions{})
	}
	_, _ = q.Enqueue(ctx, "analyze.story", nil, EnqueueOptions{})

	batch, _ := q.FetchBatch(ctx, "ingest.rss", 2)
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}
	for _, job := range batch {
		if job.Topic != "ingest.rss" {
			t.Fatalf("unexpected topic %s", job.Topic)
		}
	}
}

func TestMemoryLatestByRefAndCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemory()
	first, _ := q.Enqueue(ctx, "analyze.story", nil, EnqueueOptions{Ref: "story:7"})
	second, _ := q.Enqueue(ctx, "analyze.story", nil, EnqueueOptions{Ref: "story:7"})

	job, err := q.LatestByRef(ctx, "story:7")
	if err != nil || job.ID != second {
		t.Fatalf("LatestByRef() = %s, %v, want %s", job.ID, err, second)
	}
	if _, err := q.LatestByRef(ctx, "story:8"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if err := q.Cancel(ctx, first); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	job, _ = q.Get(ctx, first)
	if job.State != StateCancelled {
		t.Fatalf("State = %s, want cancelled", job.State)
	}

	q.Delete(second)
	if _, err := q.Get(ctx, second); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected deleted job to be missing, got %v", err)
	}
}

func TestMemoryRequeueStale(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	ctx := context.Background()
	q := NewMemory()
	id, _ := q.Enqueue(ctx, "ingest.rss", nil, EnqueueOptions{})
	_, _ = q.FetchBatch(ctx, "ingest.rss", 1)

	globaltime.Advance(time.Hour)
	n, err := q.RequeueStale(ctx, base.Add(30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("RequeueStale() = %d, %v", n, err)
	}
	job, _ := q.Get(ctx, id)
	if job.State != StateRetry {
		t.Fatalf("State = %s, want retry", job.State)
	}
}

func TestMemorySchedulesUpsertByName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemory()
	_ = q.Schedule(ctx, Schedule{Topic: "ingest.rss", Name: "default", Cron: "*/15 * * * *"})
	_ = q.Schedule(ctx, Schedule{Topic: "ingest.rss", Name: "default", Cron: "*/5 * * * *"})
	if err := q.Schedule(ctx, Schedule{Topic: "ingest.rss"}); err == nil {
		t.Fatalf("expected validation error")
	}

	schedules, _ := q.Schedules(ctx)
	if len(schedules) != 1 || schedules[0].Cron != "*/5 * * * *" {
		t.Fatalf("unexpected schedules %+v", schedules)
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	t.Parallel()

	if got := retryBackoff(time.Second, 0); got != time.Second {
		t.Fatalf("retryBackoff(0) = %s", got)
	}
	if got := retryBackoff(time.Second, 3); got != 8*time.Second {
		t.Fatalf("retryBackoff(3) = %s", got)
	}
}

func TestValidateCron(t *testing.T) {
	t.Parallel()

	if err := ValidateCron("*/15 * * * *"); err != nil {
		t.Fatalf("ValidateCron() error = %v", err)
	}
	if err := ValidateCron("every minute"); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}
