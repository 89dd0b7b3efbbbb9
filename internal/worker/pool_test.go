package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/analysis"
	"horse.fit/zeke/internal/discovery"
	"horse.fit/zeke/internal/extract"
	"horse.fit/zeke/internal/queue"
	payloadschema "horse.fit/zeke/schema"
)

type fakeDiscovery struct {
	kinds   []string
	sources []int64
}

func (f *fakeDiscovery) Run(_ context.Context, kind string) (discovery.RunResult, error) {
	f.kinds = append(f.kinds, kind)
	return discovery.RunResult{Kind: kind, Sources: 2, New: 1}, nil
}

func (f *fakeDiscovery) RunSource(_ context.Context, id int64) (discovery.RunResult, error) {
	f.sources = append(f.sources, id)
	return discovery.RunResult{Sources: 1}, nil
}

type fakeExtractor struct {
	result extract.BatchResult
	got    []int64
}

func (f *fakeExtractor) ProcessBatch(_ context.Context, ids []int64) extract.BatchResult {
	f.got = ids
	return f.result
}

type fakeAnalyzer struct {
	err error
}

func (f fakeAnalyzer) AnalyzeStory(_ context.Context, id int64) (analysis.Result, error) {
	if f.err != nil {
		return analysis.Result{}, f.err
	}
	return analysis.Result{StoryID: id, ModelVersion: "stub-v1"}, nil
}

func newTestPool(q queue.Queue) *Pool {
	return NewPool(q, Options{Concurrency: 1, BatchSize: 10, PollInterval: 5 * time.Millisecond}, zerolog.Nop())
}

func TestIngestJobRunsDiscovery(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	disc := &fakeDiscovery{}
	pool := newTestPool(q)
	RegisterHandlers(pool, disc, nil, nil)

	jobID, _ := q.Enqueue(context.Background(), payloadschema.TopicIngestVideoSearch, map[string]any{"trigger": "cron"}, queue.EnqueueOptions{})
	sourceJobID, _ := q.Enqueue(context.Background(), payloadschema.TopicIngestRSS, map[string]any{"trigger": "cli", "source_id": float64(7)}, queue.EnqueueOptions{})

	if _, err := pool.RunOnce(context.Background(), payloadschema.TopicIngestVideoSearch); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if _, err := pool.RunOnce(context.Background(), payloadschema.TopicIngestRSS); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(disc.kinds) != 1 || disc.kinds[0] != "video_search" {
		t.Fatalf("unexpected discovery kinds %v", disc.kinds)
	}
	if len(disc.sources) != 1 || disc.sources[0] != 7 {
		t.Fatalf("unexpected source runs %v", disc.sources)
	}

	job, _ := q.Get(context.Background(), jobID)
	if job.State != queue.StateCompleted || job.Output["new"] != 1 {
		t.Fatalf("unexpected job %+v", job)
	}
	job, _ = q.Get(context.Background(), sourceJobID)
	if job.State != queue.StateCompleted {
		t.Fatalf("source job state = %s", job.State)
	}
}

func TestExtractJobFailsOnlyWhenAllItemsFail(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory().WithRetry(0, 0)
	partial := &fakeExtractor{result: extract.BatchResult{
		Succeeded: []extract.ItemResult{{RawItemID: 1, StoryID: 10}},
		Failed:    []extract.ItemFailure{{RawItemID: 2, Error: "no_text_extracted"}},
	}}
	pool := newTestPool(q)
	RegisterHandlers(pool, nil, partial, nil)

	okID, _ := q.Enqueue(context.Background(), payloadschema.TopicExtractContent, map[string]any{"raw_item_ids": []any{float64(1), json.Number("2")}}, queue.EnqueueOptions{})
	if _, err := pool.RunOnce(context.Background(), payloadschema.TopicExtractContent); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(partial.got) != 2 || partial.got[1] != 2 {
		t.Fatalf("unexpected ids %v", partial.got)
	}
	job, _ := q.Get(context.Background(), okID)
	if job.State != queue.StateCompleted {
		t.Fatalf("partial failure should complete, got %s", job.State)
	}
	if failed, _ := job.Output["failed"].([]any); len(failed) != 1 {
		t.Fatalf("output should list failures, got %+v", job.Output)
	}

	allFailed := &fakeExtractor{result: extract.BatchResult{
		Failed: []extract.ItemFailure{{RawItemID: 3, Error: "fetch status 404"}},
	}}
	pool = newTestPool(q)
	RegisterHandlers(pool, nil, allFailed, nil)
	badID, _ := q.Enqueue(context.Background(), payloadschema.TopicExtractContent, map[string]any{"raw_item_ids": []int64{3}}, queue.EnqueueOptions{})
	if _, err := pool.RunOnce(context.Background(), payloadschema.TopicExtractContent); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	job, _ = q.Get(context.Background(), badID)
	if job.State != queue.StateFailed || job.LastError == "" {
		t.Fatalf("all-failed batch should fail, got %+v", job)
	}
}

func TestAnalyzeJobFailureGoesToRetry(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory().WithRetry(2, time.Hour)
	pool := newTestPool(q)
	RegisterHandlers(pool, nil, nil, fakeAnalyzer{err: errors.New("llm down")})

	id, _ := q.Enqueue(context.Background(), payloadschema.TopicAnalyzeStory, map[string]any{"story_id": int64(5)}, queue.EnqueueOptions{})
	if _, err := pool.RunOnce(context.Background(), payloadschema.TopicAnalyzeStory); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	job, _ := q.Get(context.Background(), id)
	if job.State != queue.StateRetry || job.RetryCount != 1 || job.LastError != "llm down" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory().WithRetry(0, 0)
	pool := newTestPool(q)
	pool.Handle("custom", func(context.Context, queue.Job) (map[string]any, error) {
		panic("kaboom")
	})

	id, _ := q.Enqueue(context.Background(), "custom", nil, queue.EnqueueOptions{})
	if _, err := pool.RunOnce(context.Background(), "custom"); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	job, _ := q.Get(context.Background(), id)
	if job.State != queue.StateFailed || job.LastError != "panic: kaboom" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestRunDrainsQueueUntilCancelled(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory()
	pool := newTestPool(q)
	RegisterHandlers(pool, nil, nil, fakeAnalyzer{})

	var ids []string
	for i := 1; i <= 3; i++ {
		id, _ := q.Enqueue(context.Background(), payloadschema.TopicAnalyzeStory, map[string]any{"story_id": int64(i)}, queue.EnqueueOptions{})
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		completed := 0
		for _, id := range ids {
			if job, _ := q.Get(context.Background(), id); job.State == queue.StateCompleted {
				completed++
			}
		}
		if completed == len(ids) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, id := range ids {
		if job, _ := q.Get(context.Background(), id); job.State != queue.StateCompleted {
			t.Fatalf("job %s state = %s", id, job.State)
		}
	}
}

func TestRunWithoutHandlers(t *testing.T) {
	t.Parallel()

	if err := newTestPool(queue.NewMemory()).Run(context.Background()); err == nil {
		t.Fatalf("expected error without handlers")
	}
}
