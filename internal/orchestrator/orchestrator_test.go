package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/queue"
)

type fakeStore struct {
	nextSourceID int64
	sources      map[string]int64
	nextItemID   int64
	items        map[string]int64
	failDomain   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources: make(map[string]int64),
		items:   make(map[string]int64),
	}
}

func (f *fakeStore) EnsureManualSource(_ context.Context, domain, _ string) (int64, error) {
	if domain == f.failDomain {
		return 0, errors.New("db unavailable")
	}
	if id, ok := f.sources[domain]; ok {
		return id, nil
	}
	f.nextSourceID++
	f.sources[domain] = f.nextSourceID
	return f.nextSourceID, nil
}

func (f *fakeStore) InsertRawItem(_ context.Context, in db.RawItemInput) (int64, bool, error) {
	key := itemKey(in.SourceID, in.ExternalID)
	if _, ok := f.items[key]; ok {
		return 0, false, nil
	}
	f.nextItemID++
	f.items[key] = f.nextItemID
	return f.nextItemID, true, nil
}

func (f *fakeStore) FindRawItemID(_ context.Context, sourceID int64, externalID string) (int64, error) {
	id, ok := f.items[itemKey(sourceID, externalID)]
	if !ok {
		return 0, db.ErrNoRows
	}
	return id, nil
}

func itemKey(sourceID int64, externalID string) string {
	return fmt.Sprintf("%d|%s", sourceID, externalID)
}

func newTestService(features Features) (*Service, *queue.Memory, *fakeStore) {
	q := queue.NewMemory()
	store := newFakeStore()
	return NewService(q, store, features, zerolog.Nop()), q, store
}

func TestTriggerContentExtractionEnqueuesOneJob(t *testing.T) {
	t.Parallel()

	svc, q, _ := newTestService(Features{})
	got, err := svc.TriggerContentExtraction(context.Background(), []int64{3, 1, 3, 2}, TriggerDiscovery)
	if err != nil {
		t.Fatalf("TriggerContentExtraction() error = %v", err)
	}
	if got.JobID == "" || got.Skipped {
		t.Fatalf("unexpected ack %+v", got)
	}

	jobs := q.Jobs(TopicExtractContent)
	if len(jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(jobs))
	}
	ids, ok := jobs[0].Payload["raw_item_ids"].([]int64)
	if !ok || len(ids) != 3 || ids[0] != 3 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("unexpected payload ids %#v", jobs[0].Payload["raw_item_ids"])
	}
}

func TestTriggerContentExtractionRejectsEmpty(t *testing.T) {
	t.Parallel()

	svc, q, _ := newTestService(Features{})
	if _, err := svc.TriggerContentExtraction(context.Background(), []int64{0, -1}, TriggerCLI); err == nil {
		t.Fatalf("expected error for empty id list")
	}
	if len(q.Jobs(TopicExtractContent)) != 0 {
		t.Fatalf("no job should be enqueued")
	}
}

func TestTriggerStoryAnalysisSetsStoryRef(t *testing.T) {
	t.Parallel()

	svc, q, _ := newTestService(Features{})
	ack, err := svc.TriggerStoryAnalysis(context.Background(), 42, TriggerExtractor)
	if err != nil {
		t.Fatalf("TriggerStoryAnalysis() error = %v", err)
	}
	job, err := q.LatestByRef(context.Background(), StoryRef(42))
	if err != nil || job.ID != ack.JobID {
		t.Fatalf("LatestByRef() = %+v, %v", job, err)
	}
}

func TestDisabledVideoFeatureIsSkippedNotFailed(t *testing.T) {
	t.Parallel()

	svc, q, _ := newTestService(Features{VideoIngestEnabled: true, VideoDiscoveryEnabled: false})
	ack, err := svc.TriggerVideoSearchIngest(context.Background(), TriggerCron)
	if err != nil {
		t.Fatalf("expected success for skipped trigger, got %v", err)
	}
	if !ack.Skipped || ack.JobID != "" {
		t.Fatalf("expected skipped ack, got %+v", ack)
	}
	if len(q.Jobs(TopicIngestVideoSearch)) != 0 {
		t.Fatalf("skipped trigger must not enqueue")
	}

	ack, err = svc.TriggerVideoChannelIngest(context.Background(), TriggerHTTP)
	if err != nil || !ack.Skipped {
		t.Fatalf("expected channel ingest skipped, got %+v, %v", ack, err)
	}
}

func TestTriggerRSSIngestEnqueues(t *testing.T) {
	t.Parallel()

	svc, q, _ := newTestService(Features{})
	if _, err := svc.TriggerRSSIngest(context.Background(), TriggerHTTP); err != nil {
		t.Fatalf("TriggerRSSIngest() error = %v", err)
	}
	jobs := q.Jobs(TopicIngestRSS)
	if len(jobs) != 1 || jobs[0].Payload["trigger"] != "http" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
}

func TestTriggerSourceIngestCarriesSourceID(t *testing.T) {
	t.Parallel()

	svc, q, _ := newTestService(Features{})
	if _, err := svc.TriggerSourceIngest(context.Background(), db.SourceKindRSS, 12, TriggerManual); err != nil {
		t.Fatalf("TriggerSourceIngest() error = %v", err)
	}
	jobs := q.Jobs(TopicIngestRSS)
	if len(jobs) != 1 || jobs[0].Payload["source_id"] != int64(12) {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if _, err := svc.TriggerSourceIngest(context.Background(), db.SourceKindManual, 1, TriggerManual); err == nil {
		t.Fatalf("expected error for manual source kind")
	}
}

func TestTriggerOneOffIngestPartialSuccess(t *testing.T) {
	t.Parallel()

	svc, q, _ := newTestService(Features{VideoIngestEnabled: false})
	urls := []string{
		"https://example.com/a?utm_source=x",
		"not a url",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://example.com/a",
	}
	results := svc.TriggerOneOffIngest(context.Background(), urls, TriggerHTTP)
	if len(results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(results))
	}

	if !results[0].OK || results[0].RawItemID == nil || results[0].Type != "article" {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	if results[1].OK || results[1].Error == "" {
		t.Fatalf("expected malformed url failure, got %+v", results[1])
	}
	if results[2].OK || results[2].Type != "video" || results[2].Error != "video ingest disabled" {
		t.Fatalf("expected disabled video failure, got %+v", results[2])
	}
	if !results[3].OK || *results[3].RawItemID != *results[0].RawItemID {
		t.Fatalf("same canonical url should resolve to the same raw item, got %+v", results[3])
	}

	if got := len(q.Jobs(TopicExtractContent)); got != 2 {
		t.Fatalf("expected 2 extraction jobs, got %d", got)
	}
}

func TestTriggerOneOffIngestVideoEnabled(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(Features{VideoIngestEnabled: true})
	results := svc.TriggerOneOffIngest(context.Background(), []string{"https://youtu.be/dQw4w9WgXcQ"}, TriggerHTTP)
	if len(results) != 1 || !results[0].OK || results[0].Type != "video" {
		t.Fatalf("unexpected result %+v", results)
	}
	if _, ok := store.sources["youtube.com"]; !ok {
		t.Fatalf("expected manual youtube.com source, got %v", store.sources)
	}
}

func TestTriggerOneOffIngestStoreFailureIsPerURL(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(Features{})
	store.failDomain = "broken.example"
	results := svc.TriggerOneOffIngest(context.Background(), []string{
		"https://broken.example/x",
		"https://fine.example/y",
	}, TriggerHTTP)
	if results[0].OK || results[0].Error == "" {
		t.Fatalf("expected first url to fail, got %+v", results[0])
	}
	if !results[1].OK {
		t.Fatalf("expected second url to succeed, got %+v", results[1])
	}
}

func TestRegisterSchedulesAndFire(t *testing.T) {
	t.Parallel()

	svc, q, _ := newTestService(Features{})
	err := svc.RegisterSchedules(context.Background(), Schedules{RSSCron: "*/15 * * * *", VideoCron: "0 * * * *"})
	if err != nil {
		t.Fatalf("RegisterSchedules() error = %v", err)
	}
	schedules, _ := q.Schedules(context.Background())
	if len(schedules) != 3 {
		t.Fatalf("expected 3 schedules, got %+v", schedules)
	}

	for _, s := range schedules {
		if err := svc.FireSchedule(context.Background(), s); err != nil {
			t.Fatalf("FireSchedule(%s) error = %v", s.Topic, err)
		}
	}
	if len(q.Jobs(TopicIngestRSS)) != 1 {
		t.Fatalf("expected rss job from cron fire")
	}
	if len(q.Jobs(TopicIngestVideoSearch)) != 0 {
		t.Fatalf("video search should be skipped when disabled")
	}

	if err := svc.RegisterSchedules(context.Background(), Schedules{RSSCron: "bogus"}); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}
