package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/orchestrator"
	"horse.fit/zeke/internal/queue"
	"horse.fit/zeke/internal/status"
)

type fakeItemStore struct {
	nextID int64
	items  map[string]int64
}

func (f *fakeItemStore) EnsureManualSource(_ context.Context, _ string, _ string) (int64, error) {
	return 1, nil
}

func (f *fakeItemStore) InsertRawItem(_ context.Context, in db.RawItemInput) (int64, bool, error) {
	if id, ok := f.items[in.ExternalID]; ok {
		return id, false, nil
	}
	f.nextID++
	f.items[in.ExternalID] = f.nextID
	return f.nextID, true, nil
}

func (f *fakeItemStore) FindRawItemID(_ context.Context, _ int64, externalID string) (int64, error) {
	id, ok := f.items[externalID]
	if !ok {
		return 0, db.ErrNoRows
	}
	return id, nil
}

type fakeSourceStore struct {
	inputs []db.SourceInput
}

func (f *fakeSourceStore) UpsertSource(_ context.Context, in db.SourceInput) (db.SourceRecord, bool, error) {
	f.inputs = append(f.inputs, in)
	return db.SourceRecord{
		SourceID: int64(len(f.inputs)),
		Kind:     in.Kind,
		URL:      in.URL,
		Name:     in.Name,
		Active:   true,
	}, true, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeOverlays map[int64]db.OverlayRecord

func (f fakeOverlays) GetStoryOverlay(_ context.Context, id int64) (db.OverlayRecord, error) {
	rec, ok := f[id]
	if !ok {
		return db.OverlayRecord{}, db.ErrNoRows
	}
	return rec, nil
}

type testEnv struct {
	server   *Server
	queue    *queue.Memory
	sources  *fakeSourceStore
	overlays fakeOverlays
}

func newTestEnv(t *testing.T, features orchestrator.Features) *testEnv {
	t.Helper()
	q := queue.NewMemory()
	overlays := fakeOverlays{}
	sources := &fakeSourceStore{}
	orch := orchestrator.NewService(q, &fakeItemStore{items: map[string]int64{}}, features, zerolog.Nop())
	tracker := status.NewTracker(q, overlays, status.Options{Interval: time.Millisecond, MaxAttempts: 3}, zerolog.Nop())
	server := NewServer(Dependencies{
		Triggers: orch,
		Sources:  sources,
		Database: fakePinger{},
		Status:   tracker,
	}, zerolog.Nop(), Options{})
	return &testEnv{server: server, queue: q, sources: sources, overlays: overlays}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSend(t *testing.T, rec *httptest.ResponseRecorder) jsendResponse {
	t.Helper()
	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp := decodeJSend(t, rec); resp.Status != "success" {
		t.Fatalf("unexpected envelope %+v", resp)
	}

	env.server.deps.Database = fakePinger{err: errors.New("down")}
	rec = env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestIngestURLsReturnsPerURLResults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	rec := env.do(t, http.MethodPost, "/api/v1/ingest/urls", `{"urls":["https://example.com/a","not a url"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Items []orchestrator.OneOffResult `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data.Items) != 2 || !resp.Data.Items[0].OK || resp.Data.Items[1].OK {
		t.Fatalf("unexpected items %+v", resp.Data.Items)
	}
	if got := len(env.queue.Jobs(orchestrator.TopicExtractContent)); got != 1 {
		t.Fatalf("extraction jobs = %d, want 1", got)
	}
}

func TestIngestURLsValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	for _, body := range []string{"", `{"urls":[]}`, `{"urls":["  "]}`, `{"links":["x"]}`} {
		rec := env.do(t, http.MethodPost, "/api/v1/ingest/urls", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestTriggerIngestByKind(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	rec := env.do(t, http.MethodPost, "/api/v1/triggers/ingest/rss", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.queue.Jobs(orchestrator.TopicIngestRSS)) != 1 {
		t.Fatalf("expected rss job")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/triggers/ingest/video-search", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"skipped":true`) {
		t.Fatalf("expected skipped ack, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/triggers/ingest/podcasts", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTriggerExtractAndAnalyze(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	rec := env.do(t, http.MethodPost, "/api/v1/triggers/extract", `{"raw_item_ids":[4,5]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("extract status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/v1/triggers/extract", `{"raw_item_ids":[0]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("extract with bad id status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/triggers/analyze/9", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("analyze status = %d, body %s", rec.Code, rec.Body.String())
	}
	if _, err := env.queue.LatestByRef(context.Background(), orchestrator.StoryRef(9)); err != nil {
		t.Fatalf("expected analysis job for story 9: %v", err)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/triggers/analyze/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("analyze with bad id status = %d", rec.Code)
	}
}

func TestCreateSourceValidatesAndQueuesIngest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	rec := env.do(t, http.MethodPost, "/api/v1/sources?ingest=true", `{"kind":"rss","url":"https://feeds.example.com/a.xml"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.sources.inputs) != 1 || env.sources.inputs[0].Kind != "rss" {
		t.Fatalf("unexpected store calls %+v", env.sources.inputs)
	}
	jobs := env.queue.Jobs(orchestrator.TopicIngestRSS)
	if len(jobs) != 1 || jobs[0].Payload["source_id"] != int64(1) {
		t.Fatalf("expected source ingest job, got %+v", jobs)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/sources", `{"kind":"video_channel","metadata":{"channel_id":"bad"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid source status = %d", rec.Code)
	}
	if len(env.sources.inputs) != 1 {
		t.Fatalf("invalid source must not be stored")
	}
}

func TestJobEventsStreamsUntilClose(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	ctx := context.Background()
	id, _ := env.queue.Enqueue(ctx, orchestrator.TopicAnalyzeStory, map[string]any{"story_id": 1}, queue.EnqueueOptions{})
	_, _ = env.queue.FetchBatch(ctx, orchestrator.TopicAnalyzeStory, 1)
	_ = env.queue.Complete(ctx, id, map[string]any{"chili": 2})

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/events", id), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: status\ndata: ") || !strings.Contains(body, "event: close\n") {
		t.Fatalf("unexpected stream %q", body)
	}
	if !strings.Contains(body, `"status":"COMPLETED"`) {
		t.Fatalf("expected completed payload, got %q", body)
	}
}

func TestJobEventsTimeoutWhenStillQueued(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	id, _ := env.queue.Enqueue(context.Background(), orchestrator.TopicIngestRSS, nil, queue.EnqueueOptions{})

	body := env.do(t, http.MethodGet, "/api/v1/jobs/"+id+"/events", "").Body.String()
	if !strings.Contains(body, "event: timeout\n") || strings.Contains(body, "event: close") {
		t.Fatalf("expected timeout event, got %q", body)
	}
}

func TestJobEventsUnknownJobIsNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	rec := env.do(t, http.MethodGet, "/api/v1/jobs/does-not-exist/events", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp := decodeJSend(t, rec); resp.Status != "fail" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
}

func TestStoryEventsUsesOverlay(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, orchestrator.Features{})
	env.overlays[7] = db.OverlayRecord{StoryID: 7, WhyItMatters: "It matters.", Chili: 3, Confidence: 0.6, ModelVersion: "stub-v1"}

	body := env.do(t, http.MethodGet, "/api/v1/stories/7/events", "").Body.String()
	if !strings.Contains(body, `"why_it_matters":"It matters."`) || !strings.Contains(body, "event: close\n") {
		t.Fatalf("unexpected stream %q", body)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/stories/8/events", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
