package youtube

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		Doer:              srv.Client(),
	})
}

func TestChannelUploadsStopsAtLookbackWindow(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/playlistItems" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("playlistId"); got != "UUabcdefghijklmnopqrstuv" {
			t.Errorf("playlistId = %q", got)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key")
		}
		_, _ = w.Write([]byte(`{
			"nextPageToken": "next",
			"items": [
				{"snippet": {"title": "New upload", "channelTitle": "Chan"}, "contentDetails": {"videoId": "aaaaaaaaaaa", "videoPublishedAt": "2026-03-10T00:00:00Z"}},
				{"snippet": {"title": "Old upload"}, "contentDetails": {"videoId": "bbbbbbbbbbb", "videoPublishedAt": "2026-01-01T00:00:00Z"}}
			]
		}`))
	})

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	videos, err := client.ChannelUploads(context.Background(), "UCabcdefghijklmnopqrstuv", since, 10)
	if err != nil {
		t.Fatalf("ChannelUploads() error = %v", err)
	}
	if len(videos) != 1 || videos[0].VideoID != "aaaaaaaaaaa" || videos[0].Channel != "Chan" {
		t.Fatalf("unexpected videos %+v", videos)
	}
}

func TestSearchPaginatesUpToMax(t *testing.T) {
	t.Parallel()

	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("publishedAfter") == "" {
			t.Errorf("publishedAfter missing")
		}
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"nextPageToken":"p2","items":[{"id":{"videoId":"v1111111111"},"snippet":{"title":"One","publishedAt":"2026-03-02T00:00:00Z"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":{"videoId":"v2222222222"},"snippet":{"title":"Two"}},{"id":{"videoId":"v3333333333"},"snippet":{"title":"Three"}}]}`))
	})

	videos, err := client.Search(context.Background(), "ai policy", time.Now().Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(videos) != 2 || videos[1].VideoID != "v2222222222" {
		t.Fatalf("unexpected videos %+v", videos)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestQuotaExhausted(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`))
	})

	_, err := client.Search(context.Background(), "x", time.Time{}, 5)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}
}

func TestChannelUploadsRejectsBadChannelID(t *testing.T) {
	t.Parallel()

	client := NewClient(Options{APIKey: "k"})
	if _, err := client.ChannelUploads(context.Background(), "not-a-channel", time.Time{}, 5); err == nil {
		t.Fatalf("expected error for invalid channel id")
	}
}

func TestMissingAPIKey(t *testing.T) {
	t.Parallel()

	client := NewClient(Options{})
	if _, err := client.Search(context.Background(), "x", time.Time{}, 5); err == nil {
		t.Fatalf("expected error without API key")
	}
}
