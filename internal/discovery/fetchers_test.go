package discovery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/feeds"
	"horse.fit/zeke/internal/youtube"
)

func jsonNumber(s string) json.Number { return json.Number(s) }

type stubFeeds struct {
	feed feeds.Feed
}

func (s stubFeeds) Fetch(context.Context, string) (feeds.Feed, error) { return s.feed, nil }

type stubVideos struct {
	gotChannel string
	gotQuery   string
}

func (s *stubVideos) ChannelUploads(_ context.Context, channelID string, _ time.Time, _ int) ([]youtube.Video, error) {
	s.gotChannel = channelID
	return []youtube.Video{{VideoID: "aaaaaaaaaaa", Title: "Upload", PublishedAt: time.Now()}}, nil
}

func (s *stubVideos) Search(_ context.Context, query string, _ time.Time, _ int) ([]youtube.Video, error) {
	s.gotQuery = query
	return []youtube.Video{{VideoID: "bbbbbbbbbbb", Title: "Result"}}, nil
}

func TestRSSFetcherClassifiesVideoLinks(t *testing.T) {
	t.Parallel()

	f := NewRSSFetcher(stubFeeds{feed: feeds.Feed{Items: []feeds.Item{
		{URL: "https://example.com/post", Title: "Post"},
		{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Title: "Clip"},
	}}})

	got, err := f.Fetch(context.Background(), db.SourceRecord{URL: "https://example.com/feed"}, Window{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 2 || got[0].Kind != db.ItemKindArticle || got[1].Kind != db.ItemKindVideo {
		t.Fatalf("unexpected candidates %+v", got)
	}
	if got[1].Metadata["video_id"] != "dQw4w9WgXcQ" {
		t.Fatalf("video id missing: %+v", got[1].Metadata)
	}
}

func TestChannelFetcherFallsBackToURL(t *testing.T) {
	t.Parallel()

	videos := &stubVideos{}
	f := NewChannelFetcher(videos)
	source := db.SourceRecord{SourceID: 1, URL: "https://www.youtube.com/channel/UCxyz123/videos"}
	got, err := f.Fetch(context.Background(), source, Window{MaxItems: 5})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if videos.gotChannel != "UCxyz123" {
		t.Fatalf("channel = %q", videos.gotChannel)
	}
	if len(got) != 1 || got[0].ExternalID != "aaaaaaaaaaa" || got[0].PublishedAt == nil {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestSearchFetcherRequiresQuery(t *testing.T) {
	t.Parallel()

	videos := &stubVideos{}
	f := NewSearchFetcher(videos)
	if _, err := f.Fetch(context.Background(), db.SourceRecord{SourceID: 2}, Window{}); err == nil {
		t.Fatalf("expected error without query")
	}

	got, err := f.Fetch(context.Background(), db.SourceRecord{SourceID: 2, Metadata: map[string]any{"query": "chip export"}}, Window{})
	if err != nil || len(got) != 1 || videos.gotQuery != "chip export" {
		t.Fatalf("unexpected result %+v, %v", got, err)
	}
}
