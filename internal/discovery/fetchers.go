package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/feeds"
	"horse.fit/zeke/internal/normalize"
	"horse.fit/zeke/internal/youtube"
)

// Candidate is one item a fetcher found for a source.
type Candidate struct {
	ExternalID  string
	URL         string
	Title       string
	Kind        string
	PublishedAt *time.Time
	Metadata    map[string]any
}

// Fetcher lists candidates for one kind of source.
type Fetcher interface {
	Kind() string
	Fetch(ctx context.Context, source db.SourceRecord, window Window) ([]Candidate, error)
}

type feedReader interface {
	Fetch(ctx context.Context, feedURL string) (feeds.Feed, error)
}

type videoLister interface {
	ChannelUploads(ctx context.Context, channelID string, since time.Time, max int) ([]youtube.Video, error)
	Search(ctx context.Context, query string, since time.Time, max int) ([]youtube.Video, error)
}

type RSSFetcher struct {
	feeds feedReader
}

func NewRSSFetcher(reader feedReader) *RSSFetcher {
	return &RSSFetcher{feeds: reader}
}

func (f *RSSFetcher) Kind() string { return db.SourceKindRSS }

func (f *RSSFetcher) Fetch(ctx context.Context, source db.SourceRecord, _ Window) ([]Candidate, error) {
	feed, err := f.feeds.Fetch(ctx, source.URL)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		externalID := item.ExternalID()
		if externalID == "" {
			continue
		}
		metadata := map[string]any{}
		if item.GUID != "" {
			metadata["guid"] = item.GUID
		}
		if item.Summary != "" {
			metadata["summary"] = item.Summary
		}
		if item.Author != "" {
			metadata["author"] = item.Author
		}
		kind := db.ItemKindArticle
		if normalize.IsVideoURL(item.URL) {
			kind = db.ItemKindVideo
			if id, ok := normalize.VideoID(item.URL); ok {
				metadata["video_id"] = id
			}
		}
		out = append(out, Candidate{
			ExternalID:  externalID,
			URL:         item.URL,
			Title:       item.Title,
			Kind:        kind,
			PublishedAt: item.PublishedAt,
			Metadata:    metadata,
		})
	}
	return out, nil
}

type ChannelFetcher struct {
	videos videoLister
}

func NewChannelFetcher(videos videoLister) *ChannelFetcher {
	return &ChannelFetcher{videos: videos}
}

func (f *ChannelFetcher) Kind() string { return db.SourceKindVideoChannel }

func (f *ChannelFetcher) Fetch(ctx context.Context, source db.SourceRecord, window Window) ([]Candidate, error) {
	channelID := metadataString(source.Metadata, "channel_id")
	if channelID == "" {
		channelID = channelIDFromURL(source.URL)
	}
	if channelID == "" {
		return nil, fmt.Errorf("source %d has no channel_id", source.SourceID)
	}

	videos, err := f.videos.ChannelUploads(ctx, channelID, window.Since, window.MaxItems)
	if err != nil {
		return nil, err
	}
	return videoCandidates(videos), nil
}

type SearchFetcher struct {
	videos videoLister
}

func NewSearchFetcher(videos videoLister) *SearchFetcher {
	return &SearchFetcher{videos: videos}
}

func (f *SearchFetcher) Kind() string { return db.SourceKindVideoSearch }

func (f *SearchFetcher) Fetch(ctx context.Context, source db.SourceRecord, window Window) ([]Candidate, error) {
	query := metadataString(source.Metadata, "query")
	if query == "" {
		return nil, fmt.Errorf("source %d has no search query", source.SourceID)
	}

	videos, err := f.videos.Search(ctx, query, window.Since, window.MaxItems)
	if err != nil {
		return nil, err
	}
	return videoCandidates(videos), nil
}

func videoCandidates(videos []youtube.Video) []Candidate {
	out := make([]Candidate, 0, len(videos))
	for _, v := range videos {
		var published *time.Time
		if !v.PublishedAt.IsZero() {
			ts := v.PublishedAt
			published = &ts
		}
		metadata := map[string]any{"video_id": v.VideoID}
		if v.Channel != "" {
			metadata["channel"] = v.Channel
		}
		if v.Description != "" {
			metadata["description"] = v.Description
		}
		out = append(out, Candidate{
			ExternalID:  v.VideoID,
			URL:         normalize.VideoWatchURL(v.VideoID),
			Title:       v.Title,
			Kind:        db.ItemKindVideo,
			PublishedAt: published,
			Metadata:    metadata,
		})
	}
	return out
}

func metadataString(metadata map[string]any, key string) string {
	value, _ := metadata[key].(string)
	return strings.TrimSpace(value)
}

func channelIDFromURL(raw string) string {
	const marker = "/channel/"
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return ""
	}
	id := raw[idx+len(marker):]
	if cut := strings.IndexAny(id, "/?#"); cut >= 0 {
		id = id[:cut]
	}
	return strings.TrimSpace(id)
}
