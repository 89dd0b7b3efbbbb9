// Package extract turns raw items into content rows and stories.
package extract

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/langdetect"
	"horse.fit/zeke/internal/normalize"
	"horse.fit/zeke/internal/orchestrator"
	"horse.fit/zeke/internal/reader"
	"horse.fit/zeke/internal/story"
	"horse.fit/zeke/internal/video"
)

// ErrNoTextExtracted marks an article whose page produced no readable text.
var ErrNoTextExtracted = reader.ErrNoTextExtracted

// ErrVideoDisabled marks a video raw item skipped because video ingest is off.
var ErrVideoDisabled = errors.New("video ingest disabled")

type store interface {
	GetRawItem(ctx context.Context, rawItemID int64) (db.RawItemRecord, error)
	InsertContent(ctx context.Context, in db.ContentInput) (db.StoredContent, bool, error)
}

type storyResolver interface {
	Resolve(ctx context.Context, in db.StoryInput) (story.Resolution, error)
}

type analysisTrigger interface {
	TriggerStoryAnalysis(ctx context.Context, storyID int64, trigger orchestrator.Trigger) (orchestrator.Enqueued, error)
}

type videoTool interface {
	MetadataOrPlaceholder(ctx context.Context, videoID string) video.Metadata
	ExtractAudio(ctx context.Context, videoID string) video.AudioResult
}

// PageFetcher fetches and extracts one article page.
type PageFetcher func(ctx context.Context, pageURL string, opts reader.Options) (reader.Page, error)

type Options struct {
	FetchTimeout       time.Duration
	VideoIngestEnabled bool
	Fetch              PageFetcher
	DetectLanguage     func(text, hint string) string
}

// ItemResult describes one successfully processed raw item.
type ItemResult struct {
	RawItemID     int64  `json:"raw_item_id"`
	ContentID     int64  `json:"content_id"`
	StoryID       int64  `json:"story_id"`
	StoryCreated  bool   `json:"story_created"`
	AnalysisJobID string `json:"analysis_job_id,omitempty"`
}

// ItemFailure is a raw item that could not be processed.
type ItemFailure struct {
	RawItemID int64  `json:"raw_item_id"`
	Error     string `json:"error"`
}

// BatchResult is the outcome of ProcessBatch.
type BatchResult struct {
	Succeeded []ItemResult  `json:"succeeded"`
	Failed    []ItemFailure `json:"failed"`
	Skipped   []int64       `json:"skipped"`
}

// AllFailed reports whether nothing in a non-empty batch succeeded or was skipped.
func (r BatchResult) AllFailed() bool {
	return len(r.Failed) > 0 && len(r.Succeeded) == 0 && len(r.Skipped) == 0
}

// Output renders the result as a job output map.
func (r BatchResult) Output() map[string]any {
	failed := make([]any, 0, len(r.Failed))
	for _, f := range r.Failed {
		failed = append(failed, map[string]any{"raw_item_id": f.RawItemID, "error": f.Error})
	}
	stories := make([]any, 0, len(r.Succeeded))
	for _, s := range r.Succeeded {
		stories = append(stories, s.StoryID)
	}
	return map[string]any{
		"succeeded": len(r.Succeeded),
		"failed":    failed,
		"skipped":   len(r.Skipped),
		"story_ids": stories,
	}
}

type Extractor struct {
	store    store
	stories  storyResolver
	analysis analysisTrigger
	videos   videoTool
	opts     Options
	logger   zerolog.Logger
}

func NewExtractor(st store, stories storyResolver, analysis analysisTrigger, videos videoTool, opts Options, logger zerolog.Logger) *Extractor {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = reader.DefaultFetchTimeout
	}
	if opts.Fetch == nil {
		opts.Fetch = reader.Fetch
	}
	if opts.DetectLanguage == nil {
		opts.DetectLanguage = langdetect.Resolve
	}
	return &Extractor{
		store:    st,
		stories:  stories,
		analysis: analysis,
		videos:   videos,
		opts:     opts,
		logger:   logger,
	}
}

// ProcessBatch extracts each raw item in order. A failing item is recorded and the
// loop moves on.
func (e *Extractor) ProcessBatch(ctx context.Context, rawItemIDs []int64) BatchResult {
	var result BatchResult
	for _, id := range rawItemIDs {
		if ctx.Err() != nil {
			result.Failed = append(result.Failed, ItemFailure{RawItemID: id, Error: ctx.Err().Error()})
			continue
		}

		item, err := e.processOne(ctx, id)
		switch {
		case errors.Is(err, ErrVideoDisabled):
			result.Skipped = append(result.Skipped, id)
		case err != nil:
			e.logger.Warn().Err(err).Int64("raw_item_id", id).Msg("extraction failed")
			result.Failed = append(result.Failed, ItemFailure{RawItemID: id, Error: err.Error()})
		default:
			result.Succeeded = append(result.Succeeded, item)
		}
	}

	e.logger.Info().
		Int("requested", len(rawItemIDs)).
		Int("succeeded", len(result.Succeeded)).
		Int("failed", len(result.Failed)).
		Int("skipped", len(result.Skipped)).
		Msg("extraction batch finished")
	return result
}

func (e *Extractor) processOne(ctx context.Context, rawItemID int64) (res ItemResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error().
				Int64("raw_item_id", rawItemID).
				Str("stack", string(debug.Stack())).
				Msg("extraction panic recovered")
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()

	raw, err := e.store.GetRawItem(ctx, rawItemID)
	if err != nil {
		if db.IsNoRows(err) {
			return ItemResult{}, fmt.Errorf("raw item %d not found", rawItemID)
		}
		return ItemResult{}, fmt.Errorf("load raw item %d: %w", rawItemID, err)
	}

	var extracted extraction
	if raw.Kind == db.ItemKindVideo {
		if !e.opts.VideoIngestEnabled {
			e.logger.Info().Int64("raw_item_id", rawItemID).Msg("video ingest disabled; skipping raw item")
			return ItemResult{}, ErrVideoDisabled
		}
		extracted, err = e.extractVideo(ctx, raw)
	} else {
		extracted, err = e.extractArticle(ctx, raw)
	}
	if err != nil {
		return ItemResult{}, err
	}

	stored, created, err := e.store.InsertContent(ctx, db.ContentInput{
		RawItemID:   raw.RawItemID,
		Title:       extracted.title,
		Text:        extracted.text,
		HTMLURL:     extracted.htmlURL,
		Lang:        e.opts.DetectLanguage(extracted.text, extracted.langHint),
		ContentHash: normalize.ContentHash(extracted.text),
		Metadata:    extracted.metadata,
	})
	if err != nil {
		return ItemResult{}, fmt.Errorf("store content: %w", err)
	}
	contentID := stored.ContentID
	if !created {
		e.logger.Debug().
			Int64("raw_item_id", raw.RawItemID).
			Int64("content_id", contentID).
			Msg("raw item already has content; keeping the stored row")
	}

	// The story is keyed by what was stored, which differs from this fetch when
	// the raw item was extracted before.
	resolution, err := e.stories.Resolve(ctx, db.StoryInput{
		ContentID:    contentID,
		ContentHash:  stored.ContentHash,
		Title:        stored.Title,
		Kind:         raw.Kind,
		CanonicalURL: extracted.canonicalURL,
		PrimaryURL:   raw.URL,
		PublishedAt:  extracted.publishedAt,
	})
	if err != nil {
		return ItemResult{}, fmt.Errorf("resolve story: %w", err)
	}

	res = ItemResult{
		RawItemID:    raw.RawItemID,
		ContentID:    contentID,
		StoryID:      resolution.StoryID,
		StoryCreated: resolution.Created,
	}

	enqueued, err := e.analysis.TriggerStoryAnalysis(ctx, resolution.StoryID, orchestrator.TriggerExtractor)
	if err != nil {
		return ItemResult{}, fmt.Errorf("queue analysis for story %d: %w", resolution.StoryID, err)
	}
	res.AnalysisJobID = enqueued.JobID

	e.logger.Debug().
		Int64("raw_item_id", raw.RawItemID).
		Int64("content_id", contentID).
		Int64("story_id", resolution.StoryID).
		Bool("story_created", resolution.Created).
		Msg("raw item extracted")
	return res, nil
}

type extraction struct {
	title        string
	text         string
	langHint     string
	htmlURL      *string
	canonicalURL *string
	publishedAt  *time.Time
	metadata     map[string]any
}

func (e *Extractor) extractArticle(ctx context.Context, raw db.RawItemRecord) (extraction, error) {
	page, err := e.opts.Fetch(ctx, raw.URL, reader.Options{Timeout: e.opts.FetchTimeout})
	if err != nil {
		return extraction{}, err
	}

	text := normalize.CleanText(page.Text)
	if text == "" {
		return extraction{}, ErrNoTextExtracted
	}

	out := extraction{
		title:       firstNonEmpty(page.Title, raw.Title, raw.URL),
		text:        text,
		langHint:    page.Lang,
		publishedAt: page.PublishedAt,
		metadata:    map[string]any{"extractor": "readability"},
	}
	if out.publishedAt == nil {
		out.publishedAt = raw.PublishedAt
	}
	htmlURL := raw.URL
	out.htmlURL = &htmlURL
	if canonical, _ := normalize.CanonicalURL(firstNonEmpty(page.CanonicalURL, raw.URL)); canonical != "" {
		out.canonicalURL = &canonical
	}
	return out, nil
}

func (e *Extractor) extractVideo(ctx context.Context, raw db.RawItemRecord) (extraction, error) {
	videoID := videoIDFor(raw)
	if videoID == "" {
		return extraction{}, fmt.Errorf("raw item %d has no video id", raw.RawItemID)
	}

	meta := e.videos.MetadataOrPlaceholder(ctx, videoID)
	if meta.Placeholder && strings.TrimSpace(raw.Title) != "" {
		meta.Title = raw.Title
	}

	metadata := map[string]any{
		"extractor": "yt-dlp",
		"video_id":  videoID,
	}
	if meta.Channel != "" {
		metadata["channel"] = meta.Channel
	}
	if meta.DurationSec > 0 {
		metadata["duration_sec"] = meta.DurationSec
	}
	if meta.Placeholder {
		metadata["metadata_placeholder"] = true
	}

	audio := e.videos.ExtractAudio(ctx, videoID)
	if audio.OK {
		metadata["audio_path"] = audio.Path
	} else {
		metadata["audio_error"] = audio.Error
		e.logger.Warn().
			Int64("raw_item_id", raw.RawItemID).
			Str("video_id", videoID).
			Str("error", audio.Error).
			Msg("audio extraction failed; continuing with metadata text")
	}

	description := meta.Description
	if description == "" {
		description, _ = raw.Metadata["description"].(string)
	}
	text := normalize.CleanText(strings.TrimSpace(meta.Title + "\n\n" + description))
	if text == "" {
		text = meta.Title
	}

	watchURL := normalize.VideoWatchURL(videoID)
	out := extraction{
		title:        meta.Title,
		text:         text,
		canonicalURL: &watchURL,
		publishedAt:  meta.PublishedAt,
		metadata:     metadata,
	}
	if out.publishedAt == nil {
		out.publishedAt = raw.PublishedAt
	}
	return out, nil
}

func videoIDFor(raw db.RawItemRecord) string {
	if id, ok := raw.Metadata["video_id"].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	if id, ok := normalize.VideoID(raw.URL); ok {
		return id
	}
	return strings.TrimSpace(raw.ExternalID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
