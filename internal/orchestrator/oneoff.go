package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/normalize"
)

const maxOneOffURLs = 100

// OneOffResult is the per-URL outcome of TriggerOneOffIngest.
type OneOffResult struct {
	URL       string `json:"url"`
	OK        bool   `json:"ok"`
	RawItemID *int64 `json:"raw_item_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Type      string `json:"type"`
}

// TriggerOneOffIngest registers each URL as a raw item under a manual source and
// queues its extraction. It never fails as a whole; every URL gets a result.
func (s *Service) TriggerOneOffIngest(ctx context.Context, urls []string, trigger Trigger) []OneOffResult {
	results := make([]OneOffResult, 0, len(urls))
	for i, raw := range urls {
		if i >= maxOneOffURLs {
			results = append(results, OneOffResult{
				URL:   raw,
				Type:  db.ItemKindArticle,
				Error: fmt.Sprintf("at most %d urls per request", maxOneOffURLs),
			})
			continue
		}
		results = append(results, s.ingestOne(ctx, raw, trigger))
	}

	okCount := 0
	for _, r := range results {
		if r.OK {
			okCount++
		}
	}
	s.logger.Info().
		Str("event", "one_off_ingest").
		Str("trigger", string(trigger)).
		Int("requested", len(urls)).
		Int("accepted", okCount).
		Msg("orchestrator audit")
	return results
}

func (s *Service) ingestOne(ctx context.Context, raw string, trigger Trigger) OneOffResult {
	result := OneOffResult{URL: raw, Type: db.ItemKindArticle}

	canonical, _ := normalize.CanonicalURL(raw)
	if canonical == "" {
		result.Error = "invalid url"
		return result
	}

	input := db.RawItemInput{
		ExternalID: canonical,
		URL:        canonical,
		Kind:       db.ItemKindArticle,
		Metadata:   map[string]any{"submitted_url": strings.TrimSpace(raw), "trigger": string(trigger)},
	}
	domain := normalize.Domain(canonical)

	if videoID, ok := normalize.VideoID(canonical); ok {
		result.Type = db.ItemKindVideo
		if !s.features.VideoIngestEnabled {
			result.Error = "video ingest disabled"
			return result
		}
		input.ExternalID = videoID
		input.URL = normalize.VideoWatchURL(videoID)
		input.Kind = db.ItemKindVideo
		input.Metadata["video_id"] = videoID
		domain = "youtube.com"
	}

	sourceID, err := s.store.EnsureManualSource(ctx, domain, input.Kind)
	if err != nil {
		result.Error = fmt.Sprintf("resolve manual source: %v", err)
		return result
	}
	input.SourceID = sourceID

	rawItemID, inserted, err := s.store.InsertRawItem(ctx, input)
	if err != nil {
		result.Error = fmt.Sprintf("store raw item: %v", err)
		return result
	}
	if !inserted {
		rawItemID, err = s.store.FindRawItemID(ctx, sourceID, input.ExternalID)
		if err != nil {
			result.Error = fmt.Sprintf("load existing raw item: %v", err)
			return result
		}
	}
	result.RawItemID = &rawItemID

	enqueued, err := s.TriggerContentExtraction(ctx, []int64{rawItemID}, trigger)
	if err != nil {
		result.Error = fmt.Sprintf("queue extraction: %v", err)
		return result
	}
	result.JobID = enqueued.JobID
	result.OK = true
	return result
}
