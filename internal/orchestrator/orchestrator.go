// Package orchestrator is the single entry point that turns triggers into queued jobs.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/queue"
	payloadschema "horse.fit/zeke/schema"
)

// Trigger names the caller that asked for work. It is recorded in payloads and audit logs.
type Trigger string

const (
	TriggerHTTP      Trigger = "http"
	TriggerCron      Trigger = "cron"
	TriggerCLI       Trigger = "cli"
	TriggerDiscovery Trigger = "discovery"
	TriggerExtractor Trigger = "extractor"
	TriggerManual    Trigger = "manual"
)

const (
	TopicIngestRSS          = payloadschema.TopicIngestRSS
	TopicIngestVideoChannel = payloadschema.TopicIngestVideoChannel
	TopicIngestVideoSearch  = payloadschema.TopicIngestVideoSearch
	TopicExtractContent     = payloadschema.TopicExtractContent
	TopicAnalyzeStory       = payloadschema.TopicAnalyzeStory
)

// Features gates job families that depend on optional configuration.
type Features struct {
	VideoIngestEnabled    bool
	VideoDiscoveryEnabled bool
}

// Schedules holds the cron expressions registered by RegisterSchedules.
type Schedules struct {
	RSSCron   string
	VideoCron string
}

// Enqueued is the acknowledgement returned by every trigger.
type Enqueued struct {
	Topic   string `json:"topic"`
	JobID   string `json:"job_id,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type rawItemStore interface {
	EnsureManualSource(ctx context.Context, domain, itemKind string) (int64, error)
	InsertRawItem(ctx context.Context, in db.RawItemInput) (int64, bool, error)
	FindRawItemID(ctx context.Context, sourceID int64, externalID string) (int64, error)
}

type Service struct {
	queue    queue.Queue
	store    rawItemStore
	features Features
	logger   zerolog.Logger
}

func NewService(q queue.Queue, store rawItemStore, features Features, logger zerolog.Logger) *Service {
	return &Service{
		queue:    q,
		store:    store,
		features: features,
		logger:   logger,
	}
}

func (s *Service) TriggerRSSIngest(ctx context.Context, trigger Trigger) (Enqueued, error) {
	return s.enqueue(ctx, TopicIngestRSS, map[string]any{"trigger": string(trigger)}, "", trigger)
}

func (s *Service) TriggerVideoChannelIngest(ctx context.Context, trigger Trigger) (Enqueued, error) {
	if reason := s.videoDiscoveryDisabledReason(); reason != "" {
		return s.skip(TopicIngestVideoChannel, reason, trigger), nil
	}
	return s.enqueue(ctx, TopicIngestVideoChannel, map[string]any{"trigger": string(trigger)}, "", trigger)
}

func (s *Service) TriggerVideoSearchIngest(ctx context.Context, trigger Trigger) (Enqueued, error) {
	if reason := s.videoDiscoveryDisabledReason(); reason != "" {
		return s.skip(TopicIngestVideoSearch, reason, trigger), nil
	}
	return s.enqueue(ctx, TopicIngestVideoSearch, map[string]any{"trigger": string(trigger)}, "", trigger)
}

// TriggerSourceIngest queues discovery for a single source of the given kind.
func (s *Service) TriggerSourceIngest(ctx context.Context, kind string, sourceID int64, trigger Trigger) (Enqueued, error) {
	topic, err := topicForKind(kind)
	if err != nil {
		return Enqueued{}, err
	}
	if topic != TopicIngestRSS {
		if reason := s.videoDiscoveryDisabledReason(); reason != "" {
			return s.skip(topic, reason, trigger), nil
		}
	}
	payload := map[string]any{"trigger": string(trigger), "source_id": sourceID}
	return s.enqueue(ctx, topic, payload, "source:"+strconv.FormatInt(sourceID, 10), trigger)
}

// TriggerContentExtraction queues exactly one job covering all rawItemIDs.
func (s *Service) TriggerContentExtraction(ctx context.Context, rawItemIDs []int64, trigger Trigger) (Enqueued, error) {
	ids := dedupeIDs(rawItemIDs)
	if len(ids) == 0 {
		return Enqueued{}, fmt.Errorf("at least one raw item id is required")
	}
	ref := ""
	if len(ids) == 1 {
		ref = "raw_item:" + strconv.FormatInt(ids[0], 10)
	}
	return s.enqueue(ctx, TopicExtractContent, map[string]any{"trigger": string(trigger), "raw_item_ids": ids}, ref, trigger)
}

func (s *Service) TriggerStoryAnalysis(ctx context.Context, storyID int64, trigger Trigger) (Enqueued, error) {
	if storyID <= 0 {
		return Enqueued{}, fmt.Errorf("story id must be > 0")
	}
	payload := map[string]any{"trigger": string(trigger), "story_id": storyID}
	return s.enqueue(ctx, TopicAnalyzeStory, payload, StoryRef(storyID), trigger)
}

// TriggerByTopic dispatches a family trigger by its queue topic.
func (s *Service) TriggerByTopic(ctx context.Context, topic string, trigger Trigger) (Enqueued, error) {
	switch topic {
	case TopicIngestRSS:
		return s.TriggerRSSIngest(ctx, trigger)
	case TopicIngestVideoChannel:
		return s.TriggerVideoChannelIngest(ctx, trigger)
	case TopicIngestVideoSearch:
		return s.TriggerVideoSearchIngest(ctx, trigger)
	default:
		return Enqueued{}, fmt.Errorf("topic %q cannot be triggered without arguments", topic)
	}
}

// RegisterSchedules stores the recurring discovery schedules.
func (s *Service) RegisterSchedules(ctx context.Context, schedules Schedules) error {
	entries := []queue.Schedule{
		{Topic: TopicIngestRSS, Name: "default", Cron: schedules.RSSCron},
		{Topic: TopicIngestVideoChannel, Name: "default", Cron: schedules.VideoCron},
		{Topic: TopicIngestVideoSearch, Name: "default", Cron: schedules.VideoCron},
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.Cron) == "" {
			continue
		}
		if err := queue.ValidateCron(entry.Cron); err != nil {
			return err
		}
		entry.Payload = map[string]any{"trigger": string(TriggerCron)}
		if err := s.queue.Schedule(ctx, entry); err != nil {
			return err
		}
		s.logger.Info().
			Str("event", "schedule_registered").
			Str("job_family", entry.Topic).
			Str("cron", entry.Cron).
			Msg("orchestrator audit")
	}
	return nil
}

// FireSchedule is the scheduler callback. Cron fires go through the same triggers as manual calls.
func (s *Service) FireSchedule(ctx context.Context, schedule queue.Schedule) error {
	_, err := s.TriggerByTopic(ctx, schedule.Topic, TriggerCron)
	return err
}

// StoryRef is the queue ref under which analysis jobs for a story are recorded.
func StoryRef(storyID int64) string {
	return "story:" + strconv.FormatInt(storyID, 10)
}

func (s *Service) enqueue(ctx context.Context, topic string, payload map[string]any, ref string, trigger Trigger) (Enqueued, error) {
	if err := payloadschema.ValidateJobPayload(topic, payload); err != nil {
		return Enqueued{}, err
	}

	jobID, err := s.queue.Enqueue(ctx, topic, payload, queue.EnqueueOptions{Ref: ref})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("event", "job_enqueue_failed").
			Str("job_family", topic).
			Str("trigger", string(trigger)).
			Msg("orchestrator audit")
		return Enqueued{}, fmt.Errorf("enqueue %s: %w", topic, err)
	}

	s.logger.Info().
		Str("event", "job_enqueued").
		Str("job_family", topic).
		Str("trigger", string(trigger)).
		Str("job_id", jobID).
		Interface("payload", payload).
		Msg("orchestrator audit")
	return Enqueued{Topic: topic, JobID: jobID}, nil
}

func (s *Service) skip(topic, reason string, trigger Trigger) Enqueued {
	s.logger.Info().
		Str("event", "job_skipped").
		Str("job_family", topic).
		Str("trigger", string(trigger)).
		Str("reason", reason).
		Msg("orchestrator audit")
	return Enqueued{Topic: topic, Skipped: true, Reason: reason}
}

func (s *Service) videoDiscoveryDisabledReason() string {
	if !s.features.VideoIngestEnabled {
		return "video ingest disabled"
	}
	if !s.features.VideoDiscoveryEnabled {
		return "video platform credentials not configured"
	}
	return ""
}

func topicForKind(kind string) (string, error) {
	switch kind {
	case db.SourceKindRSS:
		return TopicIngestRSS, nil
	case db.SourceKindVideoChannel:
		return TopicIngestVideoChannel, nil
	case db.SourceKindVideoSearch:
		return TopicIngestVideoSearch, nil
	default:
		return "", fmt.Errorf("source kind %q has no discovery topic", kind)
	}
}

func dedupeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
