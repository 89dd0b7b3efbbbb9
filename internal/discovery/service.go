// Package discovery runs source discovery passes: fetch candidates per source, store
// new raw items and queue their extraction.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/globaltime"
	"horse.fit/zeke/internal/orchestrator"
)

const (
	maxHealthErrorLength = 2000
	maxRequeuePerSource  = 100
)

type store interface {
	ListActiveSources(ctx context.Context, kind string) ([]db.SourceRecord, error)
	GetSource(ctx context.Context, sourceID int64) (db.SourceRecord, error)
	InsertRawItem(ctx context.Context, in db.RawItemInput) (int64, bool, error)
	ListUnqueuedRawItems(ctx context.Context, sourceID int64, limit int) ([]int64, error)
	UpsertSourceHealth(ctx context.Context, sourceID int64, status string, lastError *string, checkedAt time.Time) error
}

type extractionTrigger interface {
	TriggerContentExtraction(ctx context.Context, rawItemIDs []int64, trigger orchestrator.Trigger) (orchestrator.Enqueued, error)
}

// RunResult summarizes one discovery pass.
type RunResult struct {
	Kind     string `json:"kind"`
	Sources  int    `json:"sources"`
	Failed   int    `json:"failed"`
	Seen     int    `json:"seen"`
	New      int    `json:"new"`
	Requeued int    `json:"requeued"`
}

// Output renders the result as a job output map.
func (r RunResult) Output() map[string]any {
	return map[string]any{
		"kind":     r.Kind,
		"sources":  r.Sources,
		"failed":   r.Failed,
		"seen":     r.Seen,
		"new":      r.New,
		"requeued": r.Requeued,
	}
}

type Service struct {
	store    store
	fetchers map[string]Fetcher
	trigger  extractionTrigger
	logger   zerolog.Logger
}

func NewService(st store, trigger extractionTrigger, logger zerolog.Logger, fetchers ...Fetcher) *Service {
	byKind := make(map[string]Fetcher, len(fetchers))
	for _, f := range fetchers {
		if f != nil {
			byKind[f.Kind()] = f
		}
	}
	return &Service{
		store:    st,
		fetchers: byKind,
		trigger:  trigger,
		logger:   logger,
	}
}

// Run discovers every active source of kind. A failing source is recorded in its
// health row and never stops the pass.
func (s *Service) Run(ctx context.Context, kind string) (RunResult, error) {
	if _, ok := s.fetchers[kind]; !ok {
		return RunResult{}, fmt.Errorf("no fetcher registered for source kind %q", kind)
	}

	sources, err := s.store.ListActiveSources(ctx, kind)
	if err != nil {
		return RunResult{}, fmt.Errorf("list %s sources: %w", kind, err)
	}

	result := RunResult{Kind: kind}
	for _, source := range sources {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		outcome, srcErr := s.runOne(ctx, source)
		result.Sources++
		result.Seen += outcome.seen
		result.New += outcome.fresh
		result.Requeued += outcome.requeued
		if srcErr != nil {
			result.Failed++
		}
	}

	s.logger.Info().
		Str("kind", kind).
		Int("sources", result.Sources).
		Int("failed", result.Failed).
		Int("seen", result.Seen).
		Int("new", result.New).
		Int("requeued", result.Requeued).
		Msg("discovery pass finished")
	return result, nil
}

// RunSource discovers a single source regardless of its kind's schedule.
func (s *Service) RunSource(ctx context.Context, sourceID int64) (RunResult, error) {
	source, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return RunResult{}, fmt.Errorf("load source %d: %w", sourceID, err)
	}
	if _, ok := s.fetchers[source.Kind]; !ok {
		return RunResult{}, fmt.Errorf("no fetcher registered for source kind %q", source.Kind)
	}

	outcome, srcErr := s.runOne(ctx, source)
	result := RunResult{Kind: source.Kind, Sources: 1, Seen: outcome.seen, New: outcome.fresh, Requeued: outcome.requeued}
	if srcErr != nil {
		result.Failed = 1
	}
	return result, nil
}

type sourceOutcome struct {
	seen     int
	fresh    int
	requeued int
}

func (s *Service) runOne(ctx context.Context, source db.SourceRecord) (out sourceOutcome, err error) {
	logger := s.logger.With().
		Int64("source_id", source.SourceID).
		Str("kind", source.Kind).
		Logger()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
			s.recordHealth(ctx, logger, source.SourceID, err)
		}
	}()

	window := WindowFor(source.Metadata, globaltime.UTC())
	candidates, err := s.fetchers[source.Kind].Fetch(ctx, source, window)
	if err != nil {
		logger.Warn().Err(err).Msg("source fetch failed")
		s.recordHealth(ctx, logger, source.SourceID, err)
		return out, err
	}

	candidates = window.Filter(candidates)
	out.seen = len(candidates)

	var itemErr error
	for _, c := range candidates {
		rawItemID, inserted, insertErr := s.store.InsertRawItem(ctx, db.RawItemInput{
			SourceID:    source.SourceID,
			ExternalID:  c.ExternalID,
			URL:         c.URL,
			Title:       c.Title,
			Kind:        c.Kind,
			Metadata:    c.Metadata,
			PublishedAt: c.PublishedAt,
		})
		if insertErr != nil {
			logger.Warn().Err(insertErr).Str("external_id", c.ExternalID).Msg("store raw item failed")
			itemErr = insertErr
			continue
		}
		if !inserted {
			continue
		}
		out.fresh++

		if _, trigErr := s.trigger.TriggerContentExtraction(ctx, []int64{rawItemID}, orchestrator.TriggerDiscovery); trigErr != nil {
			logger.Warn().Err(trigErr).Int64("raw_item_id", rawItemID).Msg("queue extraction failed")
			itemErr = trigErr
		}
	}

	requeued, requeueErr := s.requeueUnqueued(ctx, logger, source.SourceID)
	out.requeued = requeued
	if requeueErr != nil && itemErr == nil {
		itemErr = requeueErr
	}

	if itemErr != nil {
		s.recordHealth(ctx, logger, source.SourceID, itemErr)
		return out, itemErr
	}
	s.recordHealth(ctx, logger, source.SourceID, nil)
	logger.Debug().Int("seen", out.seen).Int("new", out.fresh).Int("requeued", out.requeued).Msg("source discovered")
	return out, nil
}

// requeueUnqueued queues extraction for stored items whose original enqueue
// never landed. Items already referenced by a job are left to the queue.
func (s *Service) requeueUnqueued(ctx context.Context, logger zerolog.Logger, sourceID int64) (int, error) {
	ids, err := s.store.ListUnqueuedRawItems(ctx, sourceID, maxRequeuePerSource)
	if err != nil {
		logger.Warn().Err(err).Msg("list unqueued raw items failed")
		return 0, err
	}
	requeued := 0
	var firstErr error
	for _, id := range ids {
		if _, err := s.trigger.TriggerContentExtraction(ctx, []int64{id}, orchestrator.TriggerDiscovery); err != nil {
			logger.Warn().Err(err).Int64("raw_item_id", id).Msg("requeue extraction failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		requeued++
	}
	if requeued > 0 {
		logger.Info().Int("requeued", requeued).Msg("requeued unextracted raw items")
	}
	return requeued, firstErr
}

func (s *Service) recordHealth(ctx context.Context, logger zerolog.Logger, sourceID int64, cause error) {
	status := db.HealthOK
	var lastError *string
	if cause != nil {
		status = db.HealthError
		msg := strings.TrimSpace(cause.Error())
		if len(msg) > maxHealthErrorLength {
			msg = msg[:maxHealthErrorLength]
		}
		lastError = &msg
	}
	if err := s.store.UpsertSourceHealth(ctx, sourceID, status, lastError, globaltime.UTC()); err != nil {
		logger.Error().Err(err).Msg("record source health failed")
	}
}
