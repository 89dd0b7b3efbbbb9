package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/globaltime"
	"horse.fit/zeke/internal/normalize"
)

type store interface {
	GetStoryForAnalysis(ctx context.Context, storyID int64) (db.StoryAnalysisRecord, error)
	UpsertStoryOverlay(ctx context.Context, in db.OverlayInput) error
	UpsertStoryEmbedding(ctx context.Context, storyID int64, vector []float64, modelVersion string, embeddedAt time.Time) error
}

// Result is what AnalyzeStory stored.
type Result struct {
	StoryID               int64   `json:"story_id"`
	Chili                 int     `json:"chili"`
	Confidence            float64 `json:"confidence"`
	ModelVersion          string  `json:"model_version"`
	EmbeddingModelVersion string  `json:"embedding_model_version"`
	Dimensions            int     `json:"dimensions"`
}

func (r Result) Output() map[string]any {
	return map[string]any{
		"story_id":                r.StoryID,
		"chili":                   r.Chili,
		"confidence":              r.Confidence,
		"model_version":           r.ModelVersion,
		"embedding_model_version": r.EmbeddingModelVersion,
		"dimensions":              r.Dimensions,
	}
}

type Service struct {
	store    store
	analyzer Analyzer
	logger   zerolog.Logger
}

func NewService(st store, analyzer Analyzer, logger zerolog.Logger) *Service {
	return &Service{store: st, analyzer: analyzer, logger: logger}
}

// AnalyzeStory scores and embeds the story's current content and replaces its
// overlay and embedding.
func (s *Service) AnalyzeStory(ctx context.Context, storyID int64) (Result, error) {
	rec, err := s.store.GetStoryForAnalysis(ctx, storyID)
	if err != nil {
		if db.IsNoRows(err) {
			return Result{}, fmt.Errorf("story %d not found", storyID)
		}
		return Result{}, fmt.Errorf("load story %d: %w", storyID, err)
	}

	in := inputFor(rec)
	overlay, err := s.analyzer.Analyze(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("analyze story %d: %w", storyID, err)
	}
	embedding, err := s.analyzer.Embed(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("embed story %d: %w", storyID, err)
	}

	now := globaltime.UTC()
	if err := s.store.UpsertStoryOverlay(ctx, db.OverlayInput{
		StoryID:      storyID,
		WhyItMatters: overlay.WhyItMatters,
		Chili:        overlay.Chili,
		Confidence:   overlay.Confidence,
		Citations:    citations(rec, in.Domain, overlay.Sources),
		ModelVersion: overlay.ModelVersion,
		AnalyzedAt:   now,
	}); err != nil {
		return Result{}, err
	}
	if err := s.store.UpsertStoryEmbedding(ctx, storyID, embedding.Vector, embedding.ModelVersion, now); err != nil {
		return Result{}, err
	}

	s.logger.Info().
		Int64("story_id", storyID).
		Int("chili", overlay.Chili).
		Float64("confidence", overlay.Confidence).
		Str("model_version", overlay.ModelVersion).
		Str("embedding_model_version", embedding.ModelVersion).
		Msg("story analyzed")

	return Result{
		StoryID:               storyID,
		Chili:                 overlay.Chili,
		Confidence:            overlay.Confidence,
		ModelVersion:          overlay.ModelVersion,
		EmbeddingModelVersion: embedding.ModelVersion,
		Dimensions:            len(embedding.Vector),
	}, nil
}

func inputFor(rec db.StoryAnalysisRecord) Input {
	link := rec.PrimaryURL
	if rec.CanonicalURL != nil && *rec.CanonicalURL != "" {
		link = *rec.CanonicalURL
	}
	return Input{
		StoryID: rec.StoryID,
		Title:   rec.Title,
		URL:     rec.PrimaryURL,
		Domain:  normalize.Domain(link),
		Text:    rec.Text,
		Lang:    rec.Lang,
	}
}

func citations(rec db.StoryAnalysisRecord, domain string, sources []string) map[string]any {
	out := map[string]any{
		"primary_url": rec.PrimaryURL,
		"domain":      domain,
	}
	if rec.CanonicalURL != nil && *rec.CanonicalURL != "" {
		out["canonical_url"] = *rec.CanonicalURL
	}
	if len(sources) > 0 {
		list := make([]any, 0, len(sources))
		for _, src := range sources {
			list = append(list, src)
		}
		out["sources"] = list
	}
	return out
}
