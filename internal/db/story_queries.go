package db

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// StoryInput is a candidate story for a freshly persisted content row.
type StoryInput struct {
	ContentID    int64
	ContentHash  string
	Title        string
	Kind         string
	CanonicalURL *string
	PrimaryURL   string
	PublishedAt  *time.Time
}

// StoryAnalysisRecord is everything the analysis stage reads for one story.
type StoryAnalysisRecord struct {
	StoryID      int64
	Title        string
	Kind         string
	PrimaryURL   string
	CanonicalURL *string
	Text         string
	Lang         string
}

// OverlayInput is the analysis result stored per story.
type OverlayInput struct {
	StoryID      int64
	WhyItMatters string
	Chili        int
	Confidence   float64
	Citations    map[string]any
	ModelVersion string
	AnalyzedAt   time.Time
}

// OverlayRecord is the stored overlay for one story.
type OverlayRecord struct {
	StoryID      int64             `json:"story_id"`
	WhyItMatters string            `json:"why_it_matters"`
	Chili        int               `json:"chili"`
	Confidence   float64           `json:"confidence"`
	Citations    datatypes.JSONMap `json:"citations"`
	ModelVersion string            `json:"model_version"`
	AnalyzedAt   time.Time         `json:"analyzed_at"`
}

// InsertStoryIfAbsent creates the story for a content hash. The bool is false when
// another story already owns the hash; the first writer wins.
func (p *Pool) InsertStoryIfAbsent(ctx context.Context, in StoryInput) (int64, bool, error) {
	if strings.TrimSpace(in.ContentHash) == "" {
		return 0, false, fmt.Errorf("story requires content_hash")
	}
	kind := in.Kind
	if kind == "" {
		kind = ItemKindArticle
	}

	const q = `
INSERT INTO zeke.stories (
	content_id,
	content_hash,
	title,
	kind,
	canonical_url,
	primary_url,
	published_at
)
VALUES ($1, $2, $3, $4::zeke.item_kind, $5, $6, $7)
ON CONFLICT (content_hash) DO NOTHING
RETURNING story_id
`
	var storyID int64
	err := p.QueryRow(ctx, q,
		in.ContentID,
		in.ContentHash,
		strings.TrimSpace(in.Title),
		kind,
		in.CanonicalURL,
		strings.TrimSpace(in.PrimaryURL),
		in.PublishedAt,
	).Scan(&storyID)
	if err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert story content_hash=%s: %w", in.ContentHash, err)
	}
	return storyID, true, nil
}

// FindStoryIDByContentHash returns the story owning a content hash.
func (p *Pool) FindStoryIDByContentHash(ctx context.Context, contentHash string) (int64, error) {
	const q = `SELECT story_id FROM zeke.stories WHERE content_hash = $1`
	var storyID int64
	if err := p.QueryRow(ctx, q, contentHash).Scan(&storyID); err != nil {
		return 0, err
	}
	return storyID, nil
}

// GetStoryForAnalysis loads a story with the text of its current content.
func (p *Pool) GetStoryForAnalysis(ctx context.Context, storyID int64) (StoryAnalysisRecord, error) {
	const q = `
SELECT
	s.story_id,
	s.title,
	s.kind::text,
	s.primary_url,
	s.canonical_url,
	c.text,
	c.lang
FROM zeke.stories s
JOIN zeke.contents c ON c.content_id = s.content_id
WHERE s.story_id = $1
`
	var rec StoryAnalysisRecord
	err := p.QueryRow(ctx, q, storyID).Scan(
		&rec.StoryID,
		&rec.Title,
		&rec.Kind,
		&rec.PrimaryURL,
		&rec.CanonicalURL,
		&rec.Text,
		&rec.Lang,
	)
	if err != nil {
		return StoryAnalysisRecord{}, err
	}
	return rec, nil
}

// UpsertStoryOverlay replaces the overlay of a story.
func (p *Pool) UpsertStoryOverlay(ctx context.Context, in OverlayInput) error {
	citations := datatypes.JSONMap(in.Citations)
	if citations == nil {
		citations = datatypes.JSONMap{}
	}

	const q = `
INSERT INTO zeke.story_overlays (
	story_id,
	why_it_matters,
	chili,
	confidence,
	citations,
	model_version,
	analyzed_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (story_id) DO UPDATE SET
	why_it_matters = EXCLUDED.why_it_matters,
	chili = EXCLUDED.chili,
	confidence = EXCLUDED.confidence,
	citations = EXCLUDED.citations,
	model_version = EXCLUDED.model_version,
	analyzed_at = EXCLUDED.analyzed_at
`
	_, err := p.Exec(ctx, q,
		in.StoryID,
		in.WhyItMatters,
		in.Chili,
		in.Confidence,
		citations,
		in.ModelVersion,
		in.AnalyzedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert story overlay story_id=%d: %w", in.StoryID, err)
	}
	return nil
}

// GetStoryOverlay loads the overlay of a story.
func (p *Pool) GetStoryOverlay(ctx context.Context, storyID int64) (OverlayRecord, error) {
	const q = `
SELECT story_id, why_it_matters, chili, confidence, citations, model_version, analyzed_at
FROM zeke.story_overlays
WHERE story_id = $1
`
	var rec OverlayRecord
	err := p.QueryRow(ctx, q, storyID).Scan(
		&rec.StoryID,
		&rec.WhyItMatters,
		&rec.Chili,
		&rec.Confidence,
		&rec.Citations,
		&rec.ModelVersion,
		&rec.AnalyzedAt,
	)
	if err != nil {
		return OverlayRecord{}, err
	}
	return rec, nil
}

// UpsertStoryEmbedding replaces the embedding of a story.
func (p *Pool) UpsertStoryEmbedding(ctx context.Context, storyID int64, vector []float64, modelVersion string, embeddedAt time.Time) error {
	literal, err := VectorLiteral(vector)
	if err != nil {
		return fmt.Errorf("story_id=%d: %w", storyID, err)
	}

	const q = `
INSERT INTO zeke.story_embeddings (story_id, embedding, dimensions, model_version, embedded_at)
VALUES ($1, $2::vector, $3, $4, $5)
ON CONFLICT (story_id) DO UPDATE SET
	embedding = EXCLUDED.embedding,
	dimensions = EXCLUDED.dimensions,
	model_version = EXCLUDED.model_version,
	embedded_at = EXCLUDED.embedded_at
`
	if _, err := p.Exec(ctx, q, storyID, literal, len(vector), modelVersion, embeddedAt.UTC()); err != nil {
		return fmt.Errorf("upsert story embedding story_id=%d: %w", storyID, err)
	}
	return nil
}

// VectorLiteral renders values in pgvector text form.
func VectorLiteral(values []float64) (string, error) {
	if len(values) == 0 {
		return "", fmt.Errorf("vector is empty")
	}

	var builder strings.Builder
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
