// Package analysis scores stories and embeds them. An LLM-backed analyzer is used
// when credentials are configured; a deterministic offline analyzer covers the rest.
package analysis

import (
	"context"
	"math"
	"net/http"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/config"
	"horse.fit/zeke/internal/retry"
)

const (
	MinChili          = 0
	MaxChili          = 5
	DefaultChili      = 2
	DefaultConfidence = 0.5
	truncationMarker  = "...[truncated]"
)

// DefaultWhyItMatters stands in when the model scores a story without a rationale.
const DefaultWhyItMatters = "No rationale was provided for this story."

// Input is what an analyzer sees of a story.
type Input struct {
	StoryID int64
	Title   string
	URL     string
	Domain  string
	Text    string
	Lang    string
}

// Overlay is the scored summary of a story.
type Overlay struct {
	WhyItMatters string
	Chili        int
	Confidence   float64
	Sources      []string
	ModelVersion string
}

// Embedding is a fixed-length story vector.
type Embedding struct {
	Vector       []float64
	ModelVersion string
}

type Analyzer interface {
	Analyze(ctx context.Context, in Input) (Overlay, error)
	Embed(ctx context.Context, in Input) (Embedding, error)
	ModelVersion() string
}

// New returns the LLM analyzer with the stub as per-call fallback when an API key
// is configured, otherwise the stub alone.
func New(cfg *config.Config, policy retry.Policy, logger zerolog.Logger) Analyzer {
	stub := NewStubAnalyzer(cfg.EmbeddingDimensions)
	if !cfg.LLMEnabled() {
		logger.Info().Str("model_version", stub.ModelVersion()).Msg("LLM credentials not configured; using stub analyzer")
		return stub
	}

	llm := NewLLMAnalyzer(LLMOptions{
		Endpoint:       cfg.LLMEndpoint,
		APIKey:         cfg.LLMAPIKey,
		ChatModel:      cfg.LLMChatModel,
		EmbeddingModel: cfg.LLMEmbeddingModel,
		Dimensions:     cfg.EmbeddingDimensions,
		MaxBodyChars:   cfg.AnalysisMaxBodyChars,
		Doer:           retry.NewHTTPDoer(&http.Client{Timeout: cfg.LLMRequestTimeout}, policy),
	})
	return NewFallbackAnalyzer(llm, stub, logger)
}

// FallbackAnalyzer answers every call with Primary and falls back per call.
type FallbackAnalyzer struct {
	Primary  Analyzer
	Fallback Analyzer
	logger   zerolog.Logger
}

func NewFallbackAnalyzer(primary, fallback Analyzer, logger zerolog.Logger) *FallbackAnalyzer {
	return &FallbackAnalyzer{Primary: primary, Fallback: fallback, logger: logger}
}

func (f *FallbackAnalyzer) Analyze(ctx context.Context, in Input) (Overlay, error) {
	overlay, err := f.Primary.Analyze(ctx, in)
	if err == nil {
		return overlay, nil
	}
	if ctx.Err() != nil {
		return Overlay{}, ctx.Err()
	}
	f.logger.Warn().
		Err(err).
		Int64("story_id", in.StoryID).
		Str("primary", f.Primary.ModelVersion()).
		Str("fallback", f.Fallback.ModelVersion()).
		Msg("primary analyzer failed; falling back")
	return f.Fallback.Analyze(ctx, in)
}

func (f *FallbackAnalyzer) Embed(ctx context.Context, in Input) (Embedding, error) {
	embedding, err := f.Primary.Embed(ctx, in)
	if err == nil {
		return embedding, nil
	}
	if ctx.Err() != nil {
		return Embedding{}, ctx.Err()
	}
	f.logger.Warn().
		Err(err).
		Int64("story_id", in.StoryID).
		Msg("primary embedding failed; falling back")
	return f.Fallback.Embed(ctx, in)
}

func (f *FallbackAnalyzer) ModelVersion() string {
	return f.Primary.ModelVersion()
}

// clampChili rounds in float space so out-of-range scores saturate instead
// of overflowing the int conversion.
func clampChili(v float64) int {
	if math.IsNaN(v) {
		return MinChili
	}
	return int(math.Max(MinChili, math.Min(MaxChili, math.Round(v))))
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
