package analysis

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/config"
	"horse.fit/zeke/internal/retry"
)

func TestStubAnalyzeIsDeterministic(t *testing.T) {
	t.Parallel()

	stub := NewStubAnalyzer(64)
	in := Input{Title: "Startup raises $40M after AI launch", Domain: "www.reuters.com", Text: strings.Repeat("word ", 400)}

	first, _ := stub.Analyze(context.Background(), in)
	second, _ := stub.Analyze(context.Background(), in)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("stub output differs: %+v vs %+v", first, second)
	}
	// base 1 + three keywords + long body + reliable domain, clamped.
	if first.Chili != 5 {
		t.Fatalf("chili = %d, want 5", first.Chili)
	}
	if first.Confidence != 0.7 {
		t.Fatalf("confidence = %v, want 0.7", first.Confidence)
	}
	if first.ModelVersion != StubModelVersion {
		t.Fatalf("model version = %q", first.ModelVersion)
	}
}

func TestStubAnalyzeShortUnknownStory(t *testing.T) {
	t.Parallel()

	overlay, _ := NewStubAnalyzer(8).Analyze(context.Background(), Input{Title: "Local bake sale", Domain: "blog.example", Text: "short"})
	if overlay.Chili != 0 || overlay.Confidence != 0.3 {
		t.Fatalf("unexpected overlay %+v", overlay)
	}
	if overlay.WhyItMatters == "" {
		t.Fatalf("summary must not be empty")
	}
}

func TestStubEmbedIsNormalizedAndFixedLength(t *testing.T) {
	t.Parallel()

	stub := NewStubAnalyzer(32)
	emb, err := stub.Embed(context.Background(), Input{Title: "Chip export rules", Text: "New rules restrict chip exports."})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(emb.Vector) != 32 {
		t.Fatalf("len = %d", len(emb.Vector))
	}
	var norm float64
	for _, v := range emb.Vector {
		norm += v * v
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-9 {
		t.Fatalf("vector not unit length: %v", math.Sqrt(norm))
	}

	again, _ := stub.Embed(context.Background(), Input{Title: "Chip export rules", Text: "New rules restrict chip exports."})
	for i := range emb.Vector {
		if emb.Vector[i] != again.Vector[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
}

func TestReliableDomainMatchesSubdomains(t *testing.T) {
	t.Parallel()

	if !isReliableDomain("uk.reuters.com") || isReliableDomain("reuters.com.evil.example") {
		t.Fatalf("unexpected reliable-domain classification")
	}
}

func TestClampChili(t *testing.T) {
	t.Parallel()

	for in, want := range map[float64]int{-3: 0, 0.4: 0, 2.5: 3, 4.6: 5, 11: 5, 1e300: 5, -1e300: 0, math.Inf(1): 5} {
		if got := clampChili(in); got != want {
			t.Fatalf("clampChili(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestNewSelectsStrategy(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{EmbeddingDimensions: 8, AnalysisMaxBodyChars: 100, LLMRequestTimeout: time.Second}
	if _, ok := New(cfg, retry.DefaultPolicy(), zerolog.Nop()).(*StubAnalyzer); !ok {
		t.Fatalf("expected stub analyzer without credentials")
	}

	cfg.LLMAPIKey = "key"
	cfg.LLMChatModel = "gpt-test"
	analyzer := New(cfg, retry.DefaultPolicy(), zerolog.Nop())
	if _, ok := analyzer.(*FallbackAnalyzer); !ok {
		t.Fatalf("expected fallback analyzer with credentials, got %T", analyzer)
	}
	if analyzer.ModelVersion() != "llm:gpt-test" {
		t.Fatalf("model version = %q", analyzer.ModelVersion())
	}
}
