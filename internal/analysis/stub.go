package analysis

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

const (
	StubModelVersion   = "stub-v1"
	longBodyThreshold  = 1500
	shortBodyThreshold = 300
)

var stubKeywords = []string{
	"acquires",
	"ai",
	"breach",
	"breaking",
	"launch",
	"lawsuit",
	"outage",
	"raises",
	"recall",
	"regulation",
	"release",
	"security",
	"vulnerability",
}

var reliableDomains = map[string]struct{}{
	"apnews.com":      {},
	"arstechnica.com": {},
	"bbc.co.uk":       {},
	"bbc.com":         {},
	"bloomberg.com":   {},
	"economist.com":   {},
	"ft.com":          {},
	"nature.com":      {},
	"nytimes.com":     {},
	"reuters.com":     {},
	"theverge.com":    {},
	"wsj.com":         {},
}

// StubAnalyzer scores stories with keyword and length heuristics and embeds them
// with a hashed bag of words. Output depends only on the input.
type StubAnalyzer struct {
	dimensions int
}

func NewStubAnalyzer(dimensions int) *StubAnalyzer {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &StubAnalyzer{dimensions: dimensions}
}

func (s *StubAnalyzer) ModelVersion() string { return StubModelVersion }

func (s *StubAnalyzer) Analyze(_ context.Context, in Input) (Overlay, error) {
	titleTokens := make(map[string]struct{})
	for _, token := range tokenize(in.Title) {
		titleTokens[token] = struct{}{}
	}
	var matched []string
	for _, kw := range stubKeywords {
		if _, ok := titleTokens[kw]; ok {
			matched = append(matched, kw)
		}
	}

	score := 1.0 + float64(len(matched))
	confidence := 0.4

	bodyLen := len([]rune(strings.TrimSpace(in.Text)))
	switch {
	case bodyLen >= longBodyThreshold:
		score++
		confidence += 0.1
	case bodyLen < shortBodyThreshold:
		score--
		confidence -= 0.1
	}

	domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(in.Domain)), "www.")
	reliable := isReliableDomain(domain)
	if reliable {
		score++
		confidence += 0.2
	}

	return Overlay{
		WhyItMatters: stubSummary(in.Title, domain, matched, reliable),
		Chili:        clampChili(score),
		Confidence:   clampConfidence(math.Round(confidence*100) / 100),
		ModelVersion: StubModelVersion,
	}, nil
}

func (s *StubAnalyzer) Embed(_ context.Context, in Input) (Embedding, error) {
	vector := make([]float64, s.dimensions)
	for _, token := range tokenize(in.Title + " " + in.Text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(s.dimensions))
		if sum&(1<<63) != 0 {
			vector[idx]--
		} else {
			vector[idx]++
		}
	}

	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vector {
			vector[i] /= norm
		}
	}
	return Embedding{Vector: vector, ModelVersion: StubModelVersion}, nil
}

func stubSummary(title, domain string, matched []string, reliable bool) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "This story"
	}
	var b strings.Builder
	b.WriteString(title)
	if domain != "" {
		fmt.Fprintf(&b, " (%s)", domain)
	}
	if len(matched) > 0 {
		sorted := append([]string(nil), matched...)
		sort.Strings(sorted)
		fmt.Fprintf(&b, " touches on %s.", strings.Join(sorted, ", "))
	} else {
		b.WriteString(" has no strong signals.")
	}
	if reliable {
		b.WriteString(" Reported by an established outlet.")
	}
	return b.String()
}

func isReliableDomain(domain string) bool {
	for domain != "" {
		if _, ok := reliableDomains[domain]; ok {
			return true
		}
		idx := strings.IndexByte(domain, '.')
		if idx < 0 {
			return false
		}
		domain = domain[idx+1:]
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
