package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"horse.fit/zeke/internal/normalize"
	"horse.fit/zeke/internal/retry"
)

const (
	DefaultLLMEndpoint   = "https://api.openai.com/v1"
	DefaultMaxBodyChars  = 8000
	maxLLMResponseBytes  = 8 << 20
	analysisSystemPrompt = `You assess why a news story matters. Reply with a single JSON object with keys:
"why_it_matters" (string, at most three sentences),
"chili" (integer 0-5, how hot and consequential the story is),
"confidence" (number 0-1, how sure you are),
"sources" (array of URLs you relied on, may be empty).`
)

type LLMOptions struct {
	Endpoint       string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Dimensions     int
	MaxBodyChars   int
	Doer           retry.Doer
}

// LLMAnalyzer calls an OpenAI-compatible API for chat completions and embeddings.
type LLMAnalyzer struct {
	chatURL        string
	embeddingsURL  string
	apiKey         string
	chatModel      string
	embeddingModel string
	dimensions     int
	maxBodyChars   int
	doer           retry.Doer
}

func NewLLMAnalyzer(opts LLMOptions) *LLMAnalyzer {
	endpoint := normalizeEndpoint(opts.Endpoint)
	maxBody := opts.MaxBodyChars
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyChars
	}
	doer := opts.Doer
	if doer == nil {
		doer = retry.NewHTTPDoer(http.DefaultClient, retry.DefaultPolicy())
	}
	return &LLMAnalyzer{
		chatURL:        endpoint + "/chat/completions",
		embeddingsURL:  endpoint + "/embeddings",
		apiKey:         strings.TrimSpace(opts.APIKey),
		chatModel:      strings.TrimSpace(opts.ChatModel),
		embeddingModel: strings.TrimSpace(opts.EmbeddingModel),
		dimensions:     opts.Dimensions,
		maxBodyChars:   maxBody,
		doer:           doer,
	}
}

func (a *LLMAnalyzer) ModelVersion() string {
	return "llm:" + a.chatModel
}

func (a *LLMAnalyzer) embeddingVersion() string {
	return "llm:" + a.embeddingModel
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, in Input) (Overlay, error) {
	body, _ := normalize.Truncate(strings.TrimSpace(in.Text), a.maxBodyChars, truncationMarker)

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Title: %s\n", strings.TrimSpace(in.Title))
	if in.Domain != "" {
		fmt.Fprintf(&prompt, "Domain: %s\n", in.Domain)
	}
	if in.URL != "" {
		fmt.Fprintf(&prompt, "URL: %s\n", in.URL)
	}
	prompt.WriteString("\n")
	prompt.WriteString(body)

	payload := chatRequest{
		Model: a.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: prompt.String()},
		},
		Temperature:    0.2,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var parsed chatResponse
	if err := a.post(ctx, a.chatURL, payload, &parsed); err != nil {
		return Overlay{}, err
	}
	if len(parsed.Choices) == 0 {
		return Overlay{}, fmt.Errorf("chat response missing choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return Overlay{}, fmt.Errorf("chat response was empty")
	}

	overlay, err := parseOverlay(content)
	if err != nil {
		return Overlay{}, err
	}
	overlay.ModelVersion = a.ModelVersion()
	return overlay, nil
}

func (a *LLMAnalyzer) Embed(ctx context.Context, in Input) (Embedding, error) {
	body, _ := normalize.Truncate(strings.TrimSpace(in.Text), a.maxBodyChars, truncationMarker)
	text := strings.TrimSpace(strings.TrimSpace(in.Title) + "\n\n" + body)
	if text == "" {
		return Embedding{}, fmt.Errorf("nothing to embed")
	}

	payload := embeddingRequest{
		Model:      a.embeddingModel,
		Input:      text,
		Dimensions: a.dimensions,
	}
	var parsed embeddingResponse
	if err := a.post(ctx, a.embeddingsURL, payload, &parsed); err != nil {
		return Embedding{}, err
	}
	if len(parsed.Data) == 0 {
		return Embedding{}, fmt.Errorf("embedding response missing data")
	}

	vector := parsed.Data[0].Embedding
	if a.dimensions > 0 && len(vector) != a.dimensions {
		return Embedding{}, fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), a.dimensions)
	}
	for i, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Embedding{}, fmt.Errorf("embedding has non-finite value at index %d", i)
		}
	}
	return Embedding{Vector: vector, ModelVersion: a.embeddingVersion()}, nil
}

func (a *LLMAnalyzer) post(ctx context.Context, endpoint string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.doer.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLLMResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload errorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return fmt.Errorf("llm endpoint status %d: %s", resp.StatusCode, msg)
			}
		}
		return fmt.Errorf("llm endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseOverlay reads the model's JSON answer. Numeric fields accept numbers or
// numeric strings; unreadable values fall back to defaults before clamping.
func parseOverlay(content string) (Overlay, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &fields); err != nil {
		return Overlay{}, fmt.Errorf("decode analysis JSON: %w", err)
	}

	why, _ := fields["why_it_matters"].(string)
	why = strings.TrimSpace(why)
	if why == "" {
		why = DefaultWhyItMatters
	}

	chili, ok := coerceNumber(fields["chili"])
	if !ok {
		chili = DefaultChili
	}
	confidence, ok := coerceNumber(fields["confidence"])
	if !ok {
		confidence = DefaultConfidence
	}

	overlay := Overlay{
		WhyItMatters: why,
		Chili:        clampChili(chili),
		Confidence:   clampConfidence(confidence),
	}
	if list, ok := fields["sources"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				overlay.Sources = append(overlay.Sources, strings.TrimSpace(s))
			}
		}
	}
	return overlay, nil
}

func coerceNumber(raw any) (float64, bool) {
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		value = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		value = f
	default:
		return 0, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return DefaultLLMEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultLLMEndpoint
	}
	path := strings.TrimRight(parsed.Path, "/")
	path = strings.TrimSuffix(path, "/chat/completions")
	path = strings.TrimSuffix(path, "/embeddings")
	if path == "" {
		path = "/v1"
	}
	parsed.Path = path
	return strings.TrimRight(parsed.String(), "/")
}
