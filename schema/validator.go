package payloadschema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed *.schema.json
var schemaFS embed.FS

const (
	TopicIngestRSS          = "ingest.rss"
	TopicIngestVideoChannel = "ingest.video_channel"
	TopicIngestVideoSearch  = "ingest.video_search"
	TopicExtractContent     = "extract.content"
	TopicAnalyzeStory       = "analyze.story"
)

var topicSchemas = map[string]string{
	TopicIngestRSS:          "job_ingest.schema.json",
	TopicIngestVideoChannel: "job_ingest.schema.json",
	TopicIngestVideoSearch:  "job_ingest.schema.json",
	TopicExtractContent:     "job_extract.schema.json",
	TopicAnalyzeStory:       "job_analyze.schema.json",
}

const sourceSchemaName = "source.schema.json"

// SourceDefinition is a validated admin request to register a source.
type SourceDefinition struct {
	Kind     string         `json:"kind"`
	URL      string         `json:"url"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

var (
	compileOnce     sync.Once
	compiledSchemas map[string]*jsonschema.Schema
	compileErr      error
)

// ValidateJobPayload checks a job payload against the schema registered for topic.
func ValidateJobPayload(topic string, payload map[string]any) error {
	name, ok := topicSchemas[topic]
	if !ok {
		return fmt.Errorf("unknown topic %q", topic)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema(name)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("%s payload invalid: %w", topic, err)
	}
	return nil
}

// ValidateSourceDefinition validates and normalizes a source registration body.
func ValidateSourceDefinition(payload json.RawMessage) (*SourceDefinition, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema(sourceSchemaName)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var def SourceDefinition
	decoder := json.NewDecoder(bytes.NewReader(normalized))
	decoder.UseNumber()
	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

func loadSchema(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		names := map[string]struct{}{sourceSchemaName: {}}
		for _, n := range topicSchemas {
			names[n] = struct{}{}
		}

		for n := range names {
			body, err := schemaFS.ReadFile(n)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", n, err)
				return
			}
			if err := compiler.AddResource(n, bytes.NewReader(body)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", n, err)
				return
			}
		}

		compiled := make(map[string]*jsonschema.Schema, len(names))
		for n := range names {
			schema, err := compiler.Compile(n)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", n, err)
				return
			}
			compiled[n] = schema
		}
		compiledSchemas = compiled
	})

	if compileErr != nil {
		return nil, compileErr
	}
	schema, ok := compiledSchemas[name]
	if !ok || schema == nil {
		return nil, fmt.Errorf("schema %s not initialized", name)
	}
	return schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(def *SourceDefinition) error {
	if def == nil {
		return fmt.Errorf("payload is nil")
	}
	def.Name = strings.TrimSpace(def.Name)
	if def.Metadata == nil {
		def.Metadata = map[string]any{}
	}

	switch def.Kind {
	case "rss":
		if err := validateURI("url", def.URL); err != nil {
			return err
		}
	case "video_channel":
		channelID, _ := def.Metadata["channel_id"].(string)
		if strings.TrimSpace(def.URL) == "" {
			def.URL = "https://www.youtube.com/channel/" + channelID
		}
	case "video_search":
		query, _ := def.Metadata["query"].(string)
		query = strings.TrimSpace(query)
		if query == "" {
			return fmt.Errorf("metadata.query must not be empty")
		}
		def.Metadata["query"] = query
		if strings.TrimSpace(def.URL) == "" {
			def.URL = "https://www.youtube.com/results?search_query=" + url.QueryEscape(query)
		}
	}

	if def.Name == "" {
		def.Name = def.URL
	}
	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	return nil
}
