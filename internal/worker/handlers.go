package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"horse.fit/zeke/internal/analysis"
	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/discovery"
	"horse.fit/zeke/internal/extract"
	"horse.fit/zeke/internal/queue"
	payloadschema "horse.fit/zeke/schema"
)

type discoveryRunner interface {
	Run(ctx context.Context, kind string) (discovery.RunResult, error)
	RunSource(ctx context.Context, sourceID int64) (discovery.RunResult, error)
}

type batchExtractor interface {
	ProcessBatch(ctx context.Context, rawItemIDs []int64) extract.BatchResult
}

type storyAnalyzer interface {
	AnalyzeStory(ctx context.Context, storyID int64) (analysis.Result, error)
}

var ingestKinds = map[string]string{
	payloadschema.TopicIngestRSS:          db.SourceKindRSS,
	payloadschema.TopicIngestVideoChannel: db.SourceKindVideoChannel,
	payloadschema.TopicIngestVideoSearch:  db.SourceKindVideoSearch,
}

// RegisterHandlers wires every pipeline topic to its stage. Nil stages are skipped.
func RegisterHandlers(p *Pool, disc discoveryRunner, extractor batchExtractor, analyzer storyAnalyzer) {
	if disc != nil {
		for topic, kind := range ingestKinds {
			p.Handle(topic, IngestHandler(disc, kind))
		}
	}
	if extractor != nil {
		p.Handle(payloadschema.TopicExtractContent, ExtractHandler(extractor))
	}
	if analyzer != nil {
		p.Handle(payloadschema.TopicAnalyzeStory, AnalyzeHandler(analyzer))
	}
}

// IngestHandler runs discovery for every active source of kind, or for the single
// source named in the payload.
func IngestHandler(disc discoveryRunner, kind string) Handler {
	return func(ctx context.Context, job queue.Job) (map[string]any, error) {
		if raw, ok := job.Payload["source_id"]; ok && raw != nil {
			sourceID, err := toInt64(raw)
			if err != nil {
				return nil, fmt.Errorf("payload source_id: %w", err)
			}
			result, err := disc.RunSource(ctx, sourceID)
			if err != nil {
				return nil, err
			}
			return result.Output(), nil
		}

		result, err := disc.Run(ctx, kind)
		if err != nil {
			return nil, err
		}
		return result.Output(), nil
	}
}

// ExtractHandler processes the payload's raw items. The job fails only when every
// item failed.
func ExtractHandler(extractor batchExtractor) Handler {
	return func(ctx context.Context, job queue.Job) (map[string]any, error) {
		ids, err := toInt64Slice(job.Payload["raw_item_ids"])
		if err != nil {
			return nil, fmt.Errorf("payload raw_item_ids: %w", err)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("payload raw_item_ids is empty")
		}

		result := extractor.ProcessBatch(ctx, ids)
		output := result.Output()
		if result.AllFailed() {
			return output, fmt.Errorf("all %d raw items failed extraction: %s", len(result.Failed), result.Failed[0].Error)
		}
		return output, nil
	}
}

func AnalyzeHandler(analyzer storyAnalyzer) Handler {
	return func(ctx context.Context, job queue.Job) (map[string]any, error) {
		storyID, err := toInt64(job.Payload["story_id"])
		if err != nil {
			return nil, fmt.Errorf("payload story_id: %w", err)
		}
		result, err := analyzer.AnalyzeStory(ctx, storyID)
		if err != nil {
			return nil, err
		}
		return result.Output(), nil
	}
}

// toInt64 accepts the numeric shapes a payload takes in memory and after a JSON
// round trip.
func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, fmt.Errorf("value is missing")
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

func toInt64Slice(raw any) ([]int64, error) {
	switch v := raw.(type) {
	case []int64:
		return v, nil
	case []any:
		out := make([]int64, 0, len(v))
		for i, item := range v {
			id, err := toInt64(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, id)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("value is missing")
	default:
		return nil, fmt.Errorf("unsupported type %T", raw)
	}
}
