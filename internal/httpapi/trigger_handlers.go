package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/orchestrator"
	payloadschema "horse.fit/zeke/schema"
)

const maxBodyBytes = 1 << 20

type ingestURLsRequest struct {
	URLs []string `json:"urls"`
}

type extractRequest struct {
	RawItemIDs []int64 `json:"raw_item_ids"`
}

func (s *Server) handleIngestURLs(c echo.Context) error {
	var req ingestURLsRequest
	if err := decodeBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	urls := make([]string, 0, len(req.URLs))
	for _, raw := range req.URLs {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return failValidation(c, map[string]string{"urls": "at least one url is required"})
	}

	items := s.deps.Triggers.TriggerOneOffIngest(c.Request().Context(), urls, orchestrator.TriggerHTTP)
	return accepted(c, map[string]any{"items": items})
}

func (s *Server) handleTriggerIngest(c echo.Context) error {
	topic, ok := ingestTopic(c.Param("kind"))
	if !ok {
		return failValidation(c, map[string]string{"kind": "must be one of rss, video_channel, video_search"})
	}
	ack, err := s.deps.Triggers.TriggerByTopic(c.Request().Context(), topic, orchestrator.TriggerHTTP)
	if err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("trigger ingest failed")
		return internalError(c, "Failed to queue ingest")
	}
	return acknowledge(c, ack)
}

func (s *Server) handleTriggerExtract(c echo.Context) error {
	var req extractRequest
	if err := decodeBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if len(req.RawItemIDs) == 0 {
		return failValidation(c, map[string]string{"raw_item_ids": "at least one id is required"})
	}
	for _, id := range req.RawItemIDs {
		if id <= 0 {
			return failValidation(c, map[string]string{"raw_item_ids": "ids must be positive"})
		}
	}

	ack, err := s.deps.Triggers.TriggerContentExtraction(c.Request().Context(), req.RawItemIDs, orchestrator.TriggerHTTP)
	if err != nil {
		s.logger.Error().Err(err).Msg("trigger extract failed")
		return internalError(c, "Failed to queue extraction")
	}
	return acknowledge(c, ack)
}

func (s *Server) handleTriggerAnalyze(c echo.Context) error {
	storyID, err := strconv.ParseInt(strings.TrimSpace(c.Param("story_id")), 10, 64)
	if err != nil || storyID <= 0 {
		return failValidation(c, map[string]string{"story_id": "must be a positive integer"})
	}
	ack, err := s.deps.Triggers.TriggerStoryAnalysis(c.Request().Context(), storyID, orchestrator.TriggerHTTP)
	if err != nil {
		s.logger.Error().Err(err).Int64("story_id", storyID).Msg("trigger analyze failed")
		return internalError(c, "Failed to queue analysis")
	}
	return acknowledge(c, ack)
}

// handleCreateSource registers a source. ?ingest=true also queues discovery for it.
func (s *Server) handleCreateSource(c echo.Context) error {
	if s.deps.Sources == nil {
		return fail(c, http.StatusNotImplemented, "Source store not configured", nil)
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return failValidation(c, map[string]string{"body": "unreadable request body"})
	}
	def, err := payloadschema.ValidateSourceDefinition(body)
	if err != nil {
		return failValidation(c, map[string]string{"source": err.Error()})
	}

	ctx := c.Request().Context()
	rec, created, err := s.deps.Sources.UpsertSource(ctx, db.SourceInput{
		Kind:     def.Kind,
		URL:      def.URL,
		Name:     def.Name,
		Metadata: def.Metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("kind", def.Kind).Msg("create source failed")
		return internalError(c, "Failed to store source")
	}

	data := map[string]any{"source": rec, "created": created}
	if c.QueryParam("ingest") == "true" {
		ack, err := s.deps.Triggers.TriggerSourceIngest(ctx, rec.Kind, rec.SourceID, orchestrator.TriggerManual)
		if err != nil {
			s.logger.Error().Err(err).Int64("source_id", rec.SourceID).Msg("queue source ingest failed")
			return internalError(c, "Source stored but ingest could not be queued")
		}
		data["ingest"] = ack
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return successWithStatus(c, code, data)
}

func acknowledge(c echo.Context, ack orchestrator.Enqueued) error {
	if ack.Skipped {
		return success(c, ack)
	}
	return accepted(c, ack)
}

func ingestTopic(kind string) (string, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(kind)), "-", "_") {
	case db.SourceKindRSS:
		return orchestrator.TopicIngestRSS, true
	case db.SourceKindVideoChannel:
		return orchestrator.TopicIngestVideoChannel, true
	case db.SourceKindVideoSearch:
		return orchestrator.TopicIngestVideoSearch, true
	default:
		return "", false
	}
}

func decodeBody(c echo.Context, out any) error {
	decoder := json.NewDecoder(io.LimitReader(c.Request().Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}
