package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/zeke/internal/status"
)

func (s *Server) handleJobEvents(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return failValidation(c, map[string]string{"id": "is required"})
	}
	target := status.Target{JobID: id}
	if strings.HasPrefix(id, "story:") {
		parsed, err := status.ParseTarget(id)
		if err != nil {
			return failValidation(c, map[string]string{"id": err.Error()})
		}
		target = parsed
	}
	return s.streamStatus(c, target)
}

func (s *Server) handleStoryEvents(c echo.Context) error {
	storyID, err := strconv.ParseInt(strings.TrimSpace(c.Param("story_id")), 10, 64)
	if err != nil || storyID <= 0 {
		return failValidation(c, map[string]string{"story_id": "must be a positive integer"})
	}
	return s.streamStatus(c, status.Target{StoryID: storyID})
}

// streamStatus relays tracker events as text/event-stream. Headers are only
// written on the first event so an unknown id still gets a JSON 404.
func (s *Server) streamStatus(c echo.Context, target status.Target) error {
	if s.deps.Status == nil {
		return fail(c, http.StatusNotImplemented, "Status tracking not configured", nil)
	}

	w := &sseWriter{c: c}
	err := s.deps.Status.Stream(c.Request().Context(), target, w.emit)
	switch {
	case err == nil:
		return nil
	case !w.started && errors.Is(err, status.ErrJobNotFound):
		return failNotFound(c, "Job not found")
	case !w.started:
		s.logger.Error().Err(err).Str("id", target.String()).Msg("status stream failed")
		return internalError(c, "Failed to load job status")
	case errors.Is(err, context.Canceled):
		return nil
	default:
		s.logger.Warn().Err(err).Str("id", target.String()).Msg("status stream ended early")
		return nil
	}
}

type sseWriter struct {
	c       echo.Context
	started bool
}

func (w *sseWriter) emit(event status.Event) error {
	res := w.c.Response()
	if !w.started {
		// Streams outlive the server write timeout.
		_ = http.NewResponseController(res.Writer).SetWriteDeadline(time.Time{})
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set("Cache-Control", "no-cache")
		res.Header().Set("Connection", "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		w.started = true
	}

	data, err := json.Marshal(event.Data())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Name, err)
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event.Name, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
