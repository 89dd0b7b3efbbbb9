package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/globaltime"
	"horse.fit/zeke/internal/orchestrator"
	"horse.fit/zeke/internal/status"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowOrigins    []string
}

type triggerService interface {
	TriggerOneOffIngest(ctx context.Context, urls []string, trigger orchestrator.Trigger) []orchestrator.OneOffResult
	TriggerByTopic(ctx context.Context, topic string, trigger orchestrator.Trigger) (orchestrator.Enqueued, error)
	TriggerSourceIngest(ctx context.Context, kind string, sourceID int64, trigger orchestrator.Trigger) (orchestrator.Enqueued, error)
	TriggerContentExtraction(ctx context.Context, rawItemIDs []int64, trigger orchestrator.Trigger) (orchestrator.Enqueued, error)
	TriggerStoryAnalysis(ctx context.Context, storyID int64, trigger orchestrator.Trigger) (orchestrator.Enqueued, error)
}

type sourceStore interface {
	UpsertSource(ctx context.Context, in db.SourceInput) (db.SourceRecord, bool, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type statusStreamer interface {
	Stream(ctx context.Context, target status.Target, emit func(status.Event) error) error
}

// Dependencies are the services the API delegates to.
type Dependencies struct {
	Triggers triggerService
	Sources  sourceStore
	Database pinger
	Status   statusStreamer
}

type Server struct {
	deps   Dependencies
	logger zerolog.Logger
	opts   Options
}

func NewServer(deps Dependencies, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		deps:   deps,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			AllowOrigins:    origins,
		},
	}
}

// Handler builds the echo instance with middleware and routes.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			msg := "http request"
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
				msg = "http request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/ingest/urls", s.handleIngestURLs)
	api.POST("/triggers/ingest/:kind", s.handleTriggerIngest)
	api.POST("/triggers/extract", s.handleTriggerExtract)
	api.POST("/triggers/analyze/:story_id", s.handleTriggerAnalyze)
	api.POST("/sources", s.handleCreateSource)
	api.GET("/jobs/:id/events", s.handleJobEvents)
	api.GET("/stories/:story_id/events", s.handleStoryEvents)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Triggers == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("zeke api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("zeke api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(code)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if code >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, code, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	body := map[string]any{
		"service":  "zeke",
		"time":     globaltime.UTC(),
		"database": "unchecked",
	}
	if s.deps.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Database.Ping(ctx); err != nil {
			s.logger.Error().Err(err).Msg("health ping failed")
			body["database"] = "unreachable"
			return fail(c, http.StatusServiceUnavailable, "Database unreachable", body)
		}
		body["database"] = "ok"
	}
	return success(c, body)
}
