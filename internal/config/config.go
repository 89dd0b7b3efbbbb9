package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// staleMargin is the least slack added on top of the longest possible batch.
const staleMargin = 5 * time.Minute

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"ZEKE_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"ZEKE_DB_MAX_CONNS" default:"8"`

	LLMAPIKey            string        `envconfig:"LLM_API_KEY" default:""`
	LLMEndpoint          string        `envconfig:"LLM_ENDPOINT" default:"https://api.openai.com/v1"`
	LLMChatModel         string        `envconfig:"LLM_CHAT_MODEL" default:"gpt-4o-mini"`
	LLMEmbeddingModel    string        `envconfig:"LLM_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	LLMRequestTimeout    time.Duration `envconfig:"LLM_REQUEST_TIMEOUT" default:"60s"`
	AnalysisMaxBodyChars int           `envconfig:"ANALYSIS_MAX_BODY_CHARS" default:"8000"`
	EmbeddingDimensions  int           `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	YouTubeAPIKey            string  `envconfig:"YOUTUBE_API_KEY" default:""`
	YouTubeRequestsPerSecond float64 `envconfig:"YOUTUBE_REQUESTS_PER_SECOND" default:"5"`

	VideoIngestEnabled   bool          `envconfig:"VIDEO_INGEST_ENABLED" default:"true"`
	YTDLPPath            string        `envconfig:"YTDLP_PATH" default:"yt-dlp"`
	VideoWorkDir         string        `envconfig:"VIDEO_WORK_DIR" default:"/tmp/zeke-audio"`
	VideoMetadataTimeout time.Duration `envconfig:"VIDEO_METADATA_TIMEOUT" default:"30s"`
	VideoAudioTimeout    time.Duration `envconfig:"VIDEO_AUDIO_TIMEOUT" default:"10m"`
	ExtractFetchTimeout  time.Duration `envconfig:"EXTRACT_FETCH_TIMEOUT" default:"15s"`

	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialWait time.Duration `envconfig:"RETRY_INITIAL_WAIT" default:"1s"`
	RetryMaxWait     time.Duration `envconfig:"RETRY_MAX_WAIT" default:"30s"`

	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	WorkerBatchSize    int           `envconfig:"WORKER_BATCH_SIZE" default:"5"`
	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
	// WorkerStaleAfter overrides the derived stale-job window. Zero derives it.
	WorkerStaleAfter   time.Duration `envconfig:"WORKER_STALE_AFTER" default:"0"`
	QueueRetryLimit    int           `envconfig:"QUEUE_RETRY_LIMIT" default:"3"`
	QueueRetryDelay    time.Duration `envconfig:"QUEUE_RETRY_DELAY" default:"30s"`

	ScheduleRSSCron   string `envconfig:"SCHEDULE_RSS_CRON" default:"*/15 * * * *"`
	ScheduleVideoCron string `envconfig:"SCHEDULE_VIDEO_CRON" default:"0 * * * *"`

	StatusPollInterval time.Duration `envconfig:"STATUS_POLL_INTERVAL" default:"1s"`
	StatusMaxAttempts  int           `envconfig:"STATUS_MAX_ATTEMPTS" default:"300"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("ZEKE_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("ZEKE_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("ZEKE_DB_MIN_CONNS (%d) cannot exceed ZEKE_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.LLMAPIKey != "" && strings.TrimSpace(c.LLMChatModel) == "" {
		return fmt.Errorf("LLM_CHAT_MODEL is required when LLM_API_KEY is set")
	}
	if c.AnalysisMaxBodyChars < 200 {
		return fmt.Errorf("ANALYSIS_MAX_BODY_CHARS must be >= 200")
	}
	if c.EmbeddingDimensions < 1 || c.EmbeddingDimensions > 16000 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be between 1 and 16000")
	}
	if c.YouTubeRequestsPerSecond <= 0 {
		return fmt.Errorf("YOUTUBE_REQUESTS_PER_SECOND must be > 0")
	}
	if c.VideoIngestEnabled && strings.TrimSpace(c.YTDLPPath) == "" {
		return fmt.Errorf("YTDLP_PATH is required when VIDEO_INGEST_ENABLED=true")
	}
	if c.ExtractFetchTimeout <= 0 || c.VideoMetadataTimeout <= 0 || c.VideoAudioTimeout <= 0 {
		return fmt.Errorf("extraction timeouts must be > 0")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.RetryInitialWait < 0 || c.RetryMaxWait < c.RetryInitialWait {
		return fmt.Errorf("RETRY_MAX_WAIT (%s) must be >= RETRY_INITIAL_WAIT (%s)", c.RetryMaxWait, c.RetryInitialWait)
	}
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 16 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 16")
	}
	if c.WorkerBatchSize < 1 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be >= 1")
	}
	if c.WorkerPollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be > 0")
	}
	if c.WorkerStaleAfter < 0 {
		return fmt.Errorf("WORKER_STALE_AFTER must be >= 0")
	}
	if c.WorkerStaleAfter > 0 && c.WorkerStaleAfter < c.minStaleAfter() {
		return fmt.Errorf("WORKER_STALE_AFTER (%s) is shorter than the longest possible batch (%s)", c.WorkerStaleAfter, c.minStaleAfter())
	}
	if c.QueueRetryLimit < 0 {
		return fmt.Errorf("QUEUE_RETRY_LIMIT must be >= 0")
	}
	if c.StatusPollInterval <= 0 {
		return fmt.Errorf("STATUS_POLL_INTERVAL must be > 0")
	}
	if c.StatusMaxAttempts < 1 {
		return fmt.Errorf("STATUS_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

// JobStaleAfter is how long an active job may run before the worker sweeper hands
// it out again. It covers a full batch of worst-case items plus a margin.
func (c *Config) JobStaleAfter() time.Duration {
	if c.WorkerStaleAfter > 0 {
		return c.WorkerStaleAfter
	}
	base := c.minStaleAfter()
	margin := base / 10
	if margin < staleMargin {
		margin = staleMargin
	}
	return base + margin
}

// minStaleAfter is the longest a batch can legitimately stay active: every item
// exhausting its retries at the slowest step it can reach.
func (c *Config) minStaleAfter() time.Duration {
	attempts := time.Duration(max(c.RetryMaxAttempts, 1))
	waits := (attempts - 1) * c.RetryMaxWait

	perItem := c.ExtractFetchTimeout
	if c.VideoIngestEnabled {
		perItem = max(perItem, c.VideoMetadataTimeout+attempts*c.VideoAudioTimeout+waits)
	}
	// Analysis makes a chat call and an embedding call, each retried.
	perItem = max(perItem, 2*(attempts*c.LLMRequestTimeout+waits))

	return time.Duration(max(c.WorkerBatchSize, 1)) * perItem
}

// LLMEnabled reports whether a model credential is configured.
func (c *Config) LLMEnabled() bool {
	return c != nil && strings.TrimSpace(c.LLMAPIKey) != ""
}

// VideoDiscoveryEnabled reports whether channel and search discovery can run.
func (c *Config) VideoDiscoveryEnabled() bool {
	return c != nil && c.VideoIngestEnabled && strings.TrimSpace(c.YouTubeAPIKey) != ""
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
