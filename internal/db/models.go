package db

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SourceKindRSS          = "rss"
	SourceKindVideoChannel = "video_channel"
	SourceKindVideoSearch  = "video_search"
	SourceKindManual       = "manual"

	ItemKindArticle = "article"
	ItemKindVideo   = "video"

	HealthOK    = "ok"
	HealthError = "error"
)

// Source maps zeke.sources.
type Source struct {
	SourceID  int64             `gorm:"column:source_id;primaryKey;autoIncrement"`
	Kind      string            `gorm:"column:kind;type:zeke.source_kind;not null"`
	URL       string            `gorm:"column:url;type:text;not null"`
	Name      string            `gorm:"column:name;type:text;not null;default:''"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'"`
	Active    bool              `gorm:"column:active;type:boolean;not null;default:true"`
	CreatedAt time.Time         `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time         `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "zeke.sources" }

// SourceHealth maps zeke.source_health. One row per source, last write wins.
type SourceHealth struct {
	SourceID      int64     `gorm:"column:source_id;type:bigint;primaryKey"`
	Status        string    `gorm:"column:status;type:zeke.health_status;not null"`
	LastCheckedAt time.Time `gorm:"column:last_checked_at;type:timestamptz;not null"`
	LastError     *string   `gorm:"column:last_error;type:text"`
}

func (SourceHealth) TableName() string { return "zeke.source_health" }

// RawItem maps zeke.raw_items.
type RawItem struct {
	RawItemID    int64             `gorm:"column:raw_item_id;primaryKey;autoIncrement"`
	SourceID     int64             `gorm:"column:source_id;type:bigint;not null"`
	ExternalID   string            `gorm:"column:external_id;type:text;not null"`
	URL          string            `gorm:"column:url;type:text;not null"`
	Title        string            `gorm:"column:title;type:text;not null;default:''"`
	Kind         string            `gorm:"column:kind;type:zeke.item_kind;not null"`
	Metadata     datatypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'"`
	PublishedAt  *time.Time        `gorm:"column:published_at;type:timestamptz"`
	DiscoveredAt time.Time         `gorm:"column:discovered_at;type:timestamptz;not null;default:now()"`
}

func (RawItem) TableName() string { return "zeke.raw_items" }

// Content maps zeke.contents.
type Content struct {
	ContentID   int64             `gorm:"column:content_id;primaryKey;autoIncrement"`
	RawItemID   int64             `gorm:"column:raw_item_id;type:bigint;not null;unique"`
	Title       string            `gorm:"column:title;type:text;not null;default:''"`
	Text        string            `gorm:"column:text;type:text;not null"`
	HTMLURL     *string           `gorm:"column:html_url;type:text"`
	Lang        string            `gorm:"column:lang;type:text;not null;default:und"`
	ContentHash string            `gorm:"column:content_hash;type:text;not null"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata;type:jsonb;not null;default:'{}'"`
	CreatedAt   time.Time         `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Content) TableName() string { return "zeke.contents" }

// Story maps zeke.stories.
type Story struct {
	StoryID      int64      `gorm:"column:story_id;primaryKey;autoIncrement"`
	ContentID    int64      `gorm:"column:content_id;type:bigint;not null"`
	ContentHash  string     `gorm:"column:content_hash;type:text;not null;unique"`
	Title        string     `gorm:"column:title;type:text;not null"`
	Kind         string     `gorm:"column:kind;type:zeke.item_kind;not null"`
	CanonicalURL *string    `gorm:"column:canonical_url;type:text"`
	PrimaryURL   string     `gorm:"column:primary_url;type:text;not null"`
	PublishedAt  *time.Time `gorm:"column:published_at;type:timestamptz"`
	CreatedAt    time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Story) TableName() string { return "zeke.stories" }

// StoryOverlay maps zeke.story_overlays.
type StoryOverlay struct {
	StoryID      int64             `gorm:"column:story_id;type:bigint;primaryKey"`
	WhyItMatters string            `gorm:"column:why_it_matters;type:text;not null"`
	Chili        int               `gorm:"column:chili;type:smallint;not null"`
	Confidence   float64           `gorm:"column:confidence;type:double precision;not null"`
	Citations    datatypes.JSONMap `gorm:"column:citations;type:jsonb;not null;default:'{}'"`
	ModelVersion string            `gorm:"column:model_version;type:text;not null"`
	AnalyzedAt   time.Time         `gorm:"column:analyzed_at;type:timestamptz;not null;default:now()"`
}

func (StoryOverlay) TableName() string { return "zeke.story_overlays" }

// StoryEmbedding maps zeke.story_embeddings.
type StoryEmbedding struct {
	StoryID      int64     `gorm:"column:story_id;type:bigint;primaryKey"`
	Embedding    string    `gorm:"column:embedding;type:vector;not null"`
	Dimensions   int       `gorm:"column:dimensions;type:integer;not null"`
	ModelVersion string    `gorm:"column:model_version;type:text;not null"`
	EmbeddedAt   time.Time `gorm:"column:embedded_at;type:timestamptz;not null;default:now()"`
}

func (StoryEmbedding) TableName() string { return "zeke.story_embeddings" }

// Job maps zeke.jobs, the durable queue.
type Job struct {
	JobID             string            `gorm:"column:job_id;type:uuid;primaryKey"`
	Topic             string            `gorm:"column:topic;type:text;not null"`
	Payload           datatypes.JSONMap `gorm:"column:payload;type:jsonb;not null;default:'{}'"`
	State             string            `gorm:"column:state;type:zeke.job_state;not null;default:created"`
	Ref               *string           `gorm:"column:ref;type:text"`
	RetryCount        int               `gorm:"column:retry_count;type:integer;not null;default:0"`
	RetryLimit        int               `gorm:"column:retry_limit;type:integer;not null;default:3"`
	RetryDelaySeconds int               `gorm:"column:retry_delay_seconds;type:integer;not null;default:30"`
	StartAfter        time.Time         `gorm:"column:start_after;type:timestamptz;not null;default:now()"`
	StartedAt         *time.Time        `gorm:"column:started_at;type:timestamptz"`
	CompletedAt       *time.Time        `gorm:"column:completed_at;type:timestamptz"`
	Output            datatypes.JSONMap `gorm:"column:output;type:jsonb"`
	LastError         *string           `gorm:"column:last_error;type:text"`
	CreatedAt         time.Time         `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Job) TableName() string { return "zeke.jobs" }

// JobSchedule maps zeke.job_schedules.
type JobSchedule struct {
	Topic     string            `gorm:"column:topic;type:text;primaryKey"`
	Name      string            `gorm:"column:name;type:text;primaryKey"`
	Cron      string            `gorm:"column:cron;type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"column:payload;type:jsonb;not null;default:'{}'"`
	UpdatedAt time.Time         `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (JobSchedule) TableName() string { return "zeke.job_schedules" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&SourceHealth{},
		&RawItem{},
		&Content{},
		&Story{},
		&StoryOverlay{},
		&StoryEmbedding{},
		&Job{},
		&JobSchedule{},
	}
}
