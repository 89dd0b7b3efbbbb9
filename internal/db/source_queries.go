package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// SourceInput is the write model for admin source creation.
type SourceInput struct {
	Kind     string
	URL      string
	Name     string
	Metadata map[string]any
}

// SourceRecord is the read model used by discovery and the HTTP API.
type SourceRecord struct {
	SourceID  int64             `json:"source_id"`
	Kind      string            `json:"kind"`
	URL       string            `json:"url"`
	Name      string            `json:"name"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SourceHealthRecord is the latest discovery outcome for one source.
type SourceHealthRecord struct {
	SourceID      int64     `json:"source_id"`
	Status        string    `json:"status"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	LastError     *string   `json:"last_error,omitempty"`
}

const sourceColumns = `
	source_id,
	kind::text,
	url,
	name,
	metadata,
	active,
	created_at,
	updated_at`

// UpsertSource creates a source, or refreshes name and metadata when (kind, url) exists.
func (p *Pool) UpsertSource(ctx context.Context, in SourceInput) (SourceRecord, bool, error) {
	kind := strings.TrimSpace(in.Kind)
	sourceURL := strings.TrimSpace(in.URL)
	if kind == "" || sourceURL == "" {
		return SourceRecord{}, false, fmt.Errorf("source kind and url are required")
	}
	metadata := datatypes.JSONMap(in.Metadata)
	if metadata == nil {
		metadata = datatypes.JSONMap{}
	}

	q := `
INSERT INTO zeke.sources (kind, url, name, metadata)
VALUES ($1::zeke.source_kind, $2, $3, $4)
ON CONFLICT (kind, url) DO UPDATE SET
	name = COALESCE(NULLIF(EXCLUDED.name, ''), zeke.sources.name),
	metadata = EXCLUDED.metadata,
	active = TRUE,
	updated_at = now()
RETURNING` + sourceColumns + `,
	(xmax = 0) AS inserted
`

	var rec SourceRecord
	var inserted bool
	err := p.QueryRow(ctx, q, kind, sourceURL, strings.TrimSpace(in.Name), metadata).Scan(
		&rec.SourceID,
		&rec.Kind,
		&rec.URL,
		&rec.Name,
		&rec.Metadata,
		&rec.Active,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return SourceRecord{}, false, fmt.Errorf("upsert source kind=%s url=%s: %w", kind, sourceURL, err)
	}
	return rec, inserted, nil
}

// EnsureManualSource resolves or creates the manual source that owns one-off URLs for a domain.
func (p *Pool) EnsureManualSource(ctx context.Context, domain, itemKind string) (int64, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return 0, fmt.Errorf("manual source domain is required")
	}
	sourceURL := "manual://" + domain

	const insertQ = `
INSERT INTO zeke.sources (kind, url, name, metadata)
VALUES ('manual', $1, $2, jsonb_build_object('item_kind', $3::text))
ON CONFLICT (kind, url) DO NOTHING
RETURNING source_id
`
	var sourceID int64
	err := p.QueryRow(ctx, insertQ, sourceURL, domain, itemKind).Scan(&sourceID)
	if err == nil {
		return sourceID, nil
	}
	if !IsNoRows(err) {
		return 0, fmt.Errorf("insert manual source domain=%s: %w", domain, err)
	}

	const selectQ = `SELECT source_id FROM zeke.sources WHERE kind = 'manual' AND url = $1`
	if err := p.QueryRow(ctx, selectQ, sourceURL).Scan(&sourceID); err != nil {
		return 0, fmt.Errorf("select manual source domain=%s: %w", domain, err)
	}
	return sourceID, nil
}

// GetSource loads one source by id.
func (p *Pool) GetSource(ctx context.Context, sourceID int64) (SourceRecord, error) {
	q := `SELECT` + sourceColumns + ` FROM zeke.sources WHERE source_id = $1`

	var rec SourceRecord
	err := p.QueryRow(ctx, q, sourceID).Scan(
		&rec.SourceID,
		&rec.Kind,
		&rec.URL,
		&rec.Name,
		&rec.Metadata,
		&rec.Active,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return SourceRecord{}, err
	}
	return rec, nil
}

// ListActiveSources lists active sources of one kind ordered by id.
func (p *Pool) ListActiveSources(ctx context.Context, kind string) ([]SourceRecord, error) {
	q := `SELECT` + sourceColumns + `
FROM zeke.sources
WHERE kind = $1::zeke.source_kind AND active
ORDER BY source_id
`
	rows, err := p.Query(ctx, q, kind)
	if err != nil {
		return nil, fmt.Errorf("query active sources kind=%s: %w", kind, err)
	}
	defer rows.Close()

	out := make([]SourceRecord, 0, 16)
	for rows.Next() {
		var rec SourceRecord
		if err := rows.Scan(
			&rec.SourceID,
			&rec.Kind,
			&rec.URL,
			&rec.Name,
			&rec.Metadata,
			&rec.Active,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// UpsertSourceHealth records the latest discovery outcome for a source.
func (p *Pool) UpsertSourceHealth(ctx context.Context, sourceID int64, status string, lastError *string, checkedAt time.Time) error {
	const q = `
INSERT INTO zeke.source_health (source_id, status, last_checked_at, last_error)
VALUES ($1, $2::zeke.health_status, $3, $4)
ON CONFLICT (source_id) DO UPDATE SET
	status = EXCLUDED.status,
	last_checked_at = EXCLUDED.last_checked_at,
	last_error = EXCLUDED.last_error
`
	if _, err := p.Exec(ctx, q, sourceID, status, checkedAt.UTC(), lastError); err != nil {
		return fmt.Errorf("upsert source health source_id=%d: %w", sourceID, err)
	}
	return nil
}

// GetSourceHealth loads the health row for a source.
func (p *Pool) GetSourceHealth(ctx context.Context, sourceID int64) (SourceHealthRecord, error) {
	const q = `
SELECT source_id, status::text, last_checked_at, last_error
FROM zeke.source_health
WHERE source_id = $1
`
	var rec SourceHealthRecord
	if err := p.QueryRow(ctx, q, sourceID).Scan(&rec.SourceID, &rec.Status, &rec.LastCheckedAt, &rec.LastError); err != nil {
		return SourceHealthRecord{}, err
	}
	return rec, nil
}
