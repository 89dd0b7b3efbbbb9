package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// RawItemInput is one discovered item to persist.
type RawItemInput struct {
	SourceID    int64
	ExternalID  string
	URL         string
	Title       string
	Kind        string
	Metadata    map[string]any
	PublishedAt *time.Time
}

// RawItemRecord is the read model used by the extractor.
type RawItemRecord struct {
	RawItemID    int64
	SourceID     int64
	SourceKind   string
	ExternalID   string
	URL          string
	Title        string
	Kind         string
	Metadata     datatypes.JSONMap
	PublishedAt  *time.Time
	DiscoveredAt time.Time
}

// InsertRawItem inserts a raw item unless (source_id, external_id) already exists.
// The returned bool is false for a conflicting insert and the id is zero.
func (p *Pool) InsertRawItem(ctx context.Context, in RawItemInput) (int64, bool, error) {
	externalID := strings.TrimSpace(in.ExternalID)
	if in.SourceID <= 0 || externalID == "" {
		return 0, false, fmt.Errorf("raw item requires source_id and external_id")
	}
	kind := in.Kind
	if kind == "" {
		kind = ItemKindArticle
	}
	metadata := datatypes.JSONMap(in.Metadata)
	if metadata == nil {
		metadata = datatypes.JSONMap{}
	}

	const q = `
INSERT INTO zeke.raw_items (
	source_id,
	external_id,
	url,
	title,
	kind,
	metadata,
	published_at
)
VALUES ($1, $2, $3, $4, $5::zeke.item_kind, $6, $7)
ON CONFLICT (source_id, external_id) DO NOTHING
RETURNING raw_item_id
`
	var rawItemID int64
	err := p.QueryRow(ctx, q,
		in.SourceID,
		externalID,
		strings.TrimSpace(in.URL),
		strings.TrimSpace(in.Title),
		kind,
		metadata,
		in.PublishedAt,
	).Scan(&rawItemID)
	if err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert raw item source_id=%d external_id=%s: %w", in.SourceID, externalID, err)
	}
	return rawItemID, true, nil
}

// FindRawItemID returns the id of an existing (source_id, external_id) row.
func (p *Pool) FindRawItemID(ctx context.Context, sourceID int64, externalID string) (int64, error) {
	const q = `SELECT raw_item_id FROM zeke.raw_items WHERE source_id = $1 AND external_id = $2`
	var rawItemID int64
	if err := p.QueryRow(ctx, q, sourceID, strings.TrimSpace(externalID)).Scan(&rawItemID); err != nil {
		return 0, err
	}
	return rawItemID, nil
}

// GetRawItem loads a raw item together with its source kind.
func (p *Pool) GetRawItem(ctx context.Context, rawItemID int64) (RawItemRecord, error) {
	const q = `
SELECT
	ri.raw_item_id,
	ri.source_id,
	s.kind::text,
	ri.external_id,
	ri.url,
	ri.title,
	ri.kind::text,
	ri.metadata,
	ri.published_at,
	ri.discovered_at
FROM zeke.raw_items ri
JOIN zeke.sources s ON s.source_id = ri.source_id
WHERE ri.raw_item_id = $1
`
	var rec RawItemRecord
	err := p.QueryRow(ctx, q, rawItemID).Scan(
		&rec.RawItemID,
		&rec.SourceID,
		&rec.SourceKind,
		&rec.ExternalID,
		&rec.URL,
		&rec.Title,
		&rec.Kind,
		&rec.Metadata,
		&rec.PublishedAt,
		&rec.DiscoveredAt,
	)
	if err != nil {
		return RawItemRecord{}, err
	}
	return rec, nil
}

// ListUnqueuedRawItems returns raw items of a source that have no content row and
// were never referenced by a job, oldest first. These are items whose extraction
// enqueue failed after the insert committed.
func (p *Pool) ListUnqueuedRawItems(ctx context.Context, sourceID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ri.raw_item_id
FROM zeke.raw_items ri
WHERE ri.source_id = $1
	AND NOT EXISTS (SELECT 1 FROM zeke.contents c WHERE c.raw_item_id = ri.raw_item_id)
	AND NOT EXISTS (SELECT 1 FROM zeke.jobs j WHERE j.ref = 'raw_item:' || ri.raw_item_id::text)
ORDER BY ri.raw_item_id
LIMIT $2
`
	rows, err := p.Query(ctx, q, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unqueued raw items source_id=%d: %w", sourceID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
