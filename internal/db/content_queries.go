package db

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// ContentInput is the extracted text for one raw item.
type ContentInput struct {
	RawItemID   int64
	Title       string
	Text        string
	HTMLURL     *string
	Lang        string
	ContentHash string
	Metadata    map[string]any
}

// StoredContent is the content row that backs a raw item.
type StoredContent struct {
	ContentID   int64
	Title       string
	ContentHash string
}

// InsertContent stores extracted content once per raw item. When the raw item
// already has content the existing row is returned unchanged and the bool is false.
func (p *Pool) InsertContent(ctx context.Context, in ContentInput) (StoredContent, bool, error) {
	if in.RawItemID <= 0 {
		return StoredContent{}, false, fmt.Errorf("content requires raw_item_id")
	}
	if strings.TrimSpace(in.ContentHash) == "" {
		return StoredContent{}, false, fmt.Errorf("content requires content_hash")
	}
	lang := strings.TrimSpace(in.Lang)
	if lang == "" {
		lang = "und"
	}
	metadata := datatypes.JSONMap(in.Metadata)
	if metadata == nil {
		metadata = datatypes.JSONMap{}
	}

	const insertQ = `
INSERT INTO zeke.contents (
	raw_item_id,
	title,
	text,
	html_url,
	lang,
	content_hash,
	metadata
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (raw_item_id) DO NOTHING
RETURNING content_id, title, content_hash
`
	var stored StoredContent
	err := p.QueryRow(ctx, insertQ,
		in.RawItemID,
		strings.TrimSpace(in.Title),
		in.Text,
		in.HTMLURL,
		lang,
		in.ContentHash,
		metadata,
	).Scan(&stored.ContentID, &stored.Title, &stored.ContentHash)
	if err == nil {
		return stored, true, nil
	}
	if !IsNoRows(err) {
		return StoredContent{}, false, fmt.Errorf("insert content raw_item_id=%d: %w", in.RawItemID, err)
	}

	const existingQ = `SELECT content_id, title, content_hash FROM zeke.contents WHERE raw_item_id = $1`
	if err := p.QueryRow(ctx, existingQ, in.RawItemID).Scan(&stored.ContentID, &stored.Title, &stored.ContentHash); err != nil {
		return StoredContent{}, false, fmt.Errorf("load content raw_item_id=%d: %w", in.RawItemID, err)
	}
	return stored, false, nil
}
