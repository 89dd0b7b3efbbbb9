// Package story maps extracted content to stories, one story per content hash.
package story

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/zeke/internal/db"
)

type store interface {
	InsertStoryIfAbsent(ctx context.Context, in db.StoryInput) (int64, bool, error)
	FindStoryIDByContentHash(ctx context.Context, contentHash string) (int64, error)
}

// Resolution is the story a content row belongs to.
type Resolution struct {
	StoryID int64
	Created bool
}

type Resolver struct {
	store  store
	logger zerolog.Logger
}

func NewResolver(st store, logger zerolog.Logger) *Resolver {
	return &Resolver{store: st, logger: logger}
}

// Resolve returns the story owning in.ContentHash, creating it when absent. An
// existing story is returned as stored; later content with the same hash never
// rewrites it.
func (r *Resolver) Resolve(ctx context.Context, in db.StoryInput) (Resolution, error) {
	if in.ContentHash == "" {
		return Resolution{}, fmt.Errorf("content hash is required")
	}

	storyID, created, err := r.store.InsertStoryIfAbsent(ctx, in)
	if err != nil {
		return Resolution{}, err
	}
	if created {
		r.logger.Debug().Int64("story_id", storyID).Int64("content_id", in.ContentID).Msg("story created")
		return Resolution{StoryID: storyID, Created: true}, nil
	}

	storyID, err = r.store.FindStoryIDByContentHash(ctx, in.ContentHash)
	if err != nil {
		return Resolution{}, fmt.Errorf("load story for content_hash=%s: %w", in.ContentHash, err)
	}
	r.logger.Debug().
		Int64("story_id", storyID).
		Int64("content_id", in.ContentID).
		Msg("content matched existing story")
	return Resolution{StoryID: storyID}, nil
}
