// Package orchestrator implements the orchestrator node's HTTP surface:
// deck dispatch (§4.9), query endpoints over the decks table, and the
// two internal callback handlers the worker posts to (§6.3).
package orchestrator

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// BatchTracker records which deck ids were accepted into a batch visual
// run and which of those have since produced a cache row, so a
// front-end polling BATCH_POLL_INTERVAL_S can watch progress without a
// dedicated batches table. Grounded on redisclient.Client's shape (a
// thin wrapper over *redis.Client), repurposed here from a connectivity
// check into the actual progress store the cache-visual-analysis
// callback writes into.
type BatchTracker struct {
	rdb *redis.Client
}

// NewBatchTracker wraps an already-connected redis.Client.
func NewBatchTracker(rdb *redis.Client) *BatchTracker {
	return &BatchTracker{rdb: rdb}
}

func acceptedKey(batchID string) string { return "deckreview:batch:" + batchID + ":accepted" }

const cachedDecksKey = "deckreview:decks:cached"

// RegisterBatch records the deck ids a batch run accepted.
func (t *BatchTracker) RegisterBatch(ctx context.Context, batchID string, deckIDs []int64) error {
	if t.rdb == nil || len(deckIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(deckIDs))
	for i, id := range deckIDs {
		members[i] = id
	}
	if err := t.rdb.SAdd(ctx, acceptedKey(batchID), members...).Err(); err != nil {
		return apperr.Wrap(apperr.Internal, "register batch", err)
	}
	return nil
}

// MarkDeckCached records that deckID now has a visual analysis cache
// row, advancing the progress of every batch that contains it. Called
// from the cache-visual-analysis callback handler.
func (t *BatchTracker) MarkDeckCached(ctx context.Context, deckID int64) error {
	if t.rdb == nil {
		return nil
	}
	if err := t.rdb.SAdd(ctx, cachedDecksKey, deckID).Err(); err != nil {
		return apperr.Wrap(apperr.Internal, "mark deck cached", err)
	}
	return nil
}

// Progress reports how many of a batch's accepted deck ids have
// produced a cache row so far (§8: "count of cached decks over time is
// non-decreasing" observed per-batch).
func (t *BatchTracker) Progress(ctx context.Context, batchID string) (accepted, completed int, err error) {
	if t.rdb == nil {
		return 0, 0, nil
	}
	ids, err := t.rdb.SMembers(ctx, acceptedKey(batchID)).Result()
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.Internal, "read batch accepted set", err)
	}
	accepted = len(ids)
	if accepted == 0 {
		return 0, 0, nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	hits, err := t.rdb.SMIsMember(ctx, cachedDecksKey, members...).Result()
	if err != nil {
		return accepted, 0, apperr.Wrap(apperr.Internal, "check cached membership", err)
	}
	for _, hit := range hits {
		if hit {
			completed++
		}
	}
	return accepted, completed, nil
}
