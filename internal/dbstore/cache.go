package dbstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// UpsertVisualAnalysisCache writes (or overwrites) the cache row for
// (deckID, visionModel, promptHash). Called by the worker when visual
// analysis completes, and by the orchestrator's cache-visual-analysis
// callback handler (§6.3) — both paths funnel through this single UPSERT
// so "calling it twice with the same payload leaves exactly one row"
// (§8) holds regardless of caller.
func (s *Store) UpsertVisualAnalysisCache(ctx context.Context, deckID int64, visionModel, promptHash string, resultJSON []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO visual_analysis_cache (deck_id, vision_model, prompt_hash, analysis_result_json)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (deck_id, vision_model, prompt_hash)
		 DO UPDATE SET analysis_result_json = EXCLUDED.analysis_result_json, created_at = visual_analysis_cache.created_at`,
		deckID, visionModel, promptHash, resultJSON,
	)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "upsert visual analysis cache", err)
	}
	return nil
}

// GetVisualAnalysisCache looks up a cache row, returning (nil, nil) on miss.
func (s *Store) GetVisualAnalysisCache(ctx context.Context, deckID int64, visionModel, promptHash string) (*VisualAnalysisCache, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT deck_id, vision_model, prompt_hash, analysis_result_json, created_at
		 FROM visual_analysis_cache WHERE deck_id = $1 AND vision_model = $2 AND prompt_hash = $3`,
		deckID, visionModel, promptHash)
	var c VisualAnalysisCache
	if err := row.Scan(&c.DeckID, &c.VisionModel, &c.PromptHash, &c.AnalysisResultJSON, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Internal, "scan visual analysis cache", err)
	}
	return &c, nil
}

// CountCachedDecks returns how many distinct decks currently have a cache
// row — served by the orchestrator's GET /api/decks/cache-sample probe
// for observing the batch monotonicity property (§8).
func (s *Store) CountCachedDecks(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT deck_id) FROM visual_analysis_cache`).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "count cached decks", err)
	}
	return n, nil
}
