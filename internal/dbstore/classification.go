package dbstore

import (
	"context"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// UpsertClassificationRecord persists the outcome of §4.6 for a deck. A
// deck is classified at most once per run, but re-runs must overwrite
// cleanly.
func (s *Store) UpsertClassificationRecord(ctx context.Context, rec ClassificationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO classification_records (deck_id, sector_id, confidence, reasoning, template_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (deck_id) DO UPDATE SET
		   sector_id = EXCLUDED.sector_id,
		   confidence = EXCLUDED.confidence,
		   reasoning = EXCLUDED.reasoning,
		   template_id = EXCLUDED.template_id`,
		rec.DeckID, rec.SectorID, rec.Confidence, rec.Reasoning, rec.TemplateID,
	)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "upsert classification record", err)
	}
	return nil
}
