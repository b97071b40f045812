package dbstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// CreateDeck inserts a new pending Deck and returns its ID.
func (s *Store) CreateDeck(ctx context.Context, companyID, filename, filePath string, source DataSource) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO decks (company_id, filename, file_path, data_source, processing_status)
		 VALUES ($1, $2, $3, $4, 'pending') RETURNING id`,
		companyID, filename, filePath, source,
	).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageError, "insert deck", err)
	}
	return id, nil
}

// GetDeck fetches a Deck by ID.
func (s *Store) GetDeck(ctx context.Context, deckID int64) (*Deck, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, company_id, filename, file_path, data_source, processing_status, results_file_path, created_at
		 FROM decks WHERE id = $1`, deckID)
	var d Deck
	if err := row.Scan(&d.ID, &d.CompanyID, &d.Filename, &d.FilePath, &d.DataSource, &d.ProcessingStatus, &d.ResultsFilePath, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, fmt.Sprintf("deck %d not found", deckID))
		}
		return nil, apperr.Wrap(apperr.Internal, "scan deck", err)
	}
	return &d, nil
}

// SetDeckStatus transitions processing_status. It is the orchestrator's
// exclusive write path outside of the callback handlers.
func (s *Store) SetDeckStatus(ctx context.Context, deckID int64, status ProcessingStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE decks SET processing_status = $2 WHERE id = $1`, deckID, status)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "update deck status", err)
	}
	return nil
}

// CompleteDeck sets the deck to completed (or failed) and records the
// results file path. This is the terminal-state writer invoked by the
// update-deck-results callback (§6.3); it is last-write-wins and safe to
// retry.
func (s *Store) CompleteDeck(ctx context.Context, deckID int64, resultsFilePath string, status ProcessingStatus) error {
	var path *string
	if status == StatusCompleted {
		path = &resultsFilePath
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE decks SET processing_status = $2, results_file_path = $3 WHERE id = $1`,
		deckID, status, path,
	)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "complete deck", err)
	}
	return nil
}

// MarkVisualCompleteIfProcessing transitions a deck to visual_complete only
// if it is currently processing — used by cache-visual-analysis (§6.3),
// which must not regress a deck that has already completed or failed.
func (s *Store) MarkVisualCompleteIfProcessing(ctx context.Context, deckID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE decks SET processing_status = 'visual_complete'
		 WHERE id = $1 AND processing_status = 'processing'`, deckID)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "mark visual complete", err)
	}
	return nil
}

// EnsureProject creates the Project row for companyID if it does not
// already exist.
func (s *Store) EnsureProject(ctx context.Context, companyID, name string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (company_id, name) VALUES ($1, $2)
		 ON CONFLICT (company_id) DO NOTHING`, companyID, name)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "ensure project", err)
	}
	return nil
}

// ListDeckSummaries backs GET /api/decks (SPEC_FULL §4.9 expansion).
func (s *Store) ListDeckSummaries(ctx context.Context, companyID string) ([]DeckSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.company_id, d.filename, d.processing_status, d.created_at,
		        ds.overall_score, s.display_name
		 FROM decks d
		 LEFT JOIN deck_scores ds ON ds.deck_id = d.id
		 LEFT JOIN classification_records cr ON cr.deck_id = d.id
		 LEFT JOIN healthcare_sectors s ON s.id = cr.sector_id
		 WHERE ($1 = '' OR d.company_id = $1)
		 ORDER BY d.created_at DESC`, companyID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list deck summaries", err)
	}
	defer rows.Close()

	var out []DeckSummary
	for rows.Next() {
		var sum DeckSummary
		if err := rows.Scan(&sum.DeckID, &sum.CompanyID, &sum.Filename, &sum.Status, &sum.CreatedAt,
			&sum.OverallScore, &sum.SectorDisplayName); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan deck summary", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RecordOverallScore persists the deck's final overall_score for the
// read-model listing.
func (s *Store) RecordOverallScore(ctx context.Context, deckID int64, score float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deck_scores (deck_id, overall_score) VALUES ($1, $2)
		 ON CONFLICT (deck_id) DO UPDATE SET overall_score = EXCLUDED.overall_score`,
		deckID, score)
	if err != nil {
		return apperr.Wrap(apperr.StorageError, "record overall score", err)
	}
	return nil
}
