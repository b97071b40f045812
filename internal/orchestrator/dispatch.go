package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/dbstore"
)

// Dispatcher implements the orchestrator's half of §4.9's dispatch
// contract: flip an already-stored deck to processing, then call the
// worker *without* blocking the request goroutine that
// triggered it (§5: "a synchronous outbound call of multi-minute
// duration is a defect because it freezes unrelated requests").
type Dispatcher struct {
	decks  *dbstore.Store
	worker *WorkerClient
	log    zerolog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(decks *dbstore.Store, worker *WorkerClient, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{decks: decks, worker: worker, log: log.With().Str("subsystem", "dispatcher").Logger()}
}

// Dispatch transitions deckID to processing and hands it to the worker
// on a detached goroutine. It returns as soon as the status transition
// is durable; the caller (an HTTP handler) is free to respond to its
// own client immediately afterward. The eventual outcome reaches the
// decks table only through the worker's update-deck-results callback —
// Dispatch itself never learns whether the run succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, deckID int64, companyID, filePath string) error {
	if err := d.decks.SetDeckStatus(ctx, deckID, dbstore.StatusProcessing); err != nil {
		return err
	}

	go func() {
		// Detached from the request context: the HTTP handler that
		// triggered this has already responded by the time a 30-page
		// deck finishes. A fresh background context with its own
		// generous deadline is what §5's "timeout >= 5 min per deck"
		// budget is measured against.
		bgCtx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
		defer cancel()

		resp, err := d.worker.ProcessPDF(bgCtx, ProcessPDFRequest{
			DeckID: deckID, FilePath: filePath, CompanyID: companyID,
		})
		if err != nil {
			d.log.Error().Err(err).Int64("deck_id", deckID).Msg("process-pdf dispatch failed")
			return
		}
		if !resp.Success {
			d.log.Warn().Int64("deck_id", deckID).Str("message", resp.Message).Msg("process-pdf reported failure")
		}
	}()
	return nil
}
