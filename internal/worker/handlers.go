// Package worker implements the GPU worker's HTTP surface (§4.9, §5):
// model management, the synchronous full-pipeline endpoint, and the
// batch visual-only-analysis endpoint. The worker never writes a Deck
// row itself — every outcome reaches the orchestrator through
// internal/callback.
package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/callback"
	"github.com/halbzeit-ai/deckreview/internal/dbstore"
	"github.com/halbzeit-ai/deckreview/internal/jobqueue"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
	"github.com/halbzeit-ai/deckreview/internal/pipeline"
	"github.com/halbzeit-ai/deckreview/internal/registry"
	"github.com/halbzeit-ai/deckreview/internal/storage"
	"github.com/halbzeit-ai/deckreview/internal/visual"
)

// Handlers bundles the worker's dependencies.
type Handlers struct {
	adapter   modelrt.Adapter
	runner    *pipeline.Runner
	cb        *callback.Client
	decks     *dbstore.Store
	prompts   *registry.PromptRegistry
	layout    *storage.Layout
	exec      *jobqueue.Executor
	visionModel string
	numCtx    int
	log       zerolog.Logger
	startedAt time.Time
}

// NewHandlers builds a Handlers.
func NewHandlers(
	adapter modelrt.Adapter,
	runner *pipeline.Runner,
	cb *callback.Client,
	decks *dbstore.Store,
	prompts *registry.PromptRegistry,
	layout *storage.Layout,
	exec *jobqueue.Executor,
	visionModel string,
	numCtx int,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		adapter: adapter, runner: runner, cb: cb, decks: decks,
		prompts: prompts, layout: layout, exec: exec,
		visionModel: visionModel,
		numCtx:      numCtx,
		log:         log.With().Str("subsystem", "worker").Logger(),
		startedAt:   time.Now(),
	}
}

// Health handles GET /api/health (§4.9: reports model-loaded state so the
// orchestrator can tell a cold worker from a dead one).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	models, err := h.adapter.ListModels(r.Context())
	loaded := 0
	if err == nil {
		loaded = len(models)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"uptime_s":     int(time.Since(h.startedAt).Seconds()),
		"models_loaded": loaded,
	})
}

// ListModels handles GET /api/models.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.adapter.ListModels(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// PullModel handles POST /api/models/{name}.
func (h *Handlers) PullModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.adapter.PullModel(r.Context(), name); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DeleteModel handles DELETE /api/models/{name}.
func (h *Handlers) DeleteModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.adapter.DeleteModel(r.Context(), name); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type processPDFRequest struct {
	DeckID    int64  `json:"deck_id"`
	FilePath  string `json:"file_path"`
	CompanyID string `json:"company_id"`
}

// ProcessPDF handles POST /api/process-pdf: the worker's synchronous
// full-pipeline entry point (§4.9). Only one of these (or one batch
// run) executes at a time (§5) — a second concurrent call is rejected
// immediately with 409 rather than queued. The orchestrator's
// Dispatcher logs that rejection and does not re-dispatch the deck.
func (h *Handlers) ProcessPDF(w http.ResponseWriter, r *http.Request) {
	var req processPDFRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "invalid request body"))
		return
	}

	release, ok, err := h.exec.TryAcquireDeck(r.Context(), req.DeckID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false, "error": "busy", "message": "a job is already running",
		})
		return
	}
	defer release()

	resultsPath, err := h.runner.RunDeck(r.Context(), pipeline.ProcessPDFParams{
		DeckID: req.DeckID, CompanyID: req.CompanyID,
		Filename:       storage.FilenameFromPath(req.FilePath),
		PDFPath:        req.FilePath,
		TemplatePolicy: dbstore.PolicySectorClassified,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false, "error": string(apperr.KindOf(err)), "message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "results_file_path": resultsPath,
	})
}

type batchRequest struct {
	DeckIDs     []int64 `json:"deck_ids"`
	VisionModel string  `json:"vision_model"`
	ImagePrompt string  `json:"image_prompt"`
}

// RunVisualAnalysisBatch handles POST /api/run-visual-analysis-batch
// (§4.9): accepts a batch of decks for visual-only analysis, returns
// immediately, and processes each deck in a background goroutine,
// reporting progress one deck at a time via cache-visual-analysis
// callbacks (§4.4 step 5's progressive-cache design).
func (h *Handlers) RunVisualAnalysisBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "invalid request body"))
		return
	}
	if len(req.DeckIDs) == 0 {
		writeErr(w, apperr.New(apperr.InvalidInput, "deck_ids must not be empty"))
		return
	}

	batchID := uuid.NewString()
	visionModel := req.VisionModel
	if visionModel == "" {
		visionModel = h.visionModel
	}
	imagePrompt := req.ImagePrompt
	if imagePrompt == "" {
		if p, err := h.prompts.GetPrompt(r.Context(), dbstore.StageImageAnalysis); err == nil {
			imagePrompt = p
		}
	}

	release, ok := h.exec.TryAcquireBatch(r.Context(), batchID)
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "busy", "message": "a batch run is already in progress",
		})
		return
	}

	go func() {
		defer release()
		bgCtx := context.Background()
		h.runBatch(bgCtx, req.DeckIDs, visionModel, imagePrompt)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":     batchID,
		"accepted_ids": req.DeckIDs,
	})
}

func (h *Handlers) runBatch(ctx context.Context, deckIDs []int64, visionModel, imagePrompt string) {
	for _, deckID := range deckIDs {
		deck, err := h.decks.GetDeck(ctx, deckID)
		if err != nil {
			h.log.Error().Err(err).Int64("deck_id", deckID).Msg("batch: failed to load deck")
			continue
		}

		analyzer := visual.NewAnalyzer(h.adapter, noopCacheStore{}, h.layout, h.log)
		result, err := analyzer.Run(ctx, visual.Params{
			DeckID: deckID, CompanyID: deck.CompanyID,
			DeckSlug:    storage.DeckSlug(deck.Filename),
			PDFPath:     deck.FilePath,
			VisionModel: visionModel,
			ImagePrompt: imagePrompt,
			NumCtx:      h.numCtx,
		})
		if err != nil {
			h.log.Error().Err(err).Int64("deck_id", deckID).Msg("batch: visual analysis failed")
			continue
		}

		if err := h.cb.CacheVisualAnalysis(ctx, callback.CacheVisualAnalysisRequest{
			DeckID: deckID, VisualResults: result.Slides,
			VisionModel: visionModel, PromptUsed: imagePrompt,
		}); err != nil {
			h.log.Error().Err(err).Int64("deck_id", deckID).Msg("batch: cache-visual-analysis callback failed")
		}
	}
}

// noopCacheStore satisfies visual.CacheStore for batch runs: the
// worker's visual.Analyzer is built per the session-scoped contract
// (§4.4), but cache persistence for batch mode flows exclusively
// through the cache-visual-analysis callback above rather than a
// second, redundant direct write.
type noopCacheStore struct{}

func (noopCacheStore) UpsertVisualAnalysisCache(ctx context.Context, deckID int64, visionModel, promptHash string, resultJSON []byte) error {
	return nil
}

func writeErr(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, apperr.HTTPStatus(kind), map[string]string{
		"error": string(kind), "message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
