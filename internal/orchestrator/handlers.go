package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/dbstore"
	"github.com/halbzeit-ai/deckreview/internal/registry"
	"github.com/halbzeit-ai/deckreview/internal/storage"
	"github.com/halbzeit-ai/deckreview/internal/visual"
)

// Handlers bundles every dependency the orchestrator's HTTP surface
// needs. It is the single place that owns writes to Deck, Project,
// Prompt, and Template rows (§4.2) — the worker only ever reaches the
// decks table through the callback handlers below.
type Handlers struct {
	store     *dbstore.Store
	layout    *storage.Layout
	prompts   *registry.PromptRegistry
	templates *registry.TemplateRegistry
	dispatch  *Dispatcher
	worker    *WorkerClient
	batches   *BatchTracker
	log       zerolog.Logger
	startedAt time.Time
}

// NewHandlers builds a Handlers.
func NewHandlers(store *dbstore.Store, layout *storage.Layout, dispatch *Dispatcher, worker *WorkerClient, batches *BatchTracker, log zerolog.Logger) *Handlers {
	return &Handlers{
		store:     store,
		layout:    layout,
		prompts:   registry.NewPromptRegistry(store),
		templates: registry.NewTemplateRegistry(store),
		dispatch:  dispatch,
		worker:    worker,
		batches:   batches,
		log:       log.With().Str("subsystem", "orchestrator").Logger(),
		startedAt: time.Now(),
	}
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime_s": int(time.Since(h.startedAt).Seconds()),
	})
}

// createDeckRequest is the contract an (out-of-scope) upload endpoint
// fulfills once it has written a PDF to shared storage (§1, §4.1):
// everything downstream of "the PDF now exists at this path" is core.
type createDeckRequest struct {
	Filename  string `json:"filename"`
	DataSource string `json:"data_source"`
}

// CreateDeck handles POST /api/projects/{company_id}/decks: registers a
// Deck for an already-uploaded PDF, generates its upload path (§4.1),
// and dispatches it to the worker without blocking this request (§5).
func (h *Handlers) CreateDeck(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "company_id")
	var req createDeckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "invalid request body"))
		return
	}
	if companyID == "" || req.Filename == "" {
		writeErr(w, apperr.New(apperr.InvalidInput, "company_id and filename are required"))
		return
	}

	source := dbstore.SourceUserUpload
	if req.DataSource == string(dbstore.SourceDojoExperiment) {
		source = dbstore.SourceDojoExperiment
	}

	uploadID := uuid.NewString()
	filePath := filepath.Join("uploads", companyID, uploadID, req.Filename)

	if err := h.store.EnsureProject(r.Context(), companyID, companyID); err != nil {
		writeErr(w, err)
		return
	}
	deckID, err := h.store.CreateDeck(r.Context(), companyID, req.Filename, filePath, source)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := h.dispatch.Dispatch(r.Context(), deckID, companyID, filePath); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"deck_id":   deckID,
		"file_path": filePath,
		"status":    dbstore.StatusProcessing,
	})
}

// ListDecks handles GET /api/decks?company_id=.
func (h *Handlers) ListDecks(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	summaries, err := h.store.ListDeckSummaries(r.Context(), companyID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decks": summaries})
}

// GetDeck handles GET /api/decks/{id}.
func (h *Handlers) GetDeck(w http.ResponseWriter, r *http.Request) {
	deckID, err := parseDeckID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	deck, err := h.store.GetDeck(r.Context(), deckID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deck)
}

// GetDeckResults handles GET /api/decks/{id}/results: serves the
// authoritative result file (§6.1) referenced by the Deck row, which is
// non-null only once processing_status == completed (§3 invariant).
func (h *Handlers) GetDeckResults(w http.ResponseWriter, r *http.Request) {
	deckID, err := parseDeckID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	deck, err := h.store.GetDeck(r.Context(), deckID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if deck.ProcessingStatus != dbstore.StatusCompleted || deck.ResultsFilePath == nil {
		writeErr(w, apperr.New(apperr.Conflict, "deck has no results yet"))
		return
	}
	data, err := os.ReadFile(*deck.ResultsFilePath)
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.StorageError, "read results file", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// CacheSample handles GET /api/decks/cache-sample: the monotonicity
// probe a front-end (or the §8 test scenario) polls during a batch run.
func (h *Handlers) CacheSample(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CountCachedDecks(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cached_decks": n})
}

// DispatchBatch handles POST /api/batches: forwards a batch
// visual-analysis request to the worker (§4.9) and registers its
// accepted ids for progress tracking.
func (h *Handlers) DispatchBatch(w http.ResponseWriter, r *http.Request) {
	var req RunVisualAnalysisBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "invalid request body"))
		return
	}
	if len(req.DeckIDs) == 0 {
		writeErr(w, apperr.New(apperr.InvalidInput, "deck_ids must not be empty"))
		return
	}
	resp, err := h.worker.RunVisualAnalysisBatch(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.batches.RegisterBatch(r.Context(), resp.BatchID, resp.AcceptedIDs); err != nil {
		h.log.Warn().Err(err).Str("batch_id", resp.BatchID).Msg("failed to register batch progress tracking")
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GetBatchProgress handles GET /api/batches/{batch_id}.
func (h *Handlers) GetBatchProgress(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	accepted, completed, err := h.batches.Progress(r.Context(), batchID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": batchID, "accepted": accepted, "completed": completed,
	})
}

// UpdateDeckResults handles POST /api/internal/update-deck-results
// (§6.3): the worker's terminal-outcome callback. Last-write-wins and
// safe to retry.
func (h *Handlers) UpdateDeckResults(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeckID          int64    `json:"deck_id"`
		ResultsFilePath string   `json:"results_file_path"`
		Status          string   `json:"status"`
		OverallScore    *float64 `json:"overall_score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "invalid request body"))
		return
	}
	status := dbstore.ProcessingStatus(req.Status)
	if status != dbstore.StatusCompleted && status != dbstore.StatusFailed {
		writeErr(w, apperr.New(apperr.InvalidInput, "status must be completed or failed"))
		return
	}
	if err := h.store.CompleteDeck(r.Context(), req.DeckID, req.ResultsFilePath, status); err != nil {
		writeErr(w, err)
		return
	}
	if status == dbstore.StatusCompleted && req.OverallScore != nil {
		if err := h.store.RecordOverallScore(r.Context(), req.DeckID, *req.OverallScore); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// CacheVisualAnalysis handles POST
// /api/internal/cache-visual-analysis (§6.3): the worker's progressive
// per-deck callback. UPSERT semantics make this safe to call twice with
// the same payload (§8 idempotence property).
func (h *Handlers) CacheVisualAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeckID        int64                `json:"deck_id"`
		VisualResults []visual.SlideResult `json:"visual_results"`
		VisionModel   string               `json:"vision_model"`
		PromptUsed    string               `json:"prompt_used"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "invalid request body"))
		return
	}
	payload, err := json.Marshal(req.VisualResults)
	if err != nil {
		writeErr(w, apperr.Wrap(apperr.Internal, "marshal visual results", err))
		return
	}
	promptHash := sha256Hex(req.PromptUsed)
	if err := h.store.UpsertVisualAnalysisCache(r.Context(), req.DeckID, req.VisionModel, promptHash, payload); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.store.MarkVisualCompleteIfProcessing(r.Context(), req.DeckID); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.batches.MarkDeckCached(r.Context(), req.DeckID); err != nil {
		h.log.Warn().Err(err).Int64("deck_id", req.DeckID).Msg("failed to record batch progress")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetPrompt handles GET /api/prompts/{stage}.
func (h *Handlers) GetPrompt(w http.ResponseWriter, r *http.Request) {
	stage := dbstore.PromptStage(chi.URLParam(r, "stage"))
	text, err := h.prompts.GetPrompt(r.Context(), stage)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stage_name": string(stage), "prompt_text": text})
}

// SetPrompt handles PUT /api/prompts/{stage}.
func (h *Handlers) SetPrompt(w http.ResponseWriter, r *http.Request) {
	stage := dbstore.PromptStage(chi.URLParam(r, "stage"))
	var req struct {
		PromptText string `json:"prompt_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.InvalidInput, "invalid request body"))
		return
	}
	if err := h.prompts.SetPrompt(r.Context(), stage, req.PromptText); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ResetPrompt handles POST /api/prompts/{stage}/reset.
func (h *Handlers) ResetPrompt(w http.ResponseWriter, r *http.Request) {
	stage := dbstore.PromptStage(chi.URLParam(r, "stage"))
	if err := h.prompts.ResetPrompt(r.Context(), stage); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListSectors handles GET /api/sectors.
func (h *Handlers) ListSectors(w http.ResponseWriter, r *http.Request) {
	sectors, err := h.templates.ListSectors(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sectors": sectors})
}

// ListTemplates handles GET /api/templates?sector_id=.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	var sectorID *int64
	if v := r.URL.Query().Get("sector_id"); v != "" {
		id, err := parseInt64(v)
		if err != nil {
			writeErr(w, apperr.New(apperr.InvalidInput, "invalid sector_id"))
			return
		}
		sectorID = &id
	}
	templates, err := h.templates.ListTemplates(r.Context(), sectorID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func writeErr(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, apperr.HTTPStatus(kind), map[string]string{
		"error": string(kind), "message": err.Error(),
	})
}

func parseDeckID(r *http.Request) (int64, error) {
	return parseInt64(chi.URLParam(r, "id"))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func parseInt64(s string) (int64, error) {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, apperr.New(apperr.InvalidInput, "expected a decimal integer")
		}
		n = n*10 + int64(c-'0')
	}
	if s == "" {
		return 0, apperr.New(apperr.InvalidInput, "missing id")
	}
	return n, nil
}
