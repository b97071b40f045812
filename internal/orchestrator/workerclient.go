package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// WorkerClient is the orchestrator's outbound half of §4.9: the two
// requests it issues to the GPU worker. Grounded on modelrt.Client's
// shape — a single pooled http.Client plus one helper per endpoint —
// since both are "talk to one collaborator HTTP service" problems.
type WorkerClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewWorkerClient builds a WorkerClient against the GPU worker's base URL.
func NewWorkerClient(baseURL string, log zerolog.Logger) *WorkerClient {
	return &WorkerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 20 * time.Minute},
		log:     log.With().Str("subsystem", "worker_client").Logger(),
	}
}

// ProcessPDFRequest is the body of POST /api/process-pdf (§4.9).
type ProcessPDFRequest struct {
	DeckID    int64  `json:"deck_id"`
	FilePath  string `json:"file_path"`
	CompanyID string `json:"company_id"`
}

// ProcessPDFResponse is process-pdf's synchronous reply.
type ProcessPDFResponse struct {
	Success         bool   `json:"success"`
	ResultsFilePath string `json:"results_file_path,omitempty"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ProcessPDF calls the worker's synchronous full-pipeline endpoint. This
// method itself blocks for the lifetime of one deck run (minutes); §5
// requires the *caller* never do this inline on a request goroutine that
// must stay responsive — see Dispatcher.Dispatch, which always invokes
// this from a detached goroutine.
func (c *WorkerClient) ProcessPDF(ctx context.Context, req ProcessPDFRequest) (*ProcessPDFResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal process-pdf request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/process-pdf", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "build process-pdf request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelUnavailable, "process-pdf transport error", err)
	}
	defer resp.Body.Close()

	var out ProcessPDFResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode process-pdf response", err)
	}
	if resp.StatusCode >= 400 {
		return &out, apperr.New(apperr.Internal, fmt.Sprintf("process-pdf returned status %d: %s", resp.StatusCode, out.Message))
	}
	return &out, nil
}

// RunVisualAnalysisBatchRequest is the body of POST
// /api/run-visual-analysis-batch (§4.9).
type RunVisualAnalysisBatchRequest struct {
	DeckIDs     []int64 `json:"deck_ids"`
	VisionModel string  `json:"vision_model"`
	ImagePrompt string  `json:"image_prompt"`
}

// RunVisualAnalysisBatchResponse is the batch endpoint's immediate reply.
type RunVisualAnalysisBatchResponse struct {
	BatchID     string  `json:"batch_id"`
	AcceptedIDs []int64 `json:"accepted_ids"`
}

// RunVisualAnalysisBatch begins a batch visual-only run. The worker
// returns as soon as the batch is accepted; per-deck progress arrives
// later via the cache-visual-analysis callback.
func (c *WorkerClient) RunVisualAnalysisBatch(ctx context.Context, req RunVisualAnalysisBatchRequest) (*RunVisualAnalysisBatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "marshal batch request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/run-visual-analysis-batch", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "build batch request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelUnavailable, "batch transport error", err)
	}
	defer resp.Body.Close()

	var out RunVisualAnalysisBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode batch response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.Internal, fmt.Sprintf("batch dispatch returned status %d", resp.StatusCode))
	}
	return &out, nil
}
