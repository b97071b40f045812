// Package callback implements the worker's outbound half of §4.9/§6.3:
// the two internal HTTP callbacks the worker issues to the orchestrator
// as a deck's visual analysis and full pipeline run progress —
// cache-visual-analysis and update-deck-results. Shaped like
// modelrt.Client (one http.Client per Client, transport failures
// mapped to stable kinds) since both are "call a collaborator HTTP
// service and map transport failures to stable kinds" problems; this
// package builds its own http.Client with a 30-second timeout.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/visual"
)

// Client posts internal callbacks to the orchestrator, authenticated by
// a shared secret header (§6.3's "a shared secret header is sufficient").
type Client struct {
	baseURL string
	secret  string
	client  *http.Client
	log     zerolog.Logger

	maxRetries int
	backoff    time.Duration
}

// New builds a Client targeting the orchestrator at baseURL.
func New(baseURL, sharedSecret string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		secret:     sharedSecret,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("subsystem", "callback").Logger(),
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// UpdateDeckResultsRequest is the body of POST
// /api/internal/update-deck-results (§4.9 step 3, §6.3).
type UpdateDeckResultsRequest struct {
	DeckID          int64    `json:"deck_id"`
	ResultsFilePath string   `json:"results_file_path,omitempty"`
	Status          string   `json:"status"`
	OverallScore    *float64 `json:"overall_score,omitempty"`
}

// UpdateDeckResults reports a deck's terminal status. Last-write-wins and
// safe to retry on the orchestrator side (§4.9 idempotency); this client
// retries transport failures up to three times with backoff per §7's
// "worker retries up to three times" policy, after which the result file
// remains the source of truth for later reconciliation.
func (c *Client) UpdateDeckResults(ctx context.Context, req UpdateDeckResultsRequest) error {
	return c.postWithRetry(ctx, "/api/internal/update-deck-results", req)
}

// CacheVisualAnalysisRequest is the body of POST
// /api/internal/cache-visual-analysis (§4.9 batch progressive callback).
type CacheVisualAnalysisRequest struct {
	DeckID        int64                `json:"deck_id"`
	VisualResults []visual.SlideResult `json:"visual_results"`
	VisionModel   string               `json:"vision_model"`
	PromptUsed    string               `json:"prompt_used"`
}

// CacheVisualAnalysis reports one deck's completed visual pass during a
// batch run. UPSERT semantics on the orchestrator side mean calling this
// twice with the same payload is safe (§8 idempotence property).
func (c *Client) CacheVisualAnalysis(ctx context.Context, req CacheVisualAnalysisRequest) error {
	return c.postWithRetry(ctx, "/api/internal/cache-visual-analysis", req)
}

func (c *Client) postWithRetry(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal callback payload", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return apperr.Wrap(apperr.Internal, "callback cancelled", ctx.Err())
			}
		}
		if err := c.post(ctx, path, payload); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("callback delivery failed")
			continue
		}
		return nil
	}
	return apperr.Wrap(apperr.ModelUnavailable, fmt.Sprintf("callback %s failed after %d attempts", path, c.maxRetries+1), lastErr)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "build callback request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Callback-Secret", c.secret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.ModelUnavailable, "callback transport error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperr.New(apperr.Internal, fmt.Sprintf("callback %s returned status %d", path, resp.StatusCode))
	}
	return nil
}
