package modelrt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// Client is the default Adapter implementation, talking to an
// Ollama-compatible server's native /api/* endpoints.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient builds a Client against baseURL (e.g. http://localhost:11434).
func NewClient(baseURL string, cfg PoolConfig, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  newHTTPClient(cfg),
		log:     log.With().Str("subsystem", "modelrt").Logger(),
	}
}

func (c *Client) endpoint(path string) string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + path
	}
	u.Path = path
	return u.String()
}

// tagsResponse mirrors Ollama's GET /api/tags payload.
type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/tags"), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "build list models request", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode list models response", err)
	}
	out := make([]ModelInfo, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		out = append(out, ModelInfo{Name: m.Name, SizeBytes: m.Size, ModifiedAt: m.ModifiedAt})
	}
	return out, nil
}

// PullModel requests the runtime pull name and drains the NDJSON progress
// stream until it reports success or an error, per Ollama's streaming
// pull protocol.
func (c *Client) PullModel(ctx context.Context, name string) error {
	body, _ := json.Marshal(map[string]any{"name": name, "stream": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/pull"), bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "build pull model request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var line struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return apperr.Wrap(apperr.Internal, "decode pull progress", err)
		}
		if line.Error != "" {
			return apperr.New(apperr.ModelUnavailable, fmt.Sprintf("pull %q failed: %s", name, line.Error))
		}
		if line.Status == "success" {
			return nil
		}
	}
}

func (c *Client) DeleteModel(ctx context.Context, name string) error {
	body, _ := json.Marshal(map[string]any{"name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/api/delete"), bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.Internal, "build delete model request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options generateOption `json:"options"`
}

type generateOption struct {
	NumCtx      int     `json:"num_ctx,omitempty"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Client) AnalyzeImage(ctx context.Context, req AnalyzeImageRequest) (string, error) {
	return c.generate(ctx, generateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(req.ImageJPEG)},
		Options: generateOption{NumCtx: req.NumCtx, Temperature: req.Temperature},
	})
}

func (c *Client) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	return c.generate(ctx, generateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Options: generateOption{NumCtx: req.NumCtx, Temperature: req.Temperature},
	})
}

func (c *Client) generate(ctx context.Context, greq generateRequest) (string, error) {
	body, err := json.Marshal(greq)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "marshal generate request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/generate"), bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(apperr.Internal, "decode generate response", err)
	}
	return out.Response, nil
}

// do sends req and maps transport/HTTP failures onto stable error kinds
// (§6.2): a refused or timed-out connection is ModelUnavailable or
// ModelTimeout respectively, never a bare Internal error, so retry logic
// upstream can branch on apperr.KindOf.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.ModelTimeout, "model runtime request timed out", err)
		}
		return nil, apperr.Wrap(apperr.ModelUnavailable, "model runtime request failed", err)
	}
	if resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apperr.New(apperr.ModelTimeout, fmt.Sprintf("model runtime timeout: %s", string(respBody)))
	}
	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apperr.New(apperr.ModelUnavailable, fmt.Sprintf("model runtime status %d: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apperr.New(apperr.InvalidInput, fmt.Sprintf("model runtime status %d: %s", resp.StatusCode, string(respBody)))
	}
	return resp, nil
}
