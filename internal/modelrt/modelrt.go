// Package modelrt is the model runtime adapter (§4.3): a uniform surface
// over a local Ollama-compatible model server, used by both the vision
// pipeline (image analysis) and the text pipeline (classification,
// scoring, specialized analyses). Grounded on the shape of
// provider.OllamaProvider in the example gateway, adapted from an
// OpenAI-compatible chat surface to Ollama's native /api/* endpoints,
// which is what exposes multimodal image input and model management.
package modelrt

import "context"

// Adapter is the uniform surface every pipeline stage programs against.
// A single implementation (Client) talks to one model server; tests use
// a fake that satisfies this interface directly.
type Adapter interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
	PullModel(ctx context.Context, name string) error
	DeleteModel(ctx context.Context, name string) error
	AnalyzeImage(ctx context.Context, req AnalyzeImageRequest) (string, error)
	Complete(ctx context.Context, req CompleteRequest) (string, error)
}

// ModelInfo describes one model the runtime currently has pulled.
type ModelInfo struct {
	Name       string `json:"name"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"`
}

// AnalyzeImageRequest is one vision call: a single page image plus the
// prompt describing what to extract from it (§4.4).
type AnalyzeImageRequest struct {
	Model       string
	Prompt      string
	ImageJPEG   []byte
	NumCtx      int
	Temperature float64
}

// CompleteRequest is a text-only completion call, used by offering
// extraction, classification, scoring, and the specialized analyses.
type CompleteRequest struct {
	Model       string
	Prompt      string
	NumCtx      int
	Temperature float64
}
