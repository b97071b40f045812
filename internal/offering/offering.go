// Package offering implements extract_offering (§4.5): a single text
// model call over the concatenated slide descriptions that produces the
// one-paragraph company summary the classifier and result file both use.
package offering

import (
	"context"
	"strings"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
)

// Completer is the subset of modelrt.Adapter offering extraction needs.
type Completer interface {
	Complete(ctx context.Context, req modelrt.CompleteRequest) (string, error)
}

// Extractor runs extract_offering.
type Extractor struct {
	adapter Completer
	model   string
	numCtx  int
}

// NewExtractor builds an Extractor using model for completion calls.
func NewExtractor(adapter Completer, model string, numCtx int) *Extractor {
	return &Extractor{adapter: adapter, model: model, numCtx: numCtx}
}

// Extract renders offeringPrompt against the concatenated slide
// descriptions and returns the model's one-paragraph answer, trimmed.
func (e *Extractor) Extract(ctx context.Context, slideDescriptions string, offeringPrompt string) (string, error) {
	prompt := offeringPrompt + "\n\n" + slideDescriptions
	out, err := e.adapter.Complete(ctx, modelrt.CompleteRequest{
		Model:       e.model,
		Prompt:      prompt,
		NumCtx:      e.numCtx,
		Temperature: 0.2,
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindOf(err), "extract company offering", err)
	}
	return strings.TrimSpace(out), nil
}
