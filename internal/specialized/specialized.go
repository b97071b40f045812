// Package specialized implements the three specialized analysis kinds
// from §4.8: clinical_validation, regulatory_pathway, and
// scientific_hypothesis. A template declares zero or more kinds; only
// the declared ones run.
package specialized

import (
	"context"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
)

// Kind names a specialized analysis type.
type Kind string

const (
	ClinicalValidation   Kind = "clinical_validation"
	RegulatoryPathway    Kind = "regulatory_pathway"
	ScientificHypothesis Kind = "scientific_hypothesis"
)

// Completer is the subset of modelrt.Adapter specialized analyses need.
type Completer interface {
	Complete(ctx context.Context, req modelrt.CompleteRequest) (string, error)
}

// Runner executes declared specialized analyses.
type Runner struct {
	adapter Completer
	model   string
	numCtx  int
	// prompts maps each kind to its configured prompt text, fetched by
	// the caller from the prompt registry (each kind is its own
	// PromptStage per §3's seeded pipeline_prompts rows).
	prompts map[Kind]string
}

// NewRunner builds a Runner. prompts must contain an entry for every
// Kind the caller intends to run.
func NewRunner(adapter Completer, model string, numCtx int, prompts map[Kind]string) *Runner {
	return &Runner{adapter: adapter, model: model, numCtx: numCtx, prompts: prompts}
}

// Run executes exactly the declared kinds, in the order given, against
// pitchDeckText, returning free text keyed by the bare kind name — the
// caller assigns the result directly to the result file's
// specialized_analysis object, so a key here becomes
// specialized_analysis.<kind> in the JSON document (§4.8, §6.1).
func (r *Runner) Run(ctx context.Context, declared []Kind, pitchDeckText string) (map[string]string, error) {
	out := make(map[string]string, len(declared))
	for _, kind := range declared {
		prompt, ok := r.prompts[kind]
		if !ok {
			return nil, apperr.New(apperr.InvalidInput, "no prompt configured for specialized analysis kind "+string(kind))
		}
		text, err := r.adapter.Complete(ctx, modelrt.CompleteRequest{
			Model:       r.model,
			Prompt:      prompt + "\n\n" + pitchDeckText,
			NumCtx:      r.numCtx,
			Temperature: 0.2,
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindOf(err), "run specialized analysis "+string(kind), err)
		}
		out[string(kind)] = text
	}
	return out, nil
}
