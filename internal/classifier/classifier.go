// Package classifier implements classify (§4.6): an AI-first sector
// classification call over the eight fixed healthcare sectors, with
// keyword hit counts folded in only as supportive context. The
// scoring shape — per-category keyword weights, strings.Contains
// matching, highest-score-wins — is grounded on the teacher's
// intelligence.Classifier, repurposed here from a standalone decision
// rule into a context signal the text model is shown, plus a fallback
// path used only when the model's own answer is unusable.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
)

// Completer is the subset of modelrt.Adapter classification needs.
type Completer interface {
	Complete(ctx context.Context, req modelrt.CompleteRequest) (string, error)
}

// Sector is the subset of dbstore.Sector the classifier reasons about.
type Sector struct {
	ID                  int64
	DisplayName         string
	Description         string
	Keywords            []string
	ConfidenceThreshold float64
}

// Outcome is classify's return value.
type Outcome struct {
	SectorID     int64
	Confidence   float64
	Reasoning    string
	LowConfidence bool
}

// Classifier runs classify.
type Classifier struct {
	adapter Completer
	model   string
	numCtx  int
}

// NewClassifier builds a Classifier using model for the classification call.
func NewClassifier(adapter Completer, model string, numCtx int) *Classifier {
	return &Classifier{adapter: adapter, model: model, numCtx: numCtx}
}

// keywordHits counts, per sector, how many of its keywords appear in
// offering (case-insensitive substring match), mirroring
// intelligence.Classifier.ClassifyWithScores's scoring loop.
func keywordHits(offering string, sectors []Sector) map[int64]int {
	lower := strings.ToLower(offering)
	hits := make(map[int64]int, len(sectors))
	for _, s := range sectors {
		count := 0
		for _, kw := range s.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				count++
			}
		}
		hits[s.ID] = count
	}
	return hits
}

// topKeywordSector returns the sector with the most keyword hits,
// tie-broken on the lowest sector ID (§4.6), or (0, false) if every
// sector has zero hits.
func topKeywordSector(hits map[int64]int) (int64, bool) {
	var ids []int64
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	best := int64(0)
	bestCount := 0
	found := false
	for _, id := range ids {
		if hits[id] > bestCount {
			bestCount = hits[id]
			best = id
			found = true
		}
	}
	return best, found
}

type modelResponse struct {
	SectorID   int64   `json:"sector_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify runs the algorithm in §4.6 steps 1-4. Persisting the
// resulting ClassificationRecord and resolving the active template
// (step 5) are the caller's responsibility (internal/pipeline), since
// those are storage operations this package has no dependency on.
func (c *Classifier) Classify(ctx context.Context, offering string, sectors []Sector, classifierPrompt string) (Outcome, error) {
	hits := keywordHits(offering, sectors)

	prompt := buildPrompt(classifierPrompt, offering, sectors, hits)
	raw, err := c.adapter.Complete(ctx, modelrt.CompleteRequest{
		Model:       c.model,
		Prompt:      prompt,
		NumCtx:      c.numCtx,
		Temperature: 0.1,
	})
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.KindOf(err), "classify deck", err)
	}

	parsed, parseErr := parseModelResponse(raw)
	sectorByID := make(map[int64]Sector, len(sectors))
	for _, s := range sectors {
		sectorByID[s.ID] = s
	}

	if parseErr == nil {
		if sec, ok := sectorByID[parsed.SectorID]; ok && parsed.Confidence >= sec.ConfidenceThreshold {
			return Outcome{SectorID: parsed.SectorID, Confidence: parsed.Confidence, Reasoning: parsed.Reasoning}, nil
		}
	}

	// Parse failure or below-threshold confidence: fall back to the
	// keyword leader, but only if it has at least one hit (§4.6 step 4).
	if topID, ok := topKeywordSector(hits); ok {
		reasoning := fmt.Sprintf("model classification unreliable; falling back to keyword match (sector %d)", topID)
		if parseErr == nil {
			reasoning = parsed.Reasoning
		}
		return Outcome{SectorID: topID, Confidence: fallbackConfidence(parsed, parseErr), Reasoning: reasoning}, nil
	}

	// No keyword signal either: report the model's best guess, marked
	// low_confidence, per §4.6 step 4's final branch.
	if parseErr != nil {
		return Outcome{LowConfidence: true, Reasoning: "unable to parse classifier response: " + parseErr.Error()}, nil
	}
	return Outcome{SectorID: parsed.SectorID, Confidence: parsed.Confidence, Reasoning: parsed.Reasoning, LowConfidence: true}, nil
}

func fallbackConfidence(parsed modelResponse, parseErr error) float64 {
	if parseErr != nil {
		return 0
	}
	return parsed.Confidence
}

func buildPrompt(classifierPrompt, offering string, sectors []Sector, hits map[int64]int) string {
	var b strings.Builder
	b.WriteString(classifierPrompt)
	b.WriteString("\n\nCompany offering:\n")
	b.WriteString(offering)
	b.WriteString("\n\nSectors:\n")
	for _, s := range sectors {
		fmt.Fprintf(&b, "- id=%d %s: %s", s.ID, s.DisplayName, s.Description)
		if hits[s.ID] > 0 {
			fmt.Fprintf(&b, " (if relevant: %d keyword matches)", hits[s.ID])
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with JSON: {\"sector_id\": <int>, \"confidence\": <0-1>, \"reasoning\": \"<text>\"}\n")
	return b.String()
}

// parseModelResponse extracts the JSON object from raw, tolerating
// surrounding prose the way scoring.ParseScore tolerates surrounding text.
func parseModelResponse(raw string) (modelResponse, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return modelResponse{}, fmt.Errorf("no JSON object found in classifier response")
	}
	var out modelResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return modelResponse{}, err
	}
	return out, nil
}
