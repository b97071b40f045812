// Package pipeline wires the visual analyzer, offering extractor,
// classifier, template executor, and specialized analyses into the
// single per-deck run described by spec.md §2 and §9: a session value
// built fresh for each deck and dropped at job end, never reused.
package pipeline

import (
	"time"

	"github.com/halbzeit-ai/deckreview/internal/classifier"
	"github.com/halbzeit-ai/deckreview/internal/scoring"
	"github.com/halbzeit-ai/deckreview/internal/specialized"
	"github.com/halbzeit-ai/deckreview/internal/visual"
)

// ProcessingMetadata is the result file's processing_metadata block.
type ProcessingMetadata struct {
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at"`
	VisionModel  string `json:"vision_model"`
	TextModel    string `json:"text_model"`
	ScoringModel string `json:"scoring_model"`
}

// Classification is the result file's classification block.
type Classification struct {
	Sector     string  `json:"sector"`
	SectorID   int64   `json:"sector_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ResultFile is the authoritative artifact written to
// results/job_{deck_id}_{epoch}_results.json (§6.1). It is the single
// typed representation the design notes (§9) call for in place of the
// original's dynamically-shaped result dict.
type ResultFile struct {
	DeckID                int64                             `json:"deck_id"`
	CompanyID             string                             `json:"company_id"`
	DeckName              string                             `json:"deck_name"`
	ModelVersion          string                             `json:"model_version"`
	ConfidenceScore       float64                            `json:"confidence_score"`
	ProcessingMetadata    ProcessingMetadata                 `json:"processing_metadata"`
	CompanyOffering       string                             `json:"company_offering"`
	Classification        Classification                     `json:"classification"`
	VisualAnalysisResults []visual.SlideResult               `json:"visual_analysis_results"`
	ChapterAnalysis       map[string]scoring.ChapterResult   `json:"chapter_analysis"`
	ReportScores          map[string]float64                 `json:"report_scores"`
	OverallScore          float64                            `json:"overall_score"`
	SpecializedAnalysis   map[string]string                  `json:"specialized_analysis"`
	Recommendations       []string                           `json:"recommendations"`
	KeyPoints             []string                           `json:"key_points"`
}

func newResultFile(deckID int64, companyID, deckName, modelVersion string, startedAt time.Time) *ResultFile {
	return &ResultFile{
		DeckID:              deckID,
		CompanyID:           companyID,
		DeckName:            deckName,
		ModelVersion:        modelVersion,
		SpecializedAnalysis: map[string]string{},
		ProcessingMetadata:  ProcessingMetadata{StartedAt: startedAt.UTC().Format(time.RFC3339)},
	}
}

// classifierOutcomeToBlock converts a classifier.Outcome plus the chosen
// sector's display name into the result file's classification block.
func classifierOutcomeToBlock(out classifier.Outcome, sectorDisplayName string) Classification {
	return Classification{
		Sector:     sectorDisplayName,
		SectorID:   out.SectorID,
		Confidence: out.Confidence,
		Reasoning:  out.Reasoning,
	}
}

// specializedKinds converts a Template's declared analysis names into
// specialized.Kind values, skipping any name the runner does not
// recognize (honoring "process only declared kinds" in §4.8 without
// failing the whole deck over an unrecognized future kind name).
func specializedKinds(names []string) []specialized.Kind {
	out := make([]specialized.Kind, 0, len(names))
	for _, n := range names {
		switch specialized.Kind(n) {
		case specialized.ClinicalValidation, specialized.RegulatoryPathway, specialized.ScientificHypothesis:
			out = append(out, specialized.Kind(n))
		}
	}
	return out
}
