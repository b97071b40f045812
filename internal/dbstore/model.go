// Package dbstore is the relational store (§3, §4.2): prompts, templates,
// chapters, questions, sectors, model configs, decks, and the visual
// analysis cache. Both nodes connect directly via pgxpool; the
// orchestrator owns writes to Deck/Project/Template/Prompt/ModelConfig
// rows, the worker owns writes to VisualAnalysisCache and
// ClassificationRecord plus the Deck fields it updates via callback.
package dbstore

import "time"

// ProcessingStatus is the Deck lifecycle state (§3).
type ProcessingStatus string

const (
	StatusPending         ProcessingStatus = "pending"
	StatusProcessing      ProcessingStatus = "processing"
	StatusVisualComplete  ProcessingStatus = "visual_complete"
	StatusCompleted       ProcessingStatus = "completed"
	StatusFailed          ProcessingStatus = "failed"
)

// DataSource identifies how a Deck entered the system.
type DataSource string

const (
	SourceUserUpload     DataSource = "user_upload"
	SourceDojoExperiment DataSource = "dojo_experiment"
)

// Deck is the central unit of work (§3).
type Deck struct {
	ID                int64
	CompanyID         string
	Filename          string
	FilePath          string
	DataSource        DataSource
	ProcessingStatus  ProcessingStatus
	ResultsFilePath   *string
	CreatedAt         time.Time
}

// VisualAnalysisCompleted is derived: true once ProcessingStatus has
// reached visual_complete or beyond.
func (d *Deck) VisualAnalysisCompleted() bool {
	switch d.ProcessingStatus {
	case StatusVisualComplete, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Project owns zero or more Decks, keyed by CompanyID.
type Project struct {
	ID        int64
	CompanyID string
	Name      string
}

// Sector is one of the fixed 8 healthcare sectors.
type Sector struct {
	ID                  int64
	Name                string
	DisplayName         string
	Description         string
	Keywords            []string
	ConfidenceThreshold float64
}

// Template is a named, versioned set of weighted chapters/questions.
type Template struct {
	ID                  int64
	SectorID            *int64
	Name                string
	Description         string
	Version             int
	IsDefault           bool
	SpecializedAnalyses []string
}

// Chapter belongs to a Template.
type Chapter struct {
	ID          int64
	TemplateID  int64
	Name        string
	Description string
	OrderIndex  int
	Weight      float64
}

// Question belongs to a Chapter.
type Question struct {
	ID              int64
	ChapterID       int64
	QuestionText    string
	ScoringCriteria string
	HealthcareFocus string
	Weight          float64
	OrderIndex      int
}

// PromptStage names the recognized pipeline prompt stages (§3).
type PromptStage string

const (
	StageImageAnalysis          PromptStage = "image_analysis"
	StageOfferingExtraction     PromptStage = "offering_extraction"
	StageStartupNameExtraction  PromptStage = "startup_name_extraction"
	StageScoringAnalysis        PromptStage = "scoring_analysis"
	StageClassification         PromptStage = "classification"
	StageClinicalValidation     PromptStage = "clinical_validation"
	StageRegulatoryPathway      PromptStage = "regulatory_pathway"
	StageScientificHypothesis   PromptStage = "scientific_hypothesis"
	StageRecommendationSynth    PromptStage = "recommendation_synthesis"
)

// PipelinePrompt is a DB-backed, editable prompt (§3).
type PipelinePrompt struct {
	StageName         PromptStage
	PromptText        string
	DefaultPromptText string
	UpdatedAt         time.Time
}

// ModelKind enumerates the roles a ModelConfig can fill.
type ModelKind string

const (
	ModelKindVision  ModelKind = "vision"
	ModelKindText    ModelKind = "text"
	ModelKindScoring ModelKind = "scoring"
	ModelKindScience ModelKind = "science"
)

// ModelConfig is the active model name for a given kind.
type ModelConfig struct {
	Kind      ModelKind
	ModelName string
}

// VisualAnalysisCache is keyed by (DeckID, VisionModel, PromptHash) (§3).
type VisualAnalysisCache struct {
	DeckID              int64
	VisionModel         string
	PromptHash          string
	AnalysisResultJSON  []byte
	CreatedAt           time.Time
}

// ClassificationRecord stores the outcome of §4.6 for a Deck.
type ClassificationRecord struct {
	DeckID     int64
	SectorID   int64
	Confidence float64
	Reasoning  string
	TemplateID int64
}

// TemplatePolicy selects how get_active_template resolves a template (§4.2).
type TemplatePolicy string

const (
	PolicySingleTemplate    TemplatePolicy = "single_template"
	PolicySectorClassified  TemplatePolicy = "sector_classified"
)

// DeckSummary backs the orchestrator's progress/results listing endpoint
// (SPEC_FULL §4.9 expansion).
type DeckSummary struct {
	DeckID            int64
	CompanyID         string
	Filename          string
	Status            ProcessingStatus
	OverallScore      *float64
	SectorDisplayName *string
	CreatedAt         time.Time
}
