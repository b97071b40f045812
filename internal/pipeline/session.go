package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/callback"
	"github.com/halbzeit-ai/deckreview/internal/classifier"
	"github.com/halbzeit-ai/deckreview/internal/dbstore"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
	"github.com/halbzeit-ai/deckreview/internal/offering"
	"github.com/halbzeit-ai/deckreview/internal/registry"
	"github.com/halbzeit-ai/deckreview/internal/scoring"
	"github.com/halbzeit-ai/deckreview/internal/specialized"
	"github.com/halbzeit-ai/deckreview/internal/storage"
	"github.com/halbzeit-ai/deckreview/internal/visual"
)

// DeckCallback is the pipeline's only path for reporting a Deck's
// lifecycle back to the orchestrator (§4.2: "the orchestrator owns
// writes to Deck... rows; the worker may... callback the orchestrator
// to update Deck rows"). The worker process never writes the decks
// table directly — every transition after dispatch ("processing", set
// by the orchestrator before it calls us) flows through one of these
// two calls, which *callback.Client implements over HTTP.
type DeckCallback interface {
	// CacheVisualAnalysis reports one deck's completed visual pass
	// (§4.4 step 5, §4.9's progressive callback). The orchestrator's
	// handler both UPSERTs the cache row and flips the deck to
	// visual_complete if it is still processing.
	CacheVisualAnalysis(ctx context.Context, req callback.CacheVisualAnalysisRequest) error
	// UpdateDeckResults reports the deck's terminal outcome (§4.9 step
	// 3, §6.3). Last-write-wins and safe to retry.
	UpdateDeckResults(ctx context.Context, req callback.UpdateDeckResultsRequest) error
}

// ClassificationStore is the subset the pipeline needs to persist §4.6.
type ClassificationStore interface {
	UpsertClassificationRecord(ctx context.Context, rec dbstore.ClassificationRecord) error
}

// ModelConfigStore resolves the active model per kind (§3 model_configs).
type ModelConfigStore interface {
	GetModelConfig(ctx context.Context, kind dbstore.ModelKind) (*dbstore.ModelConfig, error)
}

// Runner owns every dependency the pipeline needs across all decks. A
// Runner is long-lived (one per worker process); Session, built fresh
// per RunDeck call, is what is actually "per deck" in the sense of §9's
// design note.
type Runner struct {
	adapter      modelrt.Adapter
	deckCallback DeckCallback
	cache        visual.CacheStore
	classif      ClassificationStore
	models       ModelConfigStore
	prompts      *registry.PromptRegistry
	templates    *registry.TemplateRegistry
	layout       *storage.Layout
	log          zerolog.Logger
	numCtx       int
	modelVersion string
}

// NewRunner builds a Runner.
func NewRunner(
	adapter modelrt.Adapter,
	deckCallback DeckCallback,
	cache visual.CacheStore,
	classif ClassificationStore,
	models ModelConfigStore,
	prompts *registry.PromptRegistry,
	templates *registry.TemplateRegistry,
	layout *storage.Layout,
	log zerolog.Logger,
	numCtx int,
) *Runner {
	return &Runner{
		adapter:      adapter,
		deckCallback: deckCallback,
		cache:        cache,
		classif:      classif,
		models:       models,
		prompts:      prompts,
		templates:    templates,
		layout:       layout,
		log:          log.With().Str("subsystem", "pipeline").Logger(),
		numCtx:       numCtx,
		modelVersion: "deckreview-1",
	}
}

// ProcessPDFParams is one process-pdf job's input (§4.9).
type ProcessPDFParams struct {
	DeckID     int64
	CompanyID  string
	Filename   string
	PDFPath    string
	TemplatePolicy dbstore.TemplatePolicy
}

// RunDeck executes the whole pipeline for one deck: visual analysis,
// offering extraction, classification, template scoring, specialized
// analyses, and result-file write. Every stage's dependency is
// constructed fresh in this call — nothing here is held across decks —
// which is what makes the §4.4 "reset all session state" invariant a
// property of this function's call boundary rather than something a
// long-lived object must remember to clear.
func (r *Runner) RunDeck(ctx context.Context, p ProcessPDFParams) (string, error) {
	startedAt := time.Now()

	visionModel, err := r.resolveModel(ctx, dbstore.ModelKindVision)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	textModel, err := r.resolveModel(ctx, dbstore.ModelKindText)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	scoringModel, err := r.resolveModel(ctx, dbstore.ModelKindScoring)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	scienceModel, err := r.resolveModel(ctx, dbstore.ModelKindScience)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	deckSlug := storage.DeckSlug(p.Filename)

	imagePrompt, err := r.prompts.GetPrompt(ctx, dbstore.StageImageAnalysis)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	analyzer := visual.NewAnalyzer(r.adapter, r.cache, r.layout, r.log)
	visualResult, err := analyzer.Run(ctx, visual.Params{
		DeckID:      p.DeckID,
		CompanyID:   p.CompanyID,
		DeckSlug:    deckSlug,
		PDFPath:     p.PDFPath,
		VisionModel: visionModel,
		ImagePrompt: imagePrompt,
		NumCtx:      r.numCtx,
	})
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	if err := r.deckCallback.CacheVisualAnalysis(ctx, callback.CacheVisualAnalysisRequest{
		DeckID:        p.DeckID,
		VisualResults: visualResult.Slides,
		VisionModel:   visionModel,
		PromptUsed:    imagePrompt,
	}); err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	slideText := visual.ConcatenateDescriptions(visualResult.Slides)

	offeringPrompt, err := r.prompts.GetPrompt(ctx, dbstore.StageOfferingExtraction)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	extractor := offering.NewExtractor(r.adapter, textModel, r.numCtx)
	companyOffering, err := extractor.Extract(ctx, slideText, offeringPrompt)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	sectors, err := r.templates.ListSectors(ctx)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	classifierSectors := make([]classifier.Sector, len(sectors))
	sectorDisplayByID := make(map[int64]string, len(sectors))
	for i, s := range sectors {
		classifierSectors[i] = classifier.Sector{
			ID: s.ID, DisplayName: s.DisplayName, Description: s.Description,
			Keywords: s.Keywords, ConfidenceThreshold: s.ConfidenceThreshold,
		}
		sectorDisplayByID[s.ID] = s.DisplayName
	}

	classifierPrompt, err := r.prompts.GetPrompt(ctx, dbstore.StageClassification)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	cls := classifier.NewClassifier(r.adapter, textModel, r.numCtx)
	classOutcome, err := cls.Classify(ctx, companyOffering, classifierSectors, classifierPrompt)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	var sectorIDPtr *int64
	if classOutcome.SectorID != 0 {
		sectorIDPtr = &classOutcome.SectorID
	}
	resolved, err := r.templates.GetActiveTemplate(ctx, p.TemplatePolicy, sectorIDPtr)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	if err := r.classif.UpsertClassificationRecord(ctx, dbstore.ClassificationRecord{
		DeckID: p.DeckID, SectorID: classOutcome.SectorID, Confidence: classOutcome.Confidence,
		Reasoning: classOutcome.Reasoning, TemplateID: resolved.Template.ID,
	}); err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	scoringPrompt, err := r.prompts.GetPrompt(ctx, dbstore.StageScoringAnalysis)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	scoringChapters := toScoringChapters(resolved)
	executor := scoring.NewExecutor(r.adapter, scoringModel, r.numCtx)
	templateResult, err := executor.Execute(ctx, scoringChapters, companyOffering, slideText, scoringPrompt)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	specializedPrompts := make(map[specialized.Kind]string)
	declaredKinds := specializedKinds(resolved.Template.SpecializedAnalyses)
	for _, k := range declaredKinds {
		stage := specializedStage(k)
		text, err := r.prompts.GetPrompt(ctx, stage)
		if err != nil {
			return "", r.fail(ctx, p.DeckID, err)
		}
		specializedPrompts[k] = text
	}
	specRunner := specialized.NewRunner(r.adapter, scienceModel, r.numCtx, specializedPrompts)
	pitchDeckText := companyOffering + "\n\n" + slideText
	specResults, err := specRunner.Run(ctx, declaredKinds, pitchDeckText)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}

	recSynthPrompt, err := r.prompts.GetPrompt(ctx, dbstore.StageRecommendationSynth)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	synth := scoring.NewSynthesizer(r.adapter, textModel, r.numCtx)
	recMap, err := synth.Recommendations(ctx, templateResult, recSynthPrompt)
	if err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	recommendations := make([]string, 0, len(recMap))
	for _, text := range recMap {
		recommendations = append(recommendations, text)
	}

	result := newResultFile(p.DeckID, p.CompanyID, p.Filename, r.modelVersion, startedAt)
	result.ConfidenceScore = classOutcome.Confidence
	result.ProcessingMetadata.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	result.ProcessingMetadata.VisionModel = visionModel
	result.ProcessingMetadata.TextModel = textModel
	result.ProcessingMetadata.ScoringModel = scoringModel
	result.CompanyOffering = companyOffering
	result.Classification = classifierOutcomeToBlock(classOutcome, sectorDisplayByID[classOutcome.SectorID])
	result.VisualAnalysisResults = visualResult.Slides
	result.ChapterAnalysis = templateResult.ChapterAnalysis
	result.ReportScores = templateResult.ReportScores
	result.OverallScore = templateResult.OverallScore
	result.SpecializedAnalysis = specResults
	result.Recommendations = recommendations
	result.KeyPoints = scoring.KeyPoints(templateResult)

	epoch := startedAt.Unix()
	if err := writeResultFile(r.layout, result, epoch); err != nil {
		return "", r.fail(ctx, p.DeckID, err)
	}
	resultsPath := r.layout.ResultsPath(p.DeckID, epoch)

	overallScore := result.OverallScore
	if err := r.deckCallback.UpdateDeckResults(ctx, callback.UpdateDeckResultsRequest{
		DeckID:          p.DeckID,
		ResultsFilePath: resultsPath,
		Status:          string(dbstore.StatusCompleted),
		OverallScore:    &overallScore,
	}); err != nil {
		return "", err
	}
	return resultsPath, nil
}

func (r *Runner) fail(ctx context.Context, deckID int64, cause error) error {
	r.log.Error().Err(cause).Int64("deck_id", deckID).Msg("pipeline run failed")
	if cbErr := r.deckCallback.UpdateDeckResults(ctx, callback.UpdateDeckResultsRequest{
		DeckID: deckID,
		Status: string(dbstore.StatusFailed),
	}); cbErr != nil {
		r.log.Error().Err(cbErr).Int64("deck_id", deckID).Msg("failed to report deck failure")
	}
	return cause
}

func (r *Runner) resolveModel(ctx context.Context, kind dbstore.ModelKind) (string, error) {
	mc, err := r.models.GetModelConfig(ctx, kind)
	if err != nil {
		return "", err
	}
	return mc.ModelName, nil
}

func toScoringChapters(resolved *registry.Resolved) []scoring.Chapter {
	out := make([]scoring.Chapter, 0, len(resolved.Chapters))
	for _, ch := range resolved.Chapters {
		questions := resolved.QuestionsByChapter[ch.ID]
		sq := make([]scoring.Question, 0, len(questions))
		for _, q := range questions {
			sq = append(sq, scoring.Question{
				Text: q.QuestionText, ScoringCriteria: q.ScoringCriteria,
				HealthcareFocus: q.HealthcareFocus, Weight: q.Weight,
			})
		}
		out = append(out, scoring.Chapter{
			Key: scoring.Slugify(ch.Name), Name: ch.Name, Description: ch.Description,
			Weight: ch.Weight, Questions: sq,
		})
	}
	return out
}

func specializedStage(k specialized.Kind) dbstore.PromptStage {
	switch k {
	case specialized.ClinicalValidation:
		return dbstore.StageClinicalValidation
	case specialized.RegulatoryPathway:
		return dbstore.StageRegulatoryPathway
	case specialized.ScientificHypothesis:
		return dbstore.StageScientificHypothesis
	default:
		return dbstore.PromptStage(string(k))
	}
}

func writeResultFile(layout *storage.Layout, result *ResultFile, epoch int64) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal result file", err)
	}
	path := layout.ResultsPath(result.DeckID, epoch)
	if err := storage.WriteAtomic(path, data); err != nil {
		return apperr.Wrap(apperr.StorageError, fmt.Sprintf("write result file for deck %d", result.DeckID), err)
	}
	return nil
}
