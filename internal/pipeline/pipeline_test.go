package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/callback"
	"github.com/halbzeit-ai/deckreview/internal/dbstore"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
	"github.com/halbzeit-ai/deckreview/internal/registry"
	"github.com/halbzeit-ai/deckreview/internal/storage"
)

// minimalPDF returns the smallest PDF go-fitz's mupdf backend is known to
// repair-and-open: no xref table at all, which forces mupdf's scan-based
// recovery path rather than trusting (possibly hand-miscounted) byte
// offsets in a hand-written xref.
func minimalPDF() []byte {
	return multiPagePDF(1)
}

// multiPagePDF builds an n-page variant of minimalPDF's no-xref,
// scan-recovered document: one Page object per page, all parented to
// the same Pages node.
func multiPagePDF(n int) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.0\n")
	b.WriteString("1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n")

	kids := make([]string, n)
	for i := 0; i < n; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	fmt.Fprintf(&b, "2 0 obj<</Type/Pages/Kids[%s]/Count %d>>endobj\n", strings.Join(kids, " "), n)

	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d 0 obj<</Type/Page/Parent 2 0 R/MediaBox[0 0 200 200]>>endobj\n", i+3)
	}
	b.WriteString("trailer<</Root 1 0 R>>\n")
	return []byte(b.String())
}

type fakePipelineAdapter struct {
	mu            sync.Mutex
	analyzeCalls  int
	completeCalls []string

	// classifyResponse overrides the default classification JSON when
	// non-empty, letting tests exercise a different sector/confidence
	// combination without duplicating the rest of the fake's behavior.
	classifyResponse string

	// analyzeFailOn, if set, makes AnalyzeImage fail with ModelTimeout
	// on the given 1-based AnalyzeImage call numbers (not page numbers —
	// a retried page consumes one call per attempt), modeling a
	// transient per-page vision failure (spec.md §8 scenario 3).
	analyzeFailOn map[int]bool
}

func (f *fakePipelineAdapter) ListModels(ctx context.Context) ([]modelrt.ModelInfo, error) {
	return nil, nil
}
func (f *fakePipelineAdapter) PullModel(ctx context.Context, name string) error   { return nil }
func (f *fakePipelineAdapter) DeleteModel(ctx context.Context, name string) error { return nil }

func (f *fakePipelineAdapter) AnalyzeImage(ctx context.Context, req modelrt.AnalyzeImageRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzeCalls++
	if f.analyzeFailOn[f.analyzeCalls] {
		return "", apperr.New(apperr.ModelTimeout, "slow vision call")
	}
	// The description embeds the image-analysis prompt it was called
	// with, so two runs using different prompts (a live prompt edit,
	// spec.md §8 scenario 5) produce observably distinct descriptions
	// instead of a canned string that would mask the difference.
	return "Slide described via prompt: " + req.Prompt, nil
}

func (f *fakePipelineAdapter) Complete(ctx context.Context, req modelrt.CompleteRequest) (string, error) {
	f.mu.Lock()
	f.completeCalls = append(f.completeCalls, req.Prompt)
	resp := f.classifyResponse
	f.mu.Unlock()

	switch {
	case strings.Contains(req.Prompt, "Respond with JSON"):
		if resp != "" {
			return resp, nil
		}
		return `{"sector_id": 1, "confidence": 0.9, "reasoning": "clear digital health offering"}`, nil
	case strings.Contains(req.Prompt, "OFFERING_PROMPT"):
		return "A remote patient monitoring platform for chronic disease management.", nil
	case strings.Contains(req.Prompt, "SCORE_PROMPT"):
		return f.scoreResponse(req.Prompt), nil
	case strings.Contains(req.Prompt, "CLINICAL_PROMPT"):
		return "Clinical evidence appears preliminary but directionally supportive.", nil
	case strings.Contains(req.Prompt, "RECOMMEND_PROMPT"):
		return "Strengthen the founding team with a clinical co-founder.", nil
	default:
		return "", apperr.New(apperr.Internal, "unrecognized prompt in test fake: "+req.Prompt)
	}
}

// scoreResponse distinguishes the two-call pattern (empty vs filled
// "Prior:" placeholder) and the two distinct questions by their literal
// question text, since both flow through the same shared scoring prompt
// template.
func (f *fakePipelineAdapter) scoreResponse(prompt string) string {
	answering := strings.Contains(prompt, "Prior:[]")
	switch {
	case strings.Contains(prompt, "What problem does this solve?"):
		if answering {
			return "The problem is chronic disease monitoring gaps."
		}
		return "Score: 6"
	case strings.Contains(prompt, "Who is on the team?"):
		if answering {
			return "The team has two first-time founders."
		}
		return "Score: 2"
	}
	return ""
}

// fakeDeckCallback stands in for *callback.Client: the pipeline never
// writes the decks table directly, so every status transition this test
// observes flows through these two calls instead.
type fakeDeckCallback struct {
	mu            sync.Mutex
	statuses      []dbstore.ProcessingStatus
	completedPath string
	recordedScore float64
	scoreRecorded bool
}

func (f *fakeDeckCallback) CacheVisualAnalysis(ctx context.Context, req callback.CacheVisualAnalysisRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, dbstore.StatusVisualComplete)
	return nil
}

func (f *fakeDeckCallback) UpdateDeckResults(ctx context.Context, req callback.UpdateDeckResultsRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, dbstore.ProcessingStatus(req.Status))
	f.completedPath = req.ResultsFilePath
	if req.OverallScore != nil {
		f.recordedScore = *req.OverallScore
		f.scoreRecorded = true
	}
	return nil
}

type fakeClassificationStore struct {
	last dbstore.ClassificationRecord
}

func (f *fakeClassificationStore) UpsertClassificationRecord(ctx context.Context, rec dbstore.ClassificationRecord) error {
	f.last = rec
	return nil
}

type fakeModelConfigStore struct {
	failKind dbstore.ModelKind
}

func (f *fakeModelConfigStore) GetModelConfig(ctx context.Context, kind dbstore.ModelKind) (*dbstore.ModelConfig, error) {
	if kind == f.failKind {
		return nil, apperr.New(apperr.NotFound, "no model configured for "+string(kind))
	}
	names := map[dbstore.ModelKind]string{
		dbstore.ModelKindVision:  "llava-vision",
		dbstore.ModelKindText:    "llama3.1-text",
		dbstore.ModelKindScoring: "llama3.1-scoring",
		dbstore.ModelKindScience: "llama3.1-science",
	}
	return &dbstore.ModelConfig{Kind: kind, ModelName: names[kind]}, nil
}

type fakePromptStore struct {
	// imageAnalysisPrompt overrides the default image_analysis prompt
	// text when non-empty, letting a test simulate a live prompt edit
	// (spec.md §8 scenario 5) between two RunDeck calls sharing the
	// same store instance.
	imageAnalysisPrompt string
}

func (f *fakePromptStore) GetPrompt(ctx context.Context, stage dbstore.PromptStage) (*dbstore.PipelinePrompt, error) {
	imageAnalysis := "Describe this pitch deck slide."
	if f.imageAnalysisPrompt != "" {
		imageAnalysis = f.imageAnalysisPrompt
	}
	texts := map[dbstore.PromptStage]string{
		dbstore.StageImageAnalysis:        imageAnalysis,
		dbstore.StageOfferingExtraction:   "OFFERING_PROMPT Summarize the company's offering.",
		dbstore.StageClassification:       "Classify this healthcare startup.",
		dbstore.StageScoringAnalysis:      "SCORE_PROMPT Question: {question_text} Criteria: {scoring_criteria} Prior:[{response}] Deck:\n{pitch_deck_text}",
		dbstore.StageClinicalValidation:   "CLINICAL_PROMPT Assess the clinical evidence.",
		dbstore.StageRecommendationSynth:  "RECOMMEND_PROMPT Chapter {chapter_name} scored {weighted_score}: {weak_questions}",
	}
	text, ok := texts[stage]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown test prompt stage "+string(stage))
	}
	return &dbstore.PipelinePrompt{StageName: stage, PromptText: text, DefaultPromptText: text}, nil
}
func (f *fakePromptStore) SetPrompt(ctx context.Context, stage dbstore.PromptStage, text string) error {
	return nil
}
func (f *fakePromptStore) ResetPrompt(ctx context.Context, stage dbstore.PromptStage) error {
	return nil
}

type fakeTemplateStore struct {
	template dbstore.Template
	chapters []dbstore.Chapter
	questions []dbstore.Question
	sectors  []dbstore.Sector
}

func (f *fakeTemplateStore) ListSectors(ctx context.Context) ([]dbstore.Sector, error) {
	return f.sectors, nil
}
func (f *fakeTemplateStore) GetSector(ctx context.Context, sectorID int64) (*dbstore.Sector, error) {
	for _, s := range f.sectors {
		if s.ID == sectorID {
			return &s, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "sector not found")
}
func (f *fakeTemplateStore) ListTemplates(ctx context.Context, sectorID *int64) ([]dbstore.Template, error) {
	return []dbstore.Template{f.template}, nil
}
func (f *fakeTemplateStore) GetTemplate(ctx context.Context, templateID int64) (*dbstore.Template, []dbstore.Chapter, []dbstore.Question, error) {
	if templateID != f.template.ID {
		return nil, nil, nil, apperr.New(apperr.NotFound, "template not found")
	}
	return &f.template, f.chapters, f.questions, nil
}
func (f *fakeTemplateStore) GetActiveTemplate(ctx context.Context, policy dbstore.TemplatePolicy, sectorID *int64) (*dbstore.Template, error) {
	return &f.template, nil
}

func newTestFixtures() (*fakeTemplateStore, *fakePromptStore) {
	sector := dbstore.Sector{ID: 1, Name: "digital_health", DisplayName: "Digital Health", Description: "Digital health products", Keywords: []string{"monitoring"}, ConfidenceThreshold: 0.5}
	template := dbstore.Template{ID: 10, SectorID: &sector.ID, Name: "Digital Health Template", Version: 1, IsDefault: true, SpecializedAnalyses: []string{"clinical_validation"}}
	chapters := []dbstore.Chapter{
		{ID: 1, TemplateID: 10, Name: "Problem & Market", OrderIndex: 1, Weight: 1.0},
		{ID: 2, TemplateID: 10, Name: "Team", OrderIndex: 2, Weight: 1.0},
	}
	questions := []dbstore.Question{
		{ID: 1, ChapterID: 1, QuestionText: "What problem does this solve?", ScoringCriteria: "clarity", HealthcareFocus: "clinical need", Weight: 1.0, OrderIndex: 1},
		{ID: 2, ChapterID: 2, QuestionText: "Who is on the team?", ScoringCriteria: "experience", HealthcareFocus: "team credibility", Weight: 1.0, OrderIndex: 1},
	}
	ts := &fakeTemplateStore{template: template, chapters: chapters, questions: questions, sectors: []dbstore.Sector{sector}}
	return ts, &fakePromptStore{}
}

func TestRunDeckFullPipeline(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "deck.pdf")
	if err := os.WriteFile(pdfPath, minimalPDF(), 0o644); err != nil {
		t.Fatalf("write test pdf: %v", err)
	}

	templateStore, promptStore := newTestFixtures()
	adapter := &fakePipelineAdapter{}
	decks := &fakeDeckCallback{}
	classif := &fakeClassificationStore{}
	models := &fakeModelConfigStore{}
	cache := &fakeCacheStore{}
	layout := storage.New(t.TempDir())

	runner := NewRunner(
		adapter, decks, cache, classif, models,
		registry.NewPromptRegistry(promptStore),
		registry.NewTemplateRegistry(templateStore),
		layout, zerolog.New(io.Discard), 4096,
	)

	resultsPath, err := runner.RunDeck(context.Background(), ProcessPDFParams{
		DeckID: 42, CompanyID: "acme", Filename: "deck.pdf", PDFPath: pdfPath,
		TemplatePolicy: dbstore.PolicySectorClassified,
	})
	if err != nil {
		t.Fatalf("RunDeck failed: %v", err)
	}
	if resultsPath == "" {
		t.Fatal("expected a non-empty results file path")
	}

	if len(decks.statuses) < 2 {
		t.Fatalf("expected at least 2 status transitions, got %v", decks.statuses)
	}
	if decks.statuses[0] != dbstore.StatusVisualComplete {
		t.Fatalf("expected first reported status visual_complete, got %v", decks.statuses)
	}
	if decks.statuses[len(decks.statuses)-1] != dbstore.StatusCompleted {
		t.Fatalf("expected final status completed, got %v", decks.statuses)
	}
	if !decks.scoreRecorded || decks.recordedScore != 4.0 {
		t.Fatalf("expected overall score 4.0 recorded, got %v (recorded=%v)", decks.recordedScore, decks.scoreRecorded)
	}
	if classif.last.SectorID != 1 || classif.last.TemplateID != 10 {
		t.Fatalf("unexpected classification record: %+v", classif.last)
	}
	if cache.calls != 1 {
		t.Fatalf("expected exactly one visual cache write, got %d", cache.calls)
	}
	if adapter.analyzeCalls != 1 {
		t.Fatalf("expected one AnalyzeImage call for the single-page deck, got %d", adapter.analyzeCalls)
	}
}

type fakeCacheStore struct {
	mu       sync.Mutex
	calls    int
	hashes   []string
	payloads [][]byte
	deckIDs  []int64
}

func (f *fakeCacheStore) UpsertVisualAnalysisCache(ctx context.Context, deckID int64, visionModel, promptHash string, resultJSON []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.hashes = append(f.hashes, promptHash)
	f.payloads = append(f.payloads, resultJSON)
	f.deckIDs = append(f.deckIDs, deckID)
	return nil
}

// TestRunDeckKeywordVsAIClassification covers spec.md §8 scenario 2: the
// offering text carries a keyword hit for one sector, but the model
// decisively (confidence 0.86, above threshold) names a different
// sector — the AI answer wins over the keyword fallback per §4.6 step 3.
func TestRunDeckKeywordVsAIClassification(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "deck.pdf")
	if err := os.WriteFile(pdfPath, minimalPDF(), 0o644); err != nil {
		t.Fatalf("write test pdf: %v", err)
	}

	templateStore, promptStore := newTestFixtures()
	// digital_health (ID 1) keywords hit the fixed "OFFERING_PROMPT"
	// response's "remote patient monitoring" text; medtech (ID 2) has no
	// keyword overlap at all, so a keyword-only classifier would pick
	// sector 1. The model instead names sector 2 at 0.86 confidence.
	medtech := dbstore.Sector{ID: 2, Name: "medtech", DisplayName: "Medical Devices", Description: "Implantable and wearable devices", Keywords: []string{"implant", "wearable hardware"}, ConfidenceThreshold: 0.5}
	templateStore.sectors = append(templateStore.sectors, medtech)

	adapter := &fakePipelineAdapter{classifyResponse: `{"sector_id": 2, "confidence": 0.86, "reasoning": "describes an implantable hardware device, not a monitoring app"}`}
	decks := &fakeDeckCallback{}
	classif := &fakeClassificationStore{}

	runner := NewRunner(
		adapter, decks, &fakeCacheStore{}, classif, &fakeModelConfigStore{},
		registry.NewPromptRegistry(promptStore),
		registry.NewTemplateRegistry(templateStore),
		storage.New(t.TempDir()), zerolog.New(io.Discard), 4096,
	)

	if _, err := runner.RunDeck(context.Background(), ProcessPDFParams{
		DeckID: 99, CompanyID: "acme", Filename: "deck.pdf", PDFPath: pdfPath,
		TemplatePolicy: dbstore.PolicySectorClassified,
	}); err != nil {
		t.Fatalf("RunDeck failed: %v", err)
	}

	if classif.last.SectorID != 2 {
		t.Fatalf("expected the decisive AI classification (sector 2) to win over the keyword-hit sector 1, got %+v", classif.last)
	}
	if classif.last.Confidence != 0.86 {
		t.Fatalf("expected confidence 0.86, got %v", classif.last.Confidence)
	}
}

// TestRunDeckVisualFailurePath covers spec.md §8 scenario 3: one page out
// of five exhausts its retries with ModelTimeout, but the deck still
// completes with exactly one failed page and an empty description in its
// slot, descriptions for every other page intact.
func TestRunDeckVisualFailurePath(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "deck.pdf")
	if err := os.WriteFile(pdfPath, multiPagePDF(5), 0o644); err != nil {
		t.Fatalf("write test pdf: %v", err)
	}

	templateStore, promptStore := newTestFixtures()
	// Page 3 (the third AnalyzeImage call) fails on its initial attempt
	// and both retries (maxRetries=2, so 3 total attempts: calls 3,4,5).
	adapter := &fakePipelineAdapter{analyzeFailOn: map[int]bool{3: true, 4: true, 5: true}}
	decks := &fakeDeckCallback{}
	layout := storage.New(t.TempDir())

	runner := NewRunner(
		adapter, decks, &fakeCacheStore{}, &fakeClassificationStore{}, &fakeModelConfigStore{},
		registry.NewPromptRegistry(promptStore),
		registry.NewTemplateRegistry(templateStore),
		layout, zerolog.New(io.Discard), 4096,
	)

	resultsPath, err := runner.RunDeck(context.Background(), ProcessPDFParams{
		DeckID: 101, CompanyID: "acme", Filename: "deck.pdf", PDFPath: pdfPath,
		TemplatePolicy: dbstore.PolicySectorClassified,
	})
	if err != nil {
		t.Fatalf("RunDeck failed: %v", err)
	}
	if decks.statuses[len(decks.statuses)-1] != dbstore.StatusCompleted {
		t.Fatalf("expected deck to complete despite one failed page, got %v", decks.statuses)
	}

	raw, err := os.ReadFile(resultsPath)
	if err != nil {
		t.Fatalf("read result file: %v", err)
	}
	var result ResultFile
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal result file: %v", err)
	}
	if len(result.VisualAnalysisResults) != 5 {
		t.Fatalf("expected 5 slide results, got %d", len(result.VisualAnalysisResults))
	}
	failedPages := 0
	for _, slide := range result.VisualAnalysisResults {
		if slide.Description == "" {
			failedPages++
			if slide.PageNumber != 3 {
				t.Fatalf("expected the failed page to be page 3, got page %d empty", slide.PageNumber)
			}
		}
	}
	if failedPages != 1 {
		t.Fatalf("expected exactly 1 failed page, got %d", failedPages)
	}
}

// TestRunDeckPromptLiveEdit covers spec.md §8 scenario 5: two RunDeck
// calls over the same PDF, with the image-analysis prompt edited between
// them, must produce distinct prompt_hash cache entries and distinct
// slide descriptions — no result is contaminated by the other run's
// prompt text.
func TestRunDeckPromptLiveEdit(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "deck.pdf")
	if err := os.WriteFile(pdfPath, minimalPDF(), 0o644); err != nil {
		t.Fatalf("write test pdf: %v", err)
	}

	templateStore, promptStore := newTestFixtures()
	promptStore.imageAnalysisPrompt = "Describe this slide, v1."
	cache := &fakeCacheStore{}

	runner := NewRunner(
		&fakePipelineAdapter{}, &fakeDeckCallback{}, cache, &fakeClassificationStore{}, &fakeModelConfigStore{},
		registry.NewPromptRegistry(promptStore),
		registry.NewTemplateRegistry(templateStore),
		storage.New(t.TempDir()), zerolog.New(io.Discard), 4096,
	)

	path1, err := runner.RunDeck(context.Background(), ProcessPDFParams{
		DeckID: 201, CompanyID: "acme", Filename: "deck.pdf", PDFPath: pdfPath,
		TemplatePolicy: dbstore.PolicySectorClassified,
	})
	if err != nil {
		t.Fatalf("first RunDeck failed: %v", err)
	}
	// Read back the first run's result file now: both runs share a deck
	// ID and results are named by deck_id+epoch-in-seconds, so a second
	// run completing within the same second would overwrite this path
	// before a deferred read got to it.
	raw1, err := os.ReadFile(path1)
	if err != nil {
		t.Fatalf("read first result file: %v", err)
	}
	var result1 ResultFile
	if err := json.Unmarshal(raw1, &result1); err != nil {
		t.Fatalf("unmarshal first result file: %v", err)
	}

	promptStore.imageAnalysisPrompt = "Describe this slide, v2 (edited live)."

	path2, err := runner.RunDeck(context.Background(), ProcessPDFParams{
		DeckID: 201, CompanyID: "acme", Filename: "deck.pdf", PDFPath: pdfPath,
		TemplatePolicy: dbstore.PolicySectorClassified,
	})
	if err != nil {
		t.Fatalf("second RunDeck failed: %v", err)
	}
	raw2, err := os.ReadFile(path2)
	if err != nil {
		t.Fatalf("read second result file: %v", err)
	}
	var result2 ResultFile
	if err := json.Unmarshal(raw2, &result2); err != nil {
		t.Fatalf("unmarshal second result file: %v", err)
	}

	if len(cache.hashes) != 2 {
		t.Fatalf("expected 2 cache writes, got %d", len(cache.hashes))
	}
	if cache.hashes[0] == cache.hashes[1] {
		t.Fatalf("expected the two runs' prompt_hash to differ after a live prompt edit, both were %q", cache.hashes[0])
	}
	if result1.VisualAnalysisResults[0].Description == result2.VisualAnalysisResults[0].Description {
		t.Fatalf("expected distinct slide descriptions across the prompt edit, both were %q", result1.VisualAnalysisResults[0].Description)
	}
}

// TestRunDeckStateResetAcrossDecks covers spec.md §8 scenario 6: running
// two decks back-to-back on the same long-lived Runner must not leak any
// artifact (company_offering, visual analysis results) from the first
// deck into the second — every stage's dependency is built fresh inside
// RunDeck (§4.4's "reset all session state" invariant).
func TestRunDeckStateResetAcrossDecks(t *testing.T) {
	dirA := t.TempDir()
	pdfA := filepath.Join(dirA, "deckA.pdf")
	if err := os.WriteFile(pdfA, multiPagePDF(2), 0o644); err != nil {
		t.Fatalf("write deck A pdf: %v", err)
	}
	dirB := t.TempDir()
	pdfB := filepath.Join(dirB, "deckB.pdf")
	if err := os.WriteFile(pdfB, multiPagePDF(3), 0o644); err != nil {
		t.Fatalf("write deck B pdf: %v", err)
	}

	templateStore, promptStore := newTestFixtures()
	adapter := &fakePipelineAdapter{}

	runner := NewRunner(
		adapter, &fakeDeckCallback{}, &fakeCacheStore{}, &fakeClassificationStore{}, &fakeModelConfigStore{},
		registry.NewPromptRegistry(promptStore),
		registry.NewTemplateRegistry(templateStore),
		storage.New(t.TempDir()), zerolog.New(io.Discard), 4096,
	)

	pathA, err := runner.RunDeck(context.Background(), ProcessPDFParams{
		DeckID: 301, CompanyID: "acme-a", Filename: "deckA.pdf", PDFPath: pdfA,
		TemplatePolicy: dbstore.PolicySectorClassified,
	})
	if err != nil {
		t.Fatalf("RunDeck for deck A failed: %v", err)
	}
	pathB, err := runner.RunDeck(context.Background(), ProcessPDFParams{
		DeckID: 302, CompanyID: "acme-b", Filename: "deckB.pdf", PDFPath: pdfB,
		TemplatePolicy: dbstore.PolicySectorClassified,
	})
	if err != nil {
		t.Fatalf("RunDeck for deck B failed: %v", err)
	}

	rawA, err := os.ReadFile(pathA)
	if err != nil {
		t.Fatalf("read deck A result: %v", err)
	}
	rawB, err := os.ReadFile(pathB)
	if err != nil {
		t.Fatalf("read deck B result: %v", err)
	}
	var resultA, resultB ResultFile
	if err := json.Unmarshal(rawA, &resultA); err != nil {
		t.Fatalf("unmarshal deck A result: %v", err)
	}
	if err := json.Unmarshal(rawB, &resultB); err != nil {
		t.Fatalf("unmarshal deck B result: %v", err)
	}

	if len(resultA.VisualAnalysisResults) != 2 {
		t.Fatalf("expected deck A to have 2 slide results, got %d", len(resultA.VisualAnalysisResults))
	}
	if len(resultB.VisualAnalysisResults) != 3 {
		t.Fatalf("expected deck B to have 3 slide results of its own (no carryover from deck A's 2-page deck), got %d", len(resultB.VisualAnalysisResults))
	}
	if resultB.CompanyID != "acme-b" || resultB.DeckID != 302 {
		t.Fatalf("expected deck B's result to identify deck B, got company=%q deck_id=%d", resultB.CompanyID, resultB.DeckID)
	}
	if resultA.CompanyID == resultB.CompanyID {
		t.Fatalf("expected distinct company IDs between decks, got %q for both", resultA.CompanyID)
	}
}

func TestRunDeckMarksFailedWhenModelConfigMissing(t *testing.T) {
	templateStore, promptStore := newTestFixtures()
	decks := &fakeDeckCallback{}

	runner := NewRunner(
		&fakePipelineAdapter{}, decks, &fakeCacheStore{}, &fakeClassificationStore{},
		&fakeModelConfigStore{failKind: dbstore.ModelKindVision},
		registry.NewPromptRegistry(promptStore),
		registry.NewTemplateRegistry(templateStore),
		storage.New(t.TempDir()), zerolog.New(io.Discard), 4096,
	)

	_, err := runner.RunDeck(context.Background(), ProcessPDFParams{
		DeckID: 7, CompanyID: "acme", Filename: "deck.pdf", PDFPath: "/nonexistent.pdf",
		TemplatePolicy: dbstore.PolicySectorClassified,
	})
	if err == nil {
		t.Fatal("expected an error when the vision model is unconfigured")
	}
	if decks.statuses[len(decks.statuses)-1] != dbstore.StatusFailed {
		t.Fatalf("expected deck marked failed, got %v", decks.statuses)
	}
}
