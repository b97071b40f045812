// Package scoring implements execute_template (§4.7): the two-call
// chapter/question scoring engine that grounds every answer in the
// deck's own slide text and rolls weighted question scores up into
// chapter and overall scores.
package scoring

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
)

// Completer is the subset of modelrt.Adapter the executor needs.
type Completer interface {
	Complete(ctx context.Context, req modelrt.CompleteRequest) (string, error)
}

// Executor runs execute_template.
type Executor struct {
	adapter Completer
	model   string
	numCtx  int
}

// NewExecutor builds an Executor using model for both calls of the
// two-call pattern.
func NewExecutor(adapter Completer, model string, numCtx int) *Executor {
	return &Executor{adapter: adapter, model: model, numCtx: numCtx}
}

// Execute scores every chapter/question in chapters, in the order
// given — callers must pass them already ordered by order_index
// (§4.7 step 2).
func (e *Executor) Execute(ctx context.Context, chapters []Chapter, companyOffering, slideText, scoringPromptTemplate string) (*TemplateResult, error) {
	pitchDeckText := buildPitchDeckText(companyOffering, slideText)

	result := &TemplateResult{
		ChapterAnalysis: make(map[string]ChapterResult, len(chapters)),
		ReportScores:    make(map[string]float64, len(chapters)),
	}

	var overallWeightedSum, overallWeightTotal float64
	for _, chapter := range chapters {
		cr, chapterScore, err := e.executeChapter(ctx, chapter, pitchDeckText, scoringPromptTemplate)
		if err != nil {
			return nil, err
		}
		result.ChapterAnalysis[chapter.Key] = cr
		result.ReportScores[chapter.Key] = cr.WeightedScore
		overallWeightedSum += chapterScore * chapter.Weight
		overallWeightTotal += chapter.Weight
	}

	if overallWeightTotal > 0 {
		result.OverallScore = round1(overallWeightedSum / overallWeightTotal)
	}
	return result, nil
}

func (e *Executor) executeChapter(ctx context.Context, chapter Chapter, pitchDeckText, scoringPromptTemplate string) (ChapterResult, float64, error) {
	questions := make([]QuestionResult, 0, len(chapter.Questions))
	var weightedSum, weightTotal float64

	for _, q := range chapter.Questions {
		qr, err := e.executeQuestion(ctx, q, pitchDeckText, scoringPromptTemplate)
		if err != nil {
			return ChapterResult{}, 0, err
		}
		questions = append(questions, qr)
		weightedSum += float64(qr.Score) * q.Weight
		weightTotal += q.Weight
	}

	var chapterScore float64
	if weightTotal > 0 {
		chapterScore = weightedSum / weightTotal
	}

	return ChapterResult{
		Name:           chapter.Name,
		Description:    chapter.Description,
		WeightedScore:  round1(chapterScore),
		TotalQuestions: len(questions),
		Questions:      questions,
	}, chapterScore, nil
}

// executeQuestion implements §4.7 step 2's two-call pattern: a free-text
// response call, then a scoring call with that response substituted in.
// A scoring parse failure never aborts the chapter — it yields
// score=0, scoring_failed=true (the pending -> responded -> scored |
// scoring_failed state machine in §4.7).
func (e *Executor) executeQuestion(ctx context.Context, q Question, pitchDeckText, scoringPromptTemplate string) (QuestionResult, error) {
	responsePrompt := renderPrompt(scoringPromptTemplate, map[string]string{
		"question_text":    q.Text,
		"scoring_criteria": q.ScoringCriteria,
		"response":         "",
		"pitch_deck_text":  pitchDeckText,
	})
	response, err := e.adapter.Complete(ctx, modelrt.CompleteRequest{
		Model:       e.model,
		Prompt:      responsePrompt,
		NumCtx:      e.numCtx,
		Temperature: 0.2,
	})
	if err != nil {
		return QuestionResult{}, apperr.Wrap(apperr.KindOf(err), "answer question", err)
	}
	response = strings.TrimSpace(response)

	scoringPrompt := renderPrompt(scoringPromptTemplate, map[string]string{
		"question_text":    q.Text,
		"scoring_criteria": q.ScoringCriteria,
		"response":         response,
		"pitch_deck_text":  pitchDeckText,
	})
	rawScore, err := e.adapter.Complete(ctx, modelrt.CompleteRequest{
		Model:       e.model,
		Prompt:      scoringPrompt,
		NumCtx:      e.numCtx,
		Temperature: 0,
	})
	if err != nil {
		return QuestionResult{}, apperr.Wrap(apperr.KindOf(err), "score question", err)
	}

	score, ok := ParseScore(rawScore)
	return QuestionResult{
		QuestionText:    q.Text,
		Score:           score,
		Response:        response,
		ScoringResponse: strings.TrimSpace(rawScore),
		HealthcareFocus: q.HealthcareFocus,
		ScoringFailed:   !ok,
	}, nil
}

func buildPitchDeckText(companyOffering, slideText string) string {
	return companyOffering + "\n\n" + slideText
}

var placeholderRE = regexp.MustCompile(`\{[a-z_]+\}`)

// renderPrompt substitutes {var} placeholders. Unknown placeholders are
// left as-is rather than erroring, since prompts are operator-editable
// (§4.2) and a typo in a custom prompt should degrade, not crash a job.
func renderPrompt(tmpl string, vars map[string]string) string {
	return placeholderRE.ReplaceAllStringFunc(tmpl, func(token string) string {
		key := strings.Trim(token, "{}")
		if v, ok := vars[key]; ok {
			return v
		}
		return token
	})
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Slugify derives a chapter_key from a chapter name: lowercase, spaces
// and punctuation collapsed to underscores. Used by callers building
// Chapter.Key from a dbstore.Chapter.
func Slugify(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	prevUnderscore := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
