package scoring

import (
	"context"
	"strings"
	"testing"

	"github.com/halbzeit-ai/deckreview/internal/modelrt"
)

const testPromptTemplate = "Question: {question_text}\nCriteria: {scoring_criteria}\nPrior response: {response}\nDeck:\n{pitch_deck_text}"

type scriptedCompleter struct {
	responses []string
	prompts   []string
	i         int
}

func (s *scriptedCompleter) Complete(ctx context.Context, req modelrt.CompleteRequest) (string, error) {
	s.prompts = append(s.prompts, req.Prompt)
	out := s.responses[s.i]
	s.i++
	return out, nil
}

func TestExecuteSingleChapterSingleQuestion(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		"The company addresses chronic disease monitoring.", // response call
		"Score: 6 — strong clinical grounding",               // scoring call
	}}
	e := NewExecutor(completer, "llama3.1", 4096)

	chapters := []Chapter{{
		Key:    "problem_and_market",
		Name:   "Problem & Market",
		Weight: 1.0,
		Questions: []Question{
			{Text: "What problem does this solve?", ScoringCriteria: "clarity and evidence", Weight: 1.0},
		},
	}}

	result, err := e.Execute(context.Background(), chapters, "A remote monitoring platform.", "Slide 1: dashboard\n\n", testPromptTemplate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cr, ok := result.ChapterAnalysis["problem_and_market"]
	if !ok {
		t.Fatalf("missing chapter key, got %+v", result.ChapterAnalysis)
	}
	if cr.WeightedScore != 6 {
		t.Fatalf("expected weighted score 6, got %v", cr.WeightedScore)
	}
	if cr.TotalQuestions != 1 || cr.Questions[0].Score != 6 {
		t.Fatalf("unexpected question result: %+v", cr.Questions)
	}
	if result.OverallScore != 6 {
		t.Fatalf("expected overall score 6, got %v", result.OverallScore)
	}
	if !strings.Contains(completer.prompts[1], "Prior response: The company addresses chronic disease monitoring.") {
		t.Fatalf("expected second call to carry the first call's response, got %q", completer.prompts[1])
	}
}

func TestExecuteScoringFailureYieldsZeroNotError(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		"A partial answer.",
		"I cannot determine a numeric score for this, sorry.",
	}}
	e := NewExecutor(completer, "llama3.1", 4096)

	chapters := []Chapter{{
		Key:    "team",
		Name:   "Team",
		Weight: 1.0,
		Questions: []Question{
			{Text: "Who is on the team?", Weight: 1.0},
		},
	}}

	result, err := e.Execute(context.Background(), chapters, "offering", "slides", testPromptTemplate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ChapterAnalysis["team"].Questions[0].Score != 0 {
		t.Fatalf("expected score 0 on parse failure, got %+v", result.ChapterAnalysis["team"])
	}
	if !result.ChapterAnalysis["team"].Questions[0].ScoringFailed {
		t.Fatal("expected ScoringFailed=true")
	}
}

func TestChapterWeightedRollup(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		"resp1", "Score: 7",
		"resp2", "Score: 3",
	}}
	e := NewExecutor(completer, "llama3.1", 4096)

	chapters := []Chapter{{
		Key:    "traction",
		Name:   "Traction",
		Weight: 1.0,
		Questions: []Question{
			{Text: "q1", Weight: 3.0},
			{Text: "q2", Weight: 1.0},
		},
	}}

	result, err := e.Execute(context.Background(), chapters, "offering", "slides", testPromptTemplate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (7*3 + 3*1) / 4 = 6.0
	if result.ChapterAnalysis["traction"].WeightedScore != 6.0 {
		t.Fatalf("expected weighted rollup 6.0, got %v", result.ChapterAnalysis["traction"].WeightedScore)
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Problem & Market":     "problem_market",
		"Clinical Evidence":    "clinical_evidence",
		"  Team  ":             "team",
		"Regulatory/Strategy!": "regulatory_strategy",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderPromptLeavesUnknownPlaceholders(t *testing.T) {
	out := renderPrompt("Hi {question_text} {unknown_var}", map[string]string{"question_text": "there"})
	if out != "Hi there {unknown_var}" {
		t.Fatalf("unexpected render: %q", out)
	}
}
