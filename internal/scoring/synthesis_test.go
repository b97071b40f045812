package scoring

import (
	"context"
	"strings"
	"testing"
)

// recommendationSynthesisPrompt is the literal text seeded by
// 0004_seed_prompts.up.sql for the recommendation_synthesis stage —
// kept in sync with the migration so a placeholder mismatch between
// this prompt and renderPrompt's substitution keys fails a test
// instead of silently leaking a literal "{weak_questions}" into
// production model calls.
const recommendationSynthesisPrompt = `The chapter "{chapter_name}" scored low. Based on its weakest questions below, write one short actionable recommendation for the founders.
{weak_questions}`

func TestKeyPointsDedupesAcrossChapters(t *testing.T) {
	result := &TemplateResult{ChapterAnalysis: map[string]ChapterResult{
		"a": {Questions: []QuestionResult{
			{Score: 7, HealthcareFocus: "clinical evidence"},
			{Score: 5, HealthcareFocus: "regulatory clarity"},
			{Score: 1, HealthcareFocus: "team depth"},
		}},
		"b": {Questions: []QuestionResult{
			{Score: 6, HealthcareFocus: "clinical evidence"},
			{Score: 4, HealthcareFocus: "market size"},
		}},
	}}

	points := KeyPoints(result)
	seen := map[string]int{}
	for _, p := range points {
		seen[p]++
	}
	if seen["clinical evidence"] != 1 {
		t.Fatalf("expected clinical evidence deduped to one entry, got %d", seen["clinical evidence"])
	}
	if seen["team depth"] != 0 {
		t.Fatalf("expected team depth excluded (3rd-ranked in its chapter), got present")
	}
}

func TestRecommendationsOnlyBelowThreshold(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"Focus on clinical validation next."}}
	s := NewSynthesizer(completer, "llama3.1", 4096)

	result := &TemplateResult{ChapterAnalysis: map[string]ChapterResult{
		"strong": {Name: "Strong Chapter", WeightedScore: 6.0},
		"weak":   {Name: "Weak Chapter", WeightedScore: 2.5, Questions: []QuestionResult{{QuestionText: "q", ScoringResponse: "weak answer"}}},
	}}

	recs, err := s.Recommendations(context.Background(), result, recommendationSynthesisPrompt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := recs["strong"]; ok {
		t.Fatal("did not expect a recommendation for a chapter above threshold")
	}
	if recs["weak"] != "Focus on clinical validation next." {
		t.Fatalf("unexpected recommendation: %+v", recs)
	}
}

// TestRecommendationsSubstitutesWeakQuestions guards against the
// seeded prompt's {weak_questions} placeholder and the synthesizer's
// substitution map falling out of sync: renderPrompt leaves unknown
// {...} tokens as literal text, so a key mismatch would silently send
// the model a prompt containing "{weak_questions}" instead of the
// actual weak-question summary.
func TestRecommendationsSubstitutesWeakQuestions(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"ack"}}
	s := NewSynthesizer(completer, "llama3.1", 4096)

	result := &TemplateResult{ChapterAnalysis: map[string]ChapterResult{
		"weak": {
			Name:          "Weak Chapter",
			WeightedScore: 1.0,
			Questions:     []QuestionResult{{QuestionText: "Is there clinical evidence?", ScoringResponse: "no peer-reviewed data"}},
		},
	}}

	if _, err := s.Recommendations(context.Background(), result, recommendationSynthesisPrompt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := completer.prompts[0]
	if strings.Contains(sent, "{weak_questions}") {
		t.Fatalf("weak_questions placeholder leaked unsubstituted into prompt: %q", sent)
	}
	if !strings.Contains(sent, "Is there clinical evidence?") {
		t.Fatalf("expected weak question text substituted into prompt, got %q", sent)
	}
}
