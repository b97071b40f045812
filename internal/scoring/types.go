package scoring

// Chapter mirrors the subset of dbstore.Chapter/Question the executor
// needs, independent of the storage layer.
type Chapter struct {
	Key         string
	Name        string
	Description string
	Weight      float64
	Questions   []Question
}

// Question is one scored question within a Chapter.
type Question struct {
	Text            string
	ScoringCriteria string
	HealthcareFocus string
	Weight          float64
}

// QuestionResult is one answered-and-scored question (§4.7 step 5).
type QuestionResult struct {
	QuestionText    string  `json:"question_text"`
	Score           int     `json:"score"`
	Response        string  `json:"response"`
	ScoringResponse string  `json:"scoring_response"`
	HealthcareFocus string  `json:"healthcare_focus,omitempty"`
	ScoringFailed   bool    `json:"-"`
}

// ChapterResult is chapter_analysis[chapter_key] (§4.7 step 5).
type ChapterResult struct {
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	WeightedScore float64          `json:"weighted_score"`
	TotalQuestions int             `json:"total_questions"`
	Questions     []QuestionResult `json:"questions"`
}

// TemplateResult is execute_template's full return value.
type TemplateResult struct {
	ChapterAnalysis map[string]ChapterResult `json:"chapter_analysis"`
	ReportScores    map[string]float64       `json:"report_scores"`
	OverallScore    float64                  `json:"overall_score"`
}
