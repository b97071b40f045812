// Package registry implements the prompt and template registries (§4.2):
// thin DB-backed read-through views, consulted by the worker at every use.
// Per the design note in spec.md §9, there is deliberately no in-memory
// global mutable cache here — a cache sitting in front of this package
// must key on (stage_name, updated_at) or invalidate on writes, and none
// of the pipeline stages need that complexity at the scale of one deck
// at a time.
package registry

import (
	"context"

	"github.com/halbzeit-ai/deckreview/internal/dbstore"
)

// PromptStore is the subset of *dbstore.Store the prompt registry needs,
// so callers can substitute a fake in tests.
type PromptStore interface {
	GetPrompt(ctx context.Context, stage dbstore.PromptStage) (*dbstore.PipelinePrompt, error)
	SetPrompt(ctx context.Context, stage dbstore.PromptStage, text string) error
	ResetPrompt(ctx context.Context, stage dbstore.PromptStage) error
}

// TemplateStore is the subset of *dbstore.Store the template registry needs.
type TemplateStore interface {
	ListSectors(ctx context.Context) ([]dbstore.Sector, error)
	GetSector(ctx context.Context, sectorID int64) (*dbstore.Sector, error)
	ListTemplates(ctx context.Context, sectorID *int64) ([]dbstore.Template, error)
	GetTemplate(ctx context.Context, templateID int64) (*dbstore.Template, []dbstore.Chapter, []dbstore.Question, error)
	GetActiveTemplate(ctx context.Context, policy dbstore.TemplatePolicy, sectorID *int64) (*dbstore.Template, error)
}

// PromptRegistry exposes get_prompt / reset_prompt (§4.2).
type PromptRegistry struct {
	store PromptStore
}

// NewPromptRegistry wraps store.
func NewPromptRegistry(store PromptStore) *PromptRegistry {
	return &PromptRegistry{store: store}
}

// GetPrompt returns the current prompt text for stage. Unknown stage
// names fail with NotFound; there is no built-in fallback other than
// DefaultPromptText, which lives in the row itself.
func (r *PromptRegistry) GetPrompt(ctx context.Context, stage dbstore.PromptStage) (string, error) {
	p, err := r.store.GetPrompt(ctx, stage)
	if err != nil {
		return "", err
	}
	return p.PromptText, nil
}

// ResetPrompt restores stage to its default text.
func (r *PromptRegistry) ResetPrompt(ctx context.Context, stage dbstore.PromptStage) error {
	return r.store.ResetPrompt(ctx, stage)
}

// SetPrompt overwrites stage's prompt text.
func (r *PromptRegistry) SetPrompt(ctx context.Context, stage dbstore.PromptStage, text string) error {
	return r.store.SetPrompt(ctx, stage, text)
}

// TemplateRegistry exposes list_sectors / list_templates / get_template /
// get_active_template (§4.2).
type TemplateRegistry struct {
	store TemplateStore
}

// NewTemplateRegistry wraps store.
func NewTemplateRegistry(store TemplateStore) *TemplateRegistry {
	return &TemplateRegistry{store: store}
}

func (r *TemplateRegistry) ListSectors(ctx context.Context) ([]dbstore.Sector, error) {
	return r.store.ListSectors(ctx)
}

func (r *TemplateRegistry) GetSector(ctx context.Context, sectorID int64) (*dbstore.Sector, error) {
	return r.store.GetSector(ctx, sectorID)
}

func (r *TemplateRegistry) ListTemplates(ctx context.Context, sectorID *int64) ([]dbstore.Template, error) {
	return r.store.ListTemplates(ctx, sectorID)
}

// Resolved bundles a template with its ordered chapters and questions.
type Resolved struct {
	Template *dbstore.Template
	Chapters []dbstore.Chapter
	// QuestionsByChapter maps a chapter's ID to its questions, in
	// order_index order.
	QuestionsByChapter map[int64][]dbstore.Question
}

func (r *TemplateRegistry) GetTemplate(ctx context.Context, templateID int64) (*Resolved, error) {
	t, chapters, questions, err := r.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	byChapter := make(map[int64][]dbstore.Question, len(chapters))
	for _, q := range questions {
		byChapter[q.ChapterID] = append(byChapter[q.ChapterID], q)
	}
	return &Resolved{Template: t, Chapters: chapters, QuestionsByChapter: byChapter}, nil
}

func (r *TemplateRegistry) GetActiveTemplate(ctx context.Context, policy dbstore.TemplatePolicy, sectorID *int64) (*Resolved, error) {
	t, err := r.store.GetActiveTemplate(ctx, policy, sectorID)
	if err != nil {
		return nil, err
	}
	return r.GetTemplate(ctx, t.ID)
}
