package dbstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// GetPrompt implements the prompt registry's get_prompt(stage_name) (§4.2).
// The worker calls this at every use — there is no in-process cache, per
// the design note in spec.md §9.
func (s *Store) GetPrompt(ctx context.Context, stage PromptStage) (*PipelinePrompt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT stage_name, prompt_text, default_prompt_text, updated_at
		 FROM pipeline_prompts WHERE stage_name = $1`, stage)
	var p PipelinePrompt
	if err := row.Scan(&p.StageName, &p.PromptText, &p.DefaultPromptText, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, fmt.Sprintf("unknown prompt stage %q", stage))
		}
		return nil, apperr.Wrap(apperr.Internal, "scan prompt", err)
	}
	return &p, nil
}

// SetPrompt overwrites prompt_text for stage. Read-back is guaranteed
// byte-identical (§8 round-trip property).
func (s *Store) SetPrompt(ctx context.Context, stage PromptStage, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_prompts SET prompt_text = $2, updated_at = now() WHERE stage_name = $1`,
		stage, text)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "update prompt", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, fmt.Sprintf("unknown prompt stage %q", stage))
	}
	return nil
}

// ResetPrompt restores prompt_text to default_prompt_text exactly (§4.2).
func (s *Store) ResetPrompt(ctx context.Context, stage PromptStage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_prompts SET prompt_text = default_prompt_text, updated_at = now() WHERE stage_name = $1`,
		stage)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "reset prompt", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, fmt.Sprintf("unknown prompt stage %q", stage))
	}
	return nil
}

// GetModelConfig returns the active model name for kind.
func (s *Store) GetModelConfig(ctx context.Context, kind ModelKind) (*ModelConfig, error) {
	row := s.pool.QueryRow(ctx, `SELECT kind, model_name FROM model_configs WHERE kind = $1`, kind)
	var mc ModelConfig
	if err := row.Scan(&mc.Kind, &mc.ModelName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, fmt.Sprintf("no model configured for kind %q", kind))
		}
		return nil, apperr.Wrap(apperr.Internal, "scan model config", err)
	}
	return &mc, nil
}
