package dbstore

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

//go:embed default_templates.yaml
var defaultTemplateSeedYAML []byte

// QuestionSeed is one question of a TemplateSeed.
type QuestionSeed struct {
	Text            string  `yaml:"question_text"`
	ScoringCriteria string  `yaml:"scoring_criteria"`
	HealthcareFocus string  `yaml:"healthcare_focus"`
	Weight          float64 `yaml:"weight"`
}

// ChapterSeed is one chapter of a TemplateSeed.
type ChapterSeed struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Weight      float64        `yaml:"weight"`
	Questions   []QuestionSeed `yaml:"questions"`
}

// TemplateSeed is the YAML-defined bootstrap shape for a sector-specific
// (or cross-sector, when Sector is empty) template: a named, versioned
// set of weighted chapters and questions plus the specialized analyses
// it declares (§4.8). Bundled as a worker asset per SPEC_FULL.md §2's
// domain-stack wiring for gopkg.in/yaml.v3.
type TemplateSeed struct {
	Sector              string        `yaml:"sector"`
	Name                string        `yaml:"name"`
	Description         string        `yaml:"description"`
	IsDefault           bool          `yaml:"is_default"`
	SpecializedAnalyses []string      `yaml:"specialized_analyses"`
	Chapters            []ChapterSeed `yaml:"chapters"`
}

// DefaultTemplateSeeds parses the worker's bundled sector-template
// bundle (internal/dbstore/default_templates.yaml).
func DefaultTemplateSeeds() ([]TemplateSeed, error) {
	return ParseTemplateSeeds(defaultTemplateSeedYAML)
}

// ParseTemplateSeeds parses a YAML document holding a list of
// TemplateSeed entries, as loaded from a file via LoadTemplateSeedFile
// or embedded at build time.
func ParseTemplateSeeds(data []byte) ([]TemplateSeed, error) {
	var seeds []TemplateSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "parse template seed document", err)
	}
	return seeds, nil
}

// LoadTemplateSeedFile reads and parses a template seed bundle from an
// operator-supplied path (TEMPLATE_SEED_PATH), the same
// read-from-disk-override shape the teacher's PricingConfig.LoadFromFile
// uses for its JSON pricing overrides.
func LoadTemplateSeedFile(path string) ([]TemplateSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, fmt.Sprintf("read template seed file %q", path), err)
	}
	return ParseTemplateSeeds(data)
}

// SeedTemplates upserts every seed's template, and — only the first time
// that template is seen — its chapters and questions. Matched by
// (sector name, template name); idempotent across worker restarts.
func (s *Store) SeedTemplates(ctx context.Context, seeds []TemplateSeed) error {
	for _, seed := range seeds {
		if err := s.seedOne(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seedOne(ctx context.Context, seed TemplateSeed) error {
	var sectorID *int64
	if seed.Sector != "" {
		var id int64
		row := s.pool.QueryRow(ctx, `SELECT id FROM healthcare_sectors WHERE name = $1`, seed.Sector)
		if err := row.Scan(&id); err != nil {
			return apperr.Wrap(apperr.NotFound, fmt.Sprintf("template seed %q references unknown sector %q", seed.Name, seed.Sector), err)
		}
		sectorID = &id
	}

	var templateID int64
	row := s.pool.QueryRow(ctx,
		`INSERT INTO templates (sector_id, name, description, version, is_default, specialized_analyses)
		 VALUES ($1, $2, $3, 1, $4, $5)
		 ON CONFLICT (sector_id, name) DO UPDATE SET
		     description = EXCLUDED.description,
		     specialized_analyses = EXCLUDED.specialized_analyses
		 RETURNING id`,
		sectorID, seed.Name, seed.Description, seed.IsDefault, seed.SpecializedAnalyses)
	if err := row.Scan(&templateID); err != nil {
		return apperr.Wrap(apperr.Internal, fmt.Sprintf("upsert template seed %q", seed.Name), err)
	}

	var hasChapters bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chapters WHERE template_id = $1)`, templateID).Scan(&hasChapters); err != nil {
		return apperr.Wrap(apperr.Internal, "check existing chapters for template seed", err)
	}
	if hasChapters {
		return nil
	}

	for i, ch := range seed.Chapters {
		var chapterID int64
		row := s.pool.QueryRow(ctx,
			`INSERT INTO chapters (template_id, name, description, order_index, weight)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			templateID, ch.Name, ch.Description, i+1, ch.Weight)
		if err := row.Scan(&chapterID); err != nil {
			return apperr.Wrap(apperr.Internal, fmt.Sprintf("insert chapter seed %q", ch.Name), err)
		}
		for j, q := range ch.Questions {
			if _, err := s.pool.Exec(ctx,
				`INSERT INTO questions (chapter_id, question_text, scoring_criteria, healthcare_focus, weight, order_index)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				chapterID, q.Text, q.ScoringCriteria, q.HealthcareFocus, q.Weight, j+1); err != nil {
				return apperr.Wrap(apperr.Internal, fmt.Sprintf("insert question seed for chapter %q", ch.Name), err)
			}
		}
	}
	return nil
}
