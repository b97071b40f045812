package dbstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
)

// ListSectors returns all 8 healthcare sectors.
func (s *Store) ListSectors(ctx context.Context) ([]Sector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, display_name, description, keywords, confidence_threshold FROM healthcare_sectors ORDER BY id`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list sectors", err)
	}
	defer rows.Close()

	var out []Sector
	for rows.Next() {
		var sec Sector
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.DisplayName, &sec.Description, &sec.Keywords, &sec.ConfidenceThreshold); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan sector", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// GetSector fetches a single sector by ID.
func (s *Store) GetSector(ctx context.Context, sectorID int64) (*Sector, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, display_name, description, keywords, confidence_threshold FROM healthcare_sectors WHERE id = $1`, sectorID)
	var sec Sector
	if err := row.Scan(&sec.ID, &sec.Name, &sec.DisplayName, &sec.Description, &sec.Keywords, &sec.ConfidenceThreshold); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, fmt.Sprintf("sector %d not found", sectorID))
		}
		return nil, apperr.Wrap(apperr.Internal, "scan sector", err)
	}
	return &sec, nil
}

// ListTemplates returns templates, optionally filtered by sectorID.
func (s *Store) ListTemplates(ctx context.Context, sectorID *int64) ([]Template, error) {
	var rows pgx.Rows
	var err error
	if sectorID != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT id, sector_id, name, description, version, is_default, specialized_analyses
			 FROM templates WHERE sector_id = $1 ORDER BY id`, *sectorID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, sector_id, name, description, version, is_default, specialized_analyses
			 FROM templates ORDER BY id`)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list templates", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.SectorID, &t.Name, &t.Description, &t.Version, &t.IsDefault, &t.SpecializedAnalyses); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan template", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTemplate returns a template with its chapters and questions, all in
// order_index order (§4.7 ordering guarantee).
func (s *Store) GetTemplate(ctx context.Context, templateID int64) (*Template, []Chapter, []Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, sector_id, name, description, version, is_default, specialized_analyses
		 FROM templates WHERE id = $1`, templateID)
	var t Template
	if err := row.Scan(&t.ID, &t.SectorID, &t.Name, &t.Description, &t.Version, &t.IsDefault, &t.SpecializedAnalyses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil, apperr.New(apperr.NotFound, fmt.Sprintf("template %d not found", templateID))
		}
		return nil, nil, nil, apperr.Wrap(apperr.Internal, "scan template", err)
	}

	chRows, err := s.pool.Query(ctx,
		`SELECT id, template_id, name, description, order_index, weight
		 FROM chapters WHERE template_id = $1 ORDER BY order_index`, templateID)
	if err != nil {
		return nil, nil, nil, apperr.Wrap(apperr.Internal, "list chapters", err)
	}
	defer chRows.Close()

	var chapters []Chapter
	var chapterIDs []int64
	for chRows.Next() {
		var c Chapter
		if err := chRows.Scan(&c.ID, &c.TemplateID, &c.Name, &c.Description, &c.OrderIndex, &c.Weight); err != nil {
			return nil, nil, nil, apperr.Wrap(apperr.Internal, "scan chapter", err)
		}
		chapters = append(chapters, c)
		chapterIDs = append(chapterIDs, c.ID)
	}
	if err := chRows.Err(); err != nil {
		return nil, nil, nil, apperr.Wrap(apperr.Internal, "iterate chapters", err)
	}

	if len(chapterIDs) == 0 {
		return &t, chapters, nil, nil
	}

	qRows, err := s.pool.Query(ctx,
		`SELECT id, chapter_id, question_text, scoring_criteria, healthcare_focus, weight, order_index
		 FROM questions WHERE chapter_id = ANY($1) ORDER BY chapter_id, order_index`, chapterIDs)
	if err != nil {
		return nil, nil, nil, apperr.Wrap(apperr.Internal, "list questions", err)
	}
	defer qRows.Close()

	var questions []Question
	for qRows.Next() {
		var q Question
		if err := qRows.Scan(&q.ID, &q.ChapterID, &q.QuestionText, &q.ScoringCriteria, &q.HealthcareFocus, &q.Weight, &q.OrderIndex); err != nil {
			return nil, nil, nil, apperr.Wrap(apperr.Internal, "scan question", err)
		}
		questions = append(questions, q)
	}
	return &t, chapters, questions, qRows.Err()
}

// GetActiveTemplate implements get_active_template(policy, sector_id?) (§4.2).
func (s *Store) GetActiveTemplate(ctx context.Context, policy TemplatePolicy, sectorID *int64) (*Template, error) {
	if policy == PolicySingleTemplate {
		row := s.pool.QueryRow(ctx,
			`SELECT id, sector_id, name, description, version, is_default, specialized_analyses
			 FROM templates WHERE sector_id IS NULL AND is_default = true LIMIT 1`)
		return scanTemplate(row)
	}
	if sectorID == nil {
		return nil, apperr.New(apperr.InvalidInput, "sector_id required for sector_classified policy")
	}
	row := s.pool.QueryRow(ctx,
		`SELECT id, sector_id, name, description, version, is_default, specialized_analyses
		 FROM templates WHERE sector_id = $1 AND is_default = true LIMIT 1`, *sectorID)
	t, err := scanTemplate(row)
	if err != nil && apperr.KindOf(err) == apperr.NotFound {
		// Fall back to the cross-sector default when the sector has none of
		// its own (keeps every sector servable even before it is curated).
		row = s.pool.QueryRow(ctx,
			`SELECT id, sector_id, name, description, version, is_default, specialized_analyses
			 FROM templates WHERE sector_id IS NULL AND is_default = true LIMIT 1`)
		return scanTemplate(row)
	}
	return t, err
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	if err := row.Scan(&t.ID, &t.SectorID, &t.Name, &t.Description, &t.Version, &t.IsDefault, &t.SpecializedAnalyses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "no active template for the given policy")
		}
		return nil, apperr.Wrap(apperr.Internal, "scan template", err)
	}
	return &t, nil
}
