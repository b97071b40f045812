package visual

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/modelrt"
	"github.com/halbzeit-ai/deckreview/internal/storage"
)

// CacheStore is the subset of dbstore the analyzer needs to write
// through its progressive cache (§4.4 step 5).
type CacheStore interface {
	UpsertVisualAnalysisCache(ctx context.Context, deckID int64, visionModel, promptHash string, resultJSON []byte) error
}

// SlideResult is one entry of analyze_visual's returned list.
type SlideResult struct {
	PageNumber     int    `json:"page_number"`
	SlideImagePath string `json:"slide_image_path"`
	Description    string `json:"description"`
}

// Result is the full outcome of one deck's visual analysis.
type Result struct {
	Slides      []SlideResult
	FailedPages int
}

// Params is analyze_visual's input (§4.4).
type Params struct {
	DeckID      int64
	CompanyID   string
	DeckSlug    string
	PDFPath     string
	VisionModel string
	ImagePrompt string
	NumCtx      int
}

// Analyzer implements analyze_visual. It is deliberately stateless
// across calls — Run takes every deck-specific value as a parameter and
// returns a freshly built Result, holding nothing in instance fields
// that could leak from one deck into the next. That structural choice
// is what makes the hard reset invariant in §4.4 ("cross-deck
// contamination is a defect of the highest severity") impossible to
// violate by construction, rather than something to remember to clear.
type Analyzer struct {
	adapter modelrt.Adapter
	cache   CacheStore
	layout  *storage.Layout
	log     zerolog.Logger

	backoffBase time.Duration
	maxRetries  int
	temperature float64
}

// NewAnalyzer builds an Analyzer.
func NewAnalyzer(adapter modelrt.Adapter, cache CacheStore, layout *storage.Layout, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		adapter:     adapter,
		cache:       cache,
		layout:      layout,
		log:         log.With().Str("subsystem", "visual").Logger(),
		backoffBase: time.Second,
		maxRetries:  2,
		temperature: 0.2,
	}
}

// Run renders p.PDFPath and describes every page with the vision model,
// in order, writing slide images and a progressive cache row.
func (a *Analyzer) Run(ctx context.Context, p Params) (*Result, error) {
	dir := a.layout.AnalysisDir(p.CompanyID, p.DeckSlug)
	if err := storage.EnsureDir(dir); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "create analysis dir", err)
	}

	pages, err := RenderPDF(p.PDFPath)
	if err != nil {
		return nil, err
	}

	result := &Result{Slides: make([]SlideResult, 0, len(pages))}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return result, apperr.Wrap(apperr.Internal, "visual analysis cancelled", err)
		}

		imgPath := a.layout.SlideImagePath(p.CompanyID, p.DeckSlug, page.PageNumber)
		if err := WriteSlideImage(imgPath, page.JPEG); err != nil {
			return nil, err
		}
		relPath := storage.SlideImageRelPath(p.DeckSlug, page.PageNumber)

		description, ok := a.describePage(ctx, p, page)
		if !ok {
			result.FailedPages++
		}
		result.Slides = append(result.Slides, SlideResult{
			PageNumber:     page.PageNumber,
			SlideImagePath: relPath,
			Description:    description,
		})
	}

	if err := a.writeCache(ctx, p, result); err != nil {
		return result, err
	}
	return result, nil
}

// describePage calls the vision model for one page, retrying up to
// a.maxRetries times with a backoff counter local to this page (§4.4
// step 4). A page that never succeeds yields ("", false): the caller
// still appends a record, with description="" and FailedPages++.
func (a *Analyzer) describePage(ctx context.Context, p Params, page RenderedPage) (string, bool) {
	bo := newPageBackoff(a.backoffBase, a.maxRetries)
	for {
		desc, err := a.adapter.AnalyzeImage(ctx, modelrt.AnalyzeImageRequest{
			Model:       p.VisionModel,
			Prompt:      p.ImagePrompt,
			ImageJPEG:   page.JPEG,
			NumCtx:      p.NumCtx,
			Temperature: a.temperature,
		})
		if err == nil {
			return desc, true
		}

		kind := apperr.KindOf(err)
		retryable := kind == apperr.ModelUnavailable || kind == apperr.ModelTimeout
		a.log.Warn().Err(err).Int("page", page.PageNumber).Bool("retryable", retryable).Msg("vision call failed")
		if !retryable || !bo.sleep(ctx) {
			return "", false
		}
	}
}

func (a *Analyzer) writeCache(ctx context.Context, p Params, result *Result) error {
	payload, err := json.Marshal(result.Slides)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal visual analysis result", err)
	}
	hash := promptHash(p.ImagePrompt)
	if err := a.cache.UpsertVisualAnalysisCache(ctx, p.DeckID, p.VisionModel, hash, payload); err != nil {
		return err
	}
	return nil
}

// promptHash is the hash(image_prompt) referenced by the cache key in
// §4.4 step 5 and §3's visual_analysis_cache schema.
func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// ConcatenateDescriptions joins slide descriptions in page order for
// downstream stages (offering extraction, template execution), per
// §4.5/§4.7's "order preserved" requirement.
func ConcatenateDescriptions(slides []SlideResult) string {
	out := ""
	for _, s := range slides {
		if s.Description == "" {
			continue
		}
		out += fmt.Sprintf("Slide %d: %s\n\n", s.PageNumber, s.Description)
	}
	return out
}
