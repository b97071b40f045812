// Package storage implements the shared filesystem layout (§4.1): path
// conventions rooted at SHARED_FILESYSTEM_MOUNT_PATH, plus the
// atomic-write-then-rename primitive every writer on the worker uses.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Layout resolves the shared-storage paths rooted at a mount path.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root.
func New(root string) *Layout {
	return &Layout{Root: root}
}

// UploadDir returns the directory an uploaded PDF for (companyID, uploadID)
// lives in: uploads/<company_id>/<uuid>/.
func (l *Layout) UploadDir(companyID, uploadID string) string {
	return filepath.Join(l.Root, "uploads", companyID, uploadID)
}

// UploadPath returns the full path to an uploaded PDF.
func (l *Layout) UploadPath(companyID, uploadID, filename string) string {
	return filepath.Join(l.UploadDir(companyID, uploadID), filename)
}

// DeckSlug derives the deck_slug from a PDF filename: extension removed,
// whitespace replaced with '-' (§4.1).
func DeckSlug(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return whitespaceRE.ReplaceAllString(base, "-")
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// FilenameFromPath returns the base filename of a stored PDF path.
func FilenameFromPath(path string) string {
	return filepath.Base(path)
}

// AnalysisDir returns projects/<company_id>/analysis/<deck_slug>/.
func (l *Layout) AnalysisDir(companyID, deckSlug string) string {
	return filepath.Join(l.Root, "projects", companyID, "analysis", deckSlug)
}

// SlideImagePath returns the absolute path to slide_{n}.jpg (1-indexed).
func (l *Layout) SlideImagePath(companyID, deckSlug string, page int) string {
	return filepath.Join(l.AnalysisDir(companyID, deckSlug), fmt.Sprintf("slide_%d.jpg", page))
}

// SlideImageRelPath returns the path recorded in slide_image_path: it is
// relative to the projects/<company_id>/ directory, per §4.4 step 3
// ("analysis/<deck_slug>/slide_{N}.jpg").
func SlideImageRelPath(deckSlug string, page int) string {
	return fmt.Sprintf("analysis/%s/slide_%d.jpg", deckSlug, page)
}

// ResultsPath returns results/job_{deck_id}_{epoch}_results.json.
func (l *Layout) ResultsPath(deckID int64, epoch int64) string {
	return filepath.Join(l.Root, "results", fmt.Sprintf("job_%d_%d_results.json", deckID, epoch))
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// WriteAtomic writes data to path via a temp file in the same directory
// followed by a rename, so concurrent readers never observe a partial
// write.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
