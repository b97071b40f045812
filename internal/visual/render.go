package visual

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"

	"github.com/halbzeit-ai/deckreview/internal/apperr"
	"github.com/halbzeit-ai/deckreview/internal/storage"
)

// RasterDPI is the fixed rasterization resolution (§4.4 step 2). The
// spec leaves DPI to the implementation as long as it is deterministic
// for a given PDF; 150 is the conventional floor for vision-model
// legibility on slide-style text without inflating file size.
const RasterDPI = 150

const jpegQuality = 85

// RenderedPage is one rasterized slide.
type RenderedPage struct {
	PageNumber int // 1-indexed
	JPEG       []byte
}

// RenderPDF rasterizes every page of the PDF at path to JPEG at
// RasterDPI, in page order.
func RenderPDF(path string) ([]RenderedPage, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ParseFailure, "open pdf", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	pages := make([]RenderedPage, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, RasterDPI)
		if err != nil {
			return nil, apperr.Wrap(apperr.ParseFailure, fmt.Sprintf("rasterize page %d", i+1), err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, apperr.Wrap(apperr.Internal, fmt.Sprintf("encode page %d", i+1), err)
		}
		pages = append(pages, RenderedPage{PageNumber: i + 1, JPEG: buf.Bytes()})
	}
	return pages, nil
}

// WriteSlideImage persists a rendered page at path, atomically.
func WriteSlideImage(path string, jpegBytes []byte) error {
	if err := storage.WriteAtomic(path, jpegBytes); err != nil {
		return apperr.Wrap(apperr.StorageError, "write slide image", err)
	}
	return nil
}
