// Package pdftext reads the native text layer of PDF files and decides
// whether a document is born-digital or a scan that needs OCR.
package pdftext

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
)

const (
	// minTextLayerChars is the per-page threshold below which a text
	// layer is treated as absent. Scanner stamps and page numbers alone
	// stay under it.
	minTextLayerChars = 20

	// A document counts as scanned when few pages carry text and most
	// carry full-page images.
	maxTextRatio  = 0.5
	minImageRatio = 0.7
)

// scannedLayerWarning is recorded on the document so reviewers can see
// why field confidence may be lower than usual.
const scannedLayerWarning = "documento probabilmente scansionato (testo nativo minimo)"

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract walks every page once. Unreadable or corrupt files do not fail
// the pipeline: they come back empty and flagged as scanned so the OCR
// pass gets its chance.
func (e *Extractor) Extract(ctx context.Context, filePath string) (result *domain.ExtractionResult, err error) {
	defer func() {
		// The pdf reader panics on some malformed files.
		if r := recover(); r != nil {
			result = corruptResult(fmt.Sprintf("pdf parse panic: %v", r))
			err = nil
		}
	}()

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return corruptResult(fmt.Sprintf("pdf open failed: %v", err)), nil
	}
	defer f.Close()

	total := reader.NumPage()
	if total == 0 {
		return corruptResult("pdf has no pages"), nil
	}

	result = &domain.ExtractionResult{TotalPages: total}
	var raw strings.Builder
	textPages := 0
	imagePages := 0

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		content := domain.PageContent{PageNumber: i}
		if !page.V.IsNull() {
			content.Text = pageText(page)
			content.ImageCount = countImages(page)
		}
		trimmed := strings.TrimSpace(content.Text)
		content.HasTextLayer = len(trimmed) > minTextLayerChars
		if content.HasTextLayer {
			textPages++
		}
		// Short fragments below the layer threshold still belong in the
		// aggregate text.
		if trimmed != "" {
			if raw.Len() > 0 {
				raw.WriteString("\n\n")
			}
			raw.WriteString(content.Text)
		}
		if content.ImageCount > 0 {
			imagePages++
		}
		result.Pages = append(result.Pages, content)
	}

	result.RawText = strings.TrimSpace(raw.String())
	applyScanVerdict(result, textPages, imagePages)
	return result, nil
}

// applyScanVerdict sets the document-level scanned flag and, when it
// fires, records a non-fatal warning alongside it.
func applyScanVerdict(result *domain.ExtractionResult, textPages, imagePages int) {
	if result.TotalPages == 0 {
		return
	}
	textRatio := float64(textPages) / float64(result.TotalPages)
	imageRatio := float64(imagePages) / float64(result.TotalPages)
	result.IsScanned = textRatio < maxTextRatio && imageRatio >= minImageRatio
	if result.IsScanned {
		result.Warnings = append(result.Warnings, scannedLayerWarning)
	}
}

func pageText(page pdf.Page) string {
	defer func() { _ = recover() }()
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// countImages counts image XObjects in the page resource dictionary.
func countImages(page pdf.Page) (n int) {
	defer func() { _ = recover() }()
	resources := page.V.Key("Resources")
	if resources.IsNull() {
		return 0
	}
	xobjects := resources.Key("XObject")
	if xobjects.IsNull() {
		return 0
	}
	for _, name := range xobjects.Keys() {
		obj := xobjects.Key(name)
		if obj.Key("Subtype").Name() == "Image" {
			n++
		}
	}
	return n
}

func corruptResult(warning string) *domain.ExtractionResult {
	return &domain.ExtractionResult{
		IsScanned: true,
		Warnings:  []string{warning},
	}
}

var _ ports.TextExtractor = (*Extractor)(nil)
