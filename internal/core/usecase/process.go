package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
	"github.com/kirillkom/docintel/internal/normalize"
)

type ProcessDocumentUseCase struct {
	repo       ports.DocumentRepository
	pages      ports.PageRepository
	fields     ports.FieldRepository
	storage    ports.ObjectStorage
	extractor  ports.TextExtractor
	ocr        ports.OCREngine
	classifier ports.Classifier
	metatags   ports.FieldExtractor
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	pages ports.PageRepository,
	fields ports.FieldRepository,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	ocr ports.OCREngine,
	classifier ports.Classifier,
	metatags ports.FieldExtractor,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		repo:       repo,
		pages:      pages,
		fields:     fields,
		storage:    storage,
		extractor:  extractor,
		ocr:        ocr,
		classifier: classifier,
		metatags:   metatags,
	}
}

// ProcessByID runs the full pipeline for one document. It claims the
// document with a compare-and-set on status, so a duplicate queue delivery
// or a manual stop racing the pipeline loses cleanly instead of double
// processing. A completion that loses the CAS to a manual stop is not an
// error: the stop wins and the derived data is simply left behind.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	prior := doc.Status
	if !domain.CanTransition(prior, domain.StatusProcessing) {
		return domain.WrapError(domain.ErrConflict, "start processing",
			fmt.Errorf("document %s is %s", documentID, prior))
	}
	if err := uc.repo.UpdateStatusIf(ctx, documentID, prior, domain.StatusProcessing, ""); err != nil {
		return err
	}
	if err := uc.repo.ResetDiagnostics(ctx, documentID); err != nil {
		return err
	}

	if err := uc.runPipeline(ctx, doc, prior); err != nil {
		failErr := uc.repo.UpdateStatusIf(ctx, documentID,
			domain.StatusProcessing, domain.StatusFailed, err.Error())
		if failErr != nil && !domain.IsKind(failErr, domain.ErrConflict) {
			return fmt.Errorf("%w; mark failed: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.UpdateStatusIf(ctx, documentID,
		domain.StatusProcessing, domain.StatusExtracted, ""); err != nil {
		if domain.IsKind(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("set status=extracted: %w", err)
	}
	return nil
}

func (uc *ProcessDocumentUseCase) runPipeline(ctx context.Context, doc *domain.Document, prior domain.DocumentStatus) error {
	filePath := uc.storage.Path(doc.StoragePath)
	var warnings []string

	var rawText string
	if prior == domain.StatusNeedsRotation {
		text, warn, err := uc.rerunWithRotations(ctx, doc, filePath)
		if err != nil {
			return err
		}
		rawText = text
		warnings = append(warnings, warn...)
	} else {
		text, warn, err := uc.extractText(ctx, doc, filePath)
		if err != nil {
			if len(warn) > 0 {
				_ = uc.repo.AppendWarnings(ctx, doc.ID, warn)
			}
			return err
		}
		rawText = text
		warnings = append(warnings, warn...)
	}

	if strings.TrimSpace(rawText) == "" {
		_ = uc.repo.AppendWarnings(ctx, doc.ID, warnings)
		return fmt.Errorf("no text recovered from %s", doc.Filename)
	}

	classification, err := uc.classifier.Classify(ctx, rawText, doc.Filename)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if err := uc.repo.SaveClassification(ctx, doc.ID, classification); err != nil {
		return err
	}
	doc.DocType = classification.DocType
	doc.DocTypeConfidence = classification.Confidence

	output, err := uc.metatags.ExtractFields(ctx, rawText, doc.EffectiveType())
	if err != nil {
		return fmt.Errorf("extract fields: %w", err)
	}
	warnings = append(warnings, output.Warnings...)

	fields := make([]domain.ExtractedField, 0, len(output.Fields))
	for _, f := range output.Fields {
		fields = append(fields, domain.ExtractedField{
			DocumentID:      doc.ID,
			FieldName:       f.FieldName,
			RawValue:        f.RawValue,
			NormalizedValue: f.NormalizedValue,
			Confidence:      f.Confidence,
			Page:            f.Page,
		})
	}
	lines := make([]domain.DocumentLine, 0, len(output.Lines))
	for _, l := range output.Lines {
		lines = append(lines, domain.DocumentLine{
			DocumentID:  doc.ID,
			LineNumber:  l.LineNumber,
			ItemCode:    l.ItemCode,
			Description: l.Description,
			Quantity:    l.Quantity,
			Unit:        l.Unit,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  lineTotal(l),
			Confidence:  l.Confidence,
		})
	}
	if err := uc.fields.ReplaceFields(ctx, doc.ID, fields); err != nil {
		return err
	}
	if err := uc.fields.ReplaceLines(ctx, doc.ID, lines); err != nil {
		return err
	}

	promoteFields(doc, output.Fields)
	doc.RawText = rawText
	doc.Warnings = warnings
	now := time.Now().UTC()
	doc.ProcessedAt = &now

	return uc.repo.SaveExtraction(ctx, doc)
}

// extractText reads the native text layer and falls back to OCR when the
// document looks scanned. It persists the page rows either way.
func (uc *ProcessDocumentUseCase) extractText(ctx context.Context, doc *domain.Document, filePath string) (string, []string, error) {
	extraction, err := uc.extractor.Extract(ctx, filePath)
	if err != nil {
		return "", nil, fmt.Errorf("extract text layer: %w", err)
	}
	warnings := append([]string(nil), extraction.Warnings...)

	pages := make([]domain.Page, 0, len(extraction.Pages))
	for _, p := range extraction.Pages {
		pages = append(pages, domain.Page{
			DocumentID:  doc.ID,
			PageNumber:  p.PageNumber,
			TextContent: p.Text,
		})
	}
	if err := uc.pages.ReplacePages(ctx, doc.ID, pages); err != nil {
		return "", warnings, err
	}

	isScanned := extraction.IsScanned
	doc.IsScanned = &isScanned
	if !isScanned {
		doc.OCRQuality = 1.0
		return extraction.RawText, warnings, nil
	}

	ocrRes, err := uc.ocr.Run(ctx, filePath, nil)
	if err != nil {
		return "", warnings, fmt.Errorf("ocr: %w", err)
	}
	warnings = append(warnings, ocrRes.Warnings...)
	if !ocrRes.Success {
		return "", warnings, fmt.Errorf("ocr recognized no text in %s", doc.Filename)
	}

	text, err := uc.applyOCRPages(ctx, doc.ID, ocrRes)
	if err != nil {
		return "", warnings, err
	}
	doc.OCRQuality = ocrRes.AvgConfidence
	return text, warnings, nil
}

// rerunWithRotations re-runs recognition after a reviewer flagged page
// orientation, forcing the stored per-page angles.
func (uc *ProcessDocumentUseCase) rerunWithRotations(ctx context.Context, doc *domain.Document, filePath string) (string, []string, error) {
	stored, err := uc.pages.ListByDocument(ctx, doc.ID)
	if err != nil {
		return "", nil, err
	}
	rotations := make(map[int]int, len(stored))
	for _, p := range stored {
		rotations[p.PageNumber] = p.RotationAngle
	}
	if len(rotations) == 0 {
		return "", nil, fmt.Errorf("no pages recorded for %s", doc.ID)
	}

	ocrRes, err := uc.ocr.RunWithRotations(ctx, filePath, rotations)
	if err != nil {
		return "", nil, fmt.Errorf("ocr with rotations: %w", err)
	}
	warnings := append([]string(nil), ocrRes.Warnings...)
	if !ocrRes.Success {
		return "", warnings, fmt.Errorf("ocr recognized no text in %s", doc.Filename)
	}

	text, err := uc.applyOCRPages(ctx, doc.ID, ocrRes)
	if err != nil {
		return "", warnings, err
	}
	doc.OCRQuality = ocrRes.AvgConfidence
	return text, warnings, nil
}

func (uc *ProcessDocumentUseCase) applyOCRPages(ctx context.Context, documentID string, res *domain.OCRResult) (string, error) {
	parts := make([]string, 0, len(res.Pages))
	for _, p := range res.Pages {
		conf := p.Confidence
		if err := uc.pages.UpdateText(ctx, documentID, p.PageNumber, p.Text, &conf); err != nil {
			return "", err
		}
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// promoteFields copies well-known extracted fields onto the document row
// for list views and export. Unknown field names stay in extracted_fields.
func promoteFields(doc *domain.Document, fields []domain.FieldResult) {
	for _, f := range fields {
		value := f.NormalizedValue
		if value == "" {
			value = f.RawValue
		}
		switch f.FieldName {
		case "numero_documento":
			doc.DocNumber = value
		case "data_documento":
			doc.DocDate = datePtr(value)
		case "fornitore":
			doc.Fornitore = value
		case "emittente":
			doc.Emittente = value
		case "totale":
			doc.Totale = floatPtr(value)
		case "vettore":
			doc.Vettore = value
		case "causale_trasporto":
			doc.CausaleTrasporto = value
		case "scadenza_pagamento":
			doc.ScadenzaPagamento = datePtr(value)
		case "modalita_pagamento":
			doc.ModalitaPagamento = value
		case "imponibile":
			doc.Imponibile = floatPtr(value)
		case "aliquota_iva":
			doc.AliquotaIVA = floatPtr(value)
		case "importo_iva":
			doc.ImportoIVA = floatPtr(value)
		case "validita_offerta":
			doc.ValiditaOfferta = datePtr(value)
		case "data_consegna":
			doc.DataConsegna = datePtr(value)
		}
	}
}

func datePtr(s string) *time.Time {
	t, ok := normalize.ParseISODate(s)
	if !ok {
		return nil
	}
	return &t
}

func floatPtr(s string) *float64 {
	v, err := strconv.ParseFloat(normalize.Amount(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func lineTotal(l domain.LineResult) *float64 {
	if l.Quantity == nil || l.UnitPrice == nil {
		return nil
	}
	total := *l.Quantity * *l.UnitPrice
	return &total
}
