// Package export produces the XLSX register of processed documents.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docintel/internal/core/domain"
)

// DocumentLister is the slice of the repository the exporter needs.
type DocumentLister interface {
	List(ctx context.Context, tenantID string) ([]domain.Document, error)
}

// Service is a thin façade over the document repository that renders XLSX
// bytes: one row per document, latest first.
type Service struct {
	repo   DocumentLister
	logger *slog.Logger
}

func NewService(repo DocumentLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

var registerHeaders = []string{
	"File",
	"Tipo",
	"Numero",
	"Data",
	"Emittente",
	"Destinatario",
	"Imponibile",
	"IVA",
	"Totale",
	"Stato",
	"Qualità OCR",
	"Avvisi",
}

// ExportRegisterXLSX renders all of a tenant's documents, optionally
// filtered by document date (inclusive on both ends).
func (s *Service) ExportRegisterXLSX(ctx context.Context, tenantID string, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	docs, err := s.repo.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Registro"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	_ = f.DeleteSheet("Sheet1")
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	for i, h := range registerHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	exported := 0
	for _, doc := range docs {
		if !inDateWindow(&doc, from, to) {
			continue
		}

		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, doc.Filename)
		write(2, typeName(doc.EffectiveType()))
		write(3, doc.DocNumber)
		if doc.DocDate != nil {
			write(4, doc.DocDate.Format("02/01/2006"))
		}
		write(5, doc.Emittente)
		write(6, doc.Fornitore)
		if doc.Imponibile != nil {
			write(7, *doc.Imponibile)
		}
		if doc.ImportoIVA != nil {
			write(8, *doc.ImportoIVA)
		}
		if doc.Totale != nil {
			write(9, *doc.Totale)
		}
		write(10, string(doc.Status))
		if doc.IsScanned != nil && *doc.IsScanned {
			write(11, fmt.Sprintf("%.2f", doc.OCRQuality))
		}
		write(12, len(doc.Warnings))

		row++
		exported++
	}

	_ = f.SetColWidth(sheet, "A", "A", 32)
	_ = f.SetColWidth(sheet, "B", "B", 12)
	_ = f.SetColWidth(sheet, "C", "D", 14)
	_ = f.SetColWidth(sheet, "E", "F", 28)
	_ = f.SetColWidth(sheet, "G", "I", 12)
	_ = f.SetColWidth(sheet, "J", "L", 12)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"tenant_id", tenantID,
		"rows", exported,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// inDateWindow filters on the extracted document date. Documents without
// one are kept only when no window is requested.
func inDateWindow(doc *domain.Document, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if doc.DocDate == nil {
		return false
	}
	if from != nil && doc.DocDate.Before(dateOnly(*from)) {
		return false
	}
	if to != nil && doc.DocDate.After(dateOnly(*to).Add(24*time.Hour-time.Nanosecond)) {
		return false
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func typeName(t domain.DocumentType) string {
	switch t {
	case domain.TypeFattura:
		return "Fattura"
	case domain.TypeDDT:
		return "DDT"
	case domain.TypePO:
		return "Ordine"
	case domain.TypePreventivo:
		return "Preventivo"
	default:
		return "Altro"
	}
}
