// Package metatag turns raw document text into typed, normalized header
// fields and line items. The primary path asks the LLM for a JSON object;
// a small set of label regexes backstops the fields that matter most when
// the model fails or omits them.
package metatag

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
	"github.com/kirillkom/docintel/internal/normalize"
)

// Field-level confidence is assigned by provenance, not model output:
// local models report no calibrated scores, so the tiers reflect how
// often each field class survives manual review.
const (
	confCore         = 0.85
	confTotal        = 0.80
	confTypeSpecific = 0.75
	confValidity     = 0.70
)

var requiredFields = []string{"numero_documento", "data_documento"}

type Extractor struct {
	llm    ports.CompletionClient
	logger *slog.Logger
}

func NewExtractor(llm ports.CompletionClient, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: llm, logger: logger}
}

// ExtractFields runs the LLM extraction with regex fallback. It never
// returns an error for model failures; a degraded result with warnings is
// still a result.
func (e *Extractor) ExtractFields(ctx context.Context, text string, docType domain.DocumentType) (*domain.ExtractionOutput, error) {
	out := &domain.ExtractionOutput{}

	payload := e.askModel(ctx, text, docType)
	if payload != nil {
		out.Fields = e.collectFields(payload, docType)
		out.Lines = collectLines(payload)
	}

	// Regex backstop for core fields the model missed.
	have := make(map[string]bool, len(out.Fields))
	for _, f := range out.Fields {
		have[f.FieldName] = true
	}
	for _, f := range fallbackFields(text) {
		if !have[f.FieldName] {
			out.Fields = append(out.Fields, f)
			have[f.FieldName] = true
		}
	}

	var missing []string
	for _, name := range requiredFields {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		out.Warnings = append(out.Warnings, "Campi non estratti: "+strings.Join(missing, ", "))
	}
	if len(out.Lines) == 0 {
		out.Warnings = append(out.Warnings, "Nessuna riga articolo rilevata")
	}
	return out, nil
}

// askModel returns the parsed JSON object, or nil when the model call or
// the parse fails.
func (e *Extractor) askModel(ctx context.Context, text string, docType domain.DocumentType) map[string]any {
	if e.llm == nil {
		return nil
	}
	raw, err := e.llm.Generate(ctx, buildExtractionPrompt(text, docType))
	if err != nil {
		e.logger.Warn("llm field extraction failed", "error", err)
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		e.logger.Warn("llm returned unparseable extraction payload", "error", err)
		return nil
	}
	return payload
}

func (e *Extractor) collectFields(payload map[string]any, docType domain.DocumentType) []domain.FieldResult {
	var fields []domain.FieldResult
	add := func(name, raw string, confidence float64) {
		normalized, ok := normalizeField(name, raw)
		if !ok {
			e.logger.Debug("field rejected by validation", "field", name, "raw", raw)
			return
		}
		fields = append(fields, domain.FieldResult{
			FieldName:       name,
			RawValue:        raw,
			NormalizedValue: normalized,
			Confidence:      confidence,
			Evidence:        "llm",
		})
	}

	for _, key := range []string{"numero_documento", "data_documento", "partita_iva", "emittente"} {
		if raw, ok := stringValue(payload[key]); ok {
			add(key, raw, confCore)
		}
	}
	// The recipient is persisted under the supplier-relation name used
	// across the rest of the system.
	if raw, ok := stringValue(payload["destinatario"]); ok {
		add("fornitore", raw, confTypeSpecific)
	}
	if raw, ok := stringValue(payload["totale"]); ok {
		add("totale", raw, confTotal)
	}
	for _, key := range typeSpecificKeys[docType] {
		if raw, ok := stringValue(payload[key]); ok {
			conf := confTypeSpecific
			if key == "validita_offerta" {
				conf = confValidity
			}
			add(key, raw, conf)
		}
	}
	return fields
}

func collectLines(payload map[string]any) []domain.LineResult {
	items, ok := payload["righe_articolo"].([]any)
	if !ok {
		return nil
	}
	var lines []domain.LineResult
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		desc, _ := stringValue(row["descrizione"])
		code, _ := stringValue(row["codice"])
		if desc == "" && code == "" {
			continue
		}
		line := domain.LineResult{
			LineNumber:  len(lines) + 1,
			ItemCode:    code,
			Description: desc,
			Confidence:  confTypeSpecific,
		}
		if qty, ok := floatValue(row["quantita"]); ok {
			line.Quantity = &qty
		}
		if price, ok := floatValue(row["prezzo_unitario"]); ok {
			line.UnitPrice = &price
		}
		lines = append(lines, line)
	}
	return lines
}

// normalizeField applies the per-field normalization rules. A false return
// drops the field entirely: a value that fails validation is worse than an
// absent one.
func normalizeField(name, raw string) (string, bool) {
	switch name {
	case "numero_documento":
		return normalize.DocNumber(raw)
	case "data_documento", "scadenza_pagamento", "data_consegna":
		return normalize.Date(raw), true
	case "partita_iva":
		return normalize.TaxID(raw)
	case "emittente", "fornitore":
		return normalize.Party(raw)
	case "totale", "imponibile", "importo_iva", "aliquota_iva":
		return normalize.Amount(raw), true
	}
	trimmed := strings.TrimSpace(raw)
	return trimmed, trimmed != ""
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != "" && !strings.EqualFold(s, "null")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	}
	return "", false
}

func floatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		s := normalize.Amount(t)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

var _ ports.FieldExtractor = (*Extractor)(nil)
