package metatag

import (
	"regexp"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/normalize"
)

// Label-anchored regexes for the fields worth recovering without the
// model. Confidence drops with how ambiguous the label is in the wild.
var (
	reTaxID = regexp.MustCompile(`(?i)(?:p\.?\s*iva|partita\s*iva)[:\s]*(\d{11})`)
	reDate  = regexp.MustCompile(`(?i)(?:data(?:\s+documento)?|del)[:\s]+(\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4})`)
	reDocNo = regexp.MustCompile(`(?i)(?:numero|n[°.]|nr\.?)[:\s]*([A-Za-z0-9][A-Za-z0-9/\-]{1,24})`)
)

func fallbackFields(text string) []domain.FieldResult {
	var fields []domain.FieldResult

	if m := reTaxID.FindStringSubmatch(text); m != nil {
		if normalized, ok := normalize.TaxID(m[1]); ok {
			fields = append(fields, domain.FieldResult{
				FieldName:       "partita_iva",
				RawValue:        m[1],
				NormalizedValue: normalized,
				Confidence:      0.85,
				Evidence:        "regex",
			})
		}
	}
	if m := reDate.FindStringSubmatch(text); m != nil {
		fields = append(fields, domain.FieldResult{
			FieldName:       "data_documento",
			RawValue:        m[1],
			NormalizedValue: normalize.Date(m[1]),
			Confidence:      0.70,
			Evidence:        "regex",
		})
	}
	if m := reDocNo.FindStringSubmatch(text); m != nil {
		if normalized, ok := normalize.DocNumber(m[1]); ok {
			fields = append(fields, domain.FieldResult{
				FieldName:       "numero_documento",
				RawValue:        m[1],
				NormalizedValue: normalized,
				Confidence:      0.60,
				Evidence:        "regex",
			})
		}
	}
	return fields
}
