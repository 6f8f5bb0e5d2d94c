// Package normalize holds the pure transforms that turn raw extracted
// strings into canonical forms. Everything here is I/O free so the field
// extractor and classifier can validate values without touching adapters.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reCurrency   = regexp.MustCompile(`[€$\s]`)
	reNonAlnum   = regexp.MustCompile(`[^A-Z0-9]`)
	reHasDigit   = regexp.MustCompile(`\d`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Amount normalizes a monetary amount to a plain decimal with two fraction
// digits. It disambiguates the Italian convention (dot thousands, comma
// decimal) from the plain-decimal one: when both separators appear, the one
// occurring later is the decimal separator; a lone comma is decimal only
// with exactly two trailing digits; a lone dot with exactly three trailing
// digits is read as an Italian thousands separator. Unparseable input is
// returned unchanged; this is deliberately lossy best-effort normalization.
func Amount(s string) string {
	cleaned := reCurrency.ReplaceAllString(s, "")
	if cleaned == "" {
		return s
	}

	hasDot := strings.Contains(cleaned, ".")
	hasComma := strings.Contains(cleaned, ",")

	switch {
	case hasDot && hasComma:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			// Italian: 1.234,56
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			// English: 1,234.56
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasDot:
		parts := strings.Split(cleaned, ".")
		if len(parts) == 2 && len(parts[1]) == 3 {
			// 1.234 with no decimals reads as Italian thousands.
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(value, 'f', 2, 64)
}

// dateFormats are tried in order; the first successful parse wins.
var dateFormats = []struct {
	layout   string
	twoDigit bool
}{
	{"02/01/2006", false},
	{"02-01-2006", false},
	{"02.01.2006", false},
	{"02/01/06", true},
	{"02-01-06", true},
	{"02.01.06", true},
	{"2006-01-02", false},
}

// Date normalizes day-first dates (slash, dash or dot separated, two- or
// four-digit years) and already-ISO dates to YYYY-MM-DD. Two-digit years
// are always read as 2000+. Unparseable input is returned unchanged.
func Date(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	for _, f := range dateFormats {
		t, err := time.Parse(f.layout, trimmed)
		if err != nil {
			continue
		}
		if f.twoDigit && t.Year() < 2000 {
			// time.Parse windows 69-99 into the 1900s.
			t = t.AddDate(100, 0, 0)
		}
		return t.Format("2006-01-02")
	}
	return s
}

// ParseISODate parses a previously normalized YYYY-MM-DD value.
func ParseISODate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TaxID validates an Italian VAT number (exactly 11 digits) or fiscal code
// (exactly 16 alphanumerics) after stripping punctuation and uppercasing.
func TaxID(s string) (string, bool) {
	cleaned := reNonAlnum.ReplaceAllString(strings.ToUpper(strings.TrimSpace(s)), "")
	switch len(cleaned) {
	case 11:
		for _, r := range cleaned {
			if r < '0' || r > '9' {
				return "", false
			}
		}
		return cleaned, true
	case 16:
		return cleaned, true
	}
	return "", false
}

// DocNumber validates a document number: it must contain at least one digit
// and stay within 2..25 characters after whitespace collapsing.
func DocNumber(s string) (string, bool) {
	cleaned := strings.TrimSpace(s)
	if !reHasDigit.MatchString(cleaned) {
		return "", false
	}
	cleaned = reWhitespace.ReplaceAllString(cleaned, " ")
	if len(cleaned) < 2 || len(cleaned) > 25 {
		return "", false
	}
	return strings.ToUpper(cleaned), true
}

// Party filters and title-cases a company name. Values of three characters
// or fewer are rejected as noise.
func Party(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) <= 2 {
		return "", false
	}
	return titleCase(trimmed), true
}

func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	upperNext := true
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '.' || r == '-' || r == '\'':
			upperNext = true
			b.WriteRune(r)
		case upperNext:
			b.WriteString(strings.ToUpper(string(r)))
			upperNext = false
		default:
			b.WriteString(strings.ToLower(string(r)))
		}
	}
	return b.String()
}
