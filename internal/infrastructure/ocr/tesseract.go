package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kirillkom/docintel/internal/core/domain"
)

// fastPage is one page's fast-path result. Confidence is tesseract's
// 0..100 mean word confidence.
type fastPage struct {
	Text            string
	Confidence      float64
	Words           []domain.OCRWord
	MeaningfulWords int
}

// runTesseract OCRs one preprocessed page image in TSV mode. The TSV
// carries both the text and per-word confidences, so a single invocation
// covers everything the escalation decision needs.
func runTesseract(ctx context.Context, r Runner, bin, imgPath, lang string) (*fastPage, error) {
	// tesseract <img> stdout -l <lang> tsv
	out, errb, err := r.Run(ctx, bin, imgPath, "stdout", "-l", lang, "tsv")
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w (%s)", err, truncate(string(errb), 512))
	}
	return parseTSV(string(out)), nil
}

// parseTSV reconstructs text and word boxes from tesseract's TSV output.
// Columns: level page block par line word left top width height conf text.
func parseTSV(tsv string) *fastPage {
	page := &fastPage{}
	var text strings.Builder
	var sum float64
	var n int
	lastLine := -1

	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[10]
		word := strings.TrimSpace(cols[11])
		if word == "" || confStr == "" || confStr == "-1" {
			continue
		}
		conf, err := strconv.ParseFloat(confStr, 64)
		if err != nil {
			continue
		}

		lineNum := atoiOr(cols[4], 0)
		if text.Len() > 0 {
			if lineNum != lastLine {
				text.WriteString("\n")
			} else {
				text.WriteString(" ")
			}
		}
		text.WriteString(word)
		lastLine = lineNum

		page.Words = append(page.Words, domain.OCRWord{
			Text:       word,
			Confidence: conf / 100.0,
			BBox: domain.BBox{
				X: atoiOr(cols[6], 0),
				Y: atoiOr(cols[7], 0),
				W: atoiOr(cols[8], 0),
				H: atoiOr(cols[9], 0),
			},
		})
		if isMeaningful(word) {
			page.MeaningfulWords++
		}
		sum += conf
		n++
	}

	page.Text = text.String()
	if n > 0 {
		page.Confidence = sum / float64(n)
	}
	return page
}

// isMeaningful filters OCR noise: a token counts only when longer than
// three characters and fully alphanumeric.
func isMeaningful(word string) bool {
	if len([]rune(word)) <= 3 {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func atoiOr(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
