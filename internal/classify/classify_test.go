package classify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/kirillkom/docintel/internal/core/domain"
)

type fakeLLM struct {
	answer string
	err    error
	calls  int
}

func (f *fakeLLM) Generate(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func (f *fakeLLM) GenerateVision(_ context.Context, _ string, _ []byte) (string, error) {
	return "", errors.New("not implemented")
}

func newTestEngine(t *testing.T, llm *fakeLLM) *Engine {
	t.Helper()
	var cl *Engine
	var err error
	if llm != nil {
		cl, err = New(llm, Config{}, slog.New(slog.DiscardHandler))
	} else {
		cl, err = New(nil, Config{}, slog.New(slog.DiscardHandler))
	}
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cl
}

func TestClassifyByRulesFattura(t *testing.T) {
	e := newTestEngine(t, nil)

	text := `FATTURA N. 2024/101
	Partita IVA: 01234567890
	Regime IVA: ordinario
	Imponibile: 1.000,00
	IVA 22%: 220,00
	Totale fattura: 1.220,00
	Scadenza pagamento: 30/04/2024`

	got := e.ClassifyByRules(text, "fattura_101.pdf")
	if got == nil {
		t.Fatal("expected a rule match, got nil")
	}
	if got.DocType != domain.TypeFattura {
		t.Fatalf("doc type = %s, want fattura", got.DocType)
	}
	if got.Confidence < 0.7 {
		t.Fatalf("confidence = %.2f, want >= 0.7", got.Confidence)
	}
	if got.Method != "rules" {
		t.Fatalf("method = %s, want rules", got.Method)
	}
	if len(got.Evidence) == 0 || len(got.Evidence) > 5 {
		t.Fatalf("evidence count = %d, want 1..5", len(got.Evidence))
	}
}

func TestClassifyByRulesNoMatch(t *testing.T) {
	e := newTestEngine(t, nil)

	if got := e.ClassifyByRules("lorem ipsum dolor sit amet", "scan_001.pdf"); got != nil {
		t.Fatalf("expected nil for unrelated text, got %+v", got)
	}
}

func TestClassifyByRulesAmbiguityLowersConfidence(t *testing.T) {
	e := newTestEngine(t, nil)

	// Strong signals for both ddt and fattura keep the scores close.
	ambiguous := "documento di trasporto vettore fattura elettronica"
	got := e.ClassifyByRules(ambiguous, "doc.pdf")
	if got == nil {
		t.Fatal("expected a rule match")
	}
	found := false
	for _, ev := range got.Evidence {
		if strings.HasPrefix(ev, "ambiguous with: ") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ambiguity evidence, got %v", got.Evidence)
	}

	clear := e.ClassifyByRules("documento di trasporto ddt vettore colli peso", "doc.pdf")
	if clear == nil {
		t.Fatal("expected a rule match for clear text")
	}
	if got.Confidence >= clear.Confidence {
		t.Fatalf("ambiguous confidence %.2f not below clear %.2f", got.Confidence, clear.Confidence)
	}
}

func TestClassifyByRulesFilenameHint(t *testing.T) {
	e := newTestEngine(t, nil)

	// Text alone is too weak; the filename tips it over.
	got := e.ClassifyByRules("spett.le cliente, in allegato il documento richiesto preventivo", "preventivo_2024.pdf")
	if got == nil {
		t.Fatal("expected a rule match")
	}
	if got.DocType != domain.TypePreventivo {
		t.Fatalf("doc type = %s, want preventivo", got.DocType)
	}
	hinted := false
	for _, ev := range got.Evidence {
		if strings.HasPrefix(ev, "filename hint: ") {
			hinted = true
		}
	}
	if !hinted {
		t.Fatalf("expected filename hint evidence, got %v", got.Evidence)
	}
}

func TestClassifyRulesConfidentSkipsLLM(t *testing.T) {
	llm := &fakeLLM{answer: "FATTURA: documento fiscale"}
	e := newTestEngine(t, llm)

	text := "fattura n. 12 codice destinatario ab12xyz partita iva 01234567890 imponibile iva 22% totale"
	got, err := e.Classify(context.Background(), text, "fattura.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Method != "rules" {
		t.Fatalf("method = %s, want rules", got.Method)
	}
	if llm.calls != 0 {
		t.Fatalf("llm called %d times, want 0", llm.calls)
	}
}

func TestClassifyHybridAgreementBoost(t *testing.T) {
	llm := &fakeLLM{answer: "DDT: bolla di accompagnamento"}
	e := newTestEngine(t, llm)

	// Weak rule signal: a single ddt keyword.
	got, err := e.Classify(context.Background(), "bolla di accompagnamento merce", "doc.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Method != "hybrid" {
		t.Fatalf("method = %s, want hybrid", got.Method)
	}
	if got.DocType != domain.TypeDDT {
		t.Fatalf("doc type = %s, want ddt", got.DocType)
	}
	rules := e.ClassifyByRules("bolla di accompagnamento merce", "doc.pdf")
	if rules == nil {
		t.Fatal("expected a rule match")
	}
	want := rules.Confidence + 0.2
	if got.Confidence != want {
		t.Fatalf("confidence = %.2f, want %.2f", got.Confidence, want)
	}
}

func TestClassifyLLMOnly(t *testing.T) {
	llm := &fakeLLM{answer: "PREVENTIVO: offerta commerciale non accettata"}
	e := newTestEngine(t, llm)

	got, err := e.Classify(context.Background(), "testo senza segnali utili", "doc.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Method != "llm" {
		t.Fatalf("method = %s, want llm", got.Method)
	}
	if got.DocType != domain.TypePreventivo {
		t.Fatalf("doc type = %s, want preventivo", got.DocType)
	}
	if got.Confidence != 0.8 {
		t.Fatalf("confidence = %.2f, want 0.80", got.Confidence)
	}
}

func TestClassifyFallbackAltro(t *testing.T) {
	llm := &fakeLLM{err: errors.New("ollama unreachable")}
	e := newTestEngine(t, llm)

	got, err := e.Classify(context.Background(), "testo senza segnali utili", "doc.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.DocType != domain.TypeAltro {
		t.Fatalf("doc type = %s, want altro", got.DocType)
	}
	if got.Confidence != 0.5 {
		t.Fatalf("confidence = %.2f, want 0.50", got.Confidence)
	}
	if got.Method != "fallback" {
		t.Fatalf("method = %s, want fallback", got.Method)
	}
}

func TestParseCategoryTokens(t *testing.T) {
	cases := []struct {
		answer string
		want   domain.DocumentType
	}{
		{"FATTURA: documento fiscale con totale", domain.TypeFattura},
		{"CATEGORIA DDT: BOLLA DI TRASPORTO", domain.TypeDDT},
		{"PREVENTIVO: OFFERTA COMMERCIALE", domain.TypePreventivo},
		{"ORDINE DI ACQUISTO", domain.TypePO},
		{"NON CLASSIFICABILE", domain.TypeAltro},
	}
	for _, tc := range cases {
		if got := parseCategoryTokens(tc.answer); got != tc.want {
			t.Errorf("parseCategoryTokens(%q) = %s, want %s", tc.answer, got, tc.want)
		}
	}
}
