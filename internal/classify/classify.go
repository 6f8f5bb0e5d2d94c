// Package classify assigns one of the closed set of document types to
// extracted text. A priority-ordered rule engine scores keywords, regex
// patterns, negative keywords and filename hints; an LLM pass cross-checks
// low-confidence or ambiguous rule verdicts.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
)

const (
	keywordScore       = 1.0
	patternScore       = 2.5
	negativePenalty    = 0.5
	filenameHintScore  = 3.0
	maxRuleConfidence  = 0.95
	ambiguityRatio     = 0.8
	ambiguityFactor    = 0.7
	llmConfidence      = 0.8
	fallbackConfidence = 0.5
	maxEvidence        = 5
)

type Config struct {
	// RuleAcceptThreshold is the rule confidence at which the LLM
	// cross-check is skipped entirely.
	RuleAcceptThreshold float64
	// PromptChars bounds how much document text the LLM sees.
	PromptChars int
}

type Engine struct {
	rules  *ruleSet
	llm    ports.CompletionClient
	cfg    Config
	logger *slog.Logger
}

// New builds the hybrid classifier. llm may be nil; the engine then runs
// on rules alone with the altro fallback.
func New(llm ports.CompletionClient, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.RuleAcceptThreshold <= 0 {
		cfg.RuleAcceptThreshold = 0.7
	}
	if cfg.PromptChars <= 0 {
		cfg.PromptChars = 3000
	}
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := loadRules()
	if err != nil {
		return nil, err
	}
	return &Engine{rules: rules, llm: llm, cfg: cfg, logger: logger}, nil
}

type scored struct {
	docType  domain.DocumentType
	score    float64
	evidence []string
}

// ClassifyByRules runs only the rule engine. It returns nil when no type
// reaches a positive score: "altro" is reserved for the LLM fallback path.
func (e *Engine) ClassifyByRules(text, filename string) *domain.ClassificationResult {
	textLower := strings.ToLower(text)
	filenameLower := strings.ToLower(filename)

	filenameMatch := domain.DocumentType("")
	for _, rule := range e.rules.rules {
		for _, hint := range e.rules.filenameHints[rule.docType] {
			if strings.Contains(filenameLower, hint) {
				filenameMatch = rule.docType
				break
			}
		}
		if filenameMatch != "" {
			break
		}
	}

	var results []scored
	for _, rule := range e.rules.rules {
		score := 0.0
		var evidence []string

		if filenameMatch == rule.docType {
			score += filenameHintScore
			evidence = append(evidence, "filename hint: "+filenameLower)
		}
		for _, kw := range rule.keywords {
			if strings.Contains(textLower, kw) {
				score += keywordScore
				evidence = append(evidence, "keyword: "+kw)
			}
		}
		for _, re := range rule.patterns {
			if m := re.FindString(textLower); m != "" {
				score += patternScore
				if len(m) > 30 {
					m = m[:30]
				}
				evidence = append(evidence, "pattern: "+m)
			}
		}
		for _, neg := range rule.negativeKeywords {
			if strings.Contains(textLower, neg) {
				score -= negativePenalty
			}
		}

		if score > 0 {
			results = append(results, scored{docType: rule.docType, score: score, evidence: evidence})
		}
	}
	if len(results) == 0 {
		return nil
	}

	best := results[0]
	var runnerUp float64
	for _, r := range results[1:] {
		switch {
		case r.score > best.score:
			if best.score > runnerUp {
				runnerUp = best.score
			}
			best = r
		case r.score > runnerUp:
			runnerUp = r.score
		}
	}

	confidence := best.score / 10.0
	if confidence > maxRuleConfidence {
		confidence = maxRuleConfidence
	}
	evidence := best.evidence
	if runnerUp >= best.score*ambiguityRatio {
		confidence *= ambiguityFactor
		for _, r := range results {
			if r.score == runnerUp && r.docType != best.docType {
				evidence = append(evidence, "ambiguous with: "+string(r.docType))
				break
			}
		}
	}
	if len(evidence) > maxEvidence {
		evidence = evidence[:maxEvidence]
	}

	return &domain.ClassificationResult{
		DocType:    best.docType,
		Confidence: confidence,
		Method:     "rules",
		Evidence:   evidence,
	}
}

// Classify runs the hybrid policy: rules first, LLM cross-check when the
// rule verdict is weak, confidence boost on agreement, altro as the final
// fallback. LLM failures are soft and never surface as errors.
func (e *Engine) Classify(ctx context.Context, text, filename string) (domain.ClassificationResult, error) {
	rulesResult := e.ClassifyByRules(text, filename)
	if rulesResult != nil && rulesResult.Confidence >= e.cfg.RuleAcceptThreshold {
		e.logger.Info("classified by rules",
			"doc_type", rulesResult.DocType, "confidence", rulesResult.Confidence)
		return *rulesResult, nil
	}

	llmResult := e.classifyByLLM(ctx, text, filename)
	if llmResult != nil {
		if rulesResult != nil && rulesResult.DocType == llmResult.DocType {
			confidence := rulesResult.Confidence + 0.2
			if confidence > 0.98 {
				confidence = 0.98
			}
			return domain.ClassificationResult{
				DocType:    llmResult.DocType,
				Confidence: confidence,
				Method:     "hybrid",
				Evidence:   append(append([]string{}, rulesResult.Evidence...), llmResult.Evidence...),
			}, nil
		}
		e.logger.Info("classified by llm",
			"doc_type", llmResult.DocType, "confidence", llmResult.Confidence)
		return *llmResult, nil
	}

	if rulesResult != nil {
		return *rulesResult, nil
	}
	return domain.ClassificationResult{
		DocType:    domain.TypeAltro,
		Confidence: fallbackConfidence,
		Method:     "fallback",
		Evidence:   []string{"no classification match found"},
	}, nil
}

func (e *Engine) classifyByLLM(ctx context.Context, text, filename string) *domain.ClassificationResult {
	if e.llm == nil {
		return nil
	}
	answer, err := e.llm.Generate(ctx, buildClassificationPrompt(text, filename, e.cfg.PromptChars))
	if err != nil {
		e.logger.Warn("llm classification failed", "error", err)
		return nil
	}
	answer = strings.ToUpper(strings.TrimSpace(answer))
	if answer == "" {
		return nil
	}

	docType := parseCategoryTokens(answer)
	if len(answer) > 100 {
		answer = answer[:100]
	}
	return &domain.ClassificationResult{
		DocType:    docType,
		Confidence: llmConfidence,
		Method:     "llm",
		Evidence:   []string{answer},
	}
}

// parseCategoryTokens maps the model's single-line answer back to a type by
// keyword matching on the category tokens, most-specific first.
func parseCategoryTokens(answer string) domain.DocumentType {
	switch {
	case strings.Contains(answer, "PREVENTIVO"):
		return domain.TypePreventivo
	case strings.Contains(answer, "DDT"), strings.Contains(answer, "TRASPORTO"), strings.Contains(answer, "BOLLA"):
		return domain.TypeDDT
	case strings.Contains(answer, "FATTURA"), strings.Contains(answer, "INVOICE"):
		return domain.TypeFattura
	case strings.Contains(answer, "PO"), strings.Contains(answer, "ORDINE"):
		return domain.TypePO
	}
	return domain.TypeAltro
}

func buildClassificationPrompt(text, filename string, maxChars int) string {
	snippet := text
	if len(snippet) > maxChars {
		snippet = snippet[:maxChars]
	}
	return fmt.Sprintf(`Sei un esperto classificatore di documenti aziendali italiani.

Classifica questo documento in UNA delle seguenti categorie:

1. PREVENTIVO - Offerta commerciale, quotazione, proposta di vendita (NON ancora accettata/pagata)
2. DDT - Documento di Trasporto / Bolla di accompagnamento
3. FATTURA - Documento fiscale che richiede pagamento (già consegnato/prestato)
4. PO - Ordine d'acquisto (richiesta di fornitura dal cliente)
5. ALTRO - Se non rientra chiaramente in nessuna delle precedenti

ATTENZIONE: Un PREVENTIVO non è una FATTURA! Il preventivo è una PROPOSTA, la fattura è una RICHIESTA DI PAGAMENTO.

Nome file: %s

Testo del documento:
---
%s
---

Rispondi SOLO con una riga nel formato:
CATEGORIA: [motivazione breve]`, filename, snippet)
}
