package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
)

const (
	rawTextMatchScore  = 3.0
	partyMatchScore    = 5.0
	docNumberScore     = 4.0
	fieldMatchScore    = 2.0
	maxChatSources     = 5
	maxContextPreview  = 1500
	maxSnippetsPerDoc  = 3
)

// Question phrasings that carry an entity worth searching on its own:
// "fatture di Rossi", "Acme SRL", "fornitore Bianchi".
var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:documenti|fatture|ordini|ddt|preventivi)\s+(?:di|per|da)\s+([a-zà-ÿ\s]+?)(?:\s*\?|$)`),
	regexp.MustCompile(`(?i)([a-zà-ÿ]+\s+(?:srl|spa|snc|sas|s\.r\.l\.|s\.p\.a\.))`),
	regexp.MustCompile(`(?i)fornitore\s+([a-zà-ÿ\s]+?)(?:\s*\?|$)`),
}

// ChatUseCase answers questions over the processed corpus. Retrieval is a
// term-match scan over the promoted metadata and raw text; the model only
// sees documents that actually matched, so it cannot cite unrelated ones.
type ChatUseCase struct {
	repo   ports.DocumentRepository
	fields ports.FieldRepository
	llm    ports.CompletionClient
	now    func() time.Time
}

func NewChatUseCase(
	repo ports.DocumentRepository,
	fields ports.FieldRepository,
	llm ports.CompletionClient,
) *ChatUseCase {
	return &ChatUseCase{
		repo:   repo,
		fields: fields,
		llm:    llm,
		now:    time.Now,
	}
}

type scoredDoc struct {
	doc     domain.Document
	score   float64
	snippet string
}

func (uc *ChatUseCase) Ask(ctx context.Context, tenantID, question string) (*domain.ChatAnswer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat", fmt.Errorf("empty question"))
	}

	docs, err := uc.repo.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	terms := searchTerms(question)
	matches := uc.searchDocuments(ctx, docs, terms)

	var contextBlock string
	if len(matches) > 0 {
		contextBlock = formatSearchResults(matches)
	} else {
		var b strings.Builder
		b.WriteString("NESSUN DOCUMENTO trovato per la ricerca specifica.\n\nDocumenti disponibili:\n")
		for _, doc := range docs {
			b.WriteString("- " + documentSummary(&doc) + "\n")
		}
		contextBlock = b.String()
	}

	answer, err := uc.llm.Generate(ctx, uc.buildChatPrompt(contextBlock, question))
	if err != nil {
		return &domain.ChatAnswer{
			Text:    "Non sono riuscito a elaborare la domanda, riprova più tardi.",
			Sources: chatSources(matches),
		}, nil
	}

	return &domain.ChatAnswer{
		Text:    strings.TrimSpace(answer),
		Sources: chatSources(matches),
	}, nil
}

// searchTerms expands the question into the full query plus any entity
// names it mentions. Terms shorter than 3 runes are dropped later.
func searchTerms(question string) []string {
	lower := strings.ToLower(question)
	terms := []string{lower}
	seen := map[string]bool{lower: true}
	for _, re := range entityPatterns {
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			term := strings.TrimSpace(m[1])
			if term != "" && !seen[term] {
				terms = append(terms, term)
				seen[term] = true
			}
		}
	}
	return terms
}

func (uc *ChatUseCase) searchDocuments(ctx context.Context, docs []domain.Document, terms []string) []scoredDoc {
	var results []scoredDoc
	for i := range docs {
		doc := docs[i]
		var score float64
		var snippets []string

		rawText := strings.ToLower(doc.RawText)
		for _, term := range terms {
			if len([]rune(term)) < 3 {
				continue
			}
			if idx := strings.Index(rawText, term); idx >= 0 {
				score += rawTextMatchScore
				snippets = append(snippets, "..."+textSnippet(rawText, idx, len(term))+"...")
			}
		}

		if doc.Fornitore != "" && anyTermIn(doc.Fornitore, terms) {
			score += partyMatchScore
			snippets = append(snippets, "Destinatario: "+doc.Fornitore)
		}
		if doc.Emittente != "" && anyTermIn(doc.Emittente, terms) {
			score += partyMatchScore
			snippets = append(snippets, "Emittente: "+doc.Emittente)
		}
		if doc.DocNumber != "" && anyTermIn(doc.DocNumber, terms) {
			score += docNumberScore
			snippets = append(snippets, "Numero: "+doc.DocNumber)
		}

		fields, err := uc.fields.ListFields(ctx, doc.ID)
		if err == nil {
			for _, field := range fields {
				value := field.NormalizedValue
				if value == "" {
					value = field.RawValue
				}
				valueLower := strings.ToLower(value)
				for _, term := range terms {
					if len([]rune(term)) < 3 {
						continue
					}
					if strings.Contains(valueLower, term) {
						score += fieldMatchScore
						snippets = append(snippets, field.FieldName+": "+value)
					}
				}
			}
		}

		if score > 0 {
			if len(snippets) > maxSnippetsPerDoc {
				snippets = snippets[:maxSnippetsPerDoc]
			}
			results = append(results, scoredDoc{doc: doc, score: score, snippet: strings.Join(snippets, " | ")})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > maxChatSources {
		results = results[:maxChatSources]
	}
	return results
}

func anyTermIn(value string, terms []string) bool {
	valueLower := strings.ToLower(value)
	for _, term := range terms {
		if len([]rune(term)) >= 3 && strings.Contains(valueLower, term) {
			return true
		}
	}
	return false
}

func textSnippet(text string, idx, termLen int) string {
	start := idx - 50
	if start < 0 {
		start = 0
	}
	end := idx + termLen + 100
	if end > len(text) {
		end = len(text)
	}
	return strings.ReplaceAll(text[start:end], "\n", " ")
}

func documentSummary(doc *domain.Document) string {
	parts := []string{doc.Filename}
	if t := doc.EffectiveType(); t != "" {
		parts = append(parts, "Tipo: "+typeLabel(t))
	}
	if doc.Emittente != "" {
		parts = append(parts, "Emittente: "+doc.Emittente)
	}
	if doc.Fornitore != "" {
		parts = append(parts, "Destinatario: "+doc.Fornitore)
	}
	if doc.DocNumber != "" {
		parts = append(parts, "N°: "+doc.DocNumber)
	}
	if doc.DocDate != nil {
		parts = append(parts, "Data: "+doc.DocDate.Format("02/01/2006"))
	}
	if doc.Totale != nil {
		parts = append(parts, fmt.Sprintf("Totale: €%.2f", *doc.Totale))
	}
	if doc.Vettore != "" {
		parts = append(parts, "Vettore: "+doc.Vettore)
	}
	if doc.CausaleTrasporto != "" {
		parts = append(parts, "Causale: "+doc.CausaleTrasporto)
	}
	if doc.ModalitaPagamento != "" {
		parts = append(parts, "Pagamento: "+doc.ModalitaPagamento)
	}
	if doc.ScadenzaPagamento != nil {
		parts = append(parts, "Scadenza: "+doc.ScadenzaPagamento.Format("02/01/2006"))
	}
	return strings.Join(parts, " | ")
}

func typeLabel(t domain.DocumentType) string {
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

func formatSearchResults(matches []scoredDoc) string {
	var b strings.Builder
	for _, m := range matches {
		preview := m.doc.RawText
		if len(preview) > maxContextPreview {
			preview = preview[:maxContextPreview]
		}
		fmt.Fprintf(&b, "\n--- DOCUMENTO ---\n%s\nRilevanza: %.1f\nTesto trovato: %s\n\nContenuto:\n%s\n",
			documentSummary(&m.doc), m.score, m.snippet, preview)
	}
	return b.String()
}

func (uc *ChatUseCase) buildChatPrompt(contextBlock, question string) string {
	today := uc.now().Format("02/01/2006")
	return fmt.Sprintf(`Sei un assistente AI per l'analisi di documenti aziendali.
OGGI è: %s

REGOLE FONDAMENTALI:
1. Rispondi SOLO basandoti sui documenti forniti sotto.
2. Se un documento NON contiene l'informazione cercata, NON includerlo nella risposta.
3. Se non trovi l'informazione, dì chiaramente "Non ho trovato documenti che contengono...".
4. NON inventare informazioni o connessioni tra documenti.
5. Cita SOLO i documenti che effettivamente contengono le informazioni richieste.
6. Se l'utente chiede informazioni relative al tempo (es. "questo mese"), usa la data di oggi per orientarti.

RISULTATI RICERCA:
%s

DOMANDA: %s

Rispondi in modo preciso e onesto. Se non trovi informazioni rilevanti, dillo chiaramente.`,
		today, contextBlock, question)
}

func chatSources(matches []scoredDoc) []domain.ChatSource {
	sources := make([]domain.ChatSource, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, domain.ChatSource{
			DocumentID: m.doc.ID,
			Filename:   m.doc.Filename,
			DocType:    m.doc.EffectiveType(),
			Score:      m.score,
			Snippet:    m.snippet,
		})
	}
	return sources
}
