package metatag

import (
	"fmt"
	"strings"

	"github.com/kirillkom/docintel/internal/core/domain"
)

// promptTextLimit bounds how much document text the extraction prompt
// carries. Header fields sit in the first pages anyway and the smaller
// context keeps local models fast.
const promptTextLimit = 6000

var typeSpecificKeys = map[domain.DocumentType][]string{
	domain.TypeDDT:        {"vettore", "causale_trasporto"},
	domain.TypeFattura:    {"imponibile", "aliquota_iva", "importo_iva", "scadenza_pagamento", "modalita_pagamento"},
	domain.TypePreventivo: {"validita_offerta", "condizioni"},
	domain.TypePO:         {"data_consegna", "indirizzo_consegna"},
}

func buildExtractionPrompt(text string, docType domain.DocumentType) string {
	if len(text) > promptTextLimit {
		text = text[:promptTextLimit]
	}

	var b strings.Builder
	b.WriteString(`Sei un assistente esperto nell'estrazione di dati da documenti aziendali italiani.

Estrai i seguenti campi dal documento e rispondi SOLO con un oggetto JSON valido, senza testo aggiuntivo.

Campi richiesti:
{
  "numero_documento": "numero o codice del documento",
  "data_documento": "data di emissione nel formato originale",
  "partita_iva": "partita IVA dell'emittente",
  "emittente": "ragione sociale di chi emette il documento",
  "destinatario": "ragione sociale del destinatario",
  "totale": "importo totale del documento",
`)
	for _, key := range typeSpecificKeys[docType] {
		fmt.Fprintf(&b, "  %q: %q,\n", key, keyDescription(key))
	}
	b.WriteString(`  "righe_articolo": [
    {"codice": "codice articolo", "descrizione": "descrizione", "quantita": "quantità", "prezzo_unitario": "prezzo unitario"}
  ]
}

Se un campo non è presente nel documento usa null. Non inventare valori.

Tipo documento: `)
	b.WriteString(string(docType))
	b.WriteString("\n\nTesto del documento:\n---\n")
	b.WriteString(text)
	b.WriteString("\n---\n\nJSON:")
	return b.String()
}

func keyDescription(key string) string {
	switch key {
	case "vettore":
		return "nome del vettore o trasportatore"
	case "causale_trasporto":
		return "causale del trasporto"
	case "imponibile":
		return "imponibile IVA"
	case "aliquota_iva":
		return "aliquota IVA in percentuale"
	case "importo_iva":
		return "importo dell'IVA"
	case "scadenza_pagamento":
		return "data di scadenza del pagamento"
	case "modalita_pagamento":
		return "modalità di pagamento"
	case "validita_offerta":
		return "validità dell'offerta"
	case "condizioni":
		return "condizioni commerciali"
	case "data_consegna":
		return "data di consegna richiesta"
	case "indirizzo_consegna":
		return "indirizzo di consegna"
	}
	return key
}
