package domain

import "time"

type DocumentStatus string

const (
	StatusQueued        DocumentStatus = "queued"
	StatusProcessing    DocumentStatus = "processing"
	StatusExtracted     DocumentStatus = "extracted"
	StatusValidated     DocumentStatus = "validated"
	StatusFailed        DocumentStatus = "failed"
	StatusNeedsRotation DocumentStatus = "needs_rotation"
)

// CanTransition reports whether the status machine allows moving from one
// status to another. validated is terminal for the pipeline; it is rewound
// only through an explicit reprocess, which is modeled as validated -> queued.
func CanTransition(from, to DocumentStatus) bool {
	switch to {
	case StatusProcessing:
		return from == StatusQueued || from == StatusFailed || from == StatusNeedsRotation
	case StatusExtracted:
		return from == StatusProcessing
	case StatusNeedsRotation:
		// Reviewers flag upside-down pages after seeing the extraction.
		return from == StatusProcessing || from == StatusExtracted || from == StatusFailed
	case StatusFailed:
		// Manual stop may fail a document from any non-terminal state.
		return from != StatusValidated
	case StatusValidated:
		return from == StatusExtracted
	case StatusQueued:
		// Reprocess rewinds any document back to the start.
		return true
	}
	return false
}

type DocumentType string

const (
	TypePreventivo DocumentType = "preventivo" // quote / offer
	TypeDDT        DocumentType = "ddt"        // delivery note
	TypeFattura    DocumentType = "fattura"    // invoice
	TypePO         DocumentType = "po"         // purchase order
	TypeAltro      DocumentType = "altro"
)

// Document is the denormalized record driven by the processing pipeline.
// Key extracted fields are promoted onto it for quick access; the full
// extraction lives in ExtractedField and DocumentLine rows.
type Document struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	Filename      string `json:"filename"`
	StoragePath   string `json:"storage_path"`
	FileHash      string `json:"file_hash"`
	FileSizeBytes int64  `json:"file_size_bytes"`

	Status     DocumentStatus `json:"status"`
	IsScanned  *bool          `json:"is_scanned,omitempty"` // nil until extraction ran
	OCRQuality float64        `json:"ocr_quality,omitempty"`

	DocType           DocumentType `json:"doc_type,omitempty"`
	DocTypeConfidence float64      `json:"doc_type_confidence,omitempty"`
	DocTypeOverride   DocumentType `json:"doc_type_override,omitempty"`

	RawText  string   `json:"raw_text,omitempty"`
	Warnings []string `json:"warnings"`
	Error    string   `json:"error,omitempty"`

	// Promoted key fields.
	DocNumber string     `json:"doc_number,omitempty"`
	DocDate   *time.Time `json:"doc_date,omitempty"`
	Fornitore string     `json:"fornitore,omitempty"` // counterparty (destinatario)
	Emittente string     `json:"emittente,omitempty"` // issuing company
	Totale    *float64   `json:"totale,omitempty"`

	// Type-specific promoted fields.
	Vettore            string     `json:"vettore,omitempty"`           // ddt: carrier
	CausaleTrasporto   string     `json:"causale_trasporto,omitempty"` // ddt: transport reason
	ScadenzaPagamento  *time.Time `json:"scadenza_pagamento,omitempty"`
	ModalitaPagamento  string     `json:"modalita_pagamento,omitempty"`
	Imponibile         *float64   `json:"imponibile,omitempty"`
	AliquotaIVA        *float64   `json:"aliquota_iva,omitempty"`
	ImportoIVA         *float64   `json:"importo_iva,omitempty"`
	ValiditaOfferta    *time.Time `json:"validita_offerta,omitempty"`
	DataConsegna       *time.Time `json:"data_consegna,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// EffectiveType prefers a human override over the classifier's verdict.
func (d *Document) EffectiveType() DocumentType {
	if d.DocTypeOverride != "" {
		return d.DocTypeOverride
	}
	if d.DocType != "" {
		return d.DocType
	}
	return TypeAltro
}

// Page is one page of a document. OCRConfidence is nil for pages served by
// a native text layer before any OCR pass recorded a score.
type Page struct {
	ID            string   `json:"id"`
	DocumentID    string   `json:"document_id"`
	PageNumber    int      `json:"page_number"` // 1-based
	TextContent   string   `json:"text_content,omitempty"`
	OCRConfidence *float64 `json:"ocr_confidence,omitempty"`
	RotationAngle int      `json:"rotation_angle"` // 0/90/180/270
}

// BBox locates evidence on a page, in rendered-image pixel coordinates.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ExtractedField is a single structured field. Field names are an open
// vocabulary so per-type fields can be added without schema changes.
type ExtractedField struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	FieldName       string    `json:"field_name"`
	RawValue        string    `json:"raw_value,omitempty"`
	NormalizedValue string    `json:"normalized_value,omitempty"`
	Confidence      float64   `json:"confidence"`
	Page            *int      `json:"page,omitempty"`
	BBox            *BBox     `json:"bbox,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type DocumentLine struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	LineNumber int       `json:"line_number"` // 1-based, stable within a document
	ItemCode   string    `json:"item_code,omitempty"`
	Description string   `json:"description,omitempty"`
	Quantity   *float64  `json:"quantity,omitempty"`
	Unit       string    `json:"unit,omitempty"`
	UnitPrice  *float64  `json:"unit_price,omitempty"`
	TotalPrice *float64  `json:"total_price,omitempty"`
	Confidence float64   `json:"confidence"`
	Page       *int      `json:"page,omitempty"`
	Embedding  []float32 `json:"-"` // reserved for semantic search, unpopulated by the pipeline
	CreatedAt  time.Time `json:"created_at"`
}

type FieldEventType string

const (
	FieldEventCreated   FieldEventType = "created"
	FieldEventUpdated   FieldEventType = "updated"
	FieldEventValidated FieldEventType = "validated"
)

// FieldEvent is the append-only audit trail for human field corrections.
// The pipeline never writes events; reviewers do.
type FieldEvent struct {
	ID        string         `json:"id"`
	FieldID   string         `json:"field_id"`
	Actor     string         `json:"actor"`
	EventType FieldEventType `json:"event_type"`
	OldValue  string         `json:"old_value,omitempty"`
	NewValue  string         `json:"new_value,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
