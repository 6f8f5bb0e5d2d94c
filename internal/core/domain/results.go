package domain

// PageContent is one page's worth of the text-layer extraction pass.
type PageContent struct {
	PageNumber   int
	Text         string
	HasTextLayer bool
	ImageCount   int
}

// ExtractionResult is the text-layer verdict for a whole document.
type ExtractionResult struct {
	RawText    string
	Pages      []PageContent
	IsScanned  bool
	TotalPages int
	Warnings   []string
}

// OCRPageResult carries the recognized text for a single page.
// Confidence is on the 0..1 scale: 1.0 native text layer, 0.9 accepted
// vision-model result, 0.85 vision result recovered via 180 rotation,
// otherwise the fast-path average scaled down from 0..100.
type OCRPageResult struct {
	PageNumber int
	Text       string
	Confidence float64
	Method     string // "native" | "tesseract" | "vision" | "vision-rotated"
	Words      []OCRWord
}

// OCRWord is a fast-path token with its box, kept as field evidence.
type OCRWord struct {
	Text       string
	BBox       BBox
	Confidence float64
}

// OCRResult aggregates per-page OCR. AvgConfidence averages over pages with
// confidence > 0 only.
type OCRResult struct {
	Pages         []OCRPageResult
	AvgConfidence float64
	Warnings      []string
	Success       bool
}

// ClassificationResult is the document-type verdict with its provenance.
type ClassificationResult struct {
	DocType    DocumentType
	Confidence float64
	Method     string // "rules" | "llm" | "hybrid" | "fallback"
	Evidence   []string
}

// FieldResult is one extracted field before persistence.
type FieldResult struct {
	FieldName       string
	RawValue        string
	NormalizedValue string
	Confidence      float64
	Page            *int
	Evidence        string
}

// LineResult is one extracted line item before persistence.
type LineResult struct {
	LineNumber  int
	ItemCode    string
	Description string
	Quantity    *float64
	Unit        string
	UnitPrice   *float64
	Confidence  float64
}

// ExtractionOutput is the field extractor's full result for a document.
type ExtractionOutput struct {
	Fields   []FieldResult
	Lines    []LineResult
	Warnings []string
}

// ChatAnswer is a grounded answer with the documents it drew from.
type ChatAnswer struct {
	Text    string       `json:"text"`
	Sources []ChatSource `json:"sources"`
}

type ChatSource struct {
	DocumentID string       `json:"document_id"`
	Filename   string       `json:"filename"`
	DocType    DocumentType `json:"doc_type,omitempty"`
	Score      float64      `json:"score"`
	Snippet    string       `json:"snippet,omitempty"`
}
