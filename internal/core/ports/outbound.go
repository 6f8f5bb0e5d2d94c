package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docintel/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByHash(ctx context.Context, tenantID, fileHash string) (*domain.Document, error)
	List(ctx context.Context, tenantID string) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	// UpdateStatusIf writes the status only when the document is currently in
	// expected; it returns domain.ErrConflict otherwise. Used to keep a racing
	// pipeline completion from overriding a manual stop.
	UpdateStatusIf(ctx context.Context, id string, expected, status domain.DocumentStatus, errMessage string) error
	SaveExtraction(ctx context.Context, doc *domain.Document) error
	SaveClassification(ctx context.Context, id string, result domain.ClassificationResult) error
	AppendWarnings(ctx context.Context, id string, warnings []string) error
	// ResetDiagnostics clears warnings and the error message, so a retried
	// run starts from a clean slate instead of stacking stale warnings.
	ResetDiagnostics(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// PageRepository stores per-page text and OCR state.
type PageRepository interface {
	ReplacePages(ctx context.Context, documentID string, pages []domain.Page) error
	ListByDocument(ctx context.Context, documentID string) ([]domain.Page, error)
	UpdateText(ctx context.Context, documentID string, pageNumber int, text string, confidence *float64) error
	SetRotation(ctx context.Context, documentID string, pageNumber, angle int) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// FieldRepository stores extracted fields, line items and their audit trail.
type FieldRepository interface {
	ReplaceFields(ctx context.Context, documentID string, fields []domain.ExtractedField) error
	ReplaceLines(ctx context.Context, documentID string, lines []domain.DocumentLine) error
	ListFields(ctx context.Context, documentID string) ([]domain.ExtractedField, error)
	ListLines(ctx context.Context, documentID string) ([]domain.DocumentLine, error)
	GetField(ctx context.Context, fieldID string) (*domain.ExtractedField, error)
	UpdateFieldValue(ctx context.Context, fieldID, normalizedValue string) error
	AppendEvent(ctx context.Context, event domain.FieldEvent) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Path(key string) string
}

// ProcessTask is the unit of work dispatched to workers. Attempt counts
// completed tries, so the first run carries Attempt == 0.
type ProcessTask struct {
	DocumentID string `json:"document_id"`
	Attempt    int    `json:"attempt"`
}

// TaskQueue publishes and consumes document processing tasks. Delivery is
// at-least-once; handlers must tolerate duplicate dispatch.
type TaskQueue interface {
	PublishProcessTask(ctx context.Context, task ProcessTask) error
	SubscribeProcessTasks(ctx context.Context, handler func(context.Context, ProcessTask) error) error
}

// TextExtractor reads the native text layer of a stored PDF.
type TextExtractor interface {
	Extract(ctx context.Context, filePath string) (*domain.ExtractionResult, error)
}

// OCREngine recovers text from pages without a usable text layer.
// RunWithRotations re-runs recognition unconditionally with the supplied
// per-page rotation overrides applied, skipping the native-text shortcut.
type OCREngine interface {
	Run(ctx context.Context, filePath string, pages []int) (*domain.OCRResult, error)
	RunWithRotations(ctx context.Context, filePath string, rotations map[int]int) (*domain.OCRResult, error)
}

// Classifier assigns a document type to extracted text.
type Classifier interface {
	Classify(ctx context.Context, text, filename string) (domain.ClassificationResult, error)
}

// FieldExtractor produces structured fields and line items.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text string, docType domain.DocumentType) (*domain.ExtractionOutput, error)
}

// CompletionClient is the LLM endpoint consumed by classification,
// extraction and chat. It is unreliable by contract; callers wrap every
// use in soft-failure handling.
type CompletionClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateVision(ctx context.Context, prompt string, imagePNG []byte) (string, error)
}
