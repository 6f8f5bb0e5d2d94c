package usecase

import (
	"context"
	"io"
	"strings"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
)

type statusCall struct {
	expected domain.DocumentStatus
	status   domain.DocumentStatus
	errMsg   string
}

// repoFake implements ports.DocumentRepository with enough state tracking
// to assert the status machine from the outside.
type repoFake struct {
	docs        map[string]*domain.Document
	byHash      map[string]*domain.Document
	created     []*domain.Document
	statusCalls []statusCall
	saved       *domain.Document
	warnings    []string
	resetCalls  int

	createErr        error
	statusErr        error
	saveErr          error
	onSaveExtraction func()
}

func newRepoFake(docs ...*domain.Document) *repoFake {
	f := &repoFake{docs: map[string]*domain.Document{}, byHash: map[string]*domain.Document{}}
	for _, doc := range docs {
		f.docs[doc.ID] = doc
		f.byHash[doc.TenantID+"/"+doc.FileHash] = doc
	}
	return f
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, doc)
	f.docs[doc.ID] = doc
	f.byHash[doc.TenantID+"/"+doc.FileHash] = doc
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", io.EOF)
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) GetByHash(_ context.Context, tenantID, fileHash string) (*domain.Document, error) {
	doc, ok := f.byHash[tenantID+"/"+fileHash]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document by hash", io.EOF)
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) List(_ context.Context, tenantID string) ([]domain.Document, error) {
	var out []domain.Document
	for _, doc := range f.docs {
		if doc.TenantID == tenantID {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (f *repoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update status", io.EOF)
	}
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	doc.Status = status
	doc.Error = errMessage
	return nil
}

func (f *repoFake) UpdateStatusIf(_ context.Context, id string, expected, status domain.DocumentStatus, errMessage string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "update status", io.EOF)
	}
	f.statusCalls = append(f.statusCalls, statusCall{expected: expected, status: status, errMsg: errMessage})
	if doc.Status != expected {
		return domain.WrapError(domain.ErrConflict, "update status", io.EOF)
	}
	doc.Status = status
	doc.Error = errMessage
	return nil
}

func (f *repoFake) SaveExtraction(_ context.Context, doc *domain.Document) error {
	if f.onSaveExtraction != nil {
		f.onSaveExtraction()
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	copyDoc := *doc
	f.saved = &copyDoc
	return nil
}

func (f *repoFake) SaveClassification(_ context.Context, id string, result domain.ClassificationResult) error {
	doc, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "save classification", io.EOF)
	}
	doc.DocType = result.DocType
	doc.DocTypeConfidence = result.Confidence
	return nil
}

func (f *repoFake) AppendWarnings(_ context.Context, id string, warnings []string) error {
	f.warnings = append(f.warnings, warnings...)
	return nil
}

func (f *repoFake) ResetDiagnostics(_ context.Context, id string) error {
	f.resetCalls++
	f.warnings = nil
	if doc, ok := f.docs[id]; ok {
		doc.Warnings = nil
		doc.Error = ""
	}
	return nil
}

func (f *repoFake) Delete(_ context.Context, id string) error {
	delete(f.docs, id)
	return nil
}

type pageRepoFake struct {
	pages     map[string][]domain.Page
	updates   map[int]string
	rotations map[int]int
}

func newPageRepoFake() *pageRepoFake {
	return &pageRepoFake{pages: map[string][]domain.Page{}, updates: map[int]string{}, rotations: map[int]int{}}
}

func (f *pageRepoFake) ReplacePages(_ context.Context, documentID string, pages []domain.Page) error {
	f.pages[documentID] = pages
	return nil
}

func (f *pageRepoFake) ListByDocument(_ context.Context, documentID string) ([]domain.Page, error) {
	return f.pages[documentID], nil
}

func (f *pageRepoFake) UpdateText(_ context.Context, documentID string, pageNumber int, text string, confidence *float64) error {
	f.updates[pageNumber] = text
	return nil
}

func (f *pageRepoFake) SetRotation(_ context.Context, documentID string, pageNumber, angle int) error {
	f.rotations[pageNumber] = angle
	return nil
}

func (f *pageRepoFake) DeleteByDocument(_ context.Context, documentID string) error {
	delete(f.pages, documentID)
	return nil
}

type fieldRepoFake struct {
	fields map[string][]domain.ExtractedField
	lines  map[string][]domain.DocumentLine
	events []domain.FieldEvent
}

func newFieldRepoFake() *fieldRepoFake {
	return &fieldRepoFake{fields: map[string][]domain.ExtractedField{}, lines: map[string][]domain.DocumentLine{}}
}

func (f *fieldRepoFake) ReplaceFields(_ context.Context, documentID string, fields []domain.ExtractedField) error {
	f.fields[documentID] = fields
	return nil
}

func (f *fieldRepoFake) ReplaceLines(_ context.Context, documentID string, lines []domain.DocumentLine) error {
	f.lines[documentID] = lines
	return nil
}

func (f *fieldRepoFake) ListFields(_ context.Context, documentID string) ([]domain.ExtractedField, error) {
	return f.fields[documentID], nil
}

func (f *fieldRepoFake) ListLines(_ context.Context, documentID string) ([]domain.DocumentLine, error) {
	return f.lines[documentID], nil
}

func (f *fieldRepoFake) GetField(_ context.Context, fieldID string) (*domain.ExtractedField, error) {
	for _, fields := range f.fields {
		for i := range fields {
			if fields[i].ID == fieldID {
				return &fields[i], nil
			}
		}
	}
	return nil, domain.WrapError(domain.ErrFieldNotFound, "get field", io.EOF)
}

func (f *fieldRepoFake) UpdateFieldValue(_ context.Context, fieldID, normalizedValue string) error {
	for _, fields := range f.fields {
		for i := range fields {
			if fields[i].ID == fieldID {
				fields[i].NormalizedValue = normalizedValue
				return nil
			}
		}
	}
	return domain.WrapError(domain.ErrFieldNotFound, "update field", io.EOF)
}

func (f *fieldRepoFake) AppendEvent(_ context.Context, event domain.FieldEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fieldRepoFake) DeleteByDocument(_ context.Context, documentID string) error {
	delete(f.fields, documentID)
	delete(f.lines, documentID)
	return nil
}

type storageFake struct {
	saved   map[string][]byte
	saveErr error
}

func newStorageFake() *storageFake {
	return &storageFake{saved: map[string][]byte{}}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.saved[key] = buf
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(f.saved[key]))), nil
}

func (f *storageFake) Path(key string) string { return "/var/docs/" + key }

type queueFake struct {
	published  []ports.ProcessTask
	publishErr error
}

func (f *queueFake) PublishProcessTask(_ context.Context, task ports.ProcessTask) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, task)
	return nil
}

func (f *queueFake) SubscribeProcessTasks(context.Context, func(context.Context, ports.ProcessTask) error) error {
	return nil
}

type textExtractorFake struct {
	result *domain.ExtractionResult
	err    error
}

func (f *textExtractorFake) Extract(context.Context, string) (*domain.ExtractionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type ocrFake struct {
	result        *domain.OCRResult
	err           error
	runCalls      int
	rotationCalls int
	rotations     map[int]int
}

func (f *ocrFake) Run(_ context.Context, filePath string, pages []int) (*domain.OCRResult, error) {
	f.runCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *ocrFake) RunWithRotations(_ context.Context, filePath string, rotations map[int]int) (*domain.OCRResult, error) {
	f.rotationCalls++
	f.rotations = rotations
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type classifierFake struct {
	result domain.ClassificationResult
	err    error
	text   string
}

func (f *classifierFake) Classify(_ context.Context, text, filename string) (domain.ClassificationResult, error) {
	f.text = text
	if f.err != nil {
		return domain.ClassificationResult{}, f.err
	}
	return f.result, nil
}

type metatagFake struct {
	output *domain.ExtractionOutput
	err    error
	text   string
}

func (f *metatagFake) ExtractFields(_ context.Context, text string, docType domain.DocumentType) (*domain.ExtractionOutput, error) {
	f.text = text
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

type llmFake struct {
	answer  string
	err     error
	prompts []string
}

func (f *llmFake) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *llmFake) GenerateVision(context.Context, string, []byte) (string, error) {
	return f.answer, f.err
}
