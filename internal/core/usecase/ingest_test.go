package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/kirillkom/docintel/internal/core/domain"
)

var pdfBytes = []byte("%PDF-1.4 fake body for hashing")

func TestUploadStoresAndQueues(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	uc := NewIngestDocumentUseCase(repo, storage, queue)

	doc, err := uc.Upload(context.Background(), "acme", "Fattura 2024 101.pdf", bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if doc.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued", doc.Status)
	}
	if doc.Filename != "Fattura_2024_101.pdf" {
		t.Fatalf("filename = %q", doc.Filename)
	}
	sum := sha256.Sum256(pdfBytes)
	if doc.FileHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("hash = %q", doc.FileHash)
	}
	if doc.FileSizeBytes != int64(len(pdfBytes)) {
		t.Fatalf("size = %d", doc.FileSizeBytes)
	}
	if _, ok := storage.saved[doc.StoragePath]; !ok {
		t.Fatalf("nothing saved under %q", doc.StoragePath)
	}
	if len(queue.published) != 1 || queue.published[0].DocumentID != doc.ID {
		t.Fatalf("published = %v", queue.published)
	}
	if queue.published[0].Attempt != 0 {
		t.Fatalf("first attempt = %d, want 0", queue.published[0].Attempt)
	}
}

func TestUploadRejectsDuplicateBytes(t *testing.T) {
	repo := newRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	uc := NewIngestDocumentUseCase(repo, storage, queue)

	if _, err := uc.Upload(context.Background(), "acme", "a.pdf", bytes.NewReader(pdfBytes)); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err := uc.Upload(context.Background(), "acme", "b.pdf", bytes.NewReader(pdfBytes))
	if !domain.IsKind(err, domain.ErrDuplicateDocument) {
		t.Fatalf("expected ErrDuplicateDocument, got %v", err)
	}
	if len(queue.published) != 1 {
		t.Fatalf("duplicate must not queue a task, published = %d", len(queue.published))
	}
}

func TestUploadAllowsSameBytesForOtherTenant(t *testing.T) {
	repo := newRepoFake()
	uc := NewIngestDocumentUseCase(repo, newStorageFake(), &queueFake{})

	if _, err := uc.Upload(context.Background(), "acme", "a.pdf", bytes.NewReader(pdfBytes)); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if _, err := uc.Upload(context.Background(), "globex", "a.pdf", bytes.NewReader(pdfBytes)); err != nil {
		t.Fatalf("other tenant upload: %v", err)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	uc := NewIngestDocumentUseCase(newRepoFake(), newStorageFake(), &queueFake{})

	_, err := uc.Upload(context.Background(), "acme", "notes.docx", bytes.NewReader(pdfBytes))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUploadRejectsEmptyBody(t *testing.T) {
	uc := NewIngestDocumentUseCase(newRepoFake(), newStorageFake(), &queueFake{})

	_, err := uc.Upload(context.Background(), "acme", "a.pdf", bytes.NewReader(nil))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Fattura 2024/101.pdf": "101.pdf",
		"../../etc/passwd":     "passwd",
		"ordine (3).pdf":       "ordine__3_.pdf",
		"semplice.pdf":         "semplice.pdf",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
