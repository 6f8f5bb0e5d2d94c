package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
)

// maxUploadBytes bounds a single PDF upload. Business documents in this
// corpus run a few MB at most.
const maxUploadBytes = 50 << 20

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.TaskQueue
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.TaskQueue,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

// Upload stores a PDF, registers it as queued and dispatches a processing
// task. Re-uploading identical bytes for the same tenant is rejected with
// domain.ErrDuplicateDocument before anything is written.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	tenantID, filename string,
	body io.Reader,
) (*domain.Document, error) {
	if tenantID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("empty tenant id"))
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document",
			fmt.Errorf("unsupported file type %q", filepath.Ext(filename)))
	}

	data, err := io.ReadAll(io.LimitReader(body, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("empty file"))
	}
	if len(data) > maxUploadBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document",
			fmt.Errorf("file exceeds %d bytes", maxUploadBytes))
	}

	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])

	if existing, err := uc.repo.GetByHash(ctx, tenantID, fileHash); err == nil {
		return nil, domain.WrapError(domain.ErrDuplicateDocument, "upload document",
			fmt.Errorf("already stored as %s", existing.ID))
	} else if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	id := uuid.NewString()
	storageKey := filepath.Join(tenantID, id+".pdf")
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:            id,
		TenantID:      tenantID,
		Filename:      sanitizeFilename(filename),
		StoragePath:   storageKey,
		FileHash:      fileHash,
		FileSizeBytes: int64(len(data)),
		Status:        domain.StatusQueued,
		Warnings:      []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	if err := uc.queue.PublishProcessTask(ctx, ports.ProcessTask{DocumentID: doc.ID}); err != nil {
		return nil, fmt.Errorf("publish process task: %w", err)
	}

	return doc, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.pdf"
	}
	return base
}
