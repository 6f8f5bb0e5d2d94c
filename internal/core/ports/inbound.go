package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docintel/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, tenantID, filename string, body io.Reader) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous pipeline runs.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DocumentAdmin covers the manual lifecycle operations reviewers trigger.
type DocumentAdmin interface {
	Reprocess(ctx context.Context, documentID string) error
	Stop(ctx context.Context, documentID string) error
	FlagRotation(ctx context.Context, documentID string, rotations map[int]int) error
	ConfirmRotation(ctx context.Context, documentID string) error
}

// ChatService answers questions against the stored corpus.
type ChatService interface {
	Ask(ctx context.Context, tenantID, question string) (*domain.ChatAnswer, error)
}
