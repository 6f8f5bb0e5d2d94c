package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
)

// DocumentAdminUseCase covers the manual operations reviewers run against
// a document: requeueing, stopping, and fixing page orientation.
type DocumentAdminUseCase struct {
	repo  ports.DocumentRepository
	pages ports.PageRepository
	queue ports.TaskQueue
}

func NewDocumentAdminUseCase(
	repo ports.DocumentRepository,
	pages ports.PageRepository,
	queue ports.TaskQueue,
) *DocumentAdminUseCase {
	return &DocumentAdminUseCase{
		repo:  repo,
		pages: pages,
		queue: queue,
	}
}

// Reprocess rewinds a document to queued and dispatches a fresh task with
// a reset attempt counter. Any prior derived data is replaced by the next
// pipeline run.
func (uc *DocumentAdminUseCase) Reprocess(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status == domain.StatusProcessing {
		return domain.WrapError(domain.ErrConflict, "reprocess document",
			fmt.Errorf("document %s is still processing", documentID))
	}
	if err := uc.repo.UpdateStatusIf(ctx, documentID, doc.Status, domain.StatusQueued, ""); err != nil {
		return err
	}
	return uc.queue.PublishProcessTask(ctx, ports.ProcessTask{DocumentID: documentID})
}

// Stop fails a document out of the pipeline. A run already in flight loses
// its completion CAS against this status write.
func (uc *DocumentAdminUseCase) Stop(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(doc.Status, domain.StatusFailed) {
		return domain.WrapError(domain.ErrConflict, "stop document",
			fmt.Errorf("document %s is %s", documentID, doc.Status))
	}
	return uc.repo.UpdateStatusIf(ctx, documentID, doc.Status, domain.StatusFailed,
		"elaborazione interrotta manualmente")
}

// FlagRotation records reviewer-supplied page angles and parks the
// document until the rotation is confirmed. Angles are quarter turns.
func (uc *DocumentAdminUseCase) FlagRotation(ctx context.Context, documentID string, rotations map[int]int) error {
	if len(rotations) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "flag rotation", fmt.Errorf("no rotations given"))
	}
	for pageNum, angle := range rotations {
		if angle != 0 && angle != 90 && angle != 180 && angle != 270 {
			return domain.WrapError(domain.ErrInvalidInput, "flag rotation",
				fmt.Errorf("page %d: unsupported angle %d", pageNum, angle))
		}
	}

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(doc.Status, domain.StatusNeedsRotation) {
		return domain.WrapError(domain.ErrConflict, "flag rotation",
			fmt.Errorf("document %s is %s", documentID, doc.Status))
	}

	for pageNum, angle := range rotations {
		if err := uc.pages.SetRotation(ctx, documentID, pageNum, angle); err != nil {
			return err
		}
	}
	return uc.repo.UpdateStatusIf(ctx, documentID, doc.Status, domain.StatusNeedsRotation, "")
}

// ConfirmRotation dispatches a re-recognition run that applies the stored
// page angles. The worker moves the document to processing when it picks
// the task up.
func (uc *DocumentAdminUseCase) ConfirmRotation(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != domain.StatusNeedsRotation {
		return domain.WrapError(domain.ErrConflict, "confirm rotation",
			fmt.Errorf("document %s is %s", documentID, doc.Status))
	}
	return uc.queue.PublishProcessTask(ctx, ports.ProcessTask{DocumentID: documentID})
}
