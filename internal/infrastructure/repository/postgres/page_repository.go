package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/kirillkom/docintel/internal/core/domain"
)

type PageRepository struct {
	db *sql.DB
}

func NewPageRepository(db *sql.DB) *PageRepository {
	return &PageRepository{db: db}
}

// ReplacePages swaps a document's pages atomically. Reprocessing always
// rewrites the full set, so a delete-and-insert keeps page numbers dense.
func (r *PageRepository) ReplacePages(ctx context.Context, documentID string, pages []domain.Page) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pages tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_pages WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear pages: %w", err)
	}
	for _, page := range pages {
		id := page.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO document_pages (id, document_id, page_number, text_content, ocr_confidence, rotation_angle)
VALUES ($1,$2,$3,$4,$5,$6)
`, id, documentID, page.PageNumber, page.TextContent, page.OCRConfidence, page.RotationAngle); err != nil {
			return fmt.Errorf("insert page %d: %w", page.PageNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pages tx: %w", err)
	}
	return nil
}

func (r *PageRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.Page, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, page_number, text_content, ocr_confidence, rotation_angle
FROM document_pages
WHERE document_id = $1
ORDER BY page_number
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []domain.Page
	for rows.Next() {
		var page domain.Page
		var text sql.NullString
		if err := rows.Scan(&page.ID, &page.DocumentID, &page.PageNumber, &text, &page.OCRConfidence, &page.RotationAngle); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		page.TextContent = text.String
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func (r *PageRepository) UpdateText(ctx context.Context, documentID string, pageNumber int, text string, confidence *float64) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE document_pages
SET text_content = $3, ocr_confidence = $4
WHERE document_id = $1 AND page_number = $2
`, documentID, pageNumber, text, confidence)
	if err != nil {
		return fmt.Errorf("update page text: %w", err)
	}
	return requirePage(res, documentID, pageNumber)
}

func (r *PageRepository) SetRotation(ctx context.Context, documentID string, pageNumber, angle int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE document_pages
SET rotation_angle = $3
WHERE document_id = $1 AND page_number = $2
`, documentID, pageNumber, angle)
	if err != nil {
		return fmt.Errorf("set page rotation: %w", err)
	}
	return requirePage(res, documentID, pageNumber)
}

func (r *PageRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM document_pages WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete pages: %w", err)
	}
	return nil
}

func requirePage(res sql.Result, documentID string, pageNumber int) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("page rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update page",
			fmt.Errorf("document %s page %d", documentID, pageNumber))
	}
	return nil
}
