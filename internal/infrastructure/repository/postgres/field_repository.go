package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docintel/internal/core/domain"
)

type FieldRepository struct {
	db *sql.DB
}

func NewFieldRepository(db *sql.DB) *FieldRepository {
	return &FieldRepository{db: db}
}

// ReplaceFields rewrites a document's extracted fields. Events cascade
// away with the replaced field rows.
func (r *FieldRepository) ReplaceFields(ctx context.Context, documentID string, fields []domain.ExtractedField) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fields tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM extracted_fields WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear fields: %w", err)
	}
	for _, field := range fields {
		id := field.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := field.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		var bboxJSON any
		if field.BBox != nil {
			raw, err := json.Marshal(field.BBox)
			if err != nil {
				return fmt.Errorf("marshal bbox: %w", err)
			}
			bboxJSON = raw
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO extracted_fields (id, document_id, field_name, raw_value, normalized_value, confidence, page, bbox, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, id, documentID, field.FieldName, field.RawValue, field.NormalizedValue, field.Confidence, field.Page, bboxJSON, createdAt); err != nil {
			return fmt.Errorf("insert field %s: %w", field.FieldName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fields tx: %w", err)
	}
	return nil
}

func (r *FieldRepository) ReplaceLines(ctx context.Context, documentID string, lines []domain.DocumentLine) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lines tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_lines WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear lines: %w", err)
	}
	for _, line := range lines {
		id := line.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := line.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		var embeddingJSON any
		if line.Embedding != nil {
			raw, err := json.Marshal(line.Embedding)
			if err != nil {
				return fmt.Errorf("marshal embedding: %w", err)
			}
			embeddingJSON = raw
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO document_lines (id, document_id, line_number, item_code, description, quantity, unit, unit_price, total_price, confidence, page, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, id, documentID, line.LineNumber, line.ItemCode, line.Description, line.Quantity, line.Unit,
			line.UnitPrice, line.TotalPrice, line.Confidence, line.Page, embeddingJSON, createdAt); err != nil {
			return fmt.Errorf("insert line %d: %w", line.LineNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lines tx: %w", err)
	}
	return nil
}

func (r *FieldRepository) ListFields(ctx context.Context, documentID string) ([]domain.ExtractedField, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, field_name, raw_value, normalized_value, confidence, page, bbox, created_at
FROM extracted_fields
WHERE document_id = $1
ORDER BY field_name
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var fields []domain.ExtractedField
	for rows.Next() {
		field, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, *field)
	}
	return fields, rows.Err()
}

func (r *FieldRepository) ListLines(ctx context.Context, documentID string) ([]domain.DocumentLine, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, line_number, item_code, description, quantity, unit, unit_price, total_price, confidence, page, created_at
FROM document_lines
WHERE document_id = $1
ORDER BY line_number
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.DocumentLine
	for rows.Next() {
		var line domain.DocumentLine
		var itemCode, description, unit sql.NullString
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.LineNumber, &itemCode, &description,
			&line.Quantity, &unit, &line.UnitPrice, &line.TotalPrice, &line.Confidence, &line.Page, &line.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		line.ItemCode = itemCode.String
		line.Description = description.String
		line.Unit = unit.String
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *FieldRepository) GetField(ctx context.Context, fieldID string) (*domain.ExtractedField, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, field_name, raw_value, normalized_value, confidence, page, bbox, created_at
FROM extracted_fields
WHERE id = $1
`, fieldID)
	field, err := scanField(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrFieldNotFound, "get field", fmt.Errorf("id %s", fieldID))
		}
		return nil, err
	}
	return field, nil
}

func (r *FieldRepository) UpdateFieldValue(ctx context.Context, fieldID, normalizedValue string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE extracted_fields
SET normalized_value = $2
WHERE id = $1
`, fieldID, normalizedValue)
	if err != nil {
		return fmt.Errorf("update field value: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("field rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrFieldNotFound, "update field value", fmt.Errorf("id %s", fieldID))
	}
	return nil
}

func (r *FieldRepository) AppendEvent(ctx context.Context, event domain.FieldEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO field_events (id, field_id, actor, event_type, old_value, new_value, comment, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, id, event.FieldID, event.Actor, string(event.EventType), event.OldValue, event.NewValue, event.Comment, createdAt)
	if err != nil {
		return fmt.Errorf("append field event: %w", err)
	}
	return nil
}

func (r *FieldRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM extracted_fields WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete fields: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_lines WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete lines: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func scanField(row rowScanner) (*domain.ExtractedField, error) {
	var field domain.ExtractedField
	var rawValue, normalizedValue sql.NullString
	var bboxRaw []byte

	err := row.Scan(&field.ID, &field.DocumentID, &field.FieldName, &rawValue, &normalizedValue,
		&field.Confidence, &field.Page, &bboxRaw, &field.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan field: %w", err)
	}
	field.RawValue = rawValue.String
	field.NormalizedValue = normalizedValue.String
	if len(bboxRaw) > 0 {
		var bbox domain.BBox
		if err := json.Unmarshal(bboxRaw, &bbox); err != nil {
			return nil, fmt.Errorf("unmarshal bbox: %w", err)
		}
		field.BBox = &bbox
	}
	return &field, nil
}
