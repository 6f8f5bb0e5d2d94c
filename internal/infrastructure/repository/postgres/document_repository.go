// Package postgres persists documents, pages, extracted fields and their
// audit trail. Schema bootstrap is idempotent and serialized across
// processes with an advisory lock.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docintel/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_hash TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	is_scanned BOOLEAN,
	ocr_quality DOUBLE PRECISION NOT NULL DEFAULT 0,
	doc_type TEXT,
	doc_type_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	doc_type_override TEXT,
	raw_text TEXT,
	warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT,
	doc_number TEXT,
	doc_date DATE,
	fornitore TEXT,
	emittente TEXT,
	totale DOUBLE PRECISION,
	vettore TEXT,
	causale_trasporto TEXT,
	scadenza_pagamento DATE,
	modalita_pagamento TEXT,
	imponibile DOUBLE PRECISION,
	aliquota_iva DOUBLE PRECISION,
	importo_iva DOUBLE PRECISION,
	validita_offerta DATE,
	data_consegna DATE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	UNIQUE (tenant_id, file_hash)
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_doc_type ON documents(doc_type);

CREATE TABLE IF NOT EXISTS document_pages (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	text_content TEXT,
	ocr_confidence DOUBLE PRECISION,
	rotation_angle INTEGER NOT NULL DEFAULT 0,
	UNIQUE (document_id, page_number)
);

CREATE TABLE IF NOT EXISTS extracted_fields (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	field_name TEXT NOT NULL,
	raw_value TEXT,
	normalized_value TEXT,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	page INTEGER,
	bbox JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extracted_fields_document ON extracted_fields(document_id);

CREATE TABLE IF NOT EXISTS document_lines (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	line_number INTEGER NOT NULL,
	item_code TEXT,
	description TEXT,
	quantity DOUBLE PRECISION,
	unit TEXT,
	unit_price DOUBLE PRECISION,
	total_price DOUBLE PRECISION,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	page INTEGER,
	embedding JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_lines_document ON document_lines(document_id);

CREATE TABLE IF NOT EXISTS field_events (
	id TEXT PRIMARY KEY,
	field_id TEXT NOT NULL REFERENCES extracted_fields(id) ON DELETE CASCADE,
	actor TEXT NOT NULL,
	event_type TEXT NOT NULL,
	old_value TEXT,
	new_value TEXT,
	comment TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_field_events_field ON field_events(field_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	warningsJSON, err := marshalWarnings(doc.Warnings)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, tenant_id, filename, file_path, file_hash, file_size_bytes, status, warnings, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		doc.ID, doc.TenantID, doc.Filename, doc.StoragePath, doc.FileHash, doc.FileSizeBytes,
		string(doc.Status), warningsJSON, doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicateDocument, "create document", err)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `
id, tenant_id, filename, file_path, file_hash, file_size_bytes, status,
is_scanned, ocr_quality, doc_type, doc_type_confidence, doc_type_override,
raw_text, warnings, error_message,
doc_number, doc_date, fornitore, emittente, totale,
vettore, causale_trasporto, scadenza_pagamento, modalita_pagamento,
imponibile, aliquota_iva, importo_iva, validita_offerta, data_consegna,
created_at, updated_at, processed_at`

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) GetByHash(ctx context.Context, tenantID, fileHash string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND file_hash = $2`, tenantID, fileHash)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document by hash", fmt.Errorf("tenant %s", tenantID))
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) List(ctx context.Context, tenantID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRow(res, "update document status", id)
}

// UpdateStatusIf is a compare-and-set on status. A manual stop and a
// finishing pipeline can race; the loser of this CAS gets ErrConflict and
// must not overwrite.
func (r *DocumentRepository) UpdateStatusIf(ctx context.Context, id string, expected, status domain.DocumentStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $3, error_message = $4, updated_at = $5
WHERE id = $1 AND status = $2
`, id, string(expected), string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing document from a lost race.
		var current string
		scanErr := r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrDocumentNotFound, "update document status", fmt.Errorf("id %s", id))
		}
		if scanErr != nil {
			return fmt.Errorf("read current status: %w", scanErr)
		}
		return domain.WrapError(domain.ErrConflict, "update document status",
			fmt.Errorf("expected %s, found %s", expected, current))
	}
	return nil
}

// SaveExtraction writes everything the pipeline derived: OCR flags, raw
// text, warnings and the promoted fields.
func (r *DocumentRepository) SaveExtraction(ctx context.Context, doc *domain.Document) error {
	warningsJSON, err := marshalWarnings(doc.Warnings)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET is_scanned = $2, ocr_quality = $3, raw_text = $4, warnings = $5,
	doc_number = $6, doc_date = $7, fornitore = $8, emittente = $9, totale = $10,
	vettore = $11, causale_trasporto = $12, scadenza_pagamento = $13, modalita_pagamento = $14,
	imponibile = $15, aliquota_iva = $16, importo_iva = $17, validita_offerta = $18, data_consegna = $19,
	processed_at = $20, updated_at = $21
WHERE id = $1
`,
		doc.ID, doc.IsScanned, doc.OCRQuality, doc.RawText, warningsJSON,
		nullString(doc.DocNumber), doc.DocDate, nullString(doc.Fornitore), nullString(doc.Emittente), doc.Totale,
		nullString(doc.Vettore), nullString(doc.CausaleTrasporto), doc.ScadenzaPagamento, nullString(doc.ModalitaPagamento),
		doc.Imponibile, doc.AliquotaIVA, doc.ImportoIVA, doc.ValiditaOfferta, doc.DataConsegna,
		doc.ProcessedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	return requireRow(res, "save extraction", doc.ID)
}

func (r *DocumentRepository) SaveClassification(ctx context.Context, id string, result domain.ClassificationResult) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET doc_type = $2, doc_type_confidence = $3, updated_at = $4
WHERE id = $1
`, id, string(result.DocType), result.Confidence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return requireRow(res, "save classification", id)
}

func (r *DocumentRepository) AppendWarnings(ctx context.Context, id string, warnings []string) error {
	if len(warnings) == 0 {
		return nil
	}
	warningsJSON, err := marshalWarnings(warnings)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET warnings = warnings || $2::jsonb, updated_at = $3
WHERE id = $1
`, id, warningsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append warnings: %w", err)
	}
	return requireRow(res, "append warnings", id)
}

func (r *DocumentRepository) ResetDiagnostics(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET warnings = '[]'::jsonb, error_message = NULL, updated_at = $2
WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset diagnostics: %w", err)
	}
	return requireRow(res, "reset diagnostics", id)
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireRow(res, "delete document", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status string
	var docType, docTypeOverride, rawText, errMessage sql.NullString
	var docNumber, fornitore, emittente, vettore, causale, modalita sql.NullString
	var warningsRaw []byte

	err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.Filename, &doc.StoragePath, &doc.FileHash, &doc.FileSizeBytes, &status,
		&doc.IsScanned, &doc.OCRQuality, &docType, &doc.DocTypeConfidence, &docTypeOverride,
		&rawText, &warningsRaw, &errMessage,
		&docNumber, &doc.DocDate, &fornitore, &emittente, &doc.Totale,
		&vettore, &causale, &doc.ScadenzaPagamento, &modalita,
		&doc.Imponibile, &doc.AliquotaIVA, &doc.ImportoIVA, &doc.ValiditaOfferta, &doc.DataConsegna,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Status = domain.DocumentStatus(status)
	doc.DocType = domain.DocumentType(docType.String)
	doc.DocTypeOverride = domain.DocumentType(docTypeOverride.String)
	doc.RawText = rawText.String
	doc.Error = errMessage.String
	doc.DocNumber = docNumber.String
	doc.Fornitore = fornitore.String
	doc.Emittente = emittente.String
	doc.Vettore = vettore.String
	doc.CausaleTrasporto = causale.String
	doc.ModalitaPagamento = modalita.String

	if len(warningsRaw) > 0 {
		if err := json.Unmarshal(warningsRaw, &doc.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal warnings: %w", err)
		}
	}
	return &doc, nil
}

func marshalWarnings(warnings []string) ([]byte, error) {
	if warnings == nil {
		warnings = []string{}
	}
	raw, err := json.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("marshal warnings: %w", err)
	}
	return raw, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}

// isUniqueViolation matches the postgres unique_violation SQLSTATE without
// tying the repository to a driver-specific error type.
func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	var state sqlStater
	if errors.As(err, &state) {
		return state.SQLState() == "23505"
	}
	return false
}
