package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/docintel/internal/core/domain"
)

func newFieldRepoWithMock(t *testing.T) (*FieldRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &FieldRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestReplaceFieldsClearsBeforeInsert(t *testing.T) {
	repo, mock, done := newFieldRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM extracted_fields").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO extracted_fields").
		WithArgs(sqlmock.AnyArg(), "doc-1", "numero_documento", "2024/101", "2024/101", 0.85, sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	page := 1
	fields := []domain.ExtractedField{{
		FieldName:       "numero_documento",
		RawValue:        "2024/101",
		NormalizedValue: "2024/101",
		Confidence:      0.85,
		Page:            &page,
	}}
	if err := repo.ReplaceFields(context.Background(), "doc-1", fields); err != nil {
		t.Fatalf("ReplaceFields() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceFieldsRollsBackOnInsertError(t *testing.T) {
	repo, mock, done := newFieldRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM extracted_fields").
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO extracted_fields").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.ReplaceFields(context.Background(), "doc-1", []domain.ExtractedField{{FieldName: "totale"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetFieldReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newFieldRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM extracted_fields").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetField(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateFieldValueNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newFieldRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE extracted_fields").
		WithArgs("missing", "1220.00").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateFieldValue(context.Background(), "missing", "1220.00")
	if !domain.IsKind(err, domain.ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendEventGeneratesIDAndTimestamp(t *testing.T) {
	repo, mock, done := newFieldRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO field_events").
		WithArgs(sqlmock.AnyArg(), "field-1", "mario", string(domain.FieldEventUpdated),
			"1220", "1220.00", "fix formatting", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := domain.FieldEvent{
		FieldID:   "field-1",
		Actor:     "mario",
		EventType: domain.FieldEventUpdated,
		OldValue:  "1220",
		NewValue:  "1220.00",
		Comment:   "fix formatting",
	}
	if err := repo.AppendEvent(context.Background(), event); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
