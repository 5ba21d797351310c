// Package repository persists registrations in Postgres.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/model"
)

// RegistrationRepository wraps all SQL used by the server and worker.
// Registration fields live in one row; documents get a row each so upload
// progress can be written without rewriting the registration.
type RegistrationRepository struct {
	pool *pgxpool.Pool
}

// NewRegistrationRepository constructs a repository.
func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{pool: pool}
}

// Create inserts a new registration.
func (r *RegistrationRepository) Create(ctx context.Context, reg *model.Registration) error {
	now := time.Now().UTC()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now
	draft, otp, types, err := encode(reg)
	if err != nil {
		return err
	}
	access, refresh := tokenColumns(reg.Tokens)
	_, err = r.pool.Exec(ctx, `
		INSERT INTO registrations (id, email, step, draft, otp, document_types, access_token, refresh_token, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, reg.ID, reg.Draft.Email, reg.Step, draft, otp, types, access, refresh, reg.CreatedAt, reg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// Get loads a registration with its documents in selection order.
func (r *RegistrationRepository) Get(ctx context.Context, id string) (*model.Registration, error) {
	var (
		reg                   model.Registration
		draft, otp, types     []byte
		accessTok, refreshTok sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, step, draft, otp, document_types, access_token, refresh_token, created_at, updated_at
		FROM registrations WHERE id=$1
	`, id)
	if err := row.Scan(&reg.ID, &reg.Step, &draft, &otp, &types, &accessTok, &refreshTok, &reg.CreatedAt, &reg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("registration %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("select registration: %w", err)
	}
	if err := json.Unmarshal(draft, &reg.Draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	if err := json.Unmarshal(otp, &reg.OTP); err != nil {
		return nil, fmt.Errorf("decode otp: %w", err)
	}
	if len(types) > 0 {
		if err := json.Unmarshal(types, &reg.DocumentTypes); err != nil {
			return nil, fmt.Errorf("decode document types: %w", err)
		}
	}
	if accessTok.Valid || refreshTok.Valid {
		reg.Tokens = &model.Tokens{Access: accessTok.String, Refresh: refreshTok.String}
	}

	docs, err := r.documents(ctx, id)
	if err != nil {
		return nil, err
	}
	reg.Documents = docs
	return &reg, nil
}

// Save updates the registration row. Documents are untouched.
func (r *RegistrationRepository) Save(ctx context.Context, reg *model.Registration) error {
	reg.UpdatedAt = time.Now().UTC()
	draft, otp, types, err := encode(reg)
	if err != nil {
		return err
	}
	access, refresh := tokenColumns(reg.Tokens)
	tag, err := r.pool.Exec(ctx, `
		UPDATE registrations
		SET email=$1, step=$2, draft=$3, otp=$4, document_types=$5,
			access_token=$6, refresh_token=$7, updated_at=$8
		WHERE id=$9
	`, reg.Draft.Email, reg.Step, draft, otp, types, access, refresh, reg.UpdatedAt, reg.ID)
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("registration %s: %w", reg.ID, apperr.ErrNotFound)
	}
	return nil
}

// Delete removes a registration; documents go with it.
func (r *RegistrationRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM registrations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("registration %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// AddDocument inserts a newly selected document.
func (r *RegistrationRepository) AddDocument(ctx context.Context, registrationID string, doc model.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO registration_documents (id, registration_id, document_type_id, file_name, size, content_type,
			object_key, status, progress, error_message, server_document_id, pages, position, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, doc.ID, registrationID, doc.DocumentTypeID, doc.FileName, doc.Size, doc.ContentType,
		doc.ObjectKey, doc.Status, doc.Progress, nullable(doc.Error), doc.ServerDocumentID, doc.Pages, doc.Position,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// SaveDocument updates the mutable columns of one document.
func (r *RegistrationRepository) SaveDocument(ctx context.Context, registrationID string, doc model.Document) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE registration_documents
		SET status=$1, progress=$2, error_message=$3, server_document_id=$4, pages=$5, object_key=$6, updated_at=$7
		WHERE id=$8 AND registration_id=$9
	`, doc.Status, doc.Progress, nullable(doc.Error), doc.ServerDocumentID, doc.Pages, doc.ObjectKey,
		doc.UpdatedAt, doc.ID, registrationID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, apperr.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes one document.
func (r *RegistrationRepository) DeleteDocument(ctx context.Context, registrationID, documentID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM registration_documents WHERE id=$1 AND registration_id=$2
	`, documentID, registrationID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", documentID, apperr.ErrNotFound)
	}
	return nil
}

func (r *RegistrationRepository) documents(ctx context.Context, registrationID string) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_type_id, file_name, size, content_type, object_key, status, progress,
			COALESCE(error_message,''), server_document_id, pages, position, created_at, updated_at
		FROM registration_documents WHERE registration_id=$1
		ORDER BY position
	`, registrationID)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.DocumentTypeID, &d.FileName, &d.Size, &d.ContentType, &d.ObjectKey,
			&d.Status, &d.Progress, &d.Error, &d.ServerDocumentID, &d.Pages, &d.Position,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func encode(reg *model.Registration) (draft, otp, types []byte, err error) {
	if draft, err = json.Marshal(reg.Draft); err != nil {
		return nil, nil, nil, fmt.Errorf("encode draft: %w", err)
	}
	if otp, err = json.Marshal(reg.OTP); err != nil {
		return nil, nil, nil, fmt.Errorf("encode otp: %w", err)
	}
	if types, err = json.Marshal(reg.DocumentTypes); err != nil {
		return nil, nil, nil, fmt.Errorf("encode document types: %w", err)
	}
	return draft, otp, types, nil
}

func tokenColumns(t *model.Tokens) (access, refresh *string) {
	if t == nil {
		return nil, nil
	}
	return &t.Access, &t.Refresh
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
