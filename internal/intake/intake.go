// Package intake validates selected documents, stages their bytes in blob
// storage and uploads them to the backend one at a time.
package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/backend"
	"github.com/chefsync/onboarding/internal/model"
	pdfutil "github.com/chefsync/onboarding/internal/pdf"
)

// DefaultMaxPDFPages applies when a requirement does not set its own limit.
const DefaultMaxPDFPages = 3

// Blobs stores staged file bytes.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Uploader sends one file to the backend.
type Uploader interface {
	UploadRegistrationDocument(ctx context.Context, req backend.UploadRequest) (*backend.UploadedDocument, error)
}

// Converter renders a PDF into page images.
type Converter interface {
	Convert(ctx context.Context, data []byte) ([]pdfutil.Page, error)
}

// Selection is one file picked by the user for a requirement.
type Selection struct {
	DocumentTypeID int
	FileName       string
	ContentType    string
	Data           []byte
}

// ReportFunc observes every visible change of a document during upload.
type ReportFunc func(doc model.Document)

// Intake owns the document lifecycle from selection to upload.
type Intake struct {
	blobs       Blobs
	uploader    Uploader
	converter   Converter
	log         *zap.Logger
	now         func() time.Time
	maxPDFPages int
}

// Option customizes an Intake.
type Option func(*Intake)

// WithConverter renders PDFs to page images before upload. Without it PDFs
// are uploaded as-is and the backend converts them.
func WithConverter(c Converter) Option {
	return func(in *Intake) { in.converter = c }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Intake) { in.log = l }
}

// WithMaxPDFPages overrides DefaultMaxPDFPages.
func WithMaxPDFPages(n int) Option {
	return func(in *Intake) {
		if n > 0 {
			in.maxPDFPages = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(in *Intake) { in.now = now }
}

// New builds an Intake.
func New(blobs Blobs, uploader Uploader, opts ...Option) *Intake {
	in := &Intake{
		blobs:       blobs,
		uploader:    uploader,
		log:         zap.NewNop(),
		now:         time.Now,
		maxPDFPages: DefaultMaxPDFPages,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Stage validates sel and adds it to the working list. A file that fails
// validation is returned with status error and is never stored or uploaded.
func (in *Intake) Stage(ctx context.Context, registrationID string, dt model.DocumentType, sel Selection, position int) (model.Document, error) {
	now := in.now().UTC()
	doc := model.Document{
		ID:             uuid.NewString(),
		DocumentTypeID: dt.ID,
		FileName:       strings.TrimSpace(sel.FileName),
		Size:           int64(len(sel.Data)),
		ContentType:    contentType(sel),
		Status:         model.DocumentPending,
		Position:       position,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := in.check(&doc, dt, sel.Data); err != nil {
		doc.Status = model.DocumentError
		doc.Error = apperr.Message(err)
		return doc, nil
	}

	key := fmt.Sprintf("registrations/%s/%s.%s", registrationID, doc.ID, Extension(doc.FileName))
	if err := in.blobs.Put(ctx, key, sel.Data, doc.ContentType); err != nil {
		return model.Document{}, fmt.Errorf("stage document %s: %w", doc.ID, err)
	}
	doc.ObjectKey = key
	return doc, nil
}

func (in *Intake) check(doc *model.Document, dt model.DocumentType, data []byte) error {
	if err := Validate(doc.FileName, doc.Size, dt); err != nil {
		return err
	}
	ext := Extension(doc.FileName)
	if err := CheckSignature(ext, data); err != nil {
		return err
	}
	if ext != "pdf" {
		return nil
	}
	limit := in.maxPDFPages
	if dt.MaxPages != nil && *dt.MaxPages > 0 {
		limit = *dt.MaxPages
	}
	pages, err := in.ValidatePDFStructure(data, limit)
	if err != nil {
		return err
	}
	doc.Pages = pages
	return nil
}

// ValidatePDFStructure confirms the %PDF header and that the page count is
// between one and maxPages. When the parser cannot read the file the check
// passes with zero pages and the backend enforces the limit.
func (in *Intake) ValidatePDFStructure(data []byte, maxPages int) (int, error) {
	if !pdfutil.HasHeader(data) {
		return 0, reject("This file is not a valid PDF document.")
	}
	pages, err := pdfutil.PageCount(data)
	if err != nil {
		in.log.Warn("pdf page count unavailable, deferring to backend", zap.Error(err))
		return 0, nil
	}
	if pages == 0 {
		return 0, reject("This PDF has no pages.")
	}
	if maxPages > 0 && pages > maxPages {
		return pages, reject(fmt.Sprintf("PDF has %d pages. Maximum allowed is %d pages.", pages, maxPages))
	}
	return pages, nil
}

// Upload sends a pending document. On return doc holds its final status;
// the error is only for logging since the message is already on doc.
func (in *Intake) Upload(ctx context.Context, email string, doc *model.Document, report ReportFunc) error {
	if doc.Status != model.DocumentPending {
		return fmt.Errorf("upload document %s: status is %s", doc.ID, doc.Status)
	}
	if report == nil {
		report = func(model.Document) {}
	}

	data, err := in.blobs.Get(ctx, doc.ObjectKey)
	if err != nil {
		in.fail(doc, apperr.Validation("The selected file is no longer available. Please select it again.", nil), report)
		return fmt.Errorf("load document %s: %w", doc.ID, err)
	}

	parts := []filePart{{name: doc.FileName, contentType: doc.ContentType, data: data}}
	if in.converter != nil && Extension(doc.FileName) == "pdf" {
		in.set(doc, model.DocumentConverting, 0, report)
		pages, err := in.converter.Convert(ctx, data)
		if err != nil {
			in.fail(doc, apperr.Rejection(0, "We couldn't convert this PDF. Please upload the document as images instead."), report)
			return fmt.Errorf("convert document %s: %w", doc.ID, err)
		}
		parts = pageParts(doc.FileName, pages)
		doc.Pages = len(pages)
	}

	var total int64
	for _, p := range parts {
		total += int64(len(p.data))
	}
	in.set(doc, model.DocumentUploading, 0, report)

	var sent int64
	var last *backend.UploadedDocument
	for _, p := range parts {
		base := sent
		res, err := in.uploader.UploadRegistrationDocument(ctx, backend.UploadRequest{
			DocumentTypeID: doc.DocumentTypeID,
			Email:          email,
			FileName:       p.name,
			ContentType:    p.contentType,
			Content:        bytes.NewReader(p.data),
			Progress: func(written int64) {
				pct := percent(base+written, total)
				if pct != doc.Progress {
					in.set(doc, model.DocumentUploading, pct, report)
				}
			},
		})
		if err != nil {
			in.fail(doc, err, report)
			return fmt.Errorf("upload document %s: %w", doc.ID, err)
		}
		sent += int64(len(p.data))
		last = res
	}

	if last != nil {
		id := last.ID
		doc.ServerDocumentID = &id
	}
	in.set(doc, model.DocumentSuccess, 100, report)
	return nil
}

// UploadAll uploads every pending document in selection order, one at a
// time. A failed document does not stop the rest of the batch.
func (in *Intake) UploadAll(ctx context.Context, email string, docs []*model.Document, report ReportFunc) error {
	ordered := make([]*model.Document, 0, len(docs))
	for _, d := range docs {
		if d.Status == model.DocumentPending {
			ordered = append(ordered, d)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	var errs []error
	for _, d := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := in.Upload(ctx, email, d, report); err != nil {
			in.log.Info("document upload failed", zap.String("document_id", d.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retry moves a failed document back to pending so it can be uploaded again
// from its stored bytes. Files rejected before staging must be reselected.
func Retry(doc *model.Document, now time.Time) error {
	if doc.Status != model.DocumentError {
		return apperr.Validation("Only failed uploads can be retried.", nil)
	}
	if doc.ObjectKey == "" {
		return apperr.Validation("This file was rejected. Please select a different file.", nil)
	}
	doc.Status = model.DocumentPending
	doc.Progress = 0
	doc.Error = ""
	doc.UpdatedAt = now.UTC()
	return nil
}

// Discard removes the stored bytes of a document.
func (in *Intake) Discard(ctx context.Context, doc model.Document) error {
	if doc.ObjectKey == "" {
		return nil
	}
	if err := in.blobs.Delete(ctx, doc.ObjectKey); err != nil {
		return fmt.Errorf("discard document %s: %w", doc.ID, err)
	}
	return nil
}

// AllRequiredUploaded reports whether every required type has at least one
// successfully uploaded document.
func AllRequiredUploaded(types []model.DocumentType, docs []model.Document) bool {
	return len(MissingRequired(types, docs)) == 0
}

// MissingRequired lists required types without a successful upload.
func MissingRequired(types []model.DocumentType, docs []model.Document) []model.DocumentType {
	done := make(map[int]bool)
	for _, d := range docs {
		if d.Status == model.DocumentSuccess {
			done[d.DocumentTypeID] = true
		}
	}
	var missing []model.DocumentType
	for _, t := range types {
		if t.IsRequired && !done[t.ID] {
			missing = append(missing, t)
		}
	}
	return missing
}

func (in *Intake) set(doc *model.Document, status model.DocumentStatus, progress int, report ReportFunc) {
	doc.Status = status
	doc.Progress = progress
	doc.UpdatedAt = in.now().UTC()
	report(*doc)
}

func (in *Intake) fail(doc *model.Document, err error, report ReportFunc) {
	doc.Error = apperr.Message(err)
	in.set(doc, model.DocumentError, doc.Progress, report)
}

type filePart struct {
	name        string
	contentType string
	data        []byte
}

func pageParts(name string, pages []pdfutil.Page) []filePart {
	stem := strings.TrimSuffix(name, "."+Extension(name))
	if stem == "" {
		stem = "document"
	}
	parts := make([]filePart, len(pages))
	for i, p := range pages {
		parts[i] = filePart{
			name:        fmt.Sprintf("%s_page_%d.png", stem, p.Number),
			contentType: "image/png",
			data:        p.PNG,
		}
	}
	return parts
}

// percent caps at 99 so only a server answer reaches 100.
func percent(written, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(written * 100 / total)
	if p > 99 {
		p = 99
	}
	return p
}

func contentType(sel Selection) string {
	if sel.ContentType != "" && sel.ContentType != "application/octet-stream" {
		return sel.ContentType
	}
	if ct := mime.TypeByExtension("." + Extension(sel.FileName)); ct != "" {
		return ct
	}
	return http.DetectContentType(sel.Data)
}
