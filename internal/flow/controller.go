// Package flow is the registration state machine. Every operation loads the
// registration, checks that it is on the right step, applies one transition
// and persists the result.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/intake"
	"github.com/chefsync/onboarding/internal/model"
	"github.com/chefsync/onboarding/internal/otp"
	"github.com/chefsync/onboarding/internal/submit"
	"github.com/chefsync/onboarding/internal/validate"
)

// Store persists registrations. Save never touches documents; they are
// written one at a time so upload progress does not race other updates.
type Store interface {
	Create(ctx context.Context, reg *model.Registration) error
	Get(ctx context.Context, id string) (*model.Registration, error)
	Save(ctx context.Context, reg *model.Registration) error
	Delete(ctx context.Context, id string) error
	AddDocument(ctx context.Context, registrationID string, doc model.Document) error
	SaveDocument(ctx context.Context, registrationID string, doc model.Document) error
	DeleteDocument(ctx context.Context, registrationID, documentID string) error
}

// Catalog lists the document requirements of a role.
type Catalog interface {
	ListDocumentTypes(ctx context.Context, role model.Role) ([]model.DocumentType, error)
}

// Dispatcher schedules UploadPending for a registration.
type Dispatcher interface {
	Dispatch(ctx context.Context, registrationID string) error
}

const maxUploadRounds = 5

// Controller drives registrations through their steps.
type Controller struct {
	store      Store
	sender     otp.Sender
	catalog    Catalog
	intake     *intake.Intake
	gateway    *submit.Gateway
	dispatcher Dispatcher
	creds      submit.Credentials
	log        *zap.Logger
	now        func() time.Time

	locks sync.Map
}

// Option customizes a Controller.
type Option func(*Controller)

// WithDispatcher uploads staged documents in the background. Without one,
// callers run UploadPending themselves.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Controller) { c.dispatcher = d }
}

// WithCredentials also writes issued tokens to an external store, such as
// the CLI credentials file.
func WithCredentials(creds submit.Credentials) Option {
	return func(c *Controller) { c.creds = creds }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithClock replaces time.Now, including for OTP countdowns.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController wires the collaborators of the flow.
func NewController(store Store, sender otp.Sender, catalog Catalog, in *intake.Intake, gw *submit.Gateway, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		sender:  sender,
		catalog: catalog,
		intake:  in,
		gateway: gw,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start validates the personal details and sends the first code.
func (c *Controller) Start(ctx context.Context, firstName, email string) (*model.Registration, error) {
	if err := validate.PersonalInfo(firstName, email); err != nil {
		return nil, err
	}
	now := c.now().UTC()
	reg := &model.Registration{
		ID: uuid.NewString(),
		Draft: model.Draft{
			FirstName: strings.TrimSpace(firstName),
			Email:     strings.ToLower(strings.TrimSpace(email)),
		},
		Step:      model.StepPersonalInfo,
		CreatedAt: now,
	}
	session := otp.New(c.sender, reg.Draft.Email, reg.Draft.FirstName, model.PurposeRegistration, otp.WithClock(c.now))
	if err := session.Request(ctx); err != nil {
		return nil, err
	}
	reg.OTP = session.Snapshot()
	reg.Step = model.StepEmailVerification
	if err := c.store.Create(ctx, reg); err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}
	c.log.Info("registration started", zap.String("registration_id", reg.ID))
	return reg, nil
}

// Get returns the current state of a registration.
func (c *Controller) Get(ctx context.Context, id string) (*model.Registration, error) {
	return c.store.Get(ctx, id)
}

// VerifyEmail submits the emailed code and unlocks role selection.
func (c *Controller) VerifyEmail(ctx context.Context, id, code string) (*model.Registration, error) {
	return c.update(ctx, id, model.StepEmailVerification, func(reg *model.Registration) error {
		session := c.session(reg.OTP)
		err := session.Submit(ctx, code)
		reg.OTP = session.Snapshot()
		if err != nil {
			return err
		}
		reg.Step = model.StepRoleSelection
		return nil
	})
}

// ResendCode sends a fresh code once the countdown has ended. sent is false
// while the countdown is still running.
func (c *Controller) ResendCode(ctx context.Context, id string) (reg *model.Registration, sent bool, err error) {
	reg, err = c.update(ctx, id, model.StepEmailVerification, func(reg *model.Registration) error {
		session := c.session(reg.OTP)
		ok, err := session.Resend(ctx)
		if err != nil {
			return err
		}
		sent = ok
		reg.OTP = session.Snapshot()
		return nil
	})
	return reg, sent, err
}

// ChooseRole records the role and moves to documents or password setup.
// Switching to a different role drops documents selected for the old one.
func (c *Controller) ChooseRole(ctx context.Context, id string, role model.Role) (*model.Registration, error) {
	if !role.Valid() {
		return nil, apperr.Validation("Please choose customer, cook or delivery agent.", map[string][]string{"role": {"Select a valid role."}})
	}
	return c.update(ctx, id, model.StepRoleSelection, func(reg *model.Registration) error {
		var types []model.DocumentType
		if role.RequiresDocuments() {
			var err error
			if types, err = c.catalog.ListDocumentTypes(ctx, role); err != nil {
				return err
			}
		}
		if reg.Draft.Role != role {
			if err := c.discardDocuments(ctx, reg); err != nil {
				return err
			}
		}
		reg.Draft.Role = role
		reg.DocumentTypes = types
		if role.RequiresDocuments() {
			reg.Step = model.StepDocumentUpload
		} else {
			reg.Step = model.StepPasswordSetup
		}
		return nil
	})
}

// AddDocuments stages the selected files in order. Files that fail
// validation stay in the list with an error and are never uploaded.
func (c *Controller) AddDocuments(ctx context.Context, id string, selections []intake.Selection) (*model.Registration, error) {
	reg, err := c.update(ctx, id, model.StepDocumentUpload, func(reg *model.Registration) error {
		types := make([]model.DocumentType, len(selections))
		for i, sel := range selections {
			dt, ok := reg.DocumentType(sel.DocumentTypeID)
			if !ok {
				return apperr.Validation(fmt.Sprintf("Unknown document type %d.", sel.DocumentTypeID),
					map[string][]string{"document_type_id": {"Select one of the listed document types."}})
			}
			types[i] = dt
		}
		for i, sel := range selections {
			doc, err := c.intake.Stage(ctx, reg.ID, types[i], sel, reg.NextPosition())
			if err != nil {
				return err
			}
			if err := c.store.AddDocument(ctx, reg.ID, doc); err != nil {
				return fmt.Errorf("add document: %w", err)
			}
			reg.Documents = append(reg.Documents, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, c.dispatch(ctx, reg)
}

// UploadPending uploads every pending document of a registration, one at a
// time in selection order. Each round claims its batch under the
// registration lock, so documents staged or retried meanwhile are left for a
// later round and no document is claimed twice. Callers must not run two
// UploadPending calls for one registration at once.
func (c *Controller) UploadPending(ctx context.Context, id string) error {
	for round := 0; round < maxUploadRounds; round++ {
		docs, email, err := c.claimPending(ctx, id)
		if err != nil || len(docs) == 0 {
			return err
		}
		if err := c.uploadBatch(ctx, id, email, docs); err != nil {
			return err
		}
	}

	reg, err := c.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load registration: %w", err)
	}
	for _, d := range reg.Documents {
		if d.Status == model.DocumentPending {
			c.log.Warn("upload rounds exhausted, dispatching again",
				zap.String("registration_id", id), zap.Int("rounds", maxUploadRounds))
			return c.dispatch(ctx, reg)
		}
	}
	return nil
}

// claimPending marks the pending documents as uploading in the store and
// returns them still pending for intake to send.
func (c *Controller) claimPending(ctx context.Context, id string) ([]*model.Document, string, error) {
	unlock := c.lock(id)
	defer unlock()

	reg, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("load registration: %w", err)
	}
	if !reg.Draft.Role.RequiresDocuments() || reg.Step != model.StepDocumentUpload {
		return nil, "", nil
	}
	var docs []*model.Document
	for i := range reg.Documents {
		d := reg.Documents[i]
		if d.Status != model.DocumentPending {
			continue
		}
		claimed := d
		claimed.Status = model.DocumentUploading
		claimed.Progress = 0
		claimed.UpdatedAt = c.now().UTC()
		if err := c.store.SaveDocument(ctx, id, claimed); err != nil {
			return nil, "", fmt.Errorf("claim document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, reg.Draft.Email, nil
}

// uploadBatch sends a claimed batch. Documents the batch never got to
// because ctx ended are failed so the user can retry them.
func (c *Controller) uploadBatch(ctx context.Context, id, email string, docs []*model.Document) error {
	saveCtx := context.WithoutCancel(ctx)
	report := func(doc model.Document) {
		if err := c.store.SaveDocument(saveCtx, id, doc); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			c.log.Warn("save document progress", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	if err := c.intake.UploadAll(ctx, email, docs, report); err != nil {
		c.log.Info("some documents failed to upload", zap.String("registration_id", id), zap.Error(err))
	}
	err := ctx.Err()
	if err == nil {
		return nil
	}
	for _, d := range docs {
		if d.Status != model.DocumentPending && d.Status != model.DocumentUploading && d.Status != model.DocumentConverting {
			continue
		}
		d.Status = model.DocumentError
		d.Progress = 0
		d.Error = "The upload was interrupted. Please retry."
		d.UpdatedAt = c.now().UTC()
		report(*d)
	}
	return err
}

// RetryDocument re-queues a failed upload from its stored bytes.
func (c *Controller) RetryDocument(ctx context.Context, id, documentID string) (*model.Registration, error) {
	reg, err := c.update(ctx, id, model.StepDocumentUpload, func(reg *model.Registration) error {
		doc, ok := reg.Document(documentID)
		if !ok {
			return fmt.Errorf("document %s: %w", documentID, apperr.ErrNotFound)
		}
		if err := intake.Retry(doc, c.now()); err != nil {
			return err
		}
		if err := c.store.SaveDocument(ctx, reg.ID, *doc); err != nil {
			return fmt.Errorf("save document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, c.dispatch(ctx, reg)
}

// RemoveDocument drops a document from the working list.
func (c *Controller) RemoveDocument(ctx context.Context, id, documentID string) (*model.Registration, error) {
	return c.update(ctx, id, model.StepDocumentUpload, func(reg *model.Registration) error {
		doc, ok := reg.Document(documentID)
		if !ok {
			return fmt.Errorf("document %s: %w", documentID, apperr.ErrNotFound)
		}
		if err := c.intake.Discard(ctx, *doc); err != nil {
			c.log.Warn("discard staged document", zap.String("document_id", doc.ID), zap.Error(err))
		}
		if err := c.store.DeleteDocument(ctx, reg.ID, documentID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		kept := reg.Documents[:0]
		for _, d := range reg.Documents {
			if d.ID != documentID {
				kept = append(kept, d)
			}
		}
		reg.Documents = kept
		return nil
	})
}

// ContinueFromDocuments moves to password setup once every required
// document type has a successful upload.
func (c *Controller) ContinueFromDocuments(ctx context.Context, id string) (*model.Registration, error) {
	return c.update(ctx, id, model.StepDocumentUpload, func(reg *model.Registration) error {
		if missing := intake.MissingRequired(reg.DocumentTypes, reg.Documents); len(missing) > 0 {
			names := make([]string, len(missing))
			for i, m := range missing {
				names[i] = m.Name
			}
			return apperr.Validation("Please upload all required documents: "+strings.Join(names, ", ")+".", nil)
		}
		reg.Step = model.StepPasswordSetup
		return nil
	})
}

// Back returns to the previous step where that is allowed.
func (c *Controller) Back(ctx context.Context, id string) (*model.Registration, error) {
	return c.update(ctx, id, "", func(reg *model.Registration) error {
		prev, ok := previous(reg.Step, reg.Draft.Role)
		if !ok {
			return apperr.Rejection(409, "You can't go back from this step.")
		}
		reg.Step = prev
		return nil
	})
}

// PasswordInput is the last step of the form.
type PasswordInput struct {
	Password        string
	ConfirmPassword string
	Phone           string
	Address         string
}

// Complete submits the registration. Customers end signed in; cooks and
// delivery agents end waiting for approval.
func (c *Controller) Complete(ctx context.Context, id string, in PasswordInput) (*model.Registration, *submit.Outcome, error) {
	var outcome *submit.Outcome
	reg, err := c.update(ctx, id, model.StepPasswordSetup, func(reg *model.Registration) error {
		if reg.Draft.Role.RequiresDocuments() && !intake.AllRequiredUploaded(reg.DocumentTypes, reg.Documents) {
			return apperr.Validation("Please upload all required documents before creating your account.", nil)
		}
		if err := validate.Password(in.Password, in.ConfirmPassword, in.Phone); err != nil {
			return err
		}
		draft := reg.Draft
		draft.Password = in.Password
		draft.ConfirmPassword = in.ConfirmPassword
		draft.Phone = in.Phone
		draft.Address = in.Address

		var creds submit.Credentials = &recordCredentials{reg: reg}
		if c.creds != nil {
			creds = teeCredentials{creds, c.creds}
		}
		out, err := c.gateway.Submit(ctx, draft, creds)
		if err != nil {
			return err
		}
		outcome = out
		reg.Draft.Phone = strings.TrimSpace(in.Phone)
		reg.Draft.Address = strings.TrimSpace(in.Address)
		reg.Step = out.Step
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	c.log.Info("registration completed",
		zap.String("registration_id", reg.ID),
		zap.String("role", string(reg.Draft.Role)),
		zap.String("step", string(reg.Step)))
	return reg, outcome, nil
}

// Cancel abandons a registration and its staged files.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	unlock := c.lock(id)
	defer unlock()
	reg, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, d := range reg.Documents {
		if err := c.intake.Discard(ctx, d); err != nil {
			c.log.Warn("discard staged document", zap.String("document_id", d.ID), zap.Error(err))
		}
	}
	return c.store.Delete(ctx, id)
}

// update serializes read-modify-write cycles per registration. An empty
// step skips the step check; terminal registrations never change.
func (c *Controller) update(ctx context.Context, id string, step model.Step, fn func(reg *model.Registration) error) (*model.Registration, error) {
	unlock := c.lock(id)
	defer unlock()

	reg, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.Step.Terminal() {
		return nil, apperr.Rejection(409, "This registration has already been submitted.")
	}
	if step != "" && reg.Step != step {
		return nil, apperr.Rejection(409, fmt.Sprintf("This action is not available on the %s step.", Describe(reg.Step, reg.Draft.Role).Title))
	}
	if err := fn(reg); err != nil {
		return nil, err
	}
	if err := c.store.Save(ctx, reg); err != nil {
		return nil, fmt.Errorf("save registration: %w", err)
	}
	return reg, nil
}

func (c *Controller) lock(id string) func() {
	v, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Controller) session(state model.OTPSession) *otp.Session {
	return otp.Resume(c.sender, state, otp.WithClock(c.now))
}

func (c *Controller) discardDocuments(ctx context.Context, reg *model.Registration) error {
	for _, d := range reg.Documents {
		if err := c.intake.Discard(ctx, d); err != nil {
			c.log.Warn("discard staged document", zap.String("document_id", d.ID), zap.Error(err))
		}
		if err := c.store.DeleteDocument(ctx, reg.ID, d.ID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("delete document: %w", err)
		}
	}
	reg.Documents = nil
	return nil
}

func (c *Controller) dispatch(ctx context.Context, reg *model.Registration) error {
	if c.dispatcher == nil {
		return nil
	}
	for _, d := range reg.Documents {
		if d.Status == model.DocumentPending {
			if err := c.dispatcher.Dispatch(ctx, reg.ID); err != nil {
				return fmt.Errorf("dispatch uploads: %w", err)
			}
			return nil
		}
	}
	return nil
}
