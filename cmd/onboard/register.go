package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/flow"
	"github.com/chefsync/onboarding/internal/intake"
	"github.com/chefsync/onboarding/internal/model"
	"github.com/chefsync/onboarding/internal/otp"
	pdfutil "github.com/chefsync/onboarding/internal/pdf"
	"github.com/chefsync/onboarding/internal/storage"
	"github.com/chefsync/onboarding/internal/submit"
)

func newRegisterCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create a ChefSync account interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := c.backend()
			opts := []intake.Option{
				intake.WithLogger(c.log.Named("intake")),
				intake.WithMaxPDFPages(c.cfg.MaxPDFPages),
			}
			if c.cfg.ConvertPDF {
				opts = append(opts, intake.WithConverter(pdfutil.Renderer{MaxPages: c.cfg.MaxPDFPages}))
			}
			in := intake.New(storage.NewMemoryBlobs(), client, opts...)
			ctrl := flow.NewController(storage.NewMemoryStore(), client, client, in,
				submit.New(client, c.log.Named("submit")),
				flow.WithCredentials(newFileCredentials(c.cfg.CredentialsFile)),
				flow.WithLogger(c.log.Named("flow")))
			r := &registration{
				ctrl:   ctrl,
				sender: client,
				p:      newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
			}
			return r.run(cmd.Context())
		},
	}
}

// registration drives the flow controller from terminal prompts.
type registration struct {
	ctrl   *flow.Controller
	sender otp.Sender
	p      *prompter

	stopCountdown context.CancelFunc
}

func (r *registration) run(ctx context.Context) error {
	defer r.watch(ctx, nil)

	r.header(model.StepPersonalInfo, "")
	reg, err := r.start(ctx)
	if err != nil {
		return err
	}
	for !reg.Step.Terminal() {
		r.header(reg.Step, reg.Draft.Role)
		var next *model.Registration
		switch reg.Step {
		case model.StepEmailVerification:
			next, err = r.verify(ctx, reg)
		case model.StepRoleSelection:
			next, err = r.chooseRole(ctx, reg)
		case model.StepDocumentUpload:
			next, err = r.documents(ctx, reg)
		case model.StepPasswordSetup:
			next, err = r.password(ctx, reg)
		default:
			return fmt.Errorf("unexpected step %s", reg.Step)
		}
		if err != nil {
			if fatal(err) {
				return err
			}
			r.p.printf("%s\n", apperr.Message(err))
			continue
		}
		reg = next
	}
	info := flow.Describe(reg.Step, reg.Draft.Role)
	r.p.printf("\n%s\n%s\n", info.Title, info.Description)
	return nil
}

// fatal reports errors that end the command instead of asking again.
func fatal(err error) bool {
	return errors.Is(err, errInputClosed) || errors.Is(err, context.Canceled) || apperr.Kind(err) == apperr.KindInternal
}

func (r *registration) header(step model.Step, role model.Role) {
	info := flow.Describe(step, role)
	r.p.printf("\nStep %d of %d: %s\n%s\n", info.Number, info.Total, info.Title, info.Description)
}

func (r *registration) start(ctx context.Context) (*model.Registration, error) {
	for {
		name, err := r.p.ask("First name")
		if err != nil {
			return nil, err
		}
		email, err := r.p.ask("Email")
		if err != nil {
			return nil, err
		}
		reg, err := r.ctrl.Start(ctx, name, email)
		if err == nil {
			r.p.printf("We sent a 6-digit code to %s. It expires in %s.\n", reg.Draft.Email, formatCountdown(reg.OTP.TTLSeconds))
			r.watch(ctx, &reg.OTP)
			return reg, nil
		}
		if fatal(err) {
			return nil, err
		}
		r.p.printf("%s\n", apperr.Message(err))
	}
}

// watch follows the countdown of the current code and announces when a new
// code can be requested. A nil state stops watching.
func (r *registration) watch(ctx context.Context, state *model.OTPSession) {
	if r.stopCountdown != nil {
		r.stopCountdown()
		r.stopCountdown = nil
	}
	if state == nil {
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	r.stopCountdown = cancel
	ticks := otp.Resume(r.sender, *state).Countdown(cctx)
	go func() {
		last := -1
		for left := range ticks {
			last = left
		}
		if last == 0 && cctx.Err() == nil {
			r.p.printf("\nThe code has expired. Type r to request a new one.\n")
		}
	}()
}

func (r *registration) verify(ctx context.Context, reg *model.Registration) (*model.Registration, error) {
	code, err := r.p.ask("Verification code (r to resend)")
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(code, "r") {
		next, sent, err := r.ctrl.ResendCode(ctx, reg.ID)
		if err != nil {
			return nil, err
		}
		if !sent {
			r.p.printf("You can request a new code in %s.\n", formatCountdown(next.OTP.ExpiresInSeconds(time.Now())))
			return next, nil
		}
		r.p.printf("A new code is on its way.\n")
		r.watch(ctx, &next.OTP)
		return next, nil
	}
	next, err := r.ctrl.VerifyEmail(ctx, reg.ID, code)
	if err != nil {
		return nil, err
	}
	r.watch(ctx, nil)
	r.p.printf("Email verified.\n")
	return next, nil
}

var roleChoices = []model.Role{model.RoleCustomer, model.RoleCook, model.RoleDeliveryAgent}

func (r *registration) chooseRole(ctx context.Context, reg *model.Registration) (*model.Registration, error) {
	for i, role := range roleChoices {
		r.p.printf("  %d) %s\n", i+1, strings.ReplaceAll(string(role), "_", " "))
	}
	answer, err := r.p.ask("Role")
	if err != nil {
		return nil, err
	}
	role := model.Role(strings.ReplaceAll(strings.ToLower(answer), " ", "_"))
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(roleChoices) {
		role = roleChoices[n-1]
	}
	return r.ctrl.ChooseRole(ctx, reg.ID, role)
}

const documentHelp = `Commands:
  add <type-id> <path>   select a file for a requirement
  retry <n>              upload a failed document again
  remove <n>             drop a document from the list
  list                   show requirements and documents
  continue               go to password setup
  back                   choose a different role`

func (r *registration) documents(ctx context.Context, reg *model.Registration) (*model.Registration, error) {
	r.list(reg)
	r.p.printf("%s\n", documentHelp)
	for {
		line, err := r.p.ask(">")
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		var next *model.Registration
		switch fields[0] {
		case "add":
			if len(fields) != 3 {
				r.p.printf("usage: add <type-id> <path>\n")
				continue
			}
			next, err = r.add(ctx, reg.ID, fields[1], fields[2])
		case "retry", "remove":
			if len(fields) != 2 {
				r.p.printf("usage: %s <n>\n", fields[0])
				continue
			}
			doc, ok := pick(reg, fields[1])
			if !ok {
				r.p.printf("No document %s.\n", fields[1])
				continue
			}
			if fields[0] == "retry" {
				next, err = r.retry(ctx, reg.ID, doc.ID)
			} else {
				next, err = r.ctrl.RemoveDocument(ctx, reg.ID, doc.ID)
			}
		case "list":
			r.list(reg)
			continue
		case "continue":
			return r.ctrl.ContinueFromDocuments(ctx, reg.ID)
		case "back":
			return r.ctrl.Back(ctx, reg.ID)
		default:
			r.p.printf("%s\n", documentHelp)
			continue
		}
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			r.p.printf("%s\n", apperr.Message(err))
			continue
		}
		reg = next
		r.list(reg)
	}
}

func (r *registration) add(ctx context.Context, id, typeArg, path string) (*model.Registration, error) {
	typeID, err := strconv.Atoi(typeArg)
	if err != nil {
		return nil, apperr.Validation("The document type must be a number from the list.", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("Could not read %s: %v", path, err), nil)
	}
	sel := intake.Selection{
		DocumentTypeID: typeID,
		FileName:       filepath.Base(path),
		ContentType:    http.DetectContentType(data),
		Data:           data,
	}
	if _, err := r.ctrl.AddDocuments(ctx, id, []intake.Selection{sel}); err != nil {
		return nil, err
	}
	return r.upload(ctx, id)
}

func (r *registration) retry(ctx context.Context, id, documentID string) (*model.Registration, error) {
	if _, err := r.ctrl.RetryDocument(ctx, id, documentID); err != nil {
		return nil, err
	}
	return r.upload(ctx, id)
}

func (r *registration) upload(ctx context.Context, id string) (*model.Registration, error) {
	if err := r.ctrl.UploadPending(ctx, id); err != nil {
		return nil, err
	}
	return r.ctrl.Get(ctx, id)
}

func (r *registration) list(reg *model.Registration) {
	r.p.printf("Requirements:\n")
	for _, dt := range reg.DocumentTypes {
		req := "optional"
		if dt.IsRequired {
			req = "required"
		}
		r.p.printf("  [%d] %s (%s, %s, up to %gMB)\n", dt.ID, dt.Name, req, strings.Join(dt.AllowedExtensions, "/"), dt.MaxFileSizeMB)
	}
	if len(reg.Documents) == 0 {
		r.p.printf("No documents selected.\n")
		return
	}
	r.p.printf("Documents:\n")
	for i, d := range reg.Documents {
		line := fmt.Sprintf("  %d. %s [%d] %s", i+1, d.FileName, d.DocumentTypeID, d.Status)
		if d.Status == model.DocumentUploading {
			line += fmt.Sprintf(" %d%%", d.Progress)
		}
		if d.Error != "" {
			line += ": " + d.Error
		}
		r.p.printf("%s\n", line)
	}
}

func pick(reg *model.Registration, arg string) (model.Document, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(reg.Documents) {
		return model.Document{}, false
	}
	return reg.Documents[n-1], true
}

func (r *registration) password(ctx context.Context, reg *model.Registration) (*model.Registration, error) {
	var in flow.PasswordInput
	var err error
	if in.Password, err = r.p.secret("Password (at least 8 characters, or back)"); err != nil {
		return nil, err
	}
	if in.Password == "back" {
		return r.ctrl.Back(ctx, reg.ID)
	}
	if in.ConfirmPassword, err = r.p.secret("Confirm password"); err != nil {
		return nil, err
	}
	if in.Phone, err = r.p.ask("Phone (optional)"); err != nil {
		return nil, err
	}
	if in.Address, err = r.p.ask("Address (optional)"); err != nil {
		return nil, err
	}
	next, outcome, err := r.ctrl.Complete(ctx, reg.ID, in)
	if err != nil {
		return nil, err
	}
	r.p.printf("%s\n", outcome.Message)
	return next, nil
}
