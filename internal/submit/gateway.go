// Package submit creates the account once every step is complete and
// decides what the client sees next.
package submit

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/backend"
	"github.com/chefsync/onboarding/internal/model"
)

const (
	DashboardPath = "/dashboard"
	LoginPath     = "/login"
)

// Backend is the part of the backend client the gateway needs.
type Backend interface {
	CompleteRegistration(ctx context.Context, in backend.RegistrationRequest) (*backend.RegistrationResult, error)
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
}

// Credentials persists the tokens of an active account.
type Credentials interface {
	Save(ctx context.Context, t model.Tokens) error
	Clear(ctx context.Context) error
}

// Outcome is what the client shows after a successful submission.
type Outcome struct {
	Step     model.Step   `json:"step"`
	Redirect string       `json:"redirect,omitempty"`
	Message  string       `json:"message"`
	User     backend.User `json:"user"`
}

// Gateway submits completed drafts.
type Gateway struct {
	backend Backend
	log     *zap.Logger
}

// New builds a Gateway.
func New(b Backend, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{backend: b, log: log}
}

// Request builds the complete-registration body. Optional fields are sent as
// empty strings.
func Request(d model.Draft) backend.RegistrationRequest {
	return backend.RegistrationRequest{
		Name:            strings.TrimSpace(d.FirstName),
		Email:           strings.TrimSpace(d.Email),
		Password:        d.Password,
		ConfirmPassword: d.ConfirmPassword,
		Role:            d.Role,
		PhoneNo:         strings.TrimSpace(d.Phone),
		Address:         strings.TrimSpace(d.Address),
	}
}

// Submit creates the account. Customers are signed in straight away; cooks
// and delivery agents wait for approval with no stored credentials.
func (g *Gateway) Submit(ctx context.Context, d model.Draft, creds Credentials) (*Outcome, error) {
	req := Request(d)
	res, err := g.backend.CompleteRegistration(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("complete registration: %w", err)
	}

	if d.Role.RequiresDocuments() {
		if err := creds.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear credentials: %w", err)
		}
		g.log.Info("registration submitted for approval", zap.String("role", string(d.Role)), zap.Int("user_id", res.User.ID))
		return &Outcome{
			Step:    model.StepPendingApproval,
			Message: "Your application has been submitted. We'll email you once an administrator has reviewed your documents.",
			User:    res.User,
		}, nil
	}

	if res.Tokens != nil {
		if err := creds.Save(ctx, *res.Tokens); err != nil {
			return nil, fmt.Errorf("save credentials: %w", err)
		}
	}
	login, err := g.backend.Login(ctx, req.Email, req.Password)
	if err != nil {
		g.log.Warn("sign-in after registration failed", zap.Int("user_id", res.User.ID), zap.Error(err))
		return &Outcome{
			Step:     model.StepCompleted,
			Redirect: LoginPath,
			Message:  "Your account was created. Please sign in to continue.",
			User:     res.User,
		}, nil
	}
	if err := creds.Save(ctx, model.Tokens{Access: login.Access, Refresh: login.Refresh}); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	user := res.User
	if login.User.ID != 0 {
		user = login.User
	}
	return &Outcome{
		Step:     model.StepCompleted,
		Redirect: DashboardPath,
		Message:  "Welcome to ChefSync!",
		User:     user,
	}, nil
}
