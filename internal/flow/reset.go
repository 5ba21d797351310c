package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/chefsync/onboarding/internal/backend"
	"github.com/chefsync/onboarding/internal/validate"
)

// ResetBackend is the part of the backend client password reset needs.
type ResetBackend interface {
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, in backend.ConfirmResetRequest) error
}

// PasswordReset runs the emailed-code password reset for existing accounts.
type PasswordReset struct {
	backend ResetBackend
}

// NewPasswordReset builds a PasswordReset.
func NewPasswordReset(b ResetBackend) *PasswordReset {
	return &PasswordReset{backend: b}
}

// Request emails a reset code.
func (p *PasswordReset) Request(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Email(email); err != nil {
		return err
	}
	if err := p.backend.RequestPasswordReset(ctx, email); err != nil {
		return fmt.Errorf("request password reset: %w", err)
	}
	return nil
}

// Confirm sets the new password using the emailed code. Every field is
// checked locally before the backend is called.
func (p *PasswordReset) Confirm(ctx context.Context, email, code, password, confirm string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.TrimSpace(code)
	if err := validate.Email(email); err != nil {
		return err
	}
	if err := validate.OTPCode(code); err != nil {
		return err
	}
	if err := validate.Password(password, confirm, ""); err != nil {
		return err
	}
	err := p.backend.ConfirmPasswordReset(ctx, backend.ConfirmResetRequest{
		Email:           email,
		OTP:             code,
		NewPassword:     password,
		ConfirmPassword: confirm,
	})
	if err != nil {
		return fmt.Errorf("confirm password reset: %w", err)
	}
	return nil
}
