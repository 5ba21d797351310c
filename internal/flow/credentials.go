package flow

import (
	"context"
	"errors"

	"github.com/chefsync/onboarding/internal/model"
	"github.com/chefsync/onboarding/internal/submit"
)

// recordCredentials keeps tokens on the registration itself.
type recordCredentials struct {
	reg *model.Registration
}

func (r *recordCredentials) Save(_ context.Context, t model.Tokens) error {
	r.reg.Tokens = &t
	return nil
}

func (r *recordCredentials) Clear(context.Context) error {
	r.reg.Tokens = nil
	return nil
}

type teeCredentials []submit.Credentials

func (t teeCredentials) Save(ctx context.Context, tokens model.Tokens) error {
	var errs []error
	for _, c := range t {
		errs = append(errs, c.Save(ctx, tokens))
	}
	return errors.Join(errs...)
}

func (t teeCredentials) Clear(ctx context.Context) error {
	var errs []error
	for _, c := range t {
		errs = append(errs, c.Clear(ctx))
	}
	return errors.Join(errs...)
}
