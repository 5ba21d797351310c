package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/flow"
)

func newResetPasswordCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password",
		Short: "Reset the password of an existing account with an emailed code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reset := flow.NewPasswordReset(c.backend())
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())

			email, err := p.ask("Email")
			if err != nil {
				return err
			}
			if err := reset.Request(ctx, email); err != nil {
				return fmt.Errorf("%s", apperr.Message(err))
			}
			p.printf("If an account exists for %s, a reset code is on its way.\n", email)
			for {
				code, err := p.ask("Reset code")
				if err != nil {
					return err
				}
				password, err := p.secret("New password")
				if err != nil {
					return err
				}
				confirm, err := p.secret("Confirm new password")
				if err != nil {
					return err
				}
				err = reset.Confirm(ctx, email, code, password, confirm)
				if err == nil {
					p.printf("Your password has been reset. You can now sign in.\n")
					return nil
				}
				if k := apperr.Kind(err); k != apperr.KindValidation && k != apperr.KindRejection {
					return fmt.Errorf("%s", apperr.Message(err))
				}
				p.printf("%s\n", apperr.Message(err))
			}
		},
	}
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the approval status of the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, ok, err := newFileCredentials(c.cfg.CredentialsFile).Load()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("not signed in; register a customer account or sign in first")
			}
			status, err := c.backend().CheckApprovalStatus(cmd.Context(), tokens.Access)
			if err != nil {
				return fmt.Errorf("approval status: %s", apperr.Message(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approval status: %s\n", status.Status)
			if status.Message != "" {
				fmt.Fprintln(cmd.OutOrStdout(), status.Message)
			}
			return nil
		},
	}
}
