// Command onboard registers ChefSync accounts from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/backend"
	"github.com/chefsync/onboarding/internal/config"
	"github.com/chefsync/onboarding/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "onboard: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the settings resolved before any subcommand runs.
type cli struct {
	envFile    string
	backendURL string
	logLevel   string

	cfg *config.Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "ChefSync account onboarding",
		Long: `onboard walks through ChefSync registration from the terminal: email verification,
role selection, document upload for cooks and delivery agents, and password setup.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", "", "Load settings from this .env file")
	cmd.PersistentFlags().StringVar(&c.backendURL, "backend-url", "", "ChefSync API base URL (overrides ONBOARD_BACKEND_URL)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level for diagnostics written to stderr")
	cmd.AddCommand(
		newRegisterCmd(c),
		newDocTypesCmd(c),
		newCheckFileCmd(c),
		newResetPasswordCmd(c),
		newStatusCmd(c),
	)
	return cmd
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	var files []string
	if c.envFile != "" {
		files = append(files, c.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if c.backendURL != "" {
		cfg.BackendURL = c.backendURL
	}
	log, err := logging.New(false, c.logLevel)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log
	return nil
}

func (c *cli) backend() *backend.Client {
	return backend.New(c.cfg.BackendURL,
		backend.WithTimeout(c.cfg.BackendTimeout),
		backend.WithLogger(c.log.Named("backend")))
}
