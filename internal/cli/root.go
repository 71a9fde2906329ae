package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rafflekeeper/apps/backend/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string

	// LoadConfig reads the environment. Tests replace it.
	LoadConfig func() (*config.Config, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{LoadConfig: config.Load}

	cmd := &cobra.Command{
		Use:   "rafflekeeper",
		Short: "Round settlement scheduler",
		Long: `Keeps raffle rounds settled on time.

Watches the ledger and indexer notifications, schedules a settlement job
for every open round at its end time, and submits the winner selection
when the job comes due.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewSettleCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))

	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT or
// SIGTERM and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func (o *RootOptions) loadCfg() (*config.Config, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
