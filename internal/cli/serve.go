package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"rafflekeeper/apps/backend/internal/app"
	"rafflekeeper/apps/backend/internal/metrics"
	"rafflekeeper/apps/backend/internal/queue"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, settlement workers and startup reconciliation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadCfg()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return WrapExitError(ExitCommandError, "invalid config", err)
			}

			ctx := cmd.Context()
			metrics.Init(namespace)

			deps, err := app.Bootstrap(ctx, cfg)
			if err != nil {
				return WrapExitError(ExitFailure, "bootstrap failed", err)
			}
			defer deps.Close()

			slog.Info("ledger connected", "contract", deps.Ledger.Address().Hex(), "signer", deps.Ledger.SignerAddress().Hex())

			a, err := app.New(cfg, queue.NewPostgresStore(deps.DB), deps.Ledger, deps.NSQProducer)
			if err != nil {
				return WrapExitError(ExitFailure, "app init failed", err)
			}
			if err := a.Run(ctx); err != nil {
				return WrapExitError(ExitFailure, "service stopped", err)
			}
			slog.Info("service stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "metrics-namespace", "rafflekeeper", "prometheus metric namespace")
	return cmd
}
