package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rafflekeeper/apps/backend/internal/app"
	"rafflekeeper/apps/backend/internal/queue"
	"rafflekeeper/apps/backend/internal/reconcile"
)

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run startup reconciliation once and exit",
		Long: `Evaluates the current round and the one before it, settling overdue
rounds and scheduling open ones, exactly as serve does at startup.
Exits non-zero when the ledger state cannot be established.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadCfg()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := app.OpenDatabase(ctx, cfg)
			if err != nil {
				return WrapExitError(ExitFailure, "database unavailable", err)
			}
			defer db.Close()

			client, err := app.DialLedger(ctx, cfg, true)
			if err != nil {
				return WrapExitError(ExitCommandError, "ledger unavailable", err)
			}
			defer client.Close()

			q := app.NewQueue(cfg, queue.NewPostgresStore(db))
			engine := app.NewEngine(cfg, client, q, app.NewExecutor(cfg, client))

			decisions, err := engine.Startup(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "reconciliation failed", err)
			}
			return printDecisions(rootOpts.formatter(cmd), decisions)
		},
	}
}

type decisionView struct {
	RoundID string `json:"round_id"`
	State   string `json:"state"`
	Delay   string `json:"delay,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
}

func viewDecisions(decisions []reconcile.Decision) []decisionView {
	out := make([]decisionView, 0, len(decisions))
	for _, d := range decisions {
		v := decisionView{State: string(d.State), JobID: d.JobID}
		if d.RoundID != nil {
			v.RoundID = d.RoundID.String()
		}
		if d.Delay > 0 {
			v.Delay = d.Delay.String()
		}
		if d.Outcome != nil {
			v.Outcome = string(d.Outcome.Kind)
			if !d.Outcome.Noop() {
				v.TxHash = d.Outcome.TxHash.Hex()
			}
		}
		out = append(out, v)
	}
	return out
}

func printDecisions(f *OutputFormatter, decisions []reconcile.Decision) error {
	views := viewDecisions(decisions)
	return f.Success(views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "No rounds to reconcile.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROUND\tSTATE\tDELAY\tJOB\tOUTCOME")
		for _, v := range views {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.RoundID, v.State, dash(v.Delay), dash(v.JobID), dash(v.Outcome))
		}
		_ = tw.Flush()
	})
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
