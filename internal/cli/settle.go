package cli

import (
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"rafflekeeper/apps/backend/internal/app"
	"rafflekeeper/apps/backend/internal/settlement"
)

func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settle <round-id>",
		Short: "Settle one round now",
		Long: `Submits the winner selection for a round immediately, skipping the
queue. Rounds that are already settled or have no entries are reported
and left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRoundID(args[0])
			if err != nil {
				return err
			}
			cfg, err := rootOpts.loadCfg()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			client, err := app.DialLedger(ctx, cfg, true)
			if err != nil {
				return WrapExitError(ExitCommandError, "ledger unavailable", err)
			}
			defer client.Close()

			out, err := app.NewExecutor(cfg, client).Settle(ctx, id)
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("settlement of round %s failed", id), err)
			}
			return printOutcome(rootOpts.formatter(cmd), client.SignerAddress(), out)
		},
	}
}

func parseRoundID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(s, 10)
	if !ok || id.Sign() <= 0 {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid round id %q", s), nil)
	}
	return id, nil
}

type outcomeView struct {
	Signer  string   `json:"signer"`
	RoundID string   `json:"round_id"`
	Outcome string   `json:"outcome"`
	TxHash  string   `json:"tx_hash,omitempty"`
	Winners []string `json:"winners"`
}

func printOutcome(f *OutputFormatter, signer common.Address, out settlement.Outcome) error {
	v := outcomeView{
		Signer:  signer.Hex(),
		Outcome: string(out.Kind),
		Winners: make([]string, 0, len(out.Winners)),
	}
	if out.RoundID != nil {
		v.RoundID = out.RoundID.String()
	}
	if !out.Noop() {
		v.TxHash = out.TxHash.Hex()
	}
	for _, w := range out.Winners {
		v.Winners = append(v.Winners, w.Hex())
	}

	return f.Success(v, func(w io.Writer) {
		fmt.Fprintf(w, "Signer:  %s\n", v.Signer)
		fmt.Fprintf(w, "Round:   %s\n", v.RoundID)
		fmt.Fprintf(w, "Outcome: %s\n", v.Outcome)
		if v.TxHash != "" {
			fmt.Fprintf(w, "Tx:      %s\n", v.TxHash)
		}
		if len(v.Winners) == 0 {
			return
		}
		fmt.Fprintln(w, "Winners:")
		for i, addr := range v.Winners {
			fmt.Fprintf(w, "  %d. %s\n", i+1, addr)
		}
	})
}
