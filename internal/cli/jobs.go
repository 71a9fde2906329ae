package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rafflekeeper/apps/backend/internal/app"
	"rafflekeeper/apps/backend/internal/queue"
)

func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and recover settlement jobs",
	}
	cmd.AddCommand(newJobsDeadCommand(rootOpts))
	cmd.AddCommand(newJobsRetryCommand(rootOpts))
	return cmd
}

func newJobsDeadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered settlement jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			jobs, err := q.ListDeadLetters(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list dead-lettered jobs", err)
			}
			return printJobs(rootOpts.formatter(cmd), jobs)
		},
	}
}

func newJobsRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a dead-lettered job back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := openQueue(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := q.Retry(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, queue.ErrJobNotFound) {
					return WrapExitError(ExitCommandError, fmt.Sprintf("job %s is not dead-lettered", args[0]), err)
				}
				return WrapExitError(ExitFailure, "retry failed", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]string{"id": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Job %s queued for retry.\n", args[0])
			})
		},
	}
}

func openQueue(cmd *cobra.Command, rootOpts *RootOptions) (*queue.Queue, func(), error) {
	cfg, err := rootOpts.loadCfg()
	if err != nil {
		return nil, nil, err
	}
	db, err := app.OpenDatabase(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "database unavailable", err)
	}
	return app.NewQueue(cfg, queue.NewPostgresStore(db)), func() { _ = db.Close() }, nil
}

func printJobs(f *OutputFormatter, jobs []queue.Job) error {
	if jobs == nil {
		jobs = []queue.Job{}
	}
	return f.Success(jobs, func(w io.Writer) {
		if len(jobs) == 0 {
			fmt.Fprintln(w, "No dead-lettered jobs.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tROUND\tATTEMPTS\tUPDATED\tLAST ERROR")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
				j.ID, j.Key, j.Attempt, j.MaxAttempts, j.UpdatedAt.UTC().Format(time.RFC3339), dash(j.LastError))
		}
		_ = tw.Flush()
	})
}
