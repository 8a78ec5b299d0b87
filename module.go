package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"
)

// Module provides the queue command. SQS cannot delete all jobs or move them
// in time, so the command only offers what maps onto receive, send and delete.
type Module struct {
	maker  WorkerMaker
	logger log.Logger
}

// New creates a Module.
func New(maker WorkerMaker, logger log.Logger) Module {
	return Module{maker: maker, logger: logger}
}

// ProvideCommand implements container.CommandProvider.
func (m Module) ProvideCommand(command *cobra.Command) {
	var name string

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "manage sqs job queues",
	}
	queueCmd.PersistentFlags().StringVarP(&name, "name", "n", "default", "the queue configuration to use")

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "print the approximate number of visible jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			worker, err := m.maker.Make(name)
			if err != nil {
				return err
			}
			n, err := worker.Backend().Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", n)
			return nil
		},
	}

	var num int
	workOffCmd := &cobra.Command{
		Use:   "work-off",
		Short: "run jobs until the queue is empty or the limit is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			worker, err := m.maker.Make(name)
			if err != nil {
				return err
			}
			success, failure, err := worker.WorkOff(cmd.Context(), num)
			fmt.Fprintf(cmd.OutOrStdout(), "%d jobs processed: %d succeeded, %d failed\n", success+failure, success, failure)
			return err
		},
	}
	workOffCmd.Flags().IntVar(&num, "num", 100, "the maximum number of jobs to run")

	var confirmed bool
	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "receive and delete every visible job without running it",
		Long: `SQS has no way to delete all jobs at once. drain receives the visible
messages one by one and deletes them. Messages that are in flight or delayed
are not touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("drain deletes jobs without running them, pass --yes to confirm")
			}
			worker, err := m.maker.Make(name)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), drainTimeout)
			defer cancel()
			n, err := Drain(ctx, worker.Backend())
			level.Info(m.logger).Log("msg", "queue drained", "queue", name, "deleted", n)
			fmt.Fprintf(cmd.OutOrStdout(), "%d jobs deleted\n", n)
			return err
		},
	}
	drainCmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the deletion")

	var limit int
	retryCmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "send jobs recorded in the failed ledger again",
		RunE: func(cmd *cobra.Command, args []string) error {
			worker, err := m.maker.Make(name)
			if err != nil {
				return err
			}
			if worker.ledger == nil {
				return fmt.Errorf("queue %s has no failed ledger, set redisName to enable it", name)
			}
			n, err := Requeue(cmd.Context(), worker.Backend(), worker.ledger, limit)
			fmt.Fprintf(cmd.OutOrStdout(), "%d jobs sent\n", n)
			return err
		},
	}
	retryCmd.Flags().IntVar(&limit, "limit", -1, "the maximum number of jobs to send, -1 for all")

	queueCmd.AddCommand(countCmd, workOffCmd, drainCmd, retryCmd)
	command.AddCommand(queueCmd)
}

// Drain receives and deletes visible messages until the queue reports none,
// returning how many were deleted. Jobs are not run.
func Drain(ctx context.Context, backend *Backend) (int, error) {
	var deleted int
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		job, err := backend.Reserve(ctx)
		if err != nil {
			return deleted, err
		}
		if job == nil {
			return deleted, nil
		}
		if err := job.Destroy(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}
}

// drainTimeout bounds a drain on a queue that is still being written to.
const drainTimeout = 10 * time.Minute
