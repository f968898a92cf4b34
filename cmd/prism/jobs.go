package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/prism/internal/intake"
	"github.com/jonathan/prism/internal/queue"
)

var jobsCommand = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and administer analysis jobs",
}

var jobsListCommand = &cobra.Command{
	Use:   "list",
	Short: "List jobs by status",
	RunE:  runJobsListCmd,
}

var jobsGetCommand = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGetCmd,
}

var jobsCancelCommand = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Long: `Cancels a job. A running job is not interrupted: its worker
discovers the cancellation when it tries to write results, and the
results are discarded.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsCancelCmd,
}

var jobsRequeueCommand = &cobra.Command{
	Use:   "requeue <job-id>",
	Short: "Put a failed job back in the queue with a fresh retry budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRequeueCmd,
}

var (
	jobsListStatus string
	jobsListLimit  int
	jobsActor      string
)

func init() {
	jobsListCommand.Flags().StringVar(&jobsListStatus, "status", "queued", "Job status to list: queued, running, completed, failed, cancelled")
	jobsListCommand.Flags().IntVar(&jobsListLimit, "limit", 50, "Maximum jobs to show")
	jobsCommand.PersistentFlags().StringVar(&jobsActor, "actor", "cli", "Identity recorded in the audit log")

	jobsCommand.AddCommand(jobsListCommand, jobsGetCommand, jobsCancelCommand, jobsRequeueCommand)
	rootCmd.AddCommand(jobsCommand)
}

func openQueue(ctx context.Context) (*queue.Queue, func(), error) {
	_, database, err := connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return queue.New(database), database.Close, nil
}

func runJobsListCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	q, closeDB, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	status := intake.JobStatus(jobsListStatus)
	if !status.Valid() {
		return fmt.Errorf("unknown job status %q", jobsListStatus)
	}
	jobs, err := q.ListByStatus(ctx, status, jobsListLimit)
	if err != nil {
		return err
	}
	return printJSON(jobs)
}

func runJobsGetCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job UUID: %w", err)
	}

	q, closeDB, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(job)
}

func runJobsCancelCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job UUID: %w", err)
	}

	q, closeDB, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := q.Cancel(ctx, id, jobsActor)
	if err != nil {
		return err
	}
	fmt.Printf("Cancelled job %s (was %s)\n", job.ID, job.JobType)
	return nil
}

func runJobsRequeueCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job UUID: %w", err)
	}

	q, closeDB, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := q.Requeue(ctx, id, jobsActor)
	if err != nil {
		return err
	}
	fmt.Printf("Requeued job %s\n", job.ID)
	return nil
}
