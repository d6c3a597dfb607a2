package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <task-id>",
	Short: "Requeue a task for processing",
	Long: `Pushes an existing task id back onto the broker queue. Terminal
tasks are skipped by the orchestrator, so requeueing a completed or
failed task is harmless.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		taskID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[0], err)
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.store.Repos().Tasks.GetByID(ctx, taskID)
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}

		if err := a.queue.Enqueue(ctx, task.ID); err != nil {
			return fmt.Errorf("enqueue task: %w", err)
		}

		a.logger.Info().
			Str("task_id", task.ID.String()).
			Str("status", string(task.Status)).
			Msg("Task enqueued")
		return nil
	},
}
