package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout/internal/aggregate"
	"github.com/sells-group/leadscout/internal/store"
)

var cancelAggregate bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a crawl task or a whole batch",
	Long:  "Marks the task cancelled so the worker stops it at the next grid point. With --aggregate the id names a batch and every non-terminal sub-task is cancelled.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id := args[0]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var msg string
		if cancelAggregate {
			msg, err = cancelBatch(ctx, st, id)
		} else {
			msg, err = cancelSingleTask(ctx, st, id)
		}
		if err != nil {
			return err
		}
		fmt.Println(msg)
		return nil
	},
}

func cancelBatch(ctx context.Context, st store.Store, id string) (string, error) {
	if err := st.CancelAggregate(ctx, id); err != nil {
		return "", eris.Wrap(err, "cancel aggregate")
	}
	tasks, err := st.ListTasks(ctx, store.TaskFilter{AggregateID: id})
	if err != nil {
		return "", eris.Wrap(err, "list sub-tasks")
	}
	cancelled := 0
	for _, task := range tasks {
		if task.Status.Terminal() {
			continue
		}
		if _, err := st.CancelTask(ctx, task.ID); err != nil {
			return "", eris.Wrapf(err, "cancel task %s", task.ID)
		}
		cancelled++
	}
	return fmt.Sprintf("Cancelled aggregate %s (%d sub-tasks)", id, cancelled), nil
}

func cancelSingleTask(ctx context.Context, st store.Store, id string) (string, error) {
	task, err := st.GetTask(ctx, id)
	if err != nil {
		return "", eris.Wrap(err, "load task")
	}
	applied, err := st.CancelTask(ctx, id)
	if err != nil {
		return "", eris.Wrap(err, "cancel task")
	}
	if !applied {
		return fmt.Sprintf("Task %s is already %s", id, task.Status), nil
	}

	// A cancelled sub-task still counts toward its batch, or the batch
	// would wait on it forever.
	if task.AggregateID != nil {
		tracker := aggregate.NewTracker(st)
		if err := tracker.OnSubTaskFinished(ctx, *task.AggregateID, true); err != nil {
			return "", eris.Wrapf(err, "record outcome on aggregate %s", *task.AggregateID)
		}
	}
	return fmt.Sprintf("Cancelled task %s", id), nil
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelAggregate, "aggregate", false, "treat the id as an aggregate (batch) id")
	rootCmd.AddCommand(cancelCmd)
}
