package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [aggregate-id]",
	Short: "Show batch and crawl progress",
	Long:  "Without an argument lists recent batches. With an aggregate id shows the batch and each sub-task with its grid progress.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 0 {
			aggs, err := st.ListAggregates(ctx, statusLimit, 0)
			if err != nil {
				return eris.Wrap(err, "list aggregates")
			}
			if len(aggs) == 0 {
				fmt.Fprintln(os.Stderr, "No batches found.")
				return nil
			}
			formatAggregates(os.Stdout, aggs)
			return nil
		}

		id := args[0]
		agg, err := st.GetAggregate(ctx, id)
		if err != nil {
			return eris.Wrap(err, "get aggregate")
		}
		tasks, err := st.ListTasks(ctx, store.TaskFilter{AggregateID: id})
		if err != nil {
			return eris.Wrap(err, "list tasks")
		}

		fmt.Printf("%s  %s  %d/%d done, %d failed\n\n",
			agg.ID, agg.Status,
			agg.CompletedSubTasks, agg.TotalSubTasks, agg.FailedSubTasks)
		return formatTasks(ctx, os.Stdout, st, tasks)
	},
}

func formatAggregates(w io.Writer, aggs []model.AggregateTask) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tSUB-TASKS\tFAILED\tCREATED")
	for _, a := range aggs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			a.ID, a.Name, a.Status,
			a.CompletedSubTasks, a.TotalSubTasks, a.FailedSubTasks,
			a.CreatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func formatTasks(ctx context.Context, w io.Writer, st store.Store, tasks []model.Task) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUERY\tSTATUS\tPOINTS\tLEADS\tERROR")
	for _, task := range tasks {
		total, done, err := st.CountPoints(ctx, task.ID)
		if err != nil {
			return eris.Wrapf(err, "count points for %s", task.ID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			task.ID, task.Query, task.Status,
			done, total, task.SuccessLeads, task.Error)
	}
	tw.Flush()
	return nil
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max batches to list")
	rootCmd.AddCommand(statusCmd)
}
