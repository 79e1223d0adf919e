package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/pipeline"
	"github.com/sells-group/leadscout/internal/queue"
)

var retryIDs []string

var retryCmd = &cobra.Command{
	Use:   "retry <stage>",
	Short: "Re-arm failed leads for a pipeline stage",
	Long:  "Moves failed leads of the given stage (rating, enrich, crm_sync) back to pending and re-enqueues them. For rating this also picks up leads parked by a missing scorer config. Without --ids every eligible lead is re-armed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage := model.Stage(args[0])
		if !stage.Valid() {
			return eris.Errorf("unknown stage: %s", args[0])
		}

		if err := cfg.Validate("cli"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		qc := queue.NewClient(redisOpt())
		defer qc.Close()

		// Re-arming touches only the store and the queue, so the stage
		// backends stay nil.
		p := pipeline.New(st, nil, nil, nil, qc)
		rearmed, err := p.Rearm(ctx, stage, retryIDs)
		if err != nil {
			return eris.Wrap(err, "re-arm leads")
		}

		fmt.Printf("Re-armed %d leads for %s\n", len(rearmed), stage)
		return nil
	},
}

func init() {
	retryCmd.Flags().StringSliceVar(&retryIDs, "ids", nil, "specific lead ids (default: all eligible)")
	rootCmd.AddCommand(retryCmd)
}
