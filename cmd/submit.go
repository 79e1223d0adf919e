package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/queue"
	"github.com/sells-group/leadscout/internal/submit"
)

var (
	submitName     string
	submitKeywords []string
	submitTargets  []string
	submitLimit    int
	submitStep     float64
	submitLat      float64
	submitLng      float64
	submitRadius   float64
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a crawl batch",
	Long:  "Creates one crawl task per keyword and target pair and enqueues them. With --lat/--lng the explicit area replaces the named targets.",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		req := submit.Request{
			Name:     submitName,
			Keywords: submitKeywords,
			Targets:  submitTargets,
			Limit:    submitLimit,
			StepDeg:  submitStep,
		}
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
				return eris.New("--lat and --lng must be set together")
			}
			req.Geo = &model.GeoConfig{
				Center:    &model.LatLng{Lat: submitLat, Lng: submitLng},
				RadiusDeg: submitRadius,
			}
		}

		agg, err := submit.NewSubmitter(st, qc).Submit(ctx, req)
		if err != nil {
			return eris.Wrap(err, "submit batch")
		}

		zap.L().Info("batch submitted",
			zap.String("aggregate_id", agg.ID),
			zap.Int("sub_tasks", agg.TotalSubTasks),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(agg)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitName, "name", "", "batch name")
	submitCmd.Flags().StringSliceVar(&submitKeywords, "keywords", nil, "search keywords (required)")
	submitCmd.Flags().StringSliceVar(&submitTargets, "targets", nil, "named places from the geo reference table")
	submitCmd.Flags().IntVar(&submitLimit, "limit", 0, "max leads per task (0 = unlimited)")
	submitCmd.Flags().Float64Var(&submitStep, "step", 0, "grid step in degrees (default from config)")
	submitCmd.Flags().Float64Var(&submitLat, "lat", 0, "explicit search center latitude")
	submitCmd.Flags().Float64Var(&submitLng, "lng", 0, "explicit search center longitude")
	submitCmd.Flags().Float64Var(&submitRadius, "radius", 0.2, "search radius in degrees around --lat/--lng")
	_ = submitCmd.MarkFlagRequired("keywords")
	rootCmd.AddCommand(submitCmd)
}
