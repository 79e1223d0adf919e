package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/aggregate"
	"github.com/sells-group/leadscout/internal/crawler"
	"github.com/sells-group/leadscout/internal/queue"
	"github.com/sells-group/leadscout/internal/recovery"
	"github.com/sells-group/leadscout/pkg/places"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the crawl and lead pipeline workers",
	Long:  "Re-enqueues crawls interrupted by a crash, then consumes the crawl and lead pipeline queues until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		qc := queue.NewClient(redisOpt())
		defer qc.Close()

		recovered, err := recovery.NewManager(st, qc).Recover(ctx)
		if err != nil {
			return err
		}
		if recovered > 0 {
			zap.L().Info("interrupted crawls re-enqueued", zap.Int("count", recovered))
		}

		placesClient := places.NewClient(cfg.Places.Key, places.WithBaseURL(cfg.Places.BaseURL))
		runner := crawler.NewRunner(
			st,
			crawler.NewPlacesExtractor(placesClient),
			qc,
			aggregate.NewTracker(st),
			cfg.Crawl,
		)

		srv := queue.NewServer(redisOpt(), cfg.Queue)
		srv.HandleCrawl(runner)
		initPipeline(st, qc).Register(srv)

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down workers")
			srv.Shutdown()
		}()

		zap.L().Info("workers started",
			zap.Int("pipeline_concurrency", cfg.Queue.PipelineConcurrency))
		return srv.Run()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
