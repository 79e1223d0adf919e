package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadscout/internal/resilience"
)

// Handler processes one task kind.
type Handler = asynq.Handler

// ServerConfig tunes the two consumer pools.
type ServerConfig struct {
	// PipelineConcurrency is the worker count for the lead pipeline queues.
	// The crawl pool is always a single worker.
	PipelineConcurrency int `yaml:"pipeline_concurrency" mapstructure:"pipeline_concurrency"`
}

// Server runs two asynq consumer pools against the same Redis: a
// single-worker pool for the crawl queues, which serializes geographic
// crawls, and a concurrent pool for the lead pipeline queues.
type Server struct {
	crawl    *asynq.Server
	pipeline *asynq.Server

	crawlMux    *asynq.ServeMux
	pipelineMux *asynq.ServeMux

	log *zap.Logger
}

// NewServer builds both consumer pools. Handlers are registered with
// HandleCrawl and HandleStage before Run.
func NewServer(redisOpt asynq.RedisClientOpt, cfg ServerConfig) *Server {
	log := zap.L().With(zap.String("component", "queue"))
	policy := resilience.DefaultPolicy()

	retryDelay := func(n int, err error, task *asynq.Task) time.Duration {
		// n counts prior retries, so the failed attempt number is n+1.
		return policy.Backoff(n + 1)
	}
	errHandler := asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		log.Warn("task failed",
			zap.String("type", task.Type()),
			zap.Error(err))
	})

	crawl := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues: map[string]int{
			QueueCrawlCritical: 2,
			QueueCrawl:         1,
		},
		StrictPriority: true,
		RetryDelayFunc: retryDelay,
		ErrorHandler:   errHandler,
	})

	concurrency := cfg.PipelineConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	pipeline := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 3,
			QueueLow:     1,
		},
		RetryDelayFunc: retryDelay,
		ErrorHandler:   errHandler,
	})

	return &Server{
		crawl:       crawl,
		pipeline:    pipeline,
		crawlMux:    asynq.NewServeMux(),
		pipelineMux: asynq.NewServeMux(),
		log:         log,
	}
}

// HandleCrawl registers the crawl handler.
func (s *Server) HandleCrawl(h Handler) {
	s.crawlMux.Handle(TypeCrawlRun, s.logged(TypeCrawlRun, h))
}

// HandleStage registers a lead pipeline handler for a task kind.
func (s *Server) HandleStage(kind string, h Handler) {
	s.pipelineMux.Handle(kind, s.logged(kind, h))
}

func (s *Server) logged(kind string, next Handler) Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, task)
		if err == nil {
			s.log.Debug("task done",
				zap.String("type", kind),
				zap.Duration("elapsed", time.Since(start)))
		}
		return err
	})
}

// Run starts both pools and blocks until either fails or Shutdown is called.
func (s *Server) Run() error {
	var g errgroup.Group
	g.Go(func() error { return s.crawl.Run(s.crawlMux) })
	g.Go(func() error { return s.pipeline.Run(s.pipelineMux) })
	return g.Wait()
}

// Shutdown stops both pools, waiting for in-flight tasks.
func (s *Server) Shutdown() {
	s.crawl.Shutdown()
	s.pipeline.Shutdown()
}
