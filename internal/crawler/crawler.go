// Package crawler executes one geographic crawl task: it plans or resumes
// the task's search grid, walks the points in order, and persists every
// discovered lead before moving on. All durable state lives in the store, so
// a crash at any moment costs at most the point that was in flight.
package crawler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadscout/internal/grid"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/queue"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/internal/store"
)

// Extractor performs one business search. A nil location means an
// unparameterized search over the query alone.
type Extractor interface {
	Search(ctx context.Context, query string, loc *model.LatLng, radiusDeg float64, limit int) ([]model.Lead, error)
}

// Notifier receives the terminal outcome of a crawl task so the owning
// aggregate can be finalized.
type Notifier interface {
	OnSubTaskFinished(ctx context.Context, aggregateID string, failed bool) error
}

// Config tunes a Runner.
type Config struct {
	// DefaultStepDeg is the grid spacing used when a task's geo config does
	// not set one.
	DefaultStepDeg float64 `yaml:"default_step_deg" mapstructure:"default_step_deg"`

	// PointDelay is the pause between consecutive grid points.
	PointDelay time.Duration `yaml:"point_delay" mapstructure:"point_delay"`

	// SearchesPerMinute rate-limits extractor calls across the whole run.
	SearchesPerMinute int `yaml:"searches_per_minute" mapstructure:"searches_per_minute"`

	// PointSearchLimit caps how many results a single point search requests.
	PointSearchLimit int `yaml:"point_search_limit" mapstructure:"point_search_limit"`
}

func (c Config) withDefaults() Config {
	if c.DefaultStepDeg <= 0 {
		c.DefaultStepDeg = 0.1
	}
	if c.PointDelay <= 0 {
		c.PointDelay = 2 * time.Second
	}
	if c.SearchesPerMinute <= 0 {
		c.SearchesPerMinute = 20
	}
	if c.PointSearchLimit <= 0 {
		c.PointSearchLimit = 20
	}
	return c
}

// Runner executes crawl tasks one at a time.
type Runner struct {
	store     store.Store
	resolver  *grid.Resolver
	extractor Extractor
	enqueuer  queue.Enqueuer
	notifier  Notifier

	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	cfg     Config
	log     *zap.Logger

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a Runner. The notifier may be nil for standalone tasks.
func NewRunner(st store.Store, extractor Extractor, enqueuer queue.Enqueuer, notifier Notifier, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("extractor", "search")
	return &Runner{
		store:     st,
		resolver:  grid.NewResolver(st),
		extractor: extractor,
		enqueuer:  enqueuer,
		notifier:  notifier,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.SearchesPerMinute)/60.0), 1),
		retry:   retryCfg,
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "crawler")),
		sleep:   sleepCtx,
	}
}

// search runs one extractor call through in-process retry and the circuit
// breaker. Transient errors are retried here, within the queue attempt;
// whole-task retry is the queue's job.
func (r *Runner) search(ctx context.Context, query string, loc *model.LatLng, radiusDeg float64, limit int) ([]model.Lead, error) {
	return resilience.DoVal(ctx, r.retry, func(ctx context.Context) ([]model.Lead, error) {
		return resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) ([]model.Lead, error) {
			return r.extractor.Search(ctx, query, loc, radiusDeg, limit)
		})
	})
}

// ProcessTask adapts Run to the queue. When an error escapes Run on the
// final queue attempt, the task row is closed out as failed before the
// message archives; otherwise the row would sit in running forever.
func (r *Runner) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.UnmarshalCrawlPayload(task.Payload())
	if err != nil {
		return queue.NoRetry(err)
	}
	err = r.Run(ctx, payload.TaskID)
	if err != nil && !retriesRemain(ctx, err) {
		r.Abandon(ctx, payload.TaskID, err)
	}
	return err
}

// retriesRemain reports whether the queue will attempt this task again.
func retriesRemain(ctx context.Context, err error) bool {
	if eris.Is(err, asynq.SkipRetry) {
		return false
	}
	n, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return n < max
}

// Abandon marks a task failed with the error that exhausted its queue
// retries, and reports the outcome to the aggregate like any other failure.
func (r *Runner) Abandon(ctx context.Context, taskID string, cause error) {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		r.log.Error("abandon lookup failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if err := r.finish(ctx, task, model.TaskFailed, cause.Error()); err != nil {
		r.log.Error("abandon finalize failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes one crawl task to a terminal state. It is safe to call for a
// task that already ran partially: completed points are never revisited.
// A missing or cancelled task returns nil so the queue does not retry it.
func (r *Runner) Run(ctx context.Context, taskID string) error {
	log := r.log.With(zap.String("task_id", taskID))

	task, err := r.store.GetTask(ctx, taskID)
	if eris.Is(err, store.ErrNotFound) {
		log.Warn("task not found, dropping")
		return nil
	}
	if err != nil {
		return err
	}

	claimed, err := r.store.ClaimTaskRunning(ctx, taskID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("task not claimable, skipping", zap.String("status", string(task.Status)))
		return nil
	}

	area, err := r.resolver.Resolve(ctx, task.Geo)
	if err != nil {
		return r.finish(ctx, task, model.TaskFailed, err.Error())
	}

	if area == nil {
		return r.runUnbounded(ctx, task, log)
	}
	return r.runGrid(ctx, task, area, log)
}

// runUnbounded performs a single search with no location restriction, used
// when the task carries no resolvable geography.
func (r *Runner) runUnbounded(ctx context.Context, task *model.Task, log *zap.Logger) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	limit := task.Limit
	if limit <= 0 {
		limit = r.cfg.PointSearchLimit
	}
	leads, err := r.search(ctx, task.Query, nil, 0, limit)
	if err != nil {
		log.Warn("unbounded search failed", zap.Error(err))
		return r.finish(ctx, task, model.TaskFailed, err.Error())
	}

	seen := make(map[string]struct{})
	saved := r.saveLeads(ctx, task, leads, seen, log)
	if err := r.store.UpdateTaskProgress(ctx, task.ID, 100, len(leads), saved, 0); err != nil {
		log.Warn("progress update failed", zap.Error(err))
	}
	return r.finish(ctx, task, model.TaskCompleted, "")
}

// runGrid plans the grid on first run, then walks every remaining point.
func (r *Runner) runGrid(ctx context.Context, task *model.Task, area *grid.Area, log *zap.Logger) error {
	if err := r.ensurePlanned(ctx, task, area); err != nil {
		return r.finish(ctx, task, model.TaskFailed, err.Error())
	}

	points, err := r.store.PendingOrRetryablePoints(ctx, task.ID)
	if err != nil {
		return err
	}
	total, done, err := r.store.CountPoints(ctx, task.ID)
	if err != nil {
		return err
	}
	log.Info("crawl starting",
		zap.Int("points_total", total),
		zap.Int("points_done", done),
		zap.Int("points_remaining", len(points)))

	// Lifetime counters continue from where the previous run left off.
	found, saved, err := r.store.CompletedPointTotals(ctx, task.ID)
	if err != nil {
		return err
	}

	searchRadius := r.searchRadius(task)
	seen := make(map[string]struct{})
	var pointFailures int

	for i, point := range points {
		// Cancellation is polled at the top of each point so a cancel lands
		// within one point's worth of work.
		cancelled, err := r.cancelRequested(ctx, task)
		if err != nil {
			return err
		}
		if cancelled {
			log.Info("task cancelled, stopping", zap.Int("seq", point.Seq))
			return nil
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := r.store.MarkPointRunning(ctx, point.ID); err != nil {
			return err
		}

		loc := &model.LatLng{Lat: point.Lat, Lng: point.Lng}
		leads, err := r.search(ctx, task.Query, loc, searchRadius, r.cfg.PointSearchLimit)
		if err != nil {
			pointFailures++
			log.Warn("point search failed",
				zap.Int("seq", point.Seq),
				zap.Error(err))
			if err := r.store.MarkPointFailed(ctx, point.ID, err.Error()); err != nil {
				return err
			}
		} else {
			found += len(leads)
			pointSaved := r.saveLeads(ctx, task, leads, seen, log)
			saved += pointSaved
			if err := r.store.MarkPointCompleted(ctx, point.ID, len(leads), pointSaved); err != nil {
				return err
			}
			done++
		}

		progress := 0
		if total > 0 {
			progress = done * 100 / total
		}
		if err := r.store.UpdateTaskProgress(ctx, task.ID, progress, found, saved, pointFailures); err != nil {
			log.Warn("progress update failed", zap.Error(err))
		}

		if task.Limit > 0 && saved >= task.Limit {
			skipped, err := r.store.SkipRemainingPoints(ctx, task.ID)
			if err != nil {
				return err
			}
			log.Info("result limit reached",
				zap.Int("saved", saved),
				zap.Int64("points_skipped", skipped))
			break
		}

		if i < len(points)-1 {
			if err := r.sleep(ctx, r.cfg.PointDelay); err != nil {
				return err
			}
		}
	}

	status := model.TaskCompleted
	errMsg := ""
	if pointFailures > 0 && done == 0 && saved == 0 {
		status = model.TaskFailed
		errMsg = "every search point failed"
	}
	return r.finish(ctx, task, status, errMsg)
}

// ensurePlanned writes the grid exactly once per task.
func (r *Runner) ensurePlanned(ctx context.Context, task *model.Task, area *grid.Area) error {
	has, err := r.store.HasPoints(ctx, task.ID)
	if err != nil || has {
		return err
	}

	step := r.cfg.DefaultStepDeg
	if task.Geo != nil && task.Geo.StepDeg > 0 {
		step = task.Geo.StepDeg
	}
	points := grid.PlanPoints(area.Center, area.RadiusDeg, step)
	n, err := r.store.CreatePoints(ctx, task.ID, points)
	if err != nil {
		return err
	}
	r.log.Info("grid planned",
		zap.String("task_id", task.ID),
		zap.Int64("points", n),
		zap.Float64("step_deg", step))
	return nil
}

// searchRadius is the per-point search radius: half the grid step, so
// adjacent points overlap slightly rather than leave gaps.
func (r *Runner) searchRadius(task *model.Task) float64 {
	step := r.cfg.DefaultStepDeg
	if task.Geo != nil && task.Geo.StepDeg > 0 {
		step = task.Geo.StepDeg
	}
	return step * 0.75
}

// saveLeads inserts deduplicated leads immediately and hands each one to the
// rating stage. Dedupe is scoped to the run: the same business seen from two
// overlapping points is stored once.
func (r *Runner) saveLeads(ctx context.Context, task *model.Task, leads []model.Lead, seen map[string]struct{}, log *zap.Logger) int {
	var saved int
	for i := range leads {
		lead := leads[i]
		key := dedupeKey(lead.Name, lead.Phone)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		lead.ID = uuid.New().String()
		lead.TaskID = task.ID
		if err := r.store.InsertLead(ctx, &lead); err != nil {
			log.Warn("lead insert failed",
				zap.String("lead", lead.Name),
				zap.Error(err))
			continue
		}
		saved++

		if r.enqueuer != nil {
			if err := r.enqueuer.EnqueueStage(ctx, model.StageRating, lead.ID); err != nil {
				log.Warn("rating enqueue failed",
					zap.String("lead_id", lead.ID),
					zap.Error(err))
			}
		}
	}
	return saved
}

// dedupeKey identifies a business within one run: normalized name plus the
// phone number, or just the name when no phone is known.
func dedupeKey(name, phone string) string {
	n := strings.ToLower(strings.Join(strings.Fields(name), " "))
	p := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	return n + "|" + p
}

// cancelRequested reports whether the task, or its parent aggregate, has
// been cancelled. An aggregate-level cancel is pushed down onto the task row
// so the cancellation is durable even if the cascade never reached it.
func (r *Runner) cancelRequested(ctx context.Context, task *model.Task) (bool, error) {
	current, err := r.store.GetTask(ctx, task.ID)
	if err != nil {
		return false, err
	}
	if current.Status == model.TaskCancelled {
		return true, nil
	}

	if task.AggregateID == nil {
		return false, nil
	}
	agg, err := r.store.GetAggregate(ctx, *task.AggregateID)
	if err != nil {
		return false, err
	}
	if agg.Status != model.TaskCancelled {
		return false, nil
	}
	if _, err := r.store.CancelTask(ctx, task.ID); err != nil {
		return false, err
	}
	return true, nil
}

// finish finalizes the task and reports the outcome to the aggregate. When
// a racing cancellation already closed the task, the notifier is skipped:
// the cancel path owns the aggregate bookkeeping then.
func (r *Runner) finish(ctx context.Context, task *model.Task, status model.TaskStatus, errMsg string) error {
	applied, err := r.store.FinalizeTask(ctx, task.ID, status, errMsg)
	if err != nil {
		return err
	}
	if !applied {
		r.log.Info("finalize skipped, task already terminal", zap.String("task_id", task.ID))
		return nil
	}
	r.log.Info("crawl finished",
		zap.String("task_id", task.ID),
		zap.String("status", string(status)))

	if r.notifier != nil && task.AggregateID != nil {
		failed := status != model.TaskCompleted
		if err := r.notifier.OnSubTaskFinished(ctx, *task.AggregateID, failed); err != nil {
			return eris.Wrapf(err, "crawler: notify aggregate %s", *task.AggregateID)
		}
	}
	return nil
}
