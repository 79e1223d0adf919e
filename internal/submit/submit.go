// Package submit turns a batch request into persisted work: one aggregate
// task, one crawl task per keyword and target pair, and one queue message
// per crawl task.
package submit

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/queue"
	"github.com/sells-group/leadscout/internal/store"
)

// Request describes one batch submission. Targets are named places; Geo
// overrides them with an explicit area applied to every keyword.
type Request struct {
	Name     string           `json:"name"`
	Keywords []string         `json:"keywords"`
	Targets  []string         `json:"targets"`
	Geo      *model.GeoConfig `json:"geo,omitempty"`
	Limit    int              `json:"limit,omitempty"`
	StepDeg  float64          `json:"step_deg,omitempty"`
}

// Submitter creates and enqueues batches.
type Submitter struct {
	store    store.Store
	enqueuer queue.Enqueuer
	log      *zap.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(st store.Store, enqueuer queue.Enqueuer) *Submitter {
	return &Submitter{
		store:    st,
		enqueuer: enqueuer,
		log:      zap.L().With(zap.String("component", "submit")),
	}
}

// Submit validates the request, persists the aggregate and its sub-tasks,
// and enqueues one crawl per sub-task. The sub-task count is fixed at
// creation time; the aggregate finishes when exactly that many crawls have
// reported in.
func (s *Submitter) Submit(ctx context.Context, req Request) (*model.AggregateTask, error) {
	keywords := cleanList(req.Keywords)
	if len(keywords) == 0 {
		return nil, eris.New("submit: at least one keyword is required")
	}

	targets := cleanList(req.Targets)
	tasks := buildTasks(req, keywords, targets)

	agg := &model.AggregateTask{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Keywords:      keywords,
		Targets:       targets,
		TotalSubTasks: len(tasks),
		Status:        model.TaskRunning,
	}
	if agg.Name == "" {
		agg.Name = strings.Join(keywords, ", ")
	}

	if err := s.store.CreateAggregate(ctx, agg); err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].AggregateID = &agg.ID
	}
	if err := s.store.CreateTasks(ctx, tasks); err != nil {
		return nil, err
	}

	for _, task := range tasks {
		if err := s.enqueuer.EnqueueCrawl(ctx, task.ID, false); err != nil {
			return nil, eris.Wrapf(err, "submit: enqueue task %s", task.ID)
		}
	}

	s.log.Info("batch submitted",
		zap.String("aggregate_id", agg.ID),
		zap.Int("keywords", len(keywords)),
		zap.Int("targets", len(targets)),
		zap.Int("tasks", len(tasks)))
	return agg, nil
}

// SubmitSingle creates and enqueues one standalone crawl task with no
// aggregate.
func (s *Submitter) SubmitSingle(ctx context.Context, query string, geo *model.GeoConfig, limit int) (*model.Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, eris.New("submit: query is required")
	}

	task := model.Task{
		ID:     uuid.New().String(),
		Query:  query,
		Geo:    geo,
		Limit:  limit,
		Status: model.TaskPending,
	}
	if err := s.store.CreateTasks(ctx, []model.Task{task}); err != nil {
		return nil, err
	}
	if err := s.enqueuer.EnqueueCrawl(ctx, task.ID, false); err != nil {
		return nil, eris.Wrapf(err, "submit: enqueue task %s", task.ID)
	}

	s.log.Info("task submitted",
		zap.String("task_id", task.ID),
		zap.String("query", query))
	return &task, nil
}

// buildTasks is the keyword by target cross-product. With no targets, each
// keyword gets one task carrying the request's explicit geo, if any.
func buildTasks(req Request, keywords, targets []string) []model.Task {
	var tasks []model.Task
	for _, kw := range keywords {
		if len(targets) == 0 {
			tasks = append(tasks, model.Task{
				ID:     uuid.New().String(),
				Query:  kw,
				Geo:    applyStep(req.Geo, req.StepDeg),
				Limit:  req.Limit,
				Status: model.TaskPending,
			})
			continue
		}
		for _, target := range targets {
			tasks = append(tasks, model.Task{
				ID:    uuid.New().String(),
				Query: kw,
				Geo: applyStep(&model.GeoConfig{
					Place: target,
				}, req.StepDeg),
				Limit:  req.Limit,
				Status: model.TaskPending,
			})
		}
	}
	return tasks
}

func applyStep(geo *model.GeoConfig, step float64) *model.GeoConfig {
	if geo == nil || step <= 0 {
		return geo
	}
	copied := *geo
	copied.StepDeg = step
	return &copied
}

func cleanList(items []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
