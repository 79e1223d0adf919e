// Package aggregate finalizes batch submissions. A batch is done when every
// sub-task has reported a terminal outcome; because sub-tasks finish on
// concurrent workers, the bookkeeping is built from two store primitives
// that are each individually atomic.
package aggregate

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

// Tracker watches sub-task completions and closes the aggregate exactly once.
type Tracker struct {
	store store.AggregateStore
	log   *zap.Logger
}

// NewTracker creates a Tracker.
func NewTracker(st store.AggregateStore) *Tracker {
	return &Tracker{
		store: st,
		log:   zap.L().With(zap.String("component", "aggregate")),
	}
}

// OnSubTaskFinished records one sub-task outcome. The increment returns a
// consistent counter snapshot; when the snapshot shows all sub-tasks
// accounted for, finalization is attempted with a compare-and-set, so two
// workers finishing the last two sub-tasks simultaneously produce exactly
// one terminal transition.
func (t *Tracker) OnSubTaskFinished(ctx context.Context, aggregateID string, failed bool) error {
	agg, err := t.store.IncrementSubTask(ctx, aggregateID, failed)
	if err != nil {
		return err
	}

	finished := agg.CompletedSubTasks + agg.FailedSubTasks
	if finished < agg.TotalSubTasks {
		t.log.Debug("sub-task recorded",
			zap.String("aggregate_id", aggregateID),
			zap.Int("finished", finished),
			zap.Int("total", agg.TotalSubTasks))
		return nil
	}

	status := model.TaskCompleted
	if agg.CompletedSubTasks == 0 {
		status = model.TaskFailed
	}

	applied, err := t.store.FinalizeAggregate(ctx, aggregateID, status)
	if err != nil {
		return err
	}
	if applied {
		t.log.Info("aggregate finished",
			zap.String("aggregate_id", aggregateID),
			zap.String("status", string(status)),
			zap.Int("completed", agg.CompletedSubTasks),
			zap.Int("failed", agg.FailedSubTasks))
	}
	return nil
}
