// Package recovery requeues work orphaned by an unclean shutdown. It runs
// once at worker startup, before any queue consumer begins pulling messages.
package recovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/queue"
	"github.com/sells-group/leadscout/internal/store"
)

// Manager finds tasks stranded in running state and puts them back on the
// queue at crawl-critical priority, so interrupted work resumes before new
// submissions start.
type Manager struct {
	store    store.TaskStore
	enqueuer queue.Enqueuer
	log      *zap.Logger
}

// NewManager creates a Manager.
func NewManager(st store.TaskStore, enqueuer queue.Enqueuer) *Manager {
	return &Manager{
		store:    st,
		enqueuer: enqueuer,
		log:      zap.L().With(zap.String("component", "recovery")),
	}
}

// Recover re-enqueues every task left in running state. The task rows are
// not touched here: the crawl runner re-claims them and its resume cursor
// picks up from the first unfinished point. Returns the number of tasks
// re-enqueued.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	tasks, err := m.store.ListRunningTasks(ctx)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		m.log.Info("no orphaned tasks")
		return 0, nil
	}

	var recovered int
	for _, task := range tasks {
		if err := m.enqueuer.EnqueueCrawl(ctx, task.ID, true); err != nil {
			// Keep going: a task that fails to enqueue now is found again on
			// the next startup.
			m.log.Error("re-enqueue failed",
				zap.String("task_id", task.ID),
				zap.Error(err))
			continue
		}
		recovered++
		m.log.Info("orphaned task re-enqueued",
			zap.String("task_id", task.ID),
			zap.String("query", task.Query))
	}
	return recovered, nil
}
