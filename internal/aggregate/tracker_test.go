package aggregate

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

func newTestAggregate(t *testing.T, total int) (*store.SQLiteStore, string) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	id := uuid.New().String()
	require.NoError(t, s.CreateAggregate(context.Background(), &model.AggregateTask{
		ID: id, Name: "batch", Keywords: []string{"roofers"},
		Targets: []string{"austin"}, TotalSubTasks: total, Status: model.TaskRunning,
	}))
	return s, id
}

func TestTracker_FinalizesWhenAllFinish(t *testing.T) {
	s, id := newTestAggregate(t, 3)
	tracker := NewTracker(s)
	ctx := context.Background()

	require.NoError(t, tracker.OnSubTaskFinished(ctx, id, false))
	require.NoError(t, tracker.OnSubTaskFinished(ctx, id, true))

	agg, err := s.GetAggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskRunning, agg.Status)

	require.NoError(t, tracker.OnSubTaskFinished(ctx, id, false))

	agg, err = s.GetAggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, agg.Status)
	assert.Equal(t, 2, agg.CompletedSubTasks)
	assert.Equal(t, 1, agg.FailedSubTasks)
	assert.NotNil(t, agg.CompletedAt)
}

func TestTracker_AllFailed(t *testing.T) {
	s, id := newTestAggregate(t, 2)
	tracker := NewTracker(s)
	ctx := context.Background()

	require.NoError(t, tracker.OnSubTaskFinished(ctx, id, true))
	require.NoError(t, tracker.OnSubTaskFinished(ctx, id, true))

	agg, err := s.GetAggregate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, agg.Status)
}

func TestTracker_ConcurrentFinishers_FinalizeOnce(t *testing.T) {
	const total = 16
	s, id := newTestAggregate(t, total)

	// Count terminal transitions through a wrapper store.
	cs := &countingStore{AggregateStore: s}
	tracker := NewTracker(cs)

	var g errgroup.Group
	for i := 0; i < total; i++ {
		failed := i%3 == 0
		g.Go(func() error {
			return tracker.OnSubTaskFinished(context.Background(), id, failed)
		})
	}
	require.NoError(t, g.Wait())

	agg, err := s.GetAggregate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, agg.Status)
	assert.Equal(t, total, agg.CompletedSubTasks+agg.FailedSubTasks)
	assert.Equal(t, 1, cs.applied())
}

type countingStore struct {
	store.AggregateStore
	mu      sync.Mutex
	applies int
}

func (c *countingStore) FinalizeAggregate(ctx context.Context, id string, status model.TaskStatus) (bool, error) {
	applied, err := c.AggregateStore.FinalizeAggregate(ctx, id, status)
	if applied {
		c.mu.Lock()
		c.applies++
		c.mu.Unlock()
	}
	return applied, err
}

func (c *countingStore) applied() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applies
}
