package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

func newCancelTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCancelSingleTask_CountsTowardAggregate(t *testing.T) {
	s := newCancelTestStore(t)
	ctx := context.Background()

	aggID := uuid.New().String()
	require.NoError(t, s.CreateAggregate(ctx, &model.AggregateTask{
		ID: aggID, Name: "batch", Keywords: []string{"roofers"},
		Targets: []string{"austin"}, TotalSubTasks: 2, Status: model.TaskRunning,
	}))
	runningID := uuid.New().String()
	doneID := uuid.New().String()
	require.NoError(t, s.CreateTasks(ctx, []model.Task{
		{ID: runningID, AggregateID: &aggID, Query: "roofers austin", Status: model.TaskPending},
		{ID: doneID, AggregateID: &aggID, Query: "roofers dallas", Status: model.TaskPending},
	}))

	// One sub-task already finished normally.
	claimed, err := s.ClaimTaskRunning(ctx, doneID)
	require.NoError(t, err)
	require.True(t, claimed)
	applied, err := s.FinalizeTask(ctx, doneID, model.TaskCompleted, "")
	require.NoError(t, err)
	require.True(t, applied)
	agg, err := s.IncrementSubTask(ctx, aggID, false)
	require.NoError(t, err)
	require.Equal(t, 1, agg.CompletedSubTasks)

	// Cancelling the last live sub-task must close out the batch.
	msg, err := cancelSingleTask(ctx, s, runningID)
	require.NoError(t, err)
	assert.Contains(t, msg, "Cancelled task")

	task, err := s.GetTask(ctx, runningID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, task.Status)

	agg, err = s.GetAggregate(ctx, aggID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, agg.Status)
	assert.Equal(t, 1, agg.CompletedSubTasks)
	assert.Equal(t, 1, agg.FailedSubTasks)
}

func TestCancelSingleTask_TerminalTaskNotDoubleCounted(t *testing.T) {
	s := newCancelTestStore(t)
	ctx := context.Background()

	aggID := uuid.New().String()
	require.NoError(t, s.CreateAggregate(ctx, &model.AggregateTask{
		ID: aggID, Name: "batch", Keywords: []string{"roofers"},
		Targets: []string{"austin"}, TotalSubTasks: 2, Status: model.TaskRunning,
	}))
	taskID := uuid.New().String()
	require.NoError(t, s.CreateTasks(ctx, []model.Task{
		{ID: taskID, AggregateID: &aggID, Query: "roofers austin", Status: model.TaskPending},
	}))

	msg, err := cancelSingleTask(ctx, s, taskID)
	require.NoError(t, err)
	assert.Contains(t, msg, "Cancelled task")

	// Cancelling again is a no-op and must not bump the counters.
	msg, err = cancelSingleTask(ctx, s, taskID)
	require.NoError(t, err)
	assert.Contains(t, msg, "already")

	agg, err := s.GetAggregate(ctx, aggID)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.FailedSubTasks)
	assert.Equal(t, model.TaskRunning, agg.Status)
}
