package recovery

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

type recordingEnqueuer struct {
	crawls   []string
	critical []bool
	failFor  map[string]bool
}

func (r *recordingEnqueuer) EnqueueCrawl(ctx context.Context, taskID string, critical bool) error {
	if r.failFor[taskID] {
		return eris.New("redis unavailable")
	}
	r.crawls = append(r.crawls, taskID)
	r.critical = append(r.critical, critical)
	return nil
}

func (r *recordingEnqueuer) EnqueueStage(ctx context.Context, stage model.Stage, leadID string) error {
	return nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func createTask(t *testing.T, s *store.SQLiteStore, claim bool) string {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, s.CreateTasks(context.Background(), []model.Task{{
		ID: id, Query: "plumbers", Status: model.TaskPending,
	}}))
	if claim {
		claimed, err := s.ClaimTaskRunning(context.Background(), id)
		require.NoError(t, err)
		require.True(t, claimed)
	}
	return id
}

func TestManager_Recover_RequeuesOnlyRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	running := createTask(t, s, true)
	createTask(t, s, false)
	finished := createTask(t, s, true)
	_, err := s.FinalizeTask(ctx, finished, model.TaskCompleted, "")
	require.NoError(t, err)

	enq := &recordingEnqueuer{}
	n, err := NewManager(s, enq).Recover(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, enq.crawls, 1)
	assert.Equal(t, running, enq.crawls[0])
	assert.True(t, enq.critical[0], "recovered tasks go to the critical queue")
}

func TestManager_Recover_Empty(t *testing.T) {
	s := newTestStore(t)

	n, err := NewManager(s, &recordingEnqueuer{}).Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_Recover_ContinuesPastEnqueueFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := createTask(t, s, true)
	good := createTask(t, s, true)

	enq := &recordingEnqueuer{failFor: map[string]bool{bad: true}}
	n, err := NewManager(s, enq).Recover(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{good}, enq.crawls)
}
