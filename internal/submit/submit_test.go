package submit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/store"
)

type crawlRecorder struct {
	taskIDs []string
}

func (r *crawlRecorder) EnqueueCrawl(ctx context.Context, taskID string, critical bool) error {
	r.taskIDs = append(r.taskIDs, taskID)
	return nil
}

func (r *crawlRecorder) EnqueueStage(ctx context.Context, stage model.Stage, leadID string) error {
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

func TestSubmit_CrossProduct(t *testing.T) {
	s := newTestStore(t)
	rec := &crawlRecorder{}
	sub := NewSubmitter(s, rec)
	ctx := context.Background()

	agg, err := sub.Submit(ctx, Request{
		Name:     "texas trades",
		Keywords: []string{"roofers", "plumbers", "electricians"},
		Targets:  []string{"austin", "dallas"},
		Limit:    50,
	})
	require.NoError(t, err)

	assert.Equal(t, 6, agg.TotalSubTasks)
	assert.Equal(t, model.TaskRunning, agg.Status)
	assert.Len(t, rec.taskIDs, 6)

	tasks, err := s.ListTasks(ctx, store.TaskFilter{AggregateID: agg.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 6)
	for _, task := range tasks {
		assert.Equal(t, model.TaskPending, task.Status)
		assert.Equal(t, 50, task.Limit)
		require.NotNil(t, task.Geo)
		assert.NotEmpty(t, task.Geo.Place)
	}
}

func TestSubmit_NoTargets_UsesExplicitGeo(t *testing.T) {
	s := newTestStore(t)
	rec := &crawlRecorder{}
	sub := NewSubmitter(s, rec)

	agg, err := sub.Submit(context.Background(), Request{
		Keywords: []string{"roofers"},
		Geo: &model.GeoConfig{
			Center:    &model.LatLng{Lat: 30.0, Lng: -97.0},
			RadiusDeg: 0.2,
		},
		StepDeg: 0.05,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalSubTasks)
	assert.Equal(t, "roofers", agg.Name)

	tasks, err := s.ListTasks(context.Background(), store.TaskFilter{AggregateID: agg.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].Geo)
	assert.InDelta(t, 0.05, tasks[0].Geo.StepDeg, 1e-9)
}

func TestSubmit_DedupesAndTrims(t *testing.T) {
	s := newTestStore(t)
	sub := NewSubmitter(s, &crawlRecorder{})

	agg, err := sub.Submit(context.Background(), Request{
		Keywords: []string{" roofers ", "Roofers", "", "plumbers"},
		Targets:  []string{"austin", "Austin "},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"roofers", "plumbers"}, agg.Keywords)
	assert.Equal(t, []string{"austin"}, agg.Targets)
	assert.Equal(t, 2, agg.TotalSubTasks)
}

func TestSubmit_NoKeywords_Rejected(t *testing.T) {
	s := newTestStore(t)
	sub := NewSubmitter(s, &crawlRecorder{})

	_, err := sub.Submit(context.Background(), Request{Targets: []string{"austin"}})
	require.Error(t, err)
}

func TestSubmitSingle(t *testing.T) {
	s := newTestStore(t)
	rec := &crawlRecorder{}
	sub := NewSubmitter(s, rec)

	task, err := sub.SubmitSingle(context.Background(), "hvac repair", nil, 10)
	require.NoError(t, err)
	assert.Nil(t, task.AggregateID)
	assert.Equal(t, []string{task.ID}, rec.taskIDs)

	stored, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "hvac repair", stored.Query)
	assert.Equal(t, 10, stored.Limit)
}
