package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/grid"
	"github.com/sells-group/leadscout/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestTask(t *testing.T, s *SQLiteStore, aggregateID *string) string {
	t.Helper()
	id := uuid.New().String()
	err := s.CreateTasks(context.Background(), []model.Task{{
		ID:          id,
		AggregateID: aggregateID,
		Query:       "roofing contractors",
		Geo: &model.GeoConfig{
			Center:    &model.LatLng{Lat: 30.27, Lng: -97.74},
			RadiusDeg: 0.2,
			StepDeg:   0.1,
		},
		Status: model.TaskPending,
	}})
	require.NoError(t, err)
	return id
}

func createTestLead(t *testing.T, s *SQLiteStore, taskID string) string {
	t.Helper()
	id := uuid.New().String()
	err := s.InsertLead(context.Background(), &model.Lead{
		ID:     id,
		TaskID: taskID,
		Name:   "Acme Roofing",
		Phone:  "+15125550100",
	})
	require.NoError(t, err)
	return id
}

func TestSQLite_TaskLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := createTestTask(t, s, nil)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, task.Status)
	require.NotNil(t, task.Geo)
	assert.InDelta(t, 30.27, task.Geo.Center.Lat, 1e-9)

	claimed, err := s.ClaimTaskRunning(ctx, id)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Claiming again is fine while still running, so a resumed task can
	// re-claim itself.
	claimed, err = s.ClaimTaskRunning(ctx, id)
	require.NoError(t, err)
	assert.True(t, claimed)

	applied, err := s.FinalizeTask(ctx, id, model.TaskCompleted, "")
	require.NoError(t, err)
	assert.True(t, applied)

	task, err = s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.NotNil(t, task.CompletedAt)

	// Terminal tasks cannot be claimed again.
	claimed, err = s.ClaimTaskRunning(ctx, id)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSQLite_CancelWinsOverFinalize(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	id := createTestTask(t, s, nil)

	claimed, err := s.ClaimTaskRunning(ctx, id)
	require.NoError(t, err)
	require.True(t, claimed)

	cancelled, err := s.CancelTask(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// A second cancel is a no-op on the now-terminal task.
	cancelled, err = s.CancelTask(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled)

	applied, err := s.FinalizeTask(ctx, id, model.TaskCompleted, "")
	require.NoError(t, err)
	assert.False(t, applied)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, task.Status)
}

func TestSQLite_GetTask_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetTask(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListTasks_FilterByAggregate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	aggID := uuid.New().String()
	require.NoError(t, s.CreateAggregate(ctx, &model.AggregateTask{
		ID: aggID, Name: "batch", Keywords: []string{"roofers"},
		Targets: []string{"austin"}, TotalSubTasks: 1, Status: model.TaskPending,
	}))
	inAgg := createTestTask(t, s, &aggID)
	createTestTask(t, s, nil)

	tasks, err := s.ListTasks(ctx, TaskFilter{AggregateID: aggID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, inAgg, tasks[0].ID)
}

func TestSQLite_AggregateCounters_FinalizeOnce(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	aggID := uuid.New().String()
	require.NoError(t, s.CreateAggregate(ctx, &model.AggregateTask{
		ID: aggID, Name: "batch", Keywords: []string{"roofers", "plumbers"},
		Targets: []string{"austin"}, TotalSubTasks: 2, Status: model.TaskRunning,
	}))

	agg, err := s.IncrementSubTask(ctx, aggID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.CompletedSubTasks)

	// Counters not yet complete, so finalization does not apply.
	applied, err := s.FinalizeAggregate(ctx, aggID, model.TaskCompleted)
	require.NoError(t, err)
	assert.False(t, applied)

	agg, err = s.IncrementSubTask(ctx, aggID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.CompletedSubTasks)
	assert.Equal(t, 1, agg.FailedSubTasks)

	applied, err = s.FinalizeAggregate(ctx, aggID, model.TaskCompleted)
	require.NoError(t, err)
	assert.True(t, applied)

	// Second finalize is a no-op.
	applied, err = s.FinalizeAggregate(ctx, aggID, model.TaskFailed)
	require.NoError(t, err)
	assert.False(t, applied)

	agg, err = s.GetAggregate(ctx, aggID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, agg.Status)
	assert.Equal(t, []string{"roofers", "plumbers"}, agg.Keywords)
}

func TestSQLite_Points_ResumePredicate(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	taskID := createTestTask(t, s, nil)

	has, err := s.HasPoints(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, has)

	points := []grid.Point{
		{Seq: 1, Lat: 30.47, Lng: -97.94},
		{Seq: 2, Lat: 30.47, Lng: -97.84},
		{Seq: 3, Lat: 30.47, Lng: -97.74},
		{Seq: 4, Lat: 30.37, Lng: -97.94},
	}
	n, err := s.CreatePoints(ctx, taskID, points)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	has, err = s.HasPoints(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, has)

	pending, err := s.PendingOrRetryablePoints(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, pending, 4)

	// Complete the first, fail the second, leave the third mid-flight.
	require.NoError(t, s.MarkPointCompleted(ctx, pending[0].ID, 12, 10))
	require.NoError(t, s.MarkPointFailed(ctx, pending[1].ID, "search timeout"))
	require.NoError(t, s.MarkPointRunning(ctx, pending[2].ID))

	remaining, err := s.PendingOrRetryablePoints(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, remaining, 3)
	assert.Equal(t, 2, remaining[0].Seq)
	assert.Equal(t, 3, remaining[1].Seq)
	assert.Equal(t, 4, remaining[2].Seq)
	assert.Equal(t, model.PointFailed, remaining[0].Status)
	assert.Equal(t, "search timeout", remaining[0].Error)

	total, done, err := s.CountPoints(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, 1, done)

	// Totals come from completed points only.
	found, saved, err := s.CompletedPointTotals(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 12, found)
	assert.Equal(t, 10, saved)
}

func TestSQLite_Points_DuplicatePlanRejected(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	taskID := createTestTask(t, s, nil)

	points := []grid.Point{{Seq: 1, Lat: 30.27, Lng: -97.74}}
	_, err := s.CreatePoints(ctx, taskID, points)
	require.NoError(t, err)

	_, err = s.CreatePoints(ctx, taskID, points)
	require.Error(t, err)
}

func TestSQLite_LeadAxes_Independent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	taskID := createTestTask(t, s, nil)
	leadID := createTestLead(t, s, taskID)

	lead, err := s.GetLead(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, model.RatingPending, lead.RatingStatus)
	assert.Equal(t, model.EnrichPending, lead.EnrichStatus)
	assert.Equal(t, model.CRMPending, lead.CRMSyncStatus)

	claimed, err := s.ClaimLeadForRating(ctx, leadID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses.
	claimed, err = s.ClaimLeadForRating(ctx, leadID)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, s.SetRatingResult(ctx, leadID, "qualified", "call within a week", "strong reviews"))

	// Enrichment failing does not touch the other axes.
	require.NoError(t, s.SetEnrichStatus(ctx, leadID, model.EnrichFailed, "no domain found"))

	claimed, err = s.ClaimLeadForCRM(ctx, leadID)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, s.SetCRMSynced(ctx, leadID, "sf-001"))

	lead, err = s.GetLead(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, model.RatingCompleted, lead.RatingStatus)
	assert.Equal(t, "qualified", lead.RatingLabel)
	assert.Equal(t, model.EnrichFailed, lead.EnrichStatus)
	assert.Equal(t, "no domain found", lead.EnrichError)
	assert.Equal(t, model.CRMSynced, lead.CRMSyncStatus)
	assert.Equal(t, "sf-001", lead.CRMID)
	assert.NotNil(t, lead.CRMSyncedAt)
}

func TestSQLite_Contacts_Append(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	taskID := createTestTask(t, s, nil)
	leadID := createTestLead(t, s, taskID)

	contacts := []model.Contact{
		{ID: uuid.New().String(), FirstName: "Dana", LastName: "Reyes", Email: "dana@acme.com", Position: "Owner", Source: "website"},
		{ID: uuid.New().String(), FirstName: "Lee", LastName: "Park", Email: "lee@acme.com", Source: "directory"},
	}
	require.NoError(t, s.AddContacts(ctx, leadID, contacts))
	require.NoError(t, s.SetLeadDomain(ctx, leadID, "acme.com"))

	lead, err := s.GetLead(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, "acme.com", lead.Domain)

	got, err := s.ListContacts(ctx, leadID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	emails := []string{got[0].Email, got[1].Email}
	assert.ElementsMatch(t, []string{"dana@acme.com", "lee@acme.com"}, emails)
	assert.Equal(t, leadID, got[0].LeadID)
}

func TestSQLite_Contacts_AssignsIDsWhenMissing(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	taskID := createTestTask(t, s, nil)
	leadID := createTestLead(t, s, taskID)

	// Enrichment hands over contacts without IDs; the store mints them.
	contacts := []model.Contact{
		{Email: "info@acme.com", Source: "website"},
		{Email: "sales@acme.com", Source: "website"},
	}
	require.NoError(t, s.AddContacts(ctx, leadID, contacts))

	got, err := s.ListContacts(ctx, leadID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.NotEmpty(t, got[1].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestSQLite_RearmLeads(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	taskID := createTestTask(t, s, nil)

	failedID := createTestLead(t, s, taskID)
	configID := createTestLead(t, s, taskID)
	okID := createTestLead(t, s, taskID)

	require.NoError(t, s.SetRatingStatus(ctx, failedID, model.RatingFailed, "model unavailable"))
	require.NoError(t, s.SetRatingStatus(ctx, configID, model.RatingPendingConfig, ""))
	require.NoError(t, s.SetRatingStatus(ctx, okID, model.RatingCompleted, ""))

	rearmed, err := s.RearmLeads(ctx, model.StageRating, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{failedID, configID}, rearmed)

	for _, id := range rearmed {
		lead, err := s.GetLead(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.RatingPending, lead.RatingStatus)
		assert.Empty(t, lead.RatingError)
	}

	// Completed leads stay untouched.
	lead, err := s.GetLead(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, model.RatingCompleted, lead.RatingStatus)
}

func TestSQLite_RearmLeads_ScopedByIDs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	taskID := createTestTask(t, s, nil)

	first := createTestLead(t, s, taskID)
	second := createTestLead(t, s, taskID)
	require.NoError(t, s.SetEnrichStatus(ctx, first, model.EnrichFailed, "timeout"))
	require.NoError(t, s.SetEnrichStatus(ctx, second, model.EnrichFailed, "timeout"))

	rearmed, err := s.RearmLeads(ctx, model.StageEnrich, []string{first})
	require.NoError(t, err)
	assert.Equal(t, []string{first}, rearmed)

	lead, err := s.GetLead(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichFailed, lead.EnrichStatus)
}

func TestSQLite_Places_UpsertAndLookup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	seeds := []grid.PlaceSeed{
		{Name: "Austin", Lat: 30.2672, Lng: -97.7431, RadiusKM: 30},
	}
	n, err := s.UpsertPlaces(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	area, err := s.LookupPlace(ctx, "  AUSTIN ")
	require.NoError(t, err)
	require.NotNil(t, area)
	assert.InDelta(t, 30.2672, area.Center.Lat, 1e-9)
	assert.InDelta(t, 30.0/111.0, area.RadiusDeg, 1e-9)

	area, err = s.LookupPlace(ctx, "atlantis")
	require.NoError(t, err)
	assert.Nil(t, area)
}
