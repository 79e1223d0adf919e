// Package store persists aggregate tasks, tasks, search points, and leads.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/grid"
	"github.com/sells-group/leadscout/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	AggregateID string           `json:"aggregate_id,omitempty"`
	Status      model.TaskStatus `json:"status,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Offset      int              `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for status-filtered lead queries.
type LeadFilter struct {
	TaskID        string              `json:"task_id,omitempty"`
	RatingStatus  model.RatingStatus  `json:"rating_status,omitempty"`
	EnrichStatus  model.EnrichStatus  `json:"enrich_status,omitempty"`
	CRMSyncStatus model.CRMSyncStatus `json:"crm_sync_status,omitempty"`
	Limit         int                 `json:"limit,omitempty"`
	Offset        int                 `json:"offset,omitempty"`
}

// AggregateStore persists aggregate tasks. Counter mutation and finalization
// are split into two race-safe primitives the aggregate tracker composes:
// IncrementSubTask is a single atomic UPDATE, and FinalizeAggregate is a
// compare-and-set that applies at most once.
type AggregateStore interface {
	CreateAggregate(ctx context.Context, agg *model.AggregateTask) error
	GetAggregate(ctx context.Context, id string) (*model.AggregateTask, error)
	ListAggregates(ctx context.Context, limit, offset int) ([]model.AggregateTask, error)
	CancelAggregate(ctx context.Context, id string) error
	IncrementSubTask(ctx context.Context, id string, failed bool) (*model.AggregateTask, error)
	FinalizeAggregate(ctx context.Context, id string, status model.TaskStatus) (bool, error)
}

// TaskStore persists crawl tasks.
type TaskStore interface {
	CreateTasks(ctx context.Context, tasks []model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)
	// ClaimTaskRunning transitions a task to running. It returns false when
	// the task is already terminal (in particular cancelled), in which case
	// the caller must not execute it.
	ClaimTaskRunning(ctx context.Context, id string) (bool, error)
	// FinalizeTask sets a terminal status, guarded so a still-running worker
	// can never overwrite a cancellation. Returns whether the write applied.
	FinalizeTask(ctx context.Context, id string, status model.TaskStatus, errMsg string) (bool, error)
	// CancelTask marks a non-terminal task cancelled. It reports whether the
	// cancel applied, so callers can tell a real cancellation from a no-op on
	// an already-terminal task.
	CancelTask(ctx context.Context, id string) (bool, error)
	UpdateTaskProgress(ctx context.Context, id string, progress, total, success, failed int) error
	ListRunningTasks(ctx context.Context) ([]model.Task, error)
}

// PointStore persists the planned search grid of each task. Completed points
// are durable, so PendingOrRetryablePoints is the whole resume cursor: a
// restarted orchestrator re-derives where it left off from this predicate
// alone.
type PointStore interface {
	// CreatePoints persists a task's planned grid. Planning happens exactly
	// once per task; callers must check HasPoints before planning.
	CreatePoints(ctx context.Context, taskID string, points []grid.Point) (int64, error)
	HasPoints(ctx context.Context, taskID string) (bool, error)
	PendingOrRetryablePoints(ctx context.Context, taskID string) ([]model.SearchPoint, error)
	CountPoints(ctx context.Context, taskID string) (total, done int, err error)
	// CompletedPointTotals sums the result counts stored on completed points,
	// so a resumed run continues the task's lifetime counters instead of
	// restarting them at zero.
	CompletedPointTotals(ctx context.Context, taskID string) (found, saved int, err error)
	MarkPointRunning(ctx context.Context, id int64) error
	MarkPointCompleted(ctx context.Context, id int64, found, saved int) error
	MarkPointFailed(ctx context.Context, id int64, errMsg string) error
	// SkipRemainingPoints marks every non-terminal point of the task skipped,
	// used when the result limit is reached before the grid is exhausted.
	SkipRemainingPoints(ctx context.Context, taskID string) (int64, error)
}

// LeadStore persists leads, their three independent status axes, and their
// contacts.
type LeadStore interface {
	InsertLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// ClaimLeadForRating transitions rating_status pending → processing.
	ClaimLeadForRating(ctx context.Context, id string) (bool, error)
	SetRatingResult(ctx context.Context, id, label, suggestion, reasoning string) error
	SetRatingStatus(ctx context.Context, id string, status model.RatingStatus, errMsg string) error

	SetLeadDomain(ctx context.Context, id, domain string) error
	SetEnrichStatus(ctx context.Context, id string, status model.EnrichStatus, errMsg string) error
	AddContacts(ctx context.Context, leadID string, contacts []model.Contact) error
	ListContacts(ctx context.Context, leadID string) ([]model.Contact, error)

	// ClaimLeadForCRM transitions crm_sync_status pending → processing.
	ClaimLeadForCRM(ctx context.Context, id string) (bool, error)
	SetCRMSynced(ctx context.Context, id, crmID string) error
	SetCRMStatus(ctx context.Context, id string, status model.CRMSyncStatus, errMsg string) error

	// RearmLeads moves failed (and, for the rating stage, pending_config)
	// leads back to pending for the given stage. An empty id list re-arms
	// every eligible lead. Returns the ids of the re-armed leads so they can
	// be re-enqueued.
	RearmLeads(ctx context.Context, stage model.Stage, ids []string) ([]string, error)
}

// PlaceStore is the geographic reference table of named places.
type PlaceStore interface {
	UpsertPlaces(ctx context.Context, seeds []grid.PlaceSeed) (int64, error)
	LookupPlace(ctx context.Context, name string) (*grid.Area, error)
}

// Store is the full persistence interface.
type Store interface {
	AggregateStore
	TaskStore
	PointStore
	LeadStore
	PlaceStore

	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
