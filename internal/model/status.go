package model

// TaskStatus is the lifecycle status shared by tasks and aggregate tasks.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal statuses are never
// overwritten; in particular a cancelled task stays cancelled even if a
// still-running worker finishes afterward.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// PointStatus is the lifecycle status of a single search point.
type PointStatus string

const (
	PointPending   PointStatus = "pending"
	PointRunning   PointStatus = "running"
	PointCompleted PointStatus = "completed"
	PointFailed    PointStatus = "failed"
	PointSkipped   PointStatus = "skipped"
)

// RatingStatus tracks the AI scoring axis of a lead.
type RatingStatus string

const (
	RatingPending       RatingStatus = "pending"
	RatingProcessing    RatingStatus = "processing"
	RatingCompleted     RatingStatus = "completed"
	RatingFailed        RatingStatus = "failed"
	RatingPendingConfig RatingStatus = "pending_config"
	RatingSkipped       RatingStatus = "skipped"
)

// EnrichStatus tracks the contact enrichment axis of a lead.
type EnrichStatus string

const (
	EnrichPending  EnrichStatus = "pending"
	EnrichEnriched EnrichStatus = "enriched"
	EnrichFailed   EnrichStatus = "failed"
	EnrichSkipped  EnrichStatus = "skipped"
)

// CRMSyncStatus tracks the CRM sync axis of a lead.
type CRMSyncStatus string

const (
	CRMPending    CRMSyncStatus = "pending"
	CRMProcessing CRMSyncStatus = "processing"
	CRMSynced     CRMSyncStatus = "synced"
	CRMFailed     CRMSyncStatus = "failed"
)

// Stage identifies one of the three independent post-crawl pipeline axes.
type Stage string

const (
	StageRating  Stage = "rating"
	StageEnrich  Stage = "enrich"
	StageCRMSync Stage = "crm_sync"
)

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	switch s {
	case StageRating, StageEnrich, StageCRMSync:
		return true
	default:
		return false
	}
}
