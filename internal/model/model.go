// Package model defines the core domain entities of the lead crawl pipeline.
package model

import (
	"time"
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`
}

// Rect is a geographic bounding rectangle.
type Rect struct {
	SW LatLng `json:"sw"`
	NE LatLng `json:"ne"`
}

// GeoConfig describes the search area of a task. Exactly one of Place,
// Center, or Rect is expected to be set; Step controls grid sampling density
// in coordinate degrees.
type GeoConfig struct {
	Place     string  `json:"place,omitempty"`
	Center    *LatLng `json:"center,omitempty"`
	RadiusDeg float64 `json:"radius_deg,omitempty"`
	Rect      *Rect   `json:"rect,omitempty"`
	StepDeg   float64 `json:"step_deg,omitempty"`
}

// AggregateTask is a user-initiated batch: the cross-product of keywords and
// geographic targets. Sub-task counters are mutated only by the aggregate
// tracker, which also finalizes the status exactly once.
type AggregateTask struct {
	ID                string     `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Keywords          []string   `json:"keywords" db:"keywords"`
	Targets           []string   `json:"targets" db:"targets"`
	TotalSubTasks     int        `json:"total_sub_tasks" db:"total_sub_tasks"`
	CompletedSubTasks int        `json:"completed_sub_tasks" db:"completed_sub_tasks"`
	FailedSubTasks    int        `json:"failed_sub_tasks" db:"failed_sub_tasks"`
	Status            TaskStatus `json:"status" db:"status"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Task is one crawl job: a single keyword bound to at most one geographic
// target. A task without a geo config runs as a single unbounded crawl.
type Task struct {
	ID           string     `json:"id" db:"id"`
	AggregateID  *string    `json:"aggregate_id,omitempty" db:"aggregate_id"`
	Query        string     `json:"query" db:"query"`
	Geo          *GeoConfig `json:"geo,omitempty" db:"geo"`
	Limit        int        `json:"limit" db:"result_limit"`
	Status       TaskStatus `json:"status" db:"status"`
	Progress     int        `json:"progress" db:"progress"`
	TotalLeads   int        `json:"total_leads" db:"total_leads"`
	SuccessLeads int        `json:"success_leads" db:"success_leads"`
	FailedLeads  int        `json:"failed_leads" db:"failed_leads"`
	Error        string     `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// SearchPoint is one grid cell belonging to exactly one task. Sequence
// numbers are unique and contiguous within a task and define the processing
// order; points are created in bulk at planning time and never re-planned,
// which is what makes resume safe.
type SearchPoint struct {
	ID           int64       `json:"id" db:"id"`
	TaskID       string      `json:"task_id" db:"task_id"`
	Lat          float64     `json:"lat" db:"lat"`
	Lng          float64     `json:"lng" db:"lng"`
	Seq          int         `json:"seq" db:"seq"`
	Status       PointStatus `json:"status" db:"status"`
	ResultsFound int         `json:"results_found" db:"results_found"`
	ResultsSaved int         `json:"results_saved" db:"results_saved"`
	Error        string      `json:"error,omitempty" db:"error"`
	StartedAt    *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// Lead is one discovered business record. The three post-crawl statuses are
// independent axes: a lead can be rated while its CRM sync is still pending.
type Lead struct {
	ID          string  `json:"id" db:"id"`
	TaskID      string  `json:"task_id" db:"task_id"`
	Name        string  `json:"name" db:"name"`
	Category    string  `json:"category,omitempty" db:"category"`
	Phone       string  `json:"phone,omitempty" db:"phone"`
	Website     string  `json:"website,omitempty" db:"website"`
	Domain      string  `json:"domain,omitempty" db:"domain"`
	Address     string  `json:"address,omitempty" db:"address"`
	City        string  `json:"city,omitempty" db:"city"`
	State       string  `json:"state,omitempty" db:"state"`
	Rating      float64 `json:"rating,omitempty" db:"rating"`
	ReviewCount int     `json:"review_count,omitempty" db:"review_count"`

	RatingStatus     RatingStatus `json:"rating_status" db:"rating_status"`
	RatingLabel      string       `json:"rating_label,omitempty" db:"rating_label"`
	RatingSuggestion string       `json:"rating_suggestion,omitempty" db:"rating_suggestion"`
	RatingReasoning  string       `json:"rating_reasoning,omitempty" db:"rating_reasoning"`
	RatingError      string       `json:"rating_error,omitempty" db:"rating_error"`

	EnrichStatus EnrichStatus `json:"enrich_status" db:"enrich_status"`
	EnrichError  string       `json:"enrich_error,omitempty" db:"enrich_error"`

	CRMSyncStatus CRMSyncStatus `json:"crm_sync_status" db:"crm_sync_status"`
	CRMID         string        `json:"crm_id,omitempty" db:"crm_id"`
	CRMSyncError  string        `json:"crm_sync_error,omitempty" db:"crm_sync_error"`
	CRMSyncedAt   *time.Time    `json:"crm_synced_at,omitempty" db:"crm_synced_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Contact is a person attached to a lead by enrichment. Contacts are
// append-only once written.
type Contact struct {
	ID        string    `json:"id" db:"id"`
	LeadID    string    `json:"lead_id" db:"lead_id"`
	FirstName string    `json:"first_name,omitempty" db:"first_name"`
	LastName  string    `json:"last_name,omitempty" db:"last_name"`
	Email     string    `json:"email,omitempty" db:"email"`
	Position  string    `json:"position,omitempty" db:"position"`
	Source    string    `json:"source,omitempty" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
