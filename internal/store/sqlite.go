package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadscout/internal/grid"
	"github.com/sells-group/leadscout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// single-machine alternative to Postgres; the atomicity guarantees of the
// claim and finalize calls hold the same way because each is one UPDATE.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS aggregate_tasks (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	keywords            TEXT NOT NULL DEFAULT '[]',
	targets             TEXT NOT NULL DEFAULT '[]',
	total_sub_tasks     INTEGER NOT NULL DEFAULT 0,
	completed_sub_tasks INTEGER NOT NULL DEFAULT 0,
	failed_sub_tasks    INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'pending',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at        DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	aggregate_id  TEXT REFERENCES aggregate_tasks(id),
	query         TEXT NOT NULL,
	geo           TEXT,
	result_limit  INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	progress      INTEGER NOT NULL DEFAULT 0,
	total_leads   INTEGER NOT NULL DEFAULT 0,
	success_leads INTEGER NOT NULL DEFAULT 0,
	failed_leads  INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at    DATETIME,
	completed_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_aggregate ON tasks(aggregate_id);

CREATE TABLE IF NOT EXISTS search_points (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL REFERENCES tasks(id),
	lat           REAL NOT NULL,
	lng           REAL NOT NULL,
	seq           INTEGER NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	results_found INTEGER NOT NULL DEFAULT 0,
	results_saved INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	started_at    DATETIME,
	completed_at  DATETIME,
	UNIQUE (task_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_points_task_status ON search_points(task_id, status);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	task_id           TEXT NOT NULL REFERENCES tasks(id),
	name              TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	domain            TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	rating            REAL NOT NULL DEFAULT 0,
	review_count      INTEGER NOT NULL DEFAULT 0,
	rating_status     TEXT NOT NULL DEFAULT 'pending',
	rating_label      TEXT NOT NULL DEFAULT '',
	rating_suggestion TEXT NOT NULL DEFAULT '',
	rating_reasoning  TEXT NOT NULL DEFAULT '',
	rating_error      TEXT NOT NULL DEFAULT '',
	enrich_status     TEXT NOT NULL DEFAULT 'pending',
	enrich_error      TEXT NOT NULL DEFAULT '',
	crm_sync_status   TEXT NOT NULL DEFAULT 'pending',
	crm_id            TEXT NOT NULL DEFAULT '',
	crm_sync_error    TEXT NOT NULL DEFAULT '',
	crm_synced_at     DATETIME,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_task ON leads(task_id);
CREATE INDEX IF NOT EXISTS idx_leads_rating_status ON leads(rating_status);
CREATE INDEX IF NOT EXISTS idx_leads_enrich_status ON leads(enrich_status);
CREATE INDEX IF NOT EXISTS idx_leads_crm_status ON leads(crm_sync_status);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	position   TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_contacts_lead ON contacts(lead_id);

CREATE TABLE IF NOT EXISTS geo_places (
	name       TEXT PRIMARY KEY,
	lat        REAL NOT NULL,
	lng        REAL NOT NULL,
	radius_deg REAL NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// --- aggregates ---

func (s *SQLiteStore) CreateAggregate(ctx context.Context, agg *model.AggregateTask) error {
	keywords, err := json.Marshal(agg.Keywords)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal keywords")
	}
	targets, err := json.Marshal(agg.Targets)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal targets")
	}
	ts := now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO aggregate_tasks (id, name, keywords, targets, total_sub_tasks, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agg.ID, agg.Name, string(keywords), string(targets), agg.TotalSubTasks,
		string(agg.Status), ts, ts)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert aggregate")
	}
	return nil
}

func (s *SQLiteStore) GetAggregate(ctx context.Context, id string) (*model.AggregateTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM aggregate_tasks WHERE id = ?`, id)
	return scanSQLiteAggregate(row)
}

func (s *SQLiteStore) ListAggregates(ctx context.Context, limit, offset int) ([]model.AggregateTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+aggregateColumns+` FROM aggregate_tasks ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list aggregates")
	}
	defer rows.Close()

	var aggs []model.AggregateTask
	for rows.Next() {
		agg, err := scanSQLiteAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, *agg)
	}
	return aggs, eris.Wrap(rows.Err(), "sqlite: list aggregates iterate")
}

func (s *SQLiteStore) CancelAggregate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE aggregate_tasks SET status = 'cancelled', completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, now(), now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cancel aggregate %s", id)
	}
	return nil
}

func (s *SQLiteStore) IncrementSubTask(ctx context.Context, id string, failed bool) (*model.AggregateTask, error) {
	completedDelta, failedDelta := 1, 0
	if failed {
		completedDelta, failedDelta = 0, 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE aggregate_tasks SET
			completed_sub_tasks = completed_sub_tasks + ?,
			failed_sub_tasks = failed_sub_tasks + ?,
			updated_at = ?
		WHERE id = ?`, completedDelta, failedDelta, now(), id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: increment sub task for %s", id)
	}
	if err := checkRowsAffected(res, "aggregate", id); err != nil {
		return nil, err
	}
	return s.GetAggregate(ctx, id)
}

func (s *SQLiteStore) FinalizeAggregate(ctx context.Context, id string, status model.TaskStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE aggregate_tasks SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')
			AND completed_sub_tasks + failed_sub_tasks >= total_sub_tasks`,
		string(status), now(), now(), id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finalize aggregate %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAggregate(row sqlScanner) (*model.AggregateTask, error) {
	var agg model.AggregateTask
	var status, keywords, targets string
	var completedAt sql.NullTime
	err := row.Scan(&agg.ID, &agg.Name, &keywords, &targets, &agg.TotalSubTasks,
		&agg.CompletedSubTasks, &agg.FailedSubTasks, &status,
		&agg.CreatedAt, &agg.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan aggregate")
	}
	agg.Status = model.TaskStatus(status)
	if completedAt.Valid {
		agg.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(keywords), &agg.Keywords); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
	}
	if err := json.Unmarshal([]byte(targets), &agg.Targets); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal targets")
	}
	return &agg, nil
}

// --- tasks ---

func (s *SQLiteStore) CreateTasks(ctx context.Context, tasks []model.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	ts := now()
	for i := range tasks {
		t := &tasks[i]
		geoJSON, err := marshalGeo(t.Geo)
		if err != nil {
			return err
		}
		var geo any
		if geoJSON != nil {
			geo = string(geoJSON)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, aggregate_id, query, geo, result_limit, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.AggregateID, t.Query, geo, t.Limit, string(t.Status), ts, ts)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert task %s", t.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tasks")
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanSQLiteTask(row)
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if filter.AggregateID != "" {
		query += ` AND aggregate_id = ?`
		args = append(args, filter.AggregateID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

func (s *SQLiteStore) ClaimTaskRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'running',
			started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, now(), now(), id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim task %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) FinalizeTask(ctx context.Context, id string, status model.TaskStatus, errMsg string) (bool, error) {
	progress := sql.NullInt64{}
	if status == model.TaskCompleted {
		progress = sql.NullInt64{Int64: 100, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ?,
			progress = COALESCE(?, progress),
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		string(status), errMsg, progress, now(), now(), id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finalize task %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CancelTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'cancelled', completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`, now(), now(), id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: cancel task %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: cancel task %s", id)
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpdateTaskProgress(ctx context.Context, id string, progress, total, success, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET progress = ?, total_leads = ?, success_leads = ?,
			failed_leads = ?, updated_at = ?
		WHERE id = ?`, progress, total, success, failed, now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update task progress %s", id)
	}
	return checkRowsAffected(res, "task", id)
}

func (s *SQLiteStore) ListRunningTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = 'running' ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list running tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list running tasks iterate")
}

func scanSQLiteTask(row sqlScanner) (*model.Task, error) {
	var t model.Task
	var status string
	var aggregateID sql.NullString
	var geoJSON sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&t.ID, &aggregateID, &t.Query, &geoJSON, &t.Limit, &status,
		&t.Progress, &t.TotalLeads, &t.SuccessLeads, &t.FailedLeads, &t.Error,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan task")
	}
	t.Status = model.TaskStatus(status)
	if aggregateID.Valid {
		t.AggregateID = &aggregateID.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if geoJSON.Valid && geoJSON.String != "" {
		var geo model.GeoConfig
		if err := json.Unmarshal([]byte(geoJSON.String), &geo); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal task geo")
		}
		t.Geo = &geo
	}
	return &t, nil
}

// --- search points ---

func (s *SQLiteStore) CreatePoints(ctx context.Context, taskID string, points []grid.Point) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO search_points (task_id, lat, lng, seq, status) VALUES (?, ?, ?, ?, 'pending')`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare point insert")
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, taskID, p.Lat, p.Lng, p.Seq); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert point %d for task %s", p.Seq, taskID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit points")
	}
	return int64(len(points)), nil
}

func (s *SQLiteStore) HasPoints(ctx context.Context, taskID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM search_points WHERE task_id = ?)`, taskID).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: has points for task %s", taskID)
	}
	return exists, nil
}

func (s *SQLiteStore) PendingOrRetryablePoints(ctx context.Context, taskID string) ([]model.SearchPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pointColumns+` FROM search_points
		WHERE task_id = ? AND status IN ('pending', 'running', 'failed')
		ORDER BY seq`, taskID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: pending points for task %s", taskID)
	}
	defer rows.Close()

	var points []model.SearchPoint
	for rows.Next() {
		p, err := scanSQLitePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: pending points iterate")
}

func (s *SQLiteStore) CountPoints(ctx context.Context, taskID string) (total, done int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT count(*),
			count(CASE WHEN status IN ('completed', 'skipped') THEN 1 END)
		FROM search_points WHERE task_id = ?`, taskID).Scan(&total, &done)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "sqlite: count points for task %s", taskID)
	}
	return total, done, nil
}

func (s *SQLiteStore) CompletedPointTotals(ctx context.Context, taskID string) (found, saved int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(results_found), 0), COALESCE(SUM(results_saved), 0)
		FROM search_points WHERE task_id = ? AND status = 'completed'`, taskID).Scan(&found, &saved)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "sqlite: point totals for task %s", taskID)
	}
	return found, saved, nil
}

func (s *SQLiteStore) MarkPointRunning(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE search_points SET status = 'running', error = '', started_at = ? WHERE id = ?`,
		now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark point %d running", id)
	}
	return nil
}

func (s *SQLiteStore) MarkPointCompleted(ctx context.Context, id int64, found, saved int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE search_points SET status = 'completed', results_found = ?, results_saved = ?,
			completed_at = ?
		WHERE id = ?`, found, saved, now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark point %d completed", id)
	}
	return nil
}

func (s *SQLiteStore) MarkPointFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE search_points SET status = 'failed', error = ?, completed_at = ? WHERE id = ?`,
		errMsg, now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark point %d failed", id)
	}
	return nil
}

func (s *SQLiteStore) SkipRemainingPoints(ctx context.Context, taskID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE search_points SET status = 'skipped', completed_at = ?
		WHERE task_id = ? AND status IN ('pending', 'running', 'failed')`, now(), taskID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: skip remaining points for task %s", taskID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

func scanSQLitePoint(row sqlScanner) (*model.SearchPoint, error) {
	var p model.SearchPoint
	var status string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&p.ID, &p.TaskID, &p.Lat, &p.Lng, &p.Seq, &status,
		&p.ResultsFound, &p.ResultsSaved, &p.Error, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan point")
	}
	p.Status = model.PointStatus(status)
	if startedAt.Valid {
		p.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return &p, nil
}

// --- leads ---

func (s *SQLiteStore) InsertLead(ctx context.Context, lead *model.Lead) error {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, task_id, name, category, phone, website, domain,
			address, city, state, rating, review_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.TaskID, lead.Name, lead.Category, lead.Phone, lead.Website,
		lead.Domain, lead.Address, lead.City, lead.State, lead.Rating, lead.ReviewCount,
		ts, ts)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert lead %s", lead.ID)
	}
	return nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	return scanSQLiteLead(row)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.RatingStatus != "" {
		query += ` AND rating_status = ?`
		args = append(args, string(filter.RatingStatus))
	}
	if filter.EnrichStatus != "" {
		query += ` AND enrich_status = ?`
		args = append(args, string(filter.EnrichStatus))
	}
	if filter.CRMSyncStatus != "" {
		query += ` AND crm_sync_status = ?`
		args = append(args, string(filter.CRMSyncStatus))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) ClaimLeadForRating(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET rating_status = 'processing', updated_at = ?
		WHERE id = ? AND rating_status = 'pending'`, now(), id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim lead %s for rating", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) SetRatingResult(ctx context.Context, id, label, suggestion, reasoning string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET rating_status = 'completed', rating_label = ?,
			rating_suggestion = ?, rating_reasoning = ?, rating_error = '', updated_at = ?
		WHERE id = ?`, label, suggestion, reasoning, now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set rating result for lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) SetRatingStatus(ctx context.Context, id string, status model.RatingStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET rating_status = ?, rating_error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set rating status for lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) SetLeadDomain(ctx context.Context, id, domain string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET domain = ?, updated_at = ? WHERE id = ?`, domain, now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set domain for lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) SetEnrichStatus(ctx context.Context, id string, status model.EnrichStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET enrich_status = ?, enrich_error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set enrich status for lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) AddContacts(ctx context.Context, leadID string, contacts []model.Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	for _, c := range contacts {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO contacts (id, lead_id, first_name, last_name, email, position, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, leadID, c.FirstName, c.LastName, c.Email, c.Position, c.Source, now())
		if err != nil {
			return eris.Wrapf(err, "sqlite: add contact to lead %s", leadID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit contacts")
}

func (s *SQLiteStore) ListContacts(ctx context.Context, leadID string) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, first_name, last_name, email, position, source, created_at
		FROM contacts WHERE lead_id = ? ORDER BY created_at`, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list contacts for lead %s", leadID)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.LeadID, &c.FirstName, &c.LastName,
			&c.Email, &c.Position, &c.Source, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

func (s *SQLiteStore) ClaimLeadForCRM(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET crm_sync_status = 'processing', updated_at = ?
		WHERE id = ? AND crm_sync_status = 'pending'`, now(), id)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim lead %s for crm sync", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) SetCRMSynced(ctx context.Context, id, crmID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET crm_sync_status = 'synced', crm_id = ?, crm_sync_error = '',
			crm_synced_at = ?, updated_at = ?
		WHERE id = ?`, crmID, now(), now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set crm synced for lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) SetCRMStatus(ctx context.Context, id string, status model.CRMSyncStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET crm_sync_status = ?, crm_sync_error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set crm status for lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) RearmLeads(ctx context.Context, stage model.Stage, ids []string) ([]string, error) {
	var selectQ, updateQ string
	switch stage {
	case model.StageRating:
		selectQ = `SELECT id FROM leads WHERE rating_status IN ('failed', 'pending_config')`
		updateQ = `UPDATE leads SET rating_status = 'pending', rating_error = '', updated_at = ? WHERE id = ?`
	case model.StageEnrich:
		selectQ = `SELECT id FROM leads WHERE enrich_status = 'failed'`
		updateQ = `UPDATE leads SET enrich_status = 'pending', enrich_error = '', updated_at = ? WHERE id = ?`
	case model.StageCRMSync:
		selectQ = `SELECT id FROM leads WHERE crm_sync_status = 'failed'`
		updateQ = `UPDATE leads SET crm_sync_status = 'pending', crm_sync_error = '', updated_at = ? WHERE id = ?`
	default:
		return nil, eris.Errorf("store: unknown stage %q", stage)
	}

	var args []any
	if len(ids) > 0 {
		selectQ += ` AND id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, selectQ, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: select %s leads to rearm", stage)
	}
	var rearmed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan rearm lead id")
		}
		rearmed = append(rearmed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: rearm iterate")
	}

	for _, id := range rearmed {
		if _, err := s.db.ExecContext(ctx, updateQ, now(), id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: rearm lead %s", id)
		}
	}
	return rearmed, nil
}

func scanSQLiteLead(row sqlScanner) (*model.Lead, error) {
	var l model.Lead
	var ratingStatus, enrichStatus, crmStatus string
	var crmSyncedAt sql.NullTime
	err := row.Scan(&l.ID, &l.TaskID, &l.Name, &l.Category, &l.Phone, &l.Website,
		&l.Domain, &l.Address, &l.City, &l.State, &l.Rating, &l.ReviewCount,
		&ratingStatus, &l.RatingLabel, &l.RatingSuggestion, &l.RatingReasoning, &l.RatingError,
		&enrichStatus, &l.EnrichError,
		&crmStatus, &l.CRMID, &l.CRMSyncError, &crmSyncedAt,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	l.RatingStatus = model.RatingStatus(ratingStatus)
	l.EnrichStatus = model.EnrichStatus(enrichStatus)
	l.CRMSyncStatus = model.CRMSyncStatus(crmStatus)
	if crmSyncedAt.Valid {
		l.CRMSyncedAt = &crmSyncedAt.Time
	}
	return &l, nil
}

// --- places ---

func (s *SQLiteStore) UpsertPlaces(ctx context.Context, seeds []grid.PlaceSeed) (int64, error) {
	var n int64
	for _, seed := range seeds {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO geo_places (name, lat, lng, radius_deg)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				lat = excluded.lat, lng = excluded.lng, radius_deg = excluded.radius_deg`,
			strings.ToLower(seed.Name), seed.Lat, seed.Lng, seed.RadiusDeg())
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert place %q", seed.Name)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, eris.Wrap(err, "sqlite: rows affected")
		}
		n += affected
	}
	return n, nil
}

func (s *SQLiteStore) LookupPlace(ctx context.Context, name string) (*grid.Area, error) {
	var area grid.Area
	err := s.db.QueryRowContext(ctx,
		`SELECT lat, lng, radius_deg FROM geo_places WHERE name = ?`,
		strings.ToLower(strings.TrimSpace(name))).
		Scan(&area.Center.Lat, &area.Center.Lng, &area.RadiusDeg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lookup place %q", name)
	}
	return &area, nil
}
