package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/db"
	"github.com/sells-group/leadscout/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests to substitute
// pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS aggregate_tasks (
	id                  UUID PRIMARY KEY,
	name                TEXT NOT NULL,
	keywords            TEXT[] NOT NULL DEFAULT '{}',
	targets             TEXT[] NOT NULL DEFAULT '{}',
	total_sub_tasks     INT NOT NULL DEFAULT 0,
	completed_sub_tasks INT NOT NULL DEFAULT 0,
	failed_sub_tasks    INT NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'pending',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS tasks (
	id            UUID PRIMARY KEY,
	aggregate_id  UUID REFERENCES aggregate_tasks(id),
	query         TEXT NOT NULL,
	geo           JSONB,
	result_limit  INT NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	progress      INT NOT NULL DEFAULT 0,
	total_leads   INT NOT NULL DEFAULT 0,
	success_leads INT NOT NULL DEFAULT 0,
	failed_leads  INT NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_aggregate ON tasks(aggregate_id);

CREATE TABLE IF NOT EXISTS search_points (
	id            BIGSERIAL PRIMARY KEY,
	task_id       UUID NOT NULL REFERENCES tasks(id),
	lat           DOUBLE PRECISION NOT NULL,
	lng           DOUBLE PRECISION NOT NULL,
	seq           INT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	results_found INT NOT NULL DEFAULT 0,
	results_saved INT NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	UNIQUE (task_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_points_task_status ON search_points(task_id, status);

CREATE TABLE IF NOT EXISTS leads (
	id                UUID PRIMARY KEY,
	task_id           UUID NOT NULL REFERENCES tasks(id),
	name              TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	domain            TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	rating            DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count      INT NOT NULL DEFAULT 0,
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
	crm_synced_at     TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_task ON leads(task_id);
CREATE INDEX IF NOT EXISTS idx_leads_rating_status ON leads(rating_status);
CREATE INDEX IF NOT EXISTS idx_leads_enrich_status ON leads(enrich_status);
CREATE INDEX IF NOT EXISTS idx_leads_crm_status ON leads(crm_sync_status);

CREATE TABLE IF NOT EXISTS contacts (
	id         UUID PRIMARY KEY,
	lead_id    UUID NOT NULL REFERENCES leads(id),
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	position   TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contacts_lead ON contacts(lead_id);

CREATE TABLE IF NOT EXISTS geo_places (
	name       TEXT PRIMARY KEY,
	lat        DOUBLE PRECISION NOT NULL,
	lng        DOUBLE PRECISION NOT NULL,
	radius_deg DOUBLE PRECISION NOT NULL
);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const aggregateColumns = `id, name, keywords, targets, total_sub_tasks,
	completed_sub_tasks, failed_sub_tasks, status, created_at, updated_at, completed_at`

// CreateAggregate inserts a new aggregate task.
func (s *PostgresStore) CreateAggregate(ctx context.Context, agg *model.AggregateTask) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO aggregate_tasks (id, name, keywords, targets, total_sub_tasks, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		agg.ID, agg.Name, agg.Keywords, agg.Targets, agg.TotalSubTasks, string(agg.Status),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: create aggregate")
	}
	return nil
}

// GetAggregate fetches an aggregate task by id.
func (s *PostgresStore) GetAggregate(ctx context.Context, id string) (*model.AggregateTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+aggregateColumns+` FROM aggregate_tasks WHERE id = $1`, id)
	return scanAggregate(row)
}

// ListAggregates returns aggregate tasks, newest first.
func (s *PostgresStore) ListAggregates(ctx context.Context, limit, offset int) ([]model.AggregateTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+aggregateColumns+` FROM aggregate_tasks ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list aggregates")
	}
	defer rows.Close()

	var aggs []model.AggregateTask
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, *agg)
	}
	return aggs, rows.Err()
}

// CancelAggregate marks an aggregate task cancelled unless it is already
// terminal.
func (s *PostgresStore) CancelAggregate(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE aggregate_tasks SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: cancel aggregate %s", id)
	}
	return nil
}

// IncrementSubTask atomically bumps the completed or failed counter and
// returns the updated row, so the tracker can test the finalization
// invariant against a consistent snapshot.
func (s *PostgresStore) IncrementSubTask(ctx context.Context, id string, failed bool) (*model.AggregateTask, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE aggregate_tasks SET
			completed_sub_tasks = completed_sub_tasks + CASE WHEN $2 THEN 0 ELSE 1 END,
			failed_sub_tasks    = failed_sub_tasks + CASE WHEN $2 THEN 1 ELSE 0 END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+aggregateColumns, id, failed)
	return scanAggregate(row)
}

// FinalizeAggregate sets a terminal status with a compare-and-set: it applies
// only while the aggregate is non-terminal and the counters have reached the
// total, so concurrent finishers cannot double-finalize.
func (s *PostgresStore) FinalizeAggregate(ctx context.Context, id string, status model.TaskStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE aggregate_tasks SET status = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')
			AND completed_sub_tasks + failed_sub_tasks >= total_sub_tasks`,
		id, string(status))
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finalize aggregate %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func scanAggregate(row pgx.Row) (*model.AggregateTask, error) {
	var agg model.AggregateTask
	var status string
	err := row.Scan(&agg.ID, &agg.Name, &agg.Keywords, &agg.Targets, &agg.TotalSubTasks,
		&agg.CompletedSubTasks, &agg.FailedSubTasks, &status,
		&agg.CreatedAt, &agg.UpdatedAt, &agg.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan aggregate")
	}
	agg.Status = model.TaskStatus(status)
	return &agg, nil
}

const taskColumns = `id, aggregate_id, query, geo, result_limit, status, progress,
	total_leads, success_leads, failed_leads, error, created_at, updated_at, started_at, completed_at`

// CreateTasks inserts tasks in bulk.
func (s *PostgresStore) CreateTasks(ctx context.Context, tasks []model.Task) error {
	for i := range tasks {
		t := &tasks[i]
		geoJSON, err := marshalGeo(t.Geo)
		if err != nil {
			return err
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO tasks (id, aggregate_id, query, geo, result_limit, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.AggregateID, t.Query, geoJSON, t.Limit, string(t.Status))
		if err != nil {
			return eris.Wrapf(err, "postgres: create task %s", t.ID)
		}
	}
	return nil
}

// GetTask fetches a task by id.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// ListTasks returns tasks matching the filter, newest first.
func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if filter.AggregateID != "" {
		args = append(args, filter.AggregateID)
		query += ` AND aggregate_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ClaimTaskRunning transitions a task to running. Terminal tasks (notably
// cancelled ones) are not claimable.
func (s *PostgresStore) ClaimTaskRunning(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'running',
			started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim task %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeTask sets a terminal status, but only from running: a cancellation
// that raced ahead wins and the finalize is a no-op.
func (s *PostgresStore) FinalizeTask(ctx context.Context, id string, status model.TaskStatus, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, error = $3,
			progress = CASE WHEN $2 = 'completed' THEN 100 ELSE progress END,
			completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, string(status), errMsg)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finalize task %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelTask marks a task cancelled unless it is already terminal.
func (s *PostgresStore) CancelTask(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: cancel task %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateTaskProgress updates the progress percentage and lead counters.
func (s *PostgresStore) UpdateTaskProgress(ctx context.Context, id string, progress, total, success, failed int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tasks SET progress = $2, total_leads = $3, success_leads = $4,
			failed_leads = $5, updated_at = now()
		WHERE id = $1`,
		id, progress, total, success, failed)
	if err != nil {
		return eris.Wrapf(err, "postgres: update task progress %s", id)
	}
	return nil
}

// ListRunningTasks returns every task currently marked running. At startup,
// before any worker has claimed anything, these are the tasks orphaned by an
// unclean shutdown.
func (s *PostgresStore) ListRunningTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = 'running' ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list running tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	var status string
	var geoJSON []byte
	err := row.Scan(&t.ID, &t.AggregateID, &t.Query, &geoJSON, &t.Limit, &status,
		&t.Progress, &t.TotalLeads, &t.SuccessLeads, &t.FailedLeads, &t.Error,
		&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan task")
	}
	t.Status = model.TaskStatus(status)
	if len(geoJSON) > 0 {
		var geo model.GeoConfig
		if err := json.Unmarshal(geoJSON, &geo); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal task geo")
		}
		t.Geo = &geo
	}
	return &t, nil
}

func marshalGeo(geo *model.GeoConfig) ([]byte, error) {
	if geo == nil {
		return nil, nil
	}
	data, err := json.Marshal(geo)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal geo config")
	}
	return data, nil
}

