package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/db"
	"github.com/sells-group/leadscout/internal/grid"
	"github.com/sells-group/leadscout/internal/model"
)

// CreatePoints bulk-inserts the planned grid for a task via COPY. The unique
// (task_id, seq) constraint makes a duplicate plan fail loudly instead of
// silently doubling the grid.
func (s *PostgresStore) CreatePoints(ctx context.Context, taskID string, points []grid.Point) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{taskID, p.Lat, p.Lng, p.Seq, string(model.PointPending)})
	}
	n, err := db.CopyFrom(ctx, s.pool, "search_points",
		[]string{"task_id", "lat", "lng", "seq", "status"}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: create points for task %s", taskID)
	}
	return n, nil
}

// HasPoints reports whether any points exist for the task, which is how a
// restarted run distinguishes resume from first planning.
func (s *PostgresStore) HasPoints(ctx context.Context, taskID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM search_points WHERE task_id = $1)`, taskID).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: has points for task %s", taskID)
	}
	return exists, nil
}

const pointColumns = `id, task_id, lat, lng, seq, status, results_found, results_saved,
	error, started_at, completed_at`

// PendingOrRetryablePoints returns the points a resumed run still has to
// visit, in grid order. Points caught mid-flight by a crash come back too.
func (s *PostgresStore) PendingOrRetryablePoints(ctx context.Context, taskID string) ([]model.SearchPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pointColumns+` FROM search_points
		WHERE task_id = $1 AND status IN ('pending', 'running', 'failed')
		ORDER BY seq`, taskID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: pending points for task %s", taskID)
	}
	defer rows.Close()

	var points []model.SearchPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, rows.Err()
}

// CountPoints returns total and completed point counts for progress reporting.
func (s *PostgresStore) CountPoints(ctx context.Context, taskID string) (total, done int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE status IN ('completed', 'skipped'))
		FROM search_points WHERE task_id = $1`, taskID).Scan(&total, &done)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: count points for task %s", taskID)
	}
	return total, done, nil
}

// MarkPointRunning records that extraction at the point has started.
func (s *PostgresStore) MarkPointRunning(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE search_points SET status = 'running', error = '', started_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark point %d running", id)
	}
	return nil
}

// CompletedPointTotals sums the result counts stored on completed points.
func (s *PostgresStore) CompletedPointTotals(ctx context.Context, taskID string) (found, saved int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(results_found), 0), COALESCE(SUM(results_saved), 0)
		FROM search_points WHERE task_id = $1 AND status = 'completed'`, taskID).Scan(&found, &saved)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: point totals for task %s", taskID)
	}
	return found, saved, nil
}

// MarkPointCompleted records a successful extraction with its result counts.
func (s *PostgresStore) MarkPointCompleted(ctx context.Context, id int64, found, saved int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE search_points SET status = 'completed', results_found = $2,
			results_saved = $3, completed_at = now()
		WHERE id = $1`, id, found, saved)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark point %d completed", id)
	}
	return nil
}

// MarkPointFailed records a failed extraction. Failed points stay eligible
// for retry on a later resume.
func (s *PostgresStore) MarkPointFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE search_points SET status = 'failed', error = $2, completed_at = now()
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark point %d failed", id)
	}
	return nil
}

// SkipRemainingPoints marks the task's non-terminal points skipped.
func (s *PostgresStore) SkipRemainingPoints(ctx context.Context, taskID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_points SET status = 'skipped', completed_at = now()
		WHERE task_id = $1 AND status IN ('pending', 'running', 'failed')`, taskID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: skip remaining points for task %s", taskID)
	}
	return tag.RowsAffected(), nil
}

func scanPoint(row pgx.Row) (*model.SearchPoint, error) {
	var p model.SearchPoint
	var status string
	err := row.Scan(&p.ID, &p.TaskID, &p.Lat, &p.Lng, &p.Seq, &status,
		&p.ResultsFound, &p.ResultsSaved, &p.Error, &p.StartedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan point")
	}
	p.Status = model.PointStatus(status)
	return &p, nil
}
