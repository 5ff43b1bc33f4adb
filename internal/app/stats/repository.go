package stats

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrStatisticsNotFound = errors.New("statistics not found")

// singletonID addresses the one aggregate row.
const singletonID = "singleton"

// Statistics is the singleton aggregate record.
type Statistics struct {
	TotalTasks      int       `json:"totalTasks"`
	TodoTasks       int       `json:"todoTasks"`
	InProgressTasks int       `json:"inProgressTasks"`
	DoneTasks       int       `json:"doneTasks"`
	LowPriority     int       `json:"lowPriority"`
	MediumPriority  int       `json:"mediumPriority"`
	HighPriority    int       `json:"highPriority"`
	CreatedToday    int       `json:"createdToday"`
	CompletedToday  int       `json:"completedToday"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// Repository is the persistence port of the statistics consumer and the
// statistics read API.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	// EnsureStatistics creates the zeroed singleton row when absent.
	// Reports whether this call created it.
	EnsureStatistics(ctx context.Context, now time.Time) (bool, error)
	Statistics(ctx context.Context) (Statistics, error)
	// Apply records the event in the idempotency ledger and, if this
	// delivery is the first, applies the delta in the same transaction.
	// Reports whether the delta was applied.
	Apply(ctx context.Context, eventID string, delta Delta, now time.Time) (bool, error)
	ResetDailyCounters(ctx context.Context, now time.Time) error
	// Recompute rebuilds every counter from the authoritative task store
	// and zeroes the daily counters. Test and debug use only.
	Recompute(ctx context.Context, now time.Time) (Statistics, error)
}

const createStatisticsTableSQL = `
CREATE TABLE IF NOT EXISTS task_statistics (
  id text PRIMARY KEY,
  total_tasks integer NOT NULL DEFAULT 0,
  todo_tasks integer NOT NULL DEFAULT 0,
  in_progress_tasks integer NOT NULL DEFAULT 0,
  done_tasks integer NOT NULL DEFAULT 0,
  low_priority integer NOT NULL DEFAULT 0,
  medium_priority integer NOT NULL DEFAULT 0,
  high_priority integer NOT NULL DEFAULT 0,
  created_today integer NOT NULL DEFAULT 0,
  completed_today integer NOT NULL DEFAULT 0,
  last_updated timestamptz NOT NULL DEFAULT now()
)`

const createAppliedEventsTableSQL = `
CREATE TABLE IF NOT EXISTS statistics_applied_events (
  event_id text PRIMARY KEY,
  applied_at timestamptz NOT NULL DEFAULT now()
)`

const insertStatisticsSQL = `
INSERT INTO task_statistics (id, last_updated)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING
`

const selectStatisticsSQL = `
SELECT total_tasks, todo_tasks, in_progress_tasks, done_tasks,
       low_priority, medium_priority, high_priority,
       created_today, completed_today, last_updated
FROM task_statistics
WHERE id = $1
`

const insertAppliedEventSQL = `
INSERT INTO statistics_applied_events (event_id)
VALUES ($1)
ON CONFLICT (event_id) DO NOTHING
`

const applyDeltaSQL = `
UPDATE task_statistics
SET total_tasks = total_tasks + $2,
    todo_tasks = todo_tasks + $3,
    in_progress_tasks = in_progress_tasks + $4,
    done_tasks = done_tasks + $5,
    low_priority = low_priority + $6,
    medium_priority = medium_priority + $7,
    high_priority = high_priority + $8,
    created_today = created_today + $9,
    completed_today = completed_today + $10,
    last_updated = $11
WHERE id = $1
`

const resetDailyCountersSQL = `
UPDATE task_statistics
SET created_today = 0,
    completed_today = 0,
    last_updated = $2
WHERE id = $1
`

const countTasksSQL = `
SELECT count(*),
       count(*) FILTER (WHERE status = 'TODO'),
       count(*) FILTER (WHERE status = 'IN_PROGRESS'),
       count(*) FILTER (WHERE status = 'DONE'),
       count(*) FILTER (WHERE priority = 'LOW'),
       count(*) FILTER (WHERE priority = 'MEDIUM'),
       count(*) FILTER (WHERE priority = 'HIGH')
FROM tasks
`

const recomputeStatisticsSQL = `
UPDATE task_statistics
SET total_tasks = $2,
    todo_tasks = $3,
    in_progress_tasks = $4,
    done_tasks = $5,
    low_priority = $6,
    medium_priority = $7,
    high_priority = $8,
    created_today = 0,
    completed_today = 0,
    last_updated = $9
WHERE id = $1
`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createStatisticsTableSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createAppliedEventsTableSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) EnsureStatistics(ctx context.Context, now time.Time) (bool, error) {
	tag, err := r.Pool.Exec(ctx, insertStatisticsSQL, singletonID, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) Statistics(ctx context.Context) (Statistics, error) {
	var s Statistics
	err := r.Pool.QueryRow(ctx, selectStatisticsSQL, singletonID).Scan(
		&s.TotalTasks,
		&s.TodoTasks,
		&s.InProgressTasks,
		&s.DoneTasks,
		&s.LowPriority,
		&s.MediumPriority,
		&s.HighPriority,
		&s.CreatedToday,
		&s.CompletedToday,
		&s.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Statistics{}, ErrStatisticsNotFound
		}
		return Statistics{}, err
	}
	return s, nil
}

func (r *PostgresRepository) Apply(ctx context.Context, eventID string, delta Delta, now time.Time) (bool, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertAppliedEventSQL, eventID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Redelivery of an already-applied event.
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, applyDeltaSQL,
		singletonID,
		delta.TotalTasks,
		delta.TodoTasks,
		delta.InProgressTasks,
		delta.DoneTasks,
		delta.LowPriority,
		delta.MediumPriority,
		delta.HighPriority,
		delta.CreatedToday,
		delta.CompletedToday,
		now,
	); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (r *PostgresRepository) ResetDailyCounters(ctx context.Context, now time.Time) error {
	_, err := r.Pool.Exec(ctx, resetDailyCountersSQL, singletonID, now)
	return err
}

func (r *PostgresRepository) Recompute(ctx context.Context, now time.Time) (Statistics, error) {
	var s Statistics
	err := r.Pool.QueryRow(ctx, countTasksSQL).Scan(
		&s.TotalTasks,
		&s.TodoTasks,
		&s.InProgressTasks,
		&s.DoneTasks,
		&s.LowPriority,
		&s.MediumPriority,
		&s.HighPriority,
	)
	if err != nil {
		return Statistics{}, err
	}

	if _, err := r.Pool.Exec(ctx, recomputeStatisticsSQL,
		singletonID,
		s.TotalTasks,
		s.TodoTasks,
		s.InProgressTasks,
		s.DoneTasks,
		s.LowPriority,
		s.MediumPriority,
		s.HighPriority,
		now,
	); err != nil {
		return Statistics{}, err
	}

	s.LastUpdated = now
	return s, nil
}
