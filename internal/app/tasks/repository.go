package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskboard/service/internal/contracts"
)

var ErrTaskNotFound = errors.New("task not found")

// ListFilter narrows, orders and pages the task listing.
type ListFilter struct {
	Status    string
	Priority  string
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, task contracts.Task) error
	Get(ctx context.Context, id string) (contracts.Task, error)
	Update(ctx context.Context, task contracts.Task) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]contracts.Task, int, error)
}

const createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  id text PRIMARY KEY,
  title text NOT NULL,
  description text,
  status text NOT NULL DEFAULT 'TODO',
  priority text NOT NULL DEFAULT 'MEDIUM',
  due_date timestamptz,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const insertTaskSQL = `
INSERT INTO tasks (id, title, description, status, priority, due_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const selectTaskSQL = `
SELECT id, title, description, status, priority, due_date, created_at, updated_at
FROM tasks
WHERE id = $1
`

const updateTaskSQL = `
UPDATE tasks
SET title = $2,
    description = $3,
    status = $4,
    priority = $5,
    due_date = $6,
    updated_at = $7
WHERE id = $1
`

const deleteTaskSQL = `DELETE FROM tasks WHERE id = $1`

// sortColumns whitelists list ordering to real columns.
var sortColumns = map[string]string{
	"title":     "title",
	"dueDate":   "due_date",
	"createdAt": "created_at",
	"priority":  "priority",
	"status":    "status",
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, createTasksTableSQL)
	return err
}

func (r *PostgresRepository) Create(ctx context.Context, task contracts.Task) error {
	_, err := r.Pool.Exec(ctx, insertTaskSQL,
		task.ID,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		task.DueDate,
		task.CreatedAt,
		task.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (contracts.Task, error) {
	var t contracts.Task
	err := r.Pool.QueryRow(ctx, selectTaskSQL, id).Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.DueDate,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.Task{}, ErrTaskNotFound
		}
		return contracts.Task{}, err
	}
	return t, nil
}

func (r *PostgresRepository) Update(ctx context.Context, task contracts.Task) error {
	tag, err := r.Pool.Exec(ctx, updateTaskSQL,
		task.ID,
		task.Title,
		task.Description,
		task.Status,
		task.Priority,
		task.DueDate,
		task.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.Pool.Exec(ctx, deleteTaskSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]contracts.Task, int, error) {
	where, args := buildListWhere(filter)

	var total int
	if err := r.Pool.QueryRow(ctx, "SELECT count(*) FROM tasks"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	order := sortColumns[filter.SortBy]
	if order == "" {
		order = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}

	query := fmt.Sprintf(
		`SELECT id, title, description, status, priority, due_date, created_at, updated_at
		 FROM tasks%s
		 ORDER BY %s %s
		 LIMIT $%d OFFSET $%d`,
		where, order, direction, len(args)+1, len(args)+2,
	)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := make([]contracts.Task, 0, limit)
	for rows.Next() {
		var t contracts.Task
		if err := rows.Scan(
			&t.ID,
			&t.Title,
			&t.Description,
			&t.Status,
			&t.Priority,
			&t.DueDate,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func buildListWhere(filter ListFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		clauses = append(clauses, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clauses = append(clauses, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
