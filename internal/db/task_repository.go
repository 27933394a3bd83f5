package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chepyr/taskmaster/internal/models"
	"github.com/google/uuid"
)

// defines methods for task db operations
type TaskRepositoryInterface interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type TaskRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewTaskRepository(db *sql.DB, dialect Dialect) *TaskRepository {
	return &TaskRepository{db: db, dialect: dialect}
}

const taskColumns = `id, owner_id, content, due_date, category, completed, created_at`

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `)
	 VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(
		ctx, r.dialect.Rebind(query), task.ID, task.OwnerID, task.Content,
		nullDate(task.DueDate), nullString(task.Category), task.Completed, task.CreatedAt)
	return err
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), id))
}

func (r *TaskRepository) ListByOwnerID(ctx context.Context, ownerID uuid.UUID) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + `
	 FROM tasks WHERE owner_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Update persists the mutable fields. Owner and creation time never change.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), task.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("task with id %s does not exist: %w", task.ID, sql.ErrNoRows)
	}

	query = `UPDATE tasks SET content = $1, due_date = $2, category = $3, completed = $4 WHERE id = $5`
	_, err = r.db.ExecContext(
		ctx, r.dialect.Rebind(query), task.Content, nullDate(task.DueDate),
		nullString(task.Category), task.Completed, task.ID)
	return err
}

func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM tasks WHERE id = $1`
	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task with id %s does not exist: %w", id, sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var dueDate sql.NullTime
	var category sql.NullString
	err := row.Scan(
		&task.ID, &task.OwnerID, &task.Content, &dueDate, &category,
		&task.Completed, &task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dueDate.Valid {
		y, m, d := dueDate.Time.Date()
		due := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		task.DueDate = &due
	}
	if category.Valid {
		task.Category = &category.String
	}
	return task, nil
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
