// Package tasks is the task store: owner-scoped task records with validated
// input and ownership checks on every read-by-id and mutation.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chepyr/taskmaster/internal/db"
	"github.com/chepyr/taskmaster/internal/models"
	"github.com/google/uuid"
)

const (
	MaxContentLength  = 200
	MaxCategoryLength = 50
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrForbidden       = errors.New("task belongs to another user")
	ErrInvalidDate     = errors.New("due date must be a valid date in YYYY-MM-DD format")
	ErrEmptyContent    = errors.New("content is required")
	ErrContentTooLong  = fmt.Errorf("content too long (max %d chars)", MaxContentLength)
	ErrCategoryTooLong = fmt.Errorf("category too long (max %d chars)", MaxCategoryLength)
)

// NewTask carries raw create input as it arrives from a form or JSON body.
type NewTask struct {
	Content  string
	DueDate  string
	Category string
}

// Patch is a partial update. Nil fields are left alone, and so are empty
// DueDate and Category strings; the Clear flags remove a value.
type Patch struct {
	Content       *string
	Completed     *bool
	Category      *string
	DueDate       *string
	ClearCategory bool
	ClearDueDate  bool
}

type Service struct {
	repo db.TaskRepositoryInterface
	now  func() time.Time
}

func NewService(repo db.TaskRepositoryInterface) *Service {
	return &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// ParseID turns a path segment into a task id. Anything that is not a uuid
// cannot name a task, so it reports ErrNotFound.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrNotFound, raw)
	}
	return id, nil
}

// ParseDueDate parses a YYYY-MM-DD calendar date. An empty string means no date.
func ParseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return &d, nil
}

func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, in NewTask) (*models.Task, error) {
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	dueDate, err := ParseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}
	category, err := validateCategory(in.Category)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Content:   content,
		DueDate:   dueDate,
		Category:  category,
		Completed: false,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// GetOwned is Get followed by the ownership check.
func (s *Service) GetOwned(ctx context.Context, id, requesterID uuid.UUID) (*models.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return task, nil
}

// ListForOwner returns the owner's tasks, oldest first.
func (s *Service) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Task, error) {
	tasks, err := s.repo.ListByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *Service) ToggleCompleted(ctx context.Context, id, requesterID uuid.UUID) (*models.Task, error) {
	task, err := s.GetOwned(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	task.Completed = !task.Completed
	if err := s.save(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Service) Update(ctx context.Context, id, requesterID uuid.UUID, patch Patch) (*models.Task, error) {
	task, err := s.GetOwned(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}

	// validate everything before touching the record
	updated := *task
	if patch.Content != nil {
		content, err := validateContent(*patch.Content)
		if err != nil {
			return nil, err
		}
		updated.Content = content
	}
	if patch.Completed != nil {
		updated.Completed = *patch.Completed
	}
	switch {
	case patch.ClearCategory:
		updated.Category = nil
	case patch.Category != nil && strings.TrimSpace(*patch.Category) != "":
		category, err := validateCategory(*patch.Category)
		if err != nil {
			return nil, err
		}
		updated.Category = category
	}
	switch {
	case patch.ClearDueDate:
		updated.DueDate = nil
	case patch.DueDate != nil && strings.TrimSpace(*patch.DueDate) != "":
		dueDate, err := ParseDueDate(*patch.DueDate)
		if err != nil {
			return nil, err
		}
		updated.DueDate = dueDate
	}

	if err := s.save(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) Delete(ctx context.Context, id, requesterID uuid.UUID) error {
	if _, err := s.GetOwned(ctx, id, requesterID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *Service) save(ctx context.Context, task *models.Task) error {
	if err := s.repo.Update(ctx, task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	return nil
}

func validateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}

// empty input means no category
func validateCategory(raw string) (*string, error) {
	category := strings.TrimSpace(raw)
	if category == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(category) > MaxCategoryLength {
		return nil, ErrCategoryTooLong
	}
	return &category, nil
}
