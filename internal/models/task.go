package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and form format of a task due date.
const DateLayout = "2006-01-02"

type Task struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Content   string
	DueDate   *time.Time // calendar date, midnight UTC
	Category  *string
	Completed bool
	CreatedAt time.Time
}

// DueDateString returns the due date as YYYY-MM-DD, or "" when unset.
func (t *Task) DueDateString() string {
	if t.DueDate == nil {
		return ""
	}
	return t.DueDate.Format(DateLayout)
}

func (t *Task) CategoryString() string {
	if t.Category == nil {
		return ""
	}
	return *t.Category
}
