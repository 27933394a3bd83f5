package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/chepyr/taskmaster/internal/models"
	"github.com/google/uuid"
)

// defines methods for session db operations
type SessionRepositoryInterface interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type SessionRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSessionRepository(db *sql.DB, dialect Dialect) *SessionRepository {
	return &SessionRepository{db: db, dialect: dialect}
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	query := `INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(
		ctx, r.dialect.Rebind(query), session.ID, session.UserID, session.ExpiresAt, session.CreatedAt)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = $1`
	session := &models.Session{}
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), id).Scan(
		&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Delete is idempotent: removing a missing session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), id)
	return err
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
