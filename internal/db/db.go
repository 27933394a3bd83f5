package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate key")

func Connect(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

// Dialect carries the per-driver differences the repositories care about.
// Queries are written with $N placeholders, each used once and in order.
type Dialect struct {
	Driver        string
	TimestampType string
	InlineIndexes bool
}

func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return Dialect{Driver: driver, TimestampType: "TIMESTAMP"}, nil
	case "postgres":
		return Dialect{Driver: driver, TimestampType: "TIMESTAMP"}, nil
	case "mysql":
		return Dialect{Driver: driver, TimestampType: "DATETIME(6)", InlineIndexes: true}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

func (d Dialect) Rebind(query string) string {
	if d.Driver != "mysql" {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

// isUniqueViolation recognises unique-constraint errors from every supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	tasksIndex := ""
	if d.InlineIndexes {
		tasksIndex = ",\n  INDEX idx_tasks_owner_created (owner_id, created_at)"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
  id VARCHAR(36) PRIMARY KEY,
  username VARCHAR(80) NOT NULL UNIQUE,
  password_hash VARCHAR(255) NOT NULL,
  created_at %s NOT NULL
)`, d.TimestampType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasks (
  id VARCHAR(36) PRIMARY KEY,
  owner_id VARCHAR(36) NOT NULL,
  content VARCHAR(200) NOT NULL,
  due_date DATE NULL,
  category VARCHAR(50) NULL,
  completed BOOLEAN NOT NULL DEFAULT FALSE,
  created_at %s NOT NULL,
  FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE%s
)`, d.TimestampType, tasksIndex),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
  id VARCHAR(36) PRIMARY KEY,
  user_id VARCHAR(36) NOT NULL,
  expires_at %s NOT NULL,
  created_at %s NOT NULL,
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`, d.TimestampType, d.TimestampType),
	}
	if !d.InlineIndexes {
		statements = append(statements,
			`CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks(owner_id, created_at)`)
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
