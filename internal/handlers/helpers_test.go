package handlers

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/chepyr/taskmaster/internal/auth"
	"github.com/chepyr/taskmaster/internal/db"
	"github.com/chepyr/taskmaster/internal/models"
	"github.com/chepyr/taskmaster/internal/session"
	"github.com/chepyr/taskmaster/internal/tasks"
	"github.com/google/uuid"
)

const testSecret = "super_secret_for_tests_32_bytes_long!!"

// newTestHandler wires the real services over an in-memory database.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	dialect, err := db.DialectFor("sqlite3")
	if err != nil {
		t.Fatalf("dialect: %v", err)
	}
	if err := db.Migrate(context.Background(), conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}

	authService := auth.NewService(db.NewUserRepository(conn, dialect))
	rl := NewRateLimiter(100, time.Minute)
	t.Cleanup(rl.Stop)

	return &Handler{
		Auth:        authService,
		Sessions:    session.NewManager(db.NewSessionRepository(conn, dialect), authService, testSecret, time.Hour, false),
		Tasks:       tasks.NewService(db.NewTaskRepository(conn, dialect)),
		RateLimiter: rl,
		WSHub:       NewWSHub(),
		Templates:   templates,
		DB:          conn,
	}
}

// registers username and returns the user with a live session cookie
func loginAs(t *testing.T, h *Handler, username string) (*models.User, *http.Cookie) {
	t.Helper()
	user, err := h.Auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("Register %s: %v", username, err)
	}
	rec := httptest.NewRecorder()
	if _, err := h.Sessions.Login(context.Background(), rec, user); err != nil {
		t.Fatalf("Login %s: %v", username, err)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return user, c
		}
	}
	t.Fatalf("no session cookie for %s", username)
	return nil, nil
}

func createTask(t *testing.T, h *Handler, owner uuid.UUID, content string) *models.Task {
	t.Helper()
	task, err := h.Tasks.Create(context.Background(), owner, tasks.NewTask{Content: content})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body io.Reader, cookie *http.Cookie, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func postForm(t *testing.T, handler http.Handler, target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, handler, http.MethodPost, target, strings.NewReader(form.Encode()), cookie, "application/x-www-form-urlencoded")
}

func sendJSONBody(t *testing.T, handler http.Handler, method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, handler, method, target, strings.NewReader(body), cookie, "application/json")
}
