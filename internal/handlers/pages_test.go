package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/chepyr/taskmaster/internal/auth"
	"github.com/chepyr/taskmaster/internal/session"
	"github.com/google/uuid"
)

func TestPages_RequireLogin(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/"},
		{http.MethodPost, "/add"},
		{http.MethodGet, "/complete/" + uuid.NewString()},
		{http.MethodGet, "/delete/" + uuid.NewString()},
		{http.MethodGet, "/logout"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rr := doRequest(t, router, tt.method, tt.target, nil, nil, "")
			if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
				t.Errorf("Expected redirect to /login, got %d %q", rr.Code, rr.Header().Get("Location"))
			}
		})
	}
}

func TestRegisterAndLoginFlow(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()

	rr := doRequest(t, router, http.MethodGet, "/register", nil, nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `action="/register"`) {
		t.Fatalf("Expected register form, got %d", rr.Code)
	}

	rr = postForm(t, router, "/register", url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("Expected redirect to /login after register, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	rr = postForm(t, router, "/register", url.Values{"username": {"alice"}, "password": {"other1"}}, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status %d for duplicate, got %d", http.StatusConflict, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Username already exists") {
		t.Error("Expected duplicate username message")
	}

	rr = postForm(t, router, "/register", url.Values{"username": {"x"}, "password": {"secret1"}}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d for invalid username, got %d", http.StatusBadRequest, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Username must be 3-80 characters") {
		t.Error("Expected username rules in the form error")
	}

	rr = postForm(t, router, "/login", url.Values{"username": {"alice"}, "password": {"wrong"}}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d for wrong password, got %d", http.StatusUnauthorized, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Invalid username or password") {
		t.Error("Expected invalid credentials message")
	}

	rr = postForm(t, router, "/login", url.Values{"username": {"alice"}, "password": {"secret1"}}, nil)
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Fatalf("Expected redirect to / after login, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected session cookie after login")
	}

	rr = doRequest(t, router, http.MethodGet, "/", nil, cookie, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "alice") {
		t.Fatalf("Expected task list for alice, got %d", rr.Code)
	}

	// signed-in users are kept away from the guest forms
	rr = doRequest(t, router, http.MethodGet, "/login", nil, cookie, "")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Errorf("Expected redirect to / for signed-in user, got %d", rr.Code)
	}

	rr = doRequest(t, router, http.MethodGet, "/logout", nil, cookie, "")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login" {
		t.Fatalf("Expected redirect to /login after logout, got %d", rr.Code)
	}
	rr = doRequest(t, router, http.MethodGet, "/", nil, cookie, "")
	if rr.Code != http.StatusSeeOther {
		t.Errorf("Expected revoked cookie to be rejected, got %d", rr.Code)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	h := newTestHandler(t)
	h.RateLimiter = NewRateLimiter(2, time.Minute)
	t.Cleanup(h.RateLimiter.Stop)
	router := h.Routes()

	form := url.Values{"username": {"nobody"}, "password": {"whatever"}}
	for i := 0; i < 2; i++ {
		if rr := postForm(t, router, "/login", form, nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected %d, got %d", i+1, http.StatusUnauthorized, rr.Code)
		}
	}
	rr := postForm(t, router, "/login", form, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status %d, got %d", http.StatusTooManyRequests, rr.Code)
	}
}

func TestLogin_RateLimitIgnoresForwardedFor(t *testing.T) {
	h := newTestHandler(t)
	h.RateLimiter = NewRateLimiter(2, time.Minute)
	t.Cleanup(h.RateLimiter.Stop)
	router := h.Routes()

	form := url.Values{"username": {"nobody"}, "password": {"whatever"}}
	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.9.9.%d", i))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 18 {
		t.Errorf("Expected 18 of 20 attempts to be limited, got %d", limited)
	}
}

func TestLogin_RateLimitBehindTrustedProxy(t *testing.T) {
	h := newTestHandler(t)
	h.RateLimiter = NewRateLimiter(1, time.Minute)
	t.Cleanup(h.RateLimiter.Stop)
	h.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}
	router := h.Routes()

	form := url.Values{"username": {"nobody"}, "password": {"whatever"}}
	attempt := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", client)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := attempt("203.0.113.1"); code != http.StatusUnauthorized {
		t.Fatalf("Expected %d for first client, got %d", http.StatusUnauthorized, code)
	}
	if code := attempt("203.0.113.2"); code != http.StatusUnauthorized {
		t.Errorf("Expected a separate budget for a second client, got %d", code)
	}
	if code := attempt("203.0.113.1"); code != http.StatusTooManyRequests {
		t.Errorf("Expected %d for repeat client, got %d", http.StatusTooManyRequests, code)
	}
}

func TestIndex_ShowsOnlyOwnTasks(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()
	alice, aliceCookie := loginAs(t, h, "alice")
	bob, _ := loginAs(t, h, "bob")
	createTask(t, h, alice.ID, "Buy milk")
	createTask(t, h, bob.ID, "Walk the dog")

	rr := doRequest(t, router, http.MethodGet, "/", nil, aliceCookie, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Buy milk") {
		t.Error("Expected own task in the list")
	}
	if strings.Contains(body, "Walk the dog") {
		t.Error("Another user's task leaked into the list")
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Error("Expected task page to be marked no-store")
	}
}

func TestAddTask(t *testing.T) {
	tests := []struct {
		name           string
		form           url.Values
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "Valid task",
			form:           url.Values{"content": {"Buy milk"}, "due_date": {"2024-03-01"}, "category": {""}},
			expectedStatus: http.StatusSeeOther,
		},
		{
			name:           "Malformed date",
			form:           url.Values{"content": {"Buy milk"}, "due_date": {"03/01/2024"}},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "due date must be a valid date",
		},
		{
			name:           "Empty content",
			form:           url.Values{"content": {"  "}},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "content is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t)
			router := h.Routes()
			user, cookie := loginAs(t, h, "alice")

			rr := postForm(t, router, "/add", tt.form, cookie)
			if rr.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}

			list, err := h.Tasks.ListForOwner(context.Background(), user.ID)
			if err != nil {
				t.Fatalf("ListForOwner: %v", err)
			}
			if tt.expectedError != "" {
				if !strings.Contains(rr.Body.String(), tt.expectedError) {
					t.Errorf("Expected form error %q in page", tt.expectedError)
				}
				if len(list) != 0 {
					t.Errorf("Expected no task to be stored, got %d", len(list))
				}
				return
			}
			if len(list) != 1 {
				t.Fatalf("Expected 1 task, got %d", len(list))
			}
			task := list[0]
			if task.Content != "Buy milk" || task.Completed || task.Category != nil || task.DueDateString() != "2024-03-01" {
				t.Errorf("Unexpected task stored: %+v", task)
			}
		})
	}
}

func TestCompleteAndDeletePages(t *testing.T) {
	h := newTestHandler(t)
	router := h.Routes()
	alice, aliceCookie := loginAs(t, h, "alice")
	_, bobCookie := loginAs(t, h, "bob")
	task := createTask(t, h, alice.ID, "Buy milk")

	// someone else's task: silent redirect, nothing changes
	rr := doRequest(t, router, http.MethodGet, "/complete/"+task.ID.String(), nil, bobCookie, "")
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/" {
		t.Errorf("Expected redirect to / for non-owner, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
	rr = doRequest(t, router, http.MethodGet, "/delete/"+task.ID.String(), nil, bobCookie, "")
	if rr.Code != http.StatusSeeOther {
		t.Errorf("Expected redirect for non-owner delete, got %d", rr.Code)
	}
	stored, err := h.Tasks.Get(context.Background(), task.ID)
	if err != nil || stored.Completed {
		t.Fatalf("Non-owner changed the task: %+v, %v", stored, err)
	}

	rr = doRequest(t, router, http.MethodGet, "/complete/"+task.ID.String(), nil, aliceCookie, "")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("Expected redirect after complete, got %d", rr.Code)
	}
	if stored, _ := h.Tasks.Get(context.Background(), task.ID); !stored.Completed {
		t.Error("Expected task to be completed")
	}

	for _, target := range []string{"/complete/not-a-uuid", "/complete/" + uuid.NewString(), "/delete/" + uuid.NewString()} {
		if rr := doRequest(t, router, http.MethodGet, target, nil, aliceCookie, ""); rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected %d, got %d", target, http.StatusNotFound, rr.Code)
		}
	}

	rr = doRequest(t, router, http.MethodGet, "/delete/"+task.ID.String(), nil, aliceCookie, "")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("Expected redirect after delete, got %d", rr.Code)
	}
	if _, err := h.Tasks.Get(context.Background(), task.ID); err == nil {
		t.Error("Expected task to be gone")
	}
}

func TestAuthMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{auth.ErrDuplicateUsername, "Username already exists. Please choose a different one."},
		{fmt.Errorf("register: %w", auth.ErrInvalidCredentials), "Invalid username or password"},
		{auth.ErrInvalidPassword, "Password must be between 4 and 72 characters long"},
		{errors.New("disk full"), "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		if got := authMessage(tt.err); got != tt.want {
			t.Errorf("authMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
