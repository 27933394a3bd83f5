package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/chepyr/taskmaster/internal/auth"
	"github.com/chepyr/taskmaster/internal/session"
	"github.com/chepyr/taskmaster/internal/tasks"
	"github.com/gorilla/mux"
)

const tooManyAttempts = "Too many attempts. Please try again later."

// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, r, http.StatusOK, nil)
}

func (h *Handler) renderIndex(w http.ResponseWriter, r *http.Request, status int, data *templateData) {
	user, _ := session.UserFromContext(r.Context())
	list, err := h.Tasks.ListForOwner(r.Context(), user.ID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if data == nil {
		data = &templateData{}
	}
	data.Title = "My tasks"
	data.Tasks = list
	h.render(w, r, status, "index.page.html", data)
}

// POST /add
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	input := tasks.NewTask{
		Content:  r.PostFormValue("content"),
		DueDate:  r.PostFormValue("due_date"),
		Category: r.PostFormValue("category"),
	}

	task, err := h.Tasks.Create(r.Context(), user.ID, input)
	if err != nil {
		if isValidationError(err) {
			h.renderIndex(w, r, http.StatusBadRequest, &templateData{
				FormError: err.Error(),
				FormData: map[string]string{
					"content":  input.Content,
					"due_date": input.DueDate,
					"category": input.Category,
				},
			})
			return
		}
		serverError(w, r, err)
		return
	}

	h.WSHub.Broadcast(user.ID, EventTaskCreated, task.ID, task)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GET /complete/{id}
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	id, err := tasks.ParseID(mux.Vars(r)["id"])
	if err != nil {
		h.pageTaskError(w, r, err)
		return
	}

	task, err := h.Tasks.ToggleCompleted(r.Context(), id, user.ID)
	if err != nil {
		h.pageTaskError(w, r, err)
		return
	}
	h.WSHub.Broadcast(user.ID, EventTaskUpdated, task.ID, task)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GET /delete/{id}
func (h *Handler) DeleteTaskPage(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	id, err := tasks.ParseID(mux.Vars(r)["id"])
	if err != nil {
		h.pageTaskError(w, r, err)
		return
	}

	if err := h.Tasks.Delete(r.Context(), id, user.ID); err != nil {
		h.pageTaskError(w, r, err)
		return
	}
	h.WSHub.Broadcast(user.ID, EventTaskDeleted, id, nil)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Someone else's task sends the caller back to the list without a word.
func (h *Handler) pageTaskError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tasks.ErrForbidden):
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, tasks.ErrNotFound):
		http.NotFound(w, r)
	default:
		serverError(w, r, err)
	}
}

// GET /login
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "login.page.html", &templateData{Title: "Log in"})
}

// POST /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	formData := map[string]string{"username": username}

	if !h.RateLimiter.Allow(clientIP(r, h.TrustedProxies)) {
		h.render(w, r, http.StatusTooManyRequests, "login.page.html", &templateData{
			Title: "Log in", FormError: tooManyAttempts, FormData: formData,
		})
		return
	}

	user, err := h.Auth.Authenticate(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Printf("Failed login for username=%q from %s", username, clientIP(r, h.TrustedProxies))
			h.render(w, r, http.StatusUnauthorized, "login.page.html", &templateData{
				Title: "Log in", FormError: authMessage(err), FormData: formData,
			})
			return
		}
		serverError(w, r, err)
		return
	}

	if _, err := h.Sessions.Login(r.Context(), w, user); err != nil {
		serverError(w, r, err)
		return
	}
	log.Printf("Login successful: id=%s, username=%q", user.ID, user.Username)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GET /register
func (h *Handler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "register.page.html", &templateData{Title: "Register"})
}

// POST /register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	formData := map[string]string{"username": username}

	if !h.RateLimiter.Allow(clientIP(r, h.TrustedProxies)) {
		h.render(w, r, http.StatusTooManyRequests, "register.page.html", &templateData{
			Title: "Register", FormError: tooManyAttempts, FormData: formData,
		})
		return
	}

	user, err := h.Auth.Register(r.Context(), username, password)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, auth.ErrDuplicateUsername):
			status = http.StatusConflict
		case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		default:
			serverError(w, r, err)
			return
		}
		h.render(w, r, status, "register.page.html", &templateData{
			Title: "Register", FormError: authMessage(err), FormData: formData,
		})
		return
	}

	log.Printf("Registered user: id=%s, username=%q", user.ID, user.Username)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// authMessage turns credential store errors into form text.
func authMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrDuplicateUsername):
		return "Username already exists. Please choose a different one."
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "Invalid username or password"
	case errors.Is(err, auth.ErrInvalidUsername):
		return "Username must be 3-80 characters: letters, digits, '.', '_' or '-'"
	case errors.Is(err, auth.ErrInvalidPassword):
		return "Password must be between 4 and 72 characters long"
	default:
		return "Something went wrong. Please try again."
	}
}

// GET /logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Logout(r.Context(), w, r); err != nil {
		log.Printf("Failed to delete session: %v", err)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
