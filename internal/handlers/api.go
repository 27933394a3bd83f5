package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/chepyr/taskmaster/internal/models"
	"github.com/chepyr/taskmaster/internal/session"
	"github.com/chepyr/taskmaster/internal/tasks"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20 // 1MB

type taskResponse struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Completed bool      `json:"completed"`
	Category  *string   `json:"category"`
	DueDate   *string   `json:"due_date"`
}

func newTaskResponse(t *models.Task) taskResponse {
	resp := taskResponse{
		ID:        t.ID,
		Content:   t.Content,
		Completed: t.Completed,
		Category:  t.Category,
	}
	if t.DueDate != nil {
		d := t.DueDateString()
		resp.DueDate = &d
	}
	return resp
}

// optionalString tells an absent field, an explicit null and a value apart.
type optionalString struct {
	Set   bool
	Null  bool
	Value string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

type createTaskRequest struct {
	Content  string  `json:"content"`
	Category *string `json:"category"`
	DueDate  *string `json:"due_date"`
}

type updateTaskRequest struct {
	Content   optionalString `json:"content"`
	Completed *bool          `json:"completed"`
	Category  optionalString `json:"category"`
	DueDate   optionalString `json:"due_date"`
}

// patch translates the body into a task store patch. Null clears category
// and due date; empty strings leave them alone.
func (req updateTaskRequest) patch() tasks.Patch {
	p := tasks.Patch{Completed: req.Completed}
	if req.Content.Set && !req.Content.Null {
		p.Content = &req.Content.Value
	}
	if req.Category.Set {
		if req.Category.Null {
			p.ClearCategory = true
		} else {
			p.Category = &req.Category.Value
		}
	}
	if req.DueDate.Set {
		if req.DueDate.Null {
			p.ClearDueDate = true
		} else {
			p.DueDate = &req.DueDate.Value
		}
	}
	return p
}

// decodeJSON enforces the content type and body limit, then decodes into v.
// It writes the error response itself and reports whether decoding worked.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

/*
routes:
- GET /api/tasks
- POST /api/tasks
- GET /api/tasks/{id}
- PUT/PATCH /api/tasks/{id}
- DELETE /api/tasks/{id}
*/
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	list, err := h.Tasks.ListForOwner(r.Context(), user.ID)
	if err != nil {
		sendTaskError(w, r, err)
		return
	}

	resp := make([]taskResponse, 0, len(list))
	for _, t := range list {
		resp = append(resp, newTaskResponse(t))
	}
	sendJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	input := tasks.NewTask{Content: req.Content}
	if req.Category != nil {
		input.Category = *req.Category
	}
	if req.DueDate != nil {
		input.DueDate = *req.DueDate
	}
	task, err := h.Tasks.Create(r.Context(), user.ID, input)
	if err != nil {
		sendTaskError(w, r, err)
		return
	}

	h.WSHub.Broadcast(user.ID, EventTaskCreated, task.ID, task)
	w.Header().Set("Location", "/api/tasks/"+task.ID.String())
	sendJSON(w, http.StatusCreated, newTaskResponse(task))
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	id, err := tasks.ParseID(mux.Vars(r)["id"])
	if err != nil {
		sendTaskError(w, r, err)
		return
	}

	task, err := h.Tasks.GetOwned(r.Context(), id, user.ID)
	if err != nil {
		sendTaskError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, newTaskResponse(task))
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	id, err := tasks.ParseID(mux.Vars(r)["id"])
	if err != nil {
		sendTaskError(w, r, err)
		return
	}

	// ownership is checked before the body is read
	if _, err := h.Tasks.GetOwned(r.Context(), id, user.ID); err != nil {
		sendTaskError(w, r, err)
		return
	}

	var req updateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := h.Tasks.Update(r.Context(), id, user.ID, req.patch())
	if err != nil {
		sendTaskError(w, r, err)
		return
	}

	h.WSHub.Broadcast(user.ID, EventTaskUpdated, task.ID, task)
	sendJSON(w, http.StatusOK, newTaskResponse(task))
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	id, err := tasks.ParseID(mux.Vars(r)["id"])
	if err != nil {
		sendTaskError(w, r, err)
		return
	}

	if err := h.Tasks.Delete(r.Context(), id, user.ID); err != nil {
		sendTaskError(w, r, err)
		return
	}
	h.WSHub.Broadcast(user.ID, EventTaskDeleted, id, nil)
	w.WriteHeader(http.StatusNoContent)
}
