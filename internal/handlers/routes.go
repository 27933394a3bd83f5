package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Routes builds the route table. Pages and API share the session guard;
// CORS is applied only when origins are configured.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// JSON API
	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.Sessions.RequireAPI)
	api.HandleFunc("/tasks", h.ListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", h.CreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", h.GetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", h.UpdateTask).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/tasks/{id}", h.DeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)

	// login and register are for anonymous visitors only
	guest := r.NewRoute().Subrouter()
	guest.Use(h.Sessions.RequireGuest)
	guest.HandleFunc("/login", h.LoginPage).Methods(http.MethodGet)
	guest.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	guest.HandleFunc("/register", h.RegisterPage).Methods(http.MethodGet)
	guest.HandleFunc("/register", h.Register).Methods(http.MethodPost)

	pages := r.NewRoute().Subrouter()
	pages.Use(h.Sessions.RequirePage)
	pages.HandleFunc("/", h.Index).Methods(http.MethodGet)
	pages.HandleFunc("/add", h.AddTask).Methods(http.MethodPost)
	pages.HandleFunc("/complete/{id}", h.CompleteTask).Methods(http.MethodGet)
	pages.HandleFunc("/delete/{id}", h.DeleteTaskPage).Methods(http.MethodGet)
	pages.HandleFunc("/logout", h.Logout).Methods(http.MethodGet)

	handler := RequestIDMiddleware(r)
	if len(h.AllowedOrigins) == 0 {
		return handler
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   h.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeaderName},
		ExposedHeaders:   []string{"Location", requestIDHeaderName},
		AllowCredentials: true,
	})
	return c.Handler(handler)
}
