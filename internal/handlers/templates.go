package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/chepyr/taskmaster/internal/models"
	"github.com/chepyr/taskmaster/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/base.layout.html"

type templateData struct {
	Title       string
	FormError   string
	FormData    map[string]string // values to put back into the form
	CurrentUser *models.User
	Tasks       []*models.Task
}

var functions = template.FuncMap{
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("02 Jan 2006, 15:04")
	},
}

// Templates holds one parsed set per page, each combined with the base layout.
type Templates struct {
	pages map[string]*template.Template
}

func LoadTemplates() (*Templates, error) {
	pageFiles, err := fs.Glob(templateFS, "templates/*.page.html")
	if err != nil {
		return nil, err
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, file := range pageFiles {
		ts, err := template.New("").Funcs(functions).ParseFS(templateFS, layoutFile, file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[path.Base(file)] = ts
	}
	return &Templates{pages: pages}, nil
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data *templateData) {
	if data == nil {
		data = &templateData{}
	}
	if data.CurrentUser == nil {
		data.CurrentUser, _ = session.UserFromContext(r.Context())
	}

	ts, ok := h.Templates.pages[page]
	if !ok {
		serverError(w, r, fmt.Errorf("template %s does not exist", page))
		return
	}

	// a failed render must not leave a half-written page
	buf := new(bytes.Buffer)
	if err := ts.ExecuteTemplate(buf, "base", data); err != nil {
		serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("Internal error on %s %s: %v", r.Method, r.URL.Path, err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
