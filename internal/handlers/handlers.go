package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/chepyr/taskmaster/internal/auth"
	"github.com/chepyr/taskmaster/internal/session"
	"github.com/chepyr/taskmaster/internal/tasks"
)

// Pinger reports whether the storage engine is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	Auth           *auth.Service
	Sessions       *session.Manager
	Tasks          *tasks.Service
	RateLimiter    *RateLimiter
	WSHub          *WSHub
	Templates      *Templates
	DB             Pinger
	AllowedOrigins []string
	TrustedProxies []netip.Prefix
}

type errorResponse struct {
	Message string `json:"message"`
}

func sendError(w http.ResponseWriter, message string, status int) {
	sendJSON(w, status, errorResponse{Message: message})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// sendTaskError maps task store errors onto API responses.
func sendTaskError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		sendError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, tasks.ErrForbidden):
		sendError(w, "Unauthorized", http.StatusForbidden)
	case isValidationError(err):
		sendError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("Internal error on %s %s: %v", r.Method, r.URL.Path, err)
		sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, tasks.ErrEmptyContent) ||
		errors.Is(err, tasks.ErrContentTooLong) ||
		errors.Is(err, tasks.ErrCategoryTooLong) ||
		errors.Is(err, tasks.ErrInvalidDate)
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(strings.ToLower(ct), "application/json")
}

// clientIP returns the peer address. X-Forwarded-For is only consulted when
// the peer is a trusted proxy; the hops are then walked from the right and the
// first address outside the trusted ranges wins.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isTrustedProxy(host, trusted) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			// garbage from the client side of the chain
			break
		}
		host = hop
		if !isTrustedProxy(hop, trusted) {
			break
		}
	}
	return host
}

func isTrustedProxy(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// checkOrigin accepts requests without an Origin header, same-host origins,
// and any origin on the allow list.
func checkOrigin(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if strings.EqualFold(strings.TrimSpace(o), origin) {
			return true
		}
	}
	_, host, ok := strings.Cut(origin, "://")
	return ok && strings.EqualFold(host, r.Host)
}

// Health reports liveness together with database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.PingContext(ctx); err != nil {
		log.Printf("Health check failed: %v", err)
		sendJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
