// Package admin exposes the collaborator-facing HTTP API: stats
// snapshots, the active connection list, session logs, force disconnect,
// and log cleanup. Access requires a bearer token supplied through the
// environment; when no token is configured the API is disabled rather
// than left open.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/strangr/chat-server/internal/core"
	"github.com/strangr/chat-server/internal/stats"
)

// MaxRetainedLogs is how many ended session records survive a cleanup.
const MaxRetainedLogs = 100

// Handler serves the admin API over the hub and the stats recorder.
type Handler struct {
	hub   *core.Hub
	stats *stats.Recorder
	token string
}

// NewHandler creates an admin handler. An empty token disables the API.
func NewHandler(hub *core.Hub, rec *stats.Recorder, token string) *Handler {
	return &Handler{hub: hub, stats: rec, token: token}
}

// Routes returns the admin API routes wrapped in authentication.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/stats", h.handleStats)
	mux.HandleFunc("GET /admin/connections", h.handleConnections)
	mux.HandleFunc("GET /admin/sessions", h.handleSessions)
	mux.HandleFunc("POST /admin/disconnect", h.handleDisconnect)
	mux.HandleFunc("POST /admin/cleanup", h.handleCleanup)
	return h.authenticate(mux)
}

// authenticate enforces the bearer token in constant time. With no token
// configured every request is refused with 503.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			http.Error(w, "admin api disabled: no token configured", http.StatusServiceUnavailable)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[admin] encode response: %v", err)
	}
}

// handleStats returns the aggregate counter snapshot.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.stats.Snapshot())
}

// handleConnections returns the active connection list.
func (h *Handler) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.hub.ListConnections())
}

// handleSessions returns retained session records, optionally filtered
// by ?date=YYYY-MM-DD.
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	var day time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}
	writeJSON(w, h.hub.ListSessions(day))
}

// handleDisconnect forcibly drops a connection through the same cleanup
// path as a real disconnect.
func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" {
		http.Error(w, "connection_id required", http.StatusBadRequest)
		return
	}

	log.Printf("[admin] force disconnect %s", req.ConnectionID)
	h.hub.ForceDisconnect(req.ConnectionID)
	writeJSON(w, map[string]string{"status": "disconnected"})
}

// handleCleanup trims old ended session records.
func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed := h.hub.TrimLogs(MaxRetainedLogs)
	log.Printf("[admin] log cleanup removed %d records", removed)
	writeJSON(w, map[string]int{"removed": removed})
}
