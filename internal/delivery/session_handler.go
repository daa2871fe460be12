package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/go-chi/chi/v5"

	"github.com/Vovarama1992/voice_mimic/internal/journal"
	"github.com/Vovarama1992/voice_mimic/internal/session"
)

// SessionAdmin: то, что админскому API нужно от машины сессий.
type SessionAdmin interface {
	Session(userID int64) (session.Session, bool)
	Stats() map[session.State]int
	End(ctx context.Context, userID int64) bool
}

type SessionHandler struct {
	sessions SessionAdmin
	runs     journal.Reader
	log      *logger.ZapLogger
}

func NewSessionHandler(sessions SessionAdmin, runs journal.Reader, log *logger.ZapLogger) *SessionHandler {
	return &SessionHandler{sessions: sessions, runs: runs, log: log}
}

// GET /sessions
func (h *SessionHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]int)
	for state, n := range h.sessions.Stats() {
		out[state.String()] = n
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /sessions/{user_id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	s, found := h.sessions.Session(uid)
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DELETE /sessions/{user_id}
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if !h.sessions.End(r.Context(), uid) {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}
	h.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "session ended by admin: " + strconv.FormatInt(uid, 10),
		Service: "voice_mimic",
	})
	w.WriteHeader(http.StatusNoContent)
}

// GET /runs/{user_id}?limit=N
func (h *SessionHandler) Runs(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.runs.ListByUser(r.Context(), uid, limit)
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "error", Message: "list runs failed", Service: "voice_mimic", Error: err})
		http.Error(w, "db error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return 0, false
	}
	return uid, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
