package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/vigil/pkg/types"
	"github.com/obsidianstack/vigil/server/internal/store"
)

const maxBodyBytes = 64 << 10

// Manager serves the operator API. It is mounted behind the manager token.
type Manager struct {
	store *store.Store
	mux   *http.ServeMux
	now   func() time.Time
}

// NewManager creates the manager API handler.
func NewManager(st *store.Store) http.Handler {
	m := &Manager{store: st, mux: http.NewServeMux(), now: time.Now}

	m.mux.HandleFunc("GET /manager/prober/alerts/ignored", m.getIgnored)
	m.mux.HandleFunc("PUT /manager/prober/alerts/ignored", m.putIgnored)
	m.mux.HandleFunc("DELETE /manager/prober/alerts/ignored", m.deleteIgnored)

	return m
}

func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}

// getIgnored returns the remaining reminder snooze.
func (m *Manager) getIgnored(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, m.ignored())
}

// putIgnored snoozes reminders for reminders_seconds from now.
func (m *Manager) putIgnored(w http.ResponseWriter, r *http.Request) {
	var req IgnoredRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RemindersSeconds == 0 {
		jsonErr(w, http.StatusBadRequest, "reminders_seconds must be positive")
		return
	}
	if req.RemindersSeconds > types.MaxSeconds {
		jsonErr(w, http.StatusBadRequest, "reminders_seconds out of range")
		return
	}

	until := m.now().Add(time.Duration(req.RemindersSeconds) * time.Second)
	m.store.IgnoreReminders(&until)
	slog.Info("manager: reminders snoozed", "until", until.UTC().Format(time.RFC3339))

	jsonResp(w, http.StatusOK, m.ignored())
}

// deleteIgnored lifts the snooze.
func (m *Manager) deleteIgnored(w http.ResponseWriter, r *http.Request) {
	m.store.IgnoreReminders(nil)
	slog.Info("manager: reminder snooze cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (m *Manager) ignored() IgnoredResponse {
	until := m.store.ReminderIgnoreUntil()
	if until == nil {
		return IgnoredResponse{}
	}
	left := until.Sub(m.now())
	if left <= 0 {
		return IgnoredResponse{}
	}
	return IgnoredResponse{
		RemindersSeconds: uint64(left.Round(time.Second) / time.Second),
		Until:            until.UTC().Format(time.RFC3339),
	}
}
