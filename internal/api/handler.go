package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"spendguard/internal/runner"
)

// ErrBusy is returned by a RunService when a run is already in progress.
var ErrBusy = errors.New("a run is already in progress")

// RunService starts runs in the background and keeps the last report.
type RunService interface {
	Start(users []string) error
	Last() (*runner.Report, bool)
}

type RunHandler struct {
	Runs RunService
}

func NewRunHandler(s RunService) *RunHandler {
	return &RunHandler{Runs: s}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Trigger starts a run. Users are taken from repeated ?user= parameters;
// none means every user.
func (h *RunHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var users []string
	for _, u := range r.URL.Query()["user"] {
		for _, part := range strings.Split(u, ",") {
			if part = strings.TrimSpace(part); part != "" {
				users = append(users, part)
			}
		}
	}

	err := h.Runs.Start(users)
	switch {
	case errors.Is(err, ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Msg("start run")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not start run"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "users": users})
}

func (h *RunHandler) Last(w http.ResponseWriter, _ *http.Request) {
	rep, ok := h.Runs.Last()
	if !ok || rep == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
