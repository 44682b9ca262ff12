package handler

import (
	"net/http"

	"studyhub/internal/auth"
	"studyhub/internal/reminder"
)

type MeHandler struct {
	Reminders *reminder.Service
}

// Me returns the caller's id and how many of their reminders are still
// waiting to fire.
func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	pending := false
	rows, err := h.Reminders.List(r.Context(), uid, reminder.ListFilter{Notified: &pending, Limit: 200})
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":           uid,
		"pending_reminders": len(rows),
	})
}
