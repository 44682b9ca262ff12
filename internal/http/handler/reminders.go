package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studyhub/internal/auth"
	"studyhub/internal/jobs"
	"studyhub/internal/reminder"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ReminderHandler struct {
	Svc  *reminder.Service
	Jobs jobs.Store
	Log  *zap.Logger
}

type reminderDTO struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Type       string     `json:"type"`
	DueAt      time.Time  `json:"due_at"`
	Notified   bool       `json:"notified"`
	NotifiedAt *time.Time `json:"notified_at"`
	Tags       []string   `json:"tags"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toReminderDTO(r *reminder.Reminder) reminderDTO {
	tags := []string(r.Tags)
	if tags == nil {
		tags = []string{}
	}
	return reminderDTO{
		ID:         r.ID,
		Title:      r.Title,
		Type:       string(r.Type),
		DueAt:      r.DueAt,
		Notified:   r.Notified,
		NotifiedAt: r.NotifiedAt,
		Tags:       tags,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type jobDTO struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	NextRunAt      *time.Time `json:"next_run_at"`
	LockedAt       *time.Time `json:"locked_at"`
	LastFinishedAt *time.Time `json:"last_finished_at"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"last_error"`
}

type createReminderReq struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	DueAt string `json:"due_at"` // RFC3339
}

type updateReminderReq struct {
	Title *string `json:"title"`
	Type  *string `json:"type"`
	DueAt *string `json:"due_at"` // RFC3339
}

func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createReminderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	due, err := time.Parse(time.RFC3339, strings.TrimSpace(req.DueAt))
	if err != nil {
		http.Error(w, "invalid due_at (RFC3339)", http.StatusBadRequest)
		return
	}

	rem, err := h.Svc.Create(r.Context(), uid, reminder.CreateInput{Title: req.Title, Type: req.Type, DueAt: due})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReminderDTO(rem))
}

func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	q := r.URL.Query()

	var f reminder.ListFilter
	if t := strings.TrimSpace(q.Get("type")); t != "" {
		typ, err := reminder.ParseType(t)
		if err != nil {
			http.Error(w, "invalid type", http.StatusBadRequest)
			return
		}
		f.Type = typ
	}
	f.Tag = strings.TrimSpace(strings.ToLower(q.Get("tag")))
	switch strings.TrimSpace(strings.ToLower(q.Get("notified"))) {
	case "true":
		v := true
		f.Notified = &v
	case "false":
		v := false
		f.Notified = &v
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > 200 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	rows, err := h.Svc.List(r.Context(), uid, f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]reminderDTO, 0, len(rows))
	for _, rem := range rows {
		out = append(out, toReminderDTO(rem))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *ReminderHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	rem, err := h.Svc.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReminderDTO(rem))
}

func (h *ReminderHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req updateReminderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	in := reminder.UpdateInput{Title: req.Title, Type: req.Type}
	if req.DueAt != nil {
		due, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.DueAt))
		if err != nil {
			http.Error(w, "invalid due_at (RFC3339)", http.StatusBadRequest)
			return
		}
		in.DueAt = &due
	}

	rem, err := h.Svc.Update(r.Context(), uid, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReminderDTO(rem))
}

func (h *ReminderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	if err := h.Svc.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs lists the scheduled jobs of one reminder, newest last.
func (h *ReminderHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	rem, err := h.Svc.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	list, err := h.Jobs.ListByReminder(r.Context(), rem.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]jobDTO, 0, len(list))
	for _, j := range list {
		out = append(out, jobDTO{
			ID:             j.ID,
			Kind:           string(j.Kind),
			NextRunAt:      j.NextRunAt,
			LockedAt:       j.LockedAt,
			LastFinishedAt: j.LastFinishedAt,
			Attempts:       j.Attempts,
			LastError:      j.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *ReminderHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, reminder.ErrInvalidType):
		http.Error(w, "invalid type", http.StatusBadRequest)
	case errors.Is(err, reminder.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
	case errors.Is(err, reminder.ErrStoreUnavailable), errors.Is(err, jobs.ErrStoreUnavailable):
		h.log().Error("store unavailable", zap.Error(err))
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		h.log().Error("reminder request failed", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func (h *ReminderHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
