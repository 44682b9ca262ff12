package handler

import (
	"context"
	"net/http"

	"studyhub/internal/scheduler"

	"go.uber.org/zap"
)

type StatsSource interface {
	Stats(ctx context.Context) (scheduler.Stats, error)
}

type StatsHandler struct {
	Source StatsSource
	Log    *zap.Logger
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.Source.Stats(r.Context())
	if err != nil {
		if h.Log != nil {
			h.Log.Error("stats failed", zap.Error(err))
		}
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
