package http

import (
	"net/http"

	"studyhub/internal/auth"
	"studyhub/internal/config"
	"studyhub/internal/http/handler"
	mw "studyhub/internal/http/middleware"
	"studyhub/internal/jobs"
	"studyhub/internal/reminder"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Users     auth.UserStore
	JWT       *auth.JWT
	Reminders *reminder.Service
	Jobs      jobs.Store
	Stats     handler.StatsSource
	Log       *zap.Logger
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{Users: d.Users, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{Reminders: d.Reminders}
	r.With(auth.RequireAuth(d.JWT)).Get("/me", me.Me)

	rh := &handler.ReminderHandler{Svc: d.Reminders, Jobs: d.Jobs, Log: d.Log}
	r.Route("/reminders", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Post("/", rh.Create)
		r.Get("/", rh.List)

		r.Get("/{id}", rh.Get)
		r.Patch("/{id}", rh.Update)
		r.Delete("/{id}", rh.Delete)
		r.Get("/{id}/jobs", rh.ListJobs)
	})

	sh := &handler.StatsHandler{Source: d.Stats, Log: d.Log}
	r.With(auth.RequireAuth(d.JWT)).Get("/admin/stats", sh.Get)

	return r
}
