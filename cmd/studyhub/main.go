package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"studyhub/internal/auth"
	"studyhub/internal/config"
	"studyhub/internal/db"
	"studyhub/internal/dispatch"
	httpx "studyhub/internal/http"
	"studyhub/internal/jobs"
	"studyhub/internal/lifecycle"
	"studyhub/internal/logging"
	"studyhub/internal/notify"
	"studyhub/internal/reminder"
	"studyhub/internal/scheduler"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	var (
		users     auth.UserStore
		reminders reminder.Store
		jobStore  jobs.Store
	)
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("using in-memory storage, data is lost on exit")
		users = auth.NewMemoryUsers()
		reminders = reminder.NewMemoryStore()
		jobStore = jobs.NewMemoryStore()
	default:
		gdb, err := db.Connect(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("database connect failed", zap.Error(err))
		}
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		users = &auth.UserRepo{DB: gdb}
		reminders = &reminder.Repo{DB: gdb}
		jobStore = &jobs.Repo{DB: gdb}
	}

	// sinks
	sink := notify.Multi{&notify.LogSink{Log: logger.With(zap.String("component", "notify"))}}
	if cfg.NotifyWebhookURL != "" {
		sink = append(sink, notify.NewWebhook(cfg.NotifyWebhookURL))
	}

	sched := scheduler.New(jobStore, cfg.Scheduler, scheduler.WithLogger(logger))
	disp := &dispatch.Dispatcher{
		Reminders:  reminders,
		Sink:       sink,
		Log:        logger.With(zap.String("component", "dispatch")),
		SweepLimit: cfg.SweepLimit,
	}
	if err := disp.Register(sched); err != nil {
		logger.Fatal("register handlers", zap.Error(err))
	}

	coord := &lifecycle.Coordinator{
		Jobs:       jobStore,
		Log:        logger.With(zap.String("component", "lifecycle")),
		Waker:      sched,
		WakeWithin: sched.Config().PollInterval,
	}
	svc := &reminder.Service{Store: reminders, Lifecycle: coord}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
	err = sched.Start(startCtx)
	cancelStart()
	if err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	r := httpx.NewRouter(cfg, httpx.Deps{
		Users:     users,
		JWT:       auth.NewJWT(cfg.JWTSecret),
		Reminders: svc,
		Jobs:      jobStore,
		Stats:     sched,
		Log:       logger.With(zap.String("component", "http")),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// graceful shutdown: stop taking requests, then drain running jobs
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
}
