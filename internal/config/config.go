package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"studyhub/internal/jobs"
	"studyhub/internal/scheduler"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	HTTPAddr             string
	Storage              string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	LogLevel  string
	LogFormat string

	Scheduler        scheduler.Config
	SweepLimit       int
	NotifyWebhookURL string
	ShutdownTimeout  time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var p parser
	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		Storage:              strings.ToLower(getenv("STORAGE", StoragePostgres)),
		DatabaseURL:          getenv("DATABASE_URL", ""),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		JWTSecret:            p.required("JWT_SECRET"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		LogFormat:            getenv("LOG_FORMAT", "json"),
		NotifyWebhookURL:     getenv("NOTIFY_WEBHOOK_URL", ""),
		SweepLimit:           p.integer("SCHEDULER_SWEEP_LIMIT", 500),
		ShutdownTimeout:      p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	cfg.Scheduler = scheduler.Config{
		PollInterval:       p.duration("SCHEDULER_POLL_INTERVAL", scheduler.DefaultPollInterval),
		LockLifetime:       p.duration("SCHEDULER_LOCK_LIFETIME", scheduler.DefaultLockLifetime),
		MaxConcurrent:      p.integer("SCHEDULER_MAX_CONCURRENT", scheduler.DefaultMaxConcurrent),
		DefaultConcurrency: p.integer("SCHEDULER_DEFAULT_CONCURRENCY", scheduler.DefaultKindConcurrency),
		BatchSize:          p.integer("SCHEDULER_BATCH_SIZE", 0),
		SweepInterval:      getenv("SCHEDULER_SWEEP_INTERVAL", scheduler.DefaultSweepInterval),
		WorkerID:           getenv("SCHEDULER_WORKER_ID", ""),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if _, err := jobs.ParseInterval(cfg.Scheduler.SweepInterval); err != nil {
		p.errs = append(p.errs, fmt.Errorf("SCHEDULER_SWEEP_INTERVAL: %w", err))
	}

	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			p.errs = append(p.errs, errors.New("missing env: DATABASE_URL"))
		}
	case StorageMemory:
	default:
		p.errs = append(p.errs, fmt.Errorf("STORAGE: unknown backend %q", cfg.Storage))
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// parser collects every bad variable so one run reports them all.
type parser struct {
	errs []error
}

func (p *parser) required(key string) string {
	v := getenv(key, "")
	if v == "" {
		p.errs = append(p.errs, errors.New("missing env: "+key))
	}
	return v
}

func (p *parser) integer(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: want a non-negative integer, got %q", key, v))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: want a positive duration, got %q", key, v))
		return def
	}
	return d
}
