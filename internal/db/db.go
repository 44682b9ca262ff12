package db

import (
	"fmt"
	"time"

	"studyhub/internal/auth"
	"studyhub/internal/jobs"
	"studyhub/internal/reminder"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string, log *zap.Logger) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	log.Info("database connected")
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&auth.User{},
		&reminder.Reminder{},
		&jobs.Job{},
	); err != nil {
		return err
	}

	// Tag filter (GIN for text[])
	if err := gdb.Exec(`create index if not exists idx_reminders_tags on reminders using gin (tags);`).Error; err != nil {
		return err
	}

	// Claim path: only unlocked jobs with a next run are candidates
	if err := gdb.Exec(`
create index if not exists idx_jobs_due
on scheduled_jobs(next_run_at)
where locked_at is null and next_run_at is not null;
`).Error; err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_jobs_locked on scheduled_jobs(locked_at) where locked_at is not null;`,
		`create index if not exists idx_jobs_reminder on scheduled_jobs((payload->>'reminder_id'));`,
		`create index if not exists idx_reminders_due on reminders(due_at) where notified = false;`,
		`create index if not exists idx_reminders_owner_due on reminders(owner_id, due_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
