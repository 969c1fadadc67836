package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/attendance"
	"github.com/edgard/gardenbot/internal/collector"
	"github.com/edgard/gardenbot/internal/config"
	"github.com/edgard/gardenbot/internal/database"
	"github.com/edgard/gardenbot/internal/notify"
)

// TaskFunc defines the standard signature for all scheduled tasks.
// The context provided by the scheduler should be respected for cancellation.
type TaskFunc func(ctx context.Context) error

// DayCollector collects chat history for a window of calendar dates.
type DayCollector interface {
	CollectDays(ctx context.Context, start, end civil.Date) (collector.Result, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger     *slog.Logger
	Store      database.Store
	Collector  DayCollector
	Attendance *attendance.Service
	Notifier   notify.Notifier
	Config     *config.Config
}

// RegisterAllTasks returns the task registry keyed by the names used in the
// scheduler section of the configuration.
func RegisterAllTasks(deps TaskDeps) map[string]TaskFunc {
	tasks := map[string]TaskFunc{
		"collect":         newCollectTask(deps),
		"no_show":         newNoShowTask(deps),
		"sql_maintenance": newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}

// newCollectTask collects yesterday and today, so that messages posted
// around midnight are never missed. Re-collecting is harmless.
func newCollectTask(deps TaskDeps) TaskFunc {
	log := deps.Logger.With("task", "collect")

	return func(ctx context.Context) error {
		today := deps.Attendance.Today()
		start, end := today.AddDays(-1), today.AddDays(1)

		timeoutCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		res, err := deps.Collector.CollectDays(timeoutCtx, start, end)
		if err != nil {
			log.ErrorContext(ctx, "Collection failed", "start", start, "end", end, "error", err)
			return fmt.Errorf("collect %s..%s: %w", start, end, err)
		}

		log.InfoContext(ctx, "Collection task completed", "start", start, "end", end, "inserted", res.Inserted)
		return nil
	}
}

// newNoShowTask reports today's absentees through the notifier.
func newNoShowTask(deps TaskDeps) TaskFunc {
	log := deps.Logger.With("task", "no_show")

	return func(ctx context.Context) error {
		today := deps.Attendance.Today()

		absent, err := deps.Attendance.Absentees(ctx, today)
		if err != nil {
			return fmt.Errorf("failed to compute absentees for %s: %w", today, err)
		}

		text := notify.NoShowMessage(deps.Config.Notify.Message, absent, deps.Config)
		if text == "" {
			log.InfoContext(ctx, "Everyone attended today", "date", today)
			return nil
		}

		if err := deps.Notifier.Notify(ctx, text); err != nil {
			return fmt.Errorf("failed to send no-show notification: %w", err)
		}
		log.InfoContext(ctx, "No-show notification sent", "date", today, "absent", len(absent))
		return nil
	}
}

// newSQLMaintenanceTask creates the scheduled task function for running database maintenance.
func newSQLMaintenanceTask(deps TaskDeps) TaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		startTime := time.Now()

		err := deps.Store.RunSQLMaintenance(ctx)

		duration := time.Since(startTime)
		if err != nil {
			log.ErrorContext(ctx, "SQL maintenance task failed", "error", err, "duration", duration)
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled SQL maintenance task completed successfully", "duration", duration)
		return nil
	}
}
