// Package main contains the entrypoint for the gardenbot server: the
// attendance HTTP API plus the scheduled collection and no-show tasks.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgard/gardenbot/internal/api"
	"github.com/edgard/gardenbot/internal/app"
	"github.com/edgard/gardenbot/internal/attendance"
	"github.com/edgard/gardenbot/internal/collector"
	"github.com/edgard/gardenbot/internal/config"
	"github.com/edgard/gardenbot/internal/database"
	"github.com/edgard/gardenbot/internal/logger"
	"github.com/edgard/gardenbot/internal/notify"
	"github.com/edgard/gardenbot/internal/scheduler"
	"github.com/edgard/gardenbot/internal/slack"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires config, logger, storage, the chat client, the scheduler and the
// HTTP server, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(database.Dialect(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		log.Error("Failed to connect to database", "driver", cfg.Database.Driver, "db", database.ExtractDBNameFromPath(cfg.Database.DSN), "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	slackClient := slack.NewClient(cfg.Slack.Token, log)
	loc := cfg.Attendance.Location()

	coll := collector.New(slackClient, store, cfg.Slack.ChannelID, cfg.Slack.HistoryLimit, loc, log)
	svc := attendance.NewService(store, cfg.Users, attendance.OptionsFrom(cfg.Attendance), log)

	notifier, err := notify.New(cfg.Notify, slackClient, log)
	if err != nil {
		log.Error("Failed to create notifier", "backend", cfg.Notify.Backend, "error", err)
		return 1
	}

	tDeps := scheduler.TaskDeps{
		Logger:     log,
		Store:      store,
		Collector:  coll,
		Attendance: svc,
		Notifier:   notifier,
		Config:     cfg,
	}
	sched, err := scheduler.New(log, &cfg.Scheduler, loc, scheduler.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	handler := api.NewHandler(svc, coll, store, cfg, log)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	application := app.New(log, server, sched)

	log.Info("Starting gardenbot...", "users", len(cfg.Users), "timezone", cfg.Attendance.Timezone)
	runErr := application.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Gardenbot stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Gardenbot stopped gracefully.")
	return 0
}
