// Package main contains a one-shot collector that ingests the commit
// channel's history for a window of dates and exits.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"

	"github.com/edgard/gardenbot/internal/collector"
	"github.com/edgard/gardenbot/internal/config"
	"github.com/edgard/gardenbot/internal/database"
	"github.com/edgard/gardenbot/internal/logger"
	"github.com/edgard/gardenbot/internal/slack"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	startFlag := flag.String("start", "", "First date to collect (YYYY-MM-DD, default yesterday)")
	endFlag := flag.String("end", "", "Date to stop before (YYYY-MM-DD, default tomorrow)")
	clearFirst := flag.Bool("clear", false, "Remove all stored messages before collecting")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)

	today := civil.DateOf(time.Now().In(cfg.Attendance.Location()))
	start, err := parseDateFlag(*startFlag, today.AddDays(-1))
	if err != nil {
		log.Error("Invalid -start date", "value", *startFlag, "error", err)
		return 1
	}
	end, err := parseDateFlag(*endFlag, today.AddDays(1))
	if err != nil {
		log.Error("Invalid -end date", "value", *endFlag, "error", err)
		return 1
	}

	db, err := database.NewDB(database.Dialect(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		log.Error("Failed to connect to database", "driver", cfg.Database.Driver, "db", database.ExtractDBNameFromPath(cfg.Database.DSN), "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	if *clearFirst {
		removed, err := store.ClearAll(ctx)
		if err != nil {
			log.Error("Failed to clear stored messages", "error", err)
			return 1
		}
		log.Info("Cleared stored messages", "removed", removed)
	}

	slackClient := slack.NewClient(cfg.Slack.Token, log)
	coll := collector.New(slackClient, store, cfg.Slack.ChannelID, cfg.Slack.HistoryLimit, cfg.Attendance.Location(), log)

	res, err := coll.CollectDays(ctx, start, end)
	if err != nil {
		log.Error("Collection failed", "start", start, "end", end, "error", err)
		return 1
	}

	log.Info("Collection done",
		"start", start,
		"end", end,
		"fetched", res.Fetched,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
		"failed", res.Failed)
	return 0
}

func parseDateFlag(value string, fallback civil.Date) (civil.Date, error) {
	if value == "" {
		return fallback, nil
	}
	return civil.ParseDate(value)
}
