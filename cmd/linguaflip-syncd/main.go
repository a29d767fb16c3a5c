// cmd/linguaflip-syncd/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/config"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/db"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/deck"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/logger"
	"github.com/julianjjo/linguaflip-english-flashcards-sub005/pkg/syncer"
)

const defaultFlushInterval = 30 * time.Second

func main() {
	if err := config.LoadConfig("config.json"); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logger.Configure(logger.Options{
		Level: config.AppConfig.Logging.Level,
		File:  config.AppConfig.Logging.File,
	}); err != nil {
		logger.Error("failed to configure logger", "error", err)
	}

	local, err := db.OpenLocal(config.AppConfig.Local)
	if err != nil {
		logger.Error("failed to open local store", "error", err)
		os.Exit(1)
	}
	remoteDB, err := db.OpenRemote(config.AppConfig.Remote)
	if err != nil {
		logger.Error("failed to connect to remote store", "error", err)
		os.Exit(1)
	}

	store := deck.NewStore(local, nil)
	if err := store.Load(); err != nil {
		logger.Error("failed to load local deck", "error", err)
		os.Exit(1)
	}
	logger.Info("local deck loaded", "cards", store.Len())

	coord := syncer.New(store, syncer.NewGormRemote(remoteDB), local, config.AppConfig.Sync, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	go db.StartSessionCleanup(ctx, local, db.SessionCleanupInterval)

	interval := time.Duration(config.AppConfig.Sync.FlushIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	logger.Info("Starting sync daemon...", "interval", interval)
	coord.Run(ctx, interval)

	// Drain whatever is still dirty before exiting; a degraded flush here
	// just leaves the records pending for the next start.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := coord.Flush(flushCtx); err != nil {
		logger.Warn("final flush incomplete", "error", err)
	}
}
