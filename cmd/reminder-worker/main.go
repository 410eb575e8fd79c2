package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-booking/internal/config"
	"github.com/hackgods/specialist-booking/internal/db"
	"github.com/hackgods/specialist-booking/internal/logger"
	"github.com/hackgods/specialist-booking/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, "reminder-worker")

	if cfg.StoreDriver != config.DriverPostgres {
		// the memory store lives inside api-server, which runs its own dispatcher
		log.Fatal().Str("store", cfg.StoreDriver).Msg("reminder-worker requires STORE_DRIVER=postgres")
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.Reminder.Interval).
		Int("batch_size", cfg.Reminder.BatchSize).
		Int("concurrency", cfg.Reminder.Concurrency).
		Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "booking-reminder-worker")
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	store := reminder.NewPgStore(pgPool)
	dispatcher := reminder.NewDispatcher(store, reminder.NewSenderFromConfig(cfg, log), cfg.Reminder, log)

	if err := dispatcher.Run(rootCtx); err != nil {
		log.Error().Err(err).Msg("dispatcher stopped with error")
	}
}
