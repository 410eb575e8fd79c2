package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hackgods/specialist-booking/internal/api"
	"github.com/hackgods/specialist-booking/internal/auth"
	"github.com/hackgods/specialist-booking/internal/booking"
	"github.com/hackgods/specialist-booking/internal/config"
	"github.com/hackgods/specialist-booking/internal/db"
	"github.com/hackgods/specialist-booking/internal/logger"
	"github.com/hackgods/specialist-booking/internal/metrics"
	redisclient "github.com/hackgods/specialist-booking/internal/redis"
	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/seed"
	"github.com/hackgods/specialist-booking/internal/store/memory"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("store", cfg.StoreDriver).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		repo      booking.Repository
		reminders reminder.Store
		deps      []api.Dependency
		mem       *memory.Store
	)

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "booking-api")
		cancelPg()
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		log.Info().Msg("connected to Postgres")

		repo = booking.NewPgRepository(pgPool)
		reminders = reminder.NewPgStore(pgPool)
		deps = append(deps, api.Dependency{Name: "postgres", Critical: true, Ping: pgPool.Ping})

	case config.DriverMemory:
		mem = memory.New()
		ds := seed.Generate(seed.Options{Specialists: 5, Patients: 50})
		if err := seed.LoadMemory(mem, ds); err != nil {
			log.Fatal().Err(err).Msg("seed memory store")
		}
		for _, sp := range ds.Specialists {
			log.Info().Str("specialist_id", sp.ID.String()).Str("name", sp.Name).Str("timezone", sp.Timezone).Msg("demo specialist")
		}
		log.Warn().Msg("using in-memory store, data is lost on restart")

		repo = mem
		reminders = mem
	}

	var opts []booking.Option
	opts = append(opts, booking.WithMetrics(m))

	locker := redisclient.NopLocker()
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Msg("connected to Redis")

		locker = redisclient.NewRedisSpecialistLocker(rdb, cfg.LockTTL, cfg.LockWait)
		if cfg.SlotCacheTTL > 0 {
			opts = append(opts, booking.WithSlotCache(redisclient.NewSlotCache(rdb, cfg.SlotCacheTTL, log)))
		}
		deps = append(deps, api.Dependency{Name: "redis", Ping: redisclient.Pinger(rdb)})
	}

	svc := booking.NewService(repo, locker, cfg, log, opts...)
	dispatcher := reminder.NewDispatcher(reminders, reminder.NewSenderFromConfig(cfg, log), cfg.Reminder, log,
		reminder.WithMetrics(m))

	// the in-memory store is not shared with a separate worker process
	if mem != nil {
		go func() {
			_ = dispatcher.Run(rootCtx)
		}()
	}

	secret := cfg.JWTSecret
	if secret == "" {
		if cfg.Env != "dev" {
			log.Fatal().Msg("JWT_SECRET is required outside dev")
		}
		secret = "dev-secret"
		log.Warn().Msg("JWT_SECRET not set, using the dev secret")
	}

	router := api.NewRouter(api.RouterConfig{
		Bookings:    svc,
		Reminders:   dispatcher,
		Issuer:      auth.NewIssuer(secret, cfg.JWTIssuer),
		Health:      api.NewHealthHandler(cfg.Env, version, deps...),
		Metrics:     metrics.Handler(reg),
		CORSOrigins: cfg.CORSOrigins,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
