package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/config"
	"github.com/hackgods/clinic-appointment-engine/internal/db"
	"github.com/hackgods/clinic-appointment-engine/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-engine/internal/redis"
)

const (
	leaderTTL    = 30 * time.Second
	leaderMargin = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "sweeper").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("sweeper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: 2,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	// A pass stops before the leader lock expires; sweeps never take booking locks.
	leader := redisclient.NewRedisLocker(rdb, leaderTTL, 0)
	svc := appointment.NewService(appointment.NewPgRepository(pgPool), nil, cfg, logger)

	appointment.NewSweeper(svc, leader, cfg.SweepInterval, leaderTTL-leaderMargin, logger).Run(rootCtx)
}
