package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lamina/internal/pkg/logger"
	"lamina/internal/storage"
	"lamina/internal/util"
	"lamina/internal/worker"
	"lamina/internal/worker/pipeline"
)

func main() {
	log := logger.New(logger.Config{
		Level:       util.Env("LOG_LEVEL", "info"),
		Format:      util.Env("LOG_FORMAT", "json"),
		ServiceName: "lamina-worker",
		AddSource:   util.BoolEnv("LOG_SOURCE", false),
	})

	log.Info("starting lamina worker", "version", "0.1.0")

	dbURL := util.MustEnv("DATABASE_URL")
	redisAddr := util.MustEnv("REDIS_ADDR")
	queueName := util.Env("JOB_QUEUE_NAME", "lamina:jobs")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	sp, err := storage.NewProvider()
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	deps := worker.Deps{
		Pool:      pool,
		RDB:       rdb,
		SP:        sp,
		Log:       log,
		QueueName: queueName,
		Pipeline: pipeline.Config{
			WorkRoot:  util.Env("WORK_ROOT", "/var/lib/lamina/work"),
			CacheDir:  util.Env("CACHE_DIR", "/var/lib/lamina/cache"),
			Namespace: util.Env("ARTIFACT_NAMESPACE", "artifacts"),
			Slicer: pipeline.SlicerConfig{
				Command:          strings.Fields(util.MustEnv("SLICER_CMD")),
				Timeout:          util.DurationEnv("SLICER_TIMEOUT", 15*time.Minute),
				PreflightTimeout: util.DurationEnv("SLICER_PREFLIGHT_TIMEOUT", 30*time.Second),
			},
			Packager: pipeline.PackagerConfig{
				Command:    strings.Fields(util.MustEnv("PACKAGER_CMD")),
				Timeout:    util.DurationEnv("PACKAGER_TIMEOUT", 10*time.Minute),
				DoneMarker: util.Env("PACKAGER_DONE_MARKER", ""),
			},
		},
	}

	if err := worker.Run(ctx, deps); err != nil && ctx.Err() == nil {
		log.LogFatal("worker stopped", err)
	}
	log.Info("worker stopped")
}
