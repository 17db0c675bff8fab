package handlers

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lamina/internal/pkg/logger"
	"lamina/internal/ports"
	"lamina/internal/store"
	"lamina/internal/worker/queue"
)

type Deps struct {
	Pool *pgxpool.Pool
	RDB  *redis.Client
	SP   ports.StorageProvider
	Log  *logger.Logger

	// QueueName is the Redis list new jobs are pushed onto.
	QueueName string
	// Namespace is the store part of model references minted by uploads.
	Namespace string
}

type Handler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	sp        ports.StorageProvider
	jobs      *store.JobStore
	presets   *store.PresetStore
	q         *queue.RedisQueue
	log       *logger.Logger
	namespace string
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		pool:      d.Pool,
		rdb:       d.RDB,
		sp:        d.SP,
		jobs:      store.NewJobStore(d.Pool),
		presets:   store.NewPresetStore(d.Pool),
		q:         queue.NewRedisQueue(d.RDB, d.QueueName),
		log:       log.WithComponent("httpapi"),
		namespace: d.Namespace,
	}
}
