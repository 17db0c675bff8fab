package worker

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lamina/internal/pkg/logger"
	"lamina/internal/ports"
	"lamina/internal/worker/pipeline"
)

type Deps struct {
	Pool      *pgxpool.Pool
	RDB       *redis.Client
	SP        ports.StorageProvider
	Log       *logger.Logger
	QueueName string
	Pipeline  pipeline.Config
}
