package worker

import (
	"context"
	"time"

	"lamina/internal/pkg/logger"
	"lamina/internal/store"
	"lamina/internal/worker/pipeline"
	"lamina/internal/worker/queue"
)

// Run is the worker main loop: pop a job id from the queue, hand it to the
// pipeline, repeat until the context is canceled. The pipeline owns all
// per-job error handling; an error never escapes one job.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	q := queue.NewRedisQueue(d.RDB, d.QueueName)
	jobs := store.NewJobStore(d.Pool)

	pl := pipeline.New(pipeline.Deps{
		Jobs:    jobs,
		Ledger:  jobs,
		Presets: store.NewPresetStore(d.Pool),
		Storage: d.SP,
		Runner:  pipeline.NewExecRunner(),
		Log:     log,
		Config:  d.Pipeline,
	})

	for {
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		default:
		}

		// Bound each blocking pop so shutdown is never stuck behind an
		// empty queue.
		popCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		jobID, err := q.Pop(popCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			if popCtx.Err() != nil {
				// Empty queue, just poll again.
				continue
			}
			log.Warn("queue pop error, retrying",
				"error", err.Error(),
			)
			time.Sleep(1 * time.Second)
			continue
		}

		if jobID == "" {
			continue
		}

		jobCtx := logger.ContextWithJobID(ctx, jobID)
		jobLog := log.WithJobID(jobID)

		jobLog.Info("processing job")
		startTime := time.Now()

		res := pl.Process(jobCtx, jobID)
		if !res.Success {
			jobLog.Warn("job failed",
				"kind", string(res.ErrorKind),
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
		} else {
			jobLog.Info("job completed",
				"status", string(res.Status),
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
		}
	}
}
