package pipeline

import (
	"context"

	"lamina/internal/models"
	"lamina/internal/pkg/logger"
)

// Ledger records job lifecycle transitions durably. store.JobStore satisfies
// it.
type Ledger interface {
	MarkProcessing(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errorText string) error
	MarkSucceeded(ctx context.Context, id string, st models.Status, report *models.JobReport, nativeRef, projectRef, layersRef string) error
}

// safeLedger wraps a Ledger so that a ledger write can never take a job down
// with it. Failures are logged and swallowed; the pipeline outcome stands on
// its own.
type safeLedger struct {
	inner Ledger
	log   *logger.Logger
}

func newSafeLedger(inner Ledger, log *logger.Logger) *safeLedger {
	return &safeLedger{inner: inner, log: log.WithComponent("ledger")}
}

func (l *safeLedger) markProcessing(ctx context.Context, id string) {
	if err := l.inner.MarkProcessing(ctx, id); err != nil {
		l.log.Error("ledger write failed", "job_id", id, "transition", "processing", "error", err.Error())
	}
}

func (l *safeLedger) markFailed(ctx context.Context, id, errorText string) {
	if err := l.inner.MarkFailed(ctx, id, errorText); err != nil {
		l.log.Error("ledger write failed", "job_id", id, "transition", "failed", "error", err.Error())
	}
}

func (l *safeLedger) markSucceeded(ctx context.Context, id string, st models.Status, report *models.JobReport, nativeRef, projectRef, layersRef string) {
	if err := l.inner.MarkSucceeded(ctx, id, st, report, nativeRef, projectRef, layersRef); err != nil {
		l.log.Error("ledger write failed", "job_id", id, "transition", string(st), "error", err.Error())
	}
}
