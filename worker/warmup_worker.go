package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"coldmail/utils"
)

// WarmupWorker drives warmup rounds on a fixed interval.
type WarmupWorker struct {
	warmup   *utils.WarmupMailer
	interval time.Duration
	logger   *logrus.Entry
}

func NewWarmupWorker(warmup *utils.WarmupMailer, interval time.Duration, logger *logrus.Logger) *WarmupWorker {
	return &WarmupWorker{
		warmup:   warmup,
		interval: interval,
		logger:   logger.WithField("worker", "warmup"),
	}
}

// Start runs until the context is canceled.
func (w *WarmupWorker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval).Info("Warmup worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Warmup worker stopped")
			return
		case <-ticker.C:
			if err := w.warmup.Tick(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Error("Warmup tick failed")
				sentry.CaptureException(err)
			}
		}
	}
}
