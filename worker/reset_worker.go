package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
)

// ResetWorker zeroes per-day send counters shortly after midnight.
type ResetWorker struct {
	db     *gorm.DB
	logger *logrus.Entry
}

func NewResetWorker(db *gorm.DB, logger *logrus.Logger) *ResetWorker {
	return &ResetWorker{
		db:     db,
		logger: logger.WithField("worker", "counter-reset"),
	}
}

// Start runs until the context is canceled.
func (w *ResetWorker) Start(ctx context.Context) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("Counter reset worker stopped")
			return
		case <-timer.C:
			w.reset()
		}
	}
}

func (w *ResetWorker) reset() {
	result := w.db.Model(&models.EmailAccount{}).
		Where("emails_sent_today > 0 OR warmup_sent_today > 0").
		Updates(map[string]interface{}{
			"emails_sent_today": 0,
			"warmup_sent_today": 0,
			"last_reset_date":   time.Now(),
		})
	if result.Error != nil {
		w.logger.WithError(result.Error).Error("Failed to reset daily counters")
		return
	}
	w.logger.WithField("accounts", result.RowsAffected).Info("Daily send counters reset")
}
