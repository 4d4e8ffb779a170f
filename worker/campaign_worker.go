package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
	"coldmail/utils"
)

// CampaignWorker advances every active campaign once per interval.
type CampaignWorker struct {
	db        *gorm.DB
	sequencer *utils.Sequencer
	interval  time.Duration
	logger    *logrus.Entry
}

func NewCampaignWorker(db *gorm.DB, sequencer *utils.Sequencer, interval time.Duration, logger *logrus.Logger) *CampaignWorker {
	return &CampaignWorker{
		db:        db,
		sequencer: sequencer,
		interval:  interval,
		logger:    logger.WithField("worker", "campaign"),
	}
}

// Start runs until the context is canceled.
func (w *CampaignWorker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval).Info("Campaign worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Campaign worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *CampaignWorker) tick(ctx context.Context) {
	var campaigns []models.Campaign
	err := w.db.Preload("Sequence").
		Where("status = ?", models.CampaignActive).
		Find(&campaigns).Error
	if err != nil {
		w.logger.WithError(err).Error("Failed to load active campaigns")
		return
	}

	for i := range campaigns {
		campaign := &campaigns[i]
		if err := w.sequencer.RunCampaignTick(ctx, campaign); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithField("campaign", campaign.ID).
				WithError(err).Error("Campaign tick failed")
			sentry.CaptureException(err)
		}
	}
}
