package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
	"coldmail/utils"
)

// SyncWorker polls every account's inbox on a fixed interval. Accounts
// sync in parallel; the syncer itself guarantees one pass per account.
type SyncWorker struct {
	db       *gorm.DB
	syncer   *utils.InboxSyncer
	interval time.Duration
	logger   *logrus.Entry
}

func NewSyncWorker(db *gorm.DB, syncer *utils.InboxSyncer, interval time.Duration, logger *logrus.Logger) *SyncWorker {
	return &SyncWorker{
		db:       db,
		syncer:   syncer,
		interval: interval,
		logger:   logger.WithField("worker", "inbox-sync"),
	}
}

// Start runs until the context is canceled.
func (w *SyncWorker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval).Info("Inbox sync worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Inbox sync worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *SyncWorker) tick(ctx context.Context) {
	var accounts []models.EmailAccount
	err := w.db.Where("is_active = ? AND imap_host <> ''", true).Find(&accounts).Error
	if err != nil {
		w.logger.WithError(err).Error("Failed to load accounts for sync")
		return
	}

	var wg sync.WaitGroup
	for i := range accounts {
		account := accounts[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := w.syncer.Sync(ctx, &account)
			if err != nil {
				if errors.Is(err, utils.ErrSyncInProgress) || ctx.Err() != nil {
					return
				}
				w.logger.WithField("account", account.Email).
					WithError(err).Error("Inbox sync failed")
				sentry.CaptureException(err)
				return
			}
			if result.Processed > 0 {
				w.logger.WithFields(logrus.Fields{
					"account":   account.Email,
					"processed": result.Processed,
					"replies":   result.Replies,
					"bounces":   result.Bounces,
				}).Info("Inbox sync finished")
			}
		}()
	}
	wg.Wait()
}
