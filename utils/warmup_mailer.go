package utils

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
)

const (
	// maxWarmupBatch caps how many warmup emails one account sends in
	// a single tick, so volume spreads across the day.
	maxWarmupBatch = 5

	// spamPauseRate is the trailing-week spam share that pauses warmup.
	spamPauseRate = 0.10

	spamLookback = 7 * 24 * time.Hour

	// warmupSendDelay paces sends within a batch so warmup traffic does
	// not leave as one burst; jitter randomizes the cadence.
	warmupSendDelay = 2 * time.Minute
)

// WarmupMailer runs mailbox warmup: pairwise sends between operator
// accounts with ramped-up daily volume, auto-replies, and reputation
// scoring.
type WarmupMailer struct {
	db        *gorm.DB
	mailer    *Mailer
	guard     *DeliverabilityGuard
	throttler *Throttler
	dns       *DNSChecker
	content   *ContentGenerator
	rng       *rand.Rand
	logger    *logrus.Entry
	now       func() time.Time
}

func NewWarmupMailer(db *gorm.DB, mailer *Mailer, guard *DeliverabilityGuard, throttler *Throttler, dns *DNSChecker, rng *rand.Rand, logger *logrus.Logger) *WarmupMailer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &WarmupMailer{
		db:        db,
		mailer:    mailer,
		guard:     guard,
		throttler: throttler,
		dns:       dns,
		content:   NewContentGenerator(rng),
		rng:       rng,
		logger:    logger.WithField("component", "warmup"),
		now:       time.Now,
	}
}

// Tick processes one round of warmup for every eligible account.
func (w *WarmupMailer) Tick(ctx context.Context) error {
	var accounts []models.EmailAccount
	err := w.db.Where("is_active = ? AND warmup_enabled = ? AND warmup_status IN ?",
		true, true, []string{models.WarmupNotStarted, models.WarmupInProgress}).
		Find(&accounts).Error
	if err != nil {
		return err
	}
	if len(accounts) < 2 {
		if len(accounts) == 1 {
			w.logger.Debug("Warmup needs at least two accounts to exchange mail")
		}
		return nil
	}

	for i := range accounts {
		account := &accounts[i]
		if err := w.processAccount(ctx, account, accounts); err != nil {
			w.logger.WithField("account", account.Email).WithError(err).Error("Warmup round failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (w *WarmupMailer) processAccount(ctx context.Context, account *models.EmailAccount, all []models.EmailAccount) error {
	w.resetDailyIfNeeded(account)

	if paused, err := w.autoPauseOnSpam(account); err != nil {
		return err
	} else if paused {
		return nil
	}

	if !account.DNSValid {
		if ok, err := w.validateDNS(ctx, account); err != nil || !ok {
			return err
		}
	}

	if w.maybeComplete(account) {
		return nil
	}

	volume := w.currentDailyVolume(account)
	remaining := volume - account.WarmupSentToday
	if remaining <= 0 {
		return nil
	}
	if remaining > maxWarmupBatch {
		remaining = maxWarmupBatch
	}

	for i := 0; i < remaining; i++ {
		partner := w.pickPartner(account, all)
		if partner == nil {
			w.logger.WithField("account", account.Email).Debug("No warmup partner available")
			return nil
		}

		ok, err := w.throttler.Admit(ctx, account.ID, "warmup", w.policyFor(account))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if _, err := w.SendWarmupEmail(ctx, account, partner); err != nil {
			return err
		}
	}
	return nil
}

// policyFor caps warmup traffic by the account's own daily limit,
// restricts it to the configured warmup hours, and spaces consecutive
// sends by a jittered delay so the cadence looks human.
func (w *WarmupMailer) policyFor(account *models.EmailAccount) ThrottlePolicy {
	return ThrottlePolicy{
		DailyLimit:   account.DailyLimit,
		DelayBetween: warmupSendDelay,
		Jitter:       true,
		StartTime:    account.WarmupSettings.StartTime,
		EndTime:      account.WarmupSettings.EndTime,
	}
}

// currentDailyVolume ramps from DailyWarmupEmails to MaxDailyEmails
// over RampUpDays.
func (w *WarmupMailer) currentDailyVolume(account *models.EmailAccount) int {
	ws := account.WarmupSettings
	if account.WarmupStartedAt == nil || ws.RampUpDays <= 0 {
		return ws.DailyWarmupEmails
	}
	days := int(w.now().Sub(*account.WarmupStartedAt).Hours() / 24)
	increase := float64(ws.MaxDailyEmails-ws.DailyWarmupEmails) / float64(ws.RampUpDays)
	volume := ws.DailyWarmupEmails + int(increase*float64(days))
	if volume > ws.MaxDailyEmails {
		volume = ws.MaxDailyEmails
	}
	return volume
}

func (w *WarmupMailer) pickPartner(account *models.EmailAccount, all []models.EmailAccount) *models.EmailAccount {
	var candidates []*models.EmailAccount
	for i := range all {
		p := &all[i]
		if p.ID == account.ID || !p.IsActive {
			continue
		}
		if w.guard.IsBlacklisted(p.Domain()) {
			w.logger.WithField("partner", p.Email).Info("Skipping blacklisted warmup partner")
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[w.rng.Intn(len(candidates))]
}

// SendWarmupEmail sends one warmup message from one account to another
// and records it.
func (w *WarmupMailer) SendWarmupEmail(ctx context.Context, from, to *models.EmailAccount) (*models.WarmupEmail, error) {
	subject, content := w.content.Generate()
	token := NewTrackingToken()

	record := &models.WarmupEmail{
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Subject:       subject,
		Content:       content,
		Token:         token,
		Status:        models.WarmupEmailPending,
	}

	entry, err := w.mailer.Send(ctx, from, &OutgoingEmail{
		To:          to.Email,
		ToName:      to.Name,
		Subject:     subject,
		Content:     content,
		Type:        models.LogTypeWarmup,
		WarmupToken: token,
		Headers:     map[string]string{"Auto-Submitted": "auto-generated"},
	})
	if err != nil {
		record.Status = models.WarmupEmailFailed
		record.Error = err.Error()
		if cerr := w.db.Create(record).Error; cerr != nil {
			w.logger.WithError(cerr).Error("Failed to record failed warmup send")
		}
		return nil, err
	}

	sentAt := w.now()
	record.Status = models.WarmupEmailSent
	record.SentAt = &sentAt
	record.MessageID = entry.MessageID
	record.ThreadID = entry.MessageID
	if err := w.db.Create(record).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"warmup_sent_today": gorm.Expr("warmup_sent_today + 1"),
		"warmup_total_sent": gorm.Expr("warmup_total_sent + 1"),
	}
	if from.WarmupStatus == models.WarmupNotStarted {
		updates["warmup_status"] = models.WarmupInProgress
		if from.WarmupStartedAt == nil {
			updates["warmup_started_at"] = sentAt
			from.WarmupStartedAt = &sentAt
		}
		from.WarmupStatus = models.WarmupInProgress
	}
	if err := w.db.Model(&models.EmailAccount{}).Where("id = ?", from.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	from.WarmupSentToday++
	from.WarmupTotalSent++

	if err := w.guard.RecordDelivery(from.ID); err != nil {
		w.logger.WithError(err).Warn("Failed to credit delivery")
	}

	w.logger.WithFields(logrus.Fields{
		"from": from.Email,
		"to":   to.Email,
	}).Info("Warmup email sent")
	return record, nil
}

// HandleInboundWarmup processes a warmup message seen in an account's
// inbox. Two cases: the receiving partner sees the original message
// (credit an open, maybe auto-reply), or the original sender sees the
// partner's reply (credit a reply).
func (w *WarmupMailer) HandleInboundWarmup(ctx context.Context, receiver *models.EmailAccount, msg *InboundMessage, record *models.WarmupEmail) error {
	switch receiver.ID {
	case record.ToAccountID:
		return w.handleWarmupDelivery(ctx, receiver, msg, record)
	case record.FromAccountID:
		return w.handleWarmupReply(msg, record)
	default:
		return nil
	}
}

func (w *WarmupMailer) handleWarmupDelivery(ctx context.Context, receiver *models.EmailAccount, msg *InboundMessage, record *models.WarmupEmail) error {
	now := w.now()
	if record.OpenedAt == nil {
		record.OpenedAt = &now
		if record.Status == models.WarmupEmailSent {
			record.Status = models.WarmupEmailOpened
		}
		if err := w.db.Save(record).Error; err != nil {
			return err
		}
		if err := w.guard.AdjustReputation(record.FromAccountID, RepDeltaOpen); err != nil {
			return err
		}
	}

	if !receiver.WarmupSettings.AutoReply || record.IsReply {
		return nil
	}
	if record.ThreadLength >= receiver.WarmupSettings.MaxThreadLength {
		return nil
	}

	var sender models.EmailAccount
	if err := w.db.First(&sender, record.FromAccountID).Error; err != nil {
		return err
	}

	subject, content := w.content.GenerateReply(msg.Subject)
	entry, err := w.mailer.Send(ctx, receiver, &OutgoingEmail{
		To:          sender.Email,
		ToName:      sender.Name,
		Subject:     subject,
		Content:     content,
		Type:        models.LogTypeWarmup,
		InReplyTo:   msg.MessageID,
		References:  append(msg.References, msg.MessageID),
		WarmupToken: record.Token,
		Headers:     map[string]string{"Auto-Submitted": "auto-replied"},
	})
	if err != nil {
		return fmt.Errorf("warmup auto-reply failed: %w", err)
	}

	reply := &models.WarmupEmail{
		FromAccountID: receiver.ID,
		ToAccountID:   sender.ID,
		Subject:       subject,
		Content:       content,
		MessageID:     entry.MessageID,
		ThreadID:      record.ThreadID,
		Token:         record.Token,
		IsReply:       true,
		ParentEmailID: &record.ID,
		ThreadLength:  record.ThreadLength + 1,
		Status:        models.WarmupEmailSent,
		SentAt:        &now,
	}
	return w.db.Create(reply).Error
}

func (w *WarmupMailer) handleWarmupReply(msg *InboundMessage, record *models.WarmupEmail) error {
	if record.RepliedAt != nil {
		return nil
	}
	now := w.now()
	record.RepliedAt = &now
	record.Status = models.WarmupEmailReplied
	if err := w.db.Save(record).Error; err != nil {
		return err
	}
	w.logger.WithFields(logrus.Fields{
		"account": record.FromAccountID,
		"thread":  record.ThreadID,
	}).Info("Warmup reply received")
	return w.guard.AdjustReputation(record.FromAccountID, RepDeltaReply)
}

// RecordSpamPlacement penalizes an account whose warmup mail landed in
// spam and bumps the account's spam counter.
func (w *WarmupMailer) RecordSpamPlacement(accountID uint, warmupEmailID uint) error {
	if err := w.db.Model(&models.WarmupEmail{}).Where("id = ?", warmupEmailID).
		Update("status", models.WarmupEmailSpam).Error; err != nil {
		return err
	}
	if err := w.db.Model(&models.InboxSync{}).Where("account_id = ?", accountID).
		Update("spam_placements", gorm.Expr("spam_placements + 1")).Error; err != nil {
		w.logger.WithError(err).Warn("Failed to bump spam counter")
	}
	return w.guard.AdjustReputation(accountID, RepDeltaSpam)
}

// autoPauseOnSpam pauses warmup when more than 10% of the trailing
// week's warmup sends were marked spam.
func (w *WarmupMailer) autoPauseOnSpam(account *models.EmailAccount) (bool, error) {
	since := w.now().Add(-spamLookback)

	var total, spam int64
	if err := w.db.Model(&models.WarmupEmail{}).
		Where("from_account_id = ? AND created_at > ?", account.ID, since).
		Count(&total).Error; err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}
	if err := w.db.Model(&models.WarmupEmail{}).
		Where("from_account_id = ? AND created_at > ? AND status = ?", account.ID, since, models.WarmupEmailSpam).
		Count(&spam).Error; err != nil {
		return false, err
	}

	rate := float64(spam) / float64(total)
	if rate <= spamPauseRate {
		return false, nil
	}

	account.WarmupStatus = models.WarmupPaused
	if err := w.db.Model(account).Update("warmup_status", models.WarmupPaused).Error; err != nil {
		return false, err
	}
	w.logger.WithFields(logrus.Fields{
		"account":  account.Email,
		"spamRate": fmt.Sprintf("%.0f%%", rate*100),
	}).Warn("Warmup auto-paused on spam rate")
	return true, nil
}

// validateDNS gates warmup on the sending domain resolving properly.
func (w *WarmupMailer) validateDNS(ctx context.Context, account *models.EmailAccount) (bool, error) {
	report, err := w.dns.CheckDomain(ctx, account.Domain())
	if err != nil {
		return false, err
	}
	now := w.now()
	account.DNSCheckedAt = &now
	account.DNSValid = report.Valid()
	updates := map[string]interface{}{
		"dns_valid":      account.DNSValid,
		"dns_checked_at": now,
	}
	if !account.DNSValid {
		msg := fmt.Sprintf("domain %s failed DNS validation (mx=%t spf=%t dkim=%t)",
			report.Domain, report.HasMX, report.HasSPF, report.HasDKIM)
		updates["last_error"] = msg
		w.logger.WithField("account", account.Email).Warn(msg)
	}
	if err := w.db.Model(account).Updates(updates).Error; err != nil {
		return false, err
	}
	return account.DNSValid, nil
}

// maybeComplete finishes warmup once cumulative volume and reputation
// both clear the configured thresholds. Elapsed ramp time alone never
// completes warmup: a mailbox that sat idle for a month has proven
// nothing.
func (w *WarmupMailer) maybeComplete(account *models.EmailAccount) bool {
	if account.WarmupStartedAt == nil {
		return false
	}
	ws := account.WarmupSettings
	if account.WarmupTotalSent < ws.MinTotalSent {
		return false
	}
	if account.Reputation < ws.MinReputation {
		return false
	}
	account.WarmupStatus = models.WarmupCompleted
	if err := w.db.Model(account).Update("warmup_status", models.WarmupCompleted).Error; err != nil {
		w.logger.WithError(err).Error("Failed to complete warmup")
		return false
	}
	w.logger.WithField("account", account.Email).Info("Warmup completed")
	return true
}

// resetDailyIfNeeded zeroes the per-day warmup counter on date change.
func (w *WarmupMailer) resetDailyIfNeeded(account *models.EmailAccount) {
	now := w.now()
	if sameDay(account.LastResetDate, now) {
		return
	}
	account.WarmupSentToday = 0
	account.EmailsSentToday = 0
	account.LastResetDate = now
	if err := w.db.Model(account).Updates(map[string]interface{}{
		"warmup_sent_today": 0,
		"emails_sent_today": 0,
		"last_reset_date":   now,
	}).Error; err != nil {
		w.logger.WithError(err).Warn("Failed to reset daily warmup counter")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
