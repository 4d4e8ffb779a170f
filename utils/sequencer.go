package utils

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
)

// Decision is the outcome of evaluating a lead against its sequence.
type Decision int

const (
	DecisionWait Decision = iota
	DecisionSend
	DecisionSkip
	DecisionComplete
)

func (d Decision) String() string {
	switch d {
	case DecisionSend:
		return "send"
	case DecisionSkip:
		return "skip"
	case DecisionComplete:
		return "complete"
	default:
		return "wait"
	}
}

// StepEvents captures what the lead did since the previous step was
// sent. Condition gates evaluate against these.
type StepEvents struct {
	Opened  bool
	Replied bool
}

// Advance is the decision plus the step it applies to (nil for
// Wait/Complete).
type Advance struct {
	Decision Decision
	Step     *models.SequenceStep
}

// AdvanceLead evaluates the next step for one enrollment. Pure: all
// state comes in through arguments. Terminal enrollments always
// complete; a step whose delay has not elapsed waits; a step whose
// condition gate fails is skipped (the caller bumps the cursor and
// re-evaluates immediately); otherwise the step is due to send.
func AdvanceLead(cl *models.CampaignLead, steps []models.SequenceStep, events StepEvents, now time.Time) Advance {
	if cl.Terminal() {
		return Advance{Decision: DecisionComplete}
	}
	if cl.StepIndex >= len(steps) {
		return Advance{Decision: DecisionComplete}
	}

	step := &steps[cl.StepIndex]

	anchor := cl.CreatedAt
	if cl.LastStepAt != nil {
		anchor = *cl.LastStepAt
	}
	due := anchor.Add(time.Duration(step.DelayDays) * 24 * time.Hour)
	if now.Before(due) {
		return Advance{Decision: DecisionWait, Step: step}
	}

	if !gateSatisfied(step.Conditions, events) {
		return Advance{Decision: DecisionSkip, Step: step}
	}
	return Advance{Decision: DecisionSend, Step: step}
}

func gateSatisfied(cond models.StepConditions, events StepEvents) bool {
	if cond.IfOpened != nil && *cond.IfOpened != events.Opened {
		return false
	}
	if cond.IfReplied != nil && *cond.IfReplied != events.Replied {
		return false
	}
	return true
}

// Sequencer walks active campaigns and sends due steps through the
// shared transport, under throttler admission and guard checks.
type Sequencer struct {
	db        *gorm.DB
	mailer    *Mailer
	throttler *Throttler
	logger    *logrus.Entry
	now       func() time.Time
}

func NewSequencer(db *gorm.DB, mailer *Mailer, throttler *Throttler, logger *logrus.Logger) *Sequencer {
	return &Sequencer{
		db:        db,
		mailer:    mailer,
		throttler: throttler,
		logger:    logger.WithField("component", "sequencer"),
		now:       time.Now,
	}
}

// policyFor merges the account cap with the campaign schedule/throttle.
func policyFor(account *models.EmailAccount, campaign *models.Campaign) ThrottlePolicy {
	return ThrottlePolicy{
		DailyLimit:   account.DailyLimit,
		HourlyLimit:  campaign.Throttle.EmailsPerHour,
		DelayBetween: time.Duration(campaign.Throttle.DelayBetweenEmails) * time.Second,
		Jitter:       campaign.Throttle.RandomizeDelay,
		Timezone:     campaign.Schedule.Timezone,
		WorkingDays:  campaign.Schedule.WorkingDays,
		StartTime:    campaign.Schedule.StartTime,
		EndTime:      campaign.Schedule.EndTime,
	}
}

// RunCampaignTick advances every enrolled lead of one campaign by at
// most one step.
func (s *Sequencer) RunCampaignTick(ctx context.Context, campaign *models.Campaign) error {
	steps := campaign.Sequence
	if len(steps) == 0 {
		if err := s.db.Where("campaign_id = ?", campaign.ID).
			Order("step_number asc").Find(&steps).Error; err != nil {
			return err
		}
		campaign.Sequence = steps
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })

	var accounts []models.EmailAccount
	if err := s.db.Where("id IN ? AND is_active = ?", campaign.AccountIDs, true).
		Find(&accounts).Error; err != nil {
		return err
	}
	if len(accounts) == 0 {
		s.logger.WithField("campaign", campaign.ID).Warn("Campaign has no active accounts")
		return nil
	}

	var enrollments []models.CampaignLead
	if err := s.db.Where("campaign_id = ? AND status IN ?",
		campaign.ID, []string{models.EnrollPending, models.EnrollInProgress}).
		Find(&enrollments).Error; err != nil {
		return err
	}

	active := 0
	for i := range enrollments {
		cl := &enrollments[i]
		if err := s.advanceEnrollment(ctx, campaign, steps, &accounts, cl); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logger.WithFields(logrus.Fields{
				"campaign": campaign.ID,
				"lead":     cl.LeadID,
			}).WithError(err).Error("Failed to advance lead")
		}
		if !cl.Terminal() {
			active++
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if active == 0 && len(enrollments) > 0 {
		s.completeCampaign(campaign)
	}
	return nil
}

func (s *Sequencer) advanceEnrollment(ctx context.Context, campaign *models.Campaign, steps []models.SequenceStep, accounts *[]models.EmailAccount, cl *models.CampaignLead) error {
	var lead models.Lead
	if err := s.db.First(&lead, cl.LeadID).Error; err != nil {
		return err
	}

	// Absorbing lead states win over whatever the cursor says.
	if lead.Status == models.LeadBounced || lead.Status == models.LeadUnsubscribed {
		cl.Status = map[string]string{
			models.LeadBounced:      models.EnrollBounced,
			models.LeadUnsubscribed: models.EnrollUnsubscribed,
		}[lead.Status]
		return s.db.Save(cl).Error
	}

	events := s.eventsSincePreviousStep(campaign.ID, cl)

	for {
		adv := AdvanceLead(cl, steps, events, s.now())
		switch adv.Decision {
		case DecisionWait:
			return nil

		case DecisionComplete:
			if !cl.Terminal() {
				cl.Status = models.EnrollCompleted
				return s.db.Save(cl).Error
			}
			return nil

		case DecisionSkip:
			s.logger.WithFields(logrus.Fields{
				"campaign": campaign.ID,
				"lead":     cl.LeadID,
				"step":     adv.Step.StepNumber,
			}).Debug("Step condition not met, skipping")
			cl.StepIndex++
			if err := s.db.Save(cl).Error; err != nil {
				return err
			}
			continue

		case DecisionSend:
			return s.sendStep(ctx, campaign, adv.Step, accounts, cl, &lead)
		}
	}
}

// eventsSincePreviousStep reads open/reply marks off the log row of the
// previously sent step.
func (s *Sequencer) eventsSincePreviousStep(campaignID uint, cl *models.CampaignLead) StepEvents {
	if cl.LastMessageID == "" {
		return StepEvents{}
	}
	var log models.EmailLog
	err := s.db.Where("campaign_id = ? AND lead_id = ? AND message_id = ?",
		campaignID, cl.LeadID, cl.LastMessageID).First(&log).Error
	if err != nil {
		return StepEvents{}
	}
	return StepEvents{
		Opened:  log.OpenedAt != nil,
		Replied: log.RepliedAt != nil,
	}
}

func (s *Sequencer) sendStep(ctx context.Context, campaign *models.Campaign, step *models.SequenceStep, accounts *[]models.EmailAccount, cl *models.CampaignLead, lead *models.Lead) error {
	// Render before asking the throttler: a lead excluded over a bad
	// template must not burn an admitted slot another lead could use.
	subject, err := RenderTemplate(step.Subject, lead)
	var content string
	if err == nil {
		content, err = RenderTemplate(step.Content, lead)
	}
	if err != nil {
		var tmplErr *TemplateError
		if errors.As(err, &tmplErr) {
			s.logger.WithFields(logrus.Fields{
				"campaign": campaign.ID,
				"lead":     lead.Email,
				"variable": tmplErr.Variable,
			}).Warn("Lead excluded: template variable unresolved")
			cl.Status = models.EnrollSkipped
			return s.db.Save(cl).Error
		}
		return err
	}

	account, ok := s.pickAccount(ctx, campaign, accounts)
	if !ok {
		// All accounts throttled or capped; the lead stays due.
		return nil
	}
	return s.deliver(ctx, campaign, step, account, cl, lead, subject, content)
}

func (s *Sequencer) deliver(ctx context.Context, campaign *models.Campaign, step *models.SequenceStep, account *models.EmailAccount, cl *models.CampaignLead, lead *models.Lead, subject, content string) error {
	entry, err := s.mailer.Send(ctx, account, &OutgoingEmail{
		To:          lead.Email,
		ToName:      lead.FullName(),
		Subject:     subject,
		Content:     content,
		Type:        models.LogTypeCampaign,
		CampaignID:  &campaign.ID,
		LeadID:      &lead.ID,
		StepNumber:  step.StepNumber,
		TrackOpens:  campaign.Tracking.OpenTracking,
		TrackClicks: campaign.Tracking.ClickTracking,
	})
	if errors.Is(err, ErrRecipientBlacklisted) {
		cl.Status = models.EnrollSkipped
		return s.db.Save(cl).Error
	}
	if err != nil {
		return err
	}

	now := s.now()
	cl.StepIndex++
	cl.LastStepAt = &now
	cl.LastMessageID = entry.MessageID
	if cl.StepIndex >= len(campaign.Sequence) {
		cl.Status = models.EnrollCompleted
	} else {
		cl.Status = models.EnrollInProgress
	}
	if err := s.db.Save(cl).Error; err != nil {
		return err
	}

	lead.AdvanceStatus(models.LeadContacted)
	lead.LastContactedAt = &now
	if err := s.db.Save(lead).Error; err != nil {
		return err
	}

	return s.db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Updates(map[string]interface{}{
		"stats_sent":      gorm.Expr("stats_sent + 1"),
		"stats_delivered": gorm.Expr("stats_delivered + 1"),
	}).Error
}

// pickAccount rotates to the admitted account with the most remaining
// daily capacity.
func (s *Sequencer) pickAccount(ctx context.Context, campaign *models.Campaign, accounts *[]models.EmailAccount) (*models.EmailAccount, bool) {
	sorted := *accounts
	sort.SliceStable(sorted, func(i, j int) bool {
		return (sorted[i].DailyLimit - sorted[i].EmailsSentToday) >
			(sorted[j].DailyLimit - sorted[j].EmailsSentToday)
	})
	for i := range sorted {
		account := &sorted[i]
		if !account.IsActive {
			continue
		}
		ok, err := s.throttler.Admit(ctx, account.ID, "campaign", policyFor(account, campaign))
		if err != nil {
			s.logger.WithError(err).Warn("Throttle admission failed")
			continue
		}
		if ok {
			account.EmailsSentToday++
			return account, true
		}
	}
	return nil, false
}

func (s *Sequencer) completeCampaign(campaign *models.Campaign) {
	now := s.now()
	if err := s.db.Model(campaign).Updates(map[string]interface{}{
		"status":       models.CampaignCompleted,
		"completed_at": now,
	}).Error; err != nil {
		s.logger.WithError(err).Error("Failed to mark campaign completed")
		return
	}
	s.logger.WithField("campaign", campaign.ID).Info("Campaign completed")
}
