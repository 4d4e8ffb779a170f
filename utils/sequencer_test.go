package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"coldmail/models"
)

func step(n, delayDays int, cond models.StepConditions) models.SequenceStep {
	return models.SequenceStep{
		StepNumber: n,
		Subject:    "Subject {{first_name}}",
		Content:    "Body for {{first_name}}",
		DelayDays:  delayDays,
		Conditions: cond,
	}
}

func enrollment(stepIndex int, lastStepAt *time.Time) *models.CampaignLead {
	cl := &models.CampaignLead{
		Status:     models.EnrollInProgress,
		StepIndex:  stepIndex,
		LastStepAt: lastStepAt,
	}
	cl.CreatedAt = time.Now().Add(-30 * 24 * time.Hour)
	return cl
}

func TestAdvanceLeadSendsWhenDue(t *testing.T) {
	steps := []models.SequenceStep{step(1, 0, models.StepConditions{})}
	cl := enrollment(0, nil)
	cl.Status = models.EnrollPending

	adv := AdvanceLead(cl, steps, StepEvents{}, time.Now())
	assert.Equal(t, DecisionSend, adv.Decision)
	assert.Equal(t, 1, adv.Step.StepNumber)
}

func TestAdvanceLeadWaitsForDelay(t *testing.T) {
	lastStep := time.Now().Add(-24 * time.Hour)
	steps := []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
		step(2, 3, models.StepConditions{}),
	}
	cl := enrollment(1, &lastStep)

	adv := AdvanceLead(cl, steps, StepEvents{}, time.Now())
	assert.Equal(t, DecisionWait, adv.Decision)

	// Three days later the step is due.
	adv = AdvanceLead(cl, steps, StepEvents{}, time.Now().Add(3*24*time.Hour))
	assert.Equal(t, DecisionSend, adv.Decision)
}

func TestAdvanceLeadSkipsWhenGateFails(t *testing.T) {
	lastStep := time.Now().Add(-48 * time.Hour)
	steps := []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
		step(2, 1, models.StepConditions{IfOpened: Pointer(true)}),
		step(3, 1, models.StepConditions{}),
	}
	cl := enrollment(1, &lastStep)

	// Lead never opened: the gated step is skipped, not sent.
	adv := AdvanceLead(cl, steps, StepEvents{Opened: false}, time.Now())
	require.Equal(t, DecisionSkip, adv.Decision)
	assert.Equal(t, 2, adv.Step.StepNumber)

	// After the cursor moves past it, the next step is evaluated.
	cl.StepIndex++
	adv = AdvanceLead(cl, steps, StepEvents{Opened: false}, time.Now())
	assert.Equal(t, DecisionSend, adv.Decision)
	assert.Equal(t, 3, adv.Step.StepNumber)
}

func TestAdvanceLeadGatePassesOnEvent(t *testing.T) {
	lastStep := time.Now().Add(-48 * time.Hour)
	steps := []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
		step(2, 1, models.StepConditions{IfOpened: Pointer(true)}),
	}
	cl := enrollment(1, &lastStep)

	adv := AdvanceLead(cl, steps, StepEvents{Opened: true}, time.Now())
	assert.Equal(t, DecisionSend, adv.Decision)
	assert.Equal(t, 2, adv.Step.StepNumber)
}

func TestAdvanceLeadNegativeGate(t *testing.T) {
	lastStep := time.Now().Add(-48 * time.Hour)
	steps := []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
		step(2, 1, models.StepConditions{IfReplied: Pointer(false)}),
	}
	cl := enrollment(1, &lastStep)

	// ifReplied=false means "only if they have NOT replied".
	adv := AdvanceLead(cl, steps, StepEvents{Replied: true}, time.Now())
	assert.Equal(t, DecisionSkip, adv.Decision)

	adv = AdvanceLead(cl, steps, StepEvents{Replied: false}, time.Now())
	assert.Equal(t, DecisionSend, adv.Decision)
}

func TestAdvanceLeadTerminalStatesAbsorb(t *testing.T) {
	steps := []models.SequenceStep{step(1, 0, models.StepConditions{})}
	for _, status := range []string{
		models.EnrollReplied, models.EnrollBounced,
		models.EnrollUnsubscribed, models.EnrollCompleted, models.EnrollSkipped,
	} {
		cl := enrollment(0, nil)
		cl.Status = status
		adv := AdvanceLead(cl, steps, StepEvents{}, time.Now())
		assert.Equal(t, DecisionComplete, adv.Decision, "status %s", status)
	}
}

func TestAdvanceLeadCompletesPastLastStep(t *testing.T) {
	steps := []models.SequenceStep{step(1, 0, models.StepConditions{})}
	cl := enrollment(1, nil)

	adv := AdvanceLead(cl, steps, StepEvents{}, time.Now())
	assert.Equal(t, DecisionComplete, adv.Decision)
}

type captureTransport struct {
	mu   sync.Mutex
	sent []*gomail.Message
}

func (ct *captureTransport) transport(_ *models.EmailAccount, _ string, msg *gomail.Message) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.sent = append(ct.sent, msg)
	return nil
}

func (ct *captureTransport) count() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.sent)
}

func seqFixture(t *testing.T) (*gorm.DB, *Sequencer, *captureTransport, *models.EmailAccount) {
	configureTestSecrets(t)
	db := newTestDB(t)
	logger := newTestLogger()

	guard := NewDeliverabilityGuard(db, logger)
	throttler := NewThrottler(NewMemoryCounterStore(), true, logger)
	throttler.now = fixedTime(tuesdayMorning)
	mailer := NewMailer(db, guard, "http://localhost:8080", logger)

	capture := &captureTransport{}
	mailer.SetTransport(capture.transport)

	account := &models.EmailAccount{
		Name:         "Ops",
		Email:        "ops@ours.com",
		Provider:     "smtp",
		SMTPHost:     "smtp.ours.com",
		SMTPPort:     587,
		SMTPUsername: "ops@ours.com",
		SMTPPassword: encrypted(t, "secret"),
		DailyLimit:   100,
		IsActive:     true,
	}
	require.NoError(t, db.Create(account).Error)

	return db, NewSequencer(db, mailer, throttler, logger), capture, account
}

func seqCampaign(t *testing.T, db *gorm.DB, accountID uint, steps []models.SequenceStep) *models.Campaign {
	campaign := &models.Campaign{
		Name:       "Launch",
		Status:     models.CampaignActive,
		AccountIDs: []uint{accountID},
		Sequence:   steps,
		Throttle:   models.ThrottleSettings{EmailsPerHour: 100},
		Tracking:   models.TrackingSettings{OpenTracking: true, ClickTracking: false},
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

func enroll(t *testing.T, db *gorm.DB, campaignID uint, lead *models.Lead) *models.CampaignLead {
	require.NoError(t, db.Create(lead).Error)
	cl := &models.CampaignLead{
		CampaignID: campaignID,
		LeadID:     lead.ID,
		Status:     models.EnrollPending,
	}
	require.NoError(t, db.Create(cl).Error)
	return cl
}

func TestRunCampaignTickSendsFirstStep(t *testing.T) {
	db, seq, capture, account := seqFixture(t)
	campaign := seqCampaign(t, db, account.ID, []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
		step(2, 3, models.StepConditions{}),
	})
	cl := enroll(t, db, campaign.ID, &models.Lead{Email: "jane@acme.com", FirstName: "Jane"})

	require.NoError(t, seq.RunCampaignTick(context.Background(), campaign))

	assert.Equal(t, 1, capture.count())

	require.NoError(t, db.First(cl, cl.ID).Error)
	assert.Equal(t, models.EnrollInProgress, cl.Status)
	assert.Equal(t, 1, cl.StepIndex)
	assert.NotEmpty(t, cl.LastMessageID)

	var log models.EmailLog
	require.NoError(t, db.Where("lead_id = ?", cl.LeadID).First(&log).Error)
	assert.Equal(t, models.LogTypeCampaign, log.Type)
	assert.Equal(t, "jane@acme.com", log.ToEmail)
	assert.Equal(t, "Subject Jane", log.Subject)

	var got models.Campaign
	require.NoError(t, db.First(&got, campaign.ID).Error)
	assert.Equal(t, 1, got.Stats.Sent)
}

func TestRunCampaignTickExcludesLeadOnTemplateError(t *testing.T) {
	db, seq, capture, account := seqFixture(t)
	campaign := seqCampaign(t, db, account.ID, []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
	})
	// FirstName empty: {{first_name}} cannot resolve.
	broken := enroll(t, db, campaign.ID, &models.Lead{Email: "broken@acme.com"})
	fine := enroll(t, db, campaign.ID, &models.Lead{Email: "jane@acme.com", FirstName: "Jane"})

	require.NoError(t, seq.RunCampaignTick(context.Background(), campaign))

	require.NoError(t, db.First(broken, broken.ID).Error)
	assert.Equal(t, models.EnrollSkipped, broken.Status)

	require.NoError(t, db.First(fine, fine.ID).Error)
	assert.Equal(t, models.EnrollCompleted, fine.Status)
	assert.Equal(t, 1, capture.count(), "only the healthy lead gets mail")
}

func TestRunCampaignTickTemplateErrorKeepsThrottleSlot(t *testing.T) {
	db, seq, capture, account := seqFixture(t)
	require.NoError(t, db.Model(account).Update("daily_limit", 1).Error)
	account.DailyLimit = 1

	campaign := seqCampaign(t, db, account.ID, []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
	})
	// The broken lead is evaluated first; its exclusion must leave the
	// single admitted slot for the healthy one.
	broken := enroll(t, db, campaign.ID, &models.Lead{Email: "broken@acme.com"})
	fine := enroll(t, db, campaign.ID, &models.Lead{Email: "jane@acme.com", FirstName: "Jane"})

	require.NoError(t, seq.RunCampaignTick(context.Background(), campaign))

	assert.Equal(t, 1, capture.count())

	require.NoError(t, db.First(broken, broken.ID).Error)
	assert.Equal(t, models.EnrollSkipped, broken.Status)

	require.NoError(t, db.First(fine, fine.ID).Error)
	assert.Equal(t, models.EnrollCompleted, fine.Status)
}

func TestRunCampaignTickSkipsBlacklistedRecipient(t *testing.T) {
	db, seq, capture, account := seqFixture(t)
	campaign := seqCampaign(t, db, account.ID, []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
	})
	cl := enroll(t, db, campaign.ID, &models.Lead{Email: "joe@mailinator.com", FirstName: "Joe"})

	require.NoError(t, seq.RunCampaignTick(context.Background(), campaign))

	assert.Equal(t, 0, capture.count())
	require.NoError(t, db.First(cl, cl.ID).Error)
	assert.Equal(t, models.EnrollSkipped, cl.Status)
}

func TestRunCampaignTickHonorsBouncedLead(t *testing.T) {
	db, seq, capture, account := seqFixture(t)
	campaign := seqCampaign(t, db, account.ID, []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
	})
	lead := &models.Lead{Email: "gone@acme.com", FirstName: "Gone", Status: models.LeadBounced}
	cl := enroll(t, db, campaign.ID, lead)

	require.NoError(t, seq.RunCampaignTick(context.Background(), campaign))

	assert.Equal(t, 0, capture.count())
	require.NoError(t, db.First(cl, cl.ID).Error)
	assert.Equal(t, models.EnrollBounced, cl.Status)
}

func TestRunCampaignTickRespectsDailyCap(t *testing.T) {
	db, seq, capture, account := seqFixture(t)
	require.NoError(t, db.Model(account).Update("daily_limit", 3).Error)
	account.DailyLimit = 3

	campaign := seqCampaign(t, db, account.ID, []models.SequenceStep{
		step(1, 0, models.StepConditions{}),
	})
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"} {
		enroll(t, db, campaign.ID, &models.Lead{Email: email, FirstName: "Lead"})
	}

	require.NoError(t, seq.RunCampaignTick(context.Background(), campaign))

	assert.Equal(t, 3, capture.count())

	var pending int64
	db.Model(&models.CampaignLead{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, models.EnrollPending).
		Count(&pending)
	assert.Equal(t, int64(2), pending, "capped leads stay pending for the next day")
}
