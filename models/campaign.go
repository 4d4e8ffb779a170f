package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign status values.
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignStopped   = "stopped"
)

// ScheduleSettings restricts sending to working days and hours in the
// campaign timezone.
type ScheduleSettings struct {
	Timezone    string `gorm:"default:'UTC'" json:"timezone"`
	WorkingDays []int  `gorm:"serializer:json" json:"workingDays"` // 0=Sunday .. 6=Saturday
	StartTime   string `gorm:"default:'09:00'" json:"startTime"`
	EndTime     string `gorm:"default:'17:00'" json:"endTime"`
}

// ThrottleSettings caps the campaign send rate per account.
type ThrottleSettings struct {
	EmailsPerHour      int  `gorm:"default:10" json:"emailsPerHour"`
	DelayBetweenEmails int  `gorm:"default:300" json:"delayBetweenEmails"` // seconds
	RandomizeDelay     bool `gorm:"default:true" json:"randomizeDelay"`
}

// TrackingSettings toggles open/click instrumentation on outgoing steps.
type TrackingSettings struct {
	OpenTracking  bool `gorm:"default:true" json:"openTracking"`
	ClickTracking bool `gorm:"default:true" json:"clickTracking"`
}

// CampaignStats holds denormalized counters updated as the campaign runs.
type CampaignStats struct {
	TotalLeads   int `gorm:"default:0" json:"totalLeads"`
	Sent         int `gorm:"default:0" json:"emailsSent"`
	Delivered    int `gorm:"default:0" json:"delivered"`
	Opened       int `gorm:"default:0" json:"opened"`
	Clicked      int `gorm:"default:0" json:"clicked"`
	Replied      int `gorm:"default:0" json:"replied"`
	Bounced      int `gorm:"default:0" json:"bounced"`
	Unsubscribed int `gorm:"default:0" json:"unsubscribed"`
}

func (s CampaignStats) OpenRate() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.Opened) / float64(s.Delivered) * 100
}

func (s CampaignStats) ReplyRate() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.Replied) / float64(s.Delivered) * 100
}

func (s CampaignStats) BounceRate() float64 {
	if s.Sent == 0 {
		return 0
	}
	return float64(s.Bounced) / float64(s.Sent) * 100
}

// Campaign is a multi-step outreach sequence sent from one or more
// operator accounts to an enrolled set of leads.
type Campaign struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"`

	AccountIDs []uint         `gorm:"serializer:json" json:"accountIds"`
	Sequence   []SequenceStep `gorm:"foreignKey:CampaignID" json:"sequence"`

	Schedule ScheduleSettings `gorm:"embedded;embeddedPrefix:schedule_" json:"schedule"`
	Throttle ThrottleSettings `gorm:"embedded;embeddedPrefix:throttle_" json:"throttle"`
	Tracking TrackingSettings `gorm:"embedded;embeddedPrefix:tracking_" json:"tracking"`
	Stats    CampaignStats    `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StepConditions gates a sequence step on what the lead did since the
// previous step. Nil means the gate is not set.
type StepConditions struct {
	IfOpened  *bool `gorm:"column:if_opened" json:"ifOpened,omitempty"`
	IfReplied *bool `gorm:"column:if_replied" json:"ifReplied,omitempty"`
}

// SequenceStep is one email in a campaign sequence. DelayDays counts
// from the previous step's send (or from enrollment for the first step).
type SequenceStep struct {
	gorm.Model
	CampaignID uint           `gorm:"index;not null" json:"campaignId"`
	StepNumber int            `gorm:"not null" json:"stepNumber"`
	Subject    string         `gorm:"not null" json:"subject"`
	Content    string         `gorm:"type:text" json:"content"`
	DelayDays  int            `gorm:"default:0" json:"delayDays"`
	Conditions StepConditions `gorm:"embedded;embeddedPrefix:cond_" json:"conditions"`
}

// CampaignLead enrollment status values. Terminal states are absorbing.
const (
	EnrollPending      = "pending"
	EnrollInProgress   = "in-progress"
	EnrollCompleted    = "completed"
	EnrollReplied      = "replied"
	EnrollBounced      = "bounced"
	EnrollUnsubscribed = "unsubscribed"
	EnrollSkipped      = "skipped"
)

// CampaignLead is the per-lead sequence cursor for one campaign.
type CampaignLead struct {
	gorm.Model
	CampaignID    uint       `gorm:"uniqueIndex:idx_campaign_lead;not null" json:"campaignId"`
	LeadID        uint       `gorm:"uniqueIndex:idx_campaign_lead;not null" json:"leadId"`
	Status        string     `gorm:"default:'pending'" json:"status"`
	StepIndex     int        `gorm:"default:0" json:"stepIndex"` // next step to evaluate
	LastStepAt    *time.Time `json:"lastStepAt,omitempty"`
	LastMessageID string     `json:"lastMessageId,omitempty"`
}

// Terminal reports whether the enrollment reached an absorbing state.
func (cl *CampaignLead) Terminal() bool {
	switch cl.Status {
	case EnrollCompleted, EnrollReplied, EnrollBounced, EnrollUnsubscribed, EnrollSkipped:
		return true
	}
	return false
}
