package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailLog type values.
const (
	LogTypeCampaign = "campaign"
	LogTypeWarmup   = "warmup"
	LogTypeReply    = "reply"
)

// EmailLog status values.
const (
	LogSent    = "sent"
	LogOpened  = "opened"
	LogClicked = "clicked"
	LogReplied = "replied"
	LogBounced = "bounced"
	LogFailed  = "failed"
)

// EmailLog records every outgoing message. It doubles as the sent-message
// index the classifier matches inbound In-Reply-To / References headers
// and reply subjects against.
type EmailLog struct {
	gorm.Model
	AccountID  uint  `gorm:"index;not null" json:"accountId"`
	CampaignID *uint `gorm:"index" json:"campaignId,omitempty"`
	LeadID     *uint `gorm:"index" json:"leadId,omitempty"`

	Type       string `gorm:"index;not null" json:"type"`
	StepNumber int    `gorm:"default:0" json:"stepNumber"`

	ToEmail           string `gorm:"index" json:"toEmail"`
	Subject           string `json:"subject"`
	NormalizedSubject string `gorm:"index" json:"-"`
	MessageID         string `gorm:"index;not null" json:"messageId"`
	TrackingToken     string `gorm:"index" json:"-"`

	Status       string     `gorm:"default:'sent'" json:"status"`
	SentAt       time.Time  `json:"sentAt"`
	OpenedAt     *time.Time `json:"openedAt,omitempty"`
	ClickedAt    *time.Time `json:"clickedAt,omitempty"`
	RepliedAt    *time.Time `json:"repliedAt,omitempty"`
	BouncedAt    *time.Time `json:"bouncedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}
