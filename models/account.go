package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Warmup status values for EmailAccount.WarmupStatus.
const (
	WarmupNotStarted = "not-started"
	WarmupInProgress = "in-progress"
	WarmupPaused     = "paused"
	WarmupCompleted  = "completed"
)

// WarmupSettings is embedded in EmailAccount and controls the ramp-up
// behaviour of the warmup controller for that mailbox. MinTotalSent and
// MinReputation are the completion thresholds: warmup finishes only
// once cumulative volume and reputation both clear them.
type WarmupSettings struct {
	Enabled           bool   `gorm:"default:false" json:"enabled"`
	DailyWarmupEmails int    `gorm:"default:5" json:"dailyWarmupEmails"`
	MaxDailyEmails    int    `gorm:"default:40" json:"maxDailyEmails"`
	RampUpDays        int    `gorm:"default:30" json:"rampUpDays"`
	MinTotalSent      int    `gorm:"default:100" json:"minTotalSent"`
	MinReputation     int    `gorm:"default:90" json:"minReputation"`
	AutoReply         bool   `gorm:"default:true" json:"autoReply"`
	ReplyDelayMinutes int    `gorm:"default:30" json:"replyDelayMinutes"`
	MaxThreadLength   int    `gorm:"default:3" json:"maxThreadLength"`
	StartTime         string `gorm:"default:'09:00'" json:"startTime"`
	EndTime           string `gorm:"default:'17:00'" json:"endTime"`
}

// EmailAccount is an operator-owned mailbox used for sending campaign
// emails, warming up, and receiving replies over IMAP.
type EmailAccount struct {
	gorm.Model
	Name     string `gorm:"not null" json:"name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Provider string `gorm:"default:'smtp'" json:"provider"` // smtp, gmail, outlook

	SMTPHost       string `json:"smtpHost"`
	SMTPPort       int    `gorm:"default:587" json:"smtpPort"`
	SMTPUsername   string `json:"smtpUsername"`
	SMTPPassword   string `json:"-"` // encrypted at rest
	SMTPEncryption string `gorm:"default:'tls'" json:"smtpEncryption"` // ssl, tls, none

	IMAPHost       string `json:"imapHost"`
	IMAPPort       int    `gorm:"default:993" json:"imapPort"`
	IMAPUsername   string `json:"imapUsername"`
	IMAPPassword   string `json:"-"` // encrypted at rest
	IMAPEncryption string `gorm:"default:'ssl'" json:"imapEncryption"`
	IMAPMailbox    string `gorm:"default:'INBOX'" json:"imapMailbox"`

	// OAuth providers keep a refresh token instead of a password.
	OAuthRefreshToken string `json:"-"`

	DailyLimit      int       `gorm:"default:50" json:"dailyLimit"`
	EmailsSentToday int       `gorm:"default:0" json:"emailsSentToday"`
	TotalSent       int       `gorm:"default:0" json:"totalSent"`
	LastResetDate   time.Time `json:"lastResetDate"`

	IsActive   bool    `gorm:"default:true" json:"isActive"`
	LastError  *string `json:"lastError,omitempty"`
	Reputation int     `gorm:"default:100" json:"reputation"` // 0-100

	WarmupStatus    string         `gorm:"default:'not-started'" json:"warmupStatus"`
	WarmupStartedAt *time.Time     `json:"warmupStartedAt,omitempty"`
	WarmupSentToday int            `gorm:"default:0" json:"warmupSentToday"`
	WarmupTotalSent int            `gorm:"default:0" json:"warmupTotalSent"`
	WarmupSettings  WarmupSettings `gorm:"embedded;embeddedPrefix:warmup_" json:"warmupSettings"`

	DNSValid     bool       `gorm:"default:false" json:"dnsValid"`
	DNSCheckedAt *time.Time `json:"dnsCheckedAt,omitempty"`

	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

// Domain returns the part of the account address after the @.
func (a *EmailAccount) Domain() string {
	if i := strings.LastIndex(a.Email, "@"); i >= 0 {
		return a.Email[i+1:]
	}
	return ""
}

// Sanitize strips credentials before the account is returned over the API.
func (a *EmailAccount) Sanitize() {
	a.SMTPPassword = ""
	a.IMAPPassword = ""
	a.OAuthRefreshToken = ""
}
