package models

import (
	"time"

	"gorm.io/gorm"
)

// Sync status values for InboxSync.SyncStatus.
const (
	SyncIdle    = "idle"
	SyncRunning = "syncing"
	SyncError   = "error"
)

// EmailAddress is a parsed name/address pair stored as JSON.
type EmailAddress struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// InboxMessage is one message pulled from an account's IMAP inbox.
// MessageID is unique across the table: re-fetching the same message in
// a later sync window must not create a second row.
type InboxMessage struct {
	gorm.Model
	AccountID uint `gorm:"index;not null" json:"accountId"`

	MessageID string `gorm:"uniqueIndex;not null" json:"messageId"`
	ThreadID  string `gorm:"index" json:"threadId"`
	InReplyTo string `json:"inReplyTo,omitempty"`
	UID       uint32 `json:"uid"`

	FromName  string         `json:"fromName"`
	FromEmail string         `gorm:"index" json:"fromEmail"`
	To        []EmailAddress `gorm:"serializer:json" json:"to"`
	Subject   string         `json:"subject"`

	TextBody string `gorm:"type:text" json:"textBody"`
	HTMLBody string `gorm:"type:text" json:"htmlBody"`

	// SentByMe marks messages whose sender is one of the operator's own
	// accounts, so thread views can tell both sides apart.
	SentByMe bool `gorm:"default:false" json:"sentByMe"`

	IsRead    bool `gorm:"default:false" json:"isRead"`
	IsStarred bool `gorm:"default:false" json:"isStarred"`
	IsReply   bool `gorm:"default:false" json:"isReply"`
	IsBounce  bool `gorm:"default:false" json:"isBounce"`
	IsWarmup  bool `gorm:"default:false" json:"isWarmup"`

	Labels      []string `gorm:"serializer:json" json:"labels,omitempty"`
	Attachments []string `gorm:"serializer:json" json:"attachments,omitempty"`

	CampaignID *uint `json:"campaignId,omitempty"`
	LeadID     *uint `json:"leadId,omitempty"`

	ReceivedAt time.Time `gorm:"index" json:"receivedAt"`
}

// InboxSync is the per-account sync cursor. LastUID only moves forward,
// and only past messages that were fully processed.
type InboxSync struct {
	gorm.Model
	AccountID uint `gorm:"uniqueIndex;not null" json:"accountId"`

	LastUID      uint32 `gorm:"default:0" json:"lastUid"`
	SyncStatus   string `gorm:"default:'idle'" json:"syncStatus"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`
	EmailsProcessed int        `gorm:"default:0" json:"emailsProcessed"`
	RepliesFound    int        `gorm:"default:0" json:"repliesFound"`
	BouncesFound    int        `gorm:"default:0" json:"bouncesFound"`
	SpamPlacements  int        `gorm:"default:0" json:"spamPlacements"`
}
