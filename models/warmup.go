package models

import (
	"time"

	"gorm.io/gorm"
)

// WarmupEmail status values.
const (
	WarmupEmailPending = "pending"
	WarmupEmailSent    = "sent"
	WarmupEmailOpened  = "opened"
	WarmupEmailReplied = "replied"
	WarmupEmailFailed  = "failed"
	WarmupEmailSpam    = "spam"
)

// WarmupEmail records one warmup message exchanged between two operator
// accounts. The Token travels in a correlation header so the receiving
// side can tie the inbound copy back to this row.
type WarmupEmail struct {
	gorm.Model
	FromAccountID uint `gorm:"index;not null" json:"fromAccountId"`
	ToAccountID   uint `gorm:"index;not null" json:"toAccountId"`

	Subject string `json:"subject"`
	Content string `gorm:"type:text" json:"content"`

	MessageID string `gorm:"index" json:"messageId"`
	ThreadID  string `gorm:"index" json:"threadId"`
	Token     string `gorm:"index" json:"token"`

	IsReply       bool  `gorm:"default:false" json:"isReply"`
	ParentEmailID *uint `json:"parentEmailId,omitempty"`
	ThreadLength  int   `gorm:"default:1" json:"threadLength"`

	Status    string     `gorm:"default:'pending'" json:"status"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	OpenedAt  *time.Time `json:"openedAt,omitempty"`
	RepliedAt *time.Time `json:"repliedAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}
