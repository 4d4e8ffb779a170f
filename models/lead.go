package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead status values. Bounced and unsubscribed are absorbing: once a
// lead reaches either, no later event may move it back.
const (
	LeadNew          = "new"
	LeadContacted    = "contacted"
	LeadOpened       = "opened"
	LeadClicked      = "clicked"
	LeadReplied      = "replied"
	LeadInterested   = "interested"
	LeadBounced      = "bounced"
	LeadUnsubscribed = "unsubscribed"
)

// Lead is a prospect record. CustomFields feed template variables
// alongside the named columns.
type Lead struct {
	gorm.Model
	Email     string `gorm:"uniqueIndex;not null" json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company"`
	JobTitle  string `json:"jobTitle"`
	Website   string `json:"website"`
	Industry  string `json:"industry"`

	CustomFields map[string]string `gorm:"serializer:json" json:"customFields,omitempty"`

	Status          string     `gorm:"default:'new'" json:"status"`
	Score           int        `gorm:"default:0" json:"score"`
	Source          string     `json:"source"`
	BounceCount     int        `gorm:"default:0" json:"bounceCount"`
	LastContactedAt *time.Time `json:"lastContactedAt,omitempty"`
	RepliedAt       *time.Time `json:"repliedAt,omitempty"`
}

// Funnel order. A lead only ever moves toward higher ranks.
var leadStatusRank = map[string]int{
	LeadNew:          0,
	LeadContacted:    1,
	LeadOpened:       2,
	LeadClicked:      3,
	LeadReplied:      4,
	LeadInterested:   5,
	LeadBounced:      6,
	LeadUnsubscribed: 7,
}

// Engagement points awarded the first time a lead reaches a status.
var leadStatusScore = map[string]int{
	LeadContacted:  1,
	LeadOpened:     2,
	LeadClicked:    3,
	LeadReplied:    5,
	LeadInterested: 8,
}

// Absorbed reports whether the lead is in a state no event may override.
func (l *Lead) Absorbed() bool {
	return l.Status == LeadBounced || l.Status == LeadUnsubscribed
}

// AdvanceStatus moves the lead forward through the funnel. Transitions
// to the same or a lower rank are refused, so a later send can never
// pull an opened or replied lead back to contacted. Returns true when
// the status changed.
func (l *Lead) AdvanceStatus(status string) bool {
	if l.Absorbed() {
		return false
	}
	rank, known := leadStatusRank[status]
	if !known || rank <= leadStatusRank[l.Status] {
		return false
	}
	l.Status = status
	l.Score += leadStatusScore[status]
	return true
}

func (l *Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}
