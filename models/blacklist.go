package models

import (
	"time"

	"gorm.io/gorm"
)

// BlacklistEntry tracks bounce history per recipient domain. Once
// BounceCount crosses the guard threshold the domain is listed and all
// future sends to it are skipped.
type BlacklistEntry struct {
	gorm.Model
	Domain      string     `gorm:"uniqueIndex;not null" json:"domain"`
	Reason      string     `json:"reason"`
	BounceCount int        `gorm:"default:0" json:"bounceCount"`
	Listed      bool       `gorm:"default:false" json:"listed"`
	ListedAt    *time.Time `json:"listedAt,omitempty"`
}
