package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
)

// Disposable-mailbox domains blocked from day one.
var seedBlacklistedDomains = []string{
	"yopmail.com",
	"mailinator.com",
	"tempmail.com",
	"guerrillamail.com",
	"sharklasers.com",
	"trashmail.com",
	"temp-mail.org",
	"disposablemail.com",
	"throwawaymail.com",
	"fakeinbox.com",
}

// DefaultBounceThreshold is how many bounces list a domain.
const DefaultBounceThreshold = 3

// DeliverabilityGuard owns the domain blacklist and account reputation.
// Sends to listed domains are skipped silently (logged, not errored).
type DeliverabilityGuard struct {
	db        *gorm.DB
	threshold int
	seed      map[string]struct{}
	logger    *logrus.Entry
	now       func() time.Time
}

func NewDeliverabilityGuard(db *gorm.DB, logger *logrus.Logger) *DeliverabilityGuard {
	seed := make(map[string]struct{}, len(seedBlacklistedDomains))
	for _, d := range seedBlacklistedDomains {
		seed[d] = struct{}{}
	}
	return &DeliverabilityGuard{
		db:        db,
		threshold: DefaultBounceThreshold,
		seed:      seed,
		logger:    logger.WithField("component", "deliverability"),
		now:       time.Now,
	}
}

// IsBlacklisted reports whether sends to the domain must be skipped.
func (g *DeliverabilityGuard) IsBlacklisted(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	if _, ok := g.seed[domain]; ok {
		return true
	}
	var entry models.BlacklistEntry
	err := g.db.Where("domain = ? AND listed = ?", domain, true).First(&entry).Error
	return err == nil
}

// RecordBounce counts a bounce against the domain and lists it once the
// threshold is crossed.
func (g *DeliverabilityGuard) RecordBounce(domain, reason string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil
	}
	return g.db.Transaction(func(tx *gorm.DB) error {
		var entry models.BlacklistEntry
		err := tx.Where("domain = ?", domain).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = models.BlacklistEntry{Domain: domain}
		} else if err != nil {
			return err
		}
		entry.BounceCount++
		entry.Reason = reason
		if !entry.Listed && entry.BounceCount >= g.threshold {
			entry.Listed = true
			listedAt := g.now()
			entry.ListedAt = &listedAt
			g.logger.WithFields(logrus.Fields{
				"domain":  domain,
				"bounces": entry.BounceCount,
			}).Warn("Domain blacklisted after repeated bounces")
		}
		return tx.Save(&entry).Error
	})
}

// Reputation deltas applied by the warmup controller and inbox sync.
const (
	RepDeltaDelivery = 1
	RepDeltaOpen     = 2
	RepDeltaReply    = 3
	RepDeltaBounce   = -10
	RepDeltaSpam     = -15
)

// AdjustReputation applies a delta to the account score, clamped to
// [0,100].
func (g *DeliverabilityGuard) AdjustReputation(accountID uint, delta int) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		var account models.EmailAccount
		if err := tx.First(&account, accountID).Error; err != nil {
			return err
		}
		score := account.Reputation + delta
		if score > 100 {
			score = 100
		}
		if score < 0 {
			score = 0
		}
		if score == account.Reputation {
			return nil
		}
		return tx.Model(&account).Update("reputation", score).Error
	})
}

// RecordDelivery credits a successful warmup delivery.
func (g *DeliverabilityGuard) RecordDelivery(accountID uint) error {
	return g.AdjustReputation(accountID, RepDeltaDelivery)
}
