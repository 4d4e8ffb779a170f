package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldmail/models"
)

func TestSeedDomainsAreBlacklisted(t *testing.T) {
	guard := NewDeliverabilityGuard(newTestDB(t), newTestLogger())

	assert.True(t, guard.IsBlacklisted("mailinator.com"))
	assert.True(t, guard.IsBlacklisted("  YOPMAIL.COM "))
	assert.False(t, guard.IsBlacklisted("acme.com"))
	assert.False(t, guard.IsBlacklisted(""))
}

func TestBouncesPromoteDomainToBlacklist(t *testing.T) {
	db := newTestDB(t)
	guard := NewDeliverabilityGuard(db, newTestLogger())

	require.NoError(t, guard.RecordBounce("flaky.com", "hard bounce"))
	require.NoError(t, guard.RecordBounce("flaky.com", "hard bounce"))
	assert.False(t, guard.IsBlacklisted("flaky.com"), "below threshold")

	require.NoError(t, guard.RecordBounce("flaky.com", "hard bounce"))
	assert.True(t, guard.IsBlacklisted("flaky.com"), "threshold crossed")

	var entry models.BlacklistEntry
	require.NoError(t, db.Where("domain = ?", "flaky.com").First(&entry).Error)
	assert.Equal(t, 3, entry.BounceCount)
	assert.True(t, entry.Listed)
	assert.NotNil(t, entry.ListedAt)
}

func TestBounceCountsArePerDomain(t *testing.T) {
	guard := NewDeliverabilityGuard(newTestDB(t), newTestLogger())

	require.NoError(t, guard.RecordBounce("a.com", "hard bounce"))
	require.NoError(t, guard.RecordBounce("a.com", "hard bounce"))
	require.NoError(t, guard.RecordBounce("b.com", "hard bounce"))

	assert.False(t, guard.IsBlacklisted("a.com"))
	assert.False(t, guard.IsBlacklisted("b.com"))
}

func TestReputationClampedToBounds(t *testing.T) {
	db := newTestDB(t)
	guard := NewDeliverabilityGuard(db, newTestLogger())

	account := models.EmailAccount{Name: "Ops", Email: "ops@acme.com", Reputation: 95}
	require.NoError(t, db.Create(&account).Error)

	// Pushing past 100 clamps.
	require.NoError(t, guard.AdjustReputation(account.ID, RepDeltaOpen))
	require.NoError(t, guard.AdjustReputation(account.ID, RepDeltaReply))
	require.NoError(t, guard.AdjustReputation(account.ID, RepDeltaReply))

	var got models.EmailAccount
	require.NoError(t, db.First(&got, account.ID).Error)
	assert.Equal(t, 100, got.Reputation)

	// Pushing below 0 clamps.
	for i := 0; i < 12; i++ {
		require.NoError(t, guard.AdjustReputation(account.ID, RepDeltaBounce))
	}
	require.NoError(t, db.First(&got, account.ID).Error)
	assert.Equal(t, 0, got.Reputation)

	// Recovery from the floor works.
	require.NoError(t, guard.AdjustReputation(account.ID, RepDeltaReply))
	require.NoError(t, db.First(&got, account.ID).Error)
	assert.Equal(t, 3, got.Reputation)
}
