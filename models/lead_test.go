package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceStatusMovesForward(t *testing.T) {
	lead := &Lead{Status: LeadNew}

	assert.True(t, lead.AdvanceStatus(LeadContacted))
	assert.Equal(t, LeadContacted, lead.Status)

	assert.True(t, lead.AdvanceStatus(LeadOpened))
	assert.Equal(t, LeadOpened, lead.Status)

	assert.True(t, lead.AdvanceStatus(LeadReplied))
	assert.Equal(t, LeadReplied, lead.Status)
}

func TestAdvanceStatusRefusesBackwardMoves(t *testing.T) {
	lead := &Lead{Status: LeadOpened}

	// A later step send must not pull an opened lead back.
	assert.False(t, lead.AdvanceStatus(LeadContacted))
	assert.Equal(t, LeadOpened, lead.Status)

	lead.Status = LeadReplied
	assert.False(t, lead.AdvanceStatus(LeadContacted))
	assert.False(t, lead.AdvanceStatus(LeadOpened))
	assert.Equal(t, LeadReplied, lead.Status)
}

func TestAdvanceStatusSameStatusIsNoop(t *testing.T) {
	lead := &Lead{Status: LeadContacted, Score: 1}

	assert.False(t, lead.AdvanceStatus(LeadContacted))
	assert.Equal(t, 1, lead.Score)
}

func TestAdvanceStatusAbsorbingStates(t *testing.T) {
	for _, status := range []string{LeadBounced, LeadUnsubscribed} {
		lead := &Lead{Status: status}
		assert.False(t, lead.AdvanceStatus(LeadReplied), status)
		assert.Equal(t, status, lead.Status)
	}
}

func TestAdvanceStatusRejectsUnknownStatus(t *testing.T) {
	lead := &Lead{Status: LeadContacted}

	assert.False(t, lead.AdvanceStatus("archived"))
	assert.Equal(t, LeadContacted, lead.Status)
}

func TestAdvanceStatusAccumulatesScore(t *testing.T) {
	lead := &Lead{Status: LeadNew}

	lead.AdvanceStatus(LeadContacted)
	lead.AdvanceStatus(LeadOpened)
	lead.AdvanceStatus(LeadClicked)
	assert.Equal(t, 6, lead.Score)

	// Refused transitions never change the score.
	lead.AdvanceStatus(LeadContacted)
	assert.Equal(t, 6, lead.Score)

	lead.AdvanceStatus(LeadReplied)
	assert.Equal(t, 11, lead.Score)
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "Jane Doe", (&Lead{FirstName: "Jane", LastName: "Doe"}).FullName())
	assert.Equal(t, "Jane", (&Lead{FirstName: "Jane"}).FullName())
}
