package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psinetreject/card-scanner/internal/store"
)

func TestSeedDefaults(t *testing.T) {
	tr := NewTracker(nil)

	guest, created := tr.Seed("g1", "guest")
	require.True(t, created)
	assert.InDelta(t, GuestReputation, guest.ReputationScore, 1e-9)

	user, created := tr.Seed("u1", "contributor")
	require.True(t, created)
	assert.InDelta(t, DefaultReputation, user.ReputationScore, 1e-9)

	again, created := tr.Seed("u1", "admin")
	assert.False(t, created)
	assert.Equal(t, "contributor", again.Role)
}

func TestEMAPolicy(t *testing.T) {
	p := EMAPolicy{Alpha: 0.1}
	assert.InDelta(t, 0.73, p.Next(0.7, OutcomeAccepted), 1e-9)
	assert.InDelta(t, 0.63, p.Next(0.7, OutcomeRejected), 1e-9)
	assert.InDelta(t, 0.56, p.Next(0.7, OutcomeSpam), 1e-9)
	assert.InDelta(t, 1.0, p.Next(1, OutcomeAccepted), 1e-9)
	assert.InDelta(t, 0.0, p.Next(0, OutcomeSpam), 1e-9)
}

func TestRecordUpdatesCountersAndScore(t *testing.T) {
	tr := NewTracker(EMAPolicy{Alpha: 0.1})
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }
	tr.Seed("u1", "contributor")

	tr.Record("u1", OutcomeAccepted)
	p := tr.Record("u1", OutcomeRejected)

	assert.Equal(t, 1, p.AcceptedCount)
	assert.Equal(t, 1, p.RejectedCount)
	assert.InDelta(t, 0.73*0.9, p.ReputationScore, 1e-9)
	assert.Equal(t, fixed, p.LastUpdatedAt)
	assert.InDelta(t, p.ReputationScore, tr.Reputation("u1", 0), 1e-9)
	assert.InDelta(t, 0.5, tr.Reputation("nobody", 0.5), 1e-9)
}

func TestCountersOnlyKeepsScore(t *testing.T) {
	tr := NewTracker(CountersOnly{})
	tr.Seed("u1", "contributor")

	p := tr.Record("u1", OutcomeSpam)

	assert.Equal(t, 1, p.SpamFlagCount)
	assert.InDelta(t, DefaultReputation, p.ReputationScore, 1e-9)
}

func TestIsFlagged(t *testing.T) {
	assert.False(t, IsFlagged(0, 4))
	assert.True(t, IsFlagged(1, 4))
	assert.False(t, IsFlagged(2, 3))
	assert.True(t, IsFlagged(3, 7))
}

func TestStats(t *testing.T) {
	tr := NewTracker(CountersOnly{})
	tr.Load([]store.TrustProfile{
		{PrincipalID: "b", ReputationScore: 0.555, AcceptedCount: 1, RejectedCount: 4},
		{PrincipalID: "a", ReputationScore: 0.7},
	})

	stats := tr.Stats()

	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].UserID)
	assert.InDelta(t, 0.0, stats[0].RejectionRate, 1e-9)
	assert.Equal(t, 70, stats[0].TrustScore)
	assert.InDelta(t, 0.8, stats[1].RejectionRate, 1e-9)
	assert.Equal(t, 56, stats[1].TrustScore)
	assert.True(t, stats[1].Flagged)
}
