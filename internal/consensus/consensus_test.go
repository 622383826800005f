package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psinetreject/card-scanner/internal/store"
)

func obs(id, principal, norm string, ocr, quality float64) store.Observation {
	return store.Observation{
		ObservationID:  id,
		PrincipalID:    principal,
		TargetType:     store.TargetCard,
		TargetID:       "c1",
		FieldPath:      "cards.name",
		Value:          norm,
		ValueNorm:      norm,
		OCRConfidence:  ocr,
		CaptureQuality: quality,
		Status:         store.ObservationActive,
	}
}

func TestWeightBounds(t *testing.T) {
	assert.InDelta(t, 1.0, Weight(1, 1, 1), 1e-9)
	assert.InDelta(t, 0.5*0.6*0.5, Weight(0, 0, 0), 1e-9)
	assert.InDelta(t, Weight(1, 1, 1), Weight(2, 5, 9), 1e-9)
}

func TestWeightIsMonotonic(t *testing.T) {
	steps := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1}
	for i := 1; i < len(steps); i++ {
		lo, hi := steps[i-1], steps[i]
		assert.GreaterOrEqual(t, Weight(hi, 0.5, 0.5), Weight(lo, 0.5, 0.5))
		assert.GreaterOrEqual(t, Weight(0.5, hi, 0.5), Weight(0.5, lo, 0.5))
		assert.GreaterOrEqual(t, Weight(0.5, 0.5, hi), Weight(0.5, 0.5, lo))
	}
}

func TestComputeThreeAgainstOne(t *testing.T) {
	reps := map[string]float64{"u1": 0.8, "u2": 0.7, "u3": 0.6, "u4": 0.5}
	list := []store.Observation{
		obs("o1", "u1", "dark magician", 0.9, 0.9),
		obs("o2", "u2", "dark magician", 0.9, 0.9),
		obs("o3", "u3", "dark magician", 0.9, 0.9),
		obs("o4", "u4", "dark magic", 0.4, 0.3),
	}

	tally, ok := Compute(list, func(id string) float64 { return reps[id] })

	require.True(t, ok)
	assert.Equal(t, "dark magician", tally.ValueNorm)
	assert.Greater(t, tally.Score, 0.85)
	assert.Equal(t, 3, tally.Count)
	assert.Equal(t, 1, tally.Disagreement)
	assert.Equal(t, []string{"o1", "o2", "o3"}, tally.ObservationIDs)
	require.Len(t, tally.Values, 2)
	assert.Equal(t, "dark magician", tally.Values[0].ValueNorm)
	assert.Equal(t, 3, tally.Values[0].Principals)
	assert.Greater(t, tally.Values[0].TotalWeight, tally.Values[1].TotalWeight)
	assert.True(t, DefaultPolicy().ShouldAutoAccept(tally.Score, tally.Count, tally.Disagreement))
}

func TestComputeCountsDistinctPrincipals(t *testing.T) {
	list := []store.Observation{
		obs("o1", "u1", "a", 0.9, 0.9),
		obs("o2", "u1", "a", 0.9, 0.9),
		obs("o3", "u2", "b", 0.1, 0.1),
		obs("o4", "u3", "c", 0.1, 0.1),
		obs("o5", "u3", "c", 0.1, 0.1),
	}

	tally, ok := Compute(list, nil)

	require.True(t, ok)
	assert.Equal(t, "a", tally.ValueNorm)
	assert.Equal(t, 1, tally.Count)
	assert.Equal(t, 2, tally.Disagreement)
}

func TestComputeIgnoresInactive(t *testing.T) {
	spam := obs("o1", "u1", "a", 1, 1)
	spam.Status = store.ObservationSpam
	withdrawn := obs("o2", "u2", "a", 1, 1)
	withdrawn.Status = store.ObservationWithdrawn

	_, ok := Compute([]store.Observation{spam, withdrawn}, nil)
	assert.False(t, ok)

	tally, ok := Compute([]store.Observation{spam, withdrawn, obs("o3", "u3", "b", 0.5, 0.5)}, nil)
	require.True(t, ok)
	assert.Equal(t, "b", tally.ValueNorm)
	assert.InDelta(t, 1.0, tally.Score, 1e-9)
	assert.Equal(t, 0, tally.Disagreement)
}

func TestComputeTieBreaksOnNormalizedValue(t *testing.T) {
	list := []store.Observation{
		obs("o1", "u1", "zeta", 0.5, 0.5),
		obs("o2", "u2", "alpha", 0.5, 0.5),
	}

	tally, ok := Compute(list, nil)

	require.True(t, ok)
	assert.Equal(t, "alpha", tally.ValueNorm)
	assert.InDelta(t, 0.5, tally.Score, 1e-9)
}

func TestAutoAcceptBoundary(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.ShouldAutoAccept(0.85, 3, 1))
	assert.False(t, p.ShouldAutoAccept(0.85, 2, 1))
	assert.False(t, p.ShouldAutoAccept(0.8499, 3, 1))
	assert.False(t, p.ShouldAutoAccept(0.95, 3, 2))
}

func TestGroupSplitsByTargetAndField(t *testing.T) {
	a := obs("o1", "u1", "x", 1, 1)
	b := obs("o2", "u2", "x", 1, 1)
	b.FieldPath = "cards.type"
	c := obs("o3", "u3", "x", 1, 1)
	c.TargetID = "c2"
	d := obs("o4", "u4", "y", 1, 1)

	keys, groups := Group([]store.Observation{a, b, c, d})

	require.Len(t, keys, 3)
	assert.Equal(t, KeyOf(a), keys[0])
	assert.Len(t, groups[KeyOf(a)], 2)
	assert.Len(t, groups[KeyOf(b)], 1)
	assert.Len(t, groups[KeyOf(c)], 1)
}

func TestTallyApply(t *testing.T) {
	tally, ok := Compute([]store.Observation{obs("o1", "u1", "dark magician", 1, 1)}, nil)
	require.True(t, ok)

	var claim store.Claim
	tally.Apply(&claim)

	assert.Equal(t, "dark magician", claim.ProposedValueNorm)
	assert.Equal(t, []string{"o1"}, claim.GeneratedFrom)
	assert.InDelta(t, 1.0, claim.ConsensusScore, 1e-9)
	assert.Len(t, claim.CompetingValues, 1)
}
