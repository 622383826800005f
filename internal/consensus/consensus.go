// Package consensus turns observations about one record field into a
// weighted tally of competing values.
package consensus

import (
	"sort"

	"github.com/psinetreject/card-scanner/internal/store"
)

const (
	DefaultReputation = 0.5

	AutoAcceptScore           = 0.85
	AutoAcceptCount           = 3
	AutoAcceptMaxDisagreement = 1
)

// Weight is one observation's evidentiary weight. Each factor only damps
// toward half, never to zero.
func Weight(ocrConfidence, captureQuality, reputation float64) float64 {
	return (0.5 + 0.5*clamp01(ocrConfidence)) *
		(0.6 + 0.4*clamp01(captureQuality)) *
		(0.5 + 0.5*clamp01(reputation))
}

// Key identifies one (target, field) group.
type Key struct {
	TargetType store.TargetType
	TargetID   string
	FieldPath  string
}

func KeyOf(ob store.Observation) Key {
	return Key{TargetType: ob.TargetType, TargetID: ob.TargetID, FieldPath: ob.FieldPath}
}

// Tally is the aggregate over one group's observations.
type Tally struct {
	Value          any
	ValueNorm      string
	ObservationIDs []string
	Score          float64
	Count          int
	Disagreement   int
	TotalWeight    float64
	Values         []store.CompetingValue
}

type bucket struct {
	norm       string
	value      any
	weight     float64
	principals map[string]struct{}
	obsIDs     []string
}

// Compute tallies observations, all of which must belong to one group.
// Only active observations count. ok is false when none do. reputation
// returns a principal's score; nil means DefaultReputation for everyone.
func Compute(observations []store.Observation, reputation func(principalID string) float64) (Tally, bool) {
	buckets := make(map[string]*bucket)
	var order []*bucket
	total := 0.0
	for _, ob := range observations {
		if ob.Status != store.ObservationActive {
			continue
		}
		rep := DefaultReputation
		if reputation != nil {
			rep = reputation(ob.PrincipalID)
		}
		w := Weight(ob.OCRConfidence, ob.CaptureQuality, rep)
		total += w
		b, ok := buckets[ob.ValueNorm]
		if !ok {
			b = &bucket{norm: ob.ValueNorm, value: ob.Value, principals: make(map[string]struct{})}
			buckets[ob.ValueNorm] = b
			order = append(order, b)
		}
		b.weight += w
		b.principals[ob.PrincipalID] = struct{}{}
		b.obsIDs = append(b.obsIDs, ob.ObservationID)
	}
	if len(order) == 0 {
		return Tally{}, false
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].weight != order[j].weight {
			return order[i].weight > order[j].weight
		}
		return order[i].norm < order[j].norm
	})

	lead := order[0]
	t := Tally{
		Value:          lead.value,
		ValueNorm:      lead.norm,
		ObservationIDs: append([]string(nil), lead.obsIDs...),
		Count:          len(lead.principals),
		TotalWeight:    total,
		Values:         make([]store.CompetingValue, 0, len(order)),
	}
	if total > 0 {
		t.Score = lead.weight / total
	}
	for i, b := range order {
		if i > 0 {
			t.Disagreement += len(b.principals)
		}
		t.Values = append(t.Values, store.CompetingValue{
			ValueNorm:   b.norm,
			Value:       b.value,
			TotalWeight: b.weight,
			Principals:  len(b.principals),
		})
	}
	return t, true
}

// Group splits observations by (target, field), preserving input order
// inside each group. Keys are returned in first-seen order.
func Group(observations []store.Observation) ([]Key, map[Key][]store.Observation) {
	groups := make(map[Key][]store.Observation)
	var keys []Key
	for _, ob := range observations {
		if ob.TargetID == "" {
			continue
		}
		k := KeyOf(ob)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], ob)
	}
	return keys, groups
}

// Policy decides whether an open claim is applied without a moderator.
type Policy struct {
	MinScore        float64
	MinCount        int
	MaxDisagreement int
}

func DefaultPolicy() Policy {
	return Policy{MinScore: AutoAcceptScore, MinCount: AutoAcceptCount, MaxDisagreement: AutoAcceptMaxDisagreement}
}

func (p Policy) ShouldAutoAccept(score float64, count, disagreement int) bool {
	return score >= p.MinScore && count >= p.MinCount && disagreement <= p.MaxDisagreement
}

// Apply copies the tally's figures into claim.
func (t Tally) Apply(claim *store.Claim) {
	claim.ProposedValue = t.Value
	claim.ProposedValueNorm = t.ValueNorm
	claim.GeneratedFrom = append([]string(nil), t.ObservationIDs...)
	claim.ConsensusScore = t.Score
	claim.ConsensusCount = t.Count
	claim.DisagreementCount = t.Disagreement
	claim.CompetingValues = append([]store.CompetingValue(nil), t.Values...)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
