// Package trust keeps per-principal reputation and moderation counters.
package trust

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/psinetreject/card-scanner/internal/store"
)

const (
	GuestReputation   = 0.2
	DefaultReputation = 0.7

	FlagMinDecided     = 5
	FlagRejectionRatio = 0.6
)

// Outcome is a moderation result attributed to a principal.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeRejected
	OutcomeSpam
)

// ScorePolicy computes a new reputation after one outcome.
type ScorePolicy interface {
	Next(current float64, outcome Outcome) float64
}

// EMAPolicy moves the score a fraction Alpha toward 1 on acceptance and
// toward 0 on rejection; spam counts double.
type EMAPolicy struct {
	Alpha float64
}

func (p EMAPolicy) Next(current float64, outcome Outcome) float64 {
	alpha := p.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	var next float64
	switch outcome {
	case OutcomeAccepted:
		next = current + alpha*(1-current)
	case OutcomeRejected:
		next = current - alpha*current
	case OutcomeSpam:
		next = current - 2*alpha*current
	default:
		next = current
	}
	return math.Min(1, math.Max(0, next))
}

// CountersOnly leaves the score unchanged and only counts outcomes.
type CountersOnly struct{}

func (CountersOnly) Next(current float64, _ Outcome) float64 { return current }

// Tracker owns trust profiles. It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	profiles map[string]store.TrustProfile
	policy   ScorePolicy
	now      func() time.Time
}

func NewTracker(policy ScorePolicy) *Tracker {
	if policy == nil {
		policy = EMAPolicy{Alpha: 0.1}
	}
	return &Tracker{
		profiles: make(map[string]store.TrustProfile),
		policy:   policy,
		now:      time.Now,
	}
}

// Load replaces all profiles, e.g. after reading them from storage.
func (t *Tracker) Load(profiles []store.TrustProfile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.profiles = make(map[string]store.TrustProfile, len(profiles))
	for _, p := range profiles {
		t.profiles[p.PrincipalID] = p
	}
}

// Seed creates a profile on first authentication. An existing profile is
// returned untouched. created reports whether a new one was made.
func (t *Tracker) Seed(principalID, role string) (profile store.TrustProfile, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.profiles[principalID]; ok {
		return p, false
	}
	score := DefaultReputation
	if role == "guest" {
		score = GuestReputation
	}
	now := t.now()
	p := store.TrustProfile{
		PrincipalID:     principalID,
		Role:            role,
		CreatedAt:       now,
		LastUpdatedAt:   now,
		ReputationScore: score,
	}
	t.profiles[principalID] = p
	return p, true
}

func (t *Tracker) Get(principalID string) (store.TrustProfile, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.profiles[principalID]
	return p, ok
}

// Reputation returns the principal's score, or fallback when unknown.
func (t *Tracker) Reputation(principalID string, fallback float64) float64 {
	if p, ok := t.Get(principalID); ok {
		return p.ReputationScore
	}
	return fallback
}

// Record applies one outcome. Unknown principals get a default profile
// first. The updated profile is returned for persistence.
func (t *Tracker) Record(principalID string, outcome Outcome) store.TrustProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	p, ok := t.profiles[principalID]
	if !ok {
		p = store.TrustProfile{PrincipalID: principalID, CreatedAt: now, ReputationScore: DefaultReputation}
	}
	switch outcome {
	case OutcomeAccepted:
		p.AcceptedCount++
	case OutcomeRejected:
		p.RejectedCount++
	case OutcomeSpam:
		p.SpamFlagCount++
	}
	p.ReputationScore = t.policy.Next(p.ReputationScore, outcome)
	p.LastUpdatedAt = now
	t.profiles[principalID] = p
	return p
}

// Profiles returns every profile ordered by principal id.
func (t *Tracker) Profiles() []store.TrustProfile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]store.TrustProfile, 0, len(t.profiles))
	for _, p := range t.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out
}

// Stats summarises every profile.
func (t *Tracker) Stats() []store.UserTrustStats {
	profiles := t.Profiles()
	out := make([]store.UserTrustStats, 0, len(profiles))
	for _, p := range profiles {
		decided := p.AcceptedCount + p.RejectedCount
		out = append(out, store.UserTrustStats{
			UserID:          p.PrincipalID,
			AcceptedCount:   p.AcceptedCount,
			RejectedCount:   p.RejectedCount,
			SpamFlagCount:   p.SpamFlagCount,
			RejectionRate:   float64(p.RejectedCount) / float64(max(1, decided)),
			TrustScore:      int(math.Round(p.ReputationScore * 100)),
			ReputationScore: p.ReputationScore,
			Flagged:         IsFlagged(p.AcceptedCount, p.RejectedCount),
		})
	}
	return out
}

// IsFlagged reports whether a submitter with these decided proposal counts
// should have new proposals routed to review.
func IsFlagged(accepted, rejected int) bool {
	decided := accepted + rejected
	if decided < FlagMinDecided {
		return false
	}
	return float64(rejected)/float64(decided) > FlagRejectionRatio
}
