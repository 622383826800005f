// Package matcher ranks canonical card records against a scan query built
// from image fingerprints and extracted text.
//
// A Snapshot is immutable once built, so Match may run concurrently from any
// number of goroutines.
package matcher

import (
	"sort"
	"strings"

	"github.com/psinetreject/card-scanner/internal/similarity"
	"github.com/psinetreject/card-scanner/internal/store"
)

type Reason string

const (
	ReasonVisual  Reason = "visual"
	ReasonSetCode Reason = "set_code"
	ReasonOCRName Reason = "ocr_name"
	ReasonAlias   Reason = "alias"
)

const (
	fullWeight       = 0.65
	artWeight        = 0.35
	maxVisualGroups  = 20
	maxAlternatives  = 5
	setCodeAdjust    = 0.12
	nameAssistBoost  = 0.08
	nameAssistFloor  = 0.75
	gapBoostFactor   = 0.15
	setCodeOnlyScore = 0.58
	nameBase         = 0.4
	nameScale        = 0.25
	nameFloor        = 0.55
	aliasBase        = 0.38
	aliasScale       = 0.24
	aliasFloor       = 0.6

	// VisualThreshold and TextThreshold are the minimum top scores that skip
	// user confirmation.
	VisualThreshold = 0.78
	TextThreshold   = 0.84
)

// Query holds whatever signals the acquisition side could extract. Every
// field is optional.
type Query struct {
	Full    *similarity.Fingerprint `json:"full,omitempty"`
	Art     *similarity.Fingerprint `json:"art,omitempty"`
	Name    string                  `json:"name,omitempty"`
	SetCode string                  `json:"setCode,omitempty"`
}

func (q Query) hasVisual() bool {
	return q.Full != nil || q.Art != nil
}

type Candidate struct {
	Card     store.Card   `json:"card"`
	Print    *store.Print `json:"print,omitempty"`
	Score    float64      `json:"score"`
	Reason   Reason       `json:"reason"`
	Distance *float64     `json:"distance,omitempty"`
	Details  []string     `json:"details,omitempty"`
}

func (c Candidate) key() string {
	if c.Print == nil {
		return c.Card.ID + ":"
	}
	return c.Card.ID + ":" + c.Print.PrintID
}

type Result struct {
	Top               *Candidate  `json:"top,omitempty"`
	Alternatives      []Candidate `json:"alternatives"`
	NeedsConfirmation bool        `json:"needsConfirmation"`
	Visual            bool        `json:"visual"`
}

// Match runs the visual stage, then either adjusts visual candidates with
// the text signals or falls back to text-only matching.
func (s *Snapshot) Match(q Query) Result {
	visual := s.visualStage(q)
	var ranked []Candidate
	threshold := TextThreshold
	if len(visual) > 0 {
		ranked = sharpen(assist(visual, q.SetCode, q.Name))
		threshold = VisualThreshold
	} else {
		ranked = s.textFallback(q.Name, q.SetCode)
	}
	rank(ranked)

	result := Result{Alternatives: []Candidate{}, NeedsConfirmation: true, Visual: len(visual) > 0}
	if len(ranked) == 0 {
		return result
	}
	top := ranked[0]
	result.Top = &top
	rest := ranked[1:]
	if len(rest) > maxAlternatives {
		rest = rest[:maxAlternatives]
	}
	result.Alternatives = append(result.Alternatives, rest...)
	result.NeedsConfirmation = top.Score < threshold
	return result
}

type scoredGroup struct {
	group    *featureGroup
	distance float64
}

func (s *Snapshot) visualStage(q Query) []Candidate {
	if !q.hasVisual() {
		return nil
	}

	scored := make([]scoredGroup, 0, len(s.groups))
	for i := range s.groups {
		g := &s.groups[i]
		d, ok := g.weightedDistance(q)
		if !ok {
			continue
		}
		scored = append(scored, scoredGroup{group: g, distance: d})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].distance < scored[j].distance
	})
	if len(scored) > maxVisualGroups {
		scored = scored[:maxVisualGroups]
	}

	out := make([]Candidate, 0, len(scored))
	for _, sg := range scored {
		card, ok := s.cards[sg.group.cardID]
		if !ok {
			continue
		}
		candidate := Candidate{
			Card:     card,
			Score:    max(0, 1-sg.distance/float64(similarity.FingerprintBits)),
			Reason:   ReasonVisual,
			Distance: ptr(sg.distance),
		}
		if sg.group.printID != "" {
			if pr, ok := s.prints[sg.group.printID]; ok {
				candidate.Print = &pr
			}
		}
		out = append(out, candidate)
	}
	return out
}

// assist returns a copy of candidates with set-code and name adjustments.
func assist(candidates []Candidate, setCode, name string) []Candidate {
	setCode = strings.TrimSpace(setCode)
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		next := c
		next.Details = append([]string(nil), c.Details...)
		if setCode != "" && next.Print != nil && next.Print.SetCode != "" {
			if strings.EqualFold(next.Print.SetCode, setCode) {
				next.Score = min(1, next.Score+setCodeAdjust)
				next.Details = append(next.Details, "set-code-confirmed")
			} else {
				next.Score = max(0, next.Score-setCodeAdjust)
				next.Details = append(next.Details, "set-code-conflict")
			}
		}
		if name != "" && similarity.TextSimilarity(name, next.Card.Name) > nameAssistFloor {
			next.Score = min(1, next.Score+nameAssistBoost)
			next.Details = append(next.Details, "name-confirmed")
		}
		out[i] = next
	}
	return out
}

// sharpen adds a fraction of the lead over the runner-up to the single
// leading candidate. The leader is the first candidate holding the top
// score in the current order.
func sharpen(candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	out := append([]Candidate(nil), candidates...)
	leader := 0
	for i := range out {
		if out[i].Score > out[leader].Score {
			leader = i
		}
	}
	second := 0.0
	for i := range out {
		if i != leader && out[i].Score > second {
			second = out[i].Score
		}
	}
	gap := max(0, out[leader].Score-second)
	out[leader].Score = min(1, out[leader].Score+gap*gapBoostFactor)
	return out
}

func (s *Snapshot) textFallback(name, setCode string) []Candidate {
	var results []Candidate
	setCode = strings.TrimSpace(setCode)
	if setCode != "" {
		for _, pr := range s.printsForSetCode(setCode) {
			card, ok := s.cards[pr.CardID]
			if !ok {
				continue
			}
			results = append(results, Candidate{
				Card:    card,
				Print:   &pr,
				Score:   setCodeOnlyScore,
				Reason:  ReasonSetCode,
				Details: []string{"visual unavailable"},
			})
		}
	}

	if strings.TrimSpace(name) != "" {
		for _, id := range s.cardOrder {
			card := s.cards[id]
			sim := similarity.TextSimilarity(name, card.Name)
			if sim > nameFloor {
				results = append(results, Candidate{Card: card, Score: nameBase + sim*nameScale, Reason: ReasonOCRName})
			}
		}
		for _, alias := range s.aliases {
			sim := similarity.TextSimilarity(name, alias.AliasText)
			if sim <= aliasFloor {
				continue
			}
			card, ok := s.cards[alias.CardID]
			if !ok {
				continue
			}
			results = append(results, Candidate{Card: card, Score: aliasBase + sim*aliasScale, Reason: ReasonAlias})
		}
	}
	return dedupe(results)
}

// dedupe keeps the best-scoring candidate per card/print pair, preserving
// first-seen order.
func dedupe(candidates []Candidate) []Candidate {
	index := make(map[string]int, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		k := c.key()
		if i, ok := index[k]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		index[k] = len(out)
		out = append(out, c)
	}
	return out
}

func rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

func ptr[T any](v T) *T {
	return &v
}
