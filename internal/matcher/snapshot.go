package matcher

import (
	"sort"
	"strings"

	"github.com/psinetreject/card-scanner/internal/similarity"
	"github.com/psinetreject/card-scanner/internal/store"
)

// Snapshot is a point-in-time, read-only view of the catalog.
type Snapshot struct {
	cards     map[string]store.Card
	cardOrder []string
	prints    map[string]store.Print
	bySetCode map[string][]store.Print
	aliases   []store.Alias
	groups    []featureGroup
}

type featureGroup struct {
	cardID  string
	printID string
	full    []similarity.Fingerprint
	art     []similarity.Fingerprint
}

// NewSnapshot copies the given records. Deprecated cards and prints are left
// out; features pointing at them are kept but never resolve to a candidate.
func NewSnapshot(cards []store.Card, prints []store.Print, aliases []store.Alias, features []store.ImageFeature) *Snapshot {
	s := &Snapshot{
		cards:     make(map[string]store.Card, len(cards)),
		prints:    make(map[string]store.Print, len(prints)),
		bySetCode: make(map[string][]store.Print),
	}
	for _, c := range cards {
		if c.DeprecatedAt != nil {
			continue
		}
		s.cards[c.ID] = c
		s.cardOrder = append(s.cardOrder, c.ID)
	}
	sort.Strings(s.cardOrder)

	sortedPrints := append([]store.Print(nil), prints...)
	sort.Slice(sortedPrints, func(i, j int) bool { return sortedPrints[i].PrintID < sortedPrints[j].PrintID })
	for _, p := range sortedPrints {
		if p.DeprecatedAt != nil {
			continue
		}
		s.prints[p.PrintID] = p
		key := setCodeKey(p.SetCode)
		s.bySetCode[key] = append(s.bySetCode[key], p)
	}

	s.aliases = append([]store.Alias(nil), aliases...)
	sort.Slice(s.aliases, func(i, j int) bool { return s.aliases[i].AliasID < s.aliases[j].AliasID })

	index := make(map[string]int)
	for _, f := range features {
		key := f.CardID + ":" + f.PrintID
		i, ok := index[key]
		if !ok {
			i = len(s.groups)
			index[key] = i
			s.groups = append(s.groups, featureGroup{cardID: f.CardID, printID: f.PrintID})
		}
		switch f.Region {
		case store.RegionFullCard:
			s.groups[i].full = append(s.groups[i].full, f.Fingerprint)
		case store.RegionArtBox:
			s.groups[i].art = append(s.groups[i].art, f.Fingerprint)
		}
	}
	sort.Slice(s.groups, func(i, j int) bool {
		if s.groups[i].cardID != s.groups[j].cardID {
			return s.groups[i].cardID < s.groups[j].cardID
		}
		return s.groups[i].printID < s.groups[j].printID
	})
	return s
}

// Cards returns the live cards ordered by id.
func (s *Snapshot) Cards() []store.Card {
	out := make([]store.Card, 0, len(s.cardOrder))
	for _, id := range s.cardOrder {
		out = append(out, s.cards[id])
	}
	return out
}

func (s *Snapshot) Aliases() []store.Alias {
	return append([]store.Alias(nil), s.aliases...)
}

func (s *Snapshot) Card(id string) (store.Card, bool) {
	c, ok := s.cards[id]
	return c, ok
}

// printsForSetCode matches case-insensitively first, then on the
// separator-insensitive form ("LOB EN001" finds "LOB-EN001").
func (s *Snapshot) printsForSetCode(code string) []store.Print {
	if exact := s.bySetCode[setCodeKey(code)]; len(exact) > 0 {
		return exact
	}
	loose := similarity.Normalize(code)
	if loose == "" {
		return nil
	}
	var out []store.Print
	for _, id := range sortedKeys(s.prints) {
		p := s.prints[id]
		if similarity.Normalize(p.SetCode) == loose {
			out = append(out, p)
		}
	}
	return out
}

func setCodeKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// weightedDistance blends the best full-card and art-box distances over the
// regions present in the query. A region the query carries but the group
// lacks counts as the worst case. ok is false when the group has no
// fingerprint for any queried region.
func (g *featureGroup) weightedDistance(q Query) (float64, bool) {
	total := 0.0
	weight := 0.0
	matched := false
	if q.Full != nil {
		d, ok := bestDistance(*q.Full, g.full)
		matched = matched || ok
		total += fullWeight * float64(d)
		weight += fullWeight
	}
	if q.Art != nil {
		d, ok := bestDistance(*q.Art, g.art)
		matched = matched || ok
		total += artWeight * float64(d)
		weight += artWeight
	}
	if !matched || weight == 0 {
		return 0, false
	}
	return total / weight, true
}

func bestDistance(query similarity.Fingerprint, known []similarity.Fingerprint) (int, bool) {
	if len(known) == 0 {
		return similarity.FingerprintBits, false
	}
	best := similarity.FingerprintBits
	for _, fp := range known {
		if d := similarity.Distance(query, fp); d < best {
			best = d
		}
	}
	return best, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
