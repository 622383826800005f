package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/psinetreject/card-scanner/internal/similarity"
)

// minLocalScore drops weak fuzzy hits from the local index.
const minLocalScore = 0.3

// Local is an in-process index over card names and aliases, scored with
// bigram text similarity. It serves search when Meilisearch is absent or
// unhealthy.
type Local struct {
	mu      sync.RWMutex
	cards   map[string]CardRecord
	aliases map[string]AliasRecord
}

func NewLocal() *Local {
	return &Local{
		cards:   make(map[string]CardRecord),
		aliases: make(map[string]AliasRecord),
	}
}

// Replace swaps the whole index contents.
func (l *Local) Replace(cards []CardRecord, aliases []AliasRecord) {
	nextCards := make(map[string]CardRecord, len(cards))
	for _, c := range cards {
		nextCards[c.ID] = c
	}
	nextAliases := make(map[string]AliasRecord, len(aliases))
	for _, a := range aliases {
		nextAliases[a.ID] = a
	}
	l.mu.Lock()
	l.cards = nextCards
	l.aliases = nextAliases
	l.mu.Unlock()
}

func (l *Local) PutCard(c CardRecord) {
	l.mu.Lock()
	l.cards[c.ID] = c
	l.mu.Unlock()
}

func (l *Local) PutAlias(a AliasRecord) {
	l.mu.Lock()
	l.aliases[a.ID] = a
	l.mu.Unlock()
}

func (l *Local) DeleteCard(id string) {
	l.mu.Lock()
	delete(l.cards, id)
	l.mu.Unlock()
}

func (l *Local) Healthy() bool { return true }

// Search ranks by the better of substring containment (scored 0.9) and
// bigram similarity, highest first, ties by id.
func (l *Local) Search(q Query) ([]Result, int, error) {
	needle := similarity.Normalize(q.Text)
	if needle == "" {
		return []Result{}, 0, nil
	}

	l.mu.RLock()
	var results []Result
	if q.FilterType == "" || q.FilterType == ResultCard {
		for _, c := range l.cards {
			if score := localScore(needle, c.Name); score >= minLocalScore {
				results = append(results, Result{Type: ResultCard, ID: c.ID, CardID: c.ID, Title: c.Name, Snippet: c.Type, Score: score})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultAlias {
		for _, a := range l.aliases {
			if score := localScore(needle, a.AliasText); score >= minLocalScore {
				results = append(results, Result{Type: ResultAlias, ID: a.ID, CardID: a.CardID, Title: a.AliasText, Snippet: a.Locale, Score: score})
			}
		}
	}
	l.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Type != results[j].Type {
			return results[i].Type < results[j].Type
		}
		return results[i].ID < results[j].ID
	})

	total := len(results)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + limit
	if end > total {
		end = total
	}
	return results[q.Offset:end], total, nil
}

func localScore(needle, candidate string) float64 {
	norm := similarity.Normalize(candidate)
	if norm == "" {
		return 0
	}
	score := similarity.TextSimilarity(needle, norm)
	if score < 0.9 && strings.Contains(norm, needle) {
		score = 0.9
	}
	return score
}
