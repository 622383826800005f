package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCard  ResultType = "card"
	ResultAlias ResultType = "alias"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	CardID  string     `json:"cardId"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Score   float64    `json:"score"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a catalog search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Archetype string `json:"archetype"`
	Text      string `json:"text"`
}

// AliasRecord is the data we index for an alternate card name.
type AliasRecord struct {
	ID        string `json:"id"`
	CardID    string `json:"cardId"`
	AliasText string `json:"aliasText"`
	Locale    string `json:"locale"`
}

const defaultLimit = 20
