package search

import (
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local index. The local index is always kept current.
type Service struct {
	meili  *Meili
	local  *Local
	logger *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, local *Local, logger *slog.Logger) *Service {
	if local == nil {
		local = NewLocal()
	}
	return &Service{meili: meili, local: local, logger: logger}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("meilisearch error, falling back to local index", "error", err)
	}

	results, total, err := s.local.Search(q)
	if err != nil {
		s.logger.Error("local search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Backend: "local"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "local"}
}

// IndexCard updates the local index and pushes the card to Meilisearch
// without waiting.
func (s *Service) IndexCard(c CardRecord) {
	s.local.PutCard(c)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCards([]CardRecord{c}); err != nil {
			s.logger.Warn("index card", "card_id", c.ID, "error", err)
		}
	}()
}

func (s *Service) IndexAlias(a AliasRecord) {
	s.local.PutAlias(a)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAliases([]AliasRecord{a}); err != nil {
			s.logger.Warn("index alias", "alias_id", a.ID, "error", err)
		}
	}()
}

func (s *Service) DeleteCard(id string) {
	s.local.DeleteCard(id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCard(id); err != nil {
			s.logger.Warn("delete card from index", "card_id", id, "error", err)
		}
	}()
}

// ReindexAll replaces the local index and bulk-pushes everything to
// Meilisearch. Called at startup.
func (s *Service) ReindexAll(cards []CardRecord, aliases []AliasRecord) {
	s.local.Replace(cards, aliases)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexCards(cards); err != nil {
		s.logger.Warn("reindex cards", "error", err)
	}
	if err := s.meili.IndexAliases(aliases); err != nil {
		s.logger.Warn("reindex aliases", "error", err)
	}
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
