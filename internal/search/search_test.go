package search

import (
	"testing"

	"github.com/psinetreject/card-scanner/internal/logging"
)

func seededService() *Service {
	svc := NewService(nil, nil, logging.NewNop())
	svc.ReindexAll(
		[]CardRecord{
			{ID: "c1", Name: "Dark Magician", Type: "Monster"},
			{ID: "c2", Name: "Blue-Eyes White Dragon", Type: "Monster"},
			{ID: "c3", Name: "Pot of Greed", Type: "Spell"},
		},
		[]AliasRecord{{ID: "a1", CardID: "c1", AliasText: "Black Magician", Locale: "en"}},
	)
	return svc
}

func TestLocalSearchRanksExactNameFirst(t *testing.T) {
	resp := seededService().Search(Query{Text: "dark magician"})

	if resp.Backend != "local" {
		t.Fatalf("Backend = %q", resp.Backend)
	}
	if len(resp.Results) == 0 || resp.Results[0].CardID != "c1" || resp.Results[0].Type != ResultCard {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
	if resp.Results[0].Score != 1 {
		t.Fatalf("exact match score = %v", resp.Results[0].Score)
	}
}

func TestLocalSearchSubstringAndAlias(t *testing.T) {
	svc := seededService()

	resp := svc.Search(Query{Text: "dragon"})
	if len(resp.Results) != 1 || resp.Results[0].CardID != "c2" {
		t.Fatalf("unexpected substring results %+v", resp.Results)
	}

	resp = svc.Search(Query{Text: "Black Magician", FilterType: ResultAlias})
	if len(resp.Results) != 1 || resp.Results[0].CardID != "c1" || resp.Results[0].Type != ResultAlias {
		t.Fatalf("unexpected alias results %+v", resp.Results)
	}
}

func TestLocalSearchEmptyAndPaging(t *testing.T) {
	svc := seededService()

	if resp := svc.Search(Query{Text: "  "}); len(resp.Results) != 0 || resp.Results == nil {
		t.Fatalf("expected empty non-nil results, got %+v", resp.Results)
	}

	all := svc.Search(Query{Text: "magician"})
	if all.Total != 2 {
		t.Fatalf("Total = %d, want 2", all.Total)
	}
	page := svc.Search(Query{Text: "magician", Limit: 1, Offset: 1})
	if len(page.Results) != 1 || page.Results[0] != all.Results[1] {
		t.Fatalf("unexpected page %+v", page.Results)
	}
	if beyond := svc.Search(Query{Text: "magician", Offset: 5}); len(beyond.Results) != 0 {
		t.Fatalf("expected empty page, got %+v", beyond.Results)
	}
}

func TestIndexAndDeleteCard(t *testing.T) {
	svc := seededService()

	svc.IndexCard(CardRecord{ID: "c4", Name: "Mirror Force", Type: "Trap"})
	if resp := svc.Search(Query{Text: "mirror force"}); len(resp.Results) != 1 {
		t.Fatalf("expected indexed card, got %+v", resp.Results)
	}

	svc.DeleteCard("c4")
	if resp := svc.Search(Query{Text: "mirror force"}); len(resp.Results) != 0 {
		t.Fatalf("expected card removed, got %+v", resp.Results)
	}
}
