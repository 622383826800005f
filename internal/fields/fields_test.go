package fields

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psinetreject/card-scanner/internal/store"
)

func TestLookupKnownAndAliasedPaths(t *testing.T) {
	f, err := Lookup("cards.name")
	require.NoError(t, err)
	assert.Equal(t, store.TargetCard, f.Target)

	f, err = Lookup("cards.level_rank_link")
	require.NoError(t, err)
	assert.Equal(t, "cards.levelRankLink", f.Path)

	f, err = ForKey(store.TargetPrint, "set_code")
	require.NoError(t, err)
	assert.Equal(t, "prints.setCode", f.Path)
}

func TestLookupRejectsUnknownPath(t *testing.T) {
	for _, path := range []string{"cards.owner", "prints.name", "decks.name", "name", ""} {
		_, err := Lookup(path)
		assert.ErrorIs(t, err, ErrUnknownField, path)
	}
}

func TestParseIntegerFields(t *testing.T) {
	atk, err := Lookup("cards.atk")
	require.NoError(t, err)

	tests := []struct {
		in      any
		want    int
		wantErr bool
	}{
		{in: float64(2500), want: 2500},
		{in: json.Number("3000"), want: 3000},
		{in: " 1200 ", want: 1200},
		{in: 0, want: 0},
		{in: float64(10000), wantErr: true},
		{in: -1, wantErr: true},
		{in: 12.5, wantErr: true},
		{in: "lots", wantErr: true},
		{in: true, wantErr: true},
	}
	for _, tt := range tests {
		got, err := atk.Parse(tt.in)
		if tt.wantErr {
			_, ok := AsValidation(err)
			assert.True(t, ok, "input %v", tt.in)
			continue
		}
		require.NoError(t, err, "input %v", tt.in)
		assert.Equal(t, tt.want, got)
	}

	level, err := Lookup("cards.levelRankLink")
	require.NoError(t, err)
	_, err = level.Parse(14)
	assert.Error(t, err)
	_, err = level.Parse(13)
	assert.NoError(t, err)
}

func TestParseSetCode(t *testing.T) {
	f, err := Lookup("prints.setCode")
	require.NoError(t, err)

	got, err := f.Parse(" lob-en001 ")
	require.NoError(t, err)
	assert.Equal(t, "lob-en001", got)

	_, err = f.Parse("LOBEN001")
	assert.Error(t, err)
}

func TestParseRequiredStrings(t *testing.T) {
	name, err := Lookup("cards.name")
	require.NoError(t, err)
	for _, in := range []any{"", "   ", "X", " x "} {
		_, err := name.Parse(in)
		_, ok := AsValidation(err)
		assert.True(t, ok, "name %q", in)
	}
	got, err := name.Parse(" Jinzo ")
	require.NoError(t, err)
	assert.Equal(t, "Jinzo", got)

	typ, err := Lookup("cards.type")
	require.NoError(t, err)
	_, err = typ.Parse("  ")
	assert.Error(t, err)
	_, err = typ.Parse("Trap")
	assert.NoError(t, err)

	text, err := Lookup("cards.text")
	require.NoError(t, err)
	_, err = text.Parse("")
	assert.NoError(t, err)
}

func TestIsValidSetCode(t *testing.T) {
	assert.True(t, IsValidSetCode("LOB-EN001"))
	assert.True(t, IsValidSetCode("sdk-001"))
	assert.True(t, IsValidSetCode("AB-12"))
	assert.False(t, IsValidSetCode("A-12"))
	assert.False(t, IsValidSetCode("ABCDEFGHI-12"))
	assert.False(t, IsValidSetCode("LOB EN001"))
	assert.False(t, IsValidSetCode(""))
}

func TestNormalize(t *testing.T) {
	name, _ := Lookup("cards.name")
	assert.Equal(t, "dark magician", name.Normalize("  Dark   MAGICIAN "))

	atk, _ := Lookup("cards.atk")
	assert.Equal(t, "2500", atk.Normalize(float64(2500)))
	assert.Equal(t, "2500", atk.Normalize("2500"))
}

func TestApplyCardValuesIsAllOrNothing(t *testing.T) {
	card := store.Card{ID: "c1", Name: "Dark Magician", Type: "Monster"}

	err := ApplyCardValues(&card, map[string]any{"name": "Dark Magician Girl", "atk": float64(20000)})
	require.Error(t, err)
	assert.Equal(t, "Dark Magician", card.Name)
	assert.Nil(t, card.ATK)

	err = ApplyCardValues(&card, map[string]any{"name": "Dark Magician Girl", "atk": float64(2000), "level_rank_link": 6})
	require.NoError(t, err)
	assert.Equal(t, "Dark Magician Girl", card.Name)
	require.NotNil(t, card.ATK)
	assert.Equal(t, 2000, *card.ATK)
	require.NotNil(t, card.LevelRankLink)
	assert.Equal(t, 6, *card.LevelRankLink)
}

func TestApplyCardValuesRejectsUnknownKeys(t *testing.T) {
	card := store.Card{ID: "c1", Name: "Dark Magician", Type: "Monster"}

	err := ApplyCardValues(&card, map[string]any{"owner": "me"})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 1)
}

func TestApplyPrintValues(t *testing.T) {
	pr := store.Print{PrintID: "p1", CardID: "c1", SetCode: "LOB-EN005"}

	require.NoError(t, ApplyPrintValues(&pr, map[string]any{"rarity": "Ultra Rare", "setCode": "LOB-EN006"}))
	assert.Equal(t, "Ultra Rare", pr.Rarity)
	assert.Equal(t, "LOB-EN006", pr.SetCode)

	assert.Error(t, ApplyPrintValues(&pr, map[string]any{"name": "x"}))
}

func TestValidateCard(t *testing.T) {
	atk := 10000
	level := 14
	err := ValidateCard(store.Card{ATK: &atk, LevelRankLink: &level})

	verr, ok := AsValidation(err)
	require.True(t, ok)
	assert.Len(t, verr.Problems, 4)

	assert.NoError(t, ValidateCard(store.Card{Name: "Pot of Greed", Type: "Spell"}))
}

func TestValidatePrint(t *testing.T) {
	assert.NoError(t, ValidatePrint(store.Print{CardID: "c1", SetCode: "LOB-EN001"}))
	assert.Error(t, ValidatePrint(store.Print{CardID: "c1", SetCode: "bad"}))
	assert.Error(t, ValidatePrint(store.Print{SetCode: "LOB-EN001"}))
}

func TestCardValuesOmitsUnsetIntegers(t *testing.T) {
	atk := 2500
	values := CardValues(store.Card{Name: "Dark Magician", Type: "Monster", ATK: &atk})

	assert.Equal(t, "Dark Magician", values["name"])
	assert.Equal(t, 2500, values["atk"])
	_, hasDef := values["def"]
	assert.False(t, hasDef)
}

func TestPathsAreClosed(t *testing.T) {
	assert.Contains(t, Paths(store.TargetCard), "cards.name")
	assert.NotContains(t, Paths(store.TargetCard), "prints.setCode")
	assert.Contains(t, Paths(store.TargetPrint), "prints.setCode")
}
