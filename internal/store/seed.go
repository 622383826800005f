package store

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/psinetreject/card-scanner/internal/similarity"
)

//go:embed seeddata/catalog.yaml
var seedFS embed.FS

// Seed is the initial catalog loaded into an empty authority.
type Seed struct {
	Cards         []SeedCard         `yaml:"cards"`
	Prints        []SeedPrint        `yaml:"prints"`
	Aliases       []SeedAlias        `yaml:"aliases"`
	FeaturePacks  []SeedPack         `yaml:"featurePacks"`
	ImageFeatures []SeedImageFeature `yaml:"imageFeatures"`
	Accounts      []SeedAccount      `yaml:"accounts"`
}

type SeedCard struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	Attribute     string `yaml:"attribute"`
	LevelRankLink *int   `yaml:"levelRankLink"`
	ATK           *int   `yaml:"atk"`
	DEF           *int   `yaml:"def"`
	Text          string `yaml:"text"`
	Archetype     string `yaml:"archetype"`
}

type SeedPrint struct {
	PrintID     string `yaml:"printId"`
	CardID      string `yaml:"cardId"`
	SetCode     string `yaml:"setCode"`
	SetName     string `yaml:"setName"`
	Rarity      string `yaml:"rarity"`
	Edition     string `yaml:"edition"`
	Language    string `yaml:"language"`
	ReleaseDate string `yaml:"releaseDate"`
}

type SeedAlias struct {
	AliasID   string `yaml:"aliasId"`
	CardID    string `yaml:"cardId"`
	AliasText string `yaml:"aliasText"`
	Locale    string `yaml:"locale"`
}

type SeedPack struct {
	PackID string     `yaml:"packId"`
	Name   string     `yaml:"name"`
	Status PackStatus `yaml:"status"`
}

type SeedImageFeature struct {
	FeatureID   string     `yaml:"featureId"`
	CardID      string     `yaml:"cardId"`
	PrintID     string     `yaml:"printId"`
	Region      RegionType `yaml:"roiType"`
	Fingerprint string     `yaml:"phash"`
	PackID      string     `yaml:"packId"`
}

// SeedAccount carries a plaintext password; it is hashed on load.
type SeedAccount struct {
	Username    string `yaml:"username"`
	DisplayName string `yaml:"displayName"`
	Role        string `yaml:"role"`
	Password    string `yaml:"password"`
}

// LoadSeed reads a seed file, or the built-in catalog when path is empty.
func LoadSeed(path string) (Seed, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = seedFS.ReadFile("seeddata/catalog.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

func (c SeedCard) Card() Card {
	return Card{
		ID:            c.ID,
		Name:          c.Name,
		Type:          c.Type,
		Attribute:     c.Attribute,
		LevelRankLink: c.LevelRankLink,
		ATK:           c.ATK,
		DEF:           c.DEF,
		Text:          c.Text,
		Archetype:     c.Archetype,
		Version:       1,
	}
}

func (p SeedPrint) Print() Print {
	return Print{
		PrintID:     p.PrintID,
		CardID:      p.CardID,
		SetCode:     p.SetCode,
		SetName:     p.SetName,
		Rarity:      p.Rarity,
		Edition:     p.Edition,
		Language:    p.Language,
		ReleaseDate: p.ReleaseDate,
		Version:     1,
	}
}

func (a SeedAlias) Alias() Alias {
	return Alias{AliasID: a.AliasID, CardID: a.CardID, AliasText: a.AliasText, Locale: a.Locale, Version: 1}
}

func (p SeedPack) Pack() FeaturePack {
	status := p.Status
	if status == "" {
		status = PackInstalled
	}
	return FeaturePack{PackID: p.PackID, Name: p.Name, Status: status}
}

// Feature converts the seed entry, parsing its hex fingerprint.
func (f SeedImageFeature) Feature() (ImageFeature, error) {
	fp, err := similarity.ParseFingerprint(f.Fingerprint)
	if err != nil {
		return ImageFeature{}, fmt.Errorf("feature %s: %w", f.FeatureID, err)
	}
	return ImageFeature{
		FeatureID:   f.FeatureID,
		CardID:      f.CardID,
		PrintID:     f.PrintID,
		Region:      f.Region,
		Fingerprint: fp,
		PackID:      f.PackID,
	}, nil
}
