// Package fields is the closed registry of editable record fields. Every
// field path accepted from contributors resolves to one entry here with a
// typed parser and setter; unknown paths are rejected at intake.
package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/psinetreject/card-scanner/internal/store"
)

var ErrUnknownField = errors.New("unknown field")

// MinNameLength is the shortest card name accepted from any source.
const MinNameLength = 2

type Kind int

const (
	KindString Kind = iota
	KindInt
)

// Field describes one editable attribute of a card or print.
type Field struct {
	Path   string
	Target store.TargetType
	Key    string
	Kind   Kind
	Min    int
	Max    int
	// Required string fields reject blank values; MinLen counts runes.
	Required bool
	MinLen   int

	getCard  func(store.Card) any
	setCard  func(*store.Card, any)
	getPrint func(store.Print) any
	setPrint func(*store.Print, any)
}

func cardString(key string, get func(store.Card) string, set func(*store.Card, string)) Field {
	return Field{
		Path:    "cards." + key,
		Target:  store.TargetCard,
		Key:     key,
		Kind:    KindString,
		getCard: func(c store.Card) any { return get(c) },
		setCard: func(c *store.Card, v any) { set(c, v.(string)) },
	}
}

func cardInt(key string, lo, hi int, get func(store.Card) *int, set func(*store.Card, *int)) Field {
	return Field{
		Path:   "cards." + key,
		Target: store.TargetCard,
		Key:    key,
		Kind:   KindInt,
		Min:    lo,
		Max:    hi,
		getCard: func(c store.Card) any {
			if p := get(c); p != nil {
				return *p
			}
			return nil
		},
		setCard: func(c *store.Card, v any) {
			n := v.(int)
			set(c, &n)
		},
	}
}

func required(f Field, minLen int) Field {
	f.Required = true
	f.MinLen = minLen
	return f
}

func printString(key string, get func(store.Print) string, set func(*store.Print, string)) Field {
	return Field{
		Path:     "prints." + key,
		Target:   store.TargetPrint,
		Key:      key,
		Kind:     KindString,
		getPrint: func(p store.Print) any { return get(p) },
		setPrint: func(p *store.Print, v any) { set(p, v.(string)) },
	}
}

var registry = map[string]Field{}

// keyAliases maps alternate diff keys onto registry keys.
var keyAliases = map[string]string{
	"level_rank_link": "levelRankLink",
	"level":           "levelRankLink",
	"set_code":        "setCode",
	"set_name":        "setName",
	"release_date":    "releaseDate",
	"image_key":       "imageKey",
}

func register(f Field) {
	registry[f.Path] = f
}

func init() {
	register(required(cardString("name", func(c store.Card) string { return c.Name }, func(c *store.Card, v string) { c.Name = v }), MinNameLength))
	register(required(cardString("type", func(c store.Card) string { return c.Type }, func(c *store.Card, v string) { c.Type = v }), 1))
	register(cardString("attribute", func(c store.Card) string { return c.Attribute }, func(c *store.Card, v string) { c.Attribute = v }))
	register(cardString("text", func(c store.Card) string { return c.Text }, func(c *store.Card, v string) { c.Text = v }))
	register(cardString("archetype", func(c store.Card) string { return c.Archetype }, func(c *store.Card, v string) { c.Archetype = v }))
	register(cardString("imageKey", func(c store.Card) string { return c.ImageKey }, func(c *store.Card, v string) { c.ImageKey = v }))
	register(cardInt("levelRankLink", 0, 13, func(c store.Card) *int { return c.LevelRankLink }, func(c *store.Card, v *int) { c.LevelRankLink = v }))
	register(cardInt("atk", 0, 9999, func(c store.Card) *int { return c.ATK }, func(c *store.Card, v *int) { c.ATK = v }))
	register(cardInt("def", 0, 9999, func(c store.Card) *int { return c.DEF }, func(c *store.Card, v *int) { c.DEF = v }))

	register(printString("setCode", func(p store.Print) string { return p.SetCode }, func(p *store.Print, v string) { p.SetCode = v }))
	register(printString("setName", func(p store.Print) string { return p.SetName }, func(p *store.Print, v string) { p.SetName = v }))
	register(printString("rarity", func(p store.Print) string { return p.Rarity }, func(p *store.Print, v string) { p.Rarity = v }))
	register(printString("edition", func(p store.Print) string { return p.Edition }, func(p *store.Print, v string) { p.Edition = v }))
	register(printString("language", func(p store.Print) string { return p.Language }, func(p *store.Print, v string) { p.Language = v }))
	register(printString("releaseDate", func(p store.Print) string { return p.ReleaseDate }, func(p *store.Print, v string) { p.ReleaseDate = v }))
}

// Lookup resolves a full field path such as "cards.name".
func Lookup(path string) (Field, error) {
	path = strings.TrimSpace(path)
	if f, ok := registry[path]; ok {
		return f, nil
	}
	prefix, key, found := strings.Cut(path, ".")
	if found {
		if alias, ok := keyAliases[key]; ok {
			if f, ok := registry[prefix+"."+alias]; ok {
				return f, nil
			}
		}
	}
	return Field{}, fmt.Errorf("%w: %q", ErrUnknownField, path)
}

// ForKey resolves a bare diff key against the target's entity.
func ForKey(target store.TargetType, key string) (Field, error) {
	prefix := "cards."
	if target == store.TargetPrint {
		prefix = "prints."
	}
	return Lookup(prefix + key)
}

// Paths lists every registered field path for target.
func Paths(target store.TargetType) []string {
	var out []string
	for path, f := range registry {
		if f.Target == target {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Parse converts a decoded JSON value into the field's canonical Go type
// (string or int) and checks range, presence and length constraints.
func (f Field) Parse(value any) (any, error) {
	switch f.Kind {
	case KindInt:
		n, err := toInt(value)
		if err != nil {
			return nil, newValidationError(fmt.Sprintf("%s: %v", f.Path, err))
		}
		if n < f.Min || n > f.Max {
			return nil, newValidationError(fmt.Sprintf("%s must be %d..%d", f.Key, f.Min, f.Max))
		}
		return n, nil
	default:
		s, err := toString(value)
		if err != nil {
			return nil, newValidationError(fmt.Sprintf("%s: %v", f.Path, err))
		}
		s = strings.TrimSpace(s)
		if f.Required && s == "" {
			return nil, newValidationError(fmt.Sprintf("%s is required", f.Key))
		}
		if f.MinLen > 0 && len([]rune(s)) < f.MinLen {
			return nil, newValidationError(fmt.Sprintf("%s looks invalid or too short", f.Key))
		}
		if f.Path == "prints.setCode" && !IsValidSetCode(s) {
			return nil, newValidationError("invalid setCode format (expected ABC-123 style)")
		}
		return s, nil
	}
}

// Normalize returns the bucketing key used by consensus: trimmed,
// lowercased, inner whitespace collapsed; integers in canonical decimal.
func (f Field) Normalize(value any) string {
	if f.Kind == KindInt {
		if n, err := toInt(value); err == nil {
			return strconv.Itoa(n)
		}
	}
	s, err := toString(value)
	if err != nil {
		s = fmt.Sprint(value)
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (f Field) GetCard(c store.Card) any {
	if f.getCard == nil {
		return nil
	}
	return f.getCard(c)
}

func (f Field) GetPrint(p store.Print) any {
	if f.getPrint == nil {
		return nil
	}
	return f.getPrint(p)
}

// ApplyCard parses value and writes it into c.
func (f Field) ApplyCard(c *store.Card, value any) error {
	if f.setCard == nil {
		return fmt.Errorf("%w: %s is not a card field", ErrUnknownField, f.Path)
	}
	parsed, err := f.Parse(value)
	if err != nil {
		return err
	}
	f.setCard(c, parsed)
	return nil
}

// ApplyPrint parses value and writes it into p.
func (f Field) ApplyPrint(p *store.Print, value any) error {
	if f.setPrint == nil {
		return fmt.Errorf("%w: %s is not a print field", ErrUnknownField, f.Path)
	}
	parsed, err := f.Parse(value)
	if err != nil {
		return err
	}
	f.setPrint(p, parsed)
	return nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected whole number, got %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected whole number, got %s", v)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("expected whole number, got %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", value)
	}
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", fmt.Errorf("expected text, got %T", value)
	}
}
