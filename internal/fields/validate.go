package fields

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/psinetreject/card-scanner/internal/store"
)

var setCodePattern = regexp.MustCompile(`(?i)^[A-Z0-9]{2,8}-[A-Z0-9]{2,6}$`)

// ValidationError collects every problem found in one record or diff.
type ValidationError struct {
	Problems []string
}

func newValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

// AsValidation unwraps err into a *ValidationError when it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

func IsValidSetCode(code string) bool {
	return setCodePattern.MatchString(code)
}

// ValidateCard checks a whole card record.
func ValidateCard(c store.Card) error {
	var problems []string
	if strings.TrimSpace(c.Name) == "" {
		problems = append(problems, "card name is required")
	}
	if strings.TrimSpace(c.Type) == "" {
		problems = append(problems, "card type is required")
	}
	if c.ATK != nil && (*c.ATK < 0 || *c.ATK > 9999) {
		problems = append(problems, "atk must be 0..9999")
	}
	if c.DEF != nil && (*c.DEF < 0 || *c.DEF > 9999) {
		problems = append(problems, "def must be 0..9999")
	}
	if c.LevelRankLink != nil && (*c.LevelRankLink < 0 || *c.LevelRankLink > 13) {
		problems = append(problems, "levelRankLink must be 0..13")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidatePrint checks a whole print record.
func ValidatePrint(p store.Print) error {
	var problems []string
	if strings.TrimSpace(p.CardID) == "" {
		problems = append(problems, "print cardId is required")
	}
	if !IsValidSetCode(p.SetCode) {
		problems = append(problems, "invalid setCode format (expected ABC-123 style)")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ApplyCardValues writes every key of values into c. Keys are bare field
// names ("name", "atk"). Nothing is written when any key fails.
func ApplyCardValues(c *store.Card, values map[string]any) error {
	next := *c
	var problems []string
	for _, key := range sortedKeys(values) {
		f, err := ForKey(store.TargetCard, key)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if err := f.ApplyCard(&next, values[key]); err != nil {
			problems = append(problems, problemsOf(err)...)
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	*c = next
	return nil
}

// ApplyPrintValues is ApplyCardValues for prints.
func ApplyPrintValues(p *store.Print, values map[string]any) error {
	next := *p
	var problems []string
	for _, key := range sortedKeys(values) {
		f, err := ForKey(store.TargetPrint, key)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if err := f.ApplyPrint(&next, values[key]); err != nil {
			problems = append(problems, problemsOf(err)...)
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	*p = next
	return nil
}

// CheckKeys reports keys of values that are not editable on target.
func CheckKeys(target store.TargetType, values map[string]any) error {
	var problems []string
	for _, key := range sortedKeys(values) {
		if _, err := ForKey(target, key); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CardValues returns the editable fields of c keyed by bare name; unset
// optional integers are omitted.
func CardValues(c store.Card) map[string]any {
	out := make(map[string]any)
	for path, f := range registry {
		if f.Target != store.TargetCard {
			continue
		}
		if v := f.GetCard(c); v != nil {
			out[strings.TrimPrefix(path, "cards.")] = v
		}
	}
	return out
}

func PrintValues(p store.Print) map[string]any {
	out := make(map[string]any)
	for path, f := range registry {
		if f.Target != store.TargetPrint {
			continue
		}
		out[strings.TrimPrefix(path, "prints.")] = f.GetPrint(p)
	}
	return out
}

func problemsOf(err error) []string {
	if verr, ok := AsValidation(err); ok {
		return verr.Problems
	}
	return []string{err.Error()}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
