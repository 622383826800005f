// Package intake admits contributions: shape validation, the duplicate
// observation window and per-device write rate limiting.
package intake

import (
	"fmt"
	"strings"
	"time"

	"github.com/psinetreject/card-scanner/internal/fields"
	"github.com/psinetreject/card-scanner/internal/store"
)

const (
	// MinConfidence is the proposal confidence below which a proposal is
	// admitted straight into manual review.
	MinConfidence      = 0.15
	MinNameLength      = fields.MinNameLength
	DefaultDedupWindow = 24 * time.Hour
)

var aliasKeys = map[string]bool{"aliasText": true, "cardId": true, "locale": true}

// ProposalTarget resolves which entity a proposal edits. An explicit diff
// entity wins over the proposal type.
func ProposalTarget(typ store.ProposalType, diff store.ProposalDiff) store.Entity {
	if diff.Entity != "" {
		return diff.Entity
	}
	switch typ {
	case store.ProposalNewPrint, store.ProposalEditPrint:
		return store.EntityPrint
	case store.ProposalAlias:
		return store.EntityAlias
	default:
		return store.EntityCard
	}
}

// ValidateProposal checks a proposal before admission. forceReview is set
// when the proposal is acceptable but must skip the normal queue and go
// straight to manual review.
func ValidateProposal(typ store.ProposalType, payload store.ProposalPayload) (forceReview bool, err error) {
	var problems []string
	values := payload.Diff.NewValues
	if len(values) == 0 {
		problems = append(problems, "proposal diff.newValues cannot be empty")
	}
	if payload.Confidence != nil && (*payload.Confidence < 0 || *payload.Confidence > 1) {
		problems = append(problems, "confidence must be 0..1")
	}

	switch entity := ProposalTarget(typ, payload.Diff); entity {
	case store.EntityCard:
		problems = append(problems, keyProblems(fields.CheckKeys(store.TargetCard, values))...)
		problems = append(problems, valueProblems(store.TargetCard, values)...)
	case store.EntityPrint:
		printValues := withoutKey(values, "cardId")
		problems = append(problems, keyProblems(fields.CheckKeys(store.TargetPrint, printValues))...)
		problems = append(problems, valueProblems(store.TargetPrint, printValues)...)
		if typ == store.ProposalNewPrint {
			if id, _ := values["cardId"].(string); strings.TrimSpace(id) == "" {
				problems = append(problems, "new print proposals need cardId")
			}
		}
	case store.EntityAlias:
		for key := range values {
			if !aliasKeys[key] {
				problems = append(problems, fmt.Sprintf("%v: %q", fields.ErrUnknownField, "alias."+key))
			}
		}
		if text, _ := values["aliasText"].(string); strings.TrimSpace(text) == "" && len(values) > 0 {
			problems = append(problems, "aliasText is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported proposal entity %q", entity))
	}

	if len(problems) > 0 {
		return false, &fields.ValidationError{Problems: problems}
	}
	return payload.Confidence != nil && *payload.Confidence < MinConfidence, nil
}

// withoutKey returns values minus key; print proposals carry their parent
// card id next to the editable fields.
func withoutKey(values map[string]any, key string) map[string]any {
	if _, ok := values[key]; !ok {
		return values
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if k != key {
			out[k] = v
		}
	}
	return out
}

func keyProblems(err error) []string {
	if verr, ok := fields.AsValidation(err); ok {
		return verr.Problems
	}
	return nil
}

// valueProblems parses every known key so range and pattern violations are
// reported at intake, not at approval.
func valueProblems(target store.TargetType, values map[string]any) []string {
	var problems []string
	for key, value := range values {
		f, err := fields.ForKey(target, key)
		if err != nil {
			continue
		}
		if _, err := f.Parse(value); err != nil {
			problems = append(problems, keyProblems(err)...)
		}
	}
	return problems
}

// ValidateObservation checks an observation and resolves its field.
func ValidateObservation(ob store.OutboxObservation) (fields.Field, error) {
	if ob.TargetType == "" || strings.TrimSpace(ob.TargetID) == "" {
		return fields.Field{}, &fields.ValidationError{Problems: []string{"targetType/targetId required"}}
	}
	if ob.TargetType != store.TargetCard && ob.TargetType != store.TargetPrint {
		return fields.Field{}, &fields.ValidationError{Problems: []string{fmt.Sprintf("unsupported targetType %q", ob.TargetType)}}
	}
	f, err := fields.Lookup(ob.FieldPath)
	if err != nil {
		return fields.Field{}, &fields.ValidationError{Problems: []string{err.Error()}}
	}
	if f.Target != ob.TargetType {
		return fields.Field{}, &fields.ValidationError{Problems: []string{fmt.Sprintf("field %s does not belong to a %s", f.Path, ob.TargetType)}}
	}
	var problems []string
	if ob.OCRConfidence < 0 || ob.OCRConfidence > 1 {
		problems = append(problems, "ocrConfidence must be 0..1")
	}
	if ob.CaptureQuality < 0 || ob.CaptureQuality > 1 {
		problems = append(problems, "captureQualityScore must be 0..1")
	}
	if _, err := f.Parse(ob.Value); err != nil {
		problems = append(problems, keyProblems(err)...)
	}
	if len(problems) > 0 {
		return fields.Field{}, &fields.ValidationError{Problems: problems}
	}
	return f, nil
}

// ValidateDraft checks a draft before admission.
func ValidateDraft(d store.OutboxDraft) error {
	var problems []string
	if len(d.ProposedPayload) == 0 {
		problems = append(problems, "missing proposed payload")
	}
	switch d.TargetType {
	case "", store.TargetCard, store.TargetPrint, store.TargetUnknown:
	default:
		problems = append(problems, fmt.Sprintf("unsupported targetType %q", d.TargetType))
	}
	if d.TargetType == store.TargetPrint && strings.TrimSpace(d.TargetID) == "" {
		problems = append(problems, "print drafts need a targetId")
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		problems = append(problems, "confidence must be 0..1")
	}
	if len(problems) > 0 {
		return &fields.ValidationError{Problems: problems}
	}
	return nil
}

// IsDuplicate reports whether candidate repeats an earlier observation by
// the same principal on the same target field within window, or reuses a
// local id the principal already submitted.
func IsDuplicate(prior []store.Observation, candidate store.Observation, now time.Time, window time.Duration) bool {
	for _, ob := range prior {
		if ob.PrincipalID != candidate.PrincipalID {
			continue
		}
		if candidate.LocalID != "" && ob.LocalID == candidate.LocalID {
			return true
		}
		if ob.TargetType != candidate.TargetType || ob.TargetID != candidate.TargetID || ob.FieldPath != candidate.FieldPath {
			continue
		}
		if now.Sub(ob.CreatedAt) < window {
			return true
		}
	}
	return false
}
