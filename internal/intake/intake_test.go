package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psinetreject/card-scanner/internal/fields"
	"github.com/psinetreject/card-scanner/internal/store"
)

func confidence(v float64) *float64 { return &v }

func TestValidateProposal(t *testing.T) {
	tests := []struct {
		name        string
		typ         store.ProposalType
		payload     store.ProposalPayload
		wantErr     bool
		forceReview bool
	}{
		{
			name:    "empty diff",
			typ:     store.ProposalEditCard,
			payload: store.ProposalPayload{Diff: store.ProposalDiff{Entity: store.EntityCard}},
			wantErr: true,
		},
		{
			name:    "short name",
			typ:     store.ProposalEditCard,
			payload: store.ProposalPayload{Diff: store.ProposalDiff{NewValues: map[string]any{"name": " x "}}},
			wantErr: true,
		},
		{
			name:    "unknown field",
			typ:     store.ProposalEditCard,
			payload: store.ProposalPayload{Diff: store.ProposalDiff{NewValues: map[string]any{"owner": "me"}}},
			wantErr: true,
		},
		{
			name:    "atk out of range",
			typ:     store.ProposalEditCard,
			payload: store.ProposalPayload{Diff: store.ProposalDiff{NewValues: map[string]any{"atk": float64(12000)}}},
			wantErr: true,
		},
		{
			name:    "bad set code",
			typ:     store.ProposalEditPrint,
			payload: store.ProposalPayload{Diff: store.ProposalDiff{NewValues: map[string]any{"setCode": "nope"}}},
			wantErr: true,
		},
		{
			name:        "low confidence goes to review",
			typ:         store.ProposalEditCard,
			payload:     store.ProposalPayload{Diff: store.ProposalDiff{NewValues: map[string]any{"name": "Dark Magician"}}, Confidence: confidence(0.1)},
			forceReview: true,
		},
		{
			name:    "valid card edit",
			typ:     store.ProposalEditCard,
			payload: store.ProposalPayload{Diff: store.ProposalDiff{NewValues: map[string]any{"name": "Dark Magician", "atk": float64(2500)}}, Confidence: confidence(0.9)},
		},
		{
			name:    "valid alias",
			typ:     store.ProposalAlias,
			payload: store.ProposalPayload{Diff: store.ProposalDiff{NewValues: map[string]any{"aliasText": "Black Magician", "cardId": "c1"}}},
		},
		{
			name:    "alias without text",
			typ:     store.ProposalAlias,
			payload: store.ProposalPayload{Diff: store.ProposalDiff{NewValues: map[string]any{"cardId": "c1"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forceReview, err := ValidateProposal(tt.typ, tt.payload)
			if tt.wantErr {
				_, ok := fields.AsValidation(err)
				assert.True(t, ok, "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.forceReview, forceReview)
		})
	}
}

func TestProposalTarget(t *testing.T) {
	assert.Equal(t, store.EntityPrint, ProposalTarget(store.ProposalNewPrint, store.ProposalDiff{}))
	assert.Equal(t, store.EntityCard, ProposalTarget(store.ProposalCorrection, store.ProposalDiff{}))
	assert.Equal(t, store.EntityPrint, ProposalTarget(store.ProposalCorrection, store.ProposalDiff{Entity: store.EntityPrint}))
}

func TestValidateObservation(t *testing.T) {
	valid := store.OutboxObservation{
		LocalObservationID: "o1",
		TargetType:         store.TargetCard,
		TargetID:           "c1",
		FieldPath:          "cards.name",
		Value:              "Dark Magician",
		OCRConfidence:      0.9,
		CaptureQuality:     0.8,
	}
	f, err := ValidateObservation(valid)
	require.NoError(t, err)
	assert.Equal(t, "cards.name", f.Path)

	missingTarget := valid
	missingTarget.TargetID = ""
	_, err = ValidateObservation(missingTarget)
	assert.Error(t, err)

	unknownField := valid
	unknownField.FieldPath = "cards.owner"
	_, err = ValidateObservation(unknownField)
	assert.Error(t, err)

	wrongEntity := valid
	wrongEntity.FieldPath = "prints.setCode"
	_, err = ValidateObservation(wrongEntity)
	assert.Error(t, err)

	for _, value := range []string{"   ", "X"} {
		badName := valid
		badName.Value = value
		_, err = ValidateObservation(badName)
		_, ok := fields.AsValidation(err)
		assert.True(t, ok, "name %q", value)
	}

	blankType := valid
	blankType.FieldPath = "cards.type"
	blankType.Value = ""
	_, err = ValidateObservation(blankType)
	assert.Error(t, err)

	badConfidence := valid
	badConfidence.OCRConfidence = 1.5
	_, err = ValidateObservation(badConfidence)
	assert.Error(t, err)
}

func TestValidateDraft(t *testing.T) {
	assert.Error(t, ValidateDraft(store.OutboxDraft{LocalDraftID: "d1"}))
	assert.NoError(t, ValidateDraft(store.OutboxDraft{LocalDraftID: "d1", ProposedPayload: map[string]any{"name": "New Card"}}))
	assert.Error(t, ValidateDraft(store.OutboxDraft{ProposedPayload: map[string]any{"setCode": "LOB-EN001"}, TargetType: store.TargetPrint}))
	assert.Error(t, ValidateDraft(store.OutboxDraft{ProposedPayload: map[string]any{"name": "x"}, TargetType: "deck"}))
}

func TestIsDuplicate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prior := []store.Observation{
		{ObservationID: "o1", LocalID: "l1", PrincipalID: "u1", TargetType: store.TargetCard, TargetID: "c1", FieldPath: "cards.name", CreatedAt: now.Add(-2 * time.Hour)},
		{ObservationID: "o2", LocalID: "l2", PrincipalID: "u1", TargetType: store.TargetCard, TargetID: "c2", FieldPath: "cards.name", CreatedAt: now.Add(-25 * time.Hour)},
	}

	same := store.Observation{PrincipalID: "u1", TargetType: store.TargetCard, TargetID: "c1", FieldPath: "cards.name"}
	assert.True(t, IsDuplicate(prior, same, now, DefaultDedupWindow))

	otherPrincipal := same
	otherPrincipal.PrincipalID = "u2"
	assert.False(t, IsDuplicate(prior, otherPrincipal, now, DefaultDedupWindow))

	otherField := same
	otherField.FieldPath = "cards.type"
	assert.False(t, IsDuplicate(prior, otherField, now, DefaultDedupWindow))

	expired := store.Observation{PrincipalID: "u1", TargetType: store.TargetCard, TargetID: "c2", FieldPath: "cards.name"}
	assert.False(t, IsDuplicate(prior, expired, now, DefaultDedupWindow))

	resent := expired
	resent.LocalID = "l2"
	assert.True(t, IsDuplicate(prior, resent, now, DefaultDedupWindow))
}
