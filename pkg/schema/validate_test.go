package schema

import (
	"testing"
	"time"

	"github.com/fieldsync/opqueue/pkg/types"
	"github.com/stretchr/testify/assert"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestValidateField(t *testing.T) {
	tests := []struct {
		name      string
		def       types.FieldDef
		value     any
		wantError bool
	}{
		{"string ok", types.FieldDef{Type: types.FieldString}, "hello", false},
		{"string wrong type", types.FieldDef{Type: types.FieldString}, 42, true},
		{"string too short", types.FieldDef{Type: types.FieldString, MinLength: intPtr(3)}, "ab", true},
		{"string too long", types.FieldDef{Type: types.FieldString, MaxLength: intPtr(3)}, "abcd", true},
		{"decimal ok", types.FieldDef{Type: types.FieldDecimal, Min: floatPtr(0)}, 250.0, false},
		{"decimal non-numeric", types.FieldDef{Type: types.FieldDecimal}, "not a number", true},
		{"decimal below min", types.FieldDef{Type: types.FieldDecimal, Min: floatPtr(1)}, 0.0, true},
		{"decimal above max", types.FieldDef{Type: types.FieldDecimal, Max: floatPtr(100)}, 101.0, true},
		{"email ok", types.FieldDef{Type: types.FieldEmail}, "a@b.com", false},
		{"email missing at", types.FieldDef{Type: types.FieldEmail}, "not-an-email", true},
		{"date ok RFC3339", types.FieldDef{Type: types.FieldDate}, "2024-01-15T10:30:00Z", false},
		{"date ok time.Time", types.FieldDef{Type: types.FieldDate}, time.Now(), false},
		{"date invalid", types.FieldDef{Type: types.FieldDate}, "not-a-date", true},
		{"boolean ok", types.FieldDef{Type: types.FieldBoolean}, true, false},
		{"boolean numeric rejected", types.FieldDef{Type: types.FieldBoolean}, 1, true},
		{"enum ok", types.FieldDef{Type: types.FieldEnum, EnumValues: []string{"a", "b"}}, "a", false},
		{"enum not in set", types.FieldDef{Type: types.FieldEnum, EnumValues: []string{"a", "b"}}, "c", true},
		{"array ok", types.FieldDef{Type: types.FieldArray}, []any{1, 2}, false},
		{"array wrong type", types.FieldDef{Type: types.FieldArray}, "not-an-array", true},
		{"object ok", types.FieldDef{Type: types.FieldObject}, map[string]any{"a": 1}, false},
		{"object wrong type", types.FieldDef{Type: types.FieldObject}, []any{1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateField("field", tt.def, tt.value)
			if tt.wantError {
				assert.NotEmpty(t, errs)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestValidatePayload_MissingRequiredFieldsAccumulate(t *testing.T) {
	s := &types.EntitySchema{
		EntityType: "invoice",
		Fields: map[string]types.FieldDef{
			"amount":      {Type: types.FieldDecimal, Min: floatPtr(0)},
			"customer_id": {Type: types.FieldString},
		},
		RequiredFields: map[string]struct{}{
			"amount":      {},
			"customer_id": {},
		},
	}

	errs := ValidatePayload(s, map[string]any{})
	assert.Len(t, errs, 2, "both missing-required errors should be reported, not just the first")
}

func TestValidatePayload_AccumulatesAcrossFields(t *testing.T) {
	s := &types.EntitySchema{
		EntityType: "invoice",
		Fields: map[string]types.FieldDef{
			"amount":      {Type: types.FieldDecimal, Min: floatPtr(0.01)},
			"customer_id": {Type: types.FieldString, MinLength: intPtr(1)},
		},
	}

	errs := ValidatePayload(s, map[string]any{
		"amount":      0.0,
		"customer_id": "",
	})
	assert.Len(t, errs, 2)
}

func TestValidatePayload_Idempotent(t *testing.T) {
	s := &types.EntitySchema{
		EntityType: "invoice",
		Fields: map[string]types.FieldDef{
			"amount": {Type: types.FieldDecimal, Min: floatPtr(0)},
		},
	}
	payload := map[string]any{"amount": -5.0}

	first := ValidatePayload(s, payload)
	second := ValidatePayload(s, payload)
	assert.Equal(t, first, second)
}
