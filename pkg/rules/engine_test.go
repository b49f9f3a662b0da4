package rules

import (
	"testing"

	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/fieldsync/opqueue/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewEngine(store), store
}

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name    string
		cond    types.RuleCondition
		payload map[string]any
		want    bool
	}{
		{"equals true", types.RuleCondition{Field: "status", Operator: types.OpEquals, Value: "open"}, map[string]any{"status": "open"}, true},
		{"equals false", types.RuleCondition{Field: "status", Operator: types.OpEquals, Value: "open"}, map[string]any{"status": "closed"}, false},
		{"greater_than true", types.RuleCondition{Field: "amount", Operator: types.OpGreaterThan, Value: 0.0}, map[string]any{"amount": 250.0}, true},
		{"greater_than false", types.RuleCondition{Field: "amount", Operator: types.OpGreaterThan, Value: 0.0}, map[string]any{"amount": 0.0}, false},
		{"not_empty true", types.RuleCondition{Field: "customer_id", Operator: types.OpNotEmpty}, map[string]any{"customer_id": "C1"}, true},
		{"not_empty false on missing field", types.RuleCondition{Field: "customer_id", Operator: types.OpNotEmpty}, map[string]any{}, false},
		{"in true", types.RuleCondition{Field: "status", Operator: types.OpIn, Value: []any{"open", "pending"}}, map[string]any{"status": "pending"}, true},
		{"not_in true", types.RuleCondition{Field: "status", Operator: types.OpNotIn, Value: []any{"closed"}}, map[string]any{"status": "open"}, true},
		{"unknown operator fails closed", types.RuleCondition{Field: "x", Operator: "mystery"}, map[string]any{"x": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluateCondition(tt.cond, tt.payload))
		})
	}
}

func TestEvaluate_InvoiceRejection(t *testing.T) {
	engine, _ := newTestEngine(t)
	for _, r := range SampleInvoiceRules() {
		require.NoError(t, engine.Register(r))
	}

	result, err := engine.Evaluate("invoice", map[string]any{"amount": 0.0, "customer_id": "C1"})
	require.NoError(t, err)
	assert.Contains(t, result.Errors, "Invoice amount must be greater than zero")
}

func TestEvaluate_InvoiceAccepted(t *testing.T) {
	engine, _ := newTestEngine(t)
	for _, r := range SampleInvoiceRules() {
		require.NoError(t, engine.Register(r))
	}

	result, err := engine.Evaluate("invoice", map[string]any{"amount": 250.0, "customer_id": "C1"})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
}

func TestEvaluate_PurchaseOrderRequiresSync(t *testing.T) {
	engine, _ := newTestEngine(t)
	for _, r := range SamplePurchaseOrderRules() {
		require.NoError(t, engine.Register(r))
	}

	result, err := engine.Evaluate("purchase_order", map[string]any{"total_amount": 15000.0})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.True(t, result.RequireSyncBeforeExecute)
}

func TestEvaluate_SetFieldMutatesCopyOnly(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.Register(&types.BusinessRule{
		ID:         "stamp_reviewed",
		EntityType: "invoice",
		Condition: types.RuleCondition{
			Field:    "amount",
			Operator: types.OpGreaterThan,
			Value:    0.0,
		},
		Action: types.RuleAction{
			Kind:  types.ActionSetField,
			Field: "reviewed",
			Value: true,
		},
		Priority:         1,
		Enabled:          true,
		ExecutionContext: map[string]struct{}{"offline": {}},
	}))

	original := map[string]any{"amount": 100.0}
	result, err := engine.Evaluate("invoice", original)
	require.NoError(t, err)

	assert.Equal(t, true, result.Payload["reviewed"])
	_, present := original["reviewed"]
	assert.False(t, present, "original payload must not be mutated")
}

func TestEvaluate_DisabledRuleSkipped(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.Register(&types.BusinessRule{
		ID:         "disabled",
		EntityType: "invoice",
		Condition: types.RuleCondition{
			Field:    "amount",
			Operator: types.OpGreaterThan,
			Value:    0.0,
		},
		Action: types.RuleAction{
			Kind:    types.ActionRejectWithMessage,
			Message: "should never fire",
		},
		Priority:         1,
		Enabled:          false,
		ExecutionContext: map[string]struct{}{"offline": {}},
	}))

	result, err := engine.Evaluate("invoice", map[string]any{"amount": 1.0})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
}
