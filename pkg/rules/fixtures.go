package rules

import "github.com/fieldsync/opqueue/pkg/types"

// SampleInvoiceRules returns the two invoice business rules used as a
// reference fixture, ported from the source system's default rule set:
// invoices must carry a positive amount and a customer. Conditions here
// describe the violation, not the requirement, since a reject-with-message
// action fires when its condition evaluates true.
func SampleInvoiceRules() []*types.BusinessRule {
	return []*types.BusinessRule{
		{
			ID:         "invoice_amount_required",
			EntityType: "invoice",
			Condition: types.RuleCondition{
				Field:    "amount",
				Operator: types.OpLessThan,
				Value:    0.01,
			},
			Action: types.RuleAction{
				Kind:    types.ActionRejectWithMessage,
				Message: "Invoice amount must be greater than zero",
			},
			Priority:         10,
			Enabled:          true,
			ExecutionContext: map[string]struct{}{"offline": {}, "online": {}},
		},
		{
			ID:         "invoice_customer_required",
			EntityType: "invoice",
			Condition: types.RuleCondition{
				Field:    "customer_id",
				Operator: types.OpEmpty,
			},
			Action: types.RuleAction{
				Kind:    types.ActionRejectWithMessage,
				Message: "Customer is required for invoice",
			},
			Priority:         20,
			Enabled:          true,
			ExecutionContext: map[string]struct{}{"offline": {}, "online": {}},
		},
	}
}

// SamplePurchaseOrderRules returns the purchase-order approval-threshold
// rule from the same reference fixture: orders above the threshold must
// wait for an online sync handshake before executing locally.
func SamplePurchaseOrderRules() []*types.BusinessRule {
	return []*types.BusinessRule{
		{
			ID:         "po_approval_threshold",
			EntityType: "purchase_order",
			Condition: types.RuleCondition{
				Field:    "total_amount",
				Operator: types.OpGreaterThan,
				Value:    10000.0,
			},
			Action: types.RuleAction{
				Kind: types.ActionRequireSyncBeforeExec,
			},
			Priority:         10,
			Enabled:          true,
			ExecutionContext: map[string]struct{}{"offline": {}, "online": {}},
		},
	}
}
