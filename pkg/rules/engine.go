package rules

import (
	"fmt"

	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/fieldsync/opqueue/pkg/types"
)

// Result is the outcome of evaluating a payload against the rules for an
// entity type.
type Result struct {
	// Payload is the (possibly mutated by set-field actions) payload;
	// the caller's original map is never modified in place.
	Payload map[string]any
	// Errors carries one message per reject-with-message rule whose
	// condition held; non-empty means the payload is unacceptable.
	Errors []string
	// RequireSyncBeforeExecute is set when a require-sync-before-execute
	// rule fired; it does not itself fail validation but tells the
	// scheduler to hold the operation pending until the sync coordinator
	// completes a successful handshake.
	RequireSyncBeforeExecute bool
}

// Engine evaluates business rules backed by the durable store.
type Engine struct {
	store storage.Store
}

// NewEngine creates an Engine over store.
func NewEngine(store storage.Store) *Engine {
	return &Engine{store: store}
}

// Register persists a business rule.
func (e *Engine) Register(rule *types.BusinessRule) error {
	return e.store.PutRule(rule)
}

// Evaluate runs every enabled, offline-applicable rule for entityType
// against payload, in priority order. Conditions see each preceding
// rule's set-field mutations; the caller's payload is never altered.
func (e *Engine) Evaluate(entityType string, payload map[string]any) (Result, error) {
	working := copyPayload(payload)
	result := Result{Payload: working}

	rules, err := e.store.ListRulesForType(entityType)
	if err != nil {
		return result, err
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if _, offline := rule.ExecutionContext["offline"]; !offline {
			continue
		}
		if !evaluateCondition(rule.Condition, working) {
			continue
		}

		switch rule.Action.Kind {
		case types.ActionRejectWithMessage:
			result.Errors = append(result.Errors, rule.Action.Message)
		case types.ActionRequireSyncBeforeExec:
			result.RequireSyncBeforeExecute = true
		case types.ActionSetField:
			working[rule.Action.Field] = rule.Action.Value
		}
	}

	result.Payload = working
	return result, nil
}

func copyPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// evaluateCondition is a pure function over the payload and the condition
// tuple: no clock reads, no randomness. Unknown operators fail closed.
func evaluateCondition(cond types.RuleCondition, payload map[string]any) bool {
	fieldValue := payload[cond.Field]

	switch cond.Operator {
	case types.OpEquals:
		return fieldValue == cond.Value
	case types.OpNotEquals:
		return fieldValue != cond.Value
	case types.OpGreaterThan:
		a, aOk := toFloat64(fieldValue)
		b, bOk := toFloat64(cond.Value)
		return aOk && bOk && a > b
	case types.OpLessThan:
		a, aOk := toFloat64(fieldValue)
		b, bOk := toFloat64(cond.Value)
		return aOk && bOk && a < b
	case types.OpNotEmpty:
		return !isEmpty(fieldValue)
	case types.OpEmpty:
		return isEmpty(fieldValue)
	case types.OpIn:
		return containsValue(cond.Value, fieldValue)
	case types.OpNotIn:
		return !containsValue(cond.Value, fieldValue)
	default:
		return false
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func containsValue(set any, v any) bool {
	list, ok := set.([]any)
	if !ok {
		return fmt.Sprint(set) == fmt.Sprint(v)
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
