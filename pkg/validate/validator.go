package validate

import (
	"github.com/fieldsync/opqueue/pkg/rules"
	"github.com/fieldsync/opqueue/pkg/schema"
)

// Outcome is the result of validating a candidate payload at enqueue time.
type Outcome struct {
	// Payload is the rule-engine's (possibly set-field-mutated) payload.
	Payload map[string]any
	// Errors is the union of schema and rule-engine errors; empty means
	// acceptable.
	Errors []string
	// RequireSyncBeforeExecute mirrors rules.Result's flag.
	RequireSyncBeforeExecute bool
}

// Acceptable reports whether the outcome carries no errors.
func (o Outcome) Acceptable() bool {
	return len(o.Errors) == 0
}

// Validator is a thin composition of the schema registry and rule engine.
type Validator struct {
	schemas *schema.Registry
	rules   *rules.Engine
}

// NewValidator creates a Validator over the given schema registry and
// rule engine.
func NewValidator(schemas *schema.Registry, rules *rules.Engine) *Validator {
	return &Validator{schemas: schemas, rules: rules}
}

// Validate runs schema then rule validation against payload for
// entityType and returns their union.
func (v *Validator) Validate(entityType string, payload map[string]any) (Outcome, error) {
	schemaErrs, err := v.schemas.Validate(entityType, payload)
	if err != nil {
		return Outcome{}, err
	}

	ruleResult, err := v.rules.Evaluate(entityType, payload)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{
		Payload:                  ruleResult.Payload,
		RequireSyncBeforeExecute: ruleResult.RequireSyncBeforeExecute,
	}
	outcome.Errors = append(outcome.Errors, schemaErrs...)
	outcome.Errors = append(outcome.Errors, ruleResult.Errors...)
	return outcome, nil
}
