package rules

import (
	"fmt"
	"os"

	"github.com/fieldsync/opqueue/pkg/types"
	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk shape of a rule definitions file: a flat
// list under a top-level "rules" key.
type fileDocument struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID               string        `yaml:"id"`
	EntityType       string        `yaml:"entity_type"`
	Condition        fileCondition `yaml:"condition"`
	Action           fileAction    `yaml:"action"`
	Priority         int           `yaml:"priority"`
	Enabled          bool          `yaml:"enabled"`
	ExecutionContext []string      `yaml:"execution_context"`
	DependsOnRules   []string      `yaml:"depends_on_rules"`
}

type fileCondition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

type fileAction struct {
	Kind    string `yaml:"kind"`
	Message string `yaml:"message"`
	Field   string `yaml:"field"`
	Value   any    `yaml:"value"`
}

// LoadFile parses a YAML document of business rule definitions, the
// same "registries populated at startup" idiom as schema.LoadFile — a
// caller typically registers whatever LoadFile returns via Engine.Register
// once at boot, alongside any schemas loaded the same way.
func LoadFile(path string) ([]*types.BusinessRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", path, err)
	}

	out := make([]*types.BusinessRule, 0, len(doc.Rules))
	for _, fr := range doc.Rules {
		var execCtx map[string]struct{}
		if len(fr.ExecutionContext) > 0 {
			execCtx = make(map[string]struct{}, len(fr.ExecutionContext))
			for _, c := range fr.ExecutionContext {
				execCtx[c] = struct{}{}
			}
		}
		out = append(out, &types.BusinessRule{
			ID:         fr.ID,
			EntityType: fr.EntityType,
			Condition: types.RuleCondition{
				Field:    fr.Condition.Field,
				Operator: types.RuleOperator(fr.Condition.Operator),
				Value:    fr.Condition.Value,
			},
			Action: types.RuleAction{
				Kind:    types.ActionKind(fr.Action.Kind),
				Message: fr.Action.Message,
				Field:   fr.Action.Field,
				Value:   fr.Action.Value,
			},
			Priority:         fr.Priority,
			Enabled:          fr.Enabled,
			ExecutionContext: execCtx,
			DependsOnRules:   fr.DependsOnRules,
		})
	}
	return out, nil
}
