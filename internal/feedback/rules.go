package feedback

import (
	"fmt"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/schema"
)

var (
	conditionsSchema = schema.MustCompile("rule_conditions.json", `{
		"type": "object",
		"required": ["keywords"],
		"properties": {
			"keywords": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
			"min_match": {"type": "integer", "minimum": 1}
		}
	}`)
	outputSchema = schema.MustCompile("rule_output.json", `{
		"type": "object",
		"properties": {
			"category": {"type": "string", "minLength": 1},
			"confidence_boost": {"type": "number", "minimum": -1, "maximum": 1}
		}
	}`)
)

// Rule defaults.
const (
	DefaultRulePriority = 50
	ConfidenceBoost     = 0.1
)

// ValidateRule checks the fields every stored rule needs and the shape of
// its conditions and output.
func ValidateRule(r *governance.Rule) error {
	if r.Module == "" {
		return fmt.Errorf("%w: rule module is required", governance.ErrInvalidResult)
	}
	if r.Priority < 1 || r.Priority > 100 {
		return fmt.Errorf("%w: rule priority %d outside 1..100", governance.ErrInvalidResult, r.Priority)
	}
	if err := schema.Validate(conditionsSchema, r.Conditions); err != nil {
		return fmt.Errorf("%w: conditions: %v", governance.ErrInvalidResult, err)
	}
	if err := schema.Validate(outputSchema, r.Output); err != nil {
		return fmt.Errorf("%w: output: %v", governance.ErrInvalidResult, err)
	}
	return nil
}

// RuleConditions builds the conditions object for a keyword rule.
func RuleConditions(keywords []string) map[string]any {
	return map[string]any{"keywords": keywords, "min_match": 1}
}

// RuleOutput builds the output object for a category, or an empty object.
func RuleOutput(category string) map[string]any {
	if category == "" {
		return map[string]any{}
	}
	return map[string]any{"category": category, "confidence_boost": ConfidenceBoost}
}

// ruleScope names what an ActionType pointer covers.
func ruleScope(actionType *string) string {
	if actionType == nil {
		return "module"
	}
	return "action"
}
