package guard

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Rule is one declarative permission rule. Authorization is data, not an
// inheritance hierarchy: the full rule table is auditable at a glance.
type Rule struct {
	// Resource/Action name the guarded operation, e.g. "deletion"/"execute".
	Resource string
	Action   string

	// AllowedRoles lists roles admitted by this rule. Admin actors bypass
	// role checks but not conditions.
	AllowedRoles []string

	// Condition is an optional CEL expression over the admission
	// activation (hour, weekday, reauth_age_minutes, entity_count, roles).
	// An empty condition always holds.
	Condition string
}

// compiledRule pairs a rule with its prepared CEL program.
type compiledRule struct {
	Rule
	program cel.Program
}

// ruleEnv builds the CEL environment rules are compiled against.
func ruleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("reauth_age_minutes", cel.IntType),
		cel.Variable("entity_count", cel.IntType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
	)
}

// compileRules prepares every rule's condition once, at construction.
// A condition that does not compile, or does not evaluate to bool, is a
// configuration error.
func compileRules(rules []Rule) ([]compiledRule, error) {
	env, err := ruleEnv()
	if err != nil {
		return nil, fmt.Errorf("build rule env: %w", err)
	}

	out := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		cr := compiledRule{Rule: rule}
		if rule.Condition != "" {
			ast, iss := env.Compile(rule.Condition)
			if iss != nil && iss.Err() != nil {
				return nil, fmt.Errorf("rule %s/%s: compile condition: %w", rule.Resource, rule.Action, iss.Err())
			}
			if ast.OutputType() != cel.BoolType {
				return nil, fmt.Errorf("rule %s/%s: condition must be bool, got %s", rule.Resource, rule.Action, ast.OutputType())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("rule %s/%s: build program: %w", rule.Resource, rule.Action, err)
			}
			cr.program = prg
		}
		out = append(out, cr)
	}
	return out, nil
}

// holds evaluates the rule condition against the activation.
func (cr compiledRule) holds(activation map[string]any) (bool, error) {
	if cr.program == nil {
		return true, nil
	}
	val, _, err := cr.program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("eval condition: %w", err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, want bool", val.Value())
	}
	return b, nil
}

// Well-known roles.
const (
	RoleAdmin     = "admin"
	RoleRegistrar = "registrar"
	RoleOperator  = "operator"
	RoleViewer    = "viewer"
)

// DefaultRules returns the production rule table. Destructive operations
// require a recent re-authentication; reads are open to every staff role.
func DefaultRules() []Rule {
	return []Rule{
		{Resource: "deletion", Action: "preview",
			AllowedRoles: []string{RoleAdmin, RoleRegistrar, RoleOperator, RoleViewer}},
		{Resource: "deletion", Action: "execute",
			AllowedRoles: []string{RoleAdmin, RoleRegistrar},
			Condition:    "reauth_age_minutes <= 30"},
		{Resource: "deletion", Action: "cancel",
			AllowedRoles: []string{RoleAdmin, RoleRegistrar}},
		{Resource: "operations", Action: "read",
			AllowedRoles: []string{RoleAdmin, RoleRegistrar, RoleOperator, RoleViewer}},
		{Resource: "maintenance", Action: "orphan_scan",
			AllowedRoles: []string{RoleAdmin, RoleOperator}},
		{Resource: "maintenance", Action: "orphan_cleanup",
			AllowedRoles: []string{RoleAdmin, RoleOperator},
			Condition:    "reauth_age_minutes <= 30"},
		{Resource: "maintenance", Action: "integrity_validate",
			AllowedRoles: []string{RoleAdmin, RoleOperator}},
		{Resource: "maintenance", Action: "integrity_repair",
			AllowedRoles: []string{RoleAdmin},
			Condition:    "reauth_age_minutes <= 30"},
		{Resource: "rollback", Action: "execute",
			AllowedRoles: []string{RoleAdmin},
			Condition:    "reauth_age_minutes <= 30"},
		{Resource: "audit", Action: "read",
			AllowedRoles: []string{RoleAdmin, RoleOperator}},
	}
}
