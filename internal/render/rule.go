package render

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultSourceField is the influencer field legacy rules compare against
// unless the rule names its own sourceField.
const DefaultSourceField = "followers"

// Rule is an ordered list of conditions with a fallback value.
// A rule whose stored "conditions" was not an array has
// HasConditions == false and always resolves to Default.
type Rule struct {
	Conditions    []Condition
	HasConditions bool
	Default       string
	SourceField   string
}

// Resolve returns the result of the first matching condition, else Default.
func (r Rule) Resolve(source float64) string {
	if !r.HasConditions {
		return r.Default
	}
	for _, c := range r.Conditions {
		if c.Matches(source) {
			return c.Result
		}
	}
	return r.Default
}

// source picks the numeric value a legacy rule is evaluated against.
func (r Rule) source(c Context) float64 {
	field := r.SourceField
	if field == "" {
		field = DefaultSourceField
	}
	return ToFloat(c.field(field))
}

// RuleGroup holds grouped-dialect rules evaluated against one source field.
type RuleGroup struct {
	SourceField string
	Variables   map[string]Rule
}

// RuleSet is the parsed form of a template's conditionalRules column.
type RuleSet struct {
	Legacy map[string]Rule
	Groups map[string]RuleGroup
}

// Lookup returns the legacy rule governing a variable name, if any.
func (rs RuleSet) Lookup(name string) (Rule, bool) {
	r, ok := rs.Legacy[name]
	return r, ok
}

// Empty reports whether the set holds no rules at all.
func (rs RuleSet) Empty() bool {
	return len(rs.Legacy) == 0 && len(rs.Groups) == 0
}

// ParseRules decodes a conditionalRules JSON document. Null or empty input
// yields an empty set. Only a top-level value that is not an object is an
// error; malformed entries below it degrade to rules with no conditions.
func ParseRules(data []byte) (RuleSet, error) {
	if len(data) == 0 {
		return RuleSet{}, nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return RuleSet{}, fmt.Errorf("decode conditional rules: %w", err)
	}
	if raw == nil {
		return RuleSet{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return RuleSet{}, fmt.Errorf("conditional rules: expected object, got %T", raw)
	}
	return RulesFromMap(m), nil
}

// RulesFromMap builds a RuleSet from an already decoded JSON object.
func RulesFromMap(m map[string]any) RuleSet {
	rs := RuleSet{Legacy: map[string]Rule{}, Groups: map[string]RuleGroup{}}
	for key, v := range m {
		if v == nil {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			if vars, ok := obj["variables"].(map[string]any); ok {
				g := RuleGroup{SourceField: key, Variables: make(map[string]Rule, len(vars))}
				for name, def := range vars {
					g.Variables[name] = decodeRule(DialectGrouped, def)
				}
				rs.Groups[key] = g
				continue
			}
		}
		rs.Legacy[key] = decodeRule(DialectLegacy, v)
	}
	return rs
}

func decodeRule(d Dialect, v any) Rule {
	obj, ok := v.(map[string]any)
	if !ok {
		return Rule{}
	}
	r := Rule{Default: stringify(obj["defaultValue"])}
	if d == DialectLegacy {
		r.SourceField, _ = obj["sourceField"].(string)
	}
	conds, ok := obj["conditions"].([]any)
	if !ok {
		return r
	}
	r.HasConditions = true
	r.Conditions = make([]Condition, 0, len(conds))
	for _, c := range conds {
		r.Conditions = append(r.Conditions, decodeCondition(d, c))
	}
	return r
}

func decodeCondition(d Dialect, v any) Condition {
	obj, ok := v.(map[string]any)
	if !ok {
		return Condition{Op: OpUnknown}
	}
	name, _ := obj["operator"].(string)
	c := Condition{
		Op:     ParseOperator(d, name),
		Min:    ToFloat(obj["min"]),
		Max:    ToFloat(obj["max"]),
		Result: stringify(obj["result"]),
	}
	if d == DialectGrouped {
		c.Threshold = c.Min
	} else {
		c.Threshold = ToFloat(obj["value"])
	}
	return c
}

// stringify turns a stored scalar into substitution text. Missing values
// become "".
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case fmt.Stringer:
		return s.String()
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprint(s)
		}
		return string(b)
	}
}
