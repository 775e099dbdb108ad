package schema

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Operator is a comparison used by eligibility filters.
type Operator string

// Supported operators.
const (
	OpEq      Operator = "="
	OpNotEq   Operator = "!="
	OpIn      Operator = "in"
	OpNotIn   Operator = "not in"
	OpLike    Operator = "like"
	OpNotLike Operator = "not like"
	OpGt      Operator = ">"
	OpGte     Operator = ">="
	OpLt      Operator = "<"
	OpLte     Operator = "<="
	OpIs      Operator = "is"
)

var operators = []Operator{OpEq, OpNotEq, OpIn, OpNotIn, OpLike, OpNotLike, OpGt, OpGte, OpLt, OpLte, OpIs}

// Condition is a single (field, operator, value) eligibility constraint.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Conditions are combined with AND.
type Conditions []Condition

// UnmarshalYAML decodes a mapping of field to either a scalar (equality),
// a list (membership) or an [operator, value] pair. Mapping order is kept.
func (c *Conditions) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: filters must be a mapping", node.Line)
	}
	out := make(Conditions, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		field := node.Content[i].Value
		var raw any
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return err
		}
		out = append(out, conditionFromValue(field, raw))
	}
	*c = out
	return nil
}

func conditionFromValue(field string, raw any) Condition {
	list, ok := raw.([]any)
	if !ok {
		return Condition{Field: field, Operator: OpEq, Value: raw}
	}
	if len(list) == 2 {
		if op, isString := list[0].(string); isString && isOperator(op) {
			return Condition{Field: field, Operator: Operator(strings.ToLower(op)), Value: list[1]}
		}
	}
	return Condition{Field: field, Operator: OpIn, Value: list}
}

func isOperator(s string) bool {
	return slices.Contains(operators, Operator(strings.ToLower(s)))
}

func (c Condition) validate() error {
	if c.Field == "" {
		return fmt.Errorf("filter field cannot be empty")
	}
	if !slices.Contains(operators, c.Operator) {
		return fmt.Errorf("unsupported operator %q on %q", c.Operator, c.Field)
	}
	switch c.Operator {
	case OpIn, OpNotIn:
		if _, ok := c.Value.([]any); !ok {
			return fmt.Errorf("operator %q on %q requires a list", c.Operator, c.Field)
		}
	case OpIs:
		s := strings.ToLower(cast.ToString(c.Value))
		if s != "set" && s != "not set" {
			return fmt.Errorf("operator \"is\" on %q requires \"set\" or \"not set\"", c.Field)
		}
	}
	return nil
}

// Match reports whether record satisfies every condition.
func (cs Conditions) Match(record map[string]any) bool {
	for _, c := range cs {
		if !c.Match(record) {
			return false
		}
	}
	return true
}

// Match reports whether record satisfies the condition. Missing fields only
// satisfy negative operators and "is not set".
func (c Condition) Match(record map[string]any) bool {
	value, present := record[c.Field]
	present = present && value != nil

	switch c.Operator {
	case OpIs:
		isSet := present && cast.ToString(value) != ""
		if strings.ToLower(cast.ToString(c.Value)) == "set" {
			return isSet
		}
		return !isSet
	case OpEq:
		return present && equal(value, c.Value)
	case OpNotEq:
		return !present || !equal(value, c.Value)
	case OpIn:
		return present && contains(c.Value, value)
	case OpNotIn:
		return !present || !contains(c.Value, value)
	case OpLike:
		return present && like(value, c.Value)
	case OpNotLike:
		return !present || !like(value, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		cmp, ok := compare(value, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func equal(a, b any) bool {
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return cast.ToString(a) == cast.ToString(b)
}

func contains(list any, value any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if equal(value, item) {
			return true
		}
	}
	return false
}

// like implements SQL LIKE with % and _ wildcards, case-insensitively.
// A pattern without wildcards matches as a substring.
func like(value, pattern any) bool {
	v := strings.ToLower(cast.ToString(value))
	p := strings.ToLower(cast.ToString(pattern))
	if !strings.ContainsAny(p, "%_") {
		return strings.Contains(v, p)
	}
	return likeMatch([]rune(v), []rune(p))
}

func likeMatch(v, p []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '%':
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(v); i++ {
				if likeMatch(v[i:], p) {
					return true
				}
			}
			return false
		case '_':
			if len(v) == 0 {
				return false
			}
		default:
			if len(v) == 0 || v[0] != p[0] {
				return false
			}
		}
		v, p = v[1:], p[1:]
	}
	return len(v) == 0
}

// compare orders two values numerically, then as times. Strings compare lexically
// only when both sides are strings.
func compare(a, b any) (int, bool) {
	if fa, err := cast.ToFloat64E(a); err == nil {
		if fb, err := cast.ToFloat64E(b); err == nil {
			return cmpOrdered(fa, fb), true
		}
	}
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch v.(type) {
	case time.Time, string:
		t, err := cast.ToTimeE(v)
		return t, err == nil
	}
	return time.Time{}, false
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
