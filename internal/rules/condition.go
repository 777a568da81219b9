package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jcheng510/coingame-sub001/internal/utils"
)

// Operator 条件运算符
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
)

// Condition 触发条件。叶子节点比较 Field 与 Value 或同一主体上的 Ref 字段;
// All/Any 用于组合多个条件。
type Condition struct {
	Field    string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator Operator    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Ref      string      `json:"ref,omitempty" yaml:"ref,omitempty"`
	All      []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any      []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

// Fields 主体字段取值
type Fields map[string]interface{}

// Validate 校验条件结构, known 为主体可用字段
func (c *Condition) Validate(known []string) error {
	if len(c.All) > 0 || len(c.Any) > 0 {
		if c.Field != "" || c.Operator != "" {
			return utils.NewValidationError("trigger_condition", "a compound condition cannot also compare a field")
		}
		for i := range c.All {
			if err := c.All[i].Validate(known); err != nil {
				return err
			}
		}
		for i := range c.Any {
			if err := c.Any[i].Validate(known); err != nil {
				return err
			}
		}
		return nil
	}

	if !contains(known, c.Field) {
		return utils.NewValidationError("trigger_condition.field", "unknown field %q", c.Field)
	}
	switch c.Operator {
	case OpExists:
		return nil
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpContains:
	default:
		return utils.NewValidationError("trigger_condition.operator", "unsupported operator %q", c.Operator)
	}
	hasValue := c.Value != nil
	hasRef := c.Ref != ""
	if hasValue == hasRef {
		return utils.NewValidationError("trigger_condition", "exactly one of value or ref must be set")
	}
	if hasRef && !contains(known, c.Ref) {
		return utils.NewValidationError("trigger_condition.ref", "unknown field %q", c.Ref)
	}
	if c.Operator == OpIn {
		if _, ok := asSlice(c.Value); !ok && !hasRef {
			return utils.NewValidationError("trigger_condition.value", "operator in requires a list")
		}
	}
	return nil
}

// Match 对主体字段求值,无副作用
func (c *Condition) Match(fields Fields) (bool, error) {
	if len(c.All) > 0 {
		for i := range c.All {
			ok, err := c.All[i].Match(fields)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	if len(c.Any) > 0 {
		for i := range c.Any {
			ok, err := c.Any[i].Match(fields)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	left, present := fields[c.Field]
	if c.Operator == OpExists {
		return present && left != nil, nil
	}
	if !present || left == nil {
		return false, nil
	}

	right := c.Value
	if c.Ref != "" {
		var ok bool
		right, ok = fields[c.Ref]
		if !ok || right == nil {
			return false, nil
		}
	}

	switch c.Operator {
	case OpEq:
		return equal(left, right), nil
	case OpNe:
		return !equal(left, right), nil
	case OpLt, OpLte, OpGt, OpGte:
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		if !lok || !rok {
			return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", c.Operator, left, right)
		}
		switch c.Operator {
		case OpLt:
			return l < r, nil
		case OpLte:
			return l <= r, nil
		case OpGt:
			return l > r, nil
		default:
			return l >= r, nil
		}
	case OpIn:
		list, ok := asSlice(right)
		if !ok {
			return false, fmt.Errorf("operator in requires a list, got %T", right)
		}
		for _, item := range list {
			if equal(left, item) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		if list, ok := asSlice(left); ok {
			for _, item := range list {
				if equal(item, right) {
					return true, nil
				}
			}
			return false, nil
		}
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return false, fmt.Errorf("operator contains requires strings or a list, got %T and %T", left, right)
		}
		return strings.Contains(strings.ToLower(ls), strings.ToLower(rs)), nil
	}
	return false, fmt.Errorf("unsupported operator %q", c.Operator)
}

func equal(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.EqualFold(as, bs)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []int64:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
