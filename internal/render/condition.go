package render

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Operator is the canonical comparison vocabulary. Both stored dialects
// are normalised into it by ParseOperator.
type Operator uint8

const (
	OpUnknown Operator = iota
	OpRange
	OpEqual
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
)

var operatorNames = [...]string{
	OpUnknown:      "unknown",
	OpRange:        "range",
	OpEqual:        "equal",
	OpNotEqual:     "notEqual",
	OpGreater:      "greater",
	OpGreaterEqual: "greaterEqual",
	OpLess:         "less",
	OpLessEqual:    "lessEqual",
}

func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return "unknown"
}

// Dialect selects which stored operator vocabulary a condition uses.
type Dialect uint8

const (
	// DialectLegacy is the per-variable rule shape: gte/lte/gt/lt/eq/ne
	// compared against "value".
	DialectLegacy Dialect = iota
	// DialectGrouped is the rule shape nested under a source field:
	// equal/greater/less/greaterEqual/lessEqual compared against "min".
	DialectGrouped
)

var dialectOperators = map[Dialect]map[string]Operator{
	DialectLegacy: {
		"range": OpRange,
		"gte":   OpGreaterEqual,
		"lte":   OpLessEqual,
		"gt":    OpGreater,
		"lt":    OpLess,
		"eq":    OpEqual,
		"ne":    OpNotEqual,
	},
	DialectGrouped: {
		"range":        OpRange,
		"equal":        OpEqual,
		"greater":      OpGreater,
		"less":         OpLess,
		"greaterEqual": OpGreaterEqual,
		"lessEqual":    OpLessEqual,
	},
}

// ParseOperator maps a stored operator name to the canonical operator.
// Names outside the dialect's vocabulary yield OpUnknown.
func ParseOperator(d Dialect, name string) Operator {
	if op, ok := dialectOperators[d][name]; ok {
		return op
	}
	return OpUnknown
}

// Condition is one normalised comparison plus the text it selects.
type Condition struct {
	Op        Operator
	Threshold float64
	Min       float64
	Max       float64
	Result    string
}

// Matches reports whether v satisfies the condition.
func (c Condition) Matches(v float64) bool {
	switch c.Op {
	case OpRange:
		return c.Min <= v && v <= c.Max
	case OpEqual:
		return v == c.Threshold
	case OpNotEqual:
		return v != c.Threshold
	case OpGreater:
		return v > c.Threshold
	case OpGreaterEqual:
		return v >= c.Threshold
	case OpLess:
		return v < c.Threshold
	case OpLessEqual:
		return v <= c.Threshold
	default:
		return false
	}
}

var leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ToFloat coerces v to a number the way stored rule data expects:
// numbers pass through, strings are read by their leading numeric prefix,
// anything else is 0.
func ToFloat(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case interface{ Float64() (float64, error) }:
		f, _ = n.Float64()
	case string:
		m := leadingFloat.FindString(strings.TrimSpace(n))
		if m == "" {
			return 0
		}
		f, _ = strconv.ParseFloat(m, 64)
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	return f
}
