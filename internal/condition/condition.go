package condition

import (
	"fmt"
	"strings"
	"time"
)

// Operator is a comparison operator for trigger conditions.
type Operator string

const (
	OpGreaterThan  Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLessThan     Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpBetween      Operator = "between"
)

// ValidOperator reports whether op is a known comparison operator.
func ValidOperator(op Operator) bool {
	switch op {
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpEqual, OpNotEqual, OpBetween:
		return true
	}
	return false
}

// Condition describes a market-derived trigger: field <op> threshold.
// Threshold2 is only meaningful for the between operator (inclusive bounds).
// Instrument scopes price conditions to a single market.
type Condition struct {
	Field      string   `json:"field"` // "price", "pnl", "time", or a direct context key
	Op         Operator `json:"operator"`
	Threshold  float64  `json:"value"`
	Threshold2 *float64 `json:"value2,omitempty"`
	Instrument string   `json:"instrument,omitempty"`
}

// Evaluate reports whether the condition holds given a context of named
// float values. It is pure: the same (condition, context) pair always
// yields the same result, except for "time" which reads the wall clock.
// Unknown operators evaluate to false.
func (c Condition) Evaluate(ctx map[string]float64) bool {
	var actual float64
	switch {
	case c.Field == "price" && c.Instrument != "":
		actual = ctx[strings.ToLower(c.Instrument)+"_price"]
	case c.Field == "pnl":
		actual = ctx["total_pnl"]
	case c.Field == "time":
		actual = float64(time.Now().Unix())
	default:
		actual = ctx[c.Field]
	}

	switch c.Op {
	case OpGreaterThan:
		return actual > c.Threshold
	case OpGreaterEqual:
		return actual >= c.Threshold
	case OpLessThan:
		return actual < c.Threshold
	case OpLessEqual:
		return actual <= c.Threshold
	case OpEqual:
		return actual == c.Threshold
	case OpNotEqual:
		return actual != c.Threshold
	case OpBetween:
		if c.Threshold2 == nil {
			return false
		}
		return c.Threshold <= actual && actual <= *c.Threshold2
	}

	// Fail closed on unknown operators.
	return false
}

// String renders the condition for logs and operator responses.
func (c Condition) String() string {
	field := c.Field
	if c.Field == "price" && c.Instrument != "" {
		field = c.Instrument + " price"
	}
	if c.Op == OpBetween && c.Threshold2 != nil {
		return fmt.Sprintf("%s between %g and %g", field, c.Threshold, *c.Threshold2)
	}
	return fmt.Sprintf("%s %s %g", field, c.Op, c.Threshold)
}
