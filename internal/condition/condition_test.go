package condition

import "testing"

func f(v float64) *float64 { return &v }

func TestEvaluateOperators(t *testing.T) {
	ctx := map[string]float64{"btc_price": 90000, "total_pnl": -150}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gt true", Condition{Field: "price", Op: OpGreaterThan, Threshold: 85000, Instrument: "BTC"}, true},
		{"gt false on equal", Condition{Field: "price", Op: OpGreaterThan, Threshold: 90000, Instrument: "BTC"}, false},
		{"gte true on equal", Condition{Field: "price", Op: OpGreaterEqual, Threshold: 90000, Instrument: "BTC"}, true},
		{"lt true", Condition{Field: "price", Op: OpLessThan, Threshold: 95000, Instrument: "BTC"}, true},
		{"lte false", Condition{Field: "price", Op: OpLessEqual, Threshold: 85000, Instrument: "BTC"}, false},
		{"eq true", Condition{Field: "price", Op: OpEqual, Threshold: 90000, Instrument: "BTC"}, true},
		{"neq true", Condition{Field: "price", Op: OpNotEqual, Threshold: 85000, Instrument: "BTC"}, true},
		{"pnl maps to total_pnl", Condition{Field: "pnl", Op: OpLessThan, Threshold: 0}, true},
		{"direct field lookup", Condition{Field: "btc_price", Op: OpGreaterThan, Threshold: 80000}, true},
		{"missing field defaults to zero", Condition{Field: "doge_price", Op: OpGreaterThan, Threshold: 1}, false},
		{"unknown operator fails closed", Condition{Field: "price", Op: Operator("~="), Threshold: 90000, Instrument: "BTC"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Evaluate(ctx); got != tt.want {
				t.Fatalf("Evaluate()=%v, expected %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateBetween(t *testing.T) {
	ctx := map[string]float64{"eth_price": 10}

	tests := []struct {
		name string
		lo   float64
		hi   *float64
		want bool
	}{
		{"inside", 5, f(15), true},
		{"at lower bound", 10, f(20), true},
		{"at upper bound", 5, f(10), true},
		{"below", 11, f(20), false},
		{"above", 1, f(9), false},
		{"missing second bound", 5, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := Condition{Field: "price", Op: OpBetween, Threshold: tt.lo, Threshold2: tt.hi, Instrument: "ETH"}
			if got := cond.Evaluate(ctx); got != tt.want {
				t.Fatalf("Evaluate()=%v, expected %v", got, tt.want)
			}
		})
	}
}

func TestConditionString(t *testing.T) {
	c := Condition{Field: "price", Op: OpLessEqual, Threshold: 85000, Instrument: "BTC"}
	if got := c.String(); got != "BTC price <= 85000" {
		t.Fatalf("String()=%q", got)
	}

	b := Condition{Field: "pnl", Op: OpBetween, Threshold: -100, Threshold2: f(100)}
	if got := b.String(); got != "pnl between -100 and 100" {
		t.Fatalf("String()=%q", got)
	}
}
