package engine

import (
	"math"
	"strings"
)

type Operator string

const (
	LT  Operator = "LT"
	LTE Operator = "LTE"
	EQ  Operator = "EQ"
	GTE Operator = "GTE"
	GT  Operator = "GT"
)

const eqTolerance = 1e-9

// ParseOperator canonicalizes an operator name. Unknown names are kept so
// that Compare rejects them.
func ParseOperator(s string) Operator {
	return Operator(strings.ToUpper(strings.TrimSpace(s)))
}

// Compare applies the operator. An unknown operator never holds.
func (op Operator) Compare(left, right float64) bool {
	switch op {
	case LT:
		return left < right
	case LTE:
		return left <= right
	case EQ:
		return math.Abs(left-right) < eqTolerance
	case GTE:
		return left >= right
	case GT:
		return left > right
	}
	return false
}

func (op Operator) Known() bool {
	switch op {
	case LT, LTE, EQ, GTE, GT:
		return true
	}
	return false
}

func (op Operator) Symbol() string {
	switch op {
	case LT:
		return "<"
	case LTE:
		return "≤"
	case EQ:
		return "="
	case GTE:
		return "≥"
	case GT:
		return ">"
	}
	return "?" + string(op)
}
