//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package condition evaluates declarative routing rules: a variable path,
// one of fourteen comparison operators, a comparison value, and the name of
// the node to route to when the comparison holds.
package condition

// Operator is a comparison operator. The canonical values are the display
// names used in flow definitions.
type Operator string

// String operators.
const (
	OpContains    Operator = "Contains"
	OpNotContains Operator = "Not Contains"
	OpStartsWith  Operator = "Start With"
	OpEndsWith    Operator = "End With"
	OpIs          Operator = "Is"
	OpIsNot       Operator = "Is Not"
	OpIsEmpty     Operator = "Is Empty"
	OpIsNotEmpty  Operator = "Is Not Empty"
)

// Numeric operators.
const (
	OpGreaterThan        Operator = "Greater Than"
	OpLessThan           Operator = "Less Than"
	OpEqualTo            Operator = "Equal To"
	OpNotEqualTo         Operator = "Not Equal To"
	OpGreaterThanOrEqual Operator = "Greater Than or Equal To"
	OpLessThanOrEqual    Operator = "Less Than or Equal To"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpIs, OpIsNot, OpIsEmpty, OpIsNotEmpty,
	OpGreaterThan, OpLessThan, OpEqualTo, OpNotEqualTo,
	OpGreaterThanOrEqual, OpLessThanOrEqual,
}

// aliases accepts the short spellings used by hand-written YAML.
var aliases = map[string]Operator{
	"contains":     OpContains,
	"not_contains": OpNotContains,
	"starts_with":  OpStartsWith,
	"start_with":   OpStartsWith,
	"ends_with":    OpEndsWith,
	"end_with":     OpEndsWith,
	"is":           OpIs,
	"is_not":       OpIsNot,
	"empty":        OpIsEmpty,
	"is_empty":     OpIsEmpty,
	"not_empty":    OpIsNotEmpty,
	"is_not_empty": OpIsNotEmpty,
	">":            OpGreaterThan,
	"gt":           OpGreaterThan,
	"<":            OpLessThan,
	"lt":           OpLessThan,
	"==":           OpEqualTo,
	"eq":           OpEqualTo,
	"!=":           OpNotEqualTo,
	"ne":           OpNotEqualTo,
	">=":           OpGreaterThanOrEqual,
	"ge":           OpGreaterThanOrEqual,
	"<=":           OpLessThanOrEqual,
	"le":           OpLessThanOrEqual,
}

// ParseOperator resolves a display name or alias.
func ParseOperator(s string) (Operator, bool) {
	for _, op := range Operators {
		if string(op) == s {
			return op, true
		}
	}
	op, ok := aliases[s]
	return op, ok
}

// Rule is one row of a routing table.
type Rule struct {
	// Variable is a path such as "$flow.state.messages.length" or a literal.
	Variable string `json:"variable" yaml:"variable" mapstructure:"variable"`
	// Operator is the comparison operator.
	Operator Operator `json:"operator" yaml:"operator" mapstructure:"operator"`
	// Value is the comparison value, a literal or a path.
	Value any `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
	// Destination names the node to route to.
	Destination string `json:"destination" yaml:"destination" mapstructure:"destination"`
}
