//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package condition

import (
	"fmt"

	"trpc.group/trpc-go/trpc-seqagent-go/graph/path"
)

// Resolve returns the value of a rule operand: a path is looked up in scope
// (absent paths resolve to nil), anything else is returned unchanged.
func Resolve(scope map[string]any, operand any) (any, error) {
	s, ok := operand.(string)
	if !ok || !path.IsExpression(s) {
		return operand, nil
	}
	p, err := path.Parse(s)
	if err != nil {
		return nil, err
	}
	v, _ := p.Eval(scope)
	return v, nil
}

// Match evaluates a single rule.
func Match(scope map[string]any, rule Rule) (bool, error) {
	op, ok := ParseOperator(string(rule.Operator))
	if !ok {
		return false, fmt.Errorf("unknown operator %q", rule.Operator)
	}
	input, err := Resolve(scope, rule.Variable)
	if err != nil {
		return false, fmt.Errorf("variable %q: %w", rule.Variable, err)
	}
	value, err := Resolve(scope, rule.Value)
	if err != nil {
		return false, fmt.Errorf("value %v: %w", rule.Value, err)
	}
	return Check(input, op, value), nil
}

// Evaluate walks rules in declaration order and returns the destination of
// the first match. matched is false when no rule applies; the caller picks
// the fallback.
func Evaluate(scope map[string]any, rules []Rule) (destination string, matched bool, err error) {
	for i, rule := range rules {
		ok, err := Match(scope, rule)
		if err != nil {
			return "", false, fmt.Errorf("rule %d: %w", i, err)
		}
		if ok {
			return rule.Destination, true, nil
		}
	}
	return "", false, nil
}

// Validate checks operators and path syntax without evaluating anything.
func Validate(rules []Rule) error {
	for i, rule := range rules {
		if _, ok := ParseOperator(string(rule.Operator)); !ok {
			return fmt.Errorf("rule %d: unknown operator %q", i, rule.Operator)
		}
		if rule.Destination == "" {
			return fmt.Errorf("rule %d: destination is required", i)
		}
		for _, operand := range []any{rule.Variable, rule.Value} {
			if s, ok := operand.(string); ok && path.IsExpression(s) {
				if _, err := path.Parse(s); err != nil {
					return fmt.Errorf("rule %d: %w", i, err)
				}
			}
		}
	}
	return nil
}
