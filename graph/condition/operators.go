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
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var numericPattern = regexp.MustCompile(`^-?\d*\.?\d+$`)

// Check reports whether input compares true against value under op.
//
// A falsy input (absent, empty string, zero, false) satisfies only
// OpIsEmpty. String operators compare string forms. Numeric operators
// require both sides to be numbers or numeric strings and are false
// otherwise. Unknown operators never match.
func Check(input any, op Operator, value any) bool {
	if isFalsy(input) {
		return op == OpIsEmpty
	}
	a := Stringify(input)
	b := Stringify(value)
	switch op {
	case OpContains:
		return strings.Contains(a, b)
	case OpNotContains:
		return !strings.Contains(a, b)
	case OpStartsWith:
		return strings.HasPrefix(a, b)
	case OpEndsWith:
		return strings.HasSuffix(a, b)
	case OpIs:
		return a == b
	case OpIsNot:
		return a != b
	case OpIsEmpty:
		return len(strings.TrimSpace(a)) == 0
	case OpIsNotEmpty:
		return len(strings.TrimSpace(a)) > 0
	case OpGreaterThan:
		return numericCompare(input, value, func(x, y float64) bool { return x > y })
	case OpLessThan:
		return numericCompare(input, value, func(x, y float64) bool { return x < y })
	case OpEqualTo:
		return numericCompare(input, value, func(x, y float64) bool { return x == y })
	case OpNotEqualTo:
		return numericCompare(input, value, func(x, y float64) bool { return x != y })
	case OpGreaterThanOrEqual:
		return numericCompare(input, value, func(x, y float64) bool { return x >= y })
	case OpLessThanOrEqual:
		return numericCompare(input, value, func(x, y float64) bool { return x <= y })
	default:
		return false
	}
}

func numericCompare(a, b any, cmp func(x, y float64) bool) bool {
	x, ok := ToNumber(a)
	if !ok {
		return false
	}
	y, ok := ToNumber(b)
	if !ok {
		return false
	}
	return cmp(x, y)
}

// ToNumber converts numbers and numeric strings to float64.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		if !numericPattern.MatchString(n) {
			return 0, false
		}
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	}
	if f, ok := ToNumber(v); ok {
		if _, isString := v.(string); !isString {
			return f == 0
		}
	}
	return false
}

// Stringify renders v the way comparisons see it: strings as-is, numbers in
// shortest form, composite values as JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
