//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package path implements the variable path expressions used by routing
// rules, prompt values and state updates, e.g.
//
//	$flow.state.messages[-1].content
//	$vars.region
//	$flow.output[0].toolOutput
//	$flow.state.messages.length
//
// A path is a root name followed by field (`.name`) and index (`[n]`,
// negative counting from the end) segments. A `.n` segment is an index too.
// Evaluation works over JSON-like values: map[string]any, []any, strings and
// scalars. `length` on a sequence or string yields its length.
package path

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every parse failure.
var ErrSyntax = errors.New("invalid path expression")

// Segment is one traversal step.
type Segment struct {
	Field   string
	Index   int
	IsIndex bool
}

// String renders the segment as it appears in a path.
func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return "." + s.Field
}

// Path is a parsed expression.
type Path struct {
	// Root includes the leading `$` when present.
	Root     string
	Segments []Segment
}

// IsExpression reports whether s looks like a path rather than a literal.
func IsExpression(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) > 1 && s[0] == '$' && isIdentStart(s[1])
}

// String renders the path in canonical form.
func (p *Path) String() string {
	var b strings.Builder
	b.WriteString(p.Root)
	for _, s := range p.Segments {
		b.WriteString(s.String())
	}
	return b.String()
}

// Parse parses expr.
func Parse(expr string) (*Path, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrSyntax)
	}
	i := 0
	if s[0] == '$' {
		i++
	}
	start := i
	for i < len(s) && isIdentPart(s[i]) {
		i++
	}
	if i == start || !isIdentStart(s[start]) {
		return nil, fmt.Errorf("%w: %q: missing root name", ErrSyntax, expr)
	}
	p := &Path{Root: s[:i]}
	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			start := i
			for i < len(s) && isIdentPart(s[i]) {
				i++
			}
			if i == start {
				return nil, fmt.Errorf("%w: %q: empty field at offset %d", ErrSyntax, expr, start)
			}
			name := s[start:i]
			if n, err := strconv.Atoi(name); err == nil {
				p.Segments = append(p.Segments, Segment{Index: n, IsIndex: true})
			} else {
				p.Segments = append(p.Segments, Segment{Field: name})
			}
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: %q: unclosed bracket", ErrSyntax, expr)
			}
			inner := strings.TrimSpace(s[i+1 : i+end])
			i += end + 1
			if q, ok := unquote(inner); ok {
				p.Segments = append(p.Segments, Segment{Field: q})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: bad index %q", ErrSyntax, expr, inner)
			}
			p.Segments = append(p.Segments, Segment{Index: n, IsIndex: true})
		default:
			return nil, fmt.Errorf("%w: %q: unexpected %q at offset %d", ErrSyntax, expr, s[i], i)
		}
	}
	return p, nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(expr string) *Path {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Eval resolves the path against scope, which maps root names (with their
// `$` when the path has one) to values. The second result is false when any
// step is missing.
func (p *Path) Eval(scope map[string]any) (any, bool) {
	cur, ok := scope[p.Root]
	if !ok {
		return nil, false
	}
	return walk(cur, p.Segments)
}

// EvalFrom resolves only the segments of p, starting at v.
func (p *Path) EvalFrom(v any) (any, bool) {
	return walk(v, p.Segments)
}

// Lookup parses and evaluates expr in one step. Parse errors resolve to absent.
func Lookup(scope map[string]any, expr string) (any, bool) {
	p, err := Parse(expr)
	if err != nil {
		return nil, false
	}
	return p.Eval(scope)
}

func walk(cur any, segs []Segment) (any, bool) {
	for _, seg := range segs {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg Segment) (any, bool) {
	if seg.IsIndex {
		switch v := cur.(type) {
		case []any:
			return index(v, seg.Index)
		case []string:
			i, ok := normalize(len(v), seg.Index)
			if !ok {
				return nil, false
			}
			return v[i], true
		case []map[string]any:
			i, ok := normalize(len(v), seg.Index)
			if !ok {
				return nil, false
			}
			return v[i], true
		case map[string]any:
			val, ok := v[strconv.Itoa(seg.Index)]
			return val, ok
		}
		return nil, false
	}
	switch v := cur.(type) {
	case map[string]any:
		val, ok := v[seg.Field]
		if ok {
			return val, true
		}
		if seg.Field == "length" {
			return len(v), true
		}
		return nil, false
	case map[string]string:
		val, ok := v[seg.Field]
		return val, ok
	case []any:
		if seg.Field == "length" {
			return len(v), true
		}
	case []string:
		if seg.Field == "length" {
			return len(v), true
		}
	case []map[string]any:
		if seg.Field == "length" {
			return len(v), true
		}
	case string:
		if seg.Field == "length" {
			return len([]rune(v)), true
		}
	}
	return nil, false
}

func index(v []any, i int) (any, bool) {
	i, ok := normalize(len(v), i)
	if !ok {
		return nil, false
	}
	return v[i], true
}

func normalize(n, i int) (int, bool) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '-'
}
