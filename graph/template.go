//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"trpc.group/trpc-go/trpc-seqagent-go/graph/condition"
)

// placeholderPattern matches {name} template variables. Doubled braces are
// literal braces.
var placeholderPattern = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// placeholders lists the distinct variables of tpl in order of appearance.
func placeholders(tpl string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(tpl, -1) {
		if m[1] == "" || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

// renderTemplate substitutes every {name} of tpl. values entries that are
// path expressions are resolved against scope; non-string results are
// rendered as JSON.
func renderTemplate(tpl string, values map[string]any, scope map[string]any) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		switch m {
		case "{{":
			return "{"
		case "}}":
			return "}"
		}
		name := m[1 : len(m)-1]
		v, ok := values[name]
		if !ok {
			return m
		}
		resolved, err := condition.Resolve(scope, v)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return renderValue(resolved)
	})
	return out, firstErr
}

// renderValue formats a value for inclusion in a prompt or message.
func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return condition.Stringify(x)
		}
		return string(b)
	default:
		return condition.Stringify(x)
	}
}

// nodeName derives a node name from its label: lower case, whitespace runs
// replaced by underscores.
func nodeName(label string) string {
	lowered := cases.Lower(language.Und).String(strings.TrimSpace(label))
	return strings.Join(strings.Fields(lowered), "_")
}
