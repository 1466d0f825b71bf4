//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package cel evaluates single-expression scripts with cel-go.
//
// CEL is side-effect free and has no I/O, so it suits routing scripts and
// small update-state expressions. Bindings are declared as dynamic
// variables with their leading `$` stripped.
package cel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"trpc.group/trpc-go/trpc-seqagent-go/sandbox"
)

const interruptCheckFrequency = 100

// Runtime is a sandbox.Runtime backed by cel-go.
type Runtime struct{}

// New creates a CEL runtime.
func New() *Runtime { return &Runtime{} }

var _ sandbox.Runtime = (*Runtime)(nil)

// Run compiles and evaluates a CEL expression.
func (r *Runtime) Run(
	ctx context.Context,
	source string,
	bindings map[string]any,
	limits sandbox.Limits,
) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, sandbox.ErrAborted
	}
	expr := strings.TrimSpace(sandbox.StripSigils(source, sandbox.SyntaxCEL))
	if expr == "" {
		return nil, errors.New("cel: expression is empty")
	}

	names := make([]string, 0, len(bindings))
	activation := make(map[string]any, len(bindings))
	for name, v := range bindings {
		n := strings.TrimPrefix(name, "$")
		names = append(names, n)
		activation[n] = v
	}
	sort.Strings(names)
	opts := []celgo.EnvOption{celgo.CrossTypeNumericComparisons(true)}
	for _, n := range names {
		opts = append(opts, celgo.Variable(n, celgo.DynType))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	prg, err := env.Program(ast, celgo.InterruptCheckFrequency(interruptCheckFrequency))
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.EffectiveTimeout())
	defer cancel()
	out, _, err := prg.ContextEval(runCtx, activation)
	if err != nil {
		if cerr := sandbox.ClassifyContextErr(ctx.Err(), runCtx.Err()); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("cel eval: %w", err)
	}
	return normalizeCELValue(out), nil
}

// normalizeCELValue unwraps ref.Val results into JSON-like Go values:
// string map keys, []any lists and float64 numbers.
func normalizeCELValue(v any) any {
	if rv, ok := v.(ref.Val); ok {
		return normalizeCELValue(rv.Value())
	}
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case int:
		return float64(x)
	case []byte:
		return string(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(normalizeCELValue(iter.Key().Interface()))
			out[k] = normalizeCELValue(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeCELValue(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}
