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
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-seqagent-go/graph/condition"
	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/sandbox"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/trace"
)

// Binding roots visible to paths and scripts.
const (
	bindingFlow = "$flow"
	bindingVars = "$vars"
)

// scope builds the read-only bindings of a node. output is bound as
// $flow.output when withOutput is set.
func (r *run) scope(output any, withOutput bool) map[string]any {
	vars := r.vars
	if vars == nil {
		vars = map[string]any{}
	}
	flow := map[string]any{
		"chatflowId": r.flowID,
		"sessionId":  r.sessionID,
		"chatId":     r.chatID,
		"input":      r.input,
		"state":      stateView(r.state),
		"vars":       vars,
	}
	if withOutput {
		flow["output"] = toView(output)
	}
	return map[string]any{bindingFlow: flow, bindingVars: vars}
}

// stateView renders state as JSON-like values: messages become their view
// maps and typed values are converted through JSON.
func stateView(s State) map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = toView(v)
	}
	return out
}

func toView(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return x
	case model.Message:
		return x.View()
	case []model.Message:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = m.View()
		}
		return out
	case model.ToolCallRecord:
		return x.View()
	case []model.ToolCallRecord:
		out := make([]any, len(x))
		for i, rec := range x {
			out[i] = rec.View()
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = toView(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toView(e)
		}
		return out
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Warnf("graph: cannot expose state value of type %T: %v", v, err)
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// runScript runs source in the sandbox of lang. The abort signal is checked
// before the script starts.
func (e *Executor) runScript(
	ctx context.Context,
	n *GraphNode,
	lang sandbox.Language,
	source string,
	bindings map[string]any,
) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, abortError(n, err)
	}
	if lang == "" {
		lang = e.defaultLanguage
	}
	rt, ok := e.sandboxes.Get(lang, e.defaultLanguage)
	if !ok {
		return nil, newError(KindSandbox, n, nil, "no runtime for language %q", lang)
	}
	ctx, span := trace.StartSpan(ctx, trace.OperationRunScript, n.Name,
		attribute.String(trace.KeyNodeID, n.ID),
		attribute.String(trace.KeyLanguage, string(lang)),
	)
	v, err := rt.Run(ctx, source, bindings, e.scriptLimits)
	trace.EndSpan(span, err)
	if err != nil {
		if errors.Is(err, sandbox.ErrAborted) {
			return nil, abortError(n, err)
		}
		return nil, newError(KindSandbox, n, err, "script failed")
	}
	return v, nil
}

// updateState evaluates the node's update-state table or script with
// $flow.output bound to output.
func (e *Executor) updateState(
	ctx context.Context,
	r *run,
	n *GraphNode,
	cfg UpdateStateConfig,
	output any,
) (State, error) {
	if !cfg.enabled() {
		return nil, nil
	}
	scope := r.scope(output, true)
	update := State{}
	if code := strings.TrimSpace(cfg.UpdateStateCode); code != "" {
		v, err := e.runScript(ctx, n, cfg.Language, code, scope)
		if err != nil {
			return nil, err
		}
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, newError(KindNode, n, nil, "update state script must return an object, got %T", v)
		}
		for k, val := range fields {
			update[k] = val
		}
	} else {
		for _, u := range cfg.UpdateState {
			v, err := condition.Resolve(scope, u.Value)
			if err != nil {
				return nil, newError(KindNode, n, err, "update state %q", u.Key)
			}
			update[u.Key] = v
		}
	}
	if _, ok := update[StateKeyMessages]; ok {
		log.FromContext(ctx).Warnf("graph: node %s cannot update messages through update state", n.Name)
		delete(update, StateKeyMessages)
	}
	return update, nil
}

// route picks the destination of a Condition or ConditionAgent node. Rules
// are tried first in declaration order; the script runs when none matches.
// With neither a match nor a script the run ends.
func (e *Executor) route(ctx context.Context, r *run, n *GraphNode, output any, withOutput bool) (int, error) {
	scope := r.scope(output, withOutput)
	dest, matched, err := condition.Evaluate(scope, n.condRules())
	if err != nil {
		return endIndex, newError(KindRouting, n, err, "evaluate rules")
	}
	if matched {
		log.FromContext(ctx).Debugf("graph: %s matched rule -> %s", n.Name, dest)
		return n.destinations[dest], nil
	}
	script := strings.TrimSpace(n.condScript())
	if script == "" {
		return endIndex, nil
	}
	var lang sandbox.Language
	if n.condCfg != nil {
		lang = n.condCfg.Language
	} else {
		lang = n.modelCfg.Language
	}
	v, err := e.runScript(ctx, n, lang, script, scope)
	if err != nil {
		return endIndex, err
	}
	name, ok := v.(string)
	if !ok {
		return endIndex, newError(KindRouting, n, nil, "condition script must return a node name, got %T", v)
	}
	d, ok := e.graph.resolveDestination(strings.TrimSpace(name))
	if !ok {
		return endIndex, newError(KindRouting, n, nil, "condition script returned unknown node %q", name)
	}
	return d, nil
}
