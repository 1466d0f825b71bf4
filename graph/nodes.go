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
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"trpc.group/trpc-go/trpc-seqagent-go/graph/condition"
	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

const defaultHITLPrompt = "Do you want to proceed?"

// execStart seeds the conversation of the run.
func (e *Executor) execStart(ctx context.Context, r *run, n *GraphNode) (*step, error) {
	cfg := n.start
	update := State{}
	var history []model.Message
	if cfg.Memory && e.memory != nil {
		msgs, err := e.memory.GetMessages(ctx, r.sessionID)
		if err != nil {
			return nil, newError(KindNode, n, err, "load conversation")
		}
		history = msgs
	}
	if cfg.PersistState && e.store != nil {
		snap, err := e.store.Load(ctx, r.flowID, r.sessionID)
		switch {
		case errors.Is(err, ErrSnapshotNotFound):
		case err != nil:
			return nil, newError(KindNode, n, err, "load persisted state")
		case snap.Pending():
			log.FromContext(ctx).Warnf("graph: session has pending action %s, starting over", snap.Action.ID)
		default:
			for k, v := range snap.Fields {
				if k == StateKeyForm {
					continue
				}
				if _, declared := e.graph.schema.Fields[k]; declared {
					update[k] = Overwrite{Value: v}
				}
			}
		}
	}
	r.turnStart = len(r.state.Messages()) + len(history)

	seed := append([]model.Message(nil), history...)
	switch {
	case len(r.form) > 0:
		b, err := json.Marshal(r.form)
		if err != nil {
			return nil, newError(KindNode, n, err, "encode form input")
		}
		seed = append(seed, model.NewUserMessage(string(b)))
		update[StateKeyForm] = r.form
	case r.input != "":
		seed = append(seed, model.NewUserMessage(r.input))
	}
	if len(seed) > 0 {
		update[StateKeyMessages] = seed
	}
	return &step{update: update, next: n.next}, nil
}

func (e *Executor) execCondition(ctx context.Context, r *run, n *GraphNode) (*step, error) {
	next, err := e.route(ctx, r, n, nil, false)
	if err != nil {
		return nil, err
	}
	return &step{next: next}, nil
}

// execTool runs the tool calls of the last assistant message. When the calls
// of one message are served by several Tool nodes of the same LLM node, each
// node runs the unanswered calls it owns and hands control to the owner of
// the next unanswered call; the last one continues to its own successor.
func (e *Executor) execTool(ctx context.Context, r *run, n *GraphNode) (*step, error) {
	calls, answered, ok := pendingToolCalls(r.state.Messages())
	if !ok {
		return nil, newError(KindToolError, n, nil, "last message is not an assistant message")
	}
	var own []model.ToolCall
	for _, call := range calls {
		if answered[call.ID] || e.graph.siblingOwner(n, call.Function.Name) >= 0 {
			continue
		}
		own = append(own, call)
	}
	if len(own) == 0 {
		return &step{next: e.graph.toolHandoff(n, calls, answered)}, nil
	}
	if cfg := n.toolCfg; cfg.RequireApproval {
		action := e.newAction(r, n, ActionToolApproval)
		action.ToolCalls = own
		action.Prompt = approvalPrompt(&cfg.ApprovalConfig, own)
		return &step{next: n.next, suspend: action}, nil
	}
	return e.runToolNode(ctx, r, n, own)
}

func (e *Executor) runToolNode(ctx context.Context, r *run, n *GraphNode, calls []model.ToolCall) (*step, error) {
	toolMsgs, err := e.runToolCalls(ctx, n, calls, n.toolIndex)
	if err != nil {
		return nil, err
	}
	records := recordsOf(toolMsgs)
	output := make([]any, len(records))
	for i, rec := range records {
		output[i] = rec.View()
	}
	update, err := e.updateState(ctx, r, n, n.toolCfg.UpdateStateConfig, output)
	if err != nil {
		return nil, err
	}
	if update == nil {
		update = State{}
	}
	update[StateKeyMessages] = toolMsgs

	pending, answered, _ := pendingToolCalls(r.state.Messages())
	for _, call := range calls {
		answered[call.ID] = true
	}
	return &step{update: update, next: e.graph.toolHandoff(n, pending, answered)}, nil
}

// pendingToolCalls returns the tool calls of the latest assistant message
// and the ids already answered by the tool messages that follow it. ok is
// false when no assistant message ends the conversation.
func pendingToolCalls(msgs []model.Message) (calls []model.ToolCall, answered map[string]bool, ok bool) {
	answered = make(map[string]bool)
	i := len(msgs) - 1
	for ; i >= 0 && msgs[i].Role == model.RoleTool; i-- {
		answered[msgs[i].ToolID] = true
	}
	if i < 0 || msgs[i].Role != model.RoleAssistant {
		return nil, answered, false
	}
	if i == len(msgs)-1 {
		return msgs[i].ToolCalls, answered, true
	}
	// Tool messages after an assistant message without calls answer nothing.
	if len(msgs[i].ToolCalls) == 0 {
		return nil, answered, false
	}
	return msgs[i].ToolCalls, answered, true
}

// execFunction runs the node script with one $name binding per input
// variable and interprets the result according to return_as.
func (e *Executor) execFunction(ctx context.Context, r *run, n *GraphNode) (*step, error) {
	cfg := n.fnCfg
	scope := r.scope(nil, false)
	for name, v := range cfg.InputVariables {
		resolved, err := condition.Resolve(scope, v)
		if err != nil {
			return nil, newError(KindNode, n, err, "input variable %q", name)
		}
		scope["$"+strings.TrimPrefix(name, "$")] = toView(resolved)
	}
	v, err := e.runScript(ctx, n, cfg.Language, cfg.Code, scope)
	if err != nil {
		return nil, err
	}
	switch cfg.ReturnAs {
	case ReturnAsState:
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, newError(KindNode, n, nil, "function must return an object in state mode, got %T", v)
		}
		update := make(State, len(fields))
		for k, val := range fields {
			if k == StateKeyMessages {
				msgs, err := decodeMessages(val)
				if err != nil {
					return nil, newError(KindNode, n, err, "decode messages")
				}
				val = msgs
			}
			update[k] = Overwrite{Value: val}
		}
		return &step{update: update, next: n.next}, nil
	case ReturnAsHuman:
		msg := model.NewUserMessage(renderValue(v))
		return &step{update: State{StateKeyMessages: []model.Message{msg}}, next: n.next}, nil
	default:
		msg := model.NewAssistantMessage(renderValue(v))
		msg.Name = n.Name
		msg.Metadata = &model.MessageMetadata{NodeID: n.ID}
		return &step{update: State{StateKeyMessages: []model.Message{msg}}, next: n.next}, nil
	}
}

// execLoop follows the back-edge while the per-run cap allows it.
func (e *Executor) execLoop(_ context.Context, r *run, n *GraphNode) (*step, error) {
	limit := n.loopCfg.MaxIterations
	if limit <= 0 {
		limit = e.maxLoop
	}
	r.visits[n.ID]++
	if r.visits[n.ID] > limit {
		return nil, newError(KindRouting, n, nil, "loop exceeded %d iterations", limit)
	}
	return &step{next: n.loopTo}, nil
}

// execHITL suspends the run until a human answers.
func (e *Executor) execHITL(_ context.Context, r *run, n *GraphNode) (*step, error) {
	cfg := n.hitlCfg
	prompt := cfg.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultHITLPrompt
	}
	action := e.newAction(r, n, ActionHumanInput)
	action.Prompt = prompt
	action.OutputShape = cfg.OutputShape

	msg := model.NewAssistantMessage(prompt)
	msg.Name = n.Name
	msg.Metadata = &model.MessageMetadata{NodeID: n.ID, Interrupt: true, ActionRequestID: action.ID}
	return &step{
		update:  State{StateKeyMessages: []model.Message{msg}},
		next:    n.next,
		suspend: action,
	}, nil
}

// payloadUpdate turns a resume payload into a state update merged through
// the field reducers.
func payloadUpdate(payload map[string]any) (State, error) {
	update := make(State, len(payload))
	for k, v := range payload {
		if k == StateKeyMessages {
			msgs, err := decodeMessages(v)
			if err != nil {
				return nil, err
			}
			v = msgs
		}
		update[k] = v
	}
	return update, nil
}

var roleAliases = map[string]model.Role{
	"human":     model.RoleUser,
	"ai":        model.RoleAssistant,
	"assistant": model.RoleAssistant,
	"user":      model.RoleUser,
	"system":    model.RoleSystem,
	"tool":      model.RoleTool,
}

var metadataKeys = map[string]string{
	"nodeId":          "node_id",
	"usedTools":       "used_tools",
	"sourceDocuments": "source_documents",
	"actionRequestId": "action_request_id",
}

// decodeMessages converts script values into messages. Both the stored
// message form and the view form seen by scripts are accepted.
func decodeMessages(v any) ([]model.Message, error) {
	switch x := v.(type) {
	case nil:
		return []model.Message{}, nil
	case []model.Message:
		return x, nil
	case map[string]any:
		v = []any{x}
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("messages must be a list, got %T", v)
	}
	normalized := make([]any, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("message %d must be an object, got %T", i, item)
		}
		nm, err := normalizeMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		normalized[i] = nm
	}
	var out []model.Message
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       stringToBytesHook,
		Result:           &out,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(normalized); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeMessage(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	role, _ := out["role"].(string)
	if role == "" {
		role, _ = out["type"].(string)
	}
	r, ok := roleAliases[strings.ToLower(role)]
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	out["role"] = string(r)
	if id, ok := out["tool_call_id"]; ok {
		if _, has := out["tool_id"]; !has {
			out["tool_id"] = id
		}
	}
	if calls, ok := out["tool_calls"].([]any); ok {
		converted := make([]any, len(calls))
		for i, c := range calls {
			converted[i] = normalizeToolCall(c)
		}
		out["tool_calls"] = converted
	}
	if meta, ok := out["metadata"].(map[string]any); ok {
		fixed := make(map[string]any, len(meta))
		for k, v := range meta {
			if snake, ok := metadataKeys[k]; ok {
				k = snake
			}
			fixed[k] = v
		}
		out["metadata"] = fixed
	}
	return out, nil
}

// normalizeToolCall converts the {id, name, args} view of a call to the
// stored {id, type, function} form.
func normalizeToolCall(c any) any {
	m, ok := c.(map[string]any)
	if !ok {
		return c
	}
	if _, stored := m["function"]; stored {
		return m
	}
	name, _ := m["name"].(string)
	args, err := json.Marshal(m["args"])
	if err != nil || m["args"] == nil {
		args = []byte("{}")
	}
	return map[string]any{
		"id":       m["id"],
		"type":     "function",
		"function": map[string]any{"name": name, "arguments": string(args)},
	}
}

func stringToBytesHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && to == reflect.TypeOf([]byte(nil)) {
		return []byte(data.(string)), nil
	}
	return data, nil
}
