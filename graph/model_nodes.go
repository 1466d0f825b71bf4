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
	"time"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
)

const (
	extractToolName     = "extract"
	maxIterationsAnswer = "Agent stopped due to max iterations."
)

// extractTool is the declaration-only tool used for structured output.
type extractTool struct {
	decl *tool.Declaration
}

func (t extractTool) Declaration() *tool.Declaration { return t.decl }

func newExtractTool(fields []OutputField) tool.Tool {
	schema := &tool.Schema{Type: "object", Properties: make(map[string]*tool.Schema, len(fields))}
	for _, f := range fields {
		var s *tool.Schema
		switch f.Type {
		case OutputStringArray:
			s = &tool.Schema{Type: "array", Items: &tool.Schema{Type: "string"}}
		case OutputNumber:
			s = &tool.Schema{Type: "number"}
		case OutputBoolean:
			s = &tool.Schema{Type: "boolean"}
		case OutputEnum:
			s = &tool.Schema{Type: "string"}
			for _, v := range f.EnumValues {
				s.Enum = append(s.Enum, v)
			}
		default:
			s = &tool.Schema{Type: "string"}
		}
		s.Description = f.Description
		schema.Properties[f.Key] = s
		schema.Required = append(schema.Required, f.Key)
	}
	return extractTool{decl: &tool.Declaration{
		Name:        extractToolName,
		Description: "Extract structured output from the conversation",
		InputSchema: schema,
	}}
}

// requestTools collects the tools offered to the model of n.
func requestTools(n *GraphNode, withOwn bool) map[string]tool.Tool {
	out := make(map[string]tool.Tool)
	if withOwn {
		for _, t := range n.Tools {
			out[t.Declaration().Name] = t
		}
	}
	if len(n.modelCfg.StructuredOutput) > 0 {
		out[extractToolName] = newExtractTool(n.modelCfg.StructuredOutput)
	}
	return out
}

// splitExtraction separates extraction calls from real tool calls. When the
// message only carries extraction calls, their arguments are merged into one
// object, the content becomes its JSON encoding and the calls are cleared.
func splitExtraction(msg *model.Message) (structured map[string]any) {
	if len(msg.ToolCalls) == 0 {
		return nil
	}
	var calls []model.ToolCall
	merged := map[string]any{}
	for _, call := range msg.ToolCalls {
		if call.Function.Name != extractToolName {
			calls = append(calls, call)
			continue
		}
		for k, v := range call.Args() {
			merged[k] = v
		}
	}
	if len(calls) == len(msg.ToolCalls) {
		return nil
	}
	if len(calls) > 0 {
		// Real tool calls win; the extraction is retried on a later turn.
		msg.ToolCalls = calls
		return nil
	}
	b, err := json.Marshal(merged)
	if err == nil {
		msg.Content = string(b)
	}
	msg.ToolCalls = nil
	return merged
}

// prompt renders the system and human prompt messages of n.
func (r *run) prompt(n *GraphNode) (system, human []model.Message, err error) {
	cfg := n.modelCfg
	scope := r.scope(nil, false)
	if cfg.SystemPrompt != "" {
		text, err := renderTemplate(cfg.SystemPrompt, cfg.PromptValues, scope)
		if err != nil {
			return nil, nil, newError(KindNode, n, err, "render system prompt")
		}
		system = []model.Message{model.NewSystemMessage(text)}
	}
	if cfg.HumanPrompt != "" {
		text, err := renderTemplate(cfg.HumanPrompt, cfg.PromptValues, scope)
		if err != nil {
			return nil, nil, newError(KindNode, n, err, "render human prompt")
		}
		human = []model.Message{model.NewUserMessage(text)}
	}
	return system, human, nil
}

func conversation(parts ...[]model.Message) []model.Message {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]model.Message, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// callModel issues one model call. On abort the call is left to finish in
// the background and its answer is dropped.
func (e *Executor) callModel(
	ctx context.Context,
	n *GraphNode,
	msgs []model.Message,
	tools map[string]tool.Tool,
) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, abortError(n, err)
	}
	ctx, span := trace.StartSpan(ctx, trace.OperationCallModel, n.ModelName,
		attribute.String(trace.KeyNodeID, n.ID),
		attribute.String(trace.KeyModelName, n.ModelName),
	)
	begin := time.Now()
	req := &model.Request{Messages: msgs, Tools: tools}
	msg, err := detach(ctx, func(ctx context.Context) (model.Message, error) {
		return model.Generate(ctx, n.Model, req)
	})
	metric.ObserveModelCall(n.ModelName, err)
	trace.EndSpan(span, err)
	if errors.Is(err, errDetachedAbort) {
		return model.Message{}, abortError(n, ctx.Err())
	}
	if err != nil {
		return model.Message{}, newError(KindModel, n, err, "model call failed")
	}
	log.FromContext(ctx).Debugf("graph: %s model answered in %s with %d tool calls",
		n.Name, time.Since(begin), len(msg.ToolCalls))
	msg.Role = model.RoleAssistant
	msg.Name = n.Name
	if msg.Metadata == nil {
		msg.Metadata = &model.MessageMetadata{}
	}
	msg.Metadata.NodeID = n.ID
	return msg, nil
}

func (e *Executor) execAgent(ctx context.Context, r *run, n *GraphNode) (*step, error) {
	return e.agentLoop(ctx, r, n, r.state.Messages(), nil, 0, 0)
}

// agentLoop runs the tool-calling sub-loop of an Agent node. base is the
// conversation before the node ran, produced the messages of this node so
// far, of which the first committed are already part of state.
func (e *Executor) agentLoop(
	ctx context.Context,
	r *run,
	n *GraphNode,
	base, produced []model.Message,
	committed, iteration int,
) (*step, error) {
	cfg := n.modelCfg
	system, human, err := r.prompt(n)
	if err != nil {
		return nil, err
	}
	tools := requestTools(n, true)
	var (
		final      model.Message
		structured map[string]any
	)
	for {
		if iteration >= cfg.MaxIterations {
			final = model.NewAssistantMessage(maxIterationsAnswer)
			final.Name = n.Name
			final.Metadata = &model.MessageMetadata{NodeID: n.ID}
			break
		}
		msg, err := e.callModel(ctx, n, conversation(system, base, human, produced), tools)
		if err != nil {
			return nil, err
		}
		iteration++
		structured = splitExtraction(&msg)
		if len(msg.ToolCalls) == 0 {
			final = msg
			break
		}
		if cfg.RequireApproval {
			action := e.newAction(r, n, ActionToolApproval)
			action.ToolCalls = msg.ToolCalls
			action.Prompt = approvalPrompt(&cfg.ApprovalConfig, msg.ToolCalls)
			msg.Metadata.Interrupt = true
			msg.Metadata.ActionRequestID = action.ID
			produced = append(produced, msg)
			return &step{
				update:    State{StateKeyMessages: produced[committed:]},
				next:      n.next,
				suspend:   action,
				iteration: iteration,
				nodeStart: len(base),
			}, nil
		}
		toolMsgs, err := e.runToolCalls(ctx, n, msg.ToolCalls, n.toolIndex)
		if err != nil {
			return nil, err
		}
		produced = append(produced, msg)
		produced = append(produced, toolMsgs...)
	}
	if used := recordsOf(produced); len(used) > 0 {
		final.Metadata.UsedTools = used
	}
	produced = append(produced, final)

	view := final.View()
	for k, v := range structured {
		view[k] = v
	}
	update, err := e.updateState(ctx, r, n, cfg.UpdateStateConfig, view)
	if err != nil {
		return nil, err
	}
	if update == nil {
		update = State{}
	}
	update[StateKeyMessages] = produced[committed:]
	return &step{update: update, next: n.next}, nil
}

// execLLM issues one model call. Tool calls hand control to the Tool node
// that owns the first called tool; every called tool must have an owner.
func (e *Executor) execLLM(ctx context.Context, r *run, n *GraphNode) (*step, error) {
	system, human, err := r.prompt(n)
	if err != nil {
		return nil, err
	}
	msg, err := e.callModel(ctx, n, conversation(system, r.state.Messages(), human), requestTools(n, true))
	if err != nil {
		return nil, err
	}
	structured := splitExtraction(&msg)
	next := n.next
	for i, call := range msg.ToolCalls {
		owner, ok := n.toolOwners[call.Function.Name]
		if !ok {
			return nil, newError(KindToolError, n, nil, "tool %s not found", call.Function.Name)
		}
		if i == 0 {
			next = owner
		}
	}
	var output any = msg.View()
	if structured != nil {
		output = structured
	}
	update, err := e.updateState(ctx, r, n, n.modelCfg.UpdateStateConfig, output)
	if err != nil {
		return nil, err
	}
	if update == nil {
		update = State{}
	}
	update[StateKeyMessages] = []model.Message{msg}
	return &step{update: update, next: next}, nil
}

// execConditionAgent asks the model, then routes on its answer. The answer is
// only used for routing and is not added to the conversation.
func (e *Executor) execConditionAgent(ctx context.Context, r *run, n *GraphNode) (*step, error) {
	system, human, err := r.prompt(n)
	if err != nil {
		return nil, err
	}
	msg, err := e.callModel(ctx, n, conversation(system, r.state.Messages(), human), requestTools(n, false))
	if err != nil {
		return nil, err
	}
	var output any = msg.View()
	if structured := splitExtraction(&msg); structured != nil {
		output = structured
	}
	next, err := e.route(ctx, r, n, output, true)
	if err != nil {
		return nil, err
	}
	return &step{next: next}, nil
}
