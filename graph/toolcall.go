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
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/trace"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
)

const (
	defaultApprovalPrompt = "You are about to execute tool: {tools}. Ask if user want to proceed"
	deniedToolMessage     = "Tool %s call denied by user. Acknowledge that and ask if user needs any help."
)

// runToolCalls dispatches calls concurrently on the executor pool and
// returns one tool message per call in call order. tools maps the names the
// node may call.
func (e *Executor) runToolCalls(
	ctx context.Context,
	n *GraphNode,
	calls []model.ToolCall,
	tools map[string]tool.Tool,
) ([]model.Message, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, abortError(n, err)
	}
	callables := make([]tool.CallableTool, len(calls))
	for i, call := range calls {
		t, ok := tools[call.Function.Name]
		if !ok {
			return nil, newError(KindToolError, n, nil, "tool %s not found", call.Function.Name)
		}
		callables[i] = t.(tool.CallableTool)
	}

	// The batch outlives an abort of ctx: running calls finish, their results
	// are dropped below.
	batchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		results  = make([]model.Message, len(calls))
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		if e.toolPolicy == ToolErrorAllOrNothing {
			cancel()
		}
	}
	for i, call := range calls {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if batchCtx.Err() != nil {
				return
			}
			msg, err := e.invokeTool(batchCtx, n, call, callables[i])
			if err != nil {
				if e.toolPolicy == ToolErrorIsolate {
					results[i] = failedToolMessage(n, call, err)
					return
				}
				fail(err)
				return
			}
			results[i] = msg
		}
		if err := e.pool.Submit(task); err != nil {
			wg.Done()
			fail(newError(KindToolError, n, err, "dispatch tool %s", call.Function.Name))
			if e.toolPolicy == ToolErrorIsolate {
				results[i] = failedToolMessage(n, call, err)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return nil, abortError(n, ctx.Err())
	}
	if ctx.Err() != nil {
		return nil, abortError(n, ctx.Err())
	}
	if firstErr != nil && e.toolPolicy == ToolErrorAllOrNothing {
		return nil, asEngineError(KindToolError, n, firstErr)
	}
	return results, nil
}

// invokeTool runs one call and converts its output to a tool message.
func (e *Executor) invokeTool(ctx context.Context, n *GraphNode, call model.ToolCall, t tool.CallableTool) (model.Message, error) {
	name := call.Function.Name
	args, err := tool.DecodeArgs(call.Function.Arguments)
	if err != nil {
		return model.Message{}, newError(KindToolError, n, err, "tool %s arguments", name)
	}
	// Arguments are re-encoded so tools always receive valid JSON.
	encoded, err := json.Marshal(args)
	if err != nil {
		return model.Message{}, newError(KindToolError, n, err, "tool %s arguments", name)
	}

	ctx, span := trace.StartSpan(ctx, trace.OperationExecuteTool, name,
		attribute.String(trace.KeyNodeID, n.ID),
		attribute.String(trace.KeyToolName, name),
		attribute.String(trace.KeyToolCallID, call.ID),
	)
	raw, err := t.Call(ctx, encoded)
	metric.ObserveToolCall(name, err)
	trace.EndSpan(span, err)
	if err != nil {
		return model.Message{}, newError(KindToolError, n, err, "tool %s failed", name)
	}

	out, err := tool.SplitOutput(raw)
	if err != nil {
		return model.Message{}, newError(KindToolError, n, err, "tool %s output", name)
	}
	if out.Args != nil {
		args = out.Args
	}
	record := model.ToolCallRecord{
		Tool:            name,
		ToolInput:       args,
		ToolOutput:      out.Content,
		SourceDocuments: out.SourceDocuments,
		Artifacts:       out.Artifacts,
	}
	msg := model.NewToolMessage(call.ID, name, out.Content)
	msg.Metadata = &model.MessageMetadata{
		NodeID:          n.ID,
		UsedTools:       []model.ToolCallRecord{record},
		SourceDocuments: out.SourceDocuments,
		Artifacts:       out.Artifacts,
		Args:            args,
	}
	return msg, nil
}

func failedToolMessage(n *GraphNode, call model.ToolCall, err error) model.Message {
	var engineErr *Error
	text := err.Error()
	if errors.As(err, &engineErr) && engineErr.Err != nil {
		text = engineErr.Err.Error()
	}
	msg := model.NewToolMessage(call.ID, call.Function.Name, text)
	msg.Metadata = &model.MessageMetadata{NodeID: n.ID, Args: call.Args()}
	return msg
}

// denyToolCalls answers every queued call of a rejected approval.
func denyToolCalls(n *GraphNode, calls []model.ToolCall) []model.Message {
	out := make([]model.Message, 0, len(calls))
	for _, call := range calls {
		msg := model.NewToolMessage(call.ID, call.Function.Name, fmt.Sprintf(deniedToolMessage, call.Function.Name))
		msg.Metadata = &model.MessageMetadata{NodeID: n.ID, ToolCallsDenied: true}
		out = append(out, msg)
	}
	return out
}

// approvalPrompt renders the approval question; {tools} expands to the
// queued calls as JSON.
func approvalPrompt(cfg *ApprovalConfig, calls []model.ToolCall) string {
	tpl := cfg.ApprovalPrompt
	if strings.TrimSpace(tpl) == "" {
		tpl = defaultApprovalPrompt
	}
	queued := make([]any, 0, len(calls))
	for _, call := range calls {
		queued = append(queued, map[string]any{"name": call.Function.Name, "args": call.Args()})
	}
	return strings.ReplaceAll(tpl, "{tools}", renderValue(queued))
}

// recordsOf collects the used-tool records of tool messages.
func recordsOf(msgs []model.Message) []model.ToolCallRecord {
	var out []model.ToolCallRecord
	for _, m := range msgs {
		if m.Metadata == nil {
			continue
		}
		out = append(out, m.Metadata.UsedTools...)
	}
	return out
}
