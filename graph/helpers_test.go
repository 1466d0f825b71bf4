//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
	"trpc.group/trpc-go/trpc-seqagent-go/tool/function"
)

// scriptedModel answers with a fixed list of messages and records every
// request it receives. Once the script is exhausted it repeats the last
// answer.
type scriptedModel struct {
	mu       sync.Mutex
	answers  []model.Message
	requests []*model.Request
	noTools  bool
	// block, when set, is waited on before answering.
	block chan struct{}
}

func newScriptedModel(answers ...model.Message) *scriptedModel {
	return &scriptedModel{answers: answers}
}

func (m *scriptedModel) GenerateContent(ctx context.Context, req *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i >= len(m.answers) {
		i = len(m.answers) - 1
	}
	var answer model.Message
	if i >= 0 {
		answer = m.answers[i]
	}
	block := m.block
	m.mu.Unlock()

	ch := make(chan *model.Response, 1)
	go func() {
		defer close(ch)
		if block != nil {
			<-block
		}
		if i < 0 {
			ch <- &model.Response{Error: &model.ResponseError{Type: model.ErrorTypeAPIError, Message: "no answer scripted"}}
			return
		}
		ch <- &model.Response{Choices: []model.Choice{{Message: answer}}, Done: true}
	}()
	return ch, nil
}

func (m *scriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", ToolCalling: !m.noTools}
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedModel) request(i int) *model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func answer(content string) model.Message {
	return model.NewAssistantMessage(content)
}

func toolCall(id, name string, args map[string]any) model.ToolCall {
	b, _ := json.Marshal(args)
	return model.ToolCall{
		Type: "function",
		ID:   id,
		Function: model.FunctionDefinitionParam{
			Name:      name,
			Arguments: b,
		},
	}
}

func callTools(calls ...model.ToolCall) model.Message {
	return model.Message{Role: model.RoleAssistant, ToolCalls: calls}
}

type lookupInput struct {
	Q string `json:"q"`
}

// lookupTool echoes its query and counts invocations.
func lookupTool(name string, counter *int, mu *sync.Mutex) tool.Tool {
	return function.NewFunctionTool(func(_ context.Context, in lookupInput) (string, error) {
		if mu != nil {
			mu.Lock()
			*counter++
			mu.Unlock()
		}
		return "result for " + in.Q, nil
	}, function.WithName(name), function.WithDescription("look things up"))
}

func failingTool(name string) tool.Tool {
	return function.NewFunctionTool(func(_ context.Context, _ lookupInput) (string, error) {
		return "", errors.New("backend down")
	}, function.WithName(name), function.WithDescription("always fails"))
}

func node(id string, kind graph.NodeKind, preds []string, cfg map[string]any) graph.NodeConfig {
	return graph.NodeConfig{ID: id, Kind: kind, Label: id, Predecessors: preds, Config: cfg}
}

func mustExecutor(t *testing.T, configs []graph.NodeConfig, compileOpts []graph.CompileOption, opts ...graph.Option) *graph.Executor {
	t.Helper()
	g, err := graph.Compile(configs, compileOpts...)
	require.NoError(t, err)
	e, err := graph.NewExecutor(g, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func roles(msgs []model.Message) []model.Role {
	out := make([]model.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}
