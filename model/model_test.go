//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

type cannedModel struct {
	responses []*model.Response
	err       error
}

func (m *cannedModel) Info() model.Info { return model.Info{Name: "canned"} }

func (m *cannedModel) GenerateContent(_ context.Context, _ *model.Request) (<-chan *model.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan *model.Response, len(m.responses))
	for _, r := range m.responses {
		ch <- r
	}
	close(ch)
	return ch, nil
}

func partial(content string) *model.Response {
	return &model.Response{IsPartial: true, Choices: []model.Choice{{Delta: model.Message{Content: content}}}}
}

func TestGenerate_FinalMessageWins(t *testing.T) {
	m := &cannedModel{responses: []*model.Response{
		partial("Hel"),
		partial("lo"),
		{Done: true, Choices: []model.Choice{{Message: model.NewAssistantMessage("Hello there")}}},
	}}
	msg, err := model.Generate(context.Background(), m, &model.Request{})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, "Hello there", msg.Content)
}

func TestGenerate_AccumulatesPartials(t *testing.T) {
	call := model.ToolCall{Type: "function", ID: "c1", Function: model.FunctionDefinitionParam{Name: "lookup"}}
	m := &cannedModel{responses: []*model.Response{
		partial("Hel"),
		nil,
		{IsPartial: true, Choices: []model.Choice{{Delta: model.Message{ToolCalls: []model.ToolCall{call}}}}},
		partial("lo"),
	}}
	msg, err := model.Generate(context.Background(), m, &model.Request{})
	require.NoError(t, err)
	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, "Hello", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "c1", msg.ToolCalls[0].ID)
}

func TestGenerate_Errors(t *testing.T) {
	_, err := model.Generate(context.Background(), &cannedModel{err: errors.New("dial")}, &model.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")

	apiErr := &model.ResponseError{Type: model.ErrorTypeAPIError, Code: "rate_limited", Message: "slow down"}
	_, err = model.Generate(context.Background(), &cannedModel{responses: []*model.Response{
		{Error: apiErr},
		partial("ignored"),
	}}, &model.Request{})
	var got *model.ResponseError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "rate_limited", got.Code)
	assert.Equal(t, "api_error (rate_limited): slow down", err.Error())

	_, err = model.Generate(context.Background(), &cannedModel{}, &model.Request{})
	assert.ErrorIs(t, err, model.ErrNoChoices)
}

func TestMessageView(t *testing.T) {
	msg := model.NewAssistantMessage("")
	msg.ToolCalls = []model.ToolCall{{
		Type:     "function",
		ID:       "c1",
		Function: model.FunctionDefinitionParam{Name: "lookup", Arguments: []byte(`{"q":"x"}`)},
	}}
	msg.Metadata = &model.MessageMetadata{NodeID: "agent_0"}
	v := msg.View()
	assert.Equal(t, "assistant", v["role"])
	calls, ok := v["tool_calls"].([]any)
	require.True(t, ok)
	require.Len(t, calls, 1)
	call := calls[0].(map[string]any)
	assert.Equal(t, "lookup", call["name"])
	assert.Equal(t, map[string]any{"q": "x"}, call["args"])
	assert.Equal(t, map[string]any{"nodeId": "agent_0"}, v["metadata"])

	toolMsg := model.NewToolMessage("c1", "lookup", "42")
	tv := toolMsg.View()
	assert.Equal(t, "c1", tv["tool_call_id"])
	assert.Equal(t, "lookup", tv["name"])
	assert.NotContains(t, tv, "metadata")
}

func TestToolCallArgs_Malformed(t *testing.T) {
	tc := model.ToolCall{Function: model.FunctionDefinitionParam{Arguments: []byte(`[1,2]`)}}
	assert.Empty(t, tc.Args())
}
