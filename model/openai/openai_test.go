//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openaigo "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
	"trpc.group/trpc-go/trpc-seqagent-go/tool/function"
)

type weatherInput struct {
	City string `json:"city"`
}

func weatherTool() tool.Tool {
	return function.NewFunctionTool(func(_ context.Context, in weatherInput) (string, error) {
		return "sunny in " + in.City, nil
	}, function.WithName("weather"), function.WithDescription("current weather"))
}

// newServer serves chat completions and records every decoded request body.
func newServer(t *testing.T, handle func(w http.ResponseWriter, body map[string]any)) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		handle(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func newTestModel(srv *httptest.Server, opts ...Option) *Model {
	base := []Option{
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL + "/"),
		WithOpenAIOptions(openaiopt.WithMaxRetries(0)),
	}
	return New("gpt-test", append(base, opts...)...)
}

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-test",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [
        {"id": "call_1", "type": "function", "function": {"name": "weather", "arguments": "{\"city\":\"Paris\"}"}},
        {"id": "", "type": "function", "function": {"name": "weather", "arguments": "{\"city\":\"Oslo\"}"}}
      ]
    }
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
}`

func TestModel_Info(t *testing.T) {
	m := New("gpt-test", WithAPIKey("k"))
	assert.Equal(t, model.Info{Name: "gpt-test", ToolCalling: true}, m.Info())
	assert.False(t, New("plain", WithToolCalling(false)).Info().ToolCalling)
}

func TestModel_GenerateContent_NilRequest(t *testing.T) {
	_, err := New("gpt-test").GenerateContent(context.Background(), nil)
	assert.Error(t, err)
}

func TestModel_NonStreaming(t *testing.T) {
	srv, bodies := newServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionJSON)
	})
	var seen *openaigo.ChatCompletion
	m := newTestModel(srv,
		WithExtraFields(map[string]any{"user": "tester"}),
		WithChatResponseCallback(func(_ context.Context, _ *openaigo.ChatCompletionNewParams, rsp *openaigo.ChatCompletion) {
			seen = rsp
		}),
	)
	maxTokens, temp := 64, 0.2
	req := &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage("be brief"),
			model.NewUserMessage("weather?"),
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{
				Type: "function", ID: "prev",
				Function: model.FunctionDefinitionParam{Name: "weather"},
			}}},
			model.NewToolMessage("prev", "weather", "rainy"),
		},
		GenerationConfig: model.GenerationConfig{MaxTokens: &maxTokens, Temperature: &temp},
		Tools:            map[string]tool.Tool{"weather": weatherTool()},
	}

	msg, err := model.Generate(context.Background(), m, req)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, model.RoleAssistant, msg.Role)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "auto_call_1", msg.ToolCalls[1].ID)
	assert.Equal(t, map[string]any{"city": "Oslo"}, msg.ToolCalls[1].Args())

	require.Len(t, *bodies, 1)
	body := (*bodies)[0]
	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, "tester", body["user"])
	assert.EqualValues(t, 64, body["max_completion_tokens"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 4)
	assistant := messages[2].(map[string]any)
	call := assistant["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, "{}", call["function"].(map[string]any)["arguments"])
	toolMsg := messages[3].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "prev", toolMsg["tool_call_id"])
	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "weather", fn["name"])
	params := fn["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"])
}

func TestModel_Streaming(t *testing.T) {
	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}
	srv, bodies := newServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	m := newTestModel(srv)

	ch, err := m.GenerateContent(context.Background(), &model.Request{
		Messages:         []model.Message{model.NewUserMessage("hi")},
		GenerationConfig: model.GenerationConfig{Stream: true},
	})
	require.NoError(t, err)
	var partials []string
	var final *model.Response
	for rsp := range ch {
		require.Nil(t, rsp.Error)
		if rsp.IsPartial {
			partials = append(partials, rsp.Choices[0].Delta.Content)
			continue
		}
		final = rsp
	}
	assert.Equal(t, []string{"Hel", "lo"}, partials)
	require.NotNil(t, final)
	assert.True(t, final.Done)
	require.Len(t, final.Choices, 1)
	assert.Equal(t, "Hello", final.Choices[0].Message.Content)
	assert.Equal(t, true, (*bodies)[0]["stream"])
}

func TestModel_APIError(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad tool schema","type":"invalid_request_error","code":"invalid_schema"}}`)
	})
	m := newTestModel(srv)

	_, err := model.Generate(context.Background(), m, &model.Request{
		Messages: []model.Message{model.NewUserMessage("hi")},
	})
	require.Error(t, err)
	var rspErr *model.ResponseError
	require.ErrorAs(t, err, &rspErr)
	assert.Equal(t, model.ErrorTypeAPIError, rspErr.Type)
	assert.Equal(t, "invalid_schema", rspErr.Code)
	assert.Contains(t, rspErr.Message, "bad tool schema")
}

func TestConvertMessages_UnknownRoleIsUser(t *testing.T) {
	out := convertMessages([]model.Message{{Role: "narrator", Content: "once"}})
	require.Len(t, out, 1)
	assert.NotNil(t, out[0].OfUser)
}
