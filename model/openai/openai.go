//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai adapts OpenAI-compatible chat completion APIs to model.Model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/respjson"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
)

const functionToolType = "function"

// Model implements model.Model on the chat completions endpoint.
type Model struct {
	client               openai.Client
	name                 string
	toolCalling          bool
	channelBufferSize    int
	chatRequestCallback  ChatRequestCallbackFunc
	chatResponseCallback ChatResponseCallbackFunc
	extraFields          map[string]any
}

// New creates a model for the named deployment.
func New(name string, opts ...Option) *Model {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts, o.OpenAIOptions...)
	return &Model{
		client:               openai.NewClient(clientOpts...),
		name:                 name,
		toolCalling:          o.ToolCalling,
		channelBufferSize:    o.ChannelBufferSize,
		chatRequestCallback:  o.ChatRequestCallback,
		chatResponseCallback: o.ChatResponseCallback,
		extraFields:          o.ExtraFields,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name, ToolCalling: m.toolCalling}
}

// GenerateContent implements the model.Model interface.
func (m *Model) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	chatRequest, opts := m.buildChatRequest(request)
	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		if m.chatRequestCallback != nil {
			m.chatRequestCallback(ctx, &chatRequest)
		}
		if request.Stream {
			m.handleStreamingResponse(ctx, chatRequest, responseChan, opts...)
		} else {
			m.handleNonStreamingResponse(ctx, chatRequest, responseChan, opts...)
		}
	}()
	return responseChan, nil
}

func (m *Model) buildChatRequest(request *model.Request) (openai.ChatCompletionNewParams, []openaiopt.RequestOption) {
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
		Tools:    convertTools(request.Tools),
	}
	// MaxTokens is deprecated upstream and rejected by reasoning models.
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = openai.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		// Only the first stop sequence is forwarded.
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{OfString: openai.String(request.Stop[0])}
	}
	if request.Stream {
		chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}
	var opts []openaiopt.RequestOption
	for key, value := range m.extraFields {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}
	return chatRequest, opts
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(msg.Content)},
				},
			})
		case model.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" || len(msg.ToolCalls) == 0 {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case model.RoleTool:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content:    openai.ChatCompletionToolMessageParamContentUnion{OfString: openai.String(msg.Content)},
					ToolCallID: msg.ToolID,
				},
			})
		default:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(msg.Content)},
				},
			})
		}
	}
	return result
}

func convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, tc := range toolCalls {
		args := string(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return result
}

// convertTools declares tools sorted by name so requests are stable.
func convertTools(tools map[string]tool.Tool) []openai.ChatCompletionToolParam {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	var result []openai.ChatCompletionToolParam
	for _, name := range names {
		declaration := tools[name].Declaration()
		schemaBytes, err := json.Marshal(declaration.InputSchema)
		if err != nil {
			log.Errorf("openai: marshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("openai: unmarshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        declaration.Name,
				Description: openai.String(declaration.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
	opts ...openaiopt.RequestOption,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest, opts...)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(sanitizeChunk(chunk))
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		partial := &model.Response{
			ID:        chunk.ID,
			Model:     chunk.Model,
			Created:   chunk.Created,
			Timestamp: time.Now(),
			IsPartial: true,
			Choices: []model.Choice{{
				Delta: model.Message{Role: model.RoleAssistant, Content: chunk.Choices[0].Delta.Content},
			}},
		}
		if !send(ctx, responseChan, partial) {
			return
		}
	}
	if err := stream.Err(); err != nil {
		send(ctx, responseChan, errorResponse(model.ErrorTypeStreamError, err))
		return
	}
	usage := convertUsage(acc.Usage)
	final := &model.Response{
		ID:        acc.ID,
		Model:     acc.Model,
		Created:   acc.Created,
		Usage:     &usage,
		Timestamp: time.Now(),
		Done:      true,
	}
	for _, choice := range acc.Choices {
		final.Choices = append(final.Choices, convertChoice(choice))
	}
	send(ctx, responseChan, final)
}

// sanitizeChunk clears a tool-calls marker that is present without any tool
// call on finish chunks; the accumulator indexes past the end otherwise.
func sanitizeChunk(chunk openai.ChatCompletionChunk) openai.ChatCompletionChunk {
	if len(chunk.Choices) == 0 {
		return chunk
	}
	c := chunk.Choices[0]
	if c.FinishReason == "" || !c.Delta.JSON.ToolCalls.Valid() || len(c.Delta.ToolCalls) != 0 {
		return chunk
	}
	sanitized := chunk
	sanitized.Choices = append([]openai.ChatCompletionChunkChoice(nil), chunk.Choices...)
	sanitized.Choices[0].Delta.JSON.ToolCalls = respjson.Field{}
	return sanitized
}

func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
	opts ...openaiopt.RequestOption,
) {
	completion, err := m.client.Chat.Completions.New(ctx, chatRequest, opts...)
	if err != nil {
		send(ctx, responseChan, errorResponse(model.ErrorTypeAPIError, err))
		return
	}
	if m.chatResponseCallback != nil {
		m.chatResponseCallback(ctx, &chatRequest, completion)
	}
	usage := convertUsage(completion.Usage)
	response := &model.Response{
		ID:        completion.ID,
		Model:     completion.Model,
		Created:   completion.Created,
		Usage:     &usage,
		Timestamp: time.Now(),
		Done:      true,
	}
	for _, choice := range completion.Choices {
		response.Choices = append(response.Choices, convertChoice(choice))
	}
	send(ctx, responseChan, response)
}

func convertChoice(choice openai.ChatCompletionChoice) model.Choice {
	out := model.Choice{
		Index:   int(choice.Index),
		Message: model.Message{Role: model.RoleAssistant, Content: choice.Message.Content},
	}
	for i, tc := range choice.Message.ToolCalls {
		// Some providers omit the id; synthesize a stable one.
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("auto_call_%d", i)
		}
		out.Message.ToolCalls = append(out.Message.ToolCalls, model.ToolCall{
			Type: functionToolType,
			ID:   id,
			Function: model.FunctionDefinitionParam{
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			},
		})
	}
	if choice.FinishReason != "" {
		reason := choice.FinishReason
		out.FinishReason = &reason
	}
	return out
}

func convertUsage(u openai.CompletionUsage) model.Usage {
	return model.Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func errorResponse(kind string, err error) *model.Response {
	rsp := &model.Response{
		Error:     &model.ResponseError{Message: err.Error(), Type: kind},
		Timestamp: time.Now(),
		Done:      true,
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		rsp.Error.Code = apiErr.Code
		rsp.Error.Message = apiErr.Message
		if apiErr.Message == "" {
			rsp.Error.Message = err.Error()
		}
	}
	return rsp
}

func send(ctx context.Context, ch chan<- *model.Response, rsp *model.Response) bool {
	select {
	case ch <- rsp:
		return true
	case <-ctx.Done():
		return false
	}
}
