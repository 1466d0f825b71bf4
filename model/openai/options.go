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

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
)

const defaultChannelBufferSize = 256

// ChatRequestCallbackFunc observes the outgoing chat request.
type ChatRequestCallbackFunc func(ctx context.Context, chatRequest *openai.ChatCompletionNewParams)

// ChatResponseCallbackFunc observes a non-streaming chat response.
type ChatResponseCallbackFunc func(
	ctx context.Context,
	chatRequest *openai.ChatCompletionNewParams,
	chatResponse *openai.ChatCompletion,
)

type options struct {
	APIKey               string
	BaseURL              string
	ChannelBufferSize    int
	ToolCalling          bool
	ChatRequestCallback  ChatRequestCallbackFunc
	ChatResponseCallback ChatResponseCallbackFunc
	OpenAIOptions        []openaiopt.RequestOption
	// ExtraFields are merged into every request body.
	ExtraFields map[string]any
}

var defaultOptions = options{
	ChannelBufferSize: defaultChannelBufferSize,
	ToolCalling:       true,
}

// Option configures a Model.
type Option func(*options)

// WithAPIKey sets the API key. The client falls back to OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.APIKey = key
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.BaseURL = url
	}
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(opts *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		opts.ChannelBufferSize = size
	}
}

// WithToolCalling declares whether the served model supports tool calls.
// Graphs refuse to bind tools or structured output to models without it.
func WithToolCalling(enabled bool) Option {
	return func(opts *options) {
		opts.ToolCalling = enabled
	}
}

// WithChatRequestCallback sets the chat request callback.
func WithChatRequestCallback(fn ChatRequestCallbackFunc) Option {
	return func(opts *options) {
		opts.ChatRequestCallback = fn
	}
}

// WithChatResponseCallback sets the chat response callback.
func WithChatResponseCallback(fn ChatResponseCallbackFunc) Option {
	return func(opts *options) {
		opts.ChatResponseCallback = fn
	}
}

// WithOpenAIOptions appends raw client options, e.g. a middleware:
//
//	WithOpenAIOptions(openaiopt.WithMiddleware(
//		func(req *http.Request, next openaiopt.MiddlewareNext) (*http.Response, error) {
//			return next(req)
//		},
//	))
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(opts *options) {
		opts.OpenAIOptions = append(opts.OpenAIOptions, openaiOpts...)
	}
}

// WithHeaders appends static HTTP headers to all requests.
func WithHeaders(headers map[string]string) Option {
	return func(opts *options) {
		for k, v := range headers {
			opts.OpenAIOptions = append(opts.OpenAIOptions, openaiopt.WithHeader(k, v))
		}
	}
}

// WithExtraFields adds fields to every chat completion request body.
func WithExtraFields(extraFields map[string]any) Option {
	return func(opts *options) {
		if opts.ExtraFields == nil {
			opts.ExtraFields = make(map[string]any)
		}
		for k, v := range extraFields {
			opts.ExtraFields[k] = v
		}
	}
}
