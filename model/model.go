//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package model provides interfaces for working with LLMs.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Model is the interface for all language models.
//
// Error Handling Strategy:
// This interface uses a dual-layer error handling approach:
//
// 1. Function-level errors (returned as `error`):
//   - System-level failures that prevent communication
//   - Examples: nil request, network issues, invalid parameters
//
// 2. Response-level errors (Response.Error field):
//   - API-level errors returned by the model service
//   - Examples: API rate limits, content filtering, model errors
//
// Usage pattern:
//
//	responseChan, err := model.GenerateContent(ctx, request)
//	if err != nil {
//	    return fmt.Errorf("failed to generate content: %w", err)
//	}
//	for response := range responseChan {
//	    if response.Error != nil {
//	        return fmt.Errorf("API error: %s", response.Error.Message)
//	    }
//	}
type Model interface {
	// GenerateContent generates content from the given request.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// Info contains basic information about a Model.
type Info struct {
	Name string
	// ToolCalling reports whether the model accepts tool declarations and
	// answers with structured tool calls. Nodes that bind tools or ask for
	// structured output refuse models without it.
	ToolCalling bool
}

// ErrNoChoices is returned by Generate when the model produced no message.
var ErrNoChoices = errors.New("model returned no choices")

// Generate drains the response channel of m and returns the final assistant
// message. Streaming models are accumulated: content deltas are concatenated
// and the last non-empty tool call list wins.
func Generate(ctx context.Context, m Model, request *Request) (Message, error) {
	ch, err := m.GenerateContent(ctx, request)
	if err != nil {
		return Message{}, fmt.Errorf("generate content: %w", err)
	}
	var (
		final    Message
		streamed Message
		got      bool
	)
	for rsp := range ch {
		if rsp == nil {
			continue
		}
		if rsp.Error != nil {
			// Drain so the producer goroutine can exit.
			for range ch {
			}
			return Message{}, rsp.Error
		}
		if len(rsp.Choices) == 0 {
			continue
		}
		choice := rsp.Choices[0]
		if rsp.IsPartial {
			streamed.Content += choice.Delta.Content
			if len(choice.Delta.ToolCalls) > 0 {
				streamed.ToolCalls = choice.Delta.ToolCalls
			}
			continue
		}
		final = choice.Message
		got = true
	}
	if !got {
		if streamed.Content == "" && len(streamed.ToolCalls) == 0 {
			return Message{}, ErrNoChoices
		}
		final = streamed
	}
	if final.Role == "" {
		final.Role = RoleAssistant
	}
	return final, nil
}
