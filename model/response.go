//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import (
	"fmt"
	"time"
)

// Error types carried by ResponseError.
const (
	ErrorTypeStreamError = "stream_error"
	ErrorTypeAPIError    = "api_error"
)

// Choice is one candidate answer.
type Choice struct {
	// Index is the index of the choice.
	Index int `json:"index"`

	// Message is the message content.
	Message Message `json:"message,omitempty"`

	// Delta is the delta message content for streamed chunks.
	Delta Message `json:"delta,omitempty"`

	// FinishReason is the reason the choice was finished.
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage is token accounting for a call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseError is an API-level failure delivered in the response stream.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Error implements error.
func (e *ResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Response is one item of the GenerateContent stream.
type Response struct {
	ID        string         `json:"id"`
	Model     string         `json:"model"`
	Created   int64          `json:"created"`
	Choices   []Choice       `json:"choices"`
	Usage     *Usage         `json:"usage,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	// Done is true on the last response of the stream.
	Done bool `json:"done"`
	// IsPartial marks streamed chunks that only carry deltas.
	IsPartial bool `json:"is_partial"`
}
