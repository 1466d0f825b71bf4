//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import "trpc.group/trpc-go/trpc-seqagent-go/tool"

// Role is the author of a message.
type Role string

// Roles. RoleUser is the "human" side of a conversation, RoleAssistant the "ai" side.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Message is one entry of a conversation.
type Message struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Name      string           `json:"name,omitempty"`      // Producing node name for assistant messages, tool name for tool messages
	ToolID    string           `json:"tool_id,omitempty"`   // Used by tool response
	ToolName  string           `json:"tool_name,omitempty"` // Used by tool response
	ToolCalls []ToolCall       `json:"tool_calls,omitempty"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// MessageMetadata carries engine bookkeeping attached to a message.
type MessageMetadata struct {
	// NodeID is the id of the node that produced the message.
	NodeID string `json:"node_id,omitempty"`
	// UsedTools records the tool calls behind the message.
	UsedTools []ToolCallRecord `json:"used_tools,omitempty"`
	// SourceDocuments and Artifacts are payloads split out of tool output.
	SourceDocuments []any `json:"source_documents,omitempty"`
	Artifacts       []any `json:"artifacts,omitempty"`
	// Args are the effective tool arguments for tool messages.
	Args map[string]any `json:"args,omitempty"`
	// Interrupt marks a message that represents a suspension point.
	Interrupt       bool   `json:"interrupt,omitempty"`
	ActionRequestID string `json:"action_request_id,omitempty"`
	// ToolCallsDenied marks tool messages produced by a rejected approval.
	ToolCallsDenied bool `json:"tool_calls_denied,omitempty"`
}

// ToolCallRecord describes one executed tool call.
type ToolCallRecord struct {
	Tool            string         `json:"tool"`
	ToolInput       map[string]any `json:"toolInput,omitempty"`
	ToolOutput      any            `json:"toolOutput,omitempty"`
	SourceDocuments []any          `json:"sourceDocuments,omitempty"`
	Artifacts       []any          `json:"artifacts,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool response message.
func NewToolMessage(toolID, toolName, content string) Message {
	return Message{
		Role:     RoleTool,
		Content:  content,
		ToolID:   toolID,
		ToolName: toolName,
		Name:     toolName,
	}
}

// View returns a JSON-like representation of the message used by path
// expressions and sandboxed scripts.
func (m Message) View() map[string]any {
	v := map[string]any{
		"role":    string(m.Role),
		"content": m.Content,
	}
	if m.Name != "" {
		v["name"] = m.Name
	}
	if m.ToolID != "" {
		v["tool_call_id"] = m.ToolID
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]any, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			calls = append(calls, map[string]any{
				"id":   tc.ID,
				"name": tc.Function.Name,
				"args": tc.Args(),
			})
		}
		v["tool_calls"] = calls
	}
	if md := m.Metadata; md != nil {
		meta := map[string]any{}
		if md.NodeID != "" {
			meta["nodeId"] = md.NodeID
		}
		if len(md.UsedTools) > 0 {
			used := make([]any, 0, len(md.UsedTools))
			for _, r := range md.UsedTools {
				used = append(used, r.View())
			}
			meta["usedTools"] = used
		}
		if len(md.SourceDocuments) > 0 {
			meta["sourceDocuments"] = md.SourceDocuments
		}
		if len(md.Artifacts) > 0 {
			meta["artifacts"] = md.Artifacts
		}
		if md.Interrupt {
			meta["interrupt"] = true
			meta["actionRequestId"] = md.ActionRequestID
		}
		v["metadata"] = meta
	}
	return v
}

// View returns a JSON-like representation of the record.
func (r ToolCallRecord) View() map[string]any {
	v := map[string]any{
		"tool":       r.Tool,
		"toolInput":  r.ToolInput,
		"toolOutput": r.ToolOutput,
	}
	if len(r.SourceDocuments) > 0 {
		v["sourceDocuments"] = r.SourceDocuments
	}
	if len(r.Artifacts) > 0 {
		v["artifacts"] = r.Artifacts
	}
	return v
}

// GenerationConfig contains the generation parameters.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`

	// Stream indicates whether to stream the response.
	Stream bool `json:"stream"`

	// Stop sequences where the API will stop generating further tokens.
	Stop []string `json:"stop,omitempty"`
}

// Request is the input of Model.GenerateContent.
type Request struct {
	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// GenerationConfig contains the generation parameters.
	GenerationConfig `json:",inline"`

	// Tools are the tool schemas bound for this call, keyed by name.
	Tools map[string]tool.Tool `json:"-"`
}

// ToolCall is a structured request from the model to run a tool.
type ToolCall struct {
	// Type of the tool. Currently, only `function` is supported.
	Type string `json:"type"`
	// Function definition for the tool
	Function FunctionDefinitionParam `json:"function,omitempty"`
	// The ID of the tool call returned by the model.
	ID string `json:"id,omitempty"`
}

// FunctionDefinitionParam names the function and carries its arguments.
type FunctionDefinitionParam struct {
	// The name of the function to be called.
	Name string `json:"name"`
	// Description of the function.
	Description string `json:"description,omitempty"`
	// Arguments to pass to the function, json-encoded.
	Arguments []byte `json:"arguments,omitempty"`
}

// Args decodes the call arguments. Malformed JSON is repaired when possible;
// anything that still is not an object yields an empty map.
func (tc ToolCall) Args() map[string]any {
	args, err := tool.DecodeArgs(tc.Function.Arguments)
	if err != nil {
		return map[string]any{}
	}
	return args
}
