//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package function adapts typed Go functions to the tool interfaces.
package function

import (
	"context"
	"encoding/json"
	"reflect"

	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
)

// FunctionTool implements tool.CallableTool for a function of shape
// func(context.Context, I) (O, error).
type FunctionTool[I, O any] struct {
	name        string
	description string
	inputSchema *tool.Schema
	fn          func(context.Context, I) (O, error)
}

// Option configures a FunctionTool.
type Option func(*functionToolOptions)

type functionToolOptions struct {
	name        string
	description string
	inputSchema *tool.Schema
}

// WithName sets the tool name. Keep it within ^[a-zA-Z0-9_-]+$ so every
// provider accepts it.
func WithName(name string) Option {
	return func(o *functionToolOptions) {
		o.name = name
	}
}

// WithDescription sets the tool description shown to the model.
func WithDescription(description string) Option {
	return func(o *functionToolOptions) {
		o.description = description
	}
}

// WithInputSchema overrides the schema derived from I.
func WithInputSchema(schema *tool.Schema) Option {
	return func(o *functionToolOptions) {
		o.inputSchema = schema
	}
}

// NewFunctionTool creates a new FunctionTool.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	options := &functionToolOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.name == "" {
		log.Warnf("FunctionTool: name is empty")
	}
	if options.description == "" {
		log.Warnf("FunctionTool: description is empty")
	}
	schema := options.inputSchema
	if schema == nil {
		var emptyI I
		schema = generateSchema(reflect.TypeOf(emptyI))
	}
	return &FunctionTool[I, O]{
		name:        options.name,
		description: options.description,
		inputSchema: schema,
		fn:          fn,
	}
}

// Call decodes jsonArgs into I and invokes the function.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, err
		}
	}
	return ft.fn(ctx, input)
}

// Declaration returns the tool's declaration information.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:        ft.name,
		Description: ft.description,
		InputSchema: ft.inputSchema,
	}
}
