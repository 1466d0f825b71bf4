//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupInput struct {
	Query string   `json:"q" description:"search query"`
	Limit *int     `json:"limit,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type lookupOutput struct {
	Hits []string `json:"hits"`
}

func TestFunctionTool_CallAndDeclaration(t *testing.T) {
	ft := NewFunctionTool(func(_ context.Context, in lookupInput) (lookupOutput, error) {
		return lookupOutput{Hits: []string{"hit:" + in.Query}}, nil
	}, WithName("lookup"), WithDescription("look things up"))

	decl := ft.Declaration()
	assert.Equal(t, "lookup", decl.Name)
	assert.Equal(t, "look things up", decl.Description)
	require.NotNil(t, decl.InputSchema)
	assert.Equal(t, "object", decl.InputSchema.Type)
	assert.Equal(t, []string{"q"}, decl.InputSchema.Required)
	assert.Equal(t, "search query", decl.InputSchema.Properties["q"].Description)
	assert.Equal(t, "integer", decl.InputSchema.Properties["limit"].Type)
	assert.Equal(t, "array", decl.InputSchema.Properties["tags"].Type)

	out, err := ft.Call(context.Background(), []byte(`{"q":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, lookupOutput{Hits: []string{"hit:x"}}, out)
}

func TestFunctionTool_BadArgs(t *testing.T) {
	ft := NewFunctionTool(func(_ context.Context, in lookupInput) (string, error) {
		return in.Query, nil
	}, WithName("lookup"), WithDescription("d"))
	_, err := ft.Call(context.Background(), []byte(`not json`))
	assert.Error(t, err)
}
