//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"encoding/json"

	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
)

// stubModel never answers; white-box tests only need a bound model.
type stubModel struct{}

func (stubModel) GenerateContent(context.Context, *model.Request) (<-chan *model.Response, error) {
	ch := make(chan *model.Response)
	close(ch)
	return ch, nil
}

func (stubModel) Info() model.Info { return model.Info{Name: "stub", ToolCalling: true} }

// echoTool answers with its text argument plus marker payloads.
type echoTool struct{}

func (echoTool) Declaration() *tool.Declaration {
	return &tool.Declaration{Name: "echo", InputSchema: &tool.Schema{Type: "object"}}
}

func (echoTool) Call(_ context.Context, args []byte) (any, error) {
	var in map[string]any
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	in["resolved"] = true
	effective, _ := json.Marshal(in)
	return "echo: " + in["text"].(string) +
		tool.SourceDocumentsMarker + `[{"source":"doc"}]` +
		tool.ArgsMarker + string(effective), nil
}
