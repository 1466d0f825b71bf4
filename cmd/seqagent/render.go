//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
)

// printResult writes the outcome of a run or resume to w. Completed runs
// print the final answer as rendered markdown unless raw is set.
func printResult(w io.Writer, res *graph.Result, raw bool) error {
	switch res.Status {
	case graph.StatusInterrupted:
		return printAction(w, res.Action)
	default:
		last, ok := res.LastMessage()
		if !ok {
			fmt.Fprintln(w, "(no messages)")
			return nil
		}
		out := last.Content
		if !raw {
			rendered, err := renderMarkdown(out)
			if err != nil {
				return err
			}
			out = rendered
		}
		fmt.Fprintln(w, strings.TrimRight(out, "\n"))
		return nil
	}
}

func printAction(w io.Writer, a *graph.ActionRequest) error {
	if a == nil {
		return fmt.Errorf("interrupted run without action request")
	}
	fmt.Fprintf(w, "Waiting for %s at node %s\n", a.Kind, a.NodeName)
	if a.Prompt != "" {
		fmt.Fprintf(w, "  %s\n", a.Prompt)
	}
	for _, tc := range a.ToolCalls {
		args, _ := json.Marshal(tc.Args())
		fmt.Fprintf(w, "  tool %s %s\n", tc.Function.Name, args)
	}
	if len(a.OutputShape) > 0 {
		shape, _ := json.Marshal(a.OutputShape)
		fmt.Fprintf(w, "  expected payload: %s\n", shape)
	}
	fmt.Fprintf(w, "\nResume with:\n  seqagent resume -f <flow> -s %s -a %s -d approve\n", a.SessionID, a.ID)
	return nil
}

func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
