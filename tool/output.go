//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"trpc.group/trpc-go/trpc-seqagent-go/log"
)

// Reserved markers a tool may use to append structured payloads to its
// textual output. Everything after a marker is JSON.
const (
	SourceDocumentsMarker = "\n\n----SEQAGENT_SOURCE_DOCUMENTS----\n\n"
	ArtifactsMarker       = "\n\n----SEQAGENT_ARTIFACTS----\n\n"
	ArgsMarker            = "\n\n----SEQAGENT_TOOL_ARGS----\n\n"
)

// Output is a tool result with the marker payloads split out.
type Output struct {
	Content         string
	SourceDocuments []any
	Artifacts       []any
	// Args overrides the call arguments when the tool reports the
	// arguments it effectively used.
	Args map[string]any
}

// SplitOutput normalizes a raw tool result. Non-string results are encoded as
// JSON. Markers are split in the order source documents, artifacts, args;
// unparsable payloads are dropped with a warning.
func SplitOutput(raw any) (Output, error) {
	var text string
	switch v := raw.(type) {
	case nil:
		text = ""
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return Output{}, fmt.Errorf("encode tool output: %w", err)
		}
		return Output{Content: string(b)}, nil
	}

	out := Output{}
	if head, tail, ok := strings.Cut(text, SourceDocumentsMarker); ok {
		text = head
		rest, after := cutAtNextMarker(tail)
		if err := json.Unmarshal([]byte(rest), &out.SourceDocuments); err != nil {
			log.Warnf("tool: parse source documents: %v", err)
		}
		text += after
	}
	if head, tail, ok := strings.Cut(text, ArtifactsMarker); ok {
		text = head
		rest, after := cutAtNextMarker(tail)
		if err := json.Unmarshal([]byte(rest), &out.Artifacts); err != nil {
			log.Warnf("tool: parse artifacts: %v", err)
		}
		text += after
	}
	if head, tail, ok := strings.Cut(text, ArgsMarker); ok {
		text = head
		args, err := DecodeArgs([]byte(tail))
		if err != nil {
			log.Warnf("tool: parse tool args: %v", err)
		} else {
			out.Args = args
		}
	}
	out.Content = text
	return out, nil
}

// cutAtNextMarker splits s before the first other marker it contains.
func cutAtNextMarker(s string) (payload, remainder string) {
	idx := -1
	for _, m := range []string{SourceDocumentsMarker, ArtifactsMarker, ArgsMarker} {
		if i := strings.Index(s, m); i >= 0 && (idx < 0 || i < idx) {
			idx = i
		}
	}
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx:]
}

// ErrArgsNotObject is returned by DecodeArgs for JSON that is not an object.
var ErrArgsNotObject = errors.New("tool arguments are not a JSON object")

// DecodeArgs decodes JSON tool arguments into a map. Models occasionally emit
// slightly broken JSON, so a failed decode is retried after jsonrepair.
func DecodeArgs(raw []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(raw))
		if rerr != nil {
			return nil, fmt.Errorf("decode tool arguments: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return nil, fmt.Errorf("decode repaired tool arguments: %w", err)
		}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrArgsNotObject
	}
	return m, nil
}
