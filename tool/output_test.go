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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOutput_PlainString(t *testing.T) {
	out, err := SplitOutput("sunny")
	require.NoError(t, err)
	assert.Equal(t, "sunny", out.Content)
	assert.Nil(t, out.SourceDocuments)
	assert.Nil(t, out.Artifacts)
	assert.Nil(t, out.Args)
}

func TestSplitOutput_NonString(t *testing.T) {
	out, err := SplitOutput(map[string]any{"temp": 21})
	require.NoError(t, err)
	assert.JSONEq(t, `{"temp":21}`, out.Content)
}

func TestSplitOutput_AllMarkers(t *testing.T) {
	raw := "answer" +
		SourceDocumentsMarker + `[{"pageContent":"doc"}]` +
		ArtifactsMarker + `[{"type":"png","data":"x"}]` +
		ArgsMarker + `{"q":"effective"}`
	out, err := SplitOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Content)
	require.Len(t, out.SourceDocuments, 1)
	require.Len(t, out.Artifacts, 1)
	assert.Equal(t, map[string]any{"q": "effective"}, out.Args)
}

func TestSplitOutput_ArtifactsBeforeDocuments(t *testing.T) {
	raw := "answer" + ArtifactsMarker + `["a"]` + SourceDocumentsMarker + `["d"]`
	out, err := SplitOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Content)
	assert.Equal(t, []any{"d"}, out.SourceDocuments)
	assert.Equal(t, []any{"a"}, out.Artifacts)
}

func TestSplitOutput_BadPayloadIsDropped(t *testing.T) {
	out, err := SplitOutput("answer" + SourceDocumentsMarker + "not json")
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Content)
	assert.Nil(t, out.SourceDocuments)
}

func TestDecodeArgs(t *testing.T) {
	args, err := DecodeArgs([]byte(`{"q":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "x"}, args)

	args, err = DecodeArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = DecodeArgs([]byte(`{q: 'x',}`))
	require.NoError(t, err)
	assert.Equal(t, "x", args["q"])

	_, err = DecodeArgs([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrArgsNotObject)
}
