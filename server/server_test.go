//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/graph/checkpoint/inmemory"
)

func echoFlow() []graph.NodeConfig {
	return []graph.NodeConfig{
		{ID: "start", Kind: graph.KindStart, Label: "start"},
		{ID: "fn", Kind: graph.KindFunction, Label: "echo", Predecessors: []string{"start"},
			Config: map[string]any{"code": `return "echo: " .. $flow.input`}},
		{ID: "end", Kind: graph.KindEnd, Label: "end", Predecessors: []string{"echo"}},
	}
}

func reviewFlow() []graph.NodeConfig {
	return []graph.NodeConfig{
		{ID: "start", Kind: graph.KindStart, Label: "start",
			Config: map[string]any{"state": []any{map[string]any{"key": "verdict", "default": "none"}}}},
		{ID: "review", Kind: graph.KindHumanInTheLoop, Label: "review", Predecessors: []string{"start"},
			Config: map[string]any{"prompt": "Ship it?"}},
		{ID: "end", Kind: graph.KindEnd, Label: "end", Predecessors: []string{"review"}},
	}
}

func failingFlow() []graph.NodeConfig {
	return []graph.NodeConfig{
		{ID: "start", Kind: graph.KindStart, Label: "start"},
		{ID: "fn_boom", Kind: graph.KindFunction, Label: "boom", Predecessors: []string{"start"},
			Config: map[string]any{"code": `error("boom")`}},
		{ID: "end", Kind: graph.KindEnd, Label: "end", Predecessors: []string{"boom"}},
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	for id, configs := range map[string][]graph.NodeConfig{
		"echo":   echoFlow(),
		"review": reviewFlow(),
		"fail":   failingFlow(),
	} {
		g, err := graph.Compile(configs)
		require.NoError(t, err)
		e, err := graph.NewExecutor(g, graph.WithSnapshotStore(inmemory.NewStore()))
		require.NoError(t, err)
		t.Cleanup(e.Close)
		require.NoError(t, s.Register(FlowInfo{ID: id, Name: strings.ToUpper(id)}, e))
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(rsp.Body).Decode(out))
	}
	return rsp.StatusCode
}

func TestServer_HealthAndList(t *testing.T) {
	srv := newTestServer(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/healthz", nil, &health))
	assert.Equal(t, "ok", health["status"])

	var flows []FlowInfo
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/v1/flows", nil, &flows))
	require.Len(t, flows, 3)
	assert.Equal(t, "echo", flows[0].ID)
	assert.Equal(t, "ECHO", flows[0].Name)
	assert.Contains(t, flows[0].Graph, "echo [customFunction]")
}

func TestServer_Run(t *testing.T) {
	srv := newTestServer(t)

	var out runResponse
	status := call(t, http.MethodPost, srv.URL+"/v1/flows/echo/runs", map[string]any{
		"session_id": "s1", "input": "hello",
	}, &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, graph.StatusCompleted, out.Status)
	assert.Equal(t, "echo: hello", out.Output)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "user", out.Messages[0]["role"])
	assert.NotEmpty(t, out.RunID)

	var apiErr errorBody
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodPost, srv.URL+"/v1/flows/nope/runs", map[string]any{}, &apiErr))
	assert.Contains(t, apiErr.Error, "nope")

	assert.Equal(t, http.StatusBadRequest,
		call(t, http.MethodPost, srv.URL+"/v1/flows/echo/runs", map[string]any{"colour": "blue"}, &apiErr))
}

func TestServer_InterruptAndResume(t *testing.T) {
	srv := newTestServer(t)

	var out runResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, srv.URL+"/v1/flows/review/runs",
		map[string]any{"session_id": "s1", "input": "v2 ready"}, &out))
	require.Equal(t, graph.StatusInterrupted, out.Status)
	require.NotNil(t, out.Action)
	assert.Empty(t, out.Output)
	actionID := out.Action.ID

	var action graph.ActionRequest
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/v1/flows/review/sessions/s1/action", nil, &action))
	assert.Equal(t, actionID, action.ID)
	assert.Equal(t, "Ship it?", action.Prompt)

	var apiErr errorBody
	assert.Equal(t, http.StatusBadRequest, call(t, http.MethodPost, srv.URL+"/v1/actions/"+actionID+"/resume",
		map[string]any{"flow_id": "review", "session_id": "s1", "decision": "maybe"}, &apiErr))
	assert.Equal(t, http.StatusBadRequest, call(t, http.MethodPost, srv.URL+"/v1/actions/"+actionID+"/resume",
		map[string]any{"decision": "approve"}, &apiErr))

	var resumed runResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, srv.URL+"/v1/actions/"+actionID+"/resume", map[string]any{
		"flow_id": "review", "session_id": "s1", "decision": "approve", "payload": map[string]any{"verdict": "ship"},
	}, &resumed))
	assert.Equal(t, graph.StatusCompleted, resumed.Status)
	assert.Equal(t, "ship", resumed.State["verdict"])

	// The completed run removed its snapshot, so the action is gone.
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodPost, srv.URL+"/v1/actions/"+actionID+"/resume",
		map[string]any{"flow_id": "review", "session_id": "s1", "decision": "approve"}, &apiErr))
	assert.Equal(t, http.StatusNotFound,
		call(t, http.MethodGet, srv.URL+"/v1/flows/review/sessions/s1/action", nil, &apiErr))
}

func TestServer_RunFailureNamesNode(t *testing.T) {
	srv := newTestServer(t)

	var apiErr errorBody
	status := call(t, http.MethodPost, srv.URL+"/v1/flows/fail/runs", map[string]any{"input": "x"}, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, graph.KindSandbox, apiErr.Kind)
	assert.Equal(t, "fn_boom", apiErr.NodeID)
	assert.Equal(t, "boom", apiErr.NodeName)
	assert.Contains(t, apiErr.Error, "boom")
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)
	call(t, http.MethodPost, srv.URL+"/v1/flows/echo/runs", map[string]any{"input": "x"}, nil)

	rsp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer rsp.Body.Close()
	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "seqagent_runs_total")
	assert.Contains(t, string(body), "seqagent_node_executions_total")
}

func TestServer_RegisterTwice(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	g, err := graph.Compile(echoFlow())
	require.NoError(t, err)
	e, err := graph.NewExecutor(g)
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, s.Register(FlowInfo{ID: "a"}, e))
	assert.ErrorIs(t, s.Register(FlowInfo{ID: "a"}, e), ErrFlowExists)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusOf(graph.ErrSnapshotNotFound))
	assert.Equal(t, http.StatusConflict, statusOf(graph.ErrActionNotPending))
	assert.Equal(t, http.StatusNotImplemented, statusOf(graph.ErrNoSnapshotStore))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}
