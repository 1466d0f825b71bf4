//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserve(t *testing.T) {
	before := testutil.ToFloat64(NodeExecutionsTotal.WithLabelValues("agent", StatusError))
	ObserveNode("agent", errors.New("x"), 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(NodeExecutionsTotal.WithLabelValues("agent", StatusError)))

	before = testutil.ToFloat64(ToolCallsTotal.WithLabelValues("lookup", StatusOK))
	ObserveToolCall("lookup", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(ToolCallsTotal.WithLabelValues("lookup", StatusOK)))

	before = testutil.ToFloat64(ModelCallsTotal.WithLabelValues("gpt", StatusOK))
	ObserveModelCall("gpt", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(ModelCallsTotal.WithLabelValues("gpt", StatusOK)))
}
