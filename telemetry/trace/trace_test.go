//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracesEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "custom-trace:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic:4317")
	assert.Equal(t, "custom-trace:4317", tracesEndpoint(ProtocolGRPC))

	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	assert.Equal(t, "generic:4317", tracesEndpoint(ProtocolGRPC))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", tracesEndpoint(ProtocolGRPC))
	assert.Equal(t, "localhost:4318", tracesEndpoint(ProtocolHTTP))
}

func TestParseEndpointURL(t *testing.T) {
	endpoint, p, err := parseEndpointURL("http://localhost:3000/api/public/otel")
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", endpoint)
	assert.Equal(t, "/api/public/otel", p)

	endpoint, p, err = parseEndpointURL("collector:4318")
	require.NoError(t, err)
	assert.Equal(t, "collector:4318", endpoint)
	assert.Equal(t, "/", p)

	_, _, err = parseEndpointURL("http://")
	assert.Error(t, err)
}

func TestStartSpanAndEndSpan(t *testing.T) {
	prevProvider, prevTracer := TracerProvider, Tracer
	t.Cleanup(func() { TracerProvider, Tracer = prevProvider, prevTracer })

	rec := tracetest.NewSpanRecorder()
	Use(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := StartSpan(context.Background(), OperationExecuteNode, "agent", attribute.String(KeyNodeKind, "agent"))
	EndSpan(span, errors.New("boom"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "execute_node agent", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}
