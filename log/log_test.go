//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	cases := []struct {
		in       string
		expected zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{LevelFatal, zapcore.FatalLevel},
		{"unknown", zapcore.InfoLevel},
	}
	for _, c := range cases {
		SetLevel(c.in)
		assert.Equal(t, c.expected, zapLevel.Level(), c.in)
	}
}

func TestSetOutputAndFields(t *testing.T) {
	original := Default
	defer func() { Default = original }()

	var buf bytes.Buffer
	SetOutput(&buf)

	ctx := WithFields(context.Background(), "run_id", "r-1")
	ctx = WithFields(ctx, "node", "agent")
	FromContext(ctx).Infof("entered %s", "agent")

	out := buf.String()
	assert.Contains(t, out, "entered agent")
	assert.Contains(t, out, "r-1")
	assert.Contains(t, out, "node")
}

func TestFromContextWithoutFields(t *testing.T) {
	assert.Equal(t, Default, FromContext(context.Background()))
}

type noopLogger struct{}

func (*noopLogger) Debug(args ...any)                 {}
func (*noopLogger) Debugf(format string, args ...any) {}
func (*noopLogger) Info(args ...any)                  {}
func (*noopLogger) Infof(format string, args ...any)  {}
func (*noopLogger) Warn(args ...any)                  {}
func (*noopLogger) Warnf(format string, args ...any)  {}
func (*noopLogger) Error(args ...any)                 {}
func (*noopLogger) Errorf(format string, args ...any) {}
func (*noopLogger) Fatal(args ...any)                 {}
func (*noopLogger) Fatalf(format string, args ...any) {}

func TestCustomLoggerIgnoresFields(t *testing.T) {
	original := Default
	defer func() { Default = original }()
	Default = &noopLogger{}

	ctx := WithFields(context.Background(), "k", "v")
	assert.Equal(t, Default, FromContext(ctx))
	Debug("x")
	Infof("x %d", 1)
	Warn("x")
	Errorf("x")
}
