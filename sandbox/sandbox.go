//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sandbox defines the contract for running user-authored scripts
// (custom functions, routing scripts, update-state code) in isolation.
//
// A script sees only the bindings it is given: the flow view bound as
// "$flow", user variables as "$vars", and any declared input variables.
// It has no filesystem, network or process access, and is interrupted when
// its time budget runs out or the context is cancelled.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Defaults applied when the matching Limits field is zero.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxMemory      = 256 << 20
	DefaultMaxStringBytes = 16 << 20
	DefaultMaxCallStack   = 200
)

var (
	// ErrTimeout is returned when a script exceeds its time budget.
	ErrTimeout = errors.New("sandbox: script timed out")
	// ErrDisallowed is returned when a script reaches for a capability the
	// sandbox does not expose.
	ErrDisallowed = errors.New("sandbox: operation not allowed")
	// ErrAborted is returned when the run context is cancelled.
	ErrAborted = errors.New("sandbox: aborted")
	// ErrMemoryLimit is returned when a script allocates past its budget.
	ErrMemoryLimit = errors.New("sandbox: memory limit exceeded")
)

// Limits bounds a script run.
type Limits struct {
	Timeout time.Duration
	// MaxCallStack caps interpreter call depth where supported.
	MaxCallStack int
	// MaxMemory caps heap growth in bytes while the script runs.
	MaxMemory uint64
	// MaxStringBytes caps the size of a single string built by the script.
	MaxStringBytes int
}

// Runtime executes a script source against a set of bindings and returns its
// result as a JSON-like value (nil, bool, float64, string, []any,
// map[string]any).
type Runtime interface {
	Run(ctx context.Context, source string, bindings map[string]any, limits Limits) (any, error)
}

// Language identifies a script runtime.
type Language string

// Supported languages.
const (
	LanguageLua Language = "lua"
	LanguageCEL Language = "cel"
)

// EffectiveTimeout returns the configured timeout or DefaultTimeout.
func (l Limits) EffectiveTimeout() time.Duration {
	if l.Timeout <= 0 {
		return DefaultTimeout
	}
	return l.Timeout
}

// EffectiveMaxMemory returns the configured memory budget or DefaultMaxMemory.
func (l Limits) EffectiveMaxMemory() uint64 {
	if l.MaxMemory == 0 {
		return DefaultMaxMemory
	}
	return l.MaxMemory
}

// EffectiveMaxStringBytes returns the configured string cap or
// DefaultMaxStringBytes.
func (l Limits) EffectiveMaxStringBytes() int {
	if l.MaxStringBytes <= 0 {
		return DefaultMaxStringBytes
	}
	return l.MaxStringBytes
}

// EffectiveMaxCallStack returns the configured call depth or
// DefaultMaxCallStack.
func (l Limits) EffectiveMaxCallStack() int {
	if l.MaxCallStack <= 0 {
		return DefaultMaxCallStack
	}
	return l.MaxCallStack
}

// Registry maps languages to runtimes.
type Registry map[Language]Runtime

// Get returns the runtime for lang, falling back to def when lang is empty.
func (r Registry) Get(lang, def Language) (Runtime, bool) {
	if lang == "" {
		lang = def
	}
	rt, ok := r[lang]
	return rt, ok
}

// ClassifyContextErr maps a finished context to a sandbox sentinel.
// parentErr is the caller's context error, used to tell an abort from
// a timeout.
func ClassifyContextErr(parentErr, runErr error) error {
	if parentErr != nil {
		return ErrAborted
	}
	if errors.Is(runErr, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return nil
}
