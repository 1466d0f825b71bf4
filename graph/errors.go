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
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies engine failures.
type ErrorKind string

// Error kinds.
const (
	KindCompile   ErrorKind = "compile"
	KindRouting   ErrorKind = "routing"
	KindToolError ErrorKind = "tool"
	KindSandbox   ErrorKind = "sandbox"
	KindModel     ErrorKind = "model"
	KindAborted   ErrorKind = "aborted"
	KindNode      ErrorKind = "node"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrCompile = errors.New("compile error")
	ErrRouting = errors.New("routing error")
	ErrTool    = errors.New("tool error")
	ErrSandbox = errors.New("sandbox error")
	ErrModel   = errors.New("model error")
	ErrAborted = errors.New("aborted")
	ErrNode    = errors.New("node error")
)

// Store and resume errors.
var (
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrActionNotPending  = errors.New("action request is not pending")
	ErrActionNotFound    = errors.New("action request not found")
	ErrInvalidDecision   = errors.New("decision must be approve or reject")
	ErrNoSnapshotStore   = errors.New("no snapshot store configured")
	ErrSessionIDRequired = errors.New("session id is required")
)

var kindSentinels = map[ErrorKind]error{
	KindCompile:   ErrCompile,
	KindRouting:   ErrRouting,
	KindToolError: ErrTool,
	KindSandbox:   ErrSandbox,
	KindModel:     ErrModel,
	KindAborted:   ErrAborted,
	KindNode:      ErrNode,
}

// Error is the structured failure returned by Compile, Run and Resume.
type Error struct {
	Kind     ErrorKind
	NodeID   string
	NodeName string
	Message  string
	Err      error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.NodeID != "" || e.NodeName != "" {
		fmt.Fprintf(&b, " at node %s", e.NodeName)
		if e.NodeID != "" && e.NodeID != e.NodeName {
			fmt.Fprintf(&b, " (%s)", e.NodeID)
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind ErrorKind, n *GraphNode, err error, format string, args ...any) *Error {
	e := &Error{Kind: kind, Err: err}
	if format != "" {
		e.Message = fmt.Sprintf(format, args...)
	}
	if n != nil {
		e.NodeID = n.ID
		e.NodeName = n.Name
	}
	return e
}

// asEngineError returns err unchanged when it already is an *Error, otherwise
// wraps it with kind.
func asEngineError(kind ErrorKind, n *GraphNode, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(kind, n, err, "")
}

// ErrorKindOf returns the kind of an engine error, or "" for other errors.
func ErrorKindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
