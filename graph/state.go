//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graph compiles declared node configurations into a directed graph
// over a shared run state and executes it: one node at a time, following
// routing decisions until the End sentinel, a suspension point, an error or
// an abort.
package graph

import (
	"fmt"

	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
)

// Reserved state keys.
const (
	// StateKeyMessages holds the conversation as []model.Message.
	StateKeyMessages = "messages"
	// StateKeyForm holds structured form input given to Start.
	StateKeyForm = "form"
)

// Reducer names accepted in Start node state declarations.
const (
	ReducerReplace = "replace"
	ReducerAppend  = "append"
)

// State is the run-scoped record threaded through every node.
type State map[string]any

// Clone returns a shallow copy. Values are shared with s.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// Messages returns the conversation held by s.
func (s State) Messages() []model.Message {
	msgs, _ := s[StateKeyMessages].([]model.Message)
	return msgs
}

// Overwrite wraps an update value that must replace the current value
// regardless of the field's reducer.
type Overwrite struct {
	Value any
}

// StateReducer merges an update into the existing value of a field.
type StateReducer func(existing, update any) any

// StateField declares the merge policy and default of one state field.
type StateField struct {
	Reducer StateReducer
	Default func() any
}

// StateSchema maps field names to their declarations. Keys without a
// declaration use ReplaceReducer. A schema is immutable once the graph is
// compiled.
type StateSchema struct {
	Fields map[string]StateField
}

// NewStateSchema creates a schema holding the messages field.
func NewStateSchema() *StateSchema {
	s := &StateSchema{Fields: make(map[string]StateField)}
	s.AddField(StateKeyMessages, StateField{
		Reducer: MessageReducer,
		Default: func() any { return []model.Message{} },
	})
	return s
}

// AddField declares a field. A nil reducer means replace.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	if field.Reducer == nil {
		field.Reducer = ReplaceReducer
	}
	s.Fields[name] = field
	return s
}

// Initial returns a state holding the default of every declared field.
func (s *StateSchema) Initial() State {
	st := make(State, len(s.Fields))
	for name, f := range s.Fields {
		if f.Default != nil {
			st[name] = f.Default()
		}
	}
	return st
}

// Merge applies update to current and returns the new state. current is not
// modified; fields absent from update keep their values by reference.
func (s *StateSchema) Merge(current, update State) State {
	if len(update) == 0 {
		return current
	}
	result := current.Clone()
	for key, value := range update {
		if ow, ok := value.(Overwrite); ok {
			result[key] = ow.Value
			continue
		}
		field, ok := s.Fields[key]
		if !ok {
			result[key] = value
			continue
		}
		existing, has := result[key]
		if !has && field.Default != nil {
			existing = field.Default()
		}
		result[key] = field.Reducer(existing, value)
	}
	return result
}

// ReplaceReducer overwrites the existing value with the update.
func ReplaceReducer(_, update any) any {
	return update
}

// AppendReducer concatenates sequences. A non-slice update is appended as a
// single element. The result never shares a backing array with existing.
func AppendReducer(existing, update any) any {
	var base []any
	switch e := existing.(type) {
	case nil:
	case []any:
		base = e
	default:
		base = []any{e}
	}
	var tail []any
	switch u := update.(type) {
	case nil:
	case []any:
		tail = u
	default:
		tail = []any{u}
	}
	out := make([]any, 0, len(base)+len(tail))
	out = append(out, base...)
	return append(out, tail...)
}

// MessageReducer appends messages in the order they were produced. The
// update may be a []model.Message or a single model.Message.
func MessageReducer(existing, update any) any {
	base, _ := existing.([]model.Message)
	var tail []model.Message
	switch u := update.(type) {
	case nil:
	case []model.Message:
		tail = u
	case model.Message:
		tail = []model.Message{u}
	default:
		log.Warnf("graph: ignoring messages update of type %T", update)
	}
	out := make([]model.Message, 0, len(base)+len(tail))
	out = append(out, base...)
	return append(out, tail...)
}

func reducerByName(name string) (StateReducer, error) {
	switch name {
	case "", ReducerReplace:
		return ReplaceReducer, nil
	case ReducerAppend:
		return AppendReducer, nil
	default:
		return nil, fmt.Errorf("unknown reducer %q", name)
	}
}
