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
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-seqagent-go/flow"
	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/graph/checkpoint/inmemory"
	redisstore "trpc.group/trpc-go/trpc-seqagent-go/graph/checkpoint/redis"
	"trpc.group/trpc-go/trpc-seqagent-go/graph/checkpoint/sqlite"
	"trpc.group/trpc-go/trpc-seqagent-go/memory"
	meminmemory "trpc.group/trpc-go/trpc-seqagent-go/memory/inmemory"
	memredis "trpc.group/trpc-go/trpc-seqagent-go/memory/redis"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
	"trpc.group/trpc-go/trpc-seqagent-go/tool/function"
)

// backend holds the shared collaborators of every executor of a process.
type backend struct {
	store   graph.SnapshotStore
	memory  memory.Service
	closers []func() error
}

func openBackend(cmd *cobra.Command) (*backend, error) {
	storeURI, _ := cmd.Flags().GetString("store")
	memoryURI, _ := cmd.Flags().GetString("memory")
	b := &backend{}
	if err := b.openStore(storeURI); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openMemory(memoryURI); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backend) openStore(uri string) error {
	switch {
	case uri == "" || uri == "memory":
		b.store = inmemory.NewStore()
	case strings.HasPrefix(uri, "redis://"), strings.HasPrefix(uri, "rediss://"):
		s, err := redisstore.NewStore(redisstore.WithRedisClientURL(uri))
		if err != nil {
			return fmt.Errorf("open redis store: %w", err)
		}
		b.store = s
		b.closers = append(b.closers, s.Close)
	case strings.HasPrefix(uri, "sqlite://"):
		db, err := sql.Open("sqlite3", strings.TrimPrefix(uri, "sqlite://"))
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		s, err := sqlite.NewStore(db)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		b.store = s
	default:
		return fmt.Errorf("unsupported store %q", uri)
	}
	return nil
}

func (b *backend) openMemory(uri string) error {
	switch {
	case uri == "" || uri == "memory":
		b.memory = meminmemory.NewService()
	case strings.HasPrefix(uri, "redis://"), strings.HasPrefix(uri, "rediss://"):
		s, err := memredis.NewService(memredis.WithRedisClientURL(uri))
		if err != nil {
			return fmt.Errorf("open redis memory: %w", err)
		}
		b.memory = s
		b.closers = append(b.closers, s.Close)
	default:
		return fmt.Errorf("unsupported memory %q", uri)
	}
	return nil
}

// Close releases the backends in reverse order of opening.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			fmt.Printf("close backend: %v\n", err)
		}
	}
	b.closers = nil
}

// executor compiles def and wires it to the backend.
func (b *backend) executor(def *flow.Definition, opts ...graph.Option) (*graph.Executor, error) {
	compileOpts, err := def.CompileOptions(nil)
	if err != nil {
		return nil, err
	}
	compileOpts = append(compileOpts, graphTools()...)
	g, err := def.Compile(compileOpts...)
	if err != nil {
		return nil, err
	}
	base := []graph.Option{
		graph.WithSnapshotStore(b.store),
		graph.WithMemory(b.memory),
		graph.WithVars(def.Vars),
	}
	return graph.NewExecutor(g, append(base, opts...)...)
}

type clockInput struct {
	// Timezone is an IANA name such as Europe/Paris; UTC when empty.
	Timezone string `json:"timezone,omitempty"`
}

type clockOutput struct {
	Time     string `json:"time"`
	Weekday  string `json:"weekday"`
	Timezone string `json:"timezone"`
}

// graphTools registers the builtin tools with the compiler.
func graphTools() []graph.CompileOption {
	return []graph.CompileOption{graph.WithTools(builtinTools()...)}
}

// builtinTools are available to every flow run by the CLI.
func builtinTools() []tool.Tool {
	return []tool.Tool{
		function.NewFunctionTool(func(_ context.Context, in clockInput) (clockOutput, error) {
			loc := time.UTC
			if in.Timezone != "" {
				l, err := time.LoadLocation(in.Timezone)
				if err != nil {
					return clockOutput{}, err
				}
				loc = l
			}
			now := time.Now().In(loc)
			return clockOutput{Time: now.Format(time.RFC3339), Weekday: now.Weekday().String(), Timezone: loc.String()}, nil
		},
			function.WithName("current_time"),
			function.WithDescription("Returns the current date and time, optionally in an IANA timezone."),
		),
	}
}
