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
	"os"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/trace"
)

const (
	envStore    = "SEQAGENT_STORE"
	envRedisURL = "SEQAGENT_REDIS_URL"
	envMemory   = "SEQAGENT_MEMORY"
)

var rootCmd = &cobra.Command{
	Use:           "seqagent",
	Short:         "Run sequential-agent flows",
	Long:          `seqagent compiles YAML flow definitions into agent graphs and runs them from the terminal or over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		log.SetLevel(level)
		endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
		if endpoint == "" {
			return nil
		}
		protocol, _ := cmd.Flags().GetString("otlp-protocol")
		clean, err := trace.Start(context.Background(),
			trace.WithEndpoint(endpoint),
			trace.WithProtocol(protocol),
			trace.WithServiceName("seqagent"),
		)
		if err != nil {
			return err
		}
		shutdownTracing = clean
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if shutdownTracing == nil {
			return
		}
		if err := shutdownTracing(); err != nil {
			log.Warnf("seqagent: %v", err)
		}
	},
}

var shutdownTracing func() error

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("otlp-endpoint", "", "export traces to this OTLP endpoint (host:port)")
	flags.String("otlp-protocol", trace.ProtocolGRPC, "OTLP protocol: grpc or http")
	flags.String("store", defaultStore(), "snapshot store: memory, redis://..., sqlite://path")
	flags.String("memory", os.Getenv(envMemory), "conversation memory: memory or redis://... (in-process when empty)")
}

// defaultStore prefers SEQAGENT_STORE, then SEQAGENT_REDIS_URL, and falls
// back to a local SQLite file so that run and resume work across processes.
func defaultStore() string {
	if s := os.Getenv(envStore); s != "" {
		return s
	}
	if s := os.Getenv(envRedisURL); s != "" {
		return s
	}
	return "sqlite://seqagent.db"
}
