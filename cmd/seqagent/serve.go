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
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-seqagent-go/flow"
	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/server"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve every flow of a directory over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		addr, _ := cmd.Flags().GetString("addr")
		runTimeout, _ := cmd.Flags().GetDuration("run-timeout")
		origins, _ := cmd.Flags().GetStringSlice("cors-origin")
		maxLoop, _ := cmd.Flags().GetInt("max-loop-iterations")
		isolate, _ := cmd.Flags().GetBool("isolate-tool-errors")

		defs, err := flow.LoadDir(dir)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			return fmt.Errorf("no flows found below %s", dir)
		}
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		opts := []server.Option{server.WithRunTimeout(runTimeout)}
		if len(origins) > 0 {
			opts = append(opts, server.WithAllowedOrigins(origins...))
		}
		srv, err := server.New(opts...)
		if err != nil {
			return err
		}
		execOpts := []graph.Option{graph.WithMaxLoopIterations(maxLoop)}
		if isolate {
			execOpts = append(execOpts, graph.WithToolErrorPolicy(graph.ToolErrorIsolate))
		}
		for _, def := range defs {
			e, err := b.executor(def, execOpts...)
			if err != nil {
				return fmt.Errorf("%s: %w", def.Source, err)
			}
			defer e.Close()
			info := server.FlowInfo{ID: def.ID, Name: def.Name, Description: def.Description}
			if err := srv.Register(info, e); err != nil {
				return err
			}
			log.Infof("seqagent: serving flow %s from %s", def.ID, def.Source)
		}

		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serverErrors := make(chan error, 1)
		go func() {
			log.Infof("seqagent: listening on %s", addr)
			serverErrors <- httpSrv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case sig := <-shutdown:
			log.Infof("seqagent: shutting down on %v", sig)
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				_ = httpSrv.Close()
				return fmt.Errorf("graceful shutdown: %w", err)
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("dir", "./flows", "directory holding flow files")
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Duration("run-timeout", 5*time.Minute, "bound on each run or resume request (0 disables)")
	serveCmd.Flags().StringSlice("cors-origin", nil, "allowed CORS origin, repeatable (all when empty)")
	serveCmd.Flags().Int("max-loop-iterations", graph.DefaultMaxLoopIterations, "loop back-edge cap per run")
	serveCmd.Flags().Bool("isolate-tool-errors", false, "report failing tool calls as tool messages instead of failing the node")
}
