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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-seqagent-go/flow"
	"trpc.group/trpc-go/trpc-seqagent-go/graph"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a flow once",
	Long:  `Runs a flow file with the given input. A run that reaches a human-in-the-loop or approval step prints its action id and exits; continue it with "seqagent resume".`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, _ := cmd.Flags().GetString("file")
		input, _ := cmd.Flags().GetString("input")
		session, _ := cmd.Flags().GetString("session")
		formJSON, _ := cmd.Flags().GetString("form")
		vars, _ := cmd.Flags().GetStringToString("var")
		raw, _ := cmd.Flags().GetBool("raw")

		var form map[string]any
		if formJSON != "" {
			if err := json.Unmarshal([]byte(formJSON), &form); err != nil {
				return fmt.Errorf("--form: %w", err)
			}
		}
		def, err := flow.Load(file)
		if err != nil {
			return err
		}
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()
		e, err := b.executor(def)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		cfg := graph.RunConfig{FlowID: def.ID, SessionID: session, Input: input, Form: form}
		if len(vars) > 0 {
			cfg.Vars = make(map[string]any, len(vars))
			for k, v := range vars {
				cfg.Vars[k] = v
			}
		}
		res, err := e.Run(ctx, cfg)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res, raw)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Answer a pending action and continue the run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, _ := cmd.Flags().GetString("file")
		session, _ := cmd.Flags().GetString("session")
		action, _ := cmd.Flags().GetString("action")
		decision, _ := cmd.Flags().GetString("decision")
		payloadJSON, _ := cmd.Flags().GetString("payload")
		raw, _ := cmd.Flags().GetBool("raw")

		var payload map[string]any
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("--payload: %w", err)
			}
		}
		def, err := flow.Load(file)
		if err != nil {
			return err
		}
		b, err := openBackend(cmd)
		if err != nil {
			return err
		}
		defer b.Close()
		e, err := b.executor(def)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		res, err := e.Resume(ctx, graph.ResumeCommand{
			ActionRequestID: action,
			FlowID:          def.ID,
			SessionID:       session,
			Decision:        graph.Decision(decision),
			Payload:         payload,
		})
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res, raw)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, resumeCmd)

	runCmd.Flags().StringP("file", "f", "", "flow file")
	runCmd.Flags().StringP("input", "i", "", "chat input")
	runCmd.Flags().StringP("session", "s", "", "session id (generated when empty)")
	runCmd.Flags().String("form", "", "form input as a JSON object")
	runCmd.Flags().StringToString("var", nil, "run variable, repeatable: --var key=value")
	runCmd.Flags().Bool("raw", false, "print the answer without markdown rendering")
	_ = runCmd.MarkFlagRequired("file")

	resumeCmd.Flags().StringP("file", "f", "", "flow file")
	resumeCmd.Flags().StringP("session", "s", "", "session id")
	resumeCmd.Flags().StringP("action", "a", "", "action request id (the pending action of the session when empty)")
	resumeCmd.Flags().StringP("decision", "d", "approve", "approve or reject")
	resumeCmd.Flags().StringP("payload", "p", "", "payload as a JSON object")
	resumeCmd.Flags().Bool("raw", false, "print the answer without markdown rendering")
	_ = resumeCmd.MarkFlagRequired("file")
	_ = resumeCmd.MarkFlagRequired("session")
}
