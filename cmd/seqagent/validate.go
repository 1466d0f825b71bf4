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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-seqagent-go/flow"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile flows and report errors",
	Long:  `Compiles every given flow file, or every flow below --dir, and prints the resulting graph.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		files, _ := cmd.Flags().GetStringSlice("file")
		dir, _ := cmd.Flags().GetString("dir")
		quiet, _ := cmd.Flags().GetBool("quiet")

		var defs []*flow.Definition
		if dir != "" {
			loaded, err := flow.LoadDir(dir)
			if err != nil {
				return err
			}
			defs = loaded
		}
		for _, f := range files {
			def, err := flow.Load(f)
			if err != nil {
				return err
			}
			defs = append(defs, def)
		}
		if len(defs) == 0 {
			return errors.New("nothing to validate: pass -f or --dir")
		}

		out := cmd.OutOrStdout()
		var failed int
		for _, def := range defs {
			err := validateDefinition(def, out, quiet)
			if err != nil {
				failed++
				fmt.Fprintf(out, "FAIL %s (%s): %v\n", def.ID, def.Source, err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d flows failed", failed, len(defs))
		}
		return nil
	},
}

func validateDefinition(def *flow.Definition, out io.Writer, quiet bool) error {
	opts, err := def.CompileOptions(nil)
	if err != nil {
		return err
	}
	opts = append(opts, graphTools()...)
	g, err := def.Compile(opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ok   %s (%s)\n", def.ID, def.Source)
	if !quiet {
		fmt.Fprint(out, g.Describe())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringSliceP("file", "f", nil, "flow file, repeatable")
	validateCmd.Flags().String("dir", "", "validate every flow below this directory")
	validateCmd.Flags().BoolP("quiet", "q", false, "do not print the compiled graphs")
}
