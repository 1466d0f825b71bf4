//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package flow loads sequential-agent flow definitions from YAML files.
//
// A flow file names its models and lists its nodes in declaration order:
//
//	id: support
//	models:
//	  default:
//	    model: gpt-4o-mini
//	nodes:
//	  - kind: start
//	    label: Start
//	  - kind: agent
//	    label: Helper
//	    predecessors: [start]
//	    config:
//	      system_prompt: You are a helpful assistant.
//	  - kind: end
//	    label: End
//	    predecessors: [helper]
package flow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/model/openai"
)

// Pattern matches flow files below a directory.
const Pattern = "**/*.{yaml,yml}"

var (
	// ErrNoNodes is returned for a definition without nodes.
	ErrNoNodes = errors.New("flow has no nodes")
	// ErrDuplicateFlow is returned by LoadDir when two files share an id.
	ErrDuplicateFlow = errors.New("duplicate flow id")
	// ErrUnknownProvider is returned for model providers other than openai.
	ErrUnknownProvider = errors.New("unknown model provider")
)

// ModelSpec describes one model binding of a flow.
type ModelSpec struct {
	// Provider defaults to openai, the only supported provider.
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv   string            `yaml:"api_key_env,omitempty"`
	ToolCalling *bool             `yaml:"tool_calling,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// Definition is a parsed flow file.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	// DefaultModel names the entry of Models used by nodes without a model.
	DefaultModel string               `yaml:"default_model,omitempty"`
	Models       map[string]ModelSpec `yaml:"models,omitempty"`
	Vars         map[string]any       `yaml:"vars,omitempty"`
	Nodes        []graph.NodeConfig   `yaml:"nodes"`
	// Source is the file the definition was read from.
	Source string `yaml:"-"`
}

// Parse decodes a definition. Unknown top-level and node fields are errors.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	def := &Definition{}
	if err := dec.Decode(def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoNodes
		}
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	if len(def.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	if def.DefaultModel != "" {
		if _, ok := def.Models[def.DefaultModel]; !ok {
			return nil, fmt.Errorf("default_model %q is not declared", def.DefaultModel)
		}
	}
	for name, spec := range def.Models {
		if spec.Model == "" {
			return nil, fmt.Errorf("model %q: model is required", name)
		}
	}
	return def, nil
}

// Load reads one flow file. The id defaults to the file name without its
// extension.
func Load(file string) (*Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	def.Source = file
	if def.ID == "" {
		base := filepath.Base(file)
		def.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return def, nil
}

// LoadDir loads every flow file below dir, sorted by id.
func LoadDir(dir string) ([]*Definition, error) {
	return LoadFS(os.DirFS(dir), dir)
}

// LoadFS loads every flow file of fsys. root prefixes the reported sources.
func LoadFS(fsys fs.FS, root string) ([]*Definition, error) {
	matches, err := doublestar.Glob(fsys, Pattern)
	if err != nil {
		return nil, fmt.Errorf("glob flows: %w", err)
	}
	sort.Strings(matches)
	seen := make(map[string]string, len(matches))
	defs := make([]*Definition, 0, len(matches))
	for _, m := range matches {
		data, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, err
		}
		source := filepath.Join(root, filepath.FromSlash(m))
		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		def.Source = source
		if def.ID == "" {
			def.ID = strings.TrimSuffix(path.Base(m), path.Ext(m))
		}
		if prev, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("%w %q in %s and %s", ErrDuplicateFlow, def.ID, prev, source)
		}
		seen[def.ID] = source
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// BuildModels instantiates the declared models.
func (d *Definition) BuildModels() (map[string]model.Model, error) {
	out := make(map[string]model.Model, len(d.Models))
	for name, spec := range d.Models {
		if spec.Provider != "" && spec.Provider != "openai" {
			return nil, fmt.Errorf("model %q: %w %q", name, ErrUnknownProvider, spec.Provider)
		}
		var opts []openai.Option
		if spec.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(spec.BaseURL))
		}
		if spec.APIKeyEnv != "" {
			opts = append(opts, openai.WithAPIKey(os.Getenv(spec.APIKeyEnv)))
		}
		if spec.ToolCalling != nil {
			opts = append(opts, openai.WithToolCalling(*spec.ToolCalling))
		}
		if len(spec.Headers) > 0 {
			opts = append(opts, openai.WithHeaders(spec.Headers))
		}
		out[name] = openai.New(spec.Model, opts...)
	}
	return out, nil
}

// CompileOptions binds models to the compiler. A single declared model is
// the default one. extra models override declared ones of the same name.
func (d *Definition) CompileOptions(extra map[string]model.Model) ([]graph.CompileOption, error) {
	models, err := d.BuildModels()
	if err != nil {
		return nil, err
	}
	for name, m := range extra {
		models[name] = m
	}
	var opts []graph.CompileOption
	for name, m := range models {
		opts = append(opts, graph.WithModel(name, m))
	}
	switch {
	case d.DefaultModel != "":
		opts = append(opts, graph.WithDefaultModel(models[d.DefaultModel]))
	case len(models) == 1:
		for _, m := range models {
			opts = append(opts, graph.WithDefaultModel(m))
		}
	}
	return opts, nil
}

// Compile builds the graph of d.
func (d *Definition) Compile(opts ...graph.CompileOption) (*graph.Graph, error) {
	return graph.Compile(d.Nodes, opts...)
}
