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
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"trpc.group/trpc-go/trpc-seqagent-go/graph/condition"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
)

// DefaultAgentMaxIterations bounds the tool-calling sub-loop of an Agent.
const DefaultAgentMaxIterations = 10

// CompileOption configures Compile.
type CompileOption func(*compileOptions)

type compileOptions struct {
	models       map[string]model.Model
	defaultModel model.Model
	tools        map[string]tool.Tool
}

// WithModel registers a model under name. Nodes reference it through
// NodeConfig.Model.
func WithModel(name string, m model.Model) CompileOption {
	return func(o *compileOptions) {
		o.models[name] = m
	}
}

// WithDefaultModel sets the model used by model nodes that name none and
// whose Start node names none either.
func WithDefaultModel(m model.Model) CompileOption {
	return func(o *compileOptions) {
		o.defaultModel = m
	}
}

// WithTools registers tools that nodes reference by declared name.
func WithTools(tools ...tool.Tool) CompileOption {
	return func(o *compileOptions) {
		for _, t := range tools {
			o.tools[t.Declaration().Name] = t
		}
	}
}

// Graph is a compiled, immutable node arena. It is safe for concurrent use
// by multiple executors.
type Graph struct {
	nodes  []*GraphNode
	refs   map[string]int
	start  int
	schema *StateSchema
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*GraphNode {
	return g.nodes
}

// Node finds a node by id, name or label.
func (g *Graph) Node(ref string) (*GraphNode, bool) {
	i, ok := g.lookup(ref)
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// StartNode returns the Start node.
func (g *Graph) StartNode() *GraphNode {
	return g.nodes[g.start]
}

// Schema returns the state schema of the graph.
func (g *Graph) Schema() *StateSchema {
	return g.schema
}

func (g *Graph) lookup(ref string) (int, bool) {
	if i, ok := g.refs[ref]; ok {
		return i, true
	}
	i, ok := g.refs[nodeName(ref)]
	return i, ok
}

// resolveDestination maps a routing result to a node index. "End" resolves
// to the End sentinel unless a node is registered under that name.
func (g *Graph) resolveDestination(ref string) (int, bool) {
	if i, ok := g.lookup(ref); ok {
		return i, true
	}
	if strings.EqualFold(strings.TrimSpace(ref), "end") {
		return endIndex, true
	}
	return 0, false
}

// nameOf renders a node index for logs and errors.
func (g *Graph) nameOf(i int) string {
	if i == endIndex {
		return "END"
	}
	return g.nodes[i].Name
}

// Describe renders the nodes and their edges, one node per line.
func (g *Graph) Describe() string {
	var b strings.Builder
	for _, n := range g.nodes {
		fmt.Fprintf(&b, "%s [%s]", n.Name, n.Kind)
		var edges []string
		switch n.Kind {
		case KindCondition, KindConditionAgent:
			for _, r := range n.condRules() {
				edges = append(edges, fmt.Sprintf("%s %s %v: %s", r.Variable, r.Operator, r.Value, g.nameOf(n.destinations[r.Destination])))
			}
			if n.condScript() != "" {
				edges = append(edges, "script")
			}
			edges = append(edges, "else: END")
		case KindEnd:
		default:
			edges = append(edges, g.nameOf(n.next))
			names := make([]string, 0, len(n.toolOwners))
			for name := range n.toolOwners {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				edges = append(edges, fmt.Sprintf("%s: %s", name, g.nameOf(n.toolOwners[name])))
			}
			if n.hasRejectEdge() {
				edges = append(edges, "reject: "+g.nameOf(n.rejectTo))
			}
		}
		if len(edges) > 0 {
			fmt.Fprintf(&b, " -> %s", strings.Join(edges, "; "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (n *GraphNode) condRules() []condition.Rule {
	switch {
	case n.condCfg != nil:
		return n.condCfg.Rules
	case n.modelCfg != nil:
		return n.modelCfg.Rules
	}
	return nil
}

func (n *GraphNode) condScript() string {
	switch {
	case n.condCfg != nil:
		return n.condCfg.Script
	case n.modelCfg != nil:
		return n.modelCfg.Script
	}
	return ""
}

func (n *GraphNode) approval() *ApprovalConfig {
	switch {
	case n.modelCfg != nil && n.Kind == KindAgent:
		return &n.modelCfg.ApprovalConfig
	case n.toolCfg != nil:
		return &n.toolCfg.ApprovalConfig
	}
	return nil
}

func (n *GraphNode) hasRejectEdge() bool {
	if n.Kind == KindHumanInTheLoop {
		return true
	}
	a := n.approval()
	return a != nil && a.RequireApproval
}

// Compile validates configs and assembles the graph. No node runs during
// compilation. Failures are *Error values of kind compile or model.
func Compile(configs []NodeConfig, opts ...CompileOption) (*Graph, error) {
	o := &compileOptions{
		models: make(map[string]model.Model),
		tools:  make(map[string]tool.Tool),
	}
	for _, opt := range opts {
		opt(o)
	}
	c := &compiler{
		opts:  o,
		g:     &Graph{refs: make(map[string]int), start: -1},
		preds: make([][]string, len(configs)),
	}
	for _, step := range []func([]NodeConfig) error{
		c.declare,
		c.link,
		c.bind,
		c.resolveEdges,
		c.checkPrompts,
		c.checkReachability,
		c.buildSchema,
	} {
		if err := step(configs); err != nil {
			return nil, err
		}
	}
	return c.g, nil
}

type compiler struct {
	opts  *compileOptions
	g     *Graph
	preds [][]string
	// modelRefs keeps the declared model name of every node.
	modelRefs []string
}

func compileErr(n *GraphNode, format string, args ...any) error {
	return newError(KindCompile, n, nil, format, args...)
}

func (c *compiler) declare(configs []NodeConfig) error {
	if len(configs) == 0 {
		return compileErr(nil, "graph has no nodes")
	}
	explicit := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if id := strings.TrimSpace(cfg.ID); id != "" {
			explicit[id] = true
		}
	}
	for i, cfg := range configs {
		kind, ok := ParseNodeKind(string(cfg.Kind))
		if !ok {
			return newError(KindCompile, nil, nil, "node %q: unknown kind %q", cfg.ID, cfg.Kind)
		}
		id := strings.TrimSpace(cfg.ID)
		if id == "" {
			id = generatedID(kind, i, explicit)
		}
		label := strings.TrimSpace(cfg.Label)
		if label == "" {
			label = id
		}
		n := &GraphNode{
			Index:    i,
			ID:       id,
			Name:     nodeName(label),
			Label:    label,
			Kind:     kind,
			Output:   cfg.Output,
			next:     endIndex,
			rejectTo: endIndex,
			loopTo:   endIndex,
			llm:      endIndex,
		}
		if n.Name == "" {
			return compileErr(n, "node name is empty")
		}
		for _, ref := range []string{n.ID, n.Name} {
			if other, dup := c.g.refs[ref]; dup && other != i {
				return compileErr(n, "duplicate node name or id %q (also used by %s)", ref, c.g.nodes[other].ID)
			}
			c.g.refs[ref] = i
		}
		if err := decodeNodeConfig(n, cfg.Config); err != nil {
			return compileErr(n, "invalid config: %v", err)
		}
		if kind == KindStart {
			if c.g.start >= 0 {
				return compileErr(n, "more than one start node")
			}
			c.g.start = i
		}
		c.g.nodes = append(c.g.nodes, n)
		c.preds[i] = cfg.Predecessors
		c.modelRefs = append(c.modelRefs, strings.TrimSpace(cfg.Model))
	}
	if c.g.start < 0 {
		return compileErr(nil, "graph has no start node")
	}
	return nil
}

// generatedID derives the id of a node declared without one from its kind
// and position, so that recompiling the same configs yields the same ids and
// stored snapshots keep pointing at their node.
func generatedID(kind NodeKind, index int, taken map[string]bool) string {
	id := fmt.Sprintf("%s_%d", kind, index)
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("%s_%d_%d", kind, index, n)
	}
	taken[id] = true
	return id
}

func decodeNodeConfig(n *GraphNode, raw map[string]any) error {
	var target any
	switch n.Kind {
	case KindStart:
		n.start = &StartConfig{}
		target = n.start
	case KindAgent, KindLLM, KindConditionAgent:
		n.modelCfg = &ModelNodeConfig{}
		target = n.modelCfg
	case KindCondition:
		n.condCfg = &ConditionConfig{}
		target = n.condCfg
	case KindTool:
		n.toolCfg = &ToolNodeConfig{}
		target = n.toolCfg
	case KindFunction:
		n.fnCfg = &FunctionConfig{}
		target = n.fnCfg
	case KindLoop:
		n.loopCfg = &LoopConfig{}
		target = n.loopCfg
	case KindHumanInTheLoop:
		n.hitlCfg = &HITLConfig{}
		target = n.hitlCfg
	case KindEnd:
		if len(raw) > 0 {
			return fmt.Errorf("end nodes take no config")
		}
		return nil
	}
	if len(raw) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           target,
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(raw); err != nil {
			return err
		}
	}
	return validateNodeConfig(n)
}

func validateNodeConfig(n *GraphNode) error {
	switch n.Kind {
	case KindStart:
		for _, f := range n.start.State {
			if f.Key == "" {
				return fmt.Errorf("state field without key")
			}
			if f.Key == StateKeyMessages || f.Key == StateKeyForm {
				return fmt.Errorf("state field %q is reserved", f.Key)
			}
			if _, err := reducerByName(f.Reducer); err != nil {
				return fmt.Errorf("state field %q: %w", f.Key, err)
			}
		}
	case KindAgent, KindLLM, KindConditionAgent:
		cfg := n.modelCfg
		if n.Kind == KindAgent && cfg.MaxIterations <= 0 {
			cfg.MaxIterations = DefaultAgentMaxIterations
		}
		if n.Kind != KindAgent && cfg.RequireApproval {
			return fmt.Errorf("require_approval is only supported on agent and tool nodes")
		}
		if n.Kind == KindLLM && len(cfg.Tools) > 0 {
			return fmt.Errorf("llm nodes take their tools from connected tool nodes")
		}
		if n.Kind != KindConditionAgent && (len(cfg.Rules) > 0 || cfg.Script != "") {
			return fmt.Errorf("rules and script are only supported on condition nodes")
		}
		if n.Kind == KindConditionAgent && cfg.UpdateStateConfig.enabled() {
			return fmt.Errorf("condition agents cannot update state")
		}
		for _, f := range cfg.StructuredOutput {
			if err := validateOutputField(f); err != nil {
				return err
			}
		}
		if len(cfg.UpdateState) > 0 && cfg.UpdateStateCode != "" {
			return fmt.Errorf("update_state and update_state_code are exclusive")
		}
	case KindTool:
		if len(n.toolCfg.Tools) == 0 {
			return fmt.Errorf("tools must not be empty")
		}
		if len(n.toolCfg.UpdateState) > 0 && n.toolCfg.UpdateStateCode != "" {
			return fmt.Errorf("update_state and update_state_code are exclusive")
		}
	case KindFunction:
		if strings.TrimSpace(n.fnCfg.Code) == "" {
			return fmt.Errorf("code is required")
		}
		switch n.fnCfg.ReturnAs {
		case "":
			n.fnCfg.ReturnAs = ReturnAsAI
		case ReturnAsAI, ReturnAsHuman, ReturnAsState:
		default:
			return fmt.Errorf("return_as must be ai, human or state, got %q", n.fnCfg.ReturnAs)
		}
	case KindLoop:
		if strings.TrimSpace(n.loopCfg.LoopTo) == "" {
			return fmt.Errorf("loop_to is required")
		}
	}
	return nil
}

func validateOutputField(f OutputField) error {
	if f.Key == "" {
		return fmt.Errorf("structured output field without key")
	}
	switch f.Type {
	case OutputString, OutputStringArray, OutputNumber, OutputBoolean:
	case OutputEnum:
		if len(f.EnumValues) == 0 {
			return fmt.Errorf("structured output field %q: enum_values required", f.Key)
		}
	default:
		return fmt.Errorf("structured output field %q: unknown type %q", f.Key, f.Type)
	}
	return nil
}

func (c *compiler) link(_ []NodeConfig) error {
	for i, n := range c.g.nodes {
		refs := c.preds[i]
		if n.Kind == KindStart {
			if len(refs) > 0 {
				return compileErr(n, "start node cannot have predecessors")
			}
			continue
		}
		if len(refs) == 0 {
			return compileErr(n, "node has no predecessor")
		}
		for _, ref := range refs {
			p, ok := c.g.lookup(ref)
			if !ok {
				return compileErr(n, "predecessor %q not found", ref)
			}
			if p == i {
				return compileErr(n, "node cannot be its own predecessor")
			}
			if containsIndex(n.Predecessors, p) {
				continue
			}
			n.Predecessors = append(n.Predecessors, p)
			pred := c.g.nodes[p]
			pred.Successors = append(pred.Successors, i)
		}
	}
	return nil
}

func containsIndex(list []int, i int) bool {
	for _, x := range list {
		if x == i {
			return true
		}
	}
	return false
}

func (c *compiler) bind(_ []NodeConfig) error {
	startModel := c.modelRefs[c.g.start]
	for i, n := range c.g.nodes {
		if n.Kind.callsModel() {
			name := c.modelRefs[i]
			if name == "" {
				name = startModel
			}
			var m model.Model
			if name != "" {
				var ok bool
				if m, ok = c.opts.models[name]; !ok {
					return compileErr(n, "model %q is not registered", name)
				}
			} else {
				m = c.opts.defaultModel
			}
			if m == nil {
				return compileErr(n, "no model bound")
			}
			if name == "" {
				name = m.Info().Name
			}
			n.Model, n.ModelName = m, name
		}
		switch n.Kind {
		case KindAgent:
			tools, err := c.resolveTools(n, n.modelCfg.Tools)
			if err != nil {
				return err
			}
			n.Tools = tools
		case KindTool:
			tools, err := c.resolveTools(n, n.toolCfg.Tools)
			if err != nil {
				return err
			}
			n.Tools = tools
			if len(n.Predecessors) != 1 || c.g.nodes[n.Predecessors[0]].Kind != KindLLM {
				return compileErr(n, "tool node must have exactly one llm node predecessor")
			}
		}
	}
	// Tool nodes lend their tools to their LLM node.
	for _, n := range c.g.nodes {
		if n.Kind != KindTool {
			continue
		}
		llm := c.g.nodes[n.Predecessors[0]]
		n.llm = llm.Index
		if llm.toolOwners == nil {
			llm.toolOwners = make(map[string]int)
		}
		for _, t := range n.Tools {
			name := t.Declaration().Name
			if owner, dup := llm.toolOwners[name]; dup {
				return compileErr(n, "tool %q is already served by node %s", name, c.g.nodes[owner].Name)
			}
			llm.toolOwners[name] = n.Index
			llm.Tools = append(llm.Tools, t)
		}
	}
	for _, n := range c.g.nodes {
		if !n.Kind.callsModel() {
			continue
		}
		needsToolCalling := len(n.Tools) > 0 || len(n.modelCfg.StructuredOutput) > 0
		if needsToolCalling && !n.Model.Info().ToolCalling {
			return newError(KindModel, n, nil, "model %q does not support tool calling", n.ModelName)
		}
	}
	return nil
}

func (c *compiler) resolveTools(n *GraphNode, names []string) ([]tool.Tool, error) {
	out := make([]tool.Tool, 0, len(names))
	n.toolIndex = make(map[string]tool.Tool, len(names))
	for _, name := range names {
		t, ok := c.opts.tools[name]
		if !ok {
			return nil, compileErr(n, "tool %q is not registered", name)
		}
		if _, ok := t.(tool.CallableTool); !ok {
			return nil, compileErr(n, "tool %q is not callable", name)
		}
		if _, dup := n.toolIndex[name]; dup {
			continue
		}
		n.toolIndex[name] = t
		out = append(out, t)
	}
	return out, nil
}

func (c *compiler) resolveEdges(_ []NodeConfig) error {
	g := c.g
	for _, n := range g.nodes {
		var ordinary []int
		for _, s := range n.Successors {
			if n.Kind == KindLLM && g.nodes[s].Kind == KindTool {
				continue
			}
			ordinary = append(ordinary, s)
		}
		switch n.Kind {
		case KindCondition, KindConditionAgent:
			rules, script := n.condRules(), n.condScript()
			if len(rules) == 0 && strings.TrimSpace(script) == "" {
				return compileErr(n, "condition needs rules or a script")
			}
			if err := condition.Validate(rules); err != nil {
				return compileErr(n, "%v", err)
			}
			n.destinations = make(map[string]int, len(rules))
			for _, r := range rules {
				d, ok := g.resolveDestination(r.Destination)
				if !ok {
					return compileErr(n, "condition destination %q not found", r.Destination)
				}
				n.destinations[r.Destination] = d
			}
			continue
		case KindEnd:
			if len(n.Successors) > 0 {
				return compileErr(n, "end node cannot have successors")
			}
			continue
		case KindLoop:
			if len(n.Successors) > 0 {
				return compileErr(n, "loop node cannot have successors")
			}
			target, ok := g.lookup(n.loopCfg.LoopTo)
			if !ok {
				return compileErr(n, "loop target %q not found", n.loopCfg.LoopTo)
			}
			switch g.nodes[target].Kind {
			case KindStart, KindLoop, KindEnd:
				return compileErr(n, "loop target %q must not be a %s node", n.loopCfg.LoopTo, g.nodes[target].Kind)
			}
			n.loopTo, n.next = target, target
			continue
		}
		switch len(ordinary) {
		case 0:
			switch {
			case n.Kind == KindTool:
				n.next = n.llm
			case n.Kind == KindLLM && len(n.toolOwners) > 0:
				n.next = endIndex
			default:
				return compileErr(n, "node has no successor; connect it to an end or loop node")
			}
		case 1:
			n.next = ordinary[0]
		default:
			return compileErr(n, "node has %d successors; only condition nodes may branch", len(ordinary))
		}
		var rejectRef string
		switch {
		case n.Kind == KindHumanInTheLoop:
			rejectRef = n.hitlCfg.RejectTo
		case n.approval() != nil:
			rejectRef = n.approval().RejectTo
		}
		if rejectRef != "" {
			d, ok := g.resolveDestination(rejectRef)
			if !ok {
				return compileErr(n, "reject destination %q not found", rejectRef)
			}
			n.rejectTo = d
		}
	}
	return nil
}

func (c *compiler) checkPrompts(_ []NodeConfig) error {
	for _, n := range c.g.nodes {
		if n.modelCfg == nil {
			continue
		}
		cfg := n.modelCfg
		for _, tpl := range []string{cfg.SystemPrompt, cfg.HumanPrompt} {
			for _, name := range placeholders(tpl) {
				if _, ok := cfg.PromptValues[name]; !ok {
					return compileErr(n, "prompt variable {%s} has no value", name)
				}
			}
		}
	}
	return nil
}

// siblingOwner returns the other Tool node of n's LLM node that serves the
// named tool, or -1.
func (g *Graph) siblingOwner(n *GraphNode, name string) int {
	if n.llm == endIndex {
		return -1
	}
	owner, ok := g.nodes[n.llm].toolOwners[name]
	if !ok || owner == n.Index {
		return -1
	}
	return owner
}

// toolHandoff picks where Tool node n goes after its calls: the owner of the
// first call still unanswered, or n's own successor.
func (g *Graph) toolHandoff(n *GraphNode, calls []model.ToolCall, answered map[string]bool) int {
	for _, call := range calls {
		if answered[call.ID] {
			continue
		}
		if owner := g.siblingOwner(n, call.Function.Name); owner >= 0 {
			return owner
		}
	}
	return n.next
}

// edges lists every destination a node can hand control to.
func (g *Graph) edges(n *GraphNode) []int {
	var out []int
	switch n.Kind {
	case KindEnd:
		return []int{endIndex}
	case KindCondition, KindConditionAgent:
		out = append(out, endIndex)
		for _, d := range n.destinations {
			out = append(out, d)
		}
		// Scripts may name any successor.
		out = append(out, n.Successors...)
		return out
	}
	out = append(out, n.next)
	for _, owner := range n.toolOwners {
		out = append(out, owner)
	}
	if n.Kind == KindTool && n.llm != endIndex {
		for _, owner := range g.nodes[n.llm].toolOwners {
			if owner != n.Index {
				out = append(out, owner)
			}
		}
	}
	if n.hasRejectEdge() {
		out = append(out, n.rejectTo)
	}
	return out
}

func (c *compiler) checkReachability(_ []NodeConfig) error {
	g := c.g
	reaches := make([]bool, len(g.nodes))
	for changed := true; changed; {
		changed = false
		for i, n := range g.nodes {
			if reaches[i] {
				continue
			}
			for _, d := range g.edges(n) {
				if d == endIndex || reaches[d] {
					reaches[i], changed = true, true
					break
				}
			}
		}
	}
	for i, ok := range reaches {
		if !ok {
			return compileErr(g.nodes[i], "node cannot reach end")
		}
	}
	return nil
}

func (c *compiler) buildSchema(_ []NodeConfig) error {
	schema := NewStateSchema()
	schema.AddField(StateKeyForm, StateField{Reducer: ReplaceReducer})
	for _, f := range c.g.StartNode().start.State {
		reducer, _ := reducerByName(f.Reducer)
		def := f.Default
		if def == nil && f.Reducer == ReducerAppend {
			def = []any{}
		}
		field := StateField{Reducer: reducer}
		if def != nil {
			field.Default = func() any { return copyValue(def) }
		}
		schema.AddField(f.Key, field)
	}
	c.g.schema = schema
	return nil
}

// copyValue deep-copies JSON-like containers.
func copyValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
