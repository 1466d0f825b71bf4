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
	"strings"

	"trpc.group/trpc-go/trpc-seqagent-go/graph/condition"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/sandbox"
	"trpc.group/trpc-go/trpc-seqagent-go/tool"
)

// NodeKind is the closed set of node behaviors.
type NodeKind string

// Node kinds.
const (
	KindStart          NodeKind = "start"
	KindAgent          NodeKind = "agent"
	KindCondition      NodeKind = "condition"
	KindConditionAgent NodeKind = "conditionAgent"
	KindLLM            NodeKind = "llm"
	KindTool           NodeKind = "tool"
	KindFunction       NodeKind = "customFunction"
	KindLoop           NodeKind = "loop"
	KindHumanInTheLoop NodeKind = "humanInTheLoop"
	KindEnd            NodeKind = "end"
)

var nodeKindAliases = map[string]NodeKind{
	"start":             KindStart,
	"agent":             KindAgent,
	"condition":         KindCondition,
	"conditionagent":    KindConditionAgent,
	"condition_agent":   KindConditionAgent,
	"llm":               KindLLM,
	"llmnode":           KindLLM,
	"tool":              KindTool,
	"toolnode":          KindTool,
	"customfunction":    KindFunction,
	"function":          KindFunction,
	"loop":              KindLoop,
	"humanintheloop":    KindHumanInTheLoop,
	"human_in_the_loop": KindHumanInTheLoop,
	"hitl":              KindHumanInTheLoop,
	"end":               KindEnd,
}

// ParseNodeKind resolves a kind name case-insensitively.
func ParseNodeKind(s string) (NodeKind, bool) {
	k, ok := nodeKindAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// callsModel reports whether nodes of kind k invoke a model.
func (k NodeKind) callsModel() bool {
	return k == KindAgent || k == KindLLM || k == KindConditionAgent
}

// routes reports whether nodes of kind k choose among several destinations.
func (k NodeKind) routes() bool {
	return k == KindCondition || k == KindConditionAgent
}

// NodeConfig is the declared, uncompiled form of a node.
type NodeConfig struct {
	// ID identifies the node; generated when empty.
	ID string `json:"id" yaml:"id" mapstructure:"id"`
	// Kind selects the node behavior.
	Kind NodeKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	// Label is the human name; the node name is derived from it.
	Label string `json:"label" yaml:"label" mapstructure:"label"`
	// Predecessors reference earlier nodes by id, name or label.
	Predecessors []string `json:"predecessors,omitempty" yaml:"predecessors,omitempty" mapstructure:"predecessors"`
	// Output is the declared output edge name.
	Output string `json:"output,omitempty" yaml:"output,omitempty" mapstructure:"output"`
	// Model names the model bound to the node.
	Model string `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	// Config holds kind specific settings, decoded at compile time.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty" mapstructure:"config"`
}

// StartConfig configures a Start node.
type StartConfig struct {
	// State declares custom state fields.
	State []StateFieldConfig `mapstructure:"state"`
	// Memory preloads session history and stores the new turn on completion.
	Memory bool `mapstructure:"memory"`
	// PersistState folds the custom fields of the last run of the session in.
	PersistState bool `mapstructure:"persist_state"`
}

// StateFieldConfig declares one custom state field.
type StateFieldConfig struct {
	Key     string `mapstructure:"key"`
	Reducer string `mapstructure:"reducer"`
	Default any    `mapstructure:"default"`
}

// OutputField is one key of a structured output schema.
type OutputField struct {
	Key         string   `mapstructure:"key"`
	Type        string   `mapstructure:"type"`
	EnumValues  []string `mapstructure:"enum_values"`
	Description string   `mapstructure:"description"`
}

// Structured output field types.
const (
	OutputString      = "String"
	OutputStringArray = "String Array"
	OutputNumber      = "Number"
	OutputBoolean     = "Boolean"
	OutputEnum        = "Enum"
)

// StateUpdate is one row of an update-state table.
type StateUpdate struct {
	Key   string `mapstructure:"key"`
	Value any    `mapstructure:"value"`
}

// UpdateStateConfig is shared by nodes that can patch state after running.
type UpdateStateConfig struct {
	UpdateState     []StateUpdate    `mapstructure:"update_state"`
	UpdateStateCode string           `mapstructure:"update_state_code"`
	Language        sandbox.Language `mapstructure:"language"`
}

func (c UpdateStateConfig) enabled() bool {
	return len(c.UpdateState) > 0 || strings.TrimSpace(c.UpdateStateCode) != ""
}

// ApprovalConfig is shared by nodes that can gate tool execution.
type ApprovalConfig struct {
	RequireApproval bool `mapstructure:"require_approval"`
	// ApprovalPrompt is shown with the action request; {tools} expands to
	// the queued calls as JSON.
	ApprovalPrompt string `mapstructure:"approval_prompt"`
	// RejectTo names the destination taken on rejection; End by default.
	RejectTo string `mapstructure:"reject_to"`
}

// ModelNodeConfig configures Agent, LLM and ConditionAgent nodes.
type ModelNodeConfig struct {
	SystemPrompt     string         `mapstructure:"system_prompt"`
	HumanPrompt      string         `mapstructure:"human_prompt"`
	PromptValues     map[string]any `mapstructure:"prompt_values"`
	Tools            []string       `mapstructure:"tools"`
	MaxIterations    int            `mapstructure:"max_iterations"`
	StructuredOutput []OutputField  `mapstructure:"structured_output"`
	// Rules and Script route a ConditionAgent.
	Rules             []condition.Rule `mapstructure:"rules"`
	Script            string           `mapstructure:"script"`
	ApprovalConfig    `mapstructure:",squash"`
	UpdateStateConfig `mapstructure:",squash"`
}

// ConditionConfig configures a Condition node.
type ConditionConfig struct {
	Rules    []condition.Rule `mapstructure:"rules"`
	Script   string           `mapstructure:"script"`
	Language sandbox.Language `mapstructure:"language"`
}

// ToolNodeConfig configures a Tool node.
type ToolNodeConfig struct {
	Tools             []string `mapstructure:"tools"`
	ApprovalConfig    `mapstructure:",squash"`
	UpdateStateConfig `mapstructure:",squash"`
}

// Function return modes.
const (
	ReturnAsAI    = "ai"
	ReturnAsHuman = "human"
	ReturnAsState = "state"
)

// FunctionConfig configures a CustomFunction node.
type FunctionConfig struct {
	Code     string           `mapstructure:"code"`
	Language sandbox.Language `mapstructure:"language"`
	// InputVariables become `$<name>` bindings; path values are resolved.
	InputVariables map[string]any `mapstructure:"input_variables"`
	// ReturnAs is ai (default), human or state.
	ReturnAs string `mapstructure:"return_as"`
}

// LoopConfig configures a Loop node.
type LoopConfig struct {
	LoopTo        string `mapstructure:"loop_to"`
	MaxIterations int    `mapstructure:"max_iterations"`
}

// HITLConfig configures a HumanInTheLoop node.
type HITLConfig struct {
	Prompt      string         `mapstructure:"prompt"`
	OutputShape map[string]any `mapstructure:"output_shape"`
	RejectTo    string         `mapstructure:"reject_to"`
}

// endIndex addresses the End sentinel in successor lists.
const endIndex = -1

// GraphNode is a compiled node. It is immutable for the lifetime of the
// graph and addressed by Index in the graph arena.
type GraphNode struct {
	Index        int
	ID           string
	Name         string
	Label        string
	Kind         NodeKind
	Output       string
	Predecessors []int
	Successors   []int

	ModelName string
	Model     model.Model
	// Tools are the tools offered to the model (Agent, LLM) or executed
	// (Tool), in declaration order.
	Tools []tool.Tool

	start     *StartConfig
	modelCfg  *ModelNodeConfig
	condCfg   *ConditionConfig
	toolCfg   *ToolNodeConfig
	fnCfg     *FunctionConfig
	loopCfg   *LoopConfig
	hitlCfg   *HITLConfig
	toolIndex map[string]tool.Tool

	// next is the ordinary successor or endIndex.
	next int
	// rejectTo is the destination on rejected approval.
	rejectTo int
	// loopTo is the Loop back-edge target.
	loopTo int
	// llm is the owning LLM node of a Tool node.
	llm int
	// toolOwners maps a tool name to the Tool node that runs it (LLM nodes).
	toolOwners map[string]int
	// destinations resolves routing rule and script results (Condition).
	destinations map[string]int
}

// StartConfig returns the typed Start settings, nil for other kinds.
func (n *GraphNode) StartConfig() *StartConfig { return n.start }

// ModelConfig returns the typed settings of model nodes.
func (n *GraphNode) ModelConfig() *ModelNodeConfig { return n.modelCfg }

// ConditionConfig returns the typed Condition settings.
func (n *GraphNode) ConditionConfig() *ConditionConfig { return n.condCfg }

// ToolConfig returns the typed Tool node settings.
func (n *GraphNode) ToolConfig() *ToolNodeConfig { return n.toolCfg }

// FunctionConfig returns the typed CustomFunction settings.
func (n *GraphNode) FunctionConfig() *FunctionConfig { return n.fnCfg }

// LoopConfig returns the typed Loop settings.
func (n *GraphNode) LoopConfig() *LoopConfig { return n.loopCfg }

// HITLConfig returns the typed HumanInTheLoop settings.
func (n *GraphNode) HITLConfig() *HITLConfig { return n.hitlCfg }
