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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/memory"
	"trpc.group/trpc-go/trpc-seqagent-go/model"
	"trpc.group/trpc-go/trpc-seqagent-go/sandbox"
	"trpc.group/trpc-go/trpc-seqagent-go/sandbox/cel"
	"trpc.group/trpc-go/trpc-seqagent-go/sandbox/lua"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/metric"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/trace"
)

// Executor defaults.
const (
	DefaultMaxLoopIterations = 100
	DefaultToolConcurrency   = 8
)

// ToolErrorPolicy decides what a failing call does to its fan-out batch.
type ToolErrorPolicy int

const (
	// ToolErrorAllOrNothing cancels the batch on the first failure; no tool
	// message of the batch is kept and the node fails with a tool error.
	ToolErrorAllOrNothing ToolErrorPolicy = iota
	// ToolErrorIsolate turns a failing call into a tool message carrying the
	// error text and keeps the rest of the batch.
	ToolErrorIsolate
)

// Option configures an Executor.
type Option func(*Executor)

// WithSnapshotStore sets the store used to suspend, resume and persist runs.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(e *Executor) { e.store = s }
}

// WithMemory sets the conversation memory used by Start nodes with memory on.
func WithMemory(m memory.Service) Option {
	return func(e *Executor) { e.memory = m }
}

// WithSandbox registers a script runtime for lang.
func WithSandbox(lang sandbox.Language, rt sandbox.Runtime) Option {
	return func(e *Executor) { e.sandboxes[lang] = rt }
}

// WithDefaultLanguage sets the language of scripts that declare none.
func WithDefaultLanguage(lang sandbox.Language) Option {
	return func(e *Executor) { e.defaultLanguage = lang }
}

// WithScriptTimeout bounds each script run.
func WithScriptTimeout(d time.Duration) Option {
	return func(e *Executor) { e.scriptLimits.Timeout = d }
}

// WithScriptMemoryLimit bounds heap growth and string size of each script
// run. Zero keeps the sandbox defaults.
func WithScriptMemoryLimit(maxMemory uint64, maxString int) Option {
	return func(e *Executor) {
		e.scriptLimits.MaxMemory = maxMemory
		e.scriptLimits.MaxStringBytes = maxString
	}
}

// WithMaxLoopIterations sets the default back-edge cap of Loop nodes.
func WithMaxLoopIterations(n int) Option {
	return func(e *Executor) { e.maxLoop = n }
}

// WithToolConcurrency sets the size of the tool fan-out pool.
func WithToolConcurrency(n int) Option {
	return func(e *Executor) { e.toolConcurrency = n }
}

// WithToolErrorPolicy sets the fan-out failure policy.
func WithToolErrorPolicy(p ToolErrorPolicy) Option {
	return func(e *Executor) { e.toolPolicy = p }
}

// WithVars sets global variables bound as $vars. Run level vars override
// them key by key.
func WithVars(vars map[string]any) Option {
	return func(e *Executor) { e.vars = vars }
}

// Executor runs a compiled graph. It is safe for concurrent use; each Run or
// Resume call owns its state.
type Executor struct {
	graph           *Graph
	store           SnapshotStore
	memory          memory.Service
	sandboxes       sandbox.Registry
	defaultLanguage sandbox.Language
	scriptLimits    sandbox.Limits
	maxLoop         int
	toolConcurrency int
	toolPolicy      ToolErrorPolicy
	vars            map[string]any
	pool            *ants.Pool
}

// NewExecutor creates an executor for g. Lua and CEL runtimes are registered
// unless overridden; Lua is the default language.
func NewExecutor(g *Graph, opts ...Option) (*Executor, error) {
	if g == nil {
		return nil, errors.New("graph is nil")
	}
	e := &Executor{
		graph: g,
		sandboxes: sandbox.Registry{
			sandbox.LanguageLua: lua.New(),
			sandbox.LanguageCEL: cel.New(),
		},
		defaultLanguage: sandbox.LanguageLua,
		maxLoop:         DefaultMaxLoopIterations,
		toolConcurrency: DefaultToolConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxLoop <= 0 {
		e.maxLoop = DefaultMaxLoopIterations
	}
	if e.toolConcurrency <= 0 {
		e.toolConcurrency = DefaultToolConcurrency
	}
	pool, err := ants.NewPool(e.toolConcurrency)
	if err != nil {
		return nil, fmt.Errorf("create tool pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Close releases the tool pool.
func (e *Executor) Close() {
	e.pool.Release()
}

// Graph returns the executed graph.
func (e *Executor) Graph() *Graph {
	return e.graph
}

// Store returns the configured snapshot store, possibly nil.
func (e *Executor) Store() SnapshotStore {
	return e.store
}

// RunConfig is the input of one run.
type RunConfig struct {
	FlowID    string         `json:"flow_id"`
	SessionID string         `json:"session_id"`
	ChatID    string         `json:"chat_id,omitempty"`
	Input     string         `json:"input,omitempty"`
	Form      map[string]any `json:"form,omitempty"`
	Vars      map[string]any `json:"vars,omitempty"`
}

// RunStatus is the outcome of a successful Run or Resume.
type RunStatus string

// Run statuses.
const (
	StatusCompleted   RunStatus = "completed"
	StatusInterrupted RunStatus = "interrupted"
)

// Result is the outcome of Run and Resume. Action is set when the run is
// suspended.
type Result struct {
	RunID  string         `json:"run_id"`
	Status RunStatus      `json:"status"`
	State  State          `json:"state"`
	Action *ActionRequest `json:"action,omitempty"`
}

// LastMessage returns the last message of the final state.
func (r *Result) LastMessage() (model.Message, bool) {
	msgs := r.State.Messages()
	if len(msgs) == 0 {
		return model.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// ResumeCommand answers a pending action. When ActionRequestID is empty the
// pending action of (FlowID, SessionID) is used.
type ResumeCommand struct {
	ActionRequestID string         `json:"action_id,omitempty"`
	FlowID          string         `json:"flow_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	Decision        Decision       `json:"decision"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// run is the mutable context of one Run or Resume call.
type run struct {
	id        string
	flowID    string
	sessionID string
	chatID    string
	input     string
	form      map[string]any
	vars      map[string]any
	state     State
	visits    map[string]int
	turnStart int
}

// step is what a node hands back to the walk loop.
type step struct {
	update State
	next   int
	// suspend is set when the node stops the run for external input.
	suspend *ActionRequest
	// iteration and nodeStart are persisted with a suspension.
	iteration int
	nodeStart int
}

// Run executes the graph from its Start node.
func (e *Executor) Run(ctx context.Context, cfg RunConfig) (res *Result, err error) {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	r := &run{
		id:        uuid.NewString(),
		flowID:    cfg.FlowID,
		sessionID: cfg.SessionID,
		chatID:    cfg.ChatID,
		input:     cfg.Input,
		form:      cfg.Form,
		vars:      mergeVars(e.vars, cfg.Vars),
		state:     e.graph.schema.Initial(),
		visits:    make(map[string]int),
	}
	ctx = log.WithFields(ctx, "run_id", r.id, "flow_id", r.flowID, "session_id", r.sessionID)
	ctx, span := trace.StartSpan(ctx, trace.OperationRunFlow, flowLabel(r.flowID), r.attributes()...)
	defer func() {
		e.finish(ctx, r, res, err)
		trace.EndSpan(span, err)
	}()
	log.FromContext(ctx).Debugf("graph: run started")
	return e.walk(ctx, r, e.graph.start)
}

// Resume answers a pending action and continues the suspended run. On
// failure the action is put back to pending so that the caller may retry.
func (e *Executor) Resume(ctx context.Context, cmd ResumeCommand) (res *Result, err error) {
	if e.store == nil {
		return nil, newError(KindNode, nil, ErrNoSnapshotStore, "cannot resume")
	}
	decision, err := ParseDecision(string(cmd.Decision))
	if err != nil {
		return nil, err
	}
	actionID := cmd.ActionRequestID
	if actionID == "" {
		snap, err := e.store.Load(ctx, cmd.FlowID, cmd.SessionID)
		if err != nil {
			return nil, err
		}
		if snap.Action == nil {
			return nil, ErrActionNotFound
		}
		actionID = snap.Action.ID
	} else {
		snap, err := e.store.LoadByAction(ctx, actionID)
		if err != nil {
			return nil, err
		}
		if (cmd.FlowID != "" && cmd.FlowID != snap.FlowID) ||
			(cmd.SessionID != "" && cmd.SessionID != snap.SessionID) {
			return nil, fmt.Errorf("%w: %s does not belong to the given session", ErrActionNotFound, actionID)
		}
	}
	snap, err := e.store.Claim(ctx, actionID, decision.status())
	if err != nil {
		return nil, err
	}
	n, ok := e.graph.Node(snap.NodeID)
	if !ok && snap.Action != nil && snap.Action.NodeName != "" {
		// Ids may differ when the flow was edited since the suspension.
		n, ok = e.graph.Node(snap.Action.NodeName)
	}
	if !ok {
		return nil, newError(KindNode, nil, nil, "suspended node %q is not part of the graph", snap.NodeID)
	}

	r := &run{
		id:        snap.RunID,
		flowID:    snap.FlowID,
		sessionID: snap.SessionID,
		chatID:    snap.ChatID,
		input:     snap.Input,
		vars:      snap.Vars,
		state:     snap.State(),
		visits:    make(map[string]int, len(snap.Visits)),
		turnStart: snap.TurnStart,
	}
	for k, v := range snap.Visits {
		r.visits[k] = v
	}
	ctx = log.WithFields(ctx, "run_id", r.id, "flow_id", r.flowID, "session_id", r.sessionID, "action_id", actionID)
	ctx, span := trace.StartSpan(ctx, trace.OperationResumeFlow, flowLabel(r.flowID),
		append(r.attributes(), attribute.String(trace.KeyActionID, actionID))...)
	defer func() {
		if err != nil {
			e.restoreAction(ctx, snap)
		}
		e.finish(ctx, r, res, err)
		trace.EndSpan(span, err)
	}()
	log.FromContext(ctx).Infof("graph: resuming node %s with %s", n.Name, decision)

	st, err := e.resumeNode(ctx, r, n, snap, decision, cmd.Payload)
	if err != nil {
		return nil, err
	}
	r.state = e.graph.schema.Merge(r.state, st.update)
	if st.suspend != nil {
		return e.suspend(ctx, r, n, st)
	}
	return e.walk(ctx, r, st.next)
}

func (e *Executor) restoreAction(ctx context.Context, snap *Snapshot) {
	snap.Action.Status = ActionPending
	snap.Action.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		log.FromContext(ctx).Warnf("graph: restore pending action %s: %v", snap.Action.ID, err)
	}
}

// walk executes nodes one at a time from index from until End, a
// suspension, an error or an abort.
func (e *Executor) walk(ctx context.Context, r *run, from int) (*Result, error) {
	g := e.graph
	for cur := from; cur != endIndex; {
		n := g.nodes[cur]
		if err := ctx.Err(); err != nil {
			return nil, abortError(n, err)
		}
		st, err := e.execNode(ctx, r, n)
		if err != nil {
			return nil, err
		}
		r.state = g.schema.Merge(r.state, st.update)
		if st.suspend != nil {
			return e.suspend(ctx, r, n, st)
		}
		log.FromContext(ctx).Debugf("graph: %s -> %s", n.Name, g.nameOf(st.next))
		cur = st.next
	}
	return e.complete(ctx, r)
}

func (e *Executor) execNode(ctx context.Context, r *run, n *GraphNode) (st *step, err error) {
	ctx, span := trace.StartSpan(ctx, trace.OperationExecuteNode, n.Name,
		attribute.String(trace.KeyNodeID, n.ID),
		attribute.String(trace.KeyNodeKind, string(n.Kind)),
	)
	begin := time.Now()
	defer func() {
		metric.ObserveNode(string(n.Kind), err, time.Since(begin))
		if st != nil {
			span.SetAttributes(attribute.String(trace.KeyNextNode, e.graph.nameOf(st.next)))
		}
		trace.EndSpan(span, err)
	}()
	switch n.Kind {
	case KindStart:
		return e.execStart(ctx, r, n)
	case KindAgent:
		return e.execAgent(ctx, r, n)
	case KindLLM:
		return e.execLLM(ctx, r, n)
	case KindConditionAgent:
		return e.execConditionAgent(ctx, r, n)
	case KindCondition:
		return e.execCondition(ctx, r, n)
	case KindTool:
		return e.execTool(ctx, r, n)
	case KindFunction:
		return e.execFunction(ctx, r, n)
	case KindLoop:
		return e.execLoop(ctx, r, n)
	case KindHumanInTheLoop:
		return e.execHITL(ctx, r, n)
	case KindEnd:
		return &step{next: endIndex}, nil
	default:
		return nil, newError(KindNode, n, nil, "unsupported node kind %q", n.Kind)
	}
}

// resumeNode continues the node that suspended the run.
func (e *Executor) resumeNode(
	ctx context.Context,
	r *run,
	n *GraphNode,
	snap *Snapshot,
	decision Decision,
	payload map[string]any,
) (*step, error) {
	action := snap.Action
	switch {
	case n.Kind == KindHumanInTheLoop && action.Kind == ActionHumanInput:
		if decision == DecisionReject {
			return &step{next: n.rejectTo}, nil
		}
		update, err := payloadUpdate(payload)
		if err != nil {
			return nil, newError(KindNode, n, err, "invalid payload")
		}
		return &step{update: update, next: n.next}, nil
	case n.Kind == KindAgent && action.Kind == ActionToolApproval:
		if decision == DecisionReject {
			return &step{update: State{StateKeyMessages: denyToolCalls(n, action.ToolCalls)}, next: n.rejectTo}, nil
		}
		toolMsgs, err := e.runToolCalls(ctx, n, action.ToolCalls, n.toolIndex)
		if err != nil {
			return nil, err
		}
		msgs := r.state.Messages()
		start := min(snap.NodeMessageStart, len(msgs))
		produced := append(append([]model.Message(nil), msgs[start:]...), toolMsgs...)
		return e.agentLoop(ctx, r, n, msgs[:start], produced, len(produced)-len(toolMsgs), snap.Iteration)
	case n.Kind == KindTool && action.Kind == ActionToolApproval:
		if decision == DecisionReject {
			return &step{update: State{StateKeyMessages: denyToolCalls(n, action.ToolCalls)}, next: n.rejectTo}, nil
		}
		return e.runToolNode(ctx, r, n, action.ToolCalls)
	default:
		return nil, newError(KindNode, n, nil, "cannot resume %s action on %s node", action.Kind, n.Kind)
	}
}

// suspend persists the run and returns an interrupted result.
func (e *Executor) suspend(ctx context.Context, r *run, n *GraphNode, st *step) (*Result, error) {
	if e.store == nil {
		return nil, newError(KindNode, n, ErrNoSnapshotStore, "cannot suspend")
	}
	snap := r.snapshot()
	snap.NodeID = n.ID
	snap.Iteration = st.iteration
	snap.NodeMessageStart = st.nodeStart
	snap.Action = st.suspend
	if err := e.store.Save(ctx, snap); err != nil {
		return nil, newError(KindNode, n, err, "save snapshot")
	}
	metric.InterruptsTotal.WithLabelValues(string(st.suspend.Kind)).Inc()
	log.FromContext(ctx).Infof("graph: suspended at %s, action %s (%s)", n.Name, st.suspend.ID, st.suspend.Kind)
	return &Result{RunID: r.id, Status: StatusInterrupted, State: r.state, Action: st.suspend}, nil
}

// complete finishes a run that reached End: the new turn goes to memory and
// the snapshot is either replaced by the completed state or removed.
func (e *Executor) complete(ctx context.Context, r *run) (*Result, error) {
	start := e.graph.StartNode().start
	if start.Memory && e.memory != nil {
		msgs := r.state.Messages()
		turn := msgs[min(r.turnStart, len(msgs)):]
		if len(turn) > 0 {
			if err := e.memory.AddMessages(ctx, r.sessionID, turn); err != nil {
				return nil, newError(KindNode, e.graph.StartNode(), err, "store conversation")
			}
		}
	}
	if e.store != nil {
		var err error
		if start.PersistState {
			err = e.store.Save(ctx, r.snapshot())
		} else {
			err = e.store.Delete(ctx, r.flowID, r.sessionID)
		}
		if err != nil {
			return nil, newError(KindNode, nil, err, "update snapshot")
		}
	}
	return &Result{RunID: r.id, Status: StatusCompleted, State: r.state}, nil
}

func (e *Executor) finish(ctx context.Context, r *run, res *Result, err error) {
	status := metric.StatusFailed
	switch {
	case err == nil && res != nil:
		status = string(res.Status)
	case errors.Is(err, ErrAborted):
		status = metric.StatusAborted
	}
	metric.RunsTotal.WithLabelValues(status).Inc()
	if err != nil {
		if errors.Is(err, ErrAborted) {
			log.FromContext(ctx).Infof("graph: run aborted: %v", err)
		} else {
			log.FromContext(ctx).Errorf("graph: run failed: %v", err)
		}
		return
	}
	log.FromContext(ctx).Debugf("graph: run %s", status)
}

func (r *run) snapshot() *Snapshot {
	fields := make(map[string]any, len(r.state))
	for k, v := range r.state {
		if k == StateKeyMessages {
			continue
		}
		fields[k] = v
	}
	return &Snapshot{
		FlowID:    r.flowID,
		SessionID: r.sessionID,
		RunID:     r.id,
		ChatID:    r.chatID,
		Input:     r.input,
		Vars:      r.vars,
		Messages:  r.state.Messages(),
		Fields:    fields,
		Visits:    r.visits,
		TurnStart: r.turnStart,
		CreatedAt: time.Now().UTC(),
	}
}

func (r *run) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(trace.KeyFlowID, r.flowID),
		attribute.String(trace.KeySessionID, r.sessionID),
		attribute.String(trace.KeyRunID, r.id),
	}
}

func (e *Executor) newAction(r *run, n *GraphNode, kind ActionKind) *ActionRequest {
	now := time.Now().UTC()
	return &ActionRequest{
		ID:        uuid.NewString(),
		FlowID:    r.flowID,
		SessionID: r.sessionID,
		NodeID:    n.ID,
		NodeName:  n.Name,
		Kind:      kind,
		Status:    ActionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func abortError(n *GraphNode, cause error) error {
	return newError(KindAborted, n, cause, "run aborted")
}

// errDetachedAbort reports that the caller gave up waiting on a detached call.
var errDetachedAbort = errors.New("abandoned after abort")

// detach runs fn on a context that ignores cancellation of ctx. If ctx is
// cancelled first, detach returns immediately and fn's eventual result is
// dropped.
func detach[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(context.WithoutCancel(ctx))
		ch <- result{v, err}
	}()
	var zero T
	select {
	case res := <-ch:
		if ctx.Err() != nil {
			return zero, errDetachedAbort
		}
		return res.v, res.err
	case <-ctx.Done():
		return zero, errDetachedAbort
	}
}

func mergeVars(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func flowLabel(flowID string) string {
	if flowID == "" {
		return "flow"
	}
	return flowID
}
