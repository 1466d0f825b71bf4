//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package server exposes flows over HTTP: start runs, inspect pending
// actions and resume them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-seqagent-go/graph"
	"trpc.group/trpc-go/trpc-seqagent-go/log"
	"trpc.group/trpc-go/trpc-seqagent-go/telemetry/metric"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20
)

var (
	// ErrFlowExists is returned when registering an id twice.
	ErrFlowExists = errors.New("flow already registered")

	errUnknownFlow = errors.New("unknown flow")
)

// FlowInfo describes a registered flow.
type FlowInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	// Graph is the compiled node listing.
	Graph string `json:"graph"`
}

type entry struct {
	info     FlowInfo
	executor *graph.Executor
}

// Server routes HTTP requests to flow executors.
type Server struct {
	router *mux.Router

	mu    sync.RWMutex
	flows map[string]*entry

	registry       *prometheus.Registry
	allowedOrigins []string
	runTimeout     time.Duration
}

// Option configures the Server instance.
type Option func(*Server)

// WithRegistry serves metrics from reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithAllowedOrigins restricts CORS origins. All origins are allowed by
// default.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithRunTimeout bounds each run and resume call. Zero means no bound.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Server) { s.runTimeout = d }
}

// New creates a server without flows.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		router:         mux.NewRouter(),
		flows:          make(map[string]*entry),
		registry:       prometheus.NewRegistry(),
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := metric.Register(s.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	s.registerRoutes()
	return s, nil
}

// Register serves e under id. The server does not take ownership of e.
func (s *Server) Register(info FlowInfo, e *graph.Executor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[info.ID]; ok {
		return fmt.Errorf("%w: %s", ErrFlowExists, info.ID)
	}
	if info.Graph == "" {
		info.Graph = e.Graph().Describe()
	}
	s.flows[info.ID] = &entry{info: info, executor: e}
	return nil
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type"},
	})
	return c.Handler(s.router)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/flows", s.handleListFlows).Methods(http.MethodGet)
	v1.HandleFunc("/flows/{flow_id}/runs", s.handleRun).Methods(http.MethodPost)
	v1.HandleFunc("/flows/{flow_id}/sessions/{session_id}/action", s.handleGetAction).Methods(http.MethodGet)
	v1.HandleFunc("/actions/{action_id}/resume", s.handleResume).Methods(http.MethodPost)
}

func (s *Server) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownFlow, id)
	}
	return e, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFlows(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := make([]FlowInfo, 0, len(s.flows))
	for _, e := range s.flows {
		out = append(out, e.info)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

type runRequest struct {
	SessionID string         `json:"session_id"`
	ChatID    string         `json:"chat_id"`
	Input     string         `json:"input"`
	Form      map[string]any `json:"form"`
	Vars      map[string]any `json:"vars"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["flow_id"]
	e, err := s.lookup(flowID)
	if err != nil {
		writeError(w, err)
		return
	}
	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := s.runContext(r.Context())
	defer cancel()
	res, err := e.executor.Run(ctx, graph.RunConfig{
		FlowID:    flowID,
		SessionID: req.SessionID,
		ChatID:    req.ChatID,
		Input:     req.Input,
		Form:      req.Form,
		Vars:      req.Vars,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(res))
}

type resumeRequest struct {
	FlowID    string         `json:"flow_id"`
	SessionID string         `json:"session_id"`
	Decision  string         `json:"decision"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	actionID := mux.Vars(r)["action_id"]
	var req resumeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.FlowID == "" {
		writeError(w, badRequest("flow_id is required"))
		return
	}
	e, err := s.lookup(req.FlowID)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := s.runContext(r.Context())
	defer cancel()
	res, err := e.executor.Resume(ctx, graph.ResumeCommand{
		ActionRequestID: actionID,
		FlowID:          req.FlowID,
		SessionID:       req.SessionID,
		Decision:        graph.Decision(req.Decision),
		Payload:         req.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(res))
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	e, err := s.lookup(vars["flow_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	store := e.executor.Store()
	if store == nil {
		writeError(w, graph.ErrNoSnapshotStore)
		return
	}
	snap, err := store.Load(r.Context(), vars["flow_id"], vars["session_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if !snap.Pending() {
		writeError(w, graph.ErrActionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap.Action)
}

func (s *Server) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.runTimeout > 0 {
		return context.WithTimeout(ctx, s.runTimeout)
	}
	return context.WithCancel(ctx)
}

// runResponse is the wire form of a graph.Result. Messages use their view
// form; other state fields are passed through.
type runResponse struct {
	RunID    string               `json:"run_id"`
	Status   graph.RunStatus      `json:"status"`
	Output   string               `json:"output,omitempty"`
	Messages []map[string]any     `json:"messages"`
	State    map[string]any       `json:"state,omitempty"`
	Action   *graph.ActionRequest `json:"action,omitempty"`
}

func newRunResponse(res *graph.Result) runResponse {
	out := runResponse{
		RunID:    res.RunID,
		Status:   res.Status,
		Action:   res.Action,
		Messages: []map[string]any{},
	}
	for _, m := range res.State.Messages() {
		out.Messages = append(out.Messages, m.View())
	}
	if last, ok := res.LastMessage(); ok && res.Status == graph.StatusCompleted {
		out.Output = last.Content
	}
	for k, v := range res.State {
		if k == graph.StateKeyMessages {
			continue
		}
		if out.State == nil {
			out.State = make(map[string]any)
		}
		out.State[k] = v
	}
	return out
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

type errorBody struct {
	Error    string          `json:"error"`
	Kind     graph.ErrorKind `json:"kind,omitempty"`
	NodeID   string          `json:"node_id,omitempty"`
	NodeName string          `json:"node_name,omitempty"`
}

func newErrorBody(err error) errorBody {
	body := errorBody{Error: err.Error()}
	var engineErr *graph.Error
	if errors.As(err, &engineErr) {
		body.Kind = engineErr.Kind
		body.NodeID = engineErr.NodeID
		body.NodeName = engineErr.NodeName
	}
	return body
}

// statusOf maps engine errors to HTTP statuses.
func statusOf(err error) int {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.Is(err, errUnknownFlow),
		errors.Is(err, graph.ErrSnapshotNotFound),
		errors.Is(err, graph.ErrActionNotFound):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrActionNotPending):
		return http.StatusConflict
	case errors.Is(err, graph.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, graph.ErrNoSnapshotStore):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch graph.ErrorKindOf(err) {
	case graph.KindAborted:
		return http.StatusServiceUnavailable
	case graph.KindModel:
		return http.StatusBadGateway
	case graph.KindCompile:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("server: %v", err)
	}
	writeJSON(w, status, newErrorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("server: encode response: %v", err)
	}
}
