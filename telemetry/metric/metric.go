//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metric holds the Prometheus collectors updated by the executor.
package metric

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seqagent"

// Status label values.
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
	StatusAborted     = "aborted"
)

var (
	// RunsTotal counts finished Run and Resume calls by outcome.
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Flow runs by final status.",
	}, []string{"status"})

	// NodeExecutionsTotal counts node executions by kind and outcome.
	NodeExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "node_executions_total",
		Help:      "Node executions by kind and status.",
	}, []string{"kind", "status"})

	// NodeDurationSeconds observes node execution latency.
	NodeDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "node_duration_seconds",
		Help:      "Node execution latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"kind"})

	// ModelCallsTotal counts model invocations.
	ModelCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_calls_total",
		Help:      "Model invocations by model and status.",
	}, []string{"model", "status"})

	// ToolCallsTotal counts tool invocations.
	ToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool and status.",
	}, []string{"tool", "status"})

	// InterruptsTotal counts suspensions by action kind.
	InterruptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interrupts_total",
		Help:      "Run suspensions by action kind.",
	}, []string{"kind"})
)

// Collectors returns every collector of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RunsTotal,
		NodeExecutionsTotal,
		NodeDurationSeconds,
		ModelCallsTotal,
		ToolCallsTotal,
		InterruptsTotal,
	}
}

// Register registers the collectors with reg. Collectors already registered
// with reg are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveNode records one node execution.
func ObserveNode(kind string, err error, d time.Duration) {
	NodeExecutionsTotal.WithLabelValues(kind, status(err)).Inc()
	NodeDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveModelCall records one model call.
func ObserveModelCall(modelName string, err error) {
	ModelCallsTotal.WithLabelValues(modelName, status(err)).Inc()
}

// ObserveToolCall records one tool call.
func ObserveToolCall(toolName string, err error) {
	ToolCallsTotal.WithLabelValues(toolName, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
