//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package sandbox

import (
	"context"
	"runtime/metrics"
	"sync/atomic"
	"time"
)

const (
	heapMetric       = "/memory/classes/heap/objects:bytes"
	memoryPollPeriod = 2 * time.Millisecond
)

// MemoryWatch cancels a script context once the process heap has grown by
// more than the budget since the watch started. Heap usage is process wide,
// so the budget is an upper bound for the script rather than an exact
// account of its allocations.
type MemoryWatch struct {
	exceeded atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

// WatchMemory starts a MemoryWatch over ctx. Callers run the script with the
// returned context and call Stop when it returns.
func WatchMemory(ctx context.Context, limit uint64) (context.Context, *MemoryWatch) {
	ctx, cancel := context.WithCancel(ctx)
	w := &MemoryWatch{stop: make(chan struct{}), done: make(chan struct{})}
	base := heapBytes()
	go func() {
		defer close(w.done)
		defer cancel()
		ticker := time.NewTicker(memoryPollPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if now := heapBytes(); now > base && now-base > limit {
					w.exceeded.Store(true)
					return
				}
			}
		}
	}()
	return ctx, w
}

// Stop ends the watch and releases its context.
func (w *MemoryWatch) Stop() {
	close(w.stop)
	<-w.done
}

// Exceeded reports whether the watch cancelled the context.
func (w *MemoryWatch) Exceeded() bool {
	return w.exceeded.Load()
}

func heapBytes() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}
