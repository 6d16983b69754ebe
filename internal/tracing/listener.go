// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ridgeline-dev/ridgeline/internal/engine"
	"github.com/ridgeline-dev/ridgeline/internal/tracing/traceattrs"
)

// EngineListener adapts engine.Listener onto OpenTelemetry: it opens one
// span per node evaluation attempt, spanning from the node's first
// restart (or straight to commit, if it never restarted) until it
// commits, and records cycles as their own short-lived spans.
type EngineListener struct {
	mu     sync.Mutex
	active map[*engine.Key]activeSpan
}

type activeSpan struct {
	span     trace.Span
	restarts int
}

// NewEngineListener returns a ready-to-use EngineListener.
func NewEngineListener() *EngineListener {
	return &EngineListener{active: make(map[*engine.Key]activeSpan)}
}

func (l *EngineListener) OnEvent(ctx context.Context, ev engine.Event) {
	switch ev.Kind {
	case engine.EventRestart:
		l.onRestart(ctx, ev.Key)
	case engine.EventCommit:
		changed, _ := ev.Payload.(bool)
		l.onCommit(ctx, ev.Key, changed)
	case engine.EventCycle:
		l.onCycle(ctx, ev.Payload)
	}
}

func (l *EngineListener) onRestart(ctx context.Context, key *engine.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.active[key]
	if !ok {
		attrs := []attribute.KeyValue{traceattrs.EngineNodeKey(key.String()), traceattrs.EngineNodeTag(string(key.Tag()))}
		if runID, ok := engine.RunIDFromContext(ctx); ok {
			attrs = append(attrs, traceattrs.EngineRunID(runID))
		}
		_, span := Start(ctx, "engine.evaluate_node", attrs...)
		st = activeSpan{span: span}
	}
	st.restarts++
	st.span.AddEvent("restart")
	l.active[key] = st
}

func (l *EngineListener) onCommit(ctx context.Context, key *engine.Key, changed bool) {
	l.mu.Lock()
	st, ok := l.active[key]
	if ok {
		delete(l.active, key)
	}
	l.mu.Unlock()

	if !ok {
		_, span := Start(ctx, "engine.evaluate_node", traceattrs.EngineNodeKey(key.String()), traceattrs.EngineNodeTag(string(key.Tag())), traceattrs.EngineChanged(changed))
		span.End()
		return
	}
	st.span.SetAttributes(traceattrs.EngineRestartCount(st.restarts), traceattrs.EngineChanged(changed))
	st.span.End()
}

func (l *EngineListener) onCycle(ctx context.Context, payload any) {
	c, ok := payload.(*engine.CycleError)
	if !ok {
		return
	}
	_, span := Start(ctx, "engine.cycle_detected", traceattrs.EngineCycleSize(len(c.Members)))
	span.RecordError(c)
	span.End()
}
