// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package traceattrs

import (
	"go.opentelemetry.io/otel/attribute"
)

// This file contains functions representing ridgeline-specific semantic
// conventions, used alongside the general OpenTelemetry-specified semantic
// conventions.
//
// These functions take strings that are expected to be the canonical string
// representation of some more specific type from elsewhere in ridgeline, but
// we make the caller produce the string representation rather than doing it
// inline because this package needs to avoid importing any other packages
// from this codebase so that the rest of ridgeline can use this package
// without creating import cycles.
//
// We only create functions in here for attribute names that we want to use
// consistently across many different callers. For one-off attribute names
// that are only used in a single kind of span, use the generic functions
// like [attribute.String] instead.

// EngineNodeKey returns an attribute definition identifying the node a
// trace span is about.
//
// The given key should be the result of calling engine.Key.String.
func EngineNodeKey(key string) attribute.KeyValue {
	return attribute.String("engine.node.key", key)
}

// EngineNodeTag returns an attribute definition identifying which
// Evaluator Tag a trace span's node dispatches to.
func EngineNodeTag(tag string) attribute.KeyValue {
	return attribute.String("engine.node.tag", tag)
}

// EngineRestartCount returns an attribute definition recording how many
// times a node's Evaluator Function was restarted before it committed.
func EngineRestartCount(n int) attribute.KeyValue {
	return attribute.Int("engine.node.restart_count", n)
}

// EngineChanged returns an attribute definition recording whether a
// node's commit produced a value that differed from its previous one.
func EngineChanged(changed bool) attribute.KeyValue {
	return attribute.Bool("engine.node.changed", changed)
}

// EngineRunID returns an attribute definition correlating a trace span
// with a particular Engine.Evaluate call.
func EngineRunID(id string) attribute.KeyValue {
	return attribute.String("engine.run_id", id)
}

// EngineCycleSize returns an attribute definition recording how many
// nodes participate in a detected dependency cycle.
func EngineCycleSize(n int) attribute.KeyValue {
	return attribute.Int("engine.cycle.size", n)
}
