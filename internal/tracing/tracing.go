// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) The Opentofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package tracing provides ridgeline's thin conventions layer on top of
// OpenTelemetry: a single package-wide tracer, a Start helper that derives
// a low-cardinality "code.namespace" attribute from the caller automatically,
// and (in listener.go) an adapter from engine.Listener onto OTel spans.
package tracing

import (
	"context"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ridgeline-dev/ridgeline")

// Start begins a span named name, automatically attaching a
// "code.namespace" attribute derived from the caller's package so that
// spans from deep call chains remain groupable even when their names are
// bespoke.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("code.namespace", extractImportPath(callerFuncName())))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func callerFuncName() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}

// extractImportPath extracts the package import path portion of a fully
// qualified function name as reported by runtime.FuncForPC, e.g.
// "github.com/example/pkg.(*Type).Method" -> "github.com/example/pkg".
func extractImportPath(fullName string) string {
	prefix, rest := "", fullName
	if i := strings.LastIndex(fullName, "/"); i >= 0 {
		prefix, rest = fullName[:i+1], fullName[i+1:]
	}
	dot := strings.Index(rest, ".")
	if dot < 0 {
		return "unknown"
	}
	return prefix + rest[:dot]
}
