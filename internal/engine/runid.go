// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import "context"

type runIDKeyType struct{}

var runIDKey runIDKeyType

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run id Evaluate attached to ctx, for
// correlating logs and trace spans produced by an Evaluator Function with
// the specific Evaluate call driving it.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok
}
