// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
)

// ErrRestart is the restart sentinel from §6: an Evaluator returns it to
// mean "I declared inputs I did not have; call me again once they're
// ready." It is not a real evaluation error and is never committed as a
// node's value.
var ErrRestart = errors.New("engine: restart requested (missing dependencies)")

// errAbortSentinel is returned by GetValueOrThrow's caller-visible contract when a
// dependency failed with an error the Evaluator did not ask to catch;
// returning it from Compute short-circuits this node with that
// dependency's error already recorded.
var errAbortSentinel = errors.New("engine: aborted due to unhandled dependency error")

// Evaluator computes the value for keys dispatched to one Tag. See §6 for
// the abstract compute(key, env) -> value | error | restart contract.
// Compute must be pure with respect to values read through env and
// monotonic in the deps it declares across restarts (§4.4).
type Evaluator interface {
	Compute(ctx context.Context, key *Key, env *Environment) (Value, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, key *Key, env *Environment) (Value, error)

func (f EvaluatorFunc) Compute(ctx context.Context, key *Key, env *Environment) (Value, error) {
	return f(ctx, key, env)
}

// Environment is handed to an Evaluator Function for the duration of one
// Compute call. It is not safe to retain past that call.
type Environment struct {
	ctx      context.Context
	eng      *Engine
	self     *NodeEntry
	listener Listener

	missing bool
	// depErr, if non-nil, is the first dependency error observed through
	// GetValueOrThrow with no matching expected-error predicate; the
	// caller must return errAbortSentinel to let the Engine attribute it.
	depErr error
}

// GetValue returns dep's value if it is Done, declaring dep as an input of
// the current node either way. If dep is not Done, ok is false and the
// Environment is marked as needing a restart.
func (e *Environment) GetValue(dep *Key) (value Value, ok bool) {
	entry := e.eng.store.CreateIfAbsent(dep)
	e.self.addDep(dep)
	if v, err, done := entry.snapshot(); done {
		if err != nil {
			return nil, true
		}
		return v, true
	}
	e.missing = true
	return nil, false
}

// GetValues is the batched variant of GetValue: every key is declared as
// one dep group (see depGroups), then the Environment reports whether any
// of them are still missing.
func (e *Environment) GetValues(deps []*Key) (values map[*Key]Value, allDone bool) {
	e.self.startDepGroup()
	values = make(map[*Key]Value, len(deps))
	allDone = true
	for _, dep := range deps {
		entry := e.eng.store.CreateIfAbsent(dep)
		e.self.addDep(dep)
		if v, err, done := entry.snapshot(); done {
			if err == nil {
				values[dep] = v
			}
			continue
		}
		allDone = false
	}
	if !allDone {
		e.missing = true
	}
	return values, allDone
}

// GetValueOrThrow behaves like GetValue but additionally lets the
// Evaluator catch a dependency's error itself rather than letting it
// propagate automatically. expected reports whether a given error should
// be returned to the caller (rather than recorded for automatic
// propagation).
func (e *Environment) GetValueOrThrow(dep *Key, expected func(error) bool) (Value, error) {
	entry := e.eng.store.CreateIfAbsent(dep)
	e.self.addDep(dep)
	v, err, done := entry.snapshot()
	if !done {
		e.missing = true
		return nil, nil
	}
	if err == nil {
		return v, nil
	}
	if expected != nil && expected(err) {
		return nil, err
	}
	if e.depErr == nil {
		e.depErr = err
	}
	return nil, errAbortSentinel
}

// ValuesMissing reports whether any GetValue/GetValues/GetValueOrThrow
// call so far this Compute invocation found a dep that was not Done.
func (e *Environment) ValuesMissing() bool { return e.missing }

// Listener returns the Engine's out-of-band diagnostics sink.
func (e *Environment) Listener() Listener { return e.listener }

// PostEvent posts ev to the Engine's Listener, tagging it with the current
// node's key.
func (e *Environment) PostEvent(kind EventKind, payload any) {
	e.listener.OnEvent(e.ctx, Event{Kind: kind, Key: e.self.key, Payload: payload})
}

// AddExternalDep marks the current node as waiting on an out-of-band
// signal that does not correspond to any Key (§4.4). The node stays
// Evaluating, and ValuesMissing becomes true, until a matching call to
// Engine.SignalExternalDep for this key.
func (e *Environment) AddExternalDep() {
	e.self.addExternalDep()
	e.missing = true
}

// GetState returns the per-key compute-state slot, calling factory to
// populate it the first time it is observed empty. The slot survives
// restarts and is cleared once the node commits.
func (e *Environment) GetState(factory func() any) any {
	if v := e.self.getState(); v != nil {
		return v
	}
	v := factory()
	e.self.setState(v)
	return v
}

// Context returns the evaluation context, carrying cancellation.
func (e *Environment) Context() context.Context { return e.ctx }
