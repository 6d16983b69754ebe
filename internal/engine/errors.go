// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// EvaluationError wraps an error returned by an Evaluator Function for a
// specific Key. It is committed as the node's value (§3: "error: optional
// structured error piggybacked on the value slot") and propagates to
// reverse deps unless they catch it through GetValueOrThrow.
type EvaluationError struct {
	Key *Key
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// MissingDepError is returned by Evaluate when a declared dependency has
// no registered Evaluator for its Tag. It is always fatal, even under
// keep_going, per §7.
type MissingDepError struct {
	Key    *Key
	DepTag Tag
}

func (e *MissingDepError) Error() string {
	return fmt.Sprintf("%s: no evaluator registered for tag %q", e.Key, e.DepTag)
}

// CycleError reports one strongly connected component of the
// declared-deps graph found by the cycle detector. Members is listed in
// the order the DFS attributed them to the cycle; BackEdge names the edge
// that closed the loop, which is often the most useful single fact for a
// human debugging the cycle.
type CycleError struct {
	Members  []*Key
	BackEdge [2]*Key
}

func (e *CycleError) Error() string {
	if len(e.Members) == 1 {
		return fmt.Sprintf("self-dependency cycle: %s depends on itself", e.Members[0])
	}
	s := "dependency cycle:"
	for _, k := range e.Members {
		s += fmt.Sprintf(" %s ->", k)
	}
	return s + fmt.Sprintf(" %s", e.Members[0])
}

// CancellationError is returned for roots that were still in flight when
// the Engine's cancellation context was cancelled. No value is committed
// for the corresponding nodes.
type CancellationError struct {
	Key *Key
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%s: evaluation cancelled", e.Key)
}

// InvariantViolation is raised (via panic, never returned) when the Engine
// detects that one of I1–I5 has been violated. Per §7, internal invariant
// violations are never masked, so the Engine does not recover from this
// panic; it is a programming bug in the Engine itself, not a reportable
// evaluation outcome.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("engine: invariant %s violated: %s", e.Invariant, e.Detail)
}

func panicInvariant(invariant, detail string) {
	panic(&InvariantViolation{Invariant: invariant, Detail: detail})
}

// aggregateErrors combines zero or more errors collected under
// keep_going=true into a single error using the same hashicorp/go-multierror
// aggregation this codebase already depends on elsewhere. It returns nil
// for an empty input, matching multierror.Append's documented behavior for
// an all-nil accumulation.
func aggregateErrors(errs ...error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
