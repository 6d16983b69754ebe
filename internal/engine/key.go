// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"fmt"
	"sync"
	"weak"
)

// Tag selects which registered Evaluator computes values for a Key.
type Tag string

// Key is an immutable, hashable (function-tag, argument) pair identifying
// one memoized computation. Keys are produced exclusively by an Interner,
// which guarantees that two value-equal Keys are also reference-equal
// (invariant I4), so Keys may be compared and used as map keys directly
// once interned.
//
// Keys carry no mutable state and declare two capability bits consulted by
// the Engine: SkipsBatchPrefetch and SupportsPartialReevaluation.
type Key struct {
	tag Tag
	arg any

	skipsBatchPrefetch          bool
	supportsPartialReevaluation bool
}

// Tag reports which Evaluator this Key dispatches to.
func (k Key) Tag() Tag { return k.tag }

// Arg returns the opaque argument carried by this Key.
func (k Key) Arg() any { return k.arg }

// SkipsBatchPrefetch reports whether the Engine should store this key's
// declared deps in a set-backed structure for faster membership tests
// rather than the default ordered-group slice.
func (k Key) SkipsBatchPrefetch() bool { return k.skipsBatchPrefetch }

// SupportsPartialReevaluation reports whether the Evaluator for this key
// tolerates being invoked again while some of its previously declared deps
// are still in flight (see the Engine's partial-reevaluation mode).
func (k Key) SupportsPartialReevaluation() bool { return k.supportsPartialReevaluation }

func (k Key) String() string {
	return fmt.Sprintf("%s(%v)", k.tag, k.arg)
}

// identity is the comparable value used to dedupe keys inside the
// Interner; two Keys with the same identity are defined to be equal.
type identity struct {
	tag Tag
	arg any
}

// Interner canonicalizes Keys so that value-equal inputs always yield
// reference-equal results (invariant I4). It holds only weak references to
// the Keys it has produced: once nothing outside the Interner (and the
// NodeStore, which is keyed by the same identity) holds a Key, the entry is
// free to be collected. [Interner.Shrink] compacts the table during idle
// periods, as called for in the "Idle-period tasks" section of the design.
type Interner struct {
	mu    sync.Mutex
	table map[identity]weak.Pointer[Key]
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{table: make(map[identity]weak.Pointer[Key])}
}

// Intern returns the canonical Key for (tag, arg), creating it if this is
// the first time this Interner has seen that identity. capability flags
// only take effect the first time a given identity is interned; later
// calls with different flags for the same identity are a caller bug and
// are ignored, since Keys carry no mutable state.
func (in *Interner) Intern(tag Tag, arg any, skipsBatchPrefetch, supportsPartialReevaluation bool) *Key {
	id := identity{tag: tag, arg: arg}

	in.mu.Lock()
	defer in.mu.Unlock()

	if wp, ok := in.table[id]; ok {
		if k := wp.Value(); k != nil {
			return k
		}
	}

	k := &Key{
		tag:                         tag,
		arg:                         arg,
		skipsBatchPrefetch:          skipsBatchPrefetch,
		supportsPartialReevaluation: supportsPartialReevaluation,
	}
	in.table[id] = weak.Make(k)
	return k
}

// Shrink drops table entries whose Key has already been collected. It is
// safe to call concurrently with Intern, and is intended to be invoked
// from the Engine's idle-period maintenance pass rather than by ordinary
// callers.
func (in *Interner) Shrink() (removed int) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for id, wp := range in.table {
		if wp.Value() == nil {
			delete(in.table, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live table entries, including any that are
// pending collection. It exists for tests and diagnostics.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.table)
}
