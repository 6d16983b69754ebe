// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"fmt"
	"io"
	"sort"
)

// WriteDOT dumps the current node graph in Graphviz DOT format to w, for
// interactive debugging of a stuck or unexpectedly large evaluation. Nodes
// are colored by lifecycle state; edges point from a node to its declared
// dependencies.
func (e *Engine) WriteDOT(w io.Writer) error {
	keys := e.store.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	if _, err := fmt.Fprintln(w, "digraph engine {"); err != nil {
		return err
	}
	defer fmt.Fprintln(w, "}")

	for _, k := range keys {
		entry := e.store.Get(k)
		if entry == nil {
			continue
		}
		state := entry.State()
		if _, err := fmt.Fprintf(w, "  %q [label=%q, color=%s];\n", k.String(), k.String(), dotColor(state)); err != nil {
			return err
		}
	}
	for _, k := range keys {
		entry := e.store.Get(k)
		if entry == nil {
			continue
		}
		_, deps := entry.snapshotForCycleDetection()
		if deps == nil {
			deps = entry.committedDeps.flatten()
		}
		for _, dep := range deps {
			if _, err := fmt.Fprintf(w, "  %q -> %q;\n", k.String(), dep.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func dotColor(s nodeState) string {
	switch s {
	case stateDone:
		return "green"
	case stateEvaluating:
		return "yellow"
	case stateDirty:
		return "orange"
	default:
		return "gray"
	}
}
