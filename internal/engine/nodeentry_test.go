// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import "testing"

func newTestKey(tag Tag, arg string) *Key {
	return NewInterner().Intern(tag, arg, false, false)
}

func TestAddReverseDepAndCheckIfDoneJustCreated(t *testing.T) {
	dep := newNodeEntry(newTestKey("t", "dep"))
	rdep := newNodeEntry(newTestKey("t", "rdep"))

	status := dep.addReverseDepAndCheckIfDone(rdep)
	if status != NeedsScheduling {
		t.Fatalf("first addReverseDepAndCheckIfDone on a just-created node = %v, want NeedsScheduling", status)
	}
	if dep.State() != stateEvaluating {
		t.Fatalf("dep state = %v, want evaluating", dep.State())
	}

	second := newNodeEntry(newTestKey("t", "rdep2"))
	status = dep.addReverseDepAndCheckIfDone(second)
	if status != AlreadyEvaluating {
		t.Fatalf("second addReverseDepAndCheckIfDone = %v, want AlreadyEvaluating", status)
	}
	if len(dep.reverseDeps()) != 2 {
		t.Fatalf("reverseDeps() len = %d, want 2", len(dep.reverseDeps()))
	}
}

func TestAddReverseDepAndCheckIfDoneOnDoneNode(t *testing.T) {
	dep := newNodeEntry(newTestKey("t", "dep"))
	dep.startDepGroup()
	dep.setValue("v", nil)

	rdep := newNodeEntry(newTestKey("t", "rdep"))
	if status := dep.addReverseDepAndCheckIfDone(rdep); status != AlreadyDone {
		t.Fatalf("addReverseDepAndCheckIfDone on Done node = %v, want AlreadyDone", status)
	}
}

func TestSetValueFirstCommitAlwaysChanged(t *testing.T) {
	n := newNodeEntry(newTestKey("t", "n"))
	_, changed, retracted := n.setValue("v1", nil)
	if !changed {
		t.Fatalf("first commit should always report changed=true")
	}
	if len(retracted) != 0 {
		t.Fatalf("first commit should retract nothing, got %v", retracted)
	}
	if n.State() != stateDone {
		t.Fatalf("state after setValue = %v, want done", n.State())
	}
}

func TestSetValueUnchangedWhenEqual(t *testing.T) {
	n := newNodeEntry(newTestKey("t", "n"))
	n.setValue("v1", nil)

	n.markDirty(Change)
	n.beginRevalidationLocked()
	_, changed, _ := n.setValue("v1", nil)
	if changed {
		t.Fatalf("recommitting an equal value should report changed=false")
	}
}

func TestSetValueTracksRetractedDeps(t *testing.T) {
	n := newNodeEntry(newTestKey("t", "n"))
	a := newTestKey("t", "a")
	b := newTestKey("t", "b")

	n.startDepGroup()
	n.addDep(a)
	n.addDep(b)
	n.setValue("v1", nil)

	n.markDirty(Change)
	n.beginRevalidationLocked()
	n.startDepGroup()
	n.addDep(a) // b is not re-declared this time
	_, _, retracted := n.setValue("v2", nil)

	if len(retracted) != 1 || retracted[0] != b {
		t.Fatalf("retracted = %v, want [%v]", retracted, b)
	}
}

func TestMarkDirtyEscalatesAffectedToChange(t *testing.T) {
	n := newNodeEntry(newTestKey("t", "n"))
	n.setValue("v", nil)

	n.markDirty(Affected)
	if n.dirtyType != Affected {
		t.Fatalf("dirtyType = %v, want Affected", n.dirtyType)
	}
	n.markDirty(Change)
	if n.dirtyType != Change {
		t.Fatalf("dirtyType = %v, want Change after escalation", n.dirtyType)
	}
}

func TestRecommitUnchangedPreservesDeps(t *testing.T) {
	n := newNodeEntry(newTestKey("t", "n"))
	a := newTestKey("t", "a")
	n.startDepGroup()
	n.addDep(a)
	n.setValue("v", nil)

	n.markDirty(Affected)
	n.beginRevalidationLocked()
	if n.subState != checkDependencies {
		t.Fatalf("subState = %v, want checkDependencies", n.subState)
	}

	group, ok := n.nextCheckGroup()
	if !ok || len(group) != 1 || group[0] != a {
		t.Fatalf("nextCheckGroup = %v, %v; want [a], true", group, ok)
	}
	if !n.checkComplete() {
		t.Fatalf("checkComplete() = false before any dep was marked changed")
	}

	n.recommitUnchanged()
	if n.State() != stateDone {
		t.Fatalf("state after recommitUnchanged = %v, want done", n.State())
	}
	if got := n.committedDeps.flatten(); len(got) != 1 || got[0] != a {
		t.Fatalf("committedDeps after recommitUnchanged = %v, want [a]", got)
	}
}

func TestRemoveReverseDep(t *testing.T) {
	n := newNodeEntry(newTestKey("t", "n"))
	rdep := newNodeEntry(newTestKey("t", "rdep"))
	n.addReverseDepAndCheckIfDone(rdep)
	if len(n.reverseDeps()) != 1 {
		t.Fatalf("expected one reverse dep")
	}
	n.removeReverseDep(rdep.key)
	if len(n.reverseDeps()) != 0 {
		t.Fatalf("expected reverse dep to be removed")
	}
}
