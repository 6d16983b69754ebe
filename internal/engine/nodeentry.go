// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import "sync"

// nodeState is the externally observable lifecycle state from §3.
type nodeState int

const (
	stateJustCreated nodeState = iota
	stateEvaluating
	stateDone
	stateDirty
)

func (s nodeState) String() string {
	switch s {
	case stateJustCreated:
		return "just-created"
	case stateEvaluating:
		return "evaluating"
	case stateDone:
		return "done"
	case stateDirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// AddRDepStatus is the result of AddReverseDepAndCheckIfDone.
type AddRDepStatus int

const (
	// AlreadyDone means the entry was already Done; the caller should
	// immediately treat the dep as satisfied.
	AlreadyDone AddRDepStatus = iota
	// NeedsScheduling is returned exactly once per evaluation of this
	// entry; the receiving caller is responsible for starting/continuing
	// the evaluation (enqueuing it onto the ready queue).
	NeedsScheduling
	// AlreadyEvaluating means some other in-flight request has already
	// claimed scheduling duty; the caller only needs to wait.
	AlreadyEvaluating
)

// DirtyType distinguishes a node whose own declared inputs changed
// (Change) from one that is merely downstream of a change and may still
// be pruned (Affected). Affected is the weaker of the two: marking an
// already-Change node Affected is a no-op, but marking an Affected node
// Change upgrades it.
type DirtyType int

const (
	Affected DirtyType = iota
	Change
)

// dirtySubState is valid only while a previously-Done node is Evaluating
// again after being marked dirty; see §4.3.
type dirtySubState int

const (
	subStateNone dirtySubState = iota
	checkDependencies
	needsRebuilding
	rebuilding
)

// depGroups is an ordered list of concurrently-declared dependency
// batches, append-only during one evaluation (§3: "temporary_direct_deps").
type depGroups [][]*Key

func (g depGroups) flatten() []*Key {
	var out []*Key
	for _, grp := range g {
		out = append(out, grp...)
	}
	return out
}

func (g depGroups) contains(k *Key) bool {
	for _, grp := range g {
		for _, d := range grp {
			if d == k {
				return true
			}
		}
	}
	return false
}

// NodeEntry is the Engine's per-key record: value, declared deps, reverse
// deps, and dirty lifecycle state (§3). All methods lock the entry
// internally and return atomically with respect to concurrent callers, as
// required by §4.3.
type NodeEntry struct {
	key *Key

	mu sync.Mutex

	state nodeState

	value    Value
	err      error
	hasValue bool // true once at least one commit has happened

	// changed records whether the most recent commit produced a value
	// that differs (by valuesEqual) from whatever value preceded it. It
	// is what a dependent consults during its own CHECK_DEPENDENCIES walk
	// to decide whether this dep forces a rebuild (I3).
	changed bool

	committedDeps depGroups // deps as of the last commit
	tempDeps      depGroups // deps being declared during the current evaluation

	// tempDepSet mirrors tempDeps.flatten() as a set, populated only for
	// keys with SkipsBatchPrefetch set, so addDep's membership check is
	// O(1) instead of depGroups.contains's linear scan.
	tempDepSet map[*Key]bool

	rdeps map[*Key]*NodeEntry

	dirtyType  DirtyType
	subState   dirtySubState
	checkGroup int // index of the next group in committedDeps to re-request for CHECK_DEPENDENCIES

	scheduledThisEval bool

	externalDepPending int // count of outstanding add_external_dep waits

	// computeState is an Evaluator-owned slot that survives restarts,
	// exposed through Environment.GetState. The Engine clears it once the
	// node commits.
	computeState any

	// wake is lazily created and used by the runtime to suspend the
	// goroutine driving this node across a restart: it blocks on wake
	// after releasing its worker slot, and any dep completion (or
	// external-dep signal) affecting this node performs a non-blocking
	// send so the goroutine wakes up and re-checks its inputs.
	wake chan struct{}
}

func newNodeEntry(key *Key) *NodeEntry {
	return &NodeEntry{key: key, state: stateJustCreated, rdeps: make(map[*Key]*NodeEntry)}
}

// State returns the current lifecycle state. Exposed for tests and
// invariant checks; ordinary callers go through the Engine.
func (n *NodeEntry) State() nodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// snapshot returns the committed value/error without requiring the caller
// to hold the lock; ok is false unless the node is Done.
func (n *NodeEntry) snapshot() (value Value, err error, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == stateDone {
		return n.value, n.err, true
	}
	return nil, nil, false
}

// addReverseDepAndCheckIfDone is called on a dependency's entry by the
// node that wants to depend on it (rdep). It performs the
// Non-existent/Just-created/Dirty -> Evaluating transition when needed and
// records rdep in reverse_deps unconditionally (I1).
func (n *NodeEntry) addReverseDepAndCheckIfDone(rdep *NodeEntry) AddRDepStatus {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.rdeps[rdep.key] = rdep

	switch n.state {
	case stateDone:
		return AlreadyDone
	case stateEvaluating:
		if !n.scheduledThisEval {
			n.scheduledThisEval = true
			return NeedsScheduling
		}
		return AlreadyEvaluating
	case stateJustCreated:
		n.state = stateEvaluating
		n.scheduledThisEval = true
		return NeedsScheduling
	case stateDirty:
		n.state = stateEvaluating
		n.scheduledThisEval = true
		n.beginRevalidationLocked()
		return NeedsScheduling
	default:
		panicInvariant("I2", "addReverseDepAndCheckIfDone observed an impossible state")
	}
	return AlreadyEvaluating
}

// beginRevalidationLocked sets up the dirty sub-state machine for a node
// that was Dirty and is now Evaluating again. Must be called with n.mu
// held.
func (n *NodeEntry) beginRevalidationLocked() {
	n.checkGroup = 0
	n.tempDeps = nil
	n.tempDepSet = nil
	if n.dirtyType == Change {
		// The node's own inputs changed; skip the dependency walk
		// entirely and go straight to invoking the Evaluator.
		n.subState = needsRebuilding
	} else {
		n.subState = checkDependencies
	}
}

// enterRootEvaluation performs the JustCreated/Dirty -> Evaluating
// transition for a node driven directly as an Evaluate root. Roots are
// never anyone's reverse dep, so they never pass through
// addReverseDepAndCheckIfDone's stateDirty case; without this, a dirty
// root would never call beginRevalidationLocked and its subState would
// stay subStateNone forever, defeating CHECK_DEPENDENCIES for roots (I3).
// A no-op on any node already past that transition, so it is safe for the
// scheduler to call unconditionally at the top of drive.
func (n *NodeEntry) enterRootEvaluation() {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case stateJustCreated:
		n.state = stateEvaluating
		n.scheduledThisEval = true
	case stateDirty:
		n.state = stateEvaluating
		n.scheduledThisEval = true
		n.beginRevalidationLocked()
	}
}

// nextCheckGroup returns the next group of previously-declared deps to
// re-request during CHECK_DEPENDENCIES, or ok=false once the walk has
// exhausted committedDeps (meaning every dep was unchanged and the node
// can commit its prior value).
func (n *NodeEntry) nextCheckGroup() (group []*Key, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.checkGroup >= len(n.committedDeps) {
		return nil, false
	}
	grp := n.committedDeps[n.checkGroup]
	n.checkGroup++
	return grp, true
}

// markDepChangedDuringCheck records that one of the deps visited during
// CHECK_DEPENDENCIES differed from its previous value, forcing a full
// rebuild (§4.3 case (b)).
func (n *NodeEntry) markDepChangedDuringCheck() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subState == checkDependencies {
		n.subState = needsRebuilding
	}
}

// checkComplete reports whether CHECK_DEPENDENCIES finished without any
// dep changing, meaning the node can commit its prior value unchanged.
func (n *NodeEntry) checkComplete() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subState == checkDependencies
}

// startRebuilding transitions NEEDS_REBUILDING -> REBUILDING, i.e. "the
// Evaluator Function is about to be invoked".
func (n *NodeEntry) startRebuilding() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subState = rebuilding
}

// startDepGroup opens a new, empty dependency group; subsequent addDep
// calls append to it.
func (n *NodeEntry) startDepGroup() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tempDeps = append(n.tempDeps, nil)
}

// addDep appends key to the currently-open dependency group, opening one
// first if none is open yet.
func (n *NodeEntry) addDep(key *Key) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.tempDeps) == 0 {
		n.tempDeps = append(n.tempDeps, nil)
	}

	if n.key.SkipsBatchPrefetch() {
		if n.tempDepSet == nil {
			n.tempDepSet = make(map[*Key]bool)
		}
		if n.tempDepSet[key] {
			return
		}
		n.tempDepSet[key] = true
	} else if n.tempDeps.contains(key) {
		return
	}

	last := len(n.tempDeps) - 1
	n.tempDeps[last] = append(n.tempDeps[last], key)
}

// declaredDeps returns the dep groups declared so far in the current
// evaluation.
func (n *NodeEntry) declaredDeps() depGroups {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(depGroups, len(n.tempDeps))
	copy(out, n.tempDeps)
	return out
}

// setValue commits value/err, transitions the node to Done, and returns
// the set of reverse deps that must now be signaled along with whether
// this commit changed relative to whatever was there before (I3).
//
// retractedDeps lists deps that were declared in a previous build
// (committedDeps) but not re-declared this time; the caller (the Engine)
// must remove this node from each of their reverse_deps sets, per the
// "retracted deps are removed from reverse_deps before commit" boundary
// behavior in §8.
func (n *NodeEntry) setValue(value Value, err error) (rdeps []*NodeEntry, changed bool, retractedDeps []*Key) {
	n.mu.Lock()
	defer n.mu.Unlock()

	prevValue := n.value
	switch {
	case err != nil:
		changed = true
	case !n.hasValue:
		changed = true
	default:
		changed = !valuesEqual(value, prevValue)
	}

	oldFlat := n.committedDeps.flatten()
	newFlat := n.tempDeps.flatten()
	newSet := make(map[*Key]bool, len(newFlat))
	for _, k := range newFlat {
		newSet[k] = true
	}
	for _, k := range oldFlat {
		if !newSet[k] {
			retractedDeps = append(retractedDeps, k)
		}
	}

	n.value = value
	n.err = err
	n.hasValue = true
	n.committedDeps = n.tempDeps
	n.tempDeps = nil
	n.tempDepSet = nil
	n.state = stateDone
	n.subState = subStateNone
	n.scheduledThisEval = false
	n.changed = changed
	n.computeState = nil

	rdeps = make([]*NodeEntry, 0, len(n.rdeps))
	for _, r := range n.rdeps {
		rdeps = append(rdeps, r)
	}
	return rdeps, changed, retractedDeps
}

// markDirty transitions Done -> Dirty (or escalates an already-Dirty
// node's dirtyType from Affected to Change). It is a no-op on a node that
// does not exist yet as Done/Dirty in the caller's view; the Engine is
// responsible for only calling this on nodes fetched from the store.
func (n *NodeEntry) markDirty(dirtyType DirtyType) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case stateDone:
		n.state = stateDirty
		n.dirtyType = dirtyType
	case stateDirty:
		if dirtyType == Change {
			n.dirtyType = Change
		}
	case stateEvaluating:
		// A change arrived mid-evaluation. The dirty type is recorded,
		// but the in-flight evaluation still completes and commits
		// using the inputs it already observed, leaving the node Done;
		// the change is not applied again after that commit.
		if dirtyType == Change {
			n.dirtyType = Change
		}
	case stateJustCreated:
		// Nothing to invalidate yet.
	}
}

// isDirtyDone reports whether the node is Dirty (was Done).
func (n *NodeEntry) isDirtyDone() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == stateDirty
}

// removeReverseDep deletes key from reverse_deps; used both for retracted
// deps (I1 restoration) and when deleting a node.
func (n *NodeEntry) removeReverseDep(key *Key) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rdeps, key)
}

// reverseDeps returns a snapshot of the current reverse-dep set, used by
// mark_affected's transitive walk.
func (n *NodeEntry) reverseDeps() []*NodeEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*NodeEntry, 0, len(n.rdeps))
	for _, r := range n.rdeps {
		out = append(out, r)
	}
	return out
}

// getAllRemainingDirtyDirectDeps returns committedDeps not yet
// re-declared by the in-progress evaluation. Used while rebuilding to
// release rdep links for deps that will not be re-requested.
func (n *NodeEntry) getAllRemainingDirtyDirectDeps() []*Key {
	n.mu.Lock()
	defer n.mu.Unlock()
	old := n.committedDeps.flatten()
	newSet := make(map[*Key]bool)
	for _, k := range n.tempDeps.flatten() {
		newSet[k] = true
	}
	var out []*Key
	for _, k := range old {
		if !newSet[k] {
			out = append(out, k)
		}
	}
	return out
}

// addExternalDep increments the outstanding external-wait counter,
// keeping the node Evaluating until signalExternalDep is called a
// matching number of times.
func (n *NodeEntry) addExternalDep() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.externalDepPending++
}

func (n *NodeEntry) signalExternalDep() (cleared bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.externalDepPending > 0 {
		n.externalDepPending--
	}
	return n.externalDepPending == 0
}

// getState/setState back Environment.GetState: an Evaluator-owned slot
// that survives restarts and is cleared on commit.
func (n *NodeEntry) getState() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.computeState
}

func (n *NodeEntry) setState(v any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.computeState = v
}

// snapshotForCycleDetection returns the node's current state and its
// currently-declared (possibly incomplete) deps, for use only by the
// cycle detector's periodic graph walk.
func (n *NodeEntry) snapshotForCycleDetection() (nodeState, []*Key) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != stateEvaluating {
		return n.state, nil
	}
	return n.state, n.tempDeps.flatten()
}

// Changed reports whether the most recent commit changed this node's
// value, per I3. Valid once the node is Done.
func (n *NodeEntry) Changed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changed
}

// waitChan returns the channel a driving goroutine should block on while
// suspended between restarts, creating it on first use.
func (n *NodeEntry) waitChan() chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.wake == nil {
		n.wake = make(chan struct{}, 1)
	}
	return n.wake
}

// notify wakes up a goroutine parked in waitChan, if any. It never blocks:
// a pending, undelivered notification is coalesced into the one already
// buffered, since the receiver always re-checks all of its inputs from
// scratch rather than trusting the notification's cause.
func (n *NodeEntry) notify() {
	n.mu.Lock()
	if n.wake == nil {
		n.wake = make(chan struct{}, 1)
	}
	ch := n.wake
	n.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

// recommitUnchanged closes out a CHECK_DEPENDENCIES walk that found every
// previously-declared dep unchanged: the node keeps its prior value and
// committedDeps untouched and returns straight to Done without ever
// invoking the Evaluator Function.
func (n *NodeEntry) recommitUnchanged() (rdeps []*NodeEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.state = stateDone
	n.subState = subStateNone
	n.scheduledThisEval = false
	n.changed = false
	n.computeState = nil

	rdeps = make([]*NodeEntry, 0, len(n.rdeps))
	for _, r := range n.rdeps {
		rdeps = append(rdeps, r)
	}
	return rdeps
}
