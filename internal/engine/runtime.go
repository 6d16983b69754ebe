// Copyright (c) The Ridgeline Authors
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Engine is the parallel evaluation driver described in §4.4. One Engine
// owns one NodeStore and one Interner and may run any number of
// overlapping Evaluate calls, so long as their root sets don't race on
// invalidation (callers serialize Invalidate/MarkAffected against
// in-flight Evaluate calls themselves; the Engine does not do this for
// them).
type Engine struct {
	interner *Interner
	store    *NodeStore
	log      hclog.Logger
	listener Listener

	mu       sync.RWMutex
	registry map[Tag]Evaluator

	workers int64
}

// Option configures a new Engine.
type Option func(*Engine)

// WithLogger overrides the Engine's structured logger. The default is a
// no-op logger.
func WithLogger(l hclog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithListener overrides the Engine's default out-of-band event sink.
func WithListener(l Listener) Option { return func(e *Engine) { e.listener = l } }

// WithWorkers bounds how many Evaluator Functions may run concurrently.
// The default is 8.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = int64(n)
		}
	}
}

// New returns an Engine with no registered Evaluators.
func New(opts ...Option) *Engine {
	e := &Engine{
		interner: NewInterner(),
		store:    NewNodeStore(),
		log:      hclog.NewNullLogger(),
		listener: NilListener{},
		registry: make(map[Tag]Evaluator),
		workers:  8,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register associates tag with ev. Registering the same tag twice replaces
// the previous Evaluator; this is meant for setup time, not for
// runtime redefinition while Evaluate calls are in flight.
func (e *Engine) Register(tag Tag, ev Evaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[tag] = ev
}

func (e *Engine) evaluatorFor(tag Tag) (Evaluator, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ev, ok := e.registry[tag]
	return ev, ok
}

// Intern returns the canonical Key for (tag, arg); see Interner.Intern.
func (e *Engine) Intern(tag Tag, arg any, skipsBatchPrefetch, supportsPartialReevaluation bool) *Key {
	return e.interner.Intern(tag, arg, skipsBatchPrefetch, supportsPartialReevaluation)
}

// Invalidate marks each of keys Change-dirty and transitively marks their
// reverse deps Affected (§4.2). Keys with no existing entry are ignored.
func (e *Engine) Invalidate(keys []*Key) { e.store.MarkAffected(keys, Change) }

// MarkAffected marks each of keys Affected-dirty without asserting that
// its own inputs changed; see MarkAffected's Change-vs-Affected
// distinction. Reserved for callers that know a node's transitive closure
// might have changed but have no evidence about the node itself.
func (e *Engine) MarkAffected(keys []*Key) { e.store.MarkAffected(keys, Affected) }

// DeleteIf evicts every node whose key satisfies predicate, unlinking it
// from any surviving reverse-dep sets.
func (e *Engine) DeleteIf(predicate func(*Key) bool) int { return e.store.DeleteIf(predicate) }

// SignalExternalDep clears one pending Environment.AddExternalDep wait
// registered against key and wakes the goroutine driving it, if any.
func (e *Engine) SignalExternalDep(key *Key) {
	entry := e.store.Get(key)
	if entry == nil {
		return
	}
	if entry.signalExternalDep() {
		entry.notify()
	}
}

// Idle blocks until a full GC pass and Interner.Shrink have run. It is
// meant to be called between bursts of Evaluate calls, never concurrently
// with one, per §5's "idle-period tasks" contract.
func (e *Engine) Idle(ctx context.Context) {
	goruntime.GC()
	removed := e.interner.Shrink()
	e.log.Debug("idle maintenance complete", "interned_keys_removed", removed, "live_nodes", e.store.Len())
}

// Result is what Evaluate returns for one call.
type Result struct {
	Values map[*Key]Value
	Errors map[*Key]error
	Cycles []*CycleError
}

// HasErrors reports whether any root failed or any cycle was found.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 || len(r.Cycles) > 0 }

// Err aggregates every root error and cycle found during a keep_going=true
// Evaluate call into a single error, so a caller that ran many roots
// concurrently can report one summary instead of walking Errors and
// Cycles itself. It returns nil when HasErrors is false.
func (r *Result) Err() error {
	errs := make([]error, 0, len(r.Errors)+len(r.Cycles))
	for _, err := range r.Errors {
		errs = append(errs, err)
	}
	for _, c := range r.Cycles {
		errs = append(errs, c)
	}
	return aggregateErrors(errs...)
}

// Evaluate computes every key in roots, reusing whatever cached, unchanged
// state the NodeStore already holds, and returns once every root has
// either committed a value, committed an error, or been attributed to a
// cycle. If keepGoing is false, Evaluate returns as soon as the first root
// fails, cancelling every other in-flight root. Evaluate does not recover
// from an InvariantViolation panic.
func (e *Engine) Evaluate(ctx context.Context, roots []*Key, keepGoing bool) (*Result, error) {
	s := &scheduler{
		eng:       e,
		keepGoing: keepGoing,
		sem:       semaphore.NewWeighted(e.workers),
		progress:  make(chan struct{}, 1),
	}
	eg, egctx := errgroup.WithContext(ctx)
	s.eg = eg
	s.ctx = withRunID(egctx, uuid.NewString())

	seen := make(map[*Key]bool, len(roots))
	for _, root := range roots {
		if seen[root] {
			continue
		}
		seen[root] = true
		root := root
		s.spawn(root)
	}

	stallCtx, stopStall := context.WithCancel(context.Background())
	var cycles []*CycleError
	var cycleMu sync.Mutex
	stallDone := make(chan struct{})
	go func() {
		defer close(stallDone)
		s.watchForStall(stallCtx, func(members []*CycleError) {
			cycleMu.Lock()
			cycles = append(cycles, members...)
			cycleMu.Unlock()
		})
	}()

	err := eg.Wait()
	stopStall()
	<-stallDone

	cycleMu.Lock()
	result := &Result{
		Values: make(map[*Key]Value),
		Errors: make(map[*Key]error),
		Cycles: cycles,
	}
	cycleMu.Unlock()
	for _, root := range roots {
		entry := e.store.Get(root)
		if entry == nil {
			continue
		}
		if v, rerr, done := entry.snapshot(); done {
			if rerr != nil {
				result.Errors[root] = rerr
			} else {
				result.Values[root] = v
			}
		}
	}
	var missing *MissingDepError
	if err != nil && (!keepGoing || errors.As(err, &missing)) {
		return result, err
	}
	return result, nil
}

// scheduler holds the state shared by every node-driving goroutine spawned
// by one Evaluate call.
type scheduler struct {
	eng       *Engine
	ctx       context.Context
	eg        *errgroup.Group
	keepGoing bool
	sem       *semaphore.Weighted

	inFlight atomic.Int64 // goroutines currently driving a node
	blocked  atomic.Int64 // of those, how many are parked waiting on a dep

	progress chan struct{} // pinged on every commit, for the stall detector
}

func (s *scheduler) bumpProgress() {
	select {
	case s.progress <- struct{}{}:
	default:
	}
}

// spawn launches the goroutine that will drive key from its current state
// through to commit (or a fatal error), if one is not already running.
func (s *scheduler) spawn(key *Key) {
	entry := s.eng.store.CreateIfAbsent(key)
	s.spawnEntry(key, entry)
}

func (s *scheduler) spawnEntry(key *Key, entry *NodeEntry) {
	s.inFlight.Add(1)
	s.eg.Go(func() error {
		defer s.inFlight.Add(-1)
		return s.drive(key, entry)
	})
}

// drive owns key's evaluation from the moment it is scheduled until it
// commits. It loops across restarts, releasing its worker slot and
// blocking on entry's wake channel whenever the Evaluator reports missing
// inputs, and re-invoking Compute once something has changed.
func (s *scheduler) drive(key *Key, entry *NodeEntry) error {
	tag := key.Tag()
	ev, ok := s.eng.evaluatorFor(tag)
	if !ok {
		err := &MissingDepError{Key: key, DepTag: tag}
		s.commitError(entry, err)
		return err
	}

	// A root driven straight from spawn is never anyone's reverse dep, so
	// it never passes through addReverseDepAndCheckIfDone's Dirty case;
	// without this it would never enter CHECK_DEPENDENCIES and would be
	// unconditionally rebuilt even when unaffected (I3). No-op for a dep
	// entry, which already made this transition in ensureScheduled.
	entry.enterRootEvaluation()

	if err := s.runCheckDependenciesIfDirty(entry); err != nil {
		return s.wrapCancellation(key, err)
	}
	if entry.State() == stateDone {
		// CHECK_DEPENDENCIES found nothing changed and recommitted the
		// prior value without ever calling the Evaluator.
		return nil
	}
	entry.startRebuilding()

	for {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return s.wrapCancellation(key, err)
		}
		env := &Environment{ctx: s.ctx, eng: s.eng, self: entry, listener: s.eng.listener}
		value, err := ev.Compute(s.ctx, key, env)
		s.sem.Release(1)

		if err == ErrRestart || (err == nil && env.ValuesMissing()) {
			env.listener.OnEvent(s.ctx, Event{Kind: EventRestart, Key: key})
			if waitErr := s.awaitDeps(entry, env); waitErr != nil {
				return s.wrapCancellation(key, waitErr)
			}
			if entry.State() == stateDone {
				// Something else (the cycle detector's commitError, most
				// commonly) already committed a terminal value for this
				// node while we were parked. Recomputing here would
				// clobber that commit with a fabricated real value, so
				// this wake is not ours to act on.
				return nil
			}
			continue
		}
		if err == errAbortSentinel {
			err = env.depErr
		}

		rdeps, changed, retracted := entry.setValue(value, err)
		s.eng.applyRetractions(entry.key, retracted)
		s.bumpProgress()
		env.listener.OnEvent(s.ctx, Event{Kind: EventCommit, Key: key, Payload: changed})
		s.wakeRDeps(rdeps)

		if err != nil && !s.keepGoing {
			return &EvaluationError{Key: key, Err: err}
		}
		return nil
	}
}

// wrapCancellation turns a bare context error surfaced from the park/wait
// plumbing into a CancellationError naming the node that was in flight. It
// becomes the driving goroutine's return value, which Evaluate returns as
// its error when keepGoing is false; Result.Errors holds only committed
// errors, so a cancelled node is not listed there.
func (s *scheduler) wrapCancellation(key *Key, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CancellationError{Key: key}
	}
	return err
}

// runCheckDependenciesIfDirty performs the §4.3 CHECK_DEPENDENCIES walk
// when entry was Dirty (not Change) and is being revisited. It returns
// once the node either recommits unchanged (leaving entry Done) or
// escalates to NEEDS_REBUILDING (leaving entry ready for drive's normal
// Evaluator-invoking loop).
func (s *scheduler) runCheckDependenciesIfDirty(entry *NodeEntry) error {
	for {
		group, ok := entry.nextCheckGroup()
		if !ok {
			break
		}
		anyChanged, err := s.awaitAndCheckGroup(entry, group)
		if err != nil {
			return err
		}
		if anyChanged {
			entry.markDepChangedDuringCheck()
			break
		}
	}
	if entry.checkComplete() {
		rdeps := entry.recommitUnchanged()
		s.bumpProgress()
		s.eng.listener.OnEvent(s.ctx, Event{Kind: EventCommit, Key: entry.key, Payload: false})
		s.wakeRDeps(rdeps)
	}
	return nil
}

// awaitAndCheckGroup requests every key in group as a dependency of entry,
// waits for all of them to become Done, and reports whether any of them
// changed relative to the value entry saw the last time it committed.
func (s *scheduler) awaitAndCheckGroup(entry *NodeEntry, group []*Key) (anyChanged bool, err error) {
	for _, depKey := range group {
		depEntry := s.eng.store.CreateIfAbsent(depKey)
		if err := s.waitForDone(entry, depKey, depEntry); err != nil {
			return false, err
		}
		if depEntry.Changed() {
			anyChanged = true
		}
	}
	return anyChanged, nil
}

// awaitDeps blocks the calling goroutine until this Compute call's
// declared deps are worth re-checking. An Evaluator that has not opted
// into SupportsPartialReevaluation is only ever restarted once every
// declared dep is Done, matching the naive "wait for the full batch"
// contract most Evaluators are written against; one that has opted in is
// restarted as soon as any single dep changes, which can mean Compute
// observes some deps still missing and declares another restart itself.
func (s *scheduler) awaitDeps(entry *NodeEntry, env *Environment) error {
	deps := entry.declaredDeps().flatten()

	// len(deps) > 0 guards the AddExternalDep case: an Evaluator that
	// calls AddExternalDep declares no Key-based dep at all, so falling
	// into the "wait for every declared dep" branch below would return
	// immediately without ever parking, spinning drive's loop until the
	// matching SignalExternalDep arrives instead of waiting for it.
	if !entry.key.SupportsPartialReevaluation() && len(deps) > 0 {
		return s.awaitAllDeps(entry, deps)
	}

	for _, depKey := range deps {
		depEntry := s.eng.store.CreateIfAbsent(depKey)
		if err := s.ensureScheduled(entry, depKey, depEntry); err != nil {
			return err
		}
	}
	return s.park(entry)
}

// awaitAllDeps implements the non-partial-reevaluation half of awaitDeps:
// every dep is handed to ensureScheduled first (so NEEDS_SCHEDULING keys are
// all enqueued up front, per §4.4 step 1), and only once every dep has a
// driving goroutine does the second pass block on each becoming Done. This
// keeps a wide fan-out node's deps evaluating concurrently with each other
// instead of one-at-a-time, matching §3's "requests may be issued
// concurrently" and §5's "distinct nodes evaluate in parallel".
func (s *scheduler) awaitAllDeps(entry *NodeEntry, deps []*Key) error {
	depEntries := make([]*NodeEntry, len(deps))
	for i, depKey := range deps {
		depEntry := s.eng.store.CreateIfAbsent(depKey)
		depEntries[i] = depEntry
		if err := s.ensureScheduled(entry, depKey, depEntry); err != nil {
			return err
		}
	}
	for _, depEntry := range depEntries {
		for {
			if _, _, done := depEntry.snapshot(); done {
				break
			}
			if err := s.park(entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// waitForDone requests depKey on behalf of entry and blocks until it is
// Done, looping through as many wake cycles as necessary.
func (s *scheduler) waitForDone(entry *NodeEntry, depKey *Key, depEntry *NodeEntry) error {
	for {
		if _, _, done := depEntry.snapshot(); done {
			return nil
		}
		if err := s.ensureScheduled(entry, depKey, depEntry); err != nil {
			return err
		}
		if err := s.park(entry); err != nil {
			return err
		}
	}
}

// ensureScheduled makes sure depEntry has a driving goroutine, registering
// entry as its reverse dep in the process.
func (s *scheduler) ensureScheduled(entry *NodeEntry, depKey *Key, depEntry *NodeEntry) error {
	switch depEntry.addReverseDepAndCheckIfDone(entry) {
	case AlreadyDone:
		entry.notify()
	case NeedsScheduling:
		s.spawnEntry(depKey, depEntry)
	case AlreadyEvaluating:
		// Someone else is already driving it; we'll be notified via rdeps.
	}
	return s.ctx.Err()
}

// park suspends the calling goroutine on entry's wake channel, giving up
// its worker slot while parked so the pool can make progress elsewhere.
func (s *scheduler) park(entry *NodeEntry) error {
	s.blocked.Add(1)
	defer s.blocked.Add(-1)

	select {
	case <-entry.waitChan():
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// wakeRDeps notifies every reverse dep collected by a commit that it
// should re-check its inputs.
func (s *scheduler) wakeRDeps(rdeps []*NodeEntry) {
	for _, r := range rdeps {
		r.notify()
	}
}

func (s *scheduler) commitError(entry *NodeEntry, err error) {
	if err == nil {
		return
	}
	rdeps, _, retracted := entry.setValue(nil, err)
	s.eng.applyRetractions(entry.key, retracted)
	s.wakeRDeps(rdeps)
}

// applyRetractions removes self from the reverse-dep set of every key that
// used to be a dependency but was not re-declared, per §8's retraction
// boundary behavior.
func (e *Engine) applyRetractions(self *Key, retracted []*Key) {
	for _, depKey := range retracted {
		if dep := e.store.Get(depKey); dep != nil {
			dep.removeReverseDep(self)
		}
	}
}

// watchForStall polls the scheduler for quiescence: every in-flight
// goroutine parked and no commit observed for three consecutive short
// polls. When it fires, it runs cycle detection over whatever nodes
// are still not Done and reports each strongly connected component it
// finds through report. This is a deliberately simple, timing-based
// detector rather than a fully event-driven one; see the design notes for
// why that tradeoff was made.
func (s *scheduler) watchForStall(ctx context.Context, report func([]*CycleError)) {
	const pollInterval = 4 * time.Millisecond
	quietPolls := 0
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.progress:
			quietPolls = 0
		case <-ticker.C:
			if inFlight := s.inFlight.Load(); inFlight > 0 && s.blocked.Load() >= inFlight {
				quietPolls++
			} else {
				quietPolls = 0
			}
			if quietPolls >= 3 {
				cycles := detectCycles(s.eng.store)
				if len(cycles) > 0 {
					for _, c := range cycles {
						s.eng.listener.OnEvent(ctx, Event{Kind: EventCycle, Payload: c})
						for _, member := range c.Members {
							if entry := s.eng.store.Get(member); entry != nil {
								s.eng.commitError(entry, fmt.Errorf("%w", c))
							}
						}
					}
					report(cycles)
				}
				quietPolls = 0
			}
		}
	}
}

// commitError is also reachable from the cycle detector, which commits a
// synthetic error to every member of a detected cycle so their reverse
// deps unblock instead of waiting forever.
func (e *Engine) commitError(entry *NodeEntry, err error) {
	rdeps, _, retracted := entry.setValue(nil, err)
	e.applyRetractions(entry.key, retracted)
	for _, r := range rdeps {
		r.notify()
	}
}
