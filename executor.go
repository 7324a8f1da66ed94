// Copyright 2026 The Kwery Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kwery

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Executor evaluates queries against a [Graph], caching results and
// bounding how much dependency evaluation runs concurrently. The zero value
// is not usable; construct one with [NewExecutor].
type Executor struct {
	graph    *Graph
	registry *Registry
	sem      *semaphore.Weighted
	group    singleflight.Group

	thunksMu sync.RWMutex
	thunks   map[any]func(*Task) (any, error)

	watchCtx    context.Context
	watchCancel context.CancelFunc

	closed atomic.Bool
}

// NewExecutor builds an Executor from opts. With no options, it starts from
// an empty graph, no registered handlers (self-handling queries only), and
// a parallelism bound of runtime.GOMAXPROCS(0).
func NewExecutor(opts ...Option) *Executor {
	o := resolveOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		graph:       o.graph,
		registry:    o.registry,
		sem:         semaphore.NewWeighted(o.parallelism),
		thunks:      make(map[any]func(*Task) (any, error)),
		watchCtx:    ctx,
		watchCancel: cancel,
	}
}

// Graph returns the executor's underlying dependency graph. The returned
// value is the live graph, not a copy: mutating it outside of [Evaluate],
// [Executor.Invalidate], and [Executor.Remove] voids the engine's
// invariants.
func (e *Executor) Graph() *Graph { return e.graph }

func (e *Executor) storeThunk(key any, thunk func(*Task) (any, error)) {
	e.thunksMu.Lock()
	defer e.thunksMu.Unlock()
	e.thunks[key] = thunk
}

func (e *Executor) loadThunk(key any) func(*Task) (any, error) {
	e.thunksMu.RLock()
	defer e.thunksMu.RUnlock()
	return e.thunks[key]
}

// dedupKey collapses a query key to the string singleflight.Group needs.
// Keys that compare structurally equal format identically under %#v for
// every ordinary query (structs, primitives, pointers); queries whose Key()
// embeds something that formats non-deterministically (e.g. a map) will
// simply miss the in-flight dedup fast path rather than misbehave.
func dedupKey(key any) string {
	return fmt.Sprintf("%#v", key)
}

func keysOf(m map[any]struct{}) []any {
	out := make([]any, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func extendPath(parent map[any]struct{}, key any) map[any]struct{} {
	out := make(map[any]struct{}, len(parent)+1)
	for k := range parent {
		out[k] = struct{}{}
	}
	out[key] = struct{}{}
	return out
}

// Evaluate returns q's cached result if valid, otherwise evaluates it
// (probing and re-using dependencies where possible) and caches the
// outcome. It is the entry point for callers outside of any handler; code
// running inside a handler must use [Resolve] instead, so that the
// dependency edge is recorded.
func Evaluate[Q Query[T], T any](ctx context.Context, e *Executor, q Q) (T, error) {
	var zero T
	if e.closed.Load() {
		return zero, &ErrClosed{}
	}
	key := q.Key()
	e.storeThunk(key, buildThunk[Q, T](e, q))

	res := e.evaluateWithPath(ctx, key, nil)
	if res.Err != nil {
		return zero, res.Err
	}
	v, _ := res.Value.(T)
	return v, nil
}

// evaluateWithPath is the type-erased core of evaluation. parentPath is the
// set of keys already being evaluated higher up this call chain (excluding
// key itself); it is used only for cycle detection.
func (e *Executor) evaluateWithPath(ctx context.Context, key any, parentPath map[any]struct{}) Result[any] {
	if _, ok := parentPath[key]; ok {
		return Result[any]{Err: newErrCyclicDependency(key, keysOf(parentPath))}
	}
	if e.graph.Validity(key) == Valid {
		if v, ok := e.graph.Get(key); ok {
			return v
		}
	}

	path := extendPath(parentPath, key)
	v, _, _ := e.group.Do(dedupKey(key), func() (interface{}, error) {
		res := e.evaluateLocked(ctx, key, path)
		return res, res.Err
	})
	return v.(Result[any])
}

// evaluateLocked runs the full evaluate protocol for key: return the cached
// value if Valid, attempt the weak-invalidation fast path if
// WeaklyInvalid, and otherwise fully recompute. Only one goroutine runs
// this for a given key at a time, via the singleflight.Group in
// evaluateWithPath.
func (e *Executor) evaluateLocked(ctx context.Context, key any, path map[any]struct{}) Result[any] {
	switch e.graph.Validity(key) {
	case Valid:
		if v, ok := e.graph.Get(key); ok {
			return v
		}
	case WeaklyInvalid:
		if e.probeWeak(ctx, key, path) {
			if v, ok := e.graph.Get(key); ok {
				return v
			}
		}
	}
	return e.recompute(ctx, key, path)
}

// probeWeak evaluates key's recorded dependencies (concurrently, bounded by
// e.sem) and attempts to promote key back to Valid without re-running its
// handler. It reports whether the promotion succeeded.
func (e *Executor) probeWeak(ctx context.Context, key any, path map[any]struct{}) bool {
	deps := e.graph.Deps(key)
	var wg sync.WaitGroup
	for d := range deps {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer e.sem.Release(1)
			e.evaluateWithPath(ctx, d, path)
		}()
	}
	wg.Wait()
	return e.graph.ValidateWeak(key)
}

// recompute runs key's handler inside a fresh [Task] and caches the
// outcome, whether success or failure.
func (e *Executor) recompute(ctx context.Context, key any, path map[any]struct{}) Result[any] {
	thunk := e.loadThunk(key)
	if thunk == nil {
		return Result[any]{Err: &ErrQueryNotHandled{}}
	}
	t := &Task{ctx: ctx, exec: e, key: key, path: path}
	value, err := invokeSafely(thunk, t)
	res := Result[any]{Value: value, Err: err}
	e.graph.Put(key, res, t.depsSnapshot(), Valid)
	return res
}

func invokeSafely(thunk func(*Task) (any, error), t *Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ErrPanic{Key: t.key, Recovered: r, StackTrace: debug.Stack()}
		}
	}()
	return thunk(t)
}

// keyed is satisfied by any Query[T], for any T: it lets [Executor.Invalidate]
// and [Executor.Remove] accept a query without the caller naming its result
// type.
type keyed interface {
	Key() any
}

// Invalidate marks q StronglyInvalid and weakly invalidates its transitive
// dependents, so that the next [Evaluate] of a dependent probes its own
// dependencies rather than returning a stale cached value outright.
func (e *Executor) Invalidate(q keyed) {
	e.graph.Invalidate(q.Key())
}

// Remove deletes q's cached value and outgoing dependency edges, as if it
// had never been evaluated. Direct dependents become StronglyInvalid;
// further transitive dependents become WeaklyInvalid.
func (e *Executor) Remove(q keyed) {
	e.graph.Remove(q.Key())
}

// Close stops any goroutines started by [Executor.Watch]. It does not wait
// for in-flight [Evaluate] calls to finish, but new ones return
// [*ErrClosed] immediately.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.watchCancel()
	}
}
