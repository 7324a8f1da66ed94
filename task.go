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
	"reflect"
	"sync"

	"github.com/kwery-project/kwery/internal/ext/mapsx"
)

// Task is the evaluation context a registered handler or a [SelfHandler]
// receives. Its only real operation is [Resolve]: calling Resolve from
// within a handler
// both returns a dependency's value and records an edge from the query
// being computed to that dependency, which the engine uses to decide what
// to re-evaluate after an invalidation.
type Task struct {
	ctx  context.Context
	exec *Executor
	key  any
	path map[any]struct{}

	mu   sync.Mutex
	deps map[any]struct{}
}

// Context returns the context.Context the evaluation was started with.
// Handlers that perform I/O should respect its cancellation.
func (t *Task) Context() context.Context { return t.ctx }

func (t *Task) addDep(key any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deps == nil {
		t.deps = make(map[any]struct{})
	}
	t.deps[key] = struct{}{}
}

func (t *Task) depsSnapshot() map[any]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return mapsx.Clone(t.deps)
}

// Resolve evaluates q from within the handler holding t, recording q as a
// dependency of the query currently being computed. It is the only way a
// handler should obtain the value of another query: calling [Evaluate]
// directly from inside a handler would hide the dependency edge from the
// engine and break future invalidation.
//
// Resolve returns [*ErrCyclicDependency] if q is, directly or transitively, already
// being evaluated as part of the same call chain.
func Resolve[Q Query[T], T any](t *Task, q Q) (T, error) {
	var zero T
	key := q.Key()
	t.addDep(key)

	e := t.exec
	e.storeThunk(key, buildThunk[Q, T](e, q))

	if err := e.sem.Acquire(t.ctx, 1); err != nil {
		return zero, err
	}
	defer e.sem.Release(1)

	res := e.evaluateWithPath(t.ctx, key, t.path)
	if res.Err != nil {
		return zero, res.Err
	}
	v, _ := res.Value.(T)
	return v, nil
}

// buildThunk closes over q's static type so that dispatch (registry lookup,
// then SelfHandler fallback) can be resolved once and replayed by the
// engine on every later recompute of key, without the caller needing to
// supply q again.
func buildThunk[Q Query[T], T any](e *Executor, q Q) func(*Task) (any, error) {
	return func(t *Task) (any, error) {
		if h, ok := e.registry.lookup(q); ok {
			return h(q, t)
		}
		if sh, ok := any(q).(SelfHandler[T]); ok {
			return sh.DefaultHandler(t)
		}
		return nil, &ErrQueryNotHandled{Type: reflect.TypeOf(q)}
	}
}
