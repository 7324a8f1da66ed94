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

// Query is a value with identity whose computed result is a T. Two queries
// that report equal Key() values are the same node in the dependency graph:
// evaluating one after the other returns the cached result of the first,
// subject to invalidation.
//
// Key must return a comparable value (it is used as a Go map key). Queries
// that embed slices, maps, or funcs in their Key must project those fields
// away.
type Query[T any] interface {
	Key() any
}

// SelfHandler is a [Query] that knows how to compute its own result, used
// when no handler has been registered for its runtime type. Self-handling
// lets leaf packages define ad-hoc queries without a central registration
// step.
type SelfHandler[T any] interface {
	Query[T]
	DefaultHandler(t *Task) (T, error)
}

// Result is the cached outcome of evaluating a query: either a Value, or an
// Err describing why evaluation failed. Failures are cached exactly like
// successes, and are re-thrown until the query is invalidated.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok reports whether r holds a successful value.
func (r Result[T]) Ok() bool { return r.Err == nil }
