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
	"fmt"
	"reflect"

	"github.com/petermattis/goid"
)

// ErrQueryNotHandled is returned when a query's runtime type has no handler
// registered in its [Registry] and does not implement [SelfHandler].
type ErrQueryNotHandled struct {
	Type reflect.Type
}

func (e *ErrQueryNotHandled) Error() string {
	return fmt.Sprintf("kwery: no handler registered for query type %v", e.Type)
}

// ErrMultipleHandlers is returned by [Register] when a query type already
// has a handler bound in the same [Builder].
type ErrMultipleHandlers struct {
	Type reflect.Type
}

func (e *ErrMultipleHandlers) Error() string {
	return fmt.Sprintf("kwery: handler already registered for query type %v", e.Type)
}

// ErrCyclicDependency is returned when evaluating a query would re-enter its own
// in-flight evaluation, directly or transitively.
type ErrCyclicDependency struct {
	Key  any
	Path []any

	// GoroutineID is the id of the goroutine that discovered the cycle,
	// for correlating with a dump of concurrently in-flight evaluations.
	// Zero when the cycle was found by the serializer, which has no single
	// evaluating goroutine to blame.
	GoroutineID int64

	// Detail holds the underlying toposort panic message when this error
	// was raised by a [Serializer] dump ([Serializer.DumpText] and its
	// binary and hex variants) rather than by evaluation.
	Detail string
}

func newErrCyclicDependency(key any, path []any) *ErrCyclicDependency {
	return &ErrCyclicDependency{Key: key, Path: path, GoroutineID: goid.Get()}
}

func (e *ErrCyclicDependency) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("kwery: cyclic dependency: %s", e.Detail)
	}
	return fmt.Sprintf("kwery: cyclic dependency on %#v (path: %v, goroutine %d)", e.Key, e.Path, e.GoroutineID)
}

// ErrPanic wraps a panic recovered from a handler, so that it can propagate
// through [Evaluate] as an ordinary error and be cached like any other
// failure.
type ErrPanic struct {
	Key        any
	Recovered  any
	StackTrace []byte
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("kwery: handler for %#v panicked: %v", e.Key, e.Recovered)
}

// ErrClosed is returned by [Evaluate] when the [Executor] has been shut down.
type ErrClosed struct{}

func (*ErrClosed) Error() string { return "kwery: executor closed" }
