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
	"reflect"
	"sync"

	"github.com/tidwall/btree"
)

// erasedHandler is a type-erased handler: it accepts the query boxed as
// any and returns its result boxed as any, so that a single map can hold
// handlers for arbitrarily many distinct query types.
type erasedHandler func(q any, t *Task) (any, error)

// Registry maps a query's runtime type to the handler that computes it.
// Registries are immutable once built; construct one with a [Builder].
type Registry struct {
	handlers map[reflect.Type]erasedHandler

	// order indexes the same types by name, so that Types can enumerate
	// them deterministically instead of in map iteration order.
	order btree.Map[string, reflect.Type]
}

// lookup returns the handler registered for q's runtime type, if any.
func (r *Registry) lookup(q any) (erasedHandler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[reflect.TypeOf(q)]
	return h, ok
}

// Types returns every query type with a registered handler, ordered by
// type name. Deterministic enumeration matters here the same way it
// matters for the serializer's Dump: two runs over the same Registry
// should produce the same diagnostic or discovery output.
func (r *Registry) Types() []reflect.Type {
	if r == nil {
		return nil
	}
	types := make([]reflect.Type, 0, r.order.Len())
	r.order.Scan(func(_ string, typ reflect.Type) bool {
		types = append(types, typ)
		return true
	})
	return types
}

// Builder accumulates handler registrations before producing an immutable
// [Registry]. A zero Builder is ready to use.
type Builder struct {
	mu       sync.Mutex
	handlers map[reflect.Type]erasedHandler
}

// Register binds a handler function to the query type Q. It returns
// [*ErrMultipleHandlers] if Q already has a handler bound in this builder.
//
// Q and T are inferred from h's signature, so callers rarely need to name
// them explicitly:
//
//	Register(b, func(q ParseFile, t *kwery.Task) (*AST, error) { ... })
func Register[Q Query[T], T any](b *Builder, h func(Q, *Task) (T, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[reflect.Type]erasedHandler)
	}
	typ := typeKey[Q]()
	if _, ok := b.handlers[typ]; ok {
		return &ErrMultipleHandlers{Type: typ}
	}
	b.handlers[typ] = func(q any, t *Task) (any, error) {
		return h(q.(Q), t)
	}
	return nil
}

// MustRegister is like [Register], but panics on error. It is meant for use
// in init-time wiring, where a duplicate registration is a programming
// error, not a runtime condition.
func MustRegister[Q Query[T], T any](b *Builder, h func(Q, *Task) (T, error)) {
	if err := Register(b, h); err != nil {
		panic(err)
	}
}

// CanonicalHandler marks a value as the canonical handler for a query type,
// for use with [DiscoverHandlers]. Go has no runtime equivalent of scanning
// a package for annotated types, so discovery is driven by the caller
// passing candidate values explicitly; a candidate opts in by implementing
// this interface and claiming the query type it is canonical for.
//
// A package that wants its handlers discoverable typically exposes a
// package-level var implementing CanonicalHandler, so that callers can
// assemble the candidate list by import alone:
//
//	var Handlers kwery.CanonicalHandler = fileHandlers{}
type CanonicalHandler interface {
	// QueryType is the concrete query type this value is canonical for.
	// [DiscoverHandlers] does not call it; a conflict is reported by the
	// [Register] call inside RegisterHandler, as [ErrMultipleHandlers].
	QueryType() reflect.Type
	// RegisterHandler binds the handler(s) into b.
	RegisterHandler(b *Builder) error
}

// DiscoverHandlers registers every candidate's handler into b, in order,
// stopping at the first conflict. It is the "discovery by annotation" mode
// from spec: each candidate plays the role an annotation-scanner would have
// found by enumerating a package/namespace prefix.
func DiscoverHandlers(b *Builder, candidates ...CanonicalHandler) error {
	for _, c := range candidates {
		if err := c.RegisterHandler(b); err != nil {
			return err
		}
	}
	return nil
}

// Build freezes the accumulated registrations into a [Registry]. The
// Builder may continue to be used afterward; later registrations are not
// reflected in registries already built.
func (b *Builder) Build() *Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &Registry{handlers: make(map[reflect.Type]erasedHandler, len(b.handlers))}
	for k, v := range b.handlers {
		r.handlers[k] = v
		r.order.Set(k.String(), k)
	}
	return r
}
