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

import "runtime"

type options struct {
	graph       *Graph
	registry    *Registry
	parallelism int64
}

// Option configures a [NewExecutor] call.
type Option func(*options)

// WithGraph seeds the executor with a pre-populated graph, such as one
// produced by [Serializer.LoadText]. The graph is defensively cloned, so later
// mutation of g by the caller does not affect the executor.
func WithGraph(g *Graph) Option {
	return func(o *options) { o.graph = g.Clone() }
}

// WithRegistry supplies the handlers the executor dispatches to for query
// types that do not implement [SelfHandler].
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithParallelism bounds the number of dependency evaluations the executor
// runs concurrently. n must be positive; the default is
// runtime.GOMAXPROCS(0).
func WithParallelism(n int64) Option {
	return func(o *options) { o.parallelism = n }
}

func resolveOptions(opts []Option) *options {
	o := &options{parallelism: int64(runtime.GOMAXPROCS(0))}
	for _, opt := range opts {
		opt(o)
	}
	if o.graph == nil {
		o.graph = NewGraph()
	}
	if o.parallelism < 1 {
		o.parallelism = 1
	}
	return o
}
