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

/*
Package kwery implements a general-purpose incremental query engine, in the
style used by modern compiler front-ends (Salsa, rustc's query system,
Adapton).

Clients express computation as [Query] values with identity. A [Query]'s
result is produced by a handler function bound in a [Registry] via
[Register], or, failing that, by the query's own [SelfHandler]
implementation. An [Executor] caches results, tracks the dynamic
dependency edges recorded between queries during evaluation, and
re-evaluates only what an external change could plausibly have affected.

# Evaluating a query

Call [Evaluate] with an [Executor] and a [Query]. The first evaluation
dispatches to a handler inside a capturing [Task], which records every
nested [Resolve] call as a dependency of the query being computed. Later
calls return the cached result, unless the query (or one of its transitive
dependencies) has been invalidated.

# Invalidation

External facts change outside of the query graph: a file is edited, a
socket delivers new bytes. [Executor.Invalidate] marks a query as
STRONGLY_INVALID, the only permanently-recompute-required cache state, and
weakly invalidates every transitive dependent, so that the next [Evaluate]
of a dependent probes its own dependencies rather than unconditionally
re-running its handler. A query whose result depends on external facts can
implement [Observable]; passing it to [Executor.Watch] routes its change
notifications to [Executor.Invalidate]. The executor does not subscribe to
anything on its own: only queries passed to Watch are watched.

# Persistence

A [Serializer] can dump an [Executor]'s graph (see [Serializer.DumpText],
[Serializer.DumpBinary], [Serializer.DumpHex]) to a topologically ordered,
self-describing snapshot, and load it back (the matching Load* method)
into a fresh graph with a coherent validity state.
*/
package kwery
