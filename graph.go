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

	"github.com/kwery-project/kwery/internal/ext/mapsx"
)

// node is the graph's bookkeeping for a single query key. Fields are only
// ever touched with graph.mu held.
type node struct {
	result   Result[any]
	hasValue bool
	validity Validity

	// deps is replaced wholesale on every put; it is never mutated in
	// place, so it may be shared between a graph and its clones.
	deps map[any]struct{}

	// rev is the set of keys whose deps contain this node's key. Unlike
	// deps, it is mutated incrementally as other nodes are put, so clones
	// must copy it.
	rev map[any]struct{}
}

// Graph is the dependency graph backing an [Executor]: a map from query
// key to cached result, validity, and edges. A zero Graph is ready to use.
// All methods are safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	nodes map[any]*node
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[any]*node)}
}

func (g *Graph) getOrCreate(key any) *node {
	if g.nodes == nil {
		g.nodes = make(map[any]*node)
	}
	n, ok := g.nodes[key]
	if !ok {
		n = &node{}
		g.nodes[key] = n
	}
	return n
}

// Get returns the cached result for key, if any node has ever been put for
// it. A node whose value was cleared by [Graph.Remove] reports ok=false,
// regardless of its validity.
func (g *Graph) Get(key any) (result Result[any], ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, exists := g.nodes[key]
	if !exists || !n.hasValue {
		return Result[any]{}, false
	}
	return n.result, true
}

// Validity reports key's current validity. A key with no node, or whose
// node has no cached value, is StronglyInvalid.
func (g *Graph) Validity(key any) Validity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validityLocked(key)
}

func (g *Graph) validityLocked(key any) Validity {
	n, ok := g.nodes[key]
	if !ok || !n.hasValue {
		return StronglyInvalid
	}
	return n.validity
}

// Deps returns a copy of the direct dependencies recorded for key's last
// successful or failing evaluation.
func (g *Graph) Deps(key any) map[any]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[key]
	if !ok {
		return nil
	}
	return mapsx.Clone(n.deps)
}

// Rev returns a copy of the set of keys that directly depend on key.
func (g *Graph) Rev(key any) map[any]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[key]
	if !ok {
		return nil
	}
	return mapsx.Clone(n.rev)
}

// TransitiveDeps returns every key reachable from key by following deps
// edges. key itself is included only if a dependency cycle makes it
// reachable from its own dependencies.
func (g *Graph) TransitiveDeps(key any) map[any]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.walkLocked(key, func(n *node) map[any]struct{} { return n.deps })
}

// TransitiveDependents returns every key reachable from key by following
// rev edges: every query that transitively used key during its last
// evaluation.
func (g *Graph) TransitiveDependents(key any) map[any]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.walkLocked(key, func(n *node) map[any]struct{} { return n.rev })
}

func (g *Graph) walkLocked(key any, edges func(*node) map[any]struct{}) map[any]struct{} {
	visited := make(map[any]struct{})
	n, ok := g.nodes[key]
	if !ok {
		return visited
	}
	queue := make([]any, 0, len(edges(n)))
	for k := range edges(n) {
		queue = append(queue, k)
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := visited[next]; seen {
			continue
		}
		visited[next] = struct{}{}
		if nn, ok := g.nodes[next]; ok {
			for k := range edges(nn) {
				if _, seen := visited[k]; !seen {
					queue = append(queue, k)
				}
			}
		}
	}
	return visited
}

// NodeView is a point-in-time, defensively copied snapshot of one node,
// returned by [Graph.AsMap].
type NodeView struct {
	Result   Result[any]
	HasValue bool
	Validity Validity
	Deps     map[any]struct{}
}

// AsMap returns a snapshot of every node currently in the graph, keyed by
// query key. It is the entry point the [Serializer] uses to walk the graph.
func (g *Graph) AsMap() map[any]NodeView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[any]NodeView, len(g.nodes))
	for k, n := range g.nodes {
		out[k] = NodeView{
			Result:   n.result,
			HasValue: n.hasValue,
			Validity: n.validity,
			Deps:     mapsx.Clone(n.deps),
		}
	}
	return out
}

// Clone returns a deep copy of g. Deps sets are shared with the original
// (they are never mutated in place), but rev sets are copied, since they
// are mutated independently as the clone evolves.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := &Graph{nodes: make(map[any]*node, len(g.nodes))}
	for k, n := range g.nodes {
		out.nodes[k] = &node{
			result:   n.result,
			hasValue: n.hasValue,
			validity: n.validity,
			deps:     n.deps,
			rev:      mapsx.Clone(n.rev),
		}
	}
	return out
}

// resultEqual reports whether two results represent the same outcome.
// Errors are compared by message, since error values are not in general
// comparable; successful values are compared with reflect.DeepEqual, since
// T may be a slice, map, or struct containing either.
func resultEqual(a, b Result[any]) bool {
	if (a.Err == nil) != (b.Err == nil) {
		return false
	}
	if a.Err != nil {
		return a.Err.Error() == b.Err.Error()
	}
	return reflect.DeepEqual(a.Value, b.Value)
}

// Put records the outcome of evaluating key with dependencies deps,
// replacing any previous result and edge set. Validity is set to v
// (ordinarily [Valid]). If the new result differs from the previously
// cached one, every direct dependent is raised to at least
// [StronglyInvalid] and every further transitive dependent to at least
// [WeaklyInvalid]; dependents already StronglyInvalid are left alone.
func (g *Graph) Put(key any, result Result[any], deps map[any]struct{}, v Validity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.getOrCreate(key)
	changed := !n.hasValue || !resultEqual(n.result, result)

	old := n.deps
	for d := range deps {
		if _, ok := old[d]; !ok {
			dn := g.getOrCreate(d)
			if dn.rev == nil {
				dn.rev = make(map[any]struct{})
			}
			dn.rev[key] = struct{}{}
		}
	}
	for d := range old {
		if _, ok := deps[d]; !ok {
			if dn, ok := g.nodes[d]; ok {
				delete(dn.rev, key)
			}
		}
	}

	n.deps = deps
	n.result = result
	n.hasValue = true
	n.validity = v

	if changed {
		g.notifyChangedLocked(key)
	}
}

// notifyChangedLocked implements the "a cached value changed" propagation:
// direct dependents become at least StronglyInvalid, and every dependent
// reached transitively through them becomes at least WeaklyInvalid.
func (g *Graph) notifyChangedLocked(key any) {
	n, ok := g.nodes[key]
	if !ok {
		return
	}
	visited := make(map[any]struct{}, len(n.rev))
	queue := make([]any, 0, len(n.rev))
	for d := range n.rev {
		visited[d] = struct{}{}
		g.raiseLocked(d, StronglyInvalid)
		queue = append(queue, d)
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		nn, ok := g.nodes[next]
		if !ok {
			continue
		}
		for d := range nn.rev {
			if _, seen := visited[d]; seen {
				continue
			}
			visited[d] = struct{}{}
			g.raiseLocked(d, WeaklyInvalid)
			queue = append(queue, d)
		}
	}
}

// invalidatePropagateLocked implements the "this key's external input may
// have changed, but we don't yet know" propagation: every transitive
// dependent, direct or not, becomes at least WeaklyInvalid. key itself is
// raised to StronglyInvalid separately by the caller.
func (g *Graph) invalidatePropagateLocked(key any) {
	for d := range g.walkLocked(key, func(n *node) map[any]struct{} { return n.rev }) {
		g.raiseLocked(d, WeaklyInvalid)
	}
}

func (g *Graph) raiseLocked(key any, v Validity) {
	n, ok := g.nodes[key]
	if !ok || !n.hasValue {
		return
	}
	n.validity = maxValidity(n.validity, v)
}

// Invalidate marks key StronglyInvalid and weakly invalidates every
// transitive dependent. It is a no-op if key has no node: missing nodes are
// already as invalid as they can be.
func (g *Graph) Invalidate(key any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[key]
	if !ok || !n.hasValue {
		return
	}
	n.validity = StronglyInvalid
	g.invalidatePropagateLocked(key)
}

// Remove deletes key's cached value, validity, and outgoing dependency
// edges. Incoming edges (Rev) are left in place, so existing dependents
// still see key as a dependency they will rediscover on their next
// evaluation. Propagation follows the same direct/further split as Put:
// direct dependents, which now reference a vanished dependency, become
// StronglyInvalid, and further transitive dependents become WeaklyInvalid.
func (g *Graph) Remove(key any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[key]
	if !ok {
		return
	}
	g.notifyChangedLocked(key)
	for d := range n.deps {
		if dn, ok := g.nodes[d]; ok {
			delete(dn.rev, key)
		}
	}
	n.deps = nil
	n.result = Result[any]{}
	n.hasValue = false
	n.validity = StronglyInvalid
}

// ValidateWeak attempts to promote key from WeaklyInvalid to Valid by
// checking that every direct dependency is currently Valid. It reports
// whether the promotion happened; key's own handler is never invoked.
// Callers are expected to have already ensured every dependency is settled
// (Valid or StronglyInvalid) before calling ValidateWeak.
func (g *Graph) ValidateWeak(key any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[key]
	if !ok || !n.hasValue || n.validity != WeaklyInvalid {
		return false
	}
	for d := range n.deps {
		if g.validityLocked(d) != Valid {
			return false
		}
	}
	n.validity = Valid
	return true
}

// typeKey derives the registry key for a query's runtime type, used by
// [Registry] and [Builder], not by the graph itself (graph keys are query
// Key() values, not types).
func typeKey[Q any]() reflect.Type {
	return reflect.TypeFor[Q]()
}
