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
	"iter"
	"reflect"
	"slices"
	"sort"

	"github.com/kwery-project/kwery/internal/toposort"
)

// depRef is a reference to a dependency that did not get its own entry in
// a dump: either because its result was a failure, its value has no
// registered [ValueCodec], or it was itself disqualified by one of its own
// dependencies. Its key is still encoded, so the edge survives the
// round-trip even though the cached value does not.
type depRef struct {
	TypeName string `yaml:"type"`
	KeyBytes []byte `yaml:"key"`
}

// entry is one query in a [Serializer] dump, in the wire-independent
// intermediate form shared by every codec variant.
type entry struct {
	TypeName      string   `yaml:"type"`
	KeyBytes      []byte   `yaml:"key"`
	Success       bool     `yaml:"success"`
	ValueBytes    []byte   `yaml:"value,omitempty"`
	ErrMsg        string   `yaml:"error,omitempty"`
	Validity      Validity `yaml:"validity"`
	LocalDeps     []int    `yaml:"localDeps,omitempty"`
	TransientDeps []depRef `yaml:"transientDeps,omitempty"`
}

// dump is the shared intermediate representation produced by dumpGraph:
// entries in topological (dependency-first) order, ready to be rendered by
// any of the codec wrappers in serializer.go or fed directly to loadGraph.
type dump struct {
	Entries []entry `yaml:"entries"`
}

func (s *Serializer) codecsFor(key any) (QueryCodec, ValueCodec, bool) {
	name := reflect.TypeOf(key).String()
	qc, ok := s.queryCodecs[name]
	if !ok {
		return nil, nil, false
	}
	vc, ok := s.valueCodecs[name]
	if !ok {
		return qc, nil, false
	}
	return qc, vc, true
}

func (s *Serializer) referenceable(key any) bool {
	_, ok := s.queryCodecs[reflect.TypeOf(key).String()]
	return ok
}

// eligible reports whether key qualifies for a full entry: it must have
// both codecs, a cached successful value, and every direct dependency must
// at least be referenceable (so the edge can be recorded as either a local
// or transient dependency).
func (s *Serializer) eligible(nodes map[any]NodeView, key any) bool {
	n, ok := nodes[key]
	if !ok || !n.HasValue || n.Result.Err != nil {
		return false
	}
	if _, _, ok := s.codecsFor(key); !ok {
		return false
	}
	for d := range n.Deps {
		if !s.referenceable(d) {
			return false
		}
	}
	return true
}

// dumpGraph implements the shared dump algorithm: a topological walk over
// the graph's deps edges via internal/toposort, partitioning edges into
// the entries that survive persistence and the dependency keys that only
// survive as references.
func (s *Serializer) dumpGraph(g *Graph, roots []any) (d dump, err error) {
	nodes := g.AsMap()
	if len(roots) == 0 {
		roots = make([]any, 0, len(nodes))
		for k := range nodes {
			roots = append(roots, k)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &ErrCyclicDependency{Detail: fmt.Sprint(r)}
		}
	}()

	order := slices.Collect(toposort.Sort(
		roots,
		func(k any) any { return k },
		func(k any) iter.Seq[any] {
			return func(yield func(any) bool) {
				n, ok := nodes[k]
				if !ok || !s.eligible(nodes, k) {
					return
				}
				for dep := range n.Deps {
					if s.eligible(nodes, dep) {
						if !yield(dep) {
							return
						}
					}
				}
			}
		},
	))

	index := make(map[any]int, len(order))
	entries := make([]entry, 0, len(order))
	for _, key := range order {
		if !s.eligible(nodes, key) {
			continue
		}
		n := nodes[key]
		qc, vc, _ := s.codecsFor(key)
		keyBytes, err := qc.EncodeKey(key)
		if err != nil {
			return dump{}, fmt.Errorf("kwery: encoding key %#v: %w", key, err)
		}
		valueBytes, err := vc.EncodeValue(key, n.Result.Value)
		if err != nil {
			return dump{}, fmt.Errorf("kwery: encoding value for %#v: %w", key, err)
		}

		e := entry{
			TypeName:   reflect.TypeOf(key).String(),
			KeyBytes:   keyBytes,
			Success:    true,
			ValueBytes: valueBytes,
			Validity:   n.Validity,
		}
		hasTransientDep := false
		for dep := range n.Deps {
			if idx, ok := index[dep]; ok {
				e.LocalDeps = append(e.LocalDeps, idx)
				continue
			}
			hasTransientDep = true
			dqc, _, _ := s.codecsFor(dep)
			if dqc == nil {
				dqc = s.queryCodecs[reflect.TypeOf(dep).String()]
			}
			depBytes, err := dqc.EncodeKey(dep)
			if err != nil {
				return dump{}, fmt.Errorf("kwery: encoding transient dep %#v: %w", dep, err)
			}
			e.TransientDeps = append(e.TransientDeps, depRef{
				TypeName: reflect.TypeOf(dep).String(),
				KeyBytes: depBytes,
			})
		}
		if hasTransientDep {
			// The reader cannot probe a dependency it cannot fully
			// reconstruct, so a node with any transient (key-only)
			// dependency can never be trusted as anything but
			// unconditionally recomputable on load.
			e.Validity = StronglyInvalid
		}
		sort.Ints(e.LocalDeps)
		sort.Slice(e.TransientDeps, func(i, j int) bool {
			if e.TransientDeps[i].TypeName != e.TransientDeps[j].TypeName {
				return e.TransientDeps[i].TypeName < e.TransientDeps[j].TypeName
			}
			return string(e.TransientDeps[i].KeyBytes) < string(e.TransientDeps[j].KeyBytes)
		})

		index[key] = len(entries)
		entries = append(entries, e)
	}

	return dump{Entries: entries}, nil
}

// loadGraph is the inverse of dumpGraph: entries are already in
// dependency-first order, so each one's localDeps always refer to keys
// already materialized (or already found missing a value codec) by the
// time it is processed.
func (s *Serializer) loadGraph(d dump) (*Graph, error) {
	g := NewGraph()
	keys := make([]any, len(d.Entries))
	// skipped marks an entry whose query decoded fine but whose value has
	// no registered codec in this Serializer: it becomes a hole, loaded as
	// nothing, rather than aborting the whole load. A loader holding only
	// a subset of the dump's value codecs is an explicitly supported
	// sparse case.
	skipped := make([]bool, len(d.Entries))

	decodeRef := func(typeName string, keyBytes []byte) (any, error) {
		qc, ok := s.queryCodecs[typeName]
		if !ok {
			return nil, fmt.Errorf("kwery: no query codec registered for %q", typeName)
		}
		return qc.DecodeKey(keyBytes)
	}

	for i, e := range d.Entries {
		key, err := decodeRef(e.TypeName, e.KeyBytes)
		if err != nil {
			return nil, err
		}
		keys[i] = key

		vc, ok := s.valueCodecs[e.TypeName]
		if !ok {
			skipped[i] = true
			continue
		}

		deps := make(map[any]struct{}, len(e.LocalDeps)+len(e.TransientDeps))
		validity := e.Validity
		for _, idx := range e.LocalDeps {
			if idx < 0 || idx >= i {
				return nil, fmt.Errorf("kwery: entry %d references out-of-order localDep %d", i, idx)
			}
			if skipped[idx] {
				// The dependency's slot is a hole: this entry cannot be
				// probed against it, so it can never be trusted as
				// anything but strongly invalid.
				validity = StronglyInvalid
				continue
			}
			deps[keys[idx]] = struct{}{}
		}
		for _, ref := range e.TransientDeps {
			dk, err := decodeRef(ref.TypeName, ref.KeyBytes)
			if err != nil {
				return nil, err
			}
			deps[dk] = struct{}{}
		}
		if len(deps) == 0 {
			// Stored as nil, the same as an evaluation that recorded no
			// dependencies.
			deps = nil
		}

		value, err := vc.DecodeValue(key, e.ValueBytes)
		if err != nil {
			return nil, err
		}

		g.Put(key, Result[any]{Value: value}, deps, validity)
	}

	return g, nil
}
