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

// Validity is a node's position in the three-state cache-validity lattice.
// Severity increases from Valid to StronglyInvalid; mutators only ever
// raise a node's severity, never lower it, except by a recompute (a Put)
// or by [Graph.ValidateWeak] promoting a WeaklyInvalid node to Valid.
type Validity int

const (
	// Valid means the cached result may be returned without re-evaluating
	// the query's handler.
	Valid Validity = iota

	// WeaklyInvalid means the cached result might still be correct: every
	// dependency must be (transitively) probed before the cached value can
	// be trusted again. During evaluation a node reaches this state only as
	// a side effect of a dependency changing or being invalidated; it is
	// set directly only by a [Graph.Put] given this validity, as a
	// [Serializer] load does for entries dumped in this state.
	WeaklyInvalid

	// StronglyInvalid means the cached result must not be returned under
	// any circumstance; the query must be fully re-evaluated. Queries with
	// no node at all behave as StronglyInvalid.
	StronglyInvalid
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "Valid"
	case WeaklyInvalid:
		return "WeaklyInvalid"
	case StronglyInvalid:
		return "StronglyInvalid"
	default:
		return "Validity(?)"
	}
}

// at-least-v upgrade: returns the more severe of a and b.
func maxValidity(a, b Validity) Validity {
	if a > b {
		return a
	}
	return b
}
