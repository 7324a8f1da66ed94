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

// Package slicesx contains extensions to Go's package slices.
package slicesx

import (
	"fmt"
	"strings"
)

// Last returns the last element of s, and whether s was non-empty.
func Last[S ~[]E, E any](s S) (element E, ok bool) {
	if len(s) == 0 {
		return element, false
	}
	return s[len(s)-1], true
}

// LastIndexFunc returns the index of the last element satisfying p, or -1.
func LastIndexFunc[S ~[]E, E any](s S, p func(E) bool) int {
	for i := len(s) - 1; i >= 0; i-- {
		if p(s[i]) {
			return i
		}
	}
	return -1
}

// Join renders s using fmt's default formatting, separated by sep.
func Join[S ~[]E, E any](s S, sep string) string {
	var b strings.Builder
	for i, e := range s {
		if i > 0 {
			b.WriteString(sep)
		}
		fmt.Fprintf(&b, "%v", e)
	}
	return b.String()
}
