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

package kwery_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwery-project/kwery"
)

type aQuery struct{ V int }

func (q aQuery) Key() any { return q }

type bQuery struct{ V string }

func (q bQuery) Key() any { return q }

type aHandlers struct{}

func (aHandlers) QueryType() reflect.Type { return reflect.TypeFor[aQuery]() }

func (aHandlers) RegisterHandler(b *kwery.Builder) error {
	return kwery.Register(b, func(q aQuery, t *kwery.Task) (int, error) { return q.V, nil })
}

type bHandlers struct{}

func (bHandlers) QueryType() reflect.Type { return reflect.TypeFor[bQuery]() }

func (bHandlers) RegisterHandler(b *kwery.Builder) error {
	return kwery.Register(b, func(q bQuery, t *kwery.Task) (string, error) { return q.V, nil })
}

func TestDiscoverHandlers(t *testing.T) {
	t.Parallel()
	b := &kwery.Builder{}
	require.NoError(t, kwery.DiscoverHandlers(b, aHandlers{}, bHandlers{}))

	r := b.Build()
	types := r.Types()
	require.Len(t, types, 2)
	assert.Equal(t, reflect.TypeFor[aQuery](), types[0], "Types() must enumerate in deterministic (sorted) order")
	assert.Equal(t, reflect.TypeFor[bQuery](), types[1])
}

func TestDiscoverHandlers_ConflictStopsAtFirst(t *testing.T) {
	t.Parallel()
	b := &kwery.Builder{}
	require.NoError(t, kwery.Register(b, func(q aQuery, t *kwery.Task) (int, error) { return q.V, nil }))

	err := kwery.DiscoverHandlers(b, aHandlers{})
	require.Error(t, err)
	var target *kwery.ErrMultipleHandlers
	assert.ErrorAs(t, err, &target)
}
