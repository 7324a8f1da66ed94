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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwery-project/kwery"
)

// TQuery is the single query type used by spec.md's end-to-end scenarios:
// T(n) evaluates to n for n <= 0, otherwise T(n-1) + n + offset.
type TQuery struct{ N int }

func (q TQuery) Key() any { return q }

type tHandler struct {
	offset int64
	calls  atomic.Int64
	delay  time.Duration
}

func (h *tHandler) handle(q TQuery, t *kwery.Task) (int, error) {
	h.calls.Add(1)
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if q.N <= 0 {
		return q.N, nil
	}
	prev, err := kwery.Resolve[TQuery, int](t, TQuery{N: q.N - 1})
	if err != nil {
		return 0, err
	}
	return prev + q.N + int(h.offset), nil
}

func newTExecutor(t *testing.T, h *tHandler) *kwery.Executor {
	t.Helper()
	b := &kwery.Builder{}
	require.NoError(t, kwery.Register(b, h.handle))
	return kwery.NewExecutor(kwery.WithRegistry(b.Build()))
}

func TestEndToEnd_CacheHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := &tHandler{}
	exec := newTExecutor(t, h)

	v, err := kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 5})
	require.NoError(t, err)
	assert.Equal(t, 15, v)
	assert.EqualValues(t, 6, h.calls.Load())

	v, err = kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 5})
	require.NoError(t, err)
	assert.Equal(t, 15, v)
	assert.EqualValues(t, 6, h.calls.Load(), "cached hit must not re-invoke the handler")
}

func TestEndToEnd_ConcurrentDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := &tHandler{delay: 100 * time.Millisecond}
	exec := newTExecutor(t, h)

	const n = 5
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 5})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 15, results[i])
	}
	assert.EqualValues(t, 6, h.calls.Load(), "concurrent callers for the same key must share one evaluation chain")
}

func TestEndToEnd_ChangedInvalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := &tHandler{}
	exec := newTExecutor(t, h)

	_, err := kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 5})
	require.NoError(t, err)
	require.EqualValues(t, 6, h.calls.Load())

	h.offset = 1
	exec.Invalidate(TQuery{N: 5})

	v, err := kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 5})
	require.NoError(t, err)
	assert.Equal(t, 16, v)
	assert.EqualValues(t, 7, h.calls.Load())

	v, err = kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 5})
	require.NoError(t, err)
	assert.Equal(t, 16, v)
	assert.EqualValues(t, 7, h.calls.Load())
}

func TestEndToEnd_UnchangedInvalidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := &tHandler{}
	exec := newTExecutor(t, h)

	_, err := kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 5})
	require.NoError(t, err)
	require.EqualValues(t, 6, h.calls.Load())

	exec.Invalidate(TQuery{N: 5})

	v, err := kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 5})
	require.NoError(t, err)
	assert.Equal(t, 15, v)
	assert.EqualValues(t, 7, h.calls.Load(), "only T(5) itself should have re-run; its deps were untouched")
}

type tErrHandler struct {
	calls   atomic.Int64
	counter atomic.Int64
}

func (h *tErrHandler) handle(q TQuery, t *kwery.Task) (int, error) {
	h.calls.Add(1)
	if q.N <= 0 {
		n := h.counter.Add(1) - 1
		return 0, fmt.Errorf("err %d", n)
	}
	prev, err := kwery.Resolve[TQuery, int](t, TQuery{N: q.N - 1})
	if err != nil {
		return 0, err
	}
	return prev + q.N, nil
}

func TestEndToEnd_FailureMemoization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := &tErrHandler{}
	b := &kwery.Builder{}
	require.NoError(t, kwery.Register(b, h.handle))
	exec := kwery.NewExecutor(kwery.WithRegistry(b.Build()))

	_, err := kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 0})
	require.EqualError(t, err, "err 0")
	require.EqualValues(t, 1, h.calls.Load())

	_, err = kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 0})
	require.EqualError(t, err, "err 0", "cached failure must be rethrown, not re-run")
	require.EqualValues(t, 1, h.calls.Load())

	exec.Invalidate(TQuery{N: 0})

	_, err = kwery.Evaluate[TQuery, int](ctx, exec, TQuery{N: 0})
	require.EqualError(t, err, "err 1")
	require.EqualValues(t, 2, h.calls.Load())
}

func TestEvaluate_QueryNotHandled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := kwery.NewExecutor()

	_, err := kwery.Evaluate[unhandledQuery, int](ctx, exec, unhandledQuery{})
	require.Error(t, err)
	var target *kwery.ErrQueryNotHandled
	assert.ErrorAs(t, err, &target)
}

type unhandledQuery struct{}

func (unhandledQuery) Key() any { return unhandledQuery{} }

type selfHandledQuery struct{ N int }

func (q selfHandledQuery) Key() any { return q }

func (q selfHandledQuery) DefaultHandler(*kwery.Task) (int, error) {
	return q.N * 2, nil
}

func TestEvaluate_SelfHandlerFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := kwery.NewExecutor()

	v, err := kwery.Evaluate[selfHandledQuery, int](ctx, exec, selfHandledQuery{N: 21})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBuilder_DuplicateRegistration(t *testing.T) {
	t.Parallel()
	b := &kwery.Builder{}
	require.NoError(t, kwery.Register(b, func(q TQuery, t *kwery.Task) (int, error) { return q.N, nil }))
	err := kwery.Register(b, func(q TQuery, t *kwery.Task) (int, error) { return q.N, nil })
	require.Error(t, err)
	var target *kwery.ErrMultipleHandlers
	assert.ErrorAs(t, err, &target)
}

func TestExecutor_CyclicDependency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := &kwery.Builder{}
	require.NoError(t, kwery.Register(b, func(q cyclicQuery, task *kwery.Task) (int, error) {
		return kwery.Resolve[cyclicQuery, int](task, cyclicQuery{})
	}))
	exec := kwery.NewExecutor(kwery.WithRegistry(b.Build()))

	_, err := kwery.Evaluate[cyclicQuery, int](ctx, exec, cyclicQuery{})
	require.Error(t, err)
	var target *kwery.ErrCyclicDependency
	assert.ErrorAs(t, err, &target)
}

type cyclicQuery struct{}

func (cyclicQuery) Key() any { return cyclicQuery{} }
