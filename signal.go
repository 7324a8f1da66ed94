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
	"context"
	"sync"
)

// Observable is implemented by a query whose result can change for reasons
// invisible to the engine: a watched file is edited, a socket delivers new
// bytes. Passing one to [Executor.Watch] routes its Changes stream into
// [Executor.Invalidate] automatically, so callers do not need to poll.
type Observable interface {
	keyed
	// Changes delivers a value every time the query's external input may
	// have changed. The channel is never closed by the engine; closing it
	// (to stop watching) is the producer's responsibility.
	Changes() <-chan struct{}
}

// Watch starts routing obs's change notifications into
// e.Invalidate(obs) until the returned stop func is called, or the
// executor is closed. Watch does not evaluate obs itself.
func (e *Executor) Watch(obs Observable) (stop func()) {
	ctx, cancel := context.WithCancel(e.watchCtx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-obs.Changes():
				if !ok {
					return
				}
				e.Invalidate(obs)
			}
		}
	}()
	return cancel
}

// Signal is a single-producer, multi-subscriber push stream, used to fan a
// single source of external change notifications (a file watcher, a poll
// loop) out to every [Executor] watching the queries it affects.
type Signal[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
}

// NewSignal returns an empty Signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a channel that receives every value Published after
// the call, and an unsubscribe func. The channel is buffered by one slot;
// a slow subscriber drops notifications rather than blocking the
// publisher, since a missed "something changed" signal is always
// superseded by the next one.
func (s *Signal[T]) Subscribe() (ch <-chan T, unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	c := make(chan T, 1)
	s.subs[id] = c
	return c, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// Publish delivers v to every current subscriber, dropping it for any
// subscriber whose buffer is already full.
func (s *Signal[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.subs {
		select {
		case c <- v:
		default:
		}
	}
}
