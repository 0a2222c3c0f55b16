// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import "sync"

// Value holds a current value and fans out changes to subscribers.
//
// Subscribers receive only the most recent value: each subscription channel
// has room for one element and a newer Set replaces an unread older one.
type Value[T any] struct {
	mu   sync.Mutex
	v    T
	subs map[chan T]struct{}
}

// NewValue creates a Value holding initial
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, subs: make(map[chan T]struct{})}
}

// Get returns the current value
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set stores x and notifies subscribers
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.v = x
	for ch := range v.subs {
		offer(ch, x)
	}
}

// Subscribe returns a channel primed with the current value and a cancel
// function that closes it.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	v.mu.Lock()
	v.subs[ch] = struct{}{}
	ch <- v.v
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, ch)
			close(ch)
			v.mu.Unlock()
		})
	}
}

// offer replaces any pending element with x. Callers hold the Value lock,
// so no other sender can refill the slot in between.
func offer[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	ch <- x
}
