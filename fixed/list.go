// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fixed provides bounded container types whose capacity is fixed at
// construction time. The backing storage is allocated exactly once and never
// grows, which keeps the types suitable for state that must fit a
// fixed-layout account record. Exceeding a capacity is always reported as an
// error and never results in silent truncation.
package fixed

import "errors"

var (
	// ErrCapacityExceeded is returned when an insert would grow a
	// container past the capacity it was constructed with.
	ErrCapacityExceeded = errors.New("container capacity exceeded")
)

// List is an ordered sequence of at most Cap elements. Elements keep their
// insertion order. The zero value is not usable; construct with NewList.
type List[T any] struct {
	items []T
	used  int
}

// NewList returns a list that can hold up to capacity elements. It panics if
// capacity is negative.
func NewList[T any](capacity int) *List[T] {
	if capacity < 0 {
		panic("fixed: negative list capacity")
	}

	return &List[T]{items: make([]T, capacity)}
}

// Push appends item to the list. When the list is already at capacity it
// returns ErrCapacityExceeded and the existing contents are left untouched.
func (l *List[T]) Push(item T) error {
	if l.used == len(l.items) {
		return ErrCapacityExceeded
	}

	l.items[l.used] = item
	l.used++

	return nil
}

// Pop removes and returns the last element. The second return value is false
// when the list is empty.
func (l *List[T]) Pop() (T, bool) {
	var zero T
	if l.used == 0 {
		return zero, false
	}

	l.used--
	item := l.items[l.used]

	// Zero the vacated slot so the list does not pin memory reachable only
	// through popped elements.
	l.items[l.used] = zero

	return item, true
}

// Len returns the number of live elements.
func (l *List[T]) Len() int {
	return l.used
}

// Cap returns the capacity the list was constructed with.
func (l *List[T]) Cap() int {
	return len(l.items)
}

// Slice returns a view of the live elements backed by the list's own
// storage. Mutations through the returned slice are visible to the list, and
// the view is invalidated by any subsequent Push, Pop, Retain or Clear.
func (l *List[T]) Slice() []T {
	return l.items[:l.used]
}

// At returns the element at index i. It panics when i is out of range, the
// same as indexing a slice of length Len.
func (l *List[T]) At(i int) T {
	return l.items[:l.used][i]
}

// Retain removes every element for which keep returns false, compacting the
// survivors in place while preserving their relative order. The predicate
// receives a pointer into the list's backing storage and may mutate the
// element it is inspecting.
func (l *List[T]) Retain(keep func(*T) bool) {
	var zero T

	kept := 0
	for i := 0; i < l.used; i++ {
		if !keep(&l.items[i]) {
			continue
		}

		if kept != i {
			l.items[kept] = l.items[i]
		}
		kept++
	}

	for i := kept; i < l.used; i++ {
		l.items[i] = zero
	}
	l.used = kept
}

// Clear removes all elements, zeroing the backing storage.
func (l *List[T]) Clear() {
	var zero T
	for i := 0; i < l.used; i++ {
		l.items[i] = zero
	}
	l.used = 0
}
