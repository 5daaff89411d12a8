// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixed

// Option is a value slot that is either empty or holds a single T. Unlike a
// pointer it embeds the value directly, so a struct containing an Option has
// a stable memory layout and can be serialized as a tag byte followed by the
// payload. The zero value is the empty slot.
type Option[T any] struct {
	value T
	some  bool
}

// Some returns an option holding v.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, some: true}
}

// None returns the empty option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsSome reports whether the option holds a value.
func (o *Option[T]) IsSome() bool {
	return o.some
}

// Value returns the held value and true, or the zero value and false when
// the option is empty.
func (o *Option[T]) Value() (T, bool) {
	return o.value, o.some
}

// UnwrapOr returns the held value, or def when the option is empty.
func (o *Option[T]) UnwrapOr(def T) T {
	if !o.some {
		return def
	}

	return o.value
}

// Ptr returns a pointer to the held value for in-place mutation, or nil when
// the option is empty.
func (o *Option[T]) Ptr() *T {
	if !o.some {
		return nil
	}

	return &o.value
}

// Set stores v in the option, replacing any previous value.
func (o *Option[T]) Set(v T) {
	o.value = v
	o.some = true
}

// Clear empties the option and zeroes the stored value.
func (o *Option[T]) Clear() {
	var zero T
	o.value = zero
	o.some = false
}
