// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fixed

const wordBits = 64

// Set tracks membership of integers in the half-open range [0, Bound). It is
// backed by a bit vector sized at construction, so inserts and removals never
// allocate. The zero value is not usable; construct with NewSet.
type Set struct {
	words []uint64
	bound int
	count int
}

// NewSet returns a set over the range [0, bound). It panics if bound is
// negative.
func NewSet(bound int) *Set {
	if bound < 0 {
		panic("fixed: negative set bound")
	}

	return &Set{
		words: make([]uint64, (bound+wordBits-1)/wordBits),
		bound: bound,
	}
}

// Insert adds i to the set. It reports whether the set changed, returning
// false when i is already present or outside [0, Bound).
func (s *Set) Insert(i int) bool {
	if i < 0 || i >= s.bound {
		return false
	}

	word, mask := i/wordBits, uint64(1)<<(uint(i)%wordBits)
	if s.words[word]&mask != 0 {
		return false
	}

	s.words[word] |= mask
	s.count++

	return true
}

// Remove deletes i from the set. It reports whether the set changed.
func (s *Set) Remove(i int) bool {
	if i < 0 || i >= s.bound {
		return false
	}

	word, mask := i/wordBits, uint64(1)<<(uint(i)%wordBits)
	if s.words[word]&mask == 0 {
		return false
	}

	s.words[word] &^= mask
	s.count--

	return true
}

// Contains reports whether i is in the set.
func (s *Set) Contains(i int) bool {
	if i < 0 || i >= s.bound {
		return false
	}

	return s.words[i/wordBits]&(uint64(1)<<(uint(i)%wordBits)) != 0
}

// Count returns the number of members.
func (s *Set) Count() int {
	return s.count
}

// Bound returns the exclusive upper end of the range the set covers.
func (s *Set) Bound() int {
	return s.bound
}

// ForEach invokes f on each member in ascending order until f returns false
// or the members are exhausted.
func (s *Set) ForEach(f func(i int) bool) {
	for i := 0; i < s.bound; i++ {
		if !s.Contains(i) {
			continue
		}
		if !f(i) {
			return
		}
	}
}

// Clear removes all members.
func (s *Set) Clear() {
	for i := range s.words {
		s.words[i] = 0
	}
	s.count = 0
}
