// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package runeset

import (
	"github.com/btcsuite/txplanner/fixed"
)

// Bounded is a Set with a capacity chosen at construction. Lookup is a
// linear scan, which is the right trade-off for the small capacities these
// sets are built with.
type Bounded struct {
	entries *fixed.List[Amount]
}

// A compile-time assertion that Bounded satisfies Set.
var _ Set = (*Bounded)(nil)

// NewBounded returns an empty set that can hold up to capacity distinct
// rune IDs.
func NewBounded(capacity int) *Bounded {
	return &Bounded{entries: fixed.NewList[Amount](capacity)}
}

// Insert merges a into the set per the Set contract.
func (b *Bounded) Insert(a Amount) error {
	entries := b.entries.Slice()
	for i := range entries {
		if entries[i].ID != a.ID {
			continue
		}

		sum, err := entries[i].Value.Add(a.Value)
		if err != nil {
			return err
		}
		entries[i].Value = sum

		return nil
	}

	return b.entries.Push(a)
}

// Get returns the amount stored for id.
func (b *Bounded) Get(id ID) (Amount, bool) {
	for _, a := range b.entries.Slice() {
		if a.ID == id {
			return a, true
		}
	}

	return Amount{}, false
}

// Remove deletes the entry for id, reporting whether one was present.
func (b *Bounded) Remove(id ID) bool {
	before := b.entries.Len()
	b.entries.Retain(func(a *Amount) bool {
		return a.ID != id
	})

	return b.entries.Len() != before
}

// ForEach invokes f for each stored amount in insertion order until f
// returns false.
func (b *Bounded) ForEach(f func(Amount) bool) {
	for _, a := range b.entries.Slice() {
		if !f(a) {
			return
		}
	}
}

// Len returns the number of distinct rune IDs stored.
func (b *Bounded) Len() int {
	return b.entries.Len()
}

// Cap returns the capacity the set was constructed with.
func (b *Bounded) Cap() int {
	return b.entries.Cap()
}

// Clear removes all stored amounts.
func (b *Bounded) Clear() {
	b.entries.Clear()
}
