// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package runeset

import (
	"github.com/btcsuite/txplanner/fixed"
)

// Single is a Set holding at most one rune amount. It embeds the amount
// directly rather than referencing heap storage, so it has a fixed layout
// and its zero value is the empty set. This is the shape used inside UTXO
// records, where protocol rules cap each output at a single rune.
type Single struct {
	slot fixed.Option[Amount]
}

// A compile-time assertion that Single satisfies Set.
var _ Set = (*Single)(nil)

// NewSingle returns a Single holding a.
func NewSingle(a Amount) Single {
	return Single{slot: fixed.Some(a)}
}

// Insert merges a into the set per the Set contract.
func (s *Single) Insert(a Amount) error {
	cur := s.slot.Ptr()
	if cur == nil {
		s.slot.Set(a)
		return nil
	}

	if cur.ID != a.ID {
		return fixed.ErrCapacityExceeded
	}

	sum, err := cur.Value.Add(a.Value)
	if err != nil {
		return err
	}
	cur.Value = sum

	return nil
}

// Get returns the stored amount when id matches it.
func (s *Single) Get(id ID) (Amount, bool) {
	a, ok := s.slot.Value()
	if !ok || a.ID != id {
		return Amount{}, false
	}

	return a, true
}

// Amount returns the stored amount regardless of its ID.
func (s *Single) Amount() (Amount, bool) {
	return s.slot.Value()
}

// ForEach invokes f for the stored amount, if any.
func (s *Single) ForEach(f func(Amount) bool) {
	if a, ok := s.slot.Value(); ok {
		f(a)
	}
}

// Len returns 1 when an amount is stored, 0 otherwise.
func (s *Single) Len() int {
	if s.slot.IsSome() {
		return 1
	}

	return 0
}

// Cap returns 1.
func (s *Single) Cap() int {
	return 1
}

// Clear removes the stored amount.
func (s *Single) Clear() {
	s.slot.Clear()
}
