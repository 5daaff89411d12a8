// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package runeset defines rune identifiers and amounts along with bounded
// collections of them. A rune is a fungible asset etched at a particular
// block and transaction index, and amounts are 128-bit because rune
// supplies may exceed the 64-bit range.
//
// Collections are expressed through the Set interface so that callers choose
// the capacity class they need: Single for UTXOs that may carry at most one
// rune, Bounded for aggregation across many UTXOs. Inserting an amount for
// an ID already present merges the two entries with checked addition rather
// than occupying another slot.
package runeset

import (
	"fmt"

	"github.com/btcsuite/txplanner/safemath"
)

// ID uniquely identifies a rune by the block height and transaction index
// of its etching.
type ID struct {
	// Block is the height of the block that contains the etching
	// transaction.
	Block uint64

	// Tx is the index of the etching transaction within that block.
	Tx uint32
}

// String returns the conventional BLOCK:TX rendering of the ID.
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Block, id.Tx)
}

// Cmp orders IDs by block height, then by transaction index, returning -1,
// 0 or 1.
func (id ID) Cmp(other ID) int {
	switch {
	case id.Block < other.Block:
		return -1
	case id.Block > other.Block:
		return 1
	case id.Tx < other.Tx:
		return -1
	case id.Tx > other.Tx:
		return 1
	default:
		return 0
	}
}

// Amount is a quantity of a single rune.
type Amount struct {
	ID    ID
	Value safemath.Uint128
}

// String returns the amount as "VALUE of BLOCK:TX".
func (a Amount) String() string {
	return fmt.Sprintf("%v of %v", a.Value, a.ID)
}

// Set is a bounded collection of rune amounts keyed by rune ID. Callers
// that operate on rune balances accept this interface so the same code
// serves single-slot UTXO sets and larger aggregation sets alike.
type Set interface {
	// Insert merges a into the set. When the ID is already present the
	// values are added with overflow checking. When it is not and the
	// set is full, Insert returns fixed.ErrCapacityExceeded.
	Insert(a Amount) error

	// Get returns the amount stored for id.
	Get(id ID) (Amount, bool)

	// ForEach invokes f for each stored amount until f returns false.
	ForEach(f func(Amount) bool)

	// Len returns the number of distinct rune IDs stored.
	Len() int

	// Cap returns the maximum number of distinct rune IDs the set can
	// hold.
	Cap() int

	// Clear removes all stored amounts.
	Clear()
}

// Sum merges every amount of src into dst. It fails with
// fixed.ErrCapacityExceeded when dst runs out of slots and with
// safemath.ErrOverflow when a merged value exceeds 128 bits.
func Sum(dst Set, src Set) error {
	var insertErr error
	src.ForEach(func(a Amount) bool {
		insertErr = dst.Insert(a)
		return insertErr == nil
	})

	return insertErr
}
