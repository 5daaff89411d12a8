// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool reports the mempool standing of transactions whose outputs
// a plan wants to spend. When a spent output comes from an unconfirmed
// transaction, the plan's effective fee rate is judged over the whole
// ancestor package, so the status of a pending transaction carries the
// aggregate fee and virtual size of that transaction together with all of
// its unconfirmed ancestors.
package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/safemath"
)

// Info is the aggregate fee and virtual size of an unconfirmed transaction
// and its unconfirmed ancestors.
type Info struct {
	// Fee is the total fee paid by the package in satoshis.
	Fee btcutil.Amount

	// VSize is the total virtual size of the package.
	VSize btcunit.VByte
}

// Add returns the element-wise sum of the two infos, failing with
// safemath.ErrOverflow when the fee sum leaves the valid range.
func (i Info) Add(other Info) (Info, error) {
	fee, err := safemath.AddUint64(uint64(i.Fee), uint64(other.Fee))
	if err != nil {
		return Info{}, err
	}

	return Info{
		Fee:   btcutil.Amount(fee),
		VSize: i.VSize.Add(other.VSize),
	}, nil
}

// TxStatus describes whether a transaction is confirmed or still in the
// mempool. The zero value is the confirmed status.
type TxStatus struct {
	pending bool
	info    Info
}

// Confirmed returns the status of a transaction that is included in a
// block.
func Confirmed() TxStatus {
	return TxStatus{}
}

// Pending returns the status of an unconfirmed transaction with the given
// package aggregate.
func Pending(info Info) TxStatus {
	return TxStatus{pending: true, info: info}
}

// IsPending reports whether the transaction is unconfirmed.
func (s TxStatus) IsPending() bool {
	return s.pending
}

// PendingInfo returns the package aggregate and true when the transaction
// is unconfirmed.
func (s TxStatus) PendingInfo() (Info, bool) {
	return s.info, s.pending
}

// String returns a human-readable description of the status.
func (s TxStatus) String() string {
	if !s.pending {
		return "confirmed"
	}

	return fmt.Sprintf("pending (fee=%v, vsize=%v)", s.info.Fee,
		s.info.VSize)
}
