// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import "errors"

var (
	// ErrBuilderFinalized is returned when a mutating operation is
	// attempted on a builder that has already produced its plan.
	ErrBuilderFinalized = errors.New("builder is finalized")

	// ErrNotEnoughBtcInPool is returned when the candidate UTXO pool is
	// exhausted before the required fee or amount is covered.
	ErrNotEnoughBtcInPool = errors.New("not enough btc in utxo pool")

	// ErrInsufficientInputAmount is returned when the outputs of the
	// transaction are worth more than its inputs.
	ErrInsufficientInputAmount = errors.New(
		"output value exceeds input value",
	)

	// ErrFeeRateTooLow is returned when the transaction, alone or
	// combined with its unconfirmed ancestors, pays below the target fee
	// rate.
	ErrFeeRateTooLow = errors.New("fee rate below target")

	// ErrTxTooLarge is returned when the estimated transaction weight
	// exceeds the configured cap.
	ErrTxTooLarge = errors.New("tx exceeds maximum weight")

	// ErrNoChangeScript is returned when fee adjustment is attempted
	// without a script to pay change to.
	ErrNoChangeScript = errors.New("no change script")

	// ErrDuplicateInput is returned by Finalize when two inputs spend
	// the same outpoint.
	ErrDuplicateInput = errors.New("duplicate input")
)
