// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"bytes"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/mempool"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/runeset"
	"github.com/btcsuite/txplanner/safemath"
	"github.com/btcsuite/txplanner/utxo"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// AddInput appends u as the next transaction input. status describes u's
// creating transaction so unconfirmed ancestry feeds the package fee rate.
// When signer is non-nil the input is queued for external signing; a full
// signer set fails with fixed.ErrCapacityExceeded and mutates nothing.
func (b *Builder) AddInput(u utxo.Info, status mempool.TxStatus,
	signer *btcec.PublicKey) error {

	return b.insertInput(len(b.tx.TxIn), u, status, signer, nil)
}

// InsertInput adds u as the input at index at, shifting later inputs and
// their signer references up by one.
func (b *Builder) InsertInput(at int, u utxo.Info, status mempool.TxStatus,
	signer *btcec.PublicKey) error {

	return b.insertInput(at, u, status, signer, nil)
}

// AddForeignInput appends a caller-built TxIn whose signature is produced
// outside the pool, so no signer entry is recorded. txIn's previous
// outpoint must match u. Value and ancestry are still tracked so fee math
// stays correct.
func (b *Builder) AddForeignInput(u utxo.Info, status mempool.TxStatus,
	txIn *wire.TxIn) error {

	return b.insertInput(len(b.tx.TxIn), u, status, nil, txIn)
}

// insertInput performs the shared input bookkeeping. Every fallible check
// runs before the first mutation so a failed call leaves the builder
// untouched.
func (b *Builder) insertInput(at int, u utxo.Info, status mempool.TxStatus,
	signer *btcec.PublicKey, txIn *wire.TxIn) error {

	if b.finalized {
		return ErrBuilderFinalized
	}
	if at < 0 || at > len(b.tx.TxIn) {
		return fmt.Errorf("insert input at %d, tx has %d inputs",
			at, len(b.tx.TxIn))
	}
	if signer != nil &&
		b.inputsToSign.Len() >= b.inputsToSign.Cap() {

		return fmt.Errorf("inputs to sign: %w",
			fixed.ErrCapacityExceeded)
	}

	newTotal, err := addAmounts(b.totalBtcInput, u.Value)
	if err != nil {
		return err
	}

	// Aggregate the creating transaction's ancestor package once per
	// distinct parent txid.
	ancestors := b.ancestors
	if info, pending := status.PendingInfo(); pending &&
		!b.hasParentTx(u.OutPoint.Hash) {

		ancestors, err = b.ancestors.Add(info)
		if err != nil {
			return err
		}
	}

	if u.Runes.Len() > 0 {
		if err := runeset.Sum(b.runeInputs, &u.Runes); err != nil {
			return fmt.Errorf("rune inputs: %w", err)
		}
	}

	if txIn == nil {
		txIn = wire.NewTxIn(&u.OutPoint, nil, nil)
	}

	b.tx.TxIn = append(b.tx.TxIn, nil)
	copy(b.tx.TxIn[at+1:], b.tx.TxIn[at:])
	b.tx.TxIn[at] = txIn

	b.inputs = append(b.inputs, utxo.Info{})
	copy(b.inputs[at+1:], b.inputs[at:])
	b.inputs[at] = u

	signers := b.inputsToSign.Slice()
	for i := range signers {
		if int(signers[i].InputIndex) >= at {
			signers[i].InputIndex++
		}
	}
	if signer != nil {
		// Capacity was checked above.
		if err := b.inputsToSign.Push(InputToSign{
			InputIndex: uint32(at),
			Signer:     signer,
		}); err != nil {
			return err
		}
	}

	b.totalBtcInput = newTotal
	b.ancestors = ancestors

	return nil
}

// AddOutput appends an output paying value to pkScript.
func (b *Builder) AddOutput(pkScript []byte, value btcutil.Amount) error {
	return b.InsertOutput(len(b.tx.TxOut), pkScript, value)
}

// InsertOutput adds an output at index at, shifting later outputs up by
// one.
func (b *Builder) InsertOutput(at int, pkScript []byte,
	value btcutil.Amount) error {

	if b.finalized {
		return ErrBuilderFinalized
	}
	if at < 0 || at > len(b.tx.TxOut) {
		return fmt.Errorf("insert output at %d, tx has %d outputs",
			at, len(b.tx.TxOut))
	}
	if value < 0 {
		return fmt.Errorf("negative output value %v", value)
	}

	txOut := wire.NewTxOut(int64(value), pkScript)

	b.tx.TxOut = append(b.tx.TxOut, nil)
	copy(b.tx.TxOut[at+1:], b.tx.TxOut[at:])
	b.tx.TxOut[at] = txOut

	if b.changeIndex >= at {
		b.changeIndex++
	}

	return nil
}

// TrackModifiedAccount records that the transaction rewrites acct's state.
// Tracking the same account twice is a no-op; a full set fails with
// fixed.ErrCapacityExceeded.
func (b *Builder) TrackModifiedAccount(acct Account) error {
	if b.finalized {
		return ErrBuilderFinalized
	}

	if b.isTracked(acct) {
		return nil
	}

	if err := b.modified.Push(acct); err != nil {
		return fmt.Errorf("modified accounts: %w", err)
	}

	return nil
}

// isTracked reports whether an account with the same serialized key is
// already in the modified set.
func (b *Builder) isTracked(acct Account) bool {
	key := acct.AccountKey().SerializeCompressed()
	for _, existing := range b.modified.Slice() {
		if bytes.Equal(
			existing.AccountKey().SerializeCompressed(), key,
		) {

			return true
		}
	}

	return false
}

// AddStateTransition wires a state account into the transaction: its
// current anchor becomes an input signed by the account key, a fresh anchor
// output is created at the same value, and the account joins the modified
// set. status describes the transaction that created the current anchor.
func (b *Builder) AddStateTransition(acct StateAccount,
	status mempool.TxStatus) error {

	if b.finalized {
		return ErrBuilderFinalized
	}

	script := acct.AnchorScript()
	if len(script) == 0 {
		return fmt.Errorf("account %x has no anchor script",
			acct.AccountKey().SerializeCompressed())
	}

	// Check both bounded sets up front so a capacity failure cannot
	// strand a half-applied transition.
	if b.inputsToSign.Len() >= b.inputsToSign.Cap() {
		return fmt.Errorf("inputs to sign: %w",
			fixed.ErrCapacityExceeded)
	}
	if !b.isTracked(acct) &&
		b.modified.Len() >= b.modified.Cap() {

		return fmt.Errorf("modified accounts: %w",
			fixed.ErrCapacityExceeded)
	}

	err := b.AddInput(utxo.Info{
		OutPoint: acct.AnchorOutPoint(),
		Value:    DustLimit,
		PkScript: script,
	}, status, acct.AccountKey())
	if err != nil {
		return err
	}

	if err := b.AddOutput(script, DustLimit); err != nil {
		return err
	}

	return b.TrackModifiedAccount(acct)
}

// outputValue returns the checked sum of all output values.
func (b *Builder) outputValue() (btcutil.Amount, error) {
	var totalOut btcutil.Amount
	for _, out := range b.tx.TxOut {
		var err error
		totalOut, err = addAmounts(
			totalOut, btcutil.Amount(out.Value),
		)
		if err != nil {
			return 0, err
		}
	}

	return totalOut, nil
}

// FeePaid returns the implicit fee, the input value not claimed by any
// output. ErrInsufficientInputAmount is returned when the outputs outweigh
// the inputs.
func (b *Builder) FeePaid() (btcutil.Amount, error) {
	totalOut, err := b.outputValue()
	if err != nil {
		return 0, err
	}

	if totalOut > b.totalBtcInput {
		return 0, fmt.Errorf("%w: inputs %v, outputs %v",
			ErrInsufficientInputAmount, b.totalBtcInput,
			totalOut)
	}

	return b.totalBtcInput - totalOut, nil
}

// CheckFeeRate verifies that the transaction pays at least rate on its own
// vsize and, combined with its unconfirmed ancestors, on the package vsize.
func (b *Builder) CheckFeeRate(rate btcunit.SatPerVByte) error {
	fee, err := b.FeePaid()
	if err != nil {
		return err
	}

	est := b.EstimateVirtualSize()
	required := rate.FeeForVByteRoundUp(est)
	if fee < required {
		return fmt.Errorf("%w: fee %v pays less than %v for %v",
			ErrFeeRateTooLow, fee, required, est)
	}

	pkgFee, err := addAmounts(fee, b.ancestors.Fee)
	if err != nil {
		return err
	}
	pkgRequired := rate.FeeForVByteRoundUp(est.Add(b.ancestors.VSize))
	if pkgFee < pkgRequired {
		return fmt.Errorf("%w: package fee %v pays less than %v",
			ErrFeeRateTooLow, pkgFee, pkgRequired)
	}

	return nil
}

// Finalize validates the assembled transaction and locks the builder. The
// returned plan owns deep copies, so the builder can be discarded.
func (b *Builder) Finalize() (*Plan, error) {
	if b.finalized {
		return nil, ErrBuilderFinalized
	}

	// A UTXO enters the transaction at most once.
	seen := fn.NewSet[wire.OutPoint]()
	for _, txIn := range b.tx.TxIn {
		if seen.Contains(txIn.PreviousOutPoint) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateInput,
				txIn.PreviousOutPoint)
		}
		seen.Add(txIn.PreviousOutPoint)
	}

	// Every signer entry must reference a live input.
	for _, toSign := range b.inputsToSign.Slice() {
		if int(toSign.InputIndex) >= len(b.tx.TxIn) {
			return nil, fmt.Errorf("signer entry references "+
				"input %d, tx has %d inputs",
				toSign.InputIndex, len(b.tx.TxIn))
		}
	}

	fee, err := b.FeePaid()
	if err != nil {
		return nil, err
	}

	est := b.EstimateVirtualSize()
	if est.ToWU().GreaterThan(b.cfg.MaxTxWeight) {
		return nil, fmt.Errorf("%w: estimated %v, cap %v",
			ErrTxTooLarge, est.ToWU(), b.cfg.MaxTxWeight)
	}

	runes := runeset.NewBounded(b.runeInputs.Len())
	if err := runeset.Sum(runes, b.runeInputs); err != nil {
		return nil, err
	}

	b.finalized = true

	log.Infof("Finalized plan: %d inputs (%d to sign, %d swept), %d "+
		"outputs, fee %v, estimated vsize %v", len(b.tx.TxIn),
		b.inputsToSign.Len(), b.consolidations, len(b.tx.TxOut),
		fee, est)
	log.Tracef("Finalized tx: %v", newLogClosure(func() string {
		return spew.Sdump(b.tx)
	}))

	return &Plan{
		Tx: b.tx.Copy(),
		InputsToSign: append(
			[]InputToSign(nil), b.inputsToSign.Slice()...,
		),
		ModifiedAccounts: append(
			[]Account(nil), b.modified.Slice()...,
		),
		Fee:        fee,
		RuneInputs: runes,
		inputs:     append([]utxo.Info(nil), b.inputs...),
	}, nil
}

// addAmounts sums two non-negative amounts, failing with
// safemath.ErrOverflow instead of wrapping.
func addAmounts(a, c btcutil.Amount) (btcutil.Amount, error) {
	sum, err := safemath.AddUint64(uint64(a), uint64(c))
	if err != nil || sum > math.MaxInt64 {
		return 0, fmt.Errorf("amount %v + %v: %w", a, c,
			safemath.ErrOverflow)
	}

	return btcutil.Amount(sum), nil
}
