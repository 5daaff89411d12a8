// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package shard

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/runeset"
	"github.com/btcsuite/txplanner/utxo"
	"github.com/davecgh/go-spew/spew"
)

// RuneTransfer moves a rune amount to a specific output of a transaction.
// Transfers are resolved against the transaction's outputs, so the amount
// may land in a pool-owned output or leave the pool entirely.
type RuneTransfer struct {
	// Vout is the output index receiving the amount.
	Vout uint32

	// Amount is the rune amount being moved.
	Amount runeset.Amount
}

// TxUpdate describes a broadcast transaction to be rolled forward into the
// shards.
type TxUpdate struct {
	// Tx is the broadcast transaction.
	Tx *wire.MsgTx

	// SignedInputs are the indices of the inputs the pool signed. Their
	// previous outpoints are the pool's spent UTXOs.
	SignedInputs []uint32

	// ProgramScript is the script identifying pool-owned outputs.
	ProgramScript []byte

	// Transfers are the rune movements the transaction performs.
	Transfers []RuneTransfer

	// Pointer is the output index receiving any rune value the
	// transfers leave unassigned.
	Pointer fixed.Option[uint32]

	// FlagRate is the fee rate the transaction was planned at. UTXOs
	// that land in an already occupied shard are flagged for
	// consolidation at this rate.
	FlagRate btcunit.SatPerVByte
}

// SpentAndCreated extracts the pool's view of a transaction: the outpoints
// it spends from the pool and the new pool-owned UTXOs it creates.
func SpentAndCreated(tx *wire.MsgTx, signedInputs []uint32,
	programScript []byte) ([]wire.OutPoint, []utxo.Info, error) {

	spent := make([]wire.OutPoint, 0, len(signedInputs))
	for _, idx := range signedInputs {
		if int(idx) >= len(tx.TxIn) {
			return nil, nil, fmt.Errorf("%w: signed input %d, "+
				"transaction has %d inputs",
				ErrInputIndexOutOfRange, idx, len(tx.TxIn))
		}

		spent = append(spent, tx.TxIn[idx].PreviousOutPoint)
	}

	txid := tx.TxHash()

	var created []utxo.Info
	for vout, out := range tx.TxOut {
		if !bytes.Equal(out.PkScript, programScript) {
			continue
		}

		created = append(created, utxo.Info{
			OutPoint: wire.OutPoint{
				Hash:  txid,
				Index: uint32(vout),
			},
			Value:    btcutil.Amount(out.Value),
			PkScript: out.PkScript,
		})
	}

	return spent, created, nil
}

// AssignRunes applies the rune transfers of a transaction to the created
// pool-owned UTXOs. input is the rune value entering the transaction from
// the pool; every transfer is debited against it and whatever remains is
// assigned to the pointer output. The created UTXOs are partitioned into
// rune-bearing and plain bitcoin ones, preserving their output order.
func AssignRunes(tx *wire.MsgTx, created []utxo.Info,
	transfers []RuneTransfer, pointer fixed.Option[uint32],
	input runeset.Set) ([]utxo.Info, []utxo.Info, error) {

	// Work on a private copy of the input amounts so a failed transfer
	// does not leave the caller's set half-debited.
	remaining := runeset.NewBounded(input.Len())
	if err := runeset.Sum(remaining, input); err != nil {
		return nil, nil, err
	}

	findCreated := func(vout uint32) *utxo.Info {
		for i := range created {
			if created[i].OutPoint.Index == vout {
				return &created[i]
			}
		}

		return nil
	}

	for _, transfer := range transfers {
		if int(transfer.Vout) >= len(tx.TxOut) {
			return nil, nil, fmt.Errorf("%w: output %d, "+
				"transaction has %d outputs",
				ErrTransferOutputMissing, transfer.Vout,
				len(tx.TxOut))
		}

		if err := debitRune(remaining, transfer.Amount); err != nil {
			return nil, nil, err
		}

		// Transfers to outputs the pool does not own move the rune
		// value out of the pool and need no further bookkeeping.
		target := findCreated(transfer.Vout)
		if target == nil {
			continue
		}

		if err := target.Runes.Insert(transfer.Amount); err != nil {
			return nil, nil, fmt.Errorf("output %d: %w",
				transfer.Vout, err)
		}
	}

	// Any rune value the transfers left unassigned belongs to the
	// pointer output, which must be pool-owned for the value to stay
	// tracked.
	var leftoverErr error
	remaining.ForEach(func(a runeset.Amount) bool {
		if a.Value.IsZero() {
			return true
		}

		vout, ok := pointer.Value()
		if !ok {
			leftoverErr = fmt.Errorf("%w: %v left over and no "+
				"pointer set", ErrPointerOutputMissing, a)
			return false
		}

		target := findCreated(vout)
		if target == nil {
			leftoverErr = fmt.Errorf("%w: pointer output %d is "+
				"not pool-owned", ErrPointerOutputMissing,
				vout)
			return false
		}

		if err := target.Runes.Insert(a); err != nil {
			leftoverErr = fmt.Errorf("pointer output %d: %w",
				vout, err)
			return false
		}

		return true
	})
	if leftoverErr != nil {
		return nil, nil, leftoverErr
	}

	var runeBearing, btcOnly []utxo.Info
	for i := range created {
		if created[i].Runes.Len() > 0 {
			runeBearing = append(runeBearing, created[i])
		} else {
			btcOnly = append(btcOnly, created[i])
		}
	}

	return runeBearing, btcOnly, nil
}

// debitRune subtracts a from the set, failing with ErrRuneInputExceeded
// when the set does not hold at least that much of the rune.
func debitRune(set *runeset.Bounded, a runeset.Amount) error {
	cur, ok := set.Get(a.ID)
	if !ok {
		return fmt.Errorf("%w: no %v in inputs", ErrRuneInputExceeded,
			a.ID)
	}

	diff, err := cur.Value.Sub(a.Value)
	if err != nil {
		return fmt.Errorf("%w: %v exceeds input %v",
			ErrRuneInputExceeded, a, cur)
	}

	set.Remove(a.ID)
	if !diff.IsZero() {
		// Re-inserting after a removal cannot exceed the capacity.
		if err := set.Insert(runeset.Amount{
			ID:    a.ID,
			Value: diff,
		}); err != nil {
			return err
		}
	}

	return nil
}

// ApplyTransaction rolls a broadcast transaction forward into the used
// shards: spent UTXOs are removed, new rune-bearing UTXOs are slotted into
// shards with a free rune slot, and new bitcoin UTXOs are distributed
// largest first onto the least funded shards. A bitcoin UTXO landing in a
// shard that already holds one is flagged for consolidation, since shards
// accumulate fragments over time.
func ApplyTransaction(shards []Shard, used []int, upd *TxUpdate) error {
	for _, idx := range used {
		if idx < 0 || idx >= len(shards) {
			return fmt.Errorf("%w: %d of %d",
				ErrShardIndexOutOfRange, idx, len(shards))
		}
	}

	spent, created, err := SpentAndCreated(
		upd.Tx, upd.SignedInputs, upd.ProgramScript,
	)
	if err != nil {
		return err
	}

	// Each spent UTXO carries at most one rune, so the input aggregate
	// holds at most one entry per spent outpoint.
	inputRunes := runeset.NewBounded(len(spent))
	err = sumSpentRunes(shards, used, spent, inputRunes)
	if err != nil {
		return err
	}

	runeBearing, btcOnly, err := AssignRunes(
		upd.Tx, created, upd.Transfers, upd.Pointer, inputRunes,
	)
	if err != nil {
		return err
	}

	removeSpent(shards, used, spent)

	if err := placeRuneUtxos(shards, used, runeBearing); err != nil {
		return err
	}

	err = distributeBtcUtxos(shards, used, btcOnly, upd.FlagRate)
	if err != nil {
		return err
	}

	log.Debugf("Applied tx %v to %d shards: spent=%d, created=%d "+
		"(%d rune-bearing)", upd.Tx.TxHash(), len(used), len(spent),
		len(created), len(runeBearing))
	log.Tracef("Created utxos: %v", newLogClosure(func() string {
		return spew.Sdump(created)
	}))

	return nil
}

// removeSpent drops every spent outpoint from the used shards, including
// occupied rune slots.
func removeSpent(shards []Shard, used []int, spent []wire.OutPoint) {
	isSpent := func(op wire.OutPoint) bool {
		for _, s := range spent {
			if s == op {
				return true
			}
		}

		return false
	}

	for _, idx := range used {
		s := shards[idx]

		s.RetainBtcUtxos(func(u *utxo.Info) bool {
			return !isSpent(u.OutPoint)
		})

		runeOut := s.RuneUtxo()
		if runeOut != nil && isSpent(runeOut.OutPoint) {
			s.ClearRuneUtxo()
		}
	}
}

// placeRuneUtxos slots each rune-bearing UTXO into the first used shard
// whose rune slot is free.
func placeRuneUtxos(shards []Shard, used []int, runeUtxos []utxo.Info) error {
	for _, u := range runeUtxos {
		placed := false
		for _, idx := range used {
			if shards[idx].RuneUtxo() != nil {
				continue
			}

			shards[idx].SetRuneUtxo(u)
			placed = true

			break
		}

		if !placed {
			return fmt.Errorf("%w: cannot place %v",
				ErrNoFreeRuneSlot, u.OutPoint)
		}
	}

	return nil
}

// distributeBtcUtxos hands the new bitcoin UTXOs, largest first, to the
// least funded shard with spare capacity.
func distributeBtcUtxos(shards []Shard, used []int, btcUtxos []utxo.Info,
	flagRate btcunit.SatPerVByte) error {

	sorted := make([]utxo.Info, len(btcUtxos))
	copy(sorted, btcUtxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	// The consolidation flag records the planning-time fee rate in
	// sat/kvb. Sweeping is worthwhile again once the prevailing rate
	// drops back to or below it.
	flagRateKVB := uint64(flagRate.FeeForKVByte(btcunit.NewKVByte(1)))

	for _, u := range sorted {
		target, ok, err := SelectLeastFunded(shards, used)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: cannot place %v",
				ErrShardsFull, u.OutPoint)
		}

		idx, added := shards[target].AddBtcUtxo(u)
		if !added {
			return fmt.Errorf("%w: cannot place %v",
				ErrShardsFull, u.OutPoint)
		}

		if shards[target].BtcUtxoCount() > 1 {
			view := shards[target].BtcUtxos()
			view[idx].ConsolidationRate = fixed.Some(flagRateKVB)

			log.Debugf("Flagged utxo %v for consolidation at "+
				"%d sat/kvb", u.OutPoint, flagRateKVB)
		}
	}

	return nil
}
