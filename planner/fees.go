// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/txplanner/mempool"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/utxo"
)

// AdjustToPayFees settles the transaction's fee at rate. Surplus input
// value is returned through a change output paying changeScript; shortfalls,
// including outputs not yet backed by any input, are covered first by
// shrinking the change, then by pulling pool UTXOs largest first,
// recomputing the requirement after every change since each added input
// grows the transaction. Change below the dust threshold is folded into the
// fee rather than created.
//
// Pool UTXOs are assumed confirmed and are signed by poolSigner. The
// returned indices identify the pool entries pulled in. Once the fee is
// settled, calling AdjustToPayFees again with the same rate is a no-op.
func (b *Builder) AdjustToPayFees(rate btcunit.SatPerVByte,
	changeScript []byte, pool []utxo.Info,
	poolSigner *btcec.PublicKey) ([]int, error) {

	if b.finalized {
		return nil, ErrBuilderFinalized
	}
	if len(changeScript) == 0 {
		return nil, ErrNoChangeScript
	}

	var selected []int

	// Every pass either settles the fee, folds the change output into
	// the fee, or consumes one pool UTXO, so the loop is bounded by
	// len(pool)+2 passes.
	for {
		required, est := b.requiredFee(rate, changeScript)

		if est.ToWU().GreaterThan(b.cfg.MaxTxWeight) {
			return selected, fmt.Errorf("%w: estimated %v, "+
				"cap %v", ErrTxTooLarge, est.ToWU(),
				b.cfg.MaxTxWeight)
		}

		totalOut, err := b.outputValue()
		if err != nil {
			return selected, err
		}

		// The implicit fee goes negative while outputs still exceed
		// inputs, which is just a larger shortfall to fund.
		fee := int64(b.totalBtcInput) - int64(totalOut)

		if fee == int64(required) {
			return selected, nil
		}

		if fee > int64(required) {
			surplus := btcutil.Amount(fee) - required
			return selected, b.returnSurplus(surplus, changeScript)
		}

		shortfall := required
		if fee >= 0 {
			shortfall -= btcutil.Amount(fee)
		} else {
			shortfall, err = addAmounts(
				required, btcutil.Amount(-fee),
			)
			if err != nil {
				return selected, err
			}
		}

		// A change output absorbs the shortfall when it can survive
		// the cut; otherwise its whole value folds into the fee and
		// the requirement is re-evaluated without it.
		if b.changeIndex >= 0 {
			if b.shrinkChange(shortfall) {
				return selected, nil
			}

			b.dropChange()
			continue
		}

		idx, ok := b.nextPoolUtxo(pool)
		if !ok {
			return selected, fmt.Errorf("%w: %v still missing "+
				"after %d pool utxos", ErrNotEnoughBtcInPool,
				shortfall, len(selected))
		}

		err = b.AddInput(pool[idx], mempool.Confirmed(), poolSigner)
		if err != nil {
			return selected, err
		}
		selected = append(selected, idx)

		log.Debugf("Pulled pool utxo %v (%v) to cover fee "+
			"shortfall %v", pool[idx].OutPoint, pool[idx].Value,
			shortfall)
	}
}

// requiredFee computes the fee the transaction must pay at rate, taking the
// larger of its own requirement and the share needed to lift the whole
// ancestor package to the target. The returned estimate includes a
// prospective change output when none exists yet.
func (b *Builder) requiredFee(rate btcunit.SatPerVByte,
	changeScript []byte) (btcutil.Amount, btcunit.VByte) {

	var extra sizeExtra
	if b.changeIndex < 0 {
		extra.changeScriptSize = len(changeScript)
	}
	est := b.estimateVirtualSize(extra)

	required := rate.FeeForVByteRoundUp(est)

	// The package rate divides own fee plus ancestor fees by own vsize
	// plus ancestor vsizes. The ancestors' shortfall lands on this
	// transaction.
	pkgRequired := rate.FeeForVByteRoundUp(est.Add(b.ancestors.VSize))
	if pkgRequired > b.ancestors.Fee {
		if ownShare := pkgRequired - b.ancestors.Fee; ownShare > required {
			required = ownShare
		}
	}

	return required, est
}

// returnSurplus routes surplus satoshis into the change output, creating it
// when the surplus survives the dust threshold. Sub-dust surplus stays with
// the fee.
func (b *Builder) returnSurplus(surplus btcutil.Amount,
	changeScript []byte) error {

	if b.changeIndex >= 0 {
		b.tx.TxOut[b.changeIndex].Value += int64(surplus)
		return nil
	}

	change := wire.NewTxOut(int64(surplus), changeScript)
	if txrules.IsDustOutput(change, b.cfg.DustRelayFee) {
		log.Debugf("Folding sub-dust surplus %v into the fee",
			surplus)
		return nil
	}

	if err := b.AddOutput(changeScript, surplus); err != nil {
		return err
	}
	b.changeIndex = len(b.tx.TxOut) - 1

	return nil
}

// shrinkChange reduces the change output by shortfall, reporting whether
// the cut left a viable output. The change is untouched when the result
// would be dust or negative.
func (b *Builder) shrinkChange(shortfall btcutil.Amount) bool {
	change := b.tx.TxOut[b.changeIndex]

	reduced := change.Value - int64(shortfall)
	if reduced <= 0 {
		return false
	}
	if txrules.IsDustOutput(
		wire.NewTxOut(reduced, change.PkScript), b.cfg.DustRelayFee,
	) {

		return false
	}

	change.Value = reduced

	return true
}

// dropChange folds the change output's whole value into the fee.
func (b *Builder) dropChange() {
	at := b.changeIndex
	value := btcutil.Amount(b.tx.TxOut[at].Value)

	b.tx.TxOut = append(b.tx.TxOut[:at], b.tx.TxOut[at+1:]...)
	b.changeIndex = -1

	log.Debugf("Dropped change output (%v) into the fee", value)
}

// nextPoolUtxo picks the best pool candidate not yet in the transaction:
// unflagged UTXOs before consolidation-flagged ones, then largest value
// first.
func (b *Builder) nextPoolUtxo(pool []utxo.Info) (int, bool) {
	best := -1
	for i := range pool {
		if b.hasInput(pool[i].OutPoint) {
			continue
		}
		if best == -1 || poolPrefer(pool, i, best) {
			best = i
		}
	}

	return best, best != -1
}

// poolPrefer reports whether pool[i] should be pulled before pool[j].
func poolPrefer(pool []utxo.Info, i, j int) bool {
	flaggedI := pool[i].ConsolidationRate.IsSome()
	flaggedJ := pool[j].ConsolidationRate.IsSome()
	if flaggedI != flaggedJ {
		return !flaggedI
	}

	return pool[i].Value > pool[j].Value
}

// FindBtcInUtxos pulls pool UTXOs into the transaction until their combined
// value reaches amount, in the same order AdjustToPayFees uses. On
// ErrNotEnoughBtcInPool the UTXOs selected so far stay in the transaction,
// so the caller can retry with a replenished pool.
func (b *Builder) FindBtcInUtxos(pool []utxo.Info, signer *btcec.PublicKey,
	amount btcutil.Amount) ([]int, btcutil.Amount, error) {

	if b.finalized {
		return nil, 0, ErrBuilderFinalized
	}

	var (
		selected []int
		total    btcutil.Amount
	)
	for total < amount {
		idx, ok := b.nextPoolUtxo(pool)
		if !ok {
			return selected, total, fmt.Errorf("%w: found %v "+
				"of %v", ErrNotEnoughBtcInPool, total, amount)
		}

		err := b.AddInput(pool[idx], mempool.Confirmed(), signer)
		if err != nil {
			return selected, total, err
		}

		selected = append(selected, idx)
		total += pool[idx].Value
	}

	return selected, total, nil
}

// AddConsolidationUtxos sweeps pool UTXOs that were flagged for
// consolidation at a rate at or above the current one, smallest first. A
// candidate is swept only while it pays for its own marginal size at rate,
// the weight cap holds and the signer set has room, so sweeping never drags
// the realized fee rate below target once AdjustToPayFees has run. The
// returned indices identify the swept pool entries.
func (b *Builder) AddConsolidationUtxos(signer *btcec.PublicKey,
	rate btcunit.SatPerVByte, pool []utxo.Info) ([]int, error) {

	if b.finalized {
		return nil, ErrBuilderFinalized
	}

	// The flag records the sat/kvb planning rate the UTXO was deferred
	// at. Rates at or below it make the sweep worthwhile now.
	threshold := uint64(rate.FeeForKVByte(btcunit.NewKVByte(1)))

	var candidates []int
	for i := range pool {
		flag, ok := pool[i].ConsolidationRate.Value()
		if !ok || flag < threshold {
			continue
		}
		if b.hasInput(pool[i].OutPoint) {
			continue
		}

		candidates = append(candidates, i)
	}

	sort.SliceStable(candidates, func(x, y int) bool {
		return pool[candidates[x]].Value < pool[candidates[y]].Value
	})

	var added []int
	for _, idx := range candidates {
		if b.inputsToSign.Len() >= b.inputsToSign.Cap() {
			break
		}

		u := pool[idx]

		current := b.estimateVirtualSize(sizeExtra{})
		with := b.estimateVirtualSize(sizeExtraForScript(u.PkScript))
		if with.ToWU().GreaterThan(b.cfg.MaxTxWeight) {
			continue
		}

		// The UTXO must out-value the bytes it adds, or sweeping it
		// burns pool funds.
		marginal := btcunit.NewVByte(with.VBytes() - current.VBytes())
		if u.Value <= rate.FeeForVByteRoundUp(marginal) {
			continue
		}

		err := b.AddInput(u, mempool.Confirmed(), signer)
		if err != nil {
			return added, err
		}

		added = append(added, idx)
		b.consolidations++

		log.Debugf("Swept consolidation utxo %v (%v, flagged at "+
			"%d sat/kvb)", u.OutPoint, u.Value,
			u.ConsolidationRate.UnwrapOr(0))
	}

	return added, nil
}
