// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/txplanner/mempool"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/utxo"
	"github.com/stretchr/testify/require"
)

// TestAdjustToPayFeesPullsPool walks the canonical shortfall case: a 10,000
// sat input cannot pay for a 9,000 sat output at 10 sat/vb, so the builder
// pulls a pool UTXO and returns the surplus as change.
func TestAdjustToPayFeesPullsPool(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddInput(
		poolUtxo(1, 10_000), mempool.Confirmed(), key,
	))
	require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

	rate := btcunit.NewSatPerVByte(10)
	change := p2trScript(8)
	pool := []utxo.Info{poolUtxo(2, 5_000)}

	selected, err := b.AdjustToPayFees(rate, change, pool, key)
	require.NoError(t, err)
	require.Equal(t, []int{0}, selected)

	fee, err := b.FeePaid()
	require.NoError(t, err)
	require.GreaterOrEqual(t, fee, btcutil.Amount(1_500))

	// With a change output present the fee settles exactly at the
	// requirement.
	require.Equal(
		t, rate.FeeForVByteRoundUp(b.EstimateVirtualSize()), fee,
	)

	tx := b.Tx()
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, change, tx.TxOut[1].PkScript)
	require.EqualValues(t, 15_000-9_000-int64(fee), tx.TxOut[1].Value)

	require.NoError(t, b.CheckFeeRate(rate))

	plan, err := b.Finalize()
	require.NoError(t, err)
	require.Equal(t, fee, plan.Fee)
	require.Equal(t, []uint32{0, 1}, plan.SignedInputIndices())
}

// TestAdjustToPayFeesIdempotent checks that a settled transaction is not
// touched by a second adjustment at the same rate.
func TestAdjustToPayFeesIdempotent(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddInput(
		poolUtxo(1, 10_000), mempool.Confirmed(), key,
	))
	require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

	rate := btcunit.NewSatPerVByte(10)
	change := p2trScript(8)
	pool := []utxo.Info{poolUtxo(2, 5_000)}

	_, err := b.AdjustToPayFees(rate, change, pool, key)
	require.NoError(t, err)

	hash := b.Tx().TxHash()
	selected, err := b.AdjustToPayFees(rate, change, pool, key)
	require.NoError(t, err)
	require.Empty(t, selected)
	require.Equal(t, hash, b.Tx().TxHash())
}

// TestAdjustToPayFeesShrinksChange checks that a rate increase is funded out
// of the existing change output before any pool UTXO is considered.
func TestAdjustToPayFeesShrinksChange(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddInput(
		poolUtxo(1, 50_000), mempool.Confirmed(), key,
	))
	require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

	change := p2trScript(8)

	low := btcunit.NewSatPerVByte(1)
	selected, err := b.AdjustToPayFees(low, change, nil, key)
	require.NoError(t, err)
	require.Empty(t, selected)

	feeLow, err := b.FeePaid()
	require.NoError(t, err)
	require.Equal(
		t, low.FeeForVByteRoundUp(b.EstimateVirtualSize()), feeLow,
	)

	changeBefore := b.Tx().TxOut[1].Value

	// No pool is supplied, so the bump must come from the change.
	high := btcunit.NewSatPerVByte(20)
	selected, err = b.AdjustToPayFees(high, change, nil, key)
	require.NoError(t, err)
	require.Empty(t, selected)

	feeHigh, err := b.FeePaid()
	require.NoError(t, err)
	require.Equal(
		t, high.FeeForVByteRoundUp(b.EstimateVirtualSize()), feeHigh,
	)
	require.Equal(
		t, changeBefore-int64(feeHigh-feeLow), b.Tx().TxOut[1].Value,
	)
}

// TestAdjustToPayFeesBurnsDustSurplus checks that a surplus too small to
// fund a non-dust change output is left with the fee.
func TestAdjustToPayFeesBurnsDustSurplus(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddInput(
		poolUtxo(1, 10_000), mempool.Confirmed(), key,
	))
	require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

	// At 6 sat/vb the surplus over the requirement is a few dozen sats,
	// well below the dust threshold of a fresh change output.
	rate := btcunit.NewSatPerVByte(6)
	selected, err := b.AdjustToPayFees(rate, p2trScript(8), nil, key)
	require.NoError(t, err)
	require.Empty(t, selected)

	require.Len(t, b.Tx().TxOut, 1)
	fee, err := b.FeePaid()
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1_000), fee)
	require.NoError(t, b.CheckFeeRate(rate))

	// The burn decision repeats without mutating anything.
	hash := b.Tx().TxHash()
	selected, err = b.AdjustToPayFees(rate, p2trScript(8), nil, key)
	require.NoError(t, err)
	require.Empty(t, selected)
	require.Equal(t, hash, b.Tx().TxHash())
}

// TestAdjustToPayFeesDropsChange checks that a change output too small to
// absorb a rate bump is folded into the fee before pool UTXOs are pulled.
func TestAdjustToPayFeesDropsChange(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddInput(
		poolUtxo(1, 10_000), mempool.Confirmed(), key,
	))
	require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

	change := p2trScript(8)

	_, err := b.AdjustToPayFees(btcunit.NewSatPerVByte(1), change, nil, key)
	require.NoError(t, err)
	require.Len(t, b.Tx().TxOut, 2)

	// The bump exceeds the whole change output, so it is dropped and a
	// pool UTXO funds the difference, recreating the change.
	rate := btcunit.NewSatPerVByte(8)
	pool := []utxo.Info{poolUtxo(2, 5_000)}
	selected, err := b.AdjustToPayFees(rate, change, pool, key)
	require.NoError(t, err)
	require.Equal(t, []int{0}, selected)

	fee, err := b.FeePaid()
	require.NoError(t, err)
	require.Equal(
		t, rate.FeeForVByteRoundUp(b.EstimateVirtualSize()), fee,
	)

	tx := b.Tx()
	require.Len(t, tx.TxOut, 2)
	require.EqualValues(t, 15_000-9_000-int64(fee), tx.TxOut[1].Value)
}

// TestAdjustToPayFeesInsufficientPool checks the failure when the pool runs
// out before the requirement is met.
func TestAdjustToPayFeesInsufficientPool(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddInput(
		poolUtxo(1, 1_000), mempool.Confirmed(), key,
	))
	require.NoError(t, b.AddOutput(p2trScript(9), 900))

	rate := btcunit.NewSatPerVByte(100)
	selected, err := b.AdjustToPayFees(rate, p2trScript(8), nil, key)
	require.ErrorIs(t, err, ErrNotEnoughBtcInPool)
	require.Empty(t, selected)
}

// TestAdjustToPayFeesFundsOutputs checks that outputs exceeding the inputs
// are treated as shortfall and funded from the pool.
func TestAdjustToPayFeesFundsOutputs(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

	rate := btcunit.NewSatPerVByte(5)
	pool := []utxo.Info{poolUtxo(2, 20_000)}

	selected, err := b.AdjustToPayFees(rate, p2trScript(8), pool, key)
	require.NoError(t, err)
	require.Equal(t, []int{0}, selected)

	fee, err := b.FeePaid()
	require.NoError(t, err)
	require.Equal(
		t, rate.FeeForVByteRoundUp(b.EstimateVirtualSize()), fee,
	)
	require.EqualValues(t, 20_000-9_000-int64(fee), b.Tx().TxOut[1].Value)
	require.NoError(t, b.CheckFeeRate(rate))
}

// TestAdjustToPayFeesSelectionOrder checks the pool selection policy:
// largest value first, consolidation-flagged UTXOs last.
func TestAdjustToPayFeesSelectionOrder(t *testing.T) {
	t.Parallel()

	t.Run("largest first", func(t *testing.T) {
		t.Parallel()

		key := testKey(t)
		b := NewBuilder(Config{})
		require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

		pool := []utxo.Info{
			poolUtxo(1, 1_000),
			poolUtxo(2, 8_000),
			poolUtxo(3, 3_000),
		}
		selected, err := b.AdjustToPayFees(
			btcunit.NewSatPerVByte(5), p2trScript(8), pool, key,
		)
		require.NoError(t, err)
		require.Equal(t, []int{1, 2}, selected)
	})

	t.Run("flagged last", func(t *testing.T) {
		t.Parallel()

		key := testKey(t)
		b := NewBuilder(Config{})
		require.NoError(t, b.AddInput(
			poolUtxo(1, 10_000), mempool.Confirmed(), key,
		))
		require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

		pool := []utxo.Info{
			flaggedUtxo(4, 5_000, 99_999),
			poolUtxo(5, 4_000),
		}
		selected, err := b.AdjustToPayFees(
			btcunit.NewSatPerVByte(10), p2trScript(8), pool, key,
		)
		require.NoError(t, err)
		require.Equal(t, []int{1}, selected)
	})
}

// TestAdjustToPayFeesRequiresChangeScript checks that adjustment refuses to
// run without a change destination.
func TestAdjustToPayFeesRequiresChangeScript(t *testing.T) {
	t.Parallel()

	b := NewBuilder(Config{})
	_, err := b.AdjustToPayFees(
		btcunit.NewSatPerVByte(1), nil, nil, testKey(t),
	)
	require.ErrorIs(t, err, ErrNoChangeScript)
}

// TestAdjustToPayFeesPackageRate checks that unconfirmed ancestors raise the
// requirement so the whole package meets the target rate.
func TestAdjustToPayFeesPackageRate(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})

	// The input's parent sits in the mempool paying no fee at all, so
	// this transaction must pay for the parent's 1,000 vbytes too.
	pending := mempool.Pending(mempool.Info{
		Fee: 0, VSize: btcunit.NewVByte(1_000),
	})
	require.NoError(t, b.AddInput(poolUtxo(1, 10_000), pending, key))
	require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

	rate := btcunit.NewSatPerVByte(1)
	pool := []utxo.Info{poolUtxo(2, 5_000)}

	selected, err := b.AdjustToPayFees(rate, p2trScript(8), pool, key)
	require.NoError(t, err)
	require.Equal(t, []int{0}, selected)

	ancestorVSize, ancestorFee := b.AncestorTotals()
	require.Equal(t, btcunit.NewVByte(1_000), ancestorVSize)
	require.Equal(t, btcutil.Amount(0), ancestorFee)

	fee, err := b.FeePaid()
	require.NoError(t, err)
	require.Equal(t, rate.FeeForVByteRoundUp(
		b.EstimateVirtualSize().Add(ancestorVSize),
	), fee)
	require.NoError(t, b.CheckFeeRate(rate))
}

// TestFindBtcInUtxos checks greedy funding and that a shortfall keeps what
// was already selected.
func TestFindBtcInUtxos(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	pool := []utxo.Info{
		poolUtxo(1, 2_000),
		poolUtxo(2, 7_000),
		poolUtxo(3, 4_000),
	}

	selected, total, err := b.FindBtcInUtxos(pool, key, 10_000)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, selected)
	require.Equal(t, btcutil.Amount(11_000), total)
	require.Equal(t, btcutil.Amount(11_000), b.TotalBtcInput())

	// Exhausting the pool fails but the found UTXOs stay, so a retry
	// with a replenished pool continues from here.
	more, total2, err := b.FindBtcInUtxos(pool, key, 50_000)
	require.ErrorIs(t, err, ErrNotEnoughBtcInPool)
	require.Equal(t, []int{0}, more)
	require.Equal(t, btcutil.Amount(2_000), total2)
	require.Len(t, b.Tx().TxIn, 3)
}

// TestAddConsolidationUtxos checks the sweep policy: only UTXOs flagged at
// or above the current rate, smallest first, and only while each pays for
// its own marginal bytes.
func TestAddConsolidationUtxos(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddInput(
		poolUtxo(1, 10_000), mempool.Confirmed(), key,
	))
	require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

	rate := btcunit.NewSatPerVByte(2)
	pool := []utxo.Info{
		// Flagged exactly at the current rate: swept.
		flaggedUtxo(2, 5_000, 2_000),

		// Flagged but worth less than the bytes it would add.
		flaggedUtxo(3, 100, 2_500),

		// Flagged at a rate below the current one: deferred.
		flaggedUtxo(4, 3_000, 1_999),

		// Not flagged at all.
		poolUtxo(5, 2_000),
	}

	added, err := b.AddConsolidationUtxos(key, rate, pool)
	require.NoError(t, err)
	require.Equal(t, []int{0}, added)
	require.Len(t, b.Tx().TxIn, 2)
	require.Equal(t, pool[0].OutPoint, b.Tx().TxIn[1].PreviousOutPoint)
	require.Equal(t, btcutil.Amount(15_000), b.TotalBtcInput())

	// A second sweep finds nothing new.
	added, err = b.AddConsolidationUtxos(key, rate, pool)
	require.NoError(t, err)
	require.Empty(t, added)
}

// TestAddConsolidationUtxosBounds checks that sweeping stops at the signer
// capacity and skips candidates that would break the weight cap.
func TestAddConsolidationUtxosBounds(t *testing.T) {
	t.Parallel()

	rate := btcunit.NewSatPerVByte(2)
	candidate := []utxo.Info{flaggedUtxo(2, 50_000, 10_000)}

	t.Run("signer capacity", func(t *testing.T) {
		t.Parallel()

		key := testKey(t)
		b := NewBuilder(Config{MaxInputsToSign: 1})
		require.NoError(t, b.AddInput(
			poolUtxo(1, 10_000), mempool.Confirmed(), key,
		))

		added, err := b.AddConsolidationUtxos(key, rate, candidate)
		require.NoError(t, err)
		require.Empty(t, added)
	})

	t.Run("weight cap", func(t *testing.T) {
		t.Parallel()

		key := testKey(t)
		b := NewBuilder(Config{
			MaxTxWeight: btcunit.NewWeightUnit(500),
		})
		require.NoError(t, b.AddInput(
			poolUtxo(1, 10_000), mempool.Confirmed(), key,
		))

		added, err := b.AddConsolidationUtxos(key, rate, candidate)
		require.NoError(t, err)
		require.Empty(t, added)
		require.Len(t, b.Tx().TxIn, 1)
	})
}

// TestCheckFeeRate covers the own-rate and package-rate checks.
func TestCheckFeeRate(t *testing.T) {
	t.Parallel()

	t.Run("own rate", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(Config{})
		require.NoError(t, b.AddInput(
			poolUtxo(1, 10_000), mempool.Confirmed(), nil,
		))
		require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

		require.NoError(t, b.CheckFeeRate(btcunit.NewSatPerVByte(1)))

		err := b.CheckFeeRate(btcunit.NewSatPerVByte(10))
		require.ErrorIs(t, err, ErrFeeRateTooLow)
	})

	t.Run("package rate", func(t *testing.T) {
		t.Parallel()

		newBuilder := func(parentVSize uint64) *Builder {
			b := NewBuilder(Config{})
			pending := mempool.Pending(mempool.Info{
				Fee:   0,
				VSize: btcunit.NewVByte(parentVSize),
			})
			require.NoError(t, b.AddInput(
				poolUtxo(1, 10_000), pending, nil,
			))
			require.NoError(t, b.AddOutput(p2trScript(9), 9_000))

			return b
		}

		// A small free-riding parent still fits under the fee.
		require.NoError(t, newBuilder(500).CheckFeeRate(
			btcunit.NewSatPerVByte(1),
		))

		// A large one drags the package below the target.
		err := newBuilder(1_000).CheckFeeRate(
			btcunit.NewSatPerVByte(1),
		)
		require.ErrorIs(t, err, ErrFeeRateTooLow)
	})
}
