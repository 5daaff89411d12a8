// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package planner

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/mempool"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/runeset"
	"github.com/btcsuite/txplanner/safemath"
	"github.com/btcsuite/txplanner/utxo"
	"github.com/stretchr/testify/require"
)

// testKey returns a fresh public key.
func testKey(t *testing.T) *btcec.PublicKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return priv.PubKey()
}

// testOutPoint returns a deterministic outpoint derived from seed.
func testOutPoint(seed byte) wire.OutPoint {
	var hash chainhash.Hash
	for i := range hash {
		hash[i] = seed
	}

	return wire.OutPoint{Hash: hash, Index: uint32(seed)}
}

// p2trScript returns a syntactically valid taproot output script.
func p2trScript(seed byte) []byte {
	script := make([]byte, 0, 34)
	script = append(script, txscript.OP_1, txscript.OP_DATA_32)

	return append(script, bytes.Repeat([]byte{seed}, 32)...)
}

// p2wpkhScript returns a syntactically valid v0 witness pubkey hash script.
func p2wpkhScript(seed byte) []byte {
	script := make([]byte, 0, 22)
	script = append(script, txscript.OP_0, txscript.OP_DATA_20)

	return append(script, bytes.Repeat([]byte{seed}, 20)...)
}

// poolUtxo returns a pool-owned taproot UTXO.
func poolUtxo(seed byte, value btcutil.Amount) utxo.Info {
	return utxo.Info{
		OutPoint: testOutPoint(seed),
		Value:    value,
		PkScript: p2trScript(seed),
	}
}

// flaggedUtxo returns a pool UTXO flagged for consolidation at the given
// sat/kvb rate.
func flaggedUtxo(seed byte, value btcutil.Amount, rate uint64) utxo.Info {
	u := poolUtxo(seed, value)
	u.ConsolidationRate = fixed.Some(rate)

	return u
}

// testAccount is a minimal StateAccount.
type testAccount struct {
	key    *btcec.PublicKey
	anchor wire.OutPoint
	script []byte
}

func (a *testAccount) AccountKey() *btcec.PublicKey  { return a.key }
func (a *testAccount) AnchorOutPoint() wire.OutPoint { return a.anchor }
func (a *testAccount) AnchorScript() []byte          { return a.script }

// TestBuilderAddInput checks the basic input bookkeeping: signer entries for
// pool inputs, none for foreign ones, and value accumulation.
func TestBuilderAddInput(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})

	u := poolUtxo(1, 10_000)
	require.NoError(t, b.AddInput(u, mempool.Confirmed(), key))

	require.Len(t, b.Tx().TxIn, 1)
	require.Equal(t, u.OutPoint, b.Tx().TxIn[0].PreviousOutPoint)
	require.Equal(t, btcutil.Amount(10_000), b.TotalBtcInput())

	// A foreign input keeps the caller's TxIn and gets no signer entry.
	foreign := poolUtxo(2, 5_000)
	txIn := wire.NewTxIn(
		&foreign.OutPoint, []byte{txscript.OP_1},
		wire.TxWitness{{0xaa}},
	)
	require.NoError(t, b.AddForeignInput(
		foreign, mempool.Confirmed(), txIn,
	))

	require.Len(t, b.Tx().TxIn, 2)
	require.Equal(t, txIn, b.Tx().TxIn[1])
	require.Equal(t, btcutil.Amount(15_000), b.TotalBtcInput())

	plan, err := b.Finalize()
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, plan.SignedInputIndices())
	require.Equal(t, key, plan.InputsToSign[0].Signer)
}

// TestBuilderInsertInput checks that inserting an input shifts the indices
// of later signer entries.
func TestBuilderInsertInput(t *testing.T) {
	t.Parallel()

	keyA, keyB := testKey(t), testKey(t)
	b := NewBuilder(Config{})

	uA, uB := poolUtxo(1, 4_000), poolUtxo(2, 3_000)
	require.NoError(t, b.AddInput(uA, mempool.Confirmed(), keyA))
	require.NoError(t, b.InsertInput(0, uB, mempool.Confirmed(), keyB))

	require.Equal(t, uB.OutPoint, b.Tx().TxIn[0].PreviousOutPoint)
	require.Equal(t, uA.OutPoint, b.Tx().TxIn[1].PreviousOutPoint)

	require.NoError(t, b.AddOutput(p2trScript(9), 1_000))

	plan, err := b.Finalize()
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1}, plan.SignedInputIndices())

	// Push order is preserved; only the index moved.
	require.Equal(t, uint32(1), plan.InputsToSign[0].InputIndex)
	require.Equal(t, keyA, plan.InputsToSign[0].Signer)
	require.Equal(t, uint32(0), plan.InputsToSign[1].InputIndex)
	require.Equal(t, keyB, plan.InputsToSign[1].Signer)
}

// TestBuilderSignerCapacity checks that a full signer set rejects the input
// without mutating the builder, while signerless inputs remain unaffected.
func TestBuilderSignerCapacity(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{MaxInputsToSign: 1})

	require.NoError(t, b.AddInput(
		poolUtxo(1, 1_000), mempool.Confirmed(), key,
	))

	err := b.AddInput(poolUtxo(2, 2_000), mempool.Confirmed(), key)
	require.ErrorIs(t, err, fixed.ErrCapacityExceeded)
	require.Len(t, b.Tx().TxIn, 1)
	require.Equal(t, btcutil.Amount(1_000), b.TotalBtcInput())

	// Inputs that need no signature are not bounded by the signer set.
	u := poolUtxo(2, 2_000)
	require.NoError(t, b.AddForeignInput(
		u, mempool.Confirmed(), wire.NewTxIn(&u.OutPoint, nil, nil),
	))
	require.Len(t, b.Tx().TxIn, 2)
}

// TestBuilderRuneInputs checks that rune amounts entering through inputs are
// merged per rune ID.
func TestBuilderRuneInputs(t *testing.T) {
	t.Parallel()

	b := NewBuilder(Config{})
	id := runeset.ID{Block: 840_000, Tx: 1}

	u1 := poolUtxo(1, 600)
	u1.Runes = runeset.NewSingle(runeset.Amount{
		ID: id, Value: safemath.NewUint128(100),
	})
	u2 := poolUtxo(2, 600)
	u2.Runes = runeset.NewSingle(runeset.Amount{
		ID: id, Value: safemath.NewUint128(50),
	})

	require.NoError(t, b.AddInput(u1, mempool.Confirmed(), nil))
	require.NoError(t, b.AddInput(u2, mempool.Confirmed(), nil))

	plan, err := b.Finalize()
	require.NoError(t, err)

	require.Equal(t, 1, plan.RuneInputs.Len())
	got, ok := plan.RuneInputs.Get(id)
	require.True(t, ok)
	require.Equal(t, safemath.NewUint128(150), got.Value)
}

// TestBuilderAncestorAggregation checks that pending ancestor packages are
// counted once per distinct parent transaction.
func TestBuilderAncestorAggregation(t *testing.T) {
	t.Parallel()

	b := NewBuilder(Config{})

	parent := testOutPoint(1).Hash
	u1 := utxo.Info{
		OutPoint: wire.OutPoint{Hash: parent, Index: 0},
		Value:    3_000,
		PkScript: p2trScript(1),
	}
	u2 := utxo.Info{
		OutPoint: wire.OutPoint{Hash: parent, Index: 1},
		Value:    2_000,
		PkScript: p2trScript(1),
	}
	u3 := poolUtxo(2, 1_000)

	info := mempool.Info{Fee: 500, VSize: btcunit.NewVByte(120)}
	require.NoError(t, b.AddInput(u1, mempool.Pending(info), nil))
	require.NoError(t, b.AddInput(u2, mempool.Pending(info), nil))
	require.NoError(t, b.AddInput(u3, mempool.Pending(mempool.Info{
		Fee: 200, VSize: btcunit.NewVByte(80),
	}), nil))

	vsize, fee := b.AncestorTotals()
	require.Equal(t, btcunit.NewVByte(200), vsize)
	require.Equal(t, btcutil.Amount(700), fee)
}

// TestTrackModifiedAccount checks idempotence and the capacity bound of the
// modified-accounts set.
func TestTrackModifiedAccount(t *testing.T) {
	t.Parallel()

	b := NewBuilder(Config{MaxModifiedAccounts: 2})

	acctA := &testAccount{key: testKey(t)}
	acctB := &testAccount{key: testKey(t)}
	acctC := &testAccount{key: testKey(t)}

	require.NoError(t, b.TrackModifiedAccount(acctA))
	require.NoError(t, b.TrackModifiedAccount(acctA))
	require.NoError(t, b.TrackModifiedAccount(acctB))

	err := b.TrackModifiedAccount(acctC)
	require.ErrorIs(t, err, fixed.ErrCapacityExceeded)

	plan, err := b.Finalize()
	require.NoError(t, err)
	require.Len(t, plan.ModifiedAccounts, 2)
}

// TestAddStateTransition checks that a state transition spends the current
// anchor, recreates it at the same value and tracks the account.
func TestAddStateTransition(t *testing.T) {
	t.Parallel()

	acct := &testAccount{
		key:    testKey(t),
		anchor: testOutPoint(7),
		script: p2trScript(7),
	}
	b := NewBuilder(Config{})

	status := mempool.Pending(mempool.Info{
		Fee: 300, VSize: btcunit.NewVByte(110),
	})
	require.NoError(t, b.AddStateTransition(acct, status))

	tx := b.Tx()
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, acct.anchor, tx.TxIn[0].PreviousOutPoint)
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, int64(DustLimit), tx.TxOut[0].Value)
	require.Equal(t, acct.script, tx.TxOut[0].PkScript)

	vsize, fee := b.AncestorTotals()
	require.Equal(t, btcunit.NewVByte(110), vsize)
	require.Equal(t, btcutil.Amount(300), fee)

	plan, err := b.Finalize()
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, plan.SignedInputIndices())
	require.Equal(t, acct.key, plan.InputsToSign[0].Signer)
	require.Len(t, plan.ModifiedAccounts, 1)
	require.Equal(t, btcutil.Amount(0), plan.Fee)
}

// TestAddStateTransitionNoScript checks that an account without an anchor
// script is rejected before any mutation.
func TestAddStateTransitionNoScript(t *testing.T) {
	t.Parallel()

	acct := &testAccount{key: testKey(t), anchor: testOutPoint(7)}
	b := NewBuilder(Config{})

	err := b.AddStateTransition(acct, mempool.Confirmed())
	require.ErrorContains(t, err, "anchor script")
	require.Empty(t, b.Tx().TxIn)
	require.Empty(t, b.Tx().TxOut)
}

// TestBuilderFinalized checks that every mutating operation fails once the
// plan is produced.
func TestBuilderFinalized(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})
	require.NoError(t, b.AddInput(
		poolUtxo(1, 10_000), mempool.Confirmed(), key,
	))

	_, err := b.Finalize()
	require.NoError(t, err)

	rate := btcunit.NewSatPerVByte(1)
	change := p2trScript(8)

	require.ErrorIs(t, b.AddInput(
		poolUtxo(2, 1_000), mempool.Confirmed(), key,
	), ErrBuilderFinalized)
	require.ErrorIs(
		t, b.AddOutput(change, 1_000), ErrBuilderFinalized,
	)
	require.ErrorIs(t, b.TrackModifiedAccount(
		&testAccount{key: key},
	), ErrBuilderFinalized)
	require.ErrorIs(t, b.AddStateTransition(&testAccount{
		key: key, script: change,
	}, mempool.Confirmed()), ErrBuilderFinalized)

	_, err = b.AdjustToPayFees(rate, change, nil, key)
	require.ErrorIs(t, err, ErrBuilderFinalized)

	_, _, err = b.FindBtcInUtxos(nil, key, 1)
	require.ErrorIs(t, err, ErrBuilderFinalized)

	_, err = b.AddConsolidationUtxos(key, rate, nil)
	require.ErrorIs(t, err, ErrBuilderFinalized)

	_, err = b.Finalize()
	require.ErrorIs(t, err, ErrBuilderFinalized)
}

// TestFinalizeValidation checks the consistency checks finalize applies.
func TestFinalizeValidation(t *testing.T) {
	t.Parallel()

	t.Run("duplicate input", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(Config{})
		u := poolUtxo(1, 1_000)
		require.NoError(t, b.AddInput(u, mempool.Confirmed(), nil))
		require.NoError(t, b.AddInput(u, mempool.Confirmed(), nil))

		_, err := b.Finalize()
		require.ErrorIs(t, err, ErrDuplicateInput)
	})

	t.Run("outputs exceed inputs", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(Config{})
		require.NoError(t, b.AddInput(
			poolUtxo(1, 1_000), mempool.Confirmed(), nil,
		))
		require.NoError(t, b.AddOutput(p2trScript(9), 2_000))

		_, err := b.Finalize()
		require.ErrorIs(t, err, ErrInsufficientInputAmount)
	})

	t.Run("weight cap", func(t *testing.T) {
		t.Parallel()

		b := NewBuilder(Config{
			MaxTxWeight: btcunit.NewWeightUnit(300),
		})
		require.NoError(t, b.AddInput(
			poolUtxo(1, 10_000), mempool.Confirmed(), nil,
		))
		require.NoError(t, b.AddOutput(p2trScript(9), 1_000))

		_, err := b.Finalize()
		require.ErrorIs(t, err, ErrTxTooLarge)
	})
}

// TestPlanPacket checks the PSBT export: witness UTXOs for known previous
// outputs and signature data moved into the final script fields.
func TestPlanPacket(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	b := NewBuilder(Config{})

	pool := poolUtxo(1, 20_000)
	require.NoError(t, b.AddInput(pool, mempool.Confirmed(), key))

	// A foreign input that arrives already signed.
	signed := utxo.Info{
		OutPoint: testOutPoint(2),
		Value:    5_000,
		PkScript: p2wpkhScript(2),
	}
	sigScript := []byte{txscript.OP_1}
	witness := wire.TxWitness{{0xaa, 0xbb}}
	require.NoError(t, b.AddForeignInput(
		signed, mempool.Confirmed(),
		wire.NewTxIn(&signed.OutPoint, sigScript, witness),
	))

	// A foreign input whose previous output script is unknown.
	blind := utxo.Info{OutPoint: testOutPoint(3), Value: 500}
	require.NoError(t, b.AddForeignInput(
		blind, mempool.Confirmed(),
		wire.NewTxIn(&blind.OutPoint, nil, nil),
	))

	require.NoError(t, b.AddOutput(p2trScript(9), 1_000))

	plan, err := b.Finalize()
	require.NoError(t, err)

	packet, err := plan.Packet()
	require.NoError(t, err)
	require.Len(t, packet.Inputs, 3)

	// The embedded transaction is unsigned.
	require.Empty(t, packet.UnsignedTx.TxIn[1].SignatureScript)
	require.Empty(t, packet.UnsignedTx.TxIn[1].Witness)

	// The plan's own transaction keeps its signature data.
	require.Equal(t, sigScript, plan.Tx.TxIn[1].SignatureScript)

	require.Equal(t, wire.NewTxOut(20_000, pool.PkScript),
		packet.Inputs[0].WitnessUtxo)
	require.Equal(t, wire.NewTxOut(5_000, signed.PkScript),
		packet.Inputs[1].WitnessUtxo)
	require.Nil(t, packet.Inputs[2].WitnessUtxo)

	require.Equal(t, sigScript, packet.Inputs[1].FinalScriptSig)
	require.Equal(t, []byte{0x01, 0x02, 0xaa, 0xbb},
		packet.Inputs[1].FinalScriptWitness)
}

// TestPlanInputs checks that the plan exposes a copy of the consumed UTXOs.
func TestPlanInputs(t *testing.T) {
	t.Parallel()

	b := NewBuilder(Config{})
	u := poolUtxo(1, 2_000)
	require.NoError(t, b.AddInput(u, mempool.Confirmed(), nil))

	plan, err := b.Finalize()
	require.NoError(t, err)

	inputs := plan.Inputs()
	require.Len(t, inputs, 1)
	require.Equal(t, u.OutPoint, inputs[0].OutPoint)

	inputs[0].Value = 0
	require.Equal(t, btcutil.Amount(2_000), plan.Inputs()[0].Value)
}
