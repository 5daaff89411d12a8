// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sweep

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/planner"
	"github.com/btcsuite/txplanner/utxo"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// testKey derives a fresh public key for tests.
func testKey(t *testing.T) *btcec.PublicKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return priv.PubKey()
}

// testOutPoint returns an outpoint whose hash is filled with seed.
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

// flaggedUtxo returns a taproot pool UTXO flagged for consolidation at the
// given sat/kvb rate.
func flaggedUtxo(seed byte, value btcutil.Amount, rate uint64) utxo.Info {
	return utxo.Info{
		OutPoint:          testOutPoint(seed),
		Value:             value,
		PkScript:          p2trScript(seed),
		ConsolidationRate: fixed.Some(rate),
	}
}

// startSweeper starts a sweeper driven by a force ticker. The sweeper is
// stopped when the test ends.
func startSweeper(t *testing.T, cfg *Config) (*Sweeper, *ticker.Force) {
	t.Helper()

	force := ticker.NewForce(time.Hour)
	cfg.Ticker = force

	s, err := New(cfg)
	require.NoError(t, err)

	s.Start()
	t.Cleanup(s.Stop)

	return s, force
}

// collectPublisher returns a publisher that collects plans on a channel.
func collectPublisher() (func(*planner.Plan) error, chan *planner.Plan) {
	published := make(chan *planner.Plan, 8)
	publish := func(p *planner.Plan) error {
		published <- p
		return nil
	}

	return publish, published
}

// drainPlans returns the plans published so far. Only deterministic once
// the sweeper has stopped.
func drainPlans(published chan *planner.Plan) []*planner.Plan {
	var plans []*planner.Plan
	for {
		select {
		case plan := <-published:
			plans = append(plans, plan)
		default:
			return plans
		}
	}
}

func staticFeeRate(rate btcutil.Amount) func() (btcunit.SatPerVByte, error) {
	return func() (btcunit.SatPerVByte, error) {
		return btcunit.NewSatPerVByte(rate), nil
	}
}

func staticSource(pools ...PoolSnapshot) func() ([]PoolSnapshot, error) {
	return func() ([]PoolSnapshot, error) {
		return pools, nil
	}
}

// TestSweeperPublishesConsolidation checks that one tick sweeps a pool's
// flagged UTXOs into a single change output that pays its own fee.
func TestSweeperPublishesConsolidation(t *testing.T) {
	t.Parallel()

	signer := testKey(t)
	changeScript := p2trScript(0xcc)
	publish, published := collectPublisher()

	pool := PoolSnapshot{
		PoolID: []byte("pool-a"),
		Utxos: []utxo.Info{
			flaggedUtxo(1, 5_000, 2_000),
			flaggedUtxo(2, 5_000, 2_500),
			// Unflagged outputs are never swept.
			{
				OutPoint: testOutPoint(3),
				Value:    50_000,
				PkScript: p2trScript(3),
			},
		},
		Signer:       signer,
		ChangeScript: changeScript,
	}

	s, force := startSweeper(t, &Config{
		Source:  staticSource(pool),
		FeeRate: staticFeeRate(2),
		Publish: publish,
	})

	force.Force <- time.Now()
	s.Stop()

	plans := drainPlans(published)
	require.Len(t, plans, 1)
	plan := plans[0]

	// Both flagged UTXOs fund a single change output back to the pool,
	// with the fee taken out of the swept value.
	require.Len(t, plan.Tx.TxIn, 2)
	require.Equal(t, testOutPoint(1), plan.Tx.TxIn[0].PreviousOutPoint)
	require.Equal(t, testOutPoint(2), plan.Tx.TxIn[1].PreviousOutPoint)
	require.Equal(t, []uint32{0, 1}, plan.SignedInputIndices())

	require.Len(t, plan.Tx.TxOut, 1)
	require.Equal(t, changeScript, plan.Tx.TxOut[0].PkScript)
	require.Equal(t, btcutil.Amount(340), plan.Fee)
	require.Equal(t, int64(10_000-340), plan.Tx.TxOut[0].Value)

	for _, in := range plan.InputsToSign {
		require.True(t, signer.IsEqual(in.Signer))
	}
}

// TestSweeperSkipsUnsweepablePools checks that pools that cannot produce a
// worthwhile consolidation are skipped without failing the round.
func TestSweeperSkipsUnsweepablePools(t *testing.T) {
	t.Parallel()

	signer := testKey(t)
	fatChange := p2trScript(0xcc)
	publish, published := collectPublisher()

	pools := []PoolSnapshot{{
		// A single worthwhile candidate, below DefaultMinUtxos.
		PoolID:       []byte("thin"),
		Utxos:        []utxo.Info{flaggedUtxo(1, 5_000, 2_000)},
		Signer:       signer,
		ChangeScript: p2trScript(0xaa),
	}, {
		// Candidates that cannot pay the fixed transaction overhead.
		PoolID: []byte("poor"),
		Utxos: []utxo.Info{
			flaggedUtxo(2, 130, 2_000),
			flaggedUtxo(3, 135, 2_000),
		},
		Signer:       signer,
		ChangeScript: p2trScript(0xab),
	}, {
		// The surplus after fees is dust and gets burned, leaving no
		// output to build a transaction around.
		PoolID: []byte("dusty"),
		Utxos: []utxo.Info{
			flaggedUtxo(4, 300, 2_000),
			flaggedUtxo(5, 300, 2_000),
		},
		Signer:       signer,
		ChangeScript: p2trScript(0xac),
	}, {
		PoolID: []byte("fat"),
		Utxos: []utxo.Info{
			flaggedUtxo(6, 5_000, 2_000),
			flaggedUtxo(7, 5_000, 2_000),
		},
		Signer:       signer,
		ChangeScript: fatChange,
	}}

	s, force := startSweeper(t, &Config{
		Source:  staticSource(pools...),
		FeeRate: staticFeeRate(2),
		Publish: publish,
	})

	force.Force <- time.Now()
	s.Stop()

	plans := drainPlans(published)
	require.Len(t, plans, 1)
	require.Equal(t, fatChange, plans[0].Tx.TxOut[0].PkScript)
	require.Equal(t, int64(10_000-340), plans[0].Tx.TxOut[0].Value)
}

// TestSweeperToleratesFailures checks that failing dependencies spoil one
// round each, never the sweeper.
func TestSweeperToleratesFailures(t *testing.T) {
	t.Parallel()

	signer := testKey(t)
	pool := PoolSnapshot{
		PoolID: []byte("pool-a"),
		Utxos: []utxo.Info{
			flaggedUtxo(1, 5_000, 2_000),
			flaggedUtxo(2, 5_000, 2_000),
		},
		Signer:       signer,
		ChangeScript: p2trScript(0xcc),
	}

	published := make(chan *planner.Plan, 8)
	var feeCalls, sourceCalls, publishCalls int

	s, force := startSweeper(t, &Config{
		FeeRate: func() (btcunit.SatPerVByte, error) {
			feeCalls++
			if feeCalls == 1 {
				return btcunit.SatPerVByte{},
					errors.New("fee oracle down")
			}

			return btcunit.NewSatPerVByte(2), nil
		},
		Source: func() ([]PoolSnapshot, error) {
			sourceCalls++
			if sourceCalls == 1 {
				return nil, errors.New("pool source down")
			}

			return []PoolSnapshot{pool}, nil
		},
		Publish: func(p *planner.Plan) error {
			publishCalls++
			if publishCalls == 1 {
				return errors.New("broadcast failed")
			}
			published <- p

			return nil
		},
	})

	// Round 1 dies on the fee rate, round 2 on the source, round 3 on
	// publishing. Round 4 finally lands a plan.
	for i := 0; i < 4; i++ {
		force.Force <- time.Now()
	}
	s.Stop()

	require.Len(t, drainPlans(published), 1)
	require.Equal(t, 4, feeCalls)
	require.Equal(t, 3, sourceCalls)
	require.Equal(t, 2, publishCalls)
}

// TestSweeperStartStopIdempotent checks repeated Start and Stop calls are
// harmless.
func TestSweeperStartStopIdempotent(t *testing.T) {
	t.Parallel()

	publish, _ := collectPublisher()
	s, force := startSweeper(t, &Config{
		Source:  staticSource(),
		FeeRate: staticFeeRate(2),
		Publish: publish,
	})

	// The sweeper is already running; a second Start changes nothing.
	s.Start()

	// A round over zero pools is a no-op.
	force.Force <- time.Now()

	s.Stop()
	s.Stop()
}

// TestSweeperConfigValidation checks New rejects incomplete configs.
func TestSweeperConfigValidation(t *testing.T) {
	t.Parallel()

	publish, _ := collectPublisher()
	complete := func() *Config {
		return &Config{
			Ticker:  ticker.NewForce(time.Hour),
			Source:  staticSource(),
			FeeRate: staticFeeRate(2),
			Publish: publish,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no ticker", func(cfg *Config) { cfg.Ticker = nil }},
		{"no source", func(cfg *Config) { cfg.Source = nil }},
		{"no fee rate", func(cfg *Config) { cfg.FeeRate = nil }},
		{"no publish", func(cfg *Config) { cfg.Publish = nil }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := complete()
			tc.mutate(cfg)

			_, err := New(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	s, err := New(complete())
	require.NoError(t, err)
	require.Equal(t, DefaultMinUtxos, s.cfg.MinUtxos)
}
