// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sweep runs the periodic consolidation of flagged pool UTXOs. On
// every tick it snapshots the eligible pools, plans one consolidation
// transaction per pool that has enough worthwhile candidates, and hands
// the finished plans to the configured publisher. The planner itself is
// single-threaded; concurrency lives here, over per-pool snapshots.
package sweep

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/txplanner/pkg/btcunit"
	"github.com/btcsuite/txplanner/planner"
	"github.com/btcsuite/txplanner/utxo"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

// DefaultMinUtxos is the number of sweepable candidates a pool must yield
// before its consolidation is worth a transaction.
const DefaultMinUtxos = 2

// ErrInvalidConfig is returned by New when a required Config field is
// missing.
var ErrInvalidConfig = errors.New("invalid sweeper config")

// PoolSnapshot is one pool's data, copied out for a sweep round. The
// sweeper owns the snapshot until the round completes.
type PoolSnapshot struct {
	// PoolID identifies the pool in logs and errors.
	PoolID []byte

	// Utxos are the pool's spendable outputs.
	Utxos []utxo.Info

	// Signer is the key that signs for the pool's inputs.
	Signer *btcec.PublicKey

	// ChangeScript is the pool script the consolidated value pays back
	// to.
	ChangeScript []byte
}

// Config holds the dependencies of a Sweeper.
type Config struct {
	// Ticker triggers sweep rounds. The sweeper resumes it on Start and
	// stops it on Stop.
	Ticker ticker.Ticker

	// Source snapshots the pools eligible for sweeping.
	Source func() ([]PoolSnapshot, error)

	// FeeRate returns the fee rate consolidation is judged against.
	FeeRate func() (btcunit.SatPerVByte, error)

	// Publish hands a finished plan to the signer and broadcaster.
	Publish func(*planner.Plan) error

	// MinUtxos is the number of candidates a pool must actually yield
	// before its plan is published. Defaults to DefaultMinUtxos.
	MinUtxos int

	// MaxInputsToSign caps the swept set per transaction. Zero applies
	// the planner default.
	MaxInputsToSign int
}

// Sweeper periodically consolidates the flagged UTXOs of a set of pools.
type Sweeper struct {
	started sync.Once
	stopped sync.Once

	cfg Config

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a stopped Sweeper from the given config.
func New(cfg *Config) (*Sweeper, error) {
	switch {
	case cfg.Ticker == nil:
		return nil, fmt.Errorf("%w: nil ticker", ErrInvalidConfig)

	case cfg.Source == nil:
		return nil, fmt.Errorf("%w: nil source", ErrInvalidConfig)

	case cfg.FeeRate == nil:
		return nil, fmt.Errorf("%w: nil fee rate", ErrInvalidConfig)

	case cfg.Publish == nil:
		return nil, fmt.Errorf("%w: nil publish", ErrInvalidConfig)
	}

	s := &Sweeper{
		cfg:  *cfg,
		quit: make(chan struct{}),
	}
	if s.cfg.MinUtxos <= 0 {
		s.cfg.MinUtxos = DefaultMinUtxos
	}

	return s, nil
}

// Start begins reacting to ticks. Calling Start again is a no-op.
func (s *Sweeper) Start() {
	s.started.Do(func() {
		log.Info("Sweeper starting")

		s.cfg.Ticker.Resume()

		s.wg.Add(1)
		go s.sweepLoop()
	})
}

// Stop shuts the sweeper down and waits for the round in flight, if any,
// to finish. Calling Stop again is a no-op.
func (s *Sweeper) Stop() {
	s.stopped.Do(func() {
		log.Info("Sweeper stopping")

		s.cfg.Ticker.Stop()
		close(s.quit)
		s.wg.Wait()
	})
}

// sweepLoop reacts to ticks until the sweeper is stopped. A failed round
// is logged and the loop keeps ticking.
func (s *Sweeper) sweepLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.Ticker.Ticks():
			if err := s.sweepOnce(); err != nil {
				log.Errorf("Sweep round failed: %v", err)
			}

		case <-s.quit:
			return
		}
	}
}

// sweepOnce runs one round over all pools. Pools are planned concurrently,
// each over its own snapshot.
func (s *Sweeper) sweepOnce() error {
	rate, err := s.cfg.FeeRate()
	if err != nil {
		return fmt.Errorf("fee rate: %w", err)
	}

	pools, err := s.cfg.Source()
	if err != nil {
		return fmt.Errorf("snapshot pools: %w", err)
	}

	var eg errgroup.Group
	for i := range pools {
		snapshot := &pools[i]
		eg.Go(func() error {
			return s.sweepPool(snapshot, rate)
		})
	}

	return eg.Wait()
}

// sweepPool plans and publishes one pool's consolidation. Pools without
// enough to sweep at the given rate are skipped, not failed.
func (s *Sweeper) sweepPool(snapshot *PoolSnapshot,
	rate btcunit.SatPerVByte) error {

	if snapshot.Signer == nil {
		return fmt.Errorf("pool %x: no signer", snapshot.PoolID)
	}

	b := planner.NewBuilder(planner.Config{
		MaxInputsToSign: s.cfg.MaxInputsToSign,
	})

	added, err := b.AddConsolidationUtxos(
		snapshot.Signer, rate, snapshot.Utxos,
	)
	if err != nil {
		return fmt.Errorf("pool %x: %w", snapshot.PoolID, err)
	}

	if len(added) < s.cfg.MinUtxos {
		log.Debugf("Pool %x has %d candidates worth sweeping at %v, "+
			"want %d", snapshot.PoolID, len(added), rate,
			s.cfg.MinUtxos)

		return nil
	}

	_, err = b.AdjustToPayFees(rate, snapshot.ChangeScript, nil, nil)
	switch {
	// The swept values cannot carry the transaction overhead at the
	// current rate. Leave the pool for a cheaper round.
	case errors.Is(err, planner.ErrNotEnoughBtcInPool):
		log.Debugf("Pool %x cannot pay for its own sweep at %v",
			snapshot.PoolID, rate)

		return nil

	case err != nil:
		return fmt.Errorf("pool %x: %w", snapshot.PoolID, err)
	}

	// A sweep whose entire surplus was burned as dust has no outputs
	// and cannot be a valid transaction. Wait for more candidates.
	if len(b.Tx().TxOut) == 0 {
		log.Debugf("Pool %x sweep surplus is dust at %v",
			snapshot.PoolID, rate)

		return nil
	}

	plan, err := b.Finalize()
	if err != nil {
		return fmt.Errorf("pool %x: %w", snapshot.PoolID, err)
	}

	if err := s.cfg.Publish(plan); err != nil {
		return fmt.Errorf("publish pool %x: %w", snapshot.PoolID, err)
	}

	log.Infof("Swept %d utxos of pool %x in %v, fee %v", len(added),
		snapshot.PoolID, plan.Tx.TxHash(), plan.Fee)

	return nil
}
