// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package shard maintains the per-account UTXO shards a pool's funds are
// split across. Each shard holds a bounded list of bitcoin UTXOs plus at
// most one rune-bearing UTXO, and the package provides the update pipeline
// that rolls a planned transaction's effects forward into the shards once
// it is broadcast.
package shard

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/runeset"
	"github.com/btcsuite/txplanner/utxo"
)

// Shard is the capability surface the update pipeline needs from a UTXO
// shard. Implementations are bounded: AddBtcUtxo reports failure instead of
// growing past the capacity fixed at construction.
type Shard interface {
	// BtcUtxos returns a view of the shard's bitcoin UTXOs backed by the
	// shard's own storage. The view is invalidated by any mutation of
	// the shard.
	BtcUtxos() []utxo.Info

	// AddBtcUtxo appends a bitcoin UTXO and returns the index it was
	// stored at. It returns false without storing when the shard is at
	// capacity.
	AddBtcUtxo(u utxo.Info) (int, bool)

	// RetainBtcUtxos removes every bitcoin UTXO for which keep returns
	// false, preserving the order of the survivors.
	RetainBtcUtxos(keep func(*utxo.Info) bool)

	// BtcUtxoCount returns the number of bitcoin UTXOs held.
	BtcUtxoCount() int

	// BtcUtxoCap returns the maximum number of bitcoin UTXOs the shard
	// can hold.
	BtcUtxoCap() int

	// RuneUtxo returns a pointer to the rune-bearing UTXO for in-place
	// inspection, or nil when the slot is empty.
	RuneUtxo() *utxo.Info

	// SetRuneUtxo stores u in the rune slot, replacing any previous
	// occupant.
	SetRuneUtxo(u utxo.Info)

	// ClearRuneUtxo empties the rune slot.
	ClearRuneUtxo()
}

// UtxoShard is the standard Shard implementation, bound to the account key
// that owns its funds on chain.
type UtxoShard struct {
	key *btcec.PublicKey

	// anchor is the outpoint of the account's state anchor output, with
	// the script it pays to. The script is contextual and is re-derived
	// by the caller after a shard is loaded from storage.
	anchor       wire.OutPoint
	anchorScript []byte

	btcUtxos *fixed.List[utxo.Info]
	runeUtxo fixed.Option[utxo.Info]
}

// A compile-time assertion that UtxoShard satisfies Shard.
var _ Shard = (*UtxoShard)(nil)

// NewUtxoShard creates an empty shard owned by key that can hold up to
// capacity bitcoin UTXOs.
func NewUtxoShard(key *btcec.PublicKey, capacity int) *UtxoShard {
	return &UtxoShard{
		key:      key,
		btcUtxos: fixed.NewList[utxo.Info](capacity),
	}
}

// AccountKey returns the public key of the account owning this shard.
func (s *UtxoShard) AccountKey() *btcec.PublicKey {
	return s.key
}

// SetAnchor records the account's state anchor output.
func (s *UtxoShard) SetAnchor(op wire.OutPoint, script []byte) {
	s.anchor = op
	s.anchorScript = script
}

// AnchorOutPoint returns the outpoint of the account's state anchor output.
func (s *UtxoShard) AnchorOutPoint() wire.OutPoint {
	return s.anchor
}

// AnchorScript returns the script the state anchor output pays to, or nil
// when the shard was loaded from storage and the script has not been
// re-derived yet.
func (s *UtxoShard) AnchorScript() []byte {
	return s.anchorScript
}

// BtcUtxos returns a view of the shard's bitcoin UTXOs.
func (s *UtxoShard) BtcUtxos() []utxo.Info {
	return s.btcUtxos.Slice()
}

// AddBtcUtxo appends a bitcoin UTXO per the Shard contract.
func (s *UtxoShard) AddBtcUtxo(u utxo.Info) (int, bool) {
	if err := s.btcUtxos.Push(u); err != nil {
		return 0, false
	}

	return s.btcUtxos.Len() - 1, true
}

// RetainBtcUtxos removes every bitcoin UTXO for which keep returns false.
func (s *UtxoShard) RetainBtcUtxos(keep func(*utxo.Info) bool) {
	s.btcUtxos.Retain(keep)
}

// BtcUtxoCount returns the number of bitcoin UTXOs held.
func (s *UtxoShard) BtcUtxoCount() int {
	return s.btcUtxos.Len()
}

// BtcUtxoCap returns the capacity the shard was constructed with.
func (s *UtxoShard) BtcUtxoCap() int {
	return s.btcUtxos.Cap()
}

// RuneUtxo returns a pointer to the rune-bearing UTXO, or nil.
func (s *UtxoShard) RuneUtxo() *utxo.Info {
	return s.runeUtxo.Ptr()
}

// SetRuneUtxo stores u in the rune slot.
func (s *UtxoShard) SetRuneUtxo(u utxo.Info) {
	s.runeUtxo.Set(u)
}

// ClearRuneUtxo empties the rune slot.
func (s *UtxoShard) ClearRuneUtxo() {
	s.runeUtxo.Clear()
}

// Balance returns the total bitcoin value of the shard's bitcoin UTXOs. The
// rune slot is excluded: its bitcoin carrier value is not spendable without
// moving the rune.
func (s *UtxoShard) Balance() (btcutil.Amount, error) {
	return utxo.SumValues(s.btcUtxos.Slice())
}

// shardBalance returns the total bitcoin value of any Shard's bitcoin
// UTXOs.
func shardBalance(s Shard) (btcutil.Amount, error) {
	return utxo.SumValues(s.BtcUtxos())
}

// SelectLeastFunded returns the index (into shards) of the used shard with
// the smallest bitcoin balance that still has room for another UTXO. The
// second return value is false when every used shard is full. Ties keep the
// earliest shard in used order.
func SelectLeastFunded(shards []Shard, used []int) (int, bool, error) {
	best := -1
	var bestBalance btcutil.Amount

	for _, idx := range used {
		s := shards[idx]
		if s.BtcUtxoCount() >= s.BtcUtxoCap() {
			continue
		}

		balance, err := shardBalance(s)
		if err != nil {
			return 0, false, err
		}

		if best == -1 || balance < bestBalance {
			best = idx
			bestBalance = balance
		}
	}

	if best == -1 {
		return 0, false, nil
	}

	return best, true, nil
}

// sumSpentRunes aggregates the rune amounts carried by the spent outpoints,
// looked up across the used shards' holdings. This is the rune value
// entering the transaction from the pool.
func sumSpentRunes(shards []Shard, used []int, spent []wire.OutPoint,
	dst runeset.Set) error {

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

		btcUtxos := s.BtcUtxos()
		for i := range btcUtxos {
			if !isSpent(btcUtxos[i].OutPoint) {
				continue
			}
			if err := runeset.Sum(dst, &btcUtxos[i].Runes); err != nil {
				return err
			}
		}

		runeOut := s.RuneUtxo()
		if runeOut == nil || !isSpent(runeOut.OutPoint) {
			continue
		}
		if err := runeset.Sum(dst, &runeOut.Runes); err != nil {
			return err
		}
	}

	return nil
}
