// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Source resolves the mempool status of a transaction.
type Source interface {
	// StatusOf returns the status of the given transaction. Transactions
	// unknown to the source are reported as confirmed.
	StatusOf(ctx context.Context, txid chainhash.Hash) (TxStatus, error)
}

// StaticSource is a Source backed by a fixed table of pending transactions.
// It serves offline planning, where the caller already knows the package
// aggregates of the outputs being spent, and tests.
type StaticSource struct {
	entries map[chainhash.Hash]Info
}

// A compile-time assertion that StaticSource satisfies Source.
var _ Source = (*StaticSource)(nil)

// NewStaticSource returns a Source that reports the given transactions as
// pending with their package aggregates and everything else as confirmed.
func NewStaticSource(entries map[chainhash.Hash]Info) *StaticSource {
	stable := make(map[chainhash.Hash]Info, len(entries))
	for txid, info := range entries {
		stable[txid] = info
	}

	return &StaticSource{entries: stable}
}

// StatusOf returns the status of the given transaction.
func (s *StaticSource) StatusOf(_ context.Context,
	txid chainhash.Hash) (TxStatus, error) {

	info, ok := s.entries[txid]
	if !ok {
		return Confirmed(), nil
	}

	return Pending(info), nil
}
