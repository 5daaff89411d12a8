// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxo defines the UTXO record tracked for pooled funds: the
// outpoint, its bitcoin value, an optional rune carried by the output, and
// an optional consolidation flag. Records have a fixed serialized layout so
// a set of them can live inside a fixed-size account image.
package utxo

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/runeset"
	"github.com/btcsuite/txplanner/safemath"
)

// Info describes a single unspent output under management.
type Info struct {
	// OutPoint identifies the output on chain.
	OutPoint wire.OutPoint

	// Value is the bitcoin amount of the output.
	Value btcutil.Amount

	// PkScript is the script locking the output. It is contextual, known
	// to whoever owns the pool, and is not part of the serialized
	// record.
	PkScript []byte

	// Runes holds the rune carried by this output, if any. Outputs under
	// management carry at most one rune.
	Runes runeset.Single

	// ConsolidationRate marks the output as a consolidation candidate.
	// When set it holds the fee rate ceiling, in sat/kvB, below which
	// sweeping the output into a larger one is considered worthwhile.
	ConsolidationRate fixed.Option[uint64]
}

// String returns the outpoint as "txid:vout".
func (i *Info) String() string {
	return i.OutPoint.String()
}

// Equal reports whether other references the same outpoint. The remaining
// fields are derived state and do not participate in identity.
func (i *Info) Equal(other *Info) bool {
	return i.OutPoint == other.OutPoint
}

// FromCredit converts a wallet credit into an Info with no rune and no
// consolidation flag.
func FromCredit(c *wtxmgr.Credit) Info {
	return Info{
		OutPoint: c.OutPoint,
		Value:    c.Amount,
		PkScript: c.PkScript,
	}
}

// SumValues returns the total bitcoin value of utxos, failing with
// safemath.ErrOverflow if the sum exceeds the uint64 range.
func SumValues(utxos []Info) (btcutil.Amount, error) {
	var total uint64
	for i := range utxos {
		sum, err := safemath.AddUint64(total, uint64(utxos[i].Value))
		if err != nil {
			return 0, err
		}
		total = sum
	}

	return btcutil.Amount(total), nil
}

// SumRunes merges the rune amounts carried by utxos into dst. The caller
// chooses the capacity of dst, so a pool known to hold a single rune kind
// can aggregate into a runeset.Single while general callers pass a
// runeset.Bounded.
func SumRunes(dst runeset.Set, utxos []Info) error {
	for i := range utxos {
		if err := runeset.Sum(dst, &utxos[i].Runes); err != nil {
			return err
		}
	}

	return nil
}
