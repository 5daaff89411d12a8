// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/txplanner/fixed"
	"github.com/btcsuite/txplanner/runeset"
	"github.com/btcsuite/txplanner/safemath"
)

// InfoSize is the serialized length of an Info in bytes. Every record
// occupies exactly this many bytes regardless of which optional fields are
// set, so an array of records has a computable flat layout.
const InfoSize = 82

// ErrCorruptRecord describes a serialized record that violates the fixed
// layout.
var ErrCorruptRecord = errors.New("corrupt utxo record")

// The flat record layout, all integers little-endian:
//
//   [0:32]  transaction hash
//   [32:36] output index
//   [36:44] value in satoshis
//   [44]    rune presence tag
//   [45:53] rune ID block
//   [53:57] rune ID tx index
//   [57:73] rune value, 128 bits
//   [73]    consolidation presence tag
//   [74:82] consolidation rate ceiling in sat/kvB
//
// Empty optional slots are zero-filled so identical records encode to
// identical bytes.
const (
	offsetHash          = 0
	offsetIndex         = 32
	offsetValue         = 36
	offsetRuneTag       = 44
	offsetRuneBlock     = 45
	offsetRuneTx        = 53
	offsetRuneValue     = 57
	offsetConsolidation = 73
	offsetConsolidRate  = 74
)

const (
	tagNone byte = 0
	tagSome byte = 1
)

// SerializeSize returns the number of bytes Serialize will write.
func (i *Info) SerializeSize() int {
	return InfoSize
}

// Serialize writes the fixed-layout encoding of the record to w. PkScript
// is contextual state and is not written.
func (i *Info) Serialize(w io.Writer) error {
	var buf [InfoSize]byte

	copy(buf[offsetHash:offsetIndex], i.OutPoint.Hash[:])
	binary.LittleEndian.PutUint32(
		buf[offsetIndex:offsetValue], i.OutPoint.Index,
	)
	binary.LittleEndian.PutUint64(
		buf[offsetValue:offsetRuneTag], uint64(i.Value),
	)

	if amt, ok := i.Runes.Amount(); ok {
		buf[offsetRuneTag] = tagSome
		binary.LittleEndian.PutUint64(
			buf[offsetRuneBlock:offsetRuneTx], amt.ID.Block,
		)
		binary.LittleEndian.PutUint32(
			buf[offsetRuneTx:offsetRuneValue], amt.ID.Tx,
		)
		value := amt.Value.Bytes()
		copy(buf[offsetRuneValue:offsetConsolidation], value[:])
	}

	if rate, ok := i.ConsolidationRate.Value(); ok {
		buf[offsetConsolidation] = tagSome
		binary.LittleEndian.PutUint64(
			buf[offsetConsolidRate:InfoSize], rate,
		)
	}

	_, err := w.Write(buf[:])

	return err
}

// Deserialize reads a fixed-layout record from r, replacing the receiver's
// contents. PkScript is reset to nil since it is not part of the record.
func (i *Info) Deserialize(r io.Reader) error {
	var buf [InfoSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}

	copy(i.OutPoint.Hash[:], buf[offsetHash:offsetIndex])
	i.OutPoint.Index = binary.LittleEndian.Uint32(
		buf[offsetIndex:offsetValue],
	)

	value := binary.LittleEndian.Uint64(buf[offsetValue:offsetRuneTag])
	if value > math.MaxInt64 {
		return fmt.Errorf("%w: value %d out of range",
			ErrCorruptRecord, value)
	}
	i.Value = btcutil.Amount(value)
	i.PkScript = nil

	i.Runes.Clear()
	switch buf[offsetRuneTag] {
	case tagNone:

	case tagSome:
		var valueBytes [safemath.Uint128Size]byte
		copy(valueBytes[:], buf[offsetRuneValue:offsetConsolidation])

		i.Runes = runeset.NewSingle(runeset.Amount{
			ID: runeset.ID{
				Block: binary.LittleEndian.Uint64(
					buf[offsetRuneBlock:offsetRuneTx],
				),
				Tx: binary.LittleEndian.Uint32(
					buf[offsetRuneTx:offsetRuneValue],
				),
			},
			Value: safemath.Uint128FromBytes(valueBytes),
		})

	default:
		return fmt.Errorf("%w: unknown rune tag %d",
			ErrCorruptRecord, buf[offsetRuneTag])
	}

	i.ConsolidationRate.Clear()
	switch buf[offsetConsolidation] {
	case tagNone:

	case tagSome:
		i.ConsolidationRate = fixed.Some(binary.LittleEndian.Uint64(
			buf[offsetConsolidRate:InfoSize],
		))

	default:
		return fmt.Errorf("%w: unknown consolidation tag %d",
			ErrCorruptRecord, buf[offsetConsolidation])
	}

	return nil
}
