// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package shard

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txplanner/utxo"
)

// The flat shard layout, all integers little-endian:
//
//	[0:33]   account key (compressed)
//	[33:65]  anchor outpoint hash
//	[65:69]  anchor outpoint index (uint32)
//	[69:71]  btc utxo capacity (uint16)
//	[71:73]  btc utxo count (uint16)
//	[73]     rune slot presence tag
//	[74:156] rune slot utxo record
//	[156:]   capacity x 82-byte btc utxo records
//
// The anchor script is contextual and never serialized; callers re-derive
// it from the account key after loading. Vacant slots are zero-filled so
// identical shards encode to identical bytes.
const (
	shardHeaderSize = 156

	offsetKey       = 0
	offsetAnchor    = 33
	offsetAnchorIdx = 65
	offsetCapacity  = 69
	offsetCount     = 71
	offsetRuneSlot  = 73
	offsetRuneUtxo  = 74
)

const (
	slotVacant   byte = 0
	slotOccupied byte = 1
)

// SerializeSize returns the number of bytes Serialize will write. The size
// depends only on the shard's capacity, so shards of equal capacity always
// occupy equally sized records.
func (s *UtxoShard) SerializeSize() int {
	return shardHeaderSize + s.btcUtxos.Cap()*utxo.InfoSize
}

// Serialize writes the fixed-layout encoding of the shard to w.
func (s *UtxoShard) Serialize(w io.Writer) error {
	capacity := s.btcUtxos.Cap()
	if capacity > math.MaxUint16 {
		return fmt.Errorf("%w: capacity %d does not fit in uint16",
			ErrCorruptShard, capacity)
	}

	var header [shardHeaderSize]byte

	copy(header[offsetKey:offsetAnchor], s.key.SerializeCompressed())
	copy(header[offsetAnchor:offsetAnchorIdx], s.anchor.Hash[:])
	binary.LittleEndian.PutUint32(
		header[offsetAnchorIdx:offsetCapacity], s.anchor.Index,
	)
	binary.LittleEndian.PutUint16(
		header[offsetCapacity:offsetCount], uint16(capacity),
	)
	binary.LittleEndian.PutUint16(
		header[offsetCount:offsetRuneSlot],
		uint16(s.btcUtxos.Len()),
	)

	if runeOut := s.runeUtxo.Ptr(); runeOut != nil {
		header[offsetRuneSlot] = slotOccupied

		if _, err := w.Write(header[:offsetRuneUtxo]); err != nil {
			return err
		}
		if err := runeOut.Serialize(w); err != nil {
			return err
		}
	} else {
		if _, err := w.Write(header[:]); err != nil {
			return err
		}
	}

	live := s.btcUtxos.Slice()
	for i := range live {
		if err := live[i].Serialize(w); err != nil {
			return err
		}
	}

	var padding [utxo.InfoSize]byte
	for i := len(live); i < capacity; i++ {
		if _, err := w.Write(padding[:]); err != nil {
			return err
		}
	}

	return nil
}

// DeserializeUtxoShard reads a fixed-layout shard record from r. The
// returned shard has no anchor script; callers re-derive it from the
// account key.
func DeserializeUtxoShard(r io.Reader) (*UtxoShard, error) {
	var header [offsetRuneUtxo]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	key, err := btcec.ParsePubKey(header[offsetKey:offsetAnchor])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptShard, err)
	}

	var anchorHash chainhash.Hash
	copy(anchorHash[:], header[offsetAnchor:offsetAnchorIdx])
	anchorIdx := binary.LittleEndian.Uint32(
		header[offsetAnchorIdx:offsetCapacity],
	)

	capacity := int(binary.LittleEndian.Uint16(
		header[offsetCapacity:offsetCount],
	))
	count := int(binary.LittleEndian.Uint16(
		header[offsetCount:offsetRuneSlot],
	))
	if count > capacity {
		return nil, fmt.Errorf("%w: count %d exceeds capacity %d",
			ErrCorruptShard, count, capacity)
	}

	s := NewUtxoShard(key, capacity)
	s.anchor = wire.OutPoint{Hash: anchorHash, Index: anchorIdx}

	switch header[offsetRuneSlot] {
	case slotOccupied:
		var runeOut utxo.Info
		if err := runeOut.Deserialize(r); err != nil {
			return nil, err
		}
		s.runeUtxo.Set(runeOut)

	case slotVacant:
		// The vacant slot is still present on disk as zero padding.
		if err := discardSlot(r); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: rune slot tag %d",
			ErrCorruptShard, header[offsetRuneSlot])
	}

	for i := 0; i < count; i++ {
		var u utxo.Info
		if err := u.Deserialize(r); err != nil {
			return nil, err
		}
		if err := s.btcUtxos.Push(u); err != nil {
			return nil, err
		}
	}

	for i := count; i < capacity; i++ {
		if err := discardSlot(r); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// discardSlot consumes one zero-padded vacant slot from r.
func discardSlot(r io.Reader) error {
	var padding [utxo.InfoSize]byte
	_, err := io.ReadFull(r, padding[:])

	return err
}
