// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package safemath

import (
	"encoding/binary"
	"math/big"
	"math/bits"
)

// Uint128Size is the serialized length of a Uint128 in bytes.
const Uint128Size = 16

// Uint128 is an unsigned 128-bit integer with a fixed two-word layout. It is
// a value type, suitable for embedding in records that are serialized with a
// fixed layout, which is why math/big is not used here.
type Uint128 struct {
	hi uint64
	lo uint64
}

// NewUint128 returns the Uint128 representation of lo.
func NewUint128(lo uint64) Uint128 {
	return Uint128{lo: lo}
}

// NewUint128FromParts assembles a Uint128 from its high and low 64-bit
// words.
func NewUint128FromParts(hi, lo uint64) Uint128 {
	return Uint128{hi: hi, lo: lo}
}

// Hi returns the high 64 bits.
func (u Uint128) Hi() uint64 {
	return u.hi
}

// Lo returns the low 64 bits.
func (u Uint128) Lo() uint64 {
	return u.lo
}

// IsZero reports whether u is zero.
func (u Uint128) IsZero() bool {
	return u.hi == 0 && u.lo == 0
}

// Add returns u+v, or ErrOverflow when the sum exceeds 128 bits.
func (u Uint128) Add(v Uint128) (Uint128, error) {
	lo, carry := bits.Add64(u.lo, v.lo, 0)
	hi, carry := bits.Add64(u.hi, v.hi, carry)
	if carry != 0 {
		return Uint128{}, ErrOverflow
	}

	return Uint128{hi: hi, lo: lo}, nil
}

// Sub returns u-v, or ErrOverflow when v is greater than u.
func (u Uint128) Sub(v Uint128) (Uint128, error) {
	lo, borrow := bits.Sub64(u.lo, v.lo, 0)
	hi, borrow := bits.Sub64(u.hi, v.hi, borrow)
	if borrow != 0 {
		return Uint128{}, ErrOverflow
	}

	return Uint128{hi: hi, lo: lo}, nil
}

// Cmp compares u and v and returns -1, 0 or 1.
func (u Uint128) Cmp(v Uint128) int {
	switch {
	case u.hi < v.hi:
		return -1
	case u.hi > v.hi:
		return 1
	case u.lo < v.lo:
		return -1
	case u.lo > v.lo:
		return 1
	default:
		return 0
	}
}

// Bytes returns the little-endian fixed-width encoding of u.
func (u Uint128) Bytes() [Uint128Size]byte {
	var b [Uint128Size]byte
	binary.LittleEndian.PutUint64(b[0:8], u.lo)
	binary.LittleEndian.PutUint64(b[8:16], u.hi)

	return b
}

// Uint128FromBytes decodes the little-endian fixed-width encoding produced
// by Bytes.
func Uint128FromBytes(b [Uint128Size]byte) Uint128 {
	return Uint128{
		lo: binary.LittleEndian.Uint64(b[0:8]),
		hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// String returns the decimal representation of u.
func (u Uint128) String() string {
	if u.hi == 0 {
		return new(big.Int).SetUint64(u.lo).String()
	}

	n := new(big.Int).SetUint64(u.hi)
	n.Lsh(n, 64)
	n.Or(n, new(big.Int).SetUint64(u.lo))

	return n.String()
}
