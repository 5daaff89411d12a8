// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package safemath provides overflow-checked integer arithmetic. Every
// operation reports failure through an error instead of wrapping around, and
// the multiply-divide helpers keep the intermediate product in 128 bits so
// a*b/c is exact whenever the final quotient fits in 64 bits.
package safemath

import (
	"errors"
	"math"
	"math/bits"
)

var (
	// ErrOverflow is returned when the result of an operation does not
	// fit the result type.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrDivideByZero is returned when a divisor is zero.
	ErrDivideByZero = errors.New("division by zero")
)

// AddUint64 returns a+b, or ErrOverflow when the sum exceeds math.MaxUint64.
func AddUint64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}

	return sum, nil
}

// SubUint64 returns a-b, or ErrOverflow when b is greater than a.
func SubUint64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}

	return diff, nil
}

// MulUint64 returns a*b, or ErrOverflow when the product exceeds
// math.MaxUint64.
func MulUint64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}

	return lo, nil
}

// MulDiv returns a*b/c rounded toward zero. The product is computed in 128
// bits, so the call succeeds whenever the quotient fits in 64 bits even if
// a*b alone would overflow. It returns ErrDivideByZero when c is zero and
// ErrOverflow when the quotient does not fit.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}

	hi, lo := bits.Mul64(a, b)

	// bits.Div64 panics when the quotient overflows 64 bits, which is
	// exactly the case hi >= c.
	if hi >= c {
		return 0, ErrOverflow
	}

	quo, _ := bits.Div64(hi, lo, c)

	return quo, nil
}

// MulDivCeil returns a*b/c rounded away from zero, with the same error
// behavior as MulDiv.
func MulDivCeil(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}

	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, ErrOverflow
	}

	quo, rem := bits.Div64(hi, lo, c)
	if rem != 0 {
		if quo == math.MaxUint64 {
			return 0, ErrOverflow
		}
		quo++
	}

	return quo, nil
}
