// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin units.
package btcunit

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string. We use 3 decimal places to ensure
	// that low fee rates (e.g., 1 sat/kvb = 0.001 sat/vbyte) are displayed
	// with sufficient precision and not rounded to zero.
	floatStringPrecision = 3
)

// ErrInvalidFeeRate is returned when a fee rate cannot be constructed from
// the given input, such as a negative, non-finite or unparsable value.
var ErrInvalidFeeRate = errors.New("invalid fee rate")

var (
	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = NewSatPerVByte(0)

	// ZeroSatPerKVByte is a fee rate of 0 sat/kvb.
	ZeroSatPerKVByte = NewSatPerKVByte(0)

	// ZeroSatPerKWeight is a fee rate of 0 sat/kw.
	ZeroSatPerKWeight = NewSatPerKWeight(0)
)

// baseFeeRate stores the canonical representation of a fee rate, which is
// satoshis per kilo-weight-unit (sat/kwu). All other fee rate units are
// derived from this.
type baseFeeRate struct {
	// satsPerKWU is the fee rate in satoshis per kilo-weight-unit. Keeping
	// the rate as an exact rational means a rate derived from, say, 3
	// satoshis over 141 vbytes loses nothing to rounding, and fees
	// computed from it are exact until the final conversion to whole
	// satoshis.
	satsPerKWU *big.Rat
}

// newBaseFeeRate creates a new baseFeeRate with the given numerator and
// denominator. It handles the zero denominator case by returning a zero fee
// rate.
func newBaseFeeRate(numerator btcutil.Amount, denominator uint64) baseFeeRate {
	if denominator == 0 {
		return baseFeeRate{satsPerKWU: big.NewRat(0, 1)}
	}

	return baseFeeRate{satsPerKWU: big.NewRat(
		int64(numerator),
		safeUint64ToInt64(denominator),
	)}
}

// rat returns the canonical rational, treating the zero value of a fee rate
// as a zero rate.
func (f baseFeeRate) rat() *big.Rat {
	if f.satsPerKWU == nil {
		return big.NewRat(0, 1)
	}

	return f.satsPerKWU
}

// newBaseFeeRateFromRat creates a new baseFeeRate from a rational number
// denominated in sat/vb. Negative rates are rejected with ErrInvalidFeeRate.
func newBaseFeeRateFromRat(satsPerVB *big.Rat) (baseFeeRate, error) {
	if satsPerVB.Sign() < 0 {
		return baseFeeRate{}, fmt.Errorf("%w: negative rate %v",
			ErrInvalidFeeRate, satsPerVB)
	}

	// Scale sat/vb to the canonical sat/kwu: one vbyte is
	// WitnessScaleFactor weight units.
	satsPerKWU := new(big.Rat).Mul(
		satsPerVB, big.NewRat(kilo, blockchain.WitnessScaleFactor),
	)

	return baseFeeRate{satsPerKWU: satsPerKWU}, nil
}

// ToSatPerVByte converts the fee rate to sat/vb.
func (f baseFeeRate) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{f}
}

// ToSatPerKVByte converts the fee rate to sat/kvb.
func (f baseFeeRate) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte{f}
}

// ToSatPerKWeight converts the fee rate to sat/kw.
func (f baseFeeRate) ToSatPerKWeight() SatPerKWeight {
	return SatPerKWeight{f}
}

// FeeForWeight calculates the fee resulting from this fee rate and the given
// weight in weight units (wu). The result is truncated to whole satoshis.
func (f baseFeeRate) FeeForWeight(weightUnit WeightUnit) btcutil.Amount {
	// The rate is stored as sat/kwu, so the fee for a given weight is the
	// rate multiplied by the weight expressed in kilo-weight-units.
	feeRateRational := big.NewRat(0, 1)
	feeRateRational.Mul(
		f.rat(),
		big.NewRat(safeUint64ToInt64(weightUnit.wu), kilo),
	)

	// Integer division of the numerator by the denominator truncates the
	// fractional satoshi.
	numerator := feeRateRational.Num()
	denominator := feeRateRational.Denom()

	quotient := big.NewInt(0)
	quotient.Div(numerator, denominator)

	return btcutil.Amount(quotient.Int64())
}

// FeeForWeightRoundUp calculates the fee resulting from this fee rate and the
// given weight in weight units (wu), rounding up to the nearest satoshi. This
// is the variant to use when deriving the minimum fee that still satisfies a
// rate floor: truncation would land one satoshi short whenever the exact fee
// is fractional.
func (f baseFeeRate) FeeForWeightRoundUp(weightUnit WeightUnit) btcutil.Amount {
	feeRateRational := big.NewRat(0, 1)
	feeRateRational.Mul(
		f.rat(), big.NewRat(
			safeUint64ToInt64(weightUnit.wu), kilo,
		),
	)

	numerator := feeRateRational.Num()
	denominator := feeRateRational.Denom()

	// Ceiling division: (numerator + denominator - 1) / denominator.
	result := big.NewInt(0)
	result.Add(numerator, denominator)
	result.Sub(result, big.NewInt(1))
	result.Div(result, denominator)

	return btcutil.Amount(result.Int64())
}

// FeeForVByte calculates the fee resulting from this fee rate and the given
// size in vbytes (vb). The result is truncated to whole satoshis.
func (f baseFeeRate) FeeForVByte(vb VByte) btcutil.Amount {
	return f.FeeForWeight(vb.ToWU())
}

// FeeForVByteRoundUp calculates the fee resulting from this fee rate and the
// given size in vbytes (vb), rounding up to the nearest satoshi.
func (f baseFeeRate) FeeForVByteRoundUp(vb VByte) btcutil.Amount {
	return f.FeeForWeightRoundUp(vb.ToWU())
}

// FeeForKVByte calculates the fee resulting from this fee rate and the given
// vsize in kilo-vbytes.
func (f baseFeeRate) FeeForKVByte(kvb KVByte) btcutil.Amount {
	// Converting kilo-virtual-bytes straight to weight units keeps the
	// computation on the exact rational path.
	return f.FeeForWeight(kvb.ToWU())
}

// FeeForKWeight calculates the fee resulting from this fee rate and the given
// weight in kilo-weight-units (kwu).
func (f baseFeeRate) FeeForKWeight(kwu KWeightUnit) btcutil.Amount {
	return f.FeeForWeight(kwu.ToWU())
}

// equal returns true if the fee rate is equal to the other fee rate.
func (f baseFeeRate) equal(other baseFeeRate) bool {
	return f.rat().Cmp(other.rat()) == 0
}

// greaterThan returns true if the fee rate is greater than the other fee rate.
func (f baseFeeRate) greaterThan(other baseFeeRate) bool {
	return f.rat().Cmp(other.rat()) > 0
}

// lessThan returns true if the fee rate is less than the other fee rate.
func (f baseFeeRate) lessThan(other baseFeeRate) bool {
	return f.rat().Cmp(other.rat()) < 0
}

// greaterThanOrEqual returns true if the fee rate is greater than or equal to
// the other fee rate.
func (f baseFeeRate) greaterThanOrEqual(other baseFeeRate) bool {
	return f.rat().Cmp(other.rat()) >= 0
}

// lessThanOrEqual returns true if the fee rate is less than or equal to the
// other fee rate.
func (f baseFeeRate) lessThanOrEqual(other baseFeeRate) bool {
	return f.rat().Cmp(other.rat()) <= 0
}

// SatPerVByte represents a fee rate in sat/vbyte. Internally, all fee rates
// are stored and operated on as satoshis per kilo-weight-unit (sat/kw).
// Conversions to other units and fee calculations are performed using this
// canonical internal representation. The `String()` method is the only one
// that presents the fee rate in its specific sat/vbyte unit.
type SatPerVByte struct {
	baseFeeRate
}

// NewSatPerVByte creates a new fee rate in sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte calculates the fee rate in sat/vb for a given fee and size.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	// To convert the rate to the canonical sat/kwu unit, we use the
	// formula: (fee * 1000) / size_in_wu.
	//
	// vb.wu provides the size in weight units (wu), implicitly accounting
	// for the WitnessScaleFactor.
	numerator := fee * kilo
	denominator := vb.wu

	return SatPerVByte{newBaseFeeRate(numerator, denominator)}
}

// NewSatPerVByteFromFloat creates a new fee rate in sat/vb from a floating
// point number. The rate is stored as the exact rational value of the float,
// so a rate built from 20.0 compares equal to one built from the integer 20.
// NaN, infinite and negative inputs are rejected with ErrInvalidFeeRate.
func NewSatPerVByteFromFloat(rate float64) (SatPerVByte, error) {
	satsPerVB := new(big.Rat)
	if satsPerVB.SetFloat64(rate) == nil {
		return SatPerVByte{}, fmt.Errorf("%w: %v is not finite",
			ErrInvalidFeeRate, rate)
	}

	base, err := newBaseFeeRateFromRat(satsPerVB)
	if err != nil {
		return SatPerVByte{}, err
	}

	return SatPerVByte{base}, nil
}

// NewSatPerVByteFromString creates a new fee rate in sat/vb from a decimal
// or fractional string such as "12", "12.5" or "25/2". Unparsable and
// negative inputs are rejected with ErrInvalidFeeRate.
func NewSatPerVByteFromString(s string) (SatPerVByte, error) {
	satsPerVB, ok := new(big.Rat).SetString(s)
	if !ok {
		return SatPerVByte{}, fmt.Errorf("%w: cannot parse %q",
			ErrInvalidFeeRate, s)
	}

	base, err := newBaseFeeRateFromRat(satsPerVB)
	if err != nil {
		return SatPerVByte{}, err
	}

	return SatPerVByte{base}, nil
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	// Calculate the fee rate in sat/vb from the canonical sat/kwu.
	// The WitnessScaleFactor (4) is used to convert weight units to vbytes.
	// The `kilo` constant is used to scale kilo-weight-units.
	kwToVbRate := big.NewRat(0, 1)
	kwToVbRate.Mul(s.rat(),
		big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	// Format the rational number to a string with the specified precision.
	return kwToVbRate.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.equal(other.baseFeeRate)
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.greaterThan(other.baseFeeRate)
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.lessThan(other.baseFeeRate)
}

// GreaterThanOrEqual returns true if the fee rate is greater than or equal to
// the other fee rate.
func (s SatPerVByte) GreaterThanOrEqual(other SatPerVByte) bool {
	return s.greaterThanOrEqual(other.baseFeeRate)
}

// LessThanOrEqual returns true if the fee rate is less than or equal to the
// other fee rate.
func (s SatPerVByte) LessThanOrEqual(other SatPerVByte) bool {
	return s.lessThanOrEqual(other.baseFeeRate)
}

// SatPerKVByte represents a fee rate in sat/kvb. Internally, all fee rates
// are stored and operated on as satoshis per kilo-weight-unit (sat/kw).
// Conversions to other units and fee calculations are performed using this
// canonical internal representation. The `String()` method is the only one
// that presents the fee rate in its specific sat/kvb unit.
type SatPerKVByte struct {
	baseFeeRate
}

// NewSatPerKVByte creates a new fee rate in sat/kvb.
func NewSatPerKVByte(rate btcutil.Amount) SatPerKVByte {
	return CalcSatPerKVByte(rate, NewKVByte(1))
}

// CalcSatPerKVByte calculates the fee rate in sat/kvb for a given fee and size.
func CalcSatPerKVByte(fee btcutil.Amount, kvb KVByte) SatPerKVByte {
	// To convert the rate to the canonical sat/kwu unit, we use the
	// formula: (fee * 1000) / size_in_wu.
	//
	// kvb.wu provides the size in weight units (wu), implicitly accounting
	// for the WitnessScaleFactor and kilo scaling.
	numerator := fee * kilo
	denominator := kvb.wu

	return SatPerKVByte{newBaseFeeRate(numerator, denominator)}
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	// Calculate the fee rate in sat/kvb from the canonical sat/kwu.
	// The WitnessScaleFactor (4) is used to convert weight units to vbytes.
	// No `kilo` division here as we are converting to *kilo*-vbytes.
	kwToKvbRate := big.NewRat(0, 1)
	kwToKvbRate.Mul(s.rat(),
		big.NewRat(blockchain.WitnessScaleFactor, 1),
	)

	// Format the rational number to a string with the specified precision.
	return kwToKvbRate.FloatString(floatStringPrecision) +
		" sat/kvb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKVByte) Equal(other SatPerKVByte) bool {
	return s.equal(other.baseFeeRate)
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerKVByte) GreaterThan(other SatPerKVByte) bool {
	return s.greaterThan(other.baseFeeRate)
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKVByte) LessThan(other SatPerKVByte) bool {
	return s.lessThan(other.baseFeeRate)
}

// GreaterThanOrEqual returns true if the fee rate is greater than or equal to
// the other fee rate.
func (s SatPerKVByte) GreaterThanOrEqual(other SatPerKVByte) bool {
	return s.greaterThanOrEqual(other.baseFeeRate)
}

// LessThanOrEqual returns true if the fee rate is less than or equal to the
// other fee rate.
func (s SatPerKVByte) LessThanOrEqual(other SatPerKVByte) bool {
	return s.lessThanOrEqual(other.baseFeeRate)
}

// SatPerKWeight represents a fee rate in sat/kw. Internally, all fee rates
// are stored and operated on as satoshis per kilo-weight-unit (sat/kw).
// Conversions to other units and fee calculations are performed using this
// canonical internal representation. The `String()` method is the only one
// that presents the fee rate in its specific sat/kw unit.
type SatPerKWeight struct {
	baseFeeRate
}

// NewSatPerKWeight creates a new fee rate in sat/kw.
func NewSatPerKWeight(rate btcutil.Amount) SatPerKWeight {
	return CalcSatPerKWeight(rate, NewKWeightUnit(1))
}

// CalcSatPerKWeight calculates the fee rate in sat/kw for a given fee and size.
func CalcSatPerKWeight(fee btcutil.Amount, kwu KWeightUnit) SatPerKWeight {
	// To convert the rate to the canonical sat/kwu unit, we use the
	// formula: (fee * 1000) / size_in_wu.
	//
	// kwu.wu provides the size in weight units (wu), implicitly accounting
	// for the kilo scaling.
	numerator := fee * kilo
	denominator := kwu.wu

	return SatPerKWeight{newBaseFeeRate(numerator, denominator)}
}

// String returns a human-readable string of the fee rate.
func (s SatPerKWeight) String() string {
	return s.rat().FloatString(floatStringPrecision) + " sat/kw"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKWeight) Equal(other SatPerKWeight) bool {
	return s.equal(other.baseFeeRate)
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerKWeight) GreaterThan(other SatPerKWeight) bool {
	return s.greaterThan(other.baseFeeRate)
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKWeight) LessThan(other SatPerKWeight) bool {
	return s.lessThan(other.baseFeeRate)
}

// GreaterThanOrEqual returns true if the fee rate is greater than or equal to
// the other fee rate.
func (s SatPerKWeight) GreaterThanOrEqual(other SatPerKWeight) bool {
	return s.greaterThanOrEqual(other.baseFeeRate)
}

// LessThanOrEqual returns true if the fee rate is less than or equal to the
// other fee rate.
func (s SatPerKWeight) LessThanOrEqual(other SatPerKWeight) bool {
	return s.lessThanOrEqual(other.baseFeeRate)
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
// This is used to silence gosec warnings about integer overflows. In practice,
// the values being converted are transaction weights or sizes, which are
// limited by consensus rules and are not expected to overflow an int64.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		slog.Warn("Capping uint64 value to math.MaxInt64",
			slog.Uint64("old", u), slog.Int64("new", math.MaxInt64))

		return math.MaxInt64
	}

	return int64(u)
}
