package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount conversion errors.
var (
	ErrNegativeAmount  = errors.New("amount is negative")
	ErrAmountPrecision = errors.New("amount has more fractional digits than the token allows")
	ErrAmountOverflow  = errors.New("amount exceeds uint64 range")
)

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// ToDisplay converts a raw token amount into display units: raw / 10^decimals.
func ToDisplay(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}

// FromDisplay converts a display amount back into raw units: display * 10^decimals.
// The conversion is exact; inputs that cannot be represented are rejected.
func FromDisplay(display decimal.Decimal, decimals uint8) (uint64, error) {
	if display.Sign() < 0 {
		return 0, ErrNegativeAmount
	}

	shifted := display.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s with %d decimals", ErrAmountPrecision, display.String(), decimals)
	}

	raw := shifted.BigInt()
	if raw.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, display.String())
	}
	return raw.Uint64(), nil
}

// ParseDisplay parses a decimal string (as typed by a user) into raw units.
func ParseDisplay(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDisplay(d, decimals)
}
