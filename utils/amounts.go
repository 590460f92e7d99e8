// Package utils provides amount conversion, retry and hashlock helpers shared
// across the orchestrator packages.
package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAmount checks that an amount string is a valid non-negative decimal.
func ParseAmount(amount string) (decimal.Decimal, error) {
	if amount == "" {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("amount cannot be negative")
	}

	return dec, nil
}

// ToBaseUnits converts a human-unit decimal string to base units using the
// asset's decimals.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	dec, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}

	multiplier := decimal.NewFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil), 0)
	return dec.Mul(multiplier).BigInt(), nil
}

// FromBaseUnits formats a base-unit amount as a human-unit decimal string.
func FromBaseUnits(amount *big.Int, decimals uint8) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
