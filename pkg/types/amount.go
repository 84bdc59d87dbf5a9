package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of fractional digits of the native coin.
const EtherDecimals = 18

// ErrInvalidAmount is returned for amounts that are malformed, non-positive,
// or more precise than the chain can represent.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a positive decimal coin amount such as "0.5".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be > 0", ErrInvalidAmount, s)
	}
	if !d.Equal(d.Truncate(EtherDecimals)) {
		return decimal.Decimal{}, fmt.Errorf("%w: more than %d decimals", ErrInvalidAmount, EtherDecimals)
	}
	return d, nil
}

// ToWei converts a coin amount to its smallest unit. Digits beyond
// EtherDecimals are truncated.
func ToWei(d decimal.Decimal) *big.Int {
	return d.Shift(EtherDecimals).Truncate(0).BigInt()
}

// FromWei converts an amount in the smallest unit to a coin amount.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals)
}

// FormatAmount renders an amount with at least one fractional digit, e.g.
// "1.0" or "0.25".
func FormatAmount(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
