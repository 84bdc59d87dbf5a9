// Package types defines the primitive value types shared by the wallet packages.
package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressSize is the length of an address in bytes.
const AddressSize = common.AddressLength

// ErrInvalidAddress is returned when a string is not a well-formed address.
var ErrInvalidAddress = errors.New("invalid address")

// ParseAddress parses a 20-byte hex account address with or without the 0x
// prefix. All-lowercase and all-uppercase input is accepted as is; mixed-case
// input must carry a valid EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)

	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if "0x"+body != addr.Hex() {
			return common.Address{}, fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, s)
		}
	}
	return addr, nil
}

// SameAddress reports whether two address strings refer to the same account.
// Malformed input never matches.
func SameAddress(a, b string) bool {
	x, err := ParseAddress(a)
	if err != nil {
		return false
	}
	y, err := ParseAddress(b)
	if err != nil {
		return false
	}
	return x == y
}
