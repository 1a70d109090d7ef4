package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// AddressPrefix defines the human-readable part of a bech32 ledger address.
type AddressPrefix string

const (
	// AccountPrefix marks user, operator and protocol accounts.
	AccountPrefix AddressPrefix = "vlt"
	// HoldingPrefix marks holding vault identities allocated by the pool.
	HoldingPrefix AddressPrefix = "vhold"
)

var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address represents a 20-byte ledger address with a display prefix.
type Address struct {
	prefix AddressPrefix
	bytes  [20]byte
}

// NewAddress wraps raw bytes. It panics when b is not exactly 20 bytes long.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	var raw [20]byte
	copy(raw[:], b)
	return Address{prefix: prefix, bytes: raw}
}

// FromRaw wraps a fixed-size address.
func FromRaw(prefix AddressPrefix, raw [20]byte) Address {
	return Address{prefix: prefix, bytes: raw}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes[:]...)
}

// Raw returns the fixed-size address.
func (a Address) Raw() [20]byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// DecodeAddress parses a bech32 address of any prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("%w: expected 20 bytes, got %d", ErrInvalidAddress, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseAddress accepts either a bech32 address or a 0x-prefixed hex string
// and returns the raw bytes.
func ParseAddress(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return [20]byte{}, fmt.Errorf("%w: %s", ErrInvalidAddress, trimmed)
		}
		return common.HexToAddress(trimmed), nil
	}
	addr, err := DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

// FormatAccount renders a raw account address.
func FormatAccount(raw [20]byte) string {
	return FromRaw(AccountPrefix, raw).String()
}

// FormatHolding renders a raw holding address.
func FormatHolding(raw [20]byte) string {
	return FromRaw(HoldingPrefix, raw).String()
}
