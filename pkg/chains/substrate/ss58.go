package substrate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/sigweihq/dotclaim/pkg/constants"
)

var ss58Prefix = []byte("SS58PRE")

const ss58ChecksumLength = 2

func ss58Checksum(payload []byte) []byte {
	sum := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), payload...))
	return sum[:ss58ChecksumLength]
}

func encodeSS58Prefix(prefix uint16) []byte {
	if prefix < 64 {
		return []byte{byte(prefix)}
	}
	first := byte((prefix&0b1111_1100)>>2) | 0b0100_0000
	second := byte(prefix>>8) | byte((prefix&0b11)<<6)
	return []byte{first, second}
}

// EncodeSS58 renders a 32-byte public key as an SS58 address for the given network prefix
func EncodeSS58(pub []byte, prefix uint16) (string, error) {
	if len(pub) != constants.AccountIDBytes {
		return "", fmt.Errorf("%w: public key must be %d bytes", ErrInvalidAddress, constants.AccountIDBytes)
	}
	if prefix >= 1<<14 {
		return "", fmt.Errorf("%w: prefix %d out of range", ErrInvalidAddress, prefix)
	}
	payload := append(encodeSS58Prefix(prefix), pub...)
	return base58.Encode(append(payload, ss58Checksum(payload)...)), nil
}

// DecodeSS58 returns the public key and network prefix of an SS58 address
func DecodeSS58(address string) ([]byte, uint16, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	var prefix uint16
	prefixLen := 1
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
	case raw[0] < 128:
		if len(raw) < 2 {
			return nil, 0, fmt.Errorf("%w: truncated prefix", ErrInvalidAddress)
		}
		lower := (raw[0]&0b0011_1111)<<2 | raw[1]>>6
		upper := raw[1] & 0b0011_1111
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return nil, 0, fmt.Errorf("%w: reserved prefix byte %d", ErrInvalidAddress, raw[0])
	}

	if len(raw) != prefixLen+constants.AccountIDBytes+ss58ChecksumLength {
		return nil, 0, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(raw))
	}

	body := raw[:len(raw)-ss58ChecksumLength]
	if !bytes.Equal(ss58Checksum(body), raw[len(raw)-ss58ChecksumLength:]) {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return append([]byte{}, body[prefixLen:]...), prefix, nil
}

// ParseAccountID accepts an SS58 address or a 0x-prefixed 32-byte hex public key
func ParseAccountID(address string) ([32]byte, error) {
	var id [32]byte
	address = strings.TrimSpace(address)
	if address == "" {
		return id, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	if strings.HasPrefix(address, "0x") {
		raw, err := hexutil.Decode(address)
		if err != nil {
			return id, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if len(raw) != constants.AccountIDBytes {
			return id, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, constants.AccountIDBytes, len(raw))
		}
		copy(id[:], raw)
		return id, nil
	}

	pub, _, err := DecodeSS58(address)
	if err != nil {
		return id, err
	}
	copy(id[:], pub)
	return id, nil
}

// ValidateAddress reports whether address names a ledger account
func ValidateAddress(address string) error {
	_, err := ParseAccountID(address)
	return err
}
