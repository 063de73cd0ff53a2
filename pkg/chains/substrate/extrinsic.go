package substrate

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	bin "github.com/gagliardetto/binary"
	"golang.org/x/crypto/blake2b"

	"github.com/sigweihq/dotclaim/pkg/constants"
)

// extrinsicVersionUnsigned is transaction format v4 without a signature
const extrinsicVersionUnsigned = 0x04

// CallIndex addresses a dispatchable by pallet and call position
type CallIndex struct {
	Pallet uint8
	Call   uint8
}

// EncodeClaimCall encodes claim(dest: AccountId32, ethereum_signature: [u8; 65])
func EncodeClaimCall(index CallIndex, dest [32]byte, signature []byte) ([]byte, error) {
	if len(signature) != constants.SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", constants.SignatureLength, len(signature))
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteByte(index.Pallet); err != nil {
		return nil, err
	}
	if err := enc.WriteByte(index.Call); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(dest[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(signature, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeUnsignedExtrinsic wraps a call as a length-prefixed unsigned extrinsic
func EncodeUnsignedExtrinsic(call []byte) []byte {
	body := append([]byte{extrinsicVersionUnsigned}, call...)
	return append(EncodeCompact(uint64(len(body))), body...)
}

// ExtrinsicHash is the blake2b-256 digest the node reports for a submitted extrinsic
func ExtrinsicHash(extrinsic []byte) common.Hash {
	return common.Hash(blake2b.Sum256(extrinsic))
}
