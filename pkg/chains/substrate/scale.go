package substrate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
)

// EncodeCompact returns the SCALE compact encoding of v
func EncodeCompact(v uint64) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)

	switch {
	case v < 1<<6:
		_ = enc.WriteByte(byte(v << 2))
	case v < 1<<14:
		_ = enc.WriteUint16(uint16(v<<2|0b01), binary.LittleEndian)
	case v < 1<<30:
		_ = enc.WriteUint32(uint32(v<<2|0b10), binary.LittleEndian)
	default:
		var raw [8]byte
		binary.LittleEndian.PutUint64(raw[:], v)
		n := 8
		for n > 4 && raw[n-1] == 0 {
			n--
		}
		_ = enc.WriteByte(byte((n-4)<<2 | 0b11))
		_ = enc.WriteBytes(raw[:n], false)
	}
	return buf.Bytes()
}

// DecodeCompact reads a SCALE compact integer and reports how many bytes it used
func DecodeCompact(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, &DecodeError{What: "compact", Err: fmt.Errorf("empty input")}
	}
	dec := bin.NewBinDecoder(data)

	switch data[0] & 0b11 {
	case 0b00:
		b, err := dec.ReadByte()
		if err != nil {
			return 0, 0, &DecodeError{What: "compact", Err: err}
		}
		return uint64(b >> 2), 1, nil
	case 0b01:
		v, err := dec.ReadUint16(binary.LittleEndian)
		if err != nil {
			return 0, 0, &DecodeError{What: "compact", Err: err}
		}
		return uint64(v >> 2), 2, nil
	case 0b10:
		v, err := dec.ReadUint32(binary.LittleEndian)
		if err != nil {
			return 0, 0, &DecodeError{What: "compact", Err: err}
		}
		return uint64(v >> 2), 4, nil
	default:
		n := int(data[0]>>2) + 4
		if n > 8 {
			return 0, 0, &DecodeError{What: "compact", Err: fmt.Errorf("%d-byte integer overflows uint64", n)}
		}
		if len(data) < n+1 {
			return 0, 0, &DecodeError{What: "compact", Err: fmt.Errorf("need %d bytes, have %d", n+1, len(data))}
		}
		var raw [8]byte
		copy(raw[:], data[1:n+1])
		return binary.LittleEndian.Uint64(raw[:]), n + 1, nil
	}
}

// DecodeU128 decodes a little-endian SCALE u128
func DecodeU128(data []byte) (*big.Int, error) {
	if len(data) != 16 {
		return nil, &DecodeError{What: "u128", Err: fmt.Errorf("expected 16 bytes, got %d", len(data))}
	}
	dec := bin.NewBinDecoder(data)
	lo, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, &DecodeError{What: "u128", Err: err}
	}
	hi, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, &DecodeError{What: "u128", Err: err}
	}

	value := new(big.Int).SetUint64(hi)
	value.Lsh(value, 64)
	return value.Or(value, new(big.Int).SetUint64(lo)), nil
}

// EncodeU128 encodes v as a little-endian SCALE u128
func EncodeU128(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 || v.BitLen() > 128 {
		return nil, fmt.Errorf("value %s does not fit in u128", v)
	}
	be := v.FillBytes(make([]byte, 16))
	out := make([]byte, 16)
	for i := range be {
		out[15-i] = be[i]
	}
	return out, nil
}
