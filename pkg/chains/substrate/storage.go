package substrate

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Hasher names a storage map key hasher
type Hasher string

const (
	HasherIdentity         Hasher = "identity"
	HasherBlake2_128Concat Hasher = "blake2_128_concat"
	HasherTwox64Concat     Hasher = "twox64_concat"
)

// Valid reports whether h is a supported hasher
func (h Hasher) Valid() bool {
	switch h {
	case HasherIdentity, HasherBlake2_128Concat, HasherTwox64Concat:
		return true
	}
	return false
}

func twox64(data []byte, seed uint64) []byte {
	d := xxhash.NewWithSeed(seed)
	_, _ = d.Write(data)
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, d.Sum64())
	return out
}

// Twox128 is the 128-bit xxhash used for pallet and item prefixes
func Twox128(data []byte) []byte {
	return append(twox64(data, 0), twox64(data, 1)...)
}

// Blake2_128 is the 16-byte blake2b digest of data
func Blake2_128(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// Hash applies the hasher to a map key
func (h Hasher) Hash(key []byte) ([]byte, error) {
	switch h {
	case HasherIdentity:
		return append([]byte{}, key...), nil
	case HasherBlake2_128Concat:
		return append(Blake2_128(key), key...), nil
	case HasherTwox64Concat:
		return append(twox64(key, 0), key...), nil
	}
	return nil, fmt.Errorf("unsupported storage hasher %q", string(h))
}

// StoragePrefix returns twox128(pallet) ++ twox128(item)
func StoragePrefix(pallet, item string) []byte {
	return append(Twox128([]byte(pallet)), Twox128([]byte(item))...)
}

// MapKey returns the full storage key of a single-key map entry
func MapKey(pallet, item string, hasher Hasher, key []byte) ([]byte, error) {
	hashed, err := hasher.Hash(key)
	if err != nil {
		return nil, err
	}
	return append(StoragePrefix(pallet, item), hashed...), nil
}
