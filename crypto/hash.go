package crypto

import (
	"encoding/binary"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// HashSize is the width of every digest produced by this package.
const HashSize = 32

// Hash is a SHA3-256 digest, used for transaction hashes, block hashes
// and the state root (§3).
type Hash [HashSize]byte

func (h Hash) Bytes() []byte     { return h[:] }
func (h Hash) String() string    { return base58.Encode(h[:]) }
func (h Hash) IsZero() bool      { return h == Hash{} }

// HashFromBase58 decodes a base58-encoded 32-byte hash.
func HashFromBase58(s string) (Hash, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Hash{}, err
	}
	return HashFromBytes(b)
}

// HashFromBytes wraps a 32-byte slice as a Hash, zero-padding short input.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	copy(h[:], b)
	return h, nil
}

// Sum3 computes SHA3-256 over the concatenation of its arguments, the
// hash function pinned by §3 for transaction hashes, block parent links
// and the state root chain.
func Sum3(parts ...[]byte) Hash {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// LE64 little-endian encodes a uint64, the canonical integer encoding
// used throughout the wire/hash formats in §3.
func LE64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// LE32 little-endian encodes a uint32.
func LE32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// Bool1 encodes a bool as a single 0x00/0x01 byte.
func Bool1(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// Base58Encode/Decode are exported for callers outside this package that
// need the raw text codec (e.g. decoding `params`/`signatures` off the
// wire transaction JSON in §6).
func Base58Encode(b []byte) string          { return base58.Encode(b) }
func Base58Decode(s string) ([]byte, error) { return base58.Decode(s) }
