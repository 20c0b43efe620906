// Package crypto provides the primitives the rest of the node builds on:
// Ed25519 keys, SHA3-256 hashing, base58 text encoding, and off-curve
// address derivation for program-owned accounts.
package crypto

import (
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	consensus "github.com/hdevalence/ed25519consensus"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// PubkeySize is the width of every address on the chain, on-curve or off.
const PubkeySize = 32

// Pubkey identifies an account. It may or may not lie on the Ed25519
// curve: on-curve keys can sign transactions, off-curve ones are
// program-owned and can never have a corresponding private key.
type Pubkey [PubkeySize]byte

// String renders the key as base58 text, the wire/CLI encoding used
// everywhere addresses, hashes and signatures appear (§6).
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

func (p Pubkey) Bytes() []byte { return p[:] }

// IsZero reports whether this is the unset (all-zero) key.
func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// PubkeyFromBase58 decodes a base58-encoded 32-byte address.
func PubkeyFromBase58(s string) (Pubkey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("decode base58 pubkey: %w", err)
	}
	return PubkeyFromBytes(b)
}

// PubkeyFromBytes wraps a 32-byte slice as a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	if len(b) != PubkeySize {
		return Pubkey{}, fmt.Errorf("pubkey must be %d bytes, got %d", PubkeySize, len(b))
	}
	var p Pubkey
	copy(p[:], b)
	return p, nil
}

// HasPrivateKey reports whether p lies on the Ed25519 curve, i.e.
// whether a private key could exist for it. Off-curve addresses
// (derived via Derive) are guaranteed to return false.
func (p Pubkey) HasPrivateKey() bool {
	return isOnCurve(p[:])
}

// Derive computes a deterministic off-curve address from this pubkey and
// a list of seeds, by hashing the seeds together with an increasing
// bump counter until the result is not a valid curve point. This is how
// program-owned accounts (e.g. a token mint, or a token account for a
// given wallet) get their addresses: they can only ever be written to
// by the contract whose address they were derived from.
func (p Pubkey) Derive(seeds ...[]byte) Pubkey {
	var bump uint32
	for {
		h := sha3.New256()
		h.Write(p[:])
		for _, s := range seeds {
			h.Write(s)
		}
		var bumpBytes [4]byte
		binary.LittleEndian.PutUint32(bumpBytes[:], bump)
		h.Write(bumpBytes[:])

		var candidate Pubkey
		copy(candidate[:], h.Sum(nil))
		if !candidate.HasPrivateKey() {
			return candidate
		}
		bump++
	}
}

// Keypair is an on-curve signing identity: a wallet or validator key.
type Keypair struct {
	Public  Pubkey
	Private stded25519.PrivateKey
}

// GenerateKeypair creates a fresh random Ed25519 keypair.
func GenerateKeypair(r io.Reader) (Keypair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := stded25519.GenerateKey(r)
	if err != nil {
		return Keypair{}, err
	}
	var p Pubkey
	copy(p[:], pub)
	return Keypair{Public: p, Private: priv}, nil
}

// KeypairFromSeed deterministically derives a keypair from a 32-byte seed,
// the same way `rensa --keypair <base58-seed>` resolves a validator
// identity on startup.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != stded25519.SeedSize {
		return Keypair{}, fmt.Errorf("seed must be %d bytes, got %d", stded25519.SeedSize, len(seed))
	}
	priv := stded25519.NewKeyFromSeed(seed)
	var p Pubkey
	copy(p[:], priv.Public().(stded25519.PublicKey))
	return Keypair{Public: p, Private: priv}, nil
}

// Sign signs message, producing a 64-byte Ed25519 signature.
func (k Keypair) Sign(message []byte) []byte {
	return stded25519.Sign(k.Private, message)
}

// Verify checks sig against message under pub, using ed25519consensus'
// batch-compatible verification rules so all validators agree on the
// validity of non-canonical (malleable) signatures.
func Verify(pub Pubkey, message, sig []byte) bool {
	if len(sig) != stded25519.SignatureSize {
		return false
	}
	return consensus.Verify(stded25519.PublicKey(pub[:]), message, sig)
}
