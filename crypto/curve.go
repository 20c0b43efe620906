package crypto

import "filippo.io/edwards25519"

// isOnCurve reports whether the 32-byte candidate decompresses to a valid
// point on the Ed25519 curve. Off-curve points are exactly the addresses
// that can never have a matching private key, the property Derive relies
// on to generate safe program-owned accounts.
func isOnCurve(candidate []byte) bool {
	if len(candidate) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(candidate)
	return err == nil
}
