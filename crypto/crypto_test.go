package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerivedAddressesAreOffCurve(t *testing.T) {
	kp, err := GenerateKeypair(nil)
	require.NoError(t, err)
	require.True(t, kp.Public.HasPrivateKey())

	for i := 0; i < 64; i++ {
		derived := kp.Public.Derive([]byte("mint"), LE32(uint32(i)))
		require.False(t, derived.HasPrivateKey(), "derived address %d must be off-curve", i)
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	kp, err := GenerateKeypair(nil)
	require.NoError(t, err)

	a := kp.Public.Derive([]byte("seed-a"))
	b := kp.Public.Derive([]byte("seed-a"))
	c := kp.Public.Derive([]byte("seed-b"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair(nil)
	require.NoError(t, err)

	msg := []byte("transaction hash bytes")
	sig := kp.Sign(msg)
	require.True(t, Verify(kp.Public, msg, sig))
	require.False(t, Verify(kp.Public, []byte("tampered"), sig))
}

func TestBase58RoundTrip(t *testing.T) {
	kp, err := GenerateKeypair(nil)
	require.NoError(t, err)

	s := kp.Public.String()
	back, err := PubkeyFromBase58(s)
	require.NoError(t, err)
	require.Equal(t, kp.Public, back)
}

func TestKeypairFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := KeypairFromSeed(seed)
	require.NoError(t, err)
	b, err := KeypairFromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, a.Public, b.Public)
}
