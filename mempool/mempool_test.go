package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

type fixedNonceSource struct{ byPayer map[crypto.Pubkey]uint64 }

func (f fixedNonceSource) Nonce(payer crypto.Pubkey) uint64 { return f.byPayer[payer] }

func signedTx(t *testing.T, payer crypto.Keypair, contract crypto.Pubkey, nonce uint64) types.Transaction {
	t.Helper()
	tx := types.Transaction{Contract: contract, Payer: payer.Public, Nonce: nonce}
	sigs, err := types.Sign(tx, []crypto.Keypair{payer})
	require.NoError(t, err)
	tx.Signatures = sigs
	return tx
}

func TestAddRejectsMalformedAndBadSignature(t *testing.T) {
	mp := New(10)
	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	contract := crypto.Pubkey(crypto.Sum3([]byte("contract")))

	zeroContractTx := signedTx(t, payer, crypto.Pubkey{}, 1)
	require.Error(t, mp.Add(zeroContractTx))

	tx := signedTx(t, payer, contract, 1)
	tx.Signatures[0][0] ^= 0xFF
	require.Error(t, mp.Add(tx))

	require.Equal(t, 0, mp.Len())
}

func TestAddDeduplicatesByHash(t *testing.T) {
	mp := New(10)
	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	contract := crypto.Pubkey(crypto.Sum3([]byte("contract")))
	tx := signedTx(t, payer, contract, 1)

	require.NoError(t, mp.Add(tx))
	require.NoError(t, mp.Add(tx))
	require.Equal(t, 1, mp.Len())
}

func TestAddEvictsOldestAtCapacity(t *testing.T) {
	mp := New(2)
	contract := crypto.Pubkey(crypto.Sum3([]byte("contract")))

	payer1, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	payer2, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	payer3, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	tx1 := signedTx(t, payer1, contract, 1)
	tx2 := signedTx(t, payer2, contract, 1)
	tx3 := signedTx(t, payer3, contract, 1)

	require.NoError(t, mp.Add(tx1))
	require.NoError(t, mp.Add(tx2))
	require.NoError(t, mp.Add(tx3))

	require.Equal(t, 2, mp.Len())
	_, stillThere := mp.Get(tx1.Hash())
	require.False(t, stillThere, "oldest entry must be evicted once capacity is exceeded")
}

func TestEvictStaleDropsSupersededNonces(t *testing.T) {
	mp := New(10)
	contract := crypto.Pubkey(crypto.Sum3([]byte("contract")))
	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	stale := signedTx(t, payer, contract, 1)
	fresh := signedTx(t, payer, contract, 2)
	require.NoError(t, mp.Add(stale))
	require.NoError(t, mp.Add(fresh))

	// Payer's on-chain nonce has already advanced to 1, so a pending tx
	// with Nonce==1 is stale (next expected is 2) and must be evicted.
	mp.EvictStale(fixedNonceSource{byPayer: map[crypto.Pubkey]uint64{payer.Public: 1}})

	require.Equal(t, 1, mp.Len())
	_, ok := mp.Get(fresh.Hash())
	require.True(t, ok)
}

func TestDrainReturnsFIFOOrderAndEmpties(t *testing.T) {
	mp := New(10)
	contract := crypto.Pubkey(crypto.Sum3([]byte("contract")))
	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	tx1 := signedTx(t, payer, contract, 1)
	tx2 := signedTx(t, payer, contract, 2)
	require.NoError(t, mp.Add(tx1))
	require.NoError(t, mp.Add(tx2))

	drained := mp.Drain(10)
	require.Equal(t, []types.Transaction{tx1, tx2}, drained)
	require.Equal(t, 0, mp.Len())
}
