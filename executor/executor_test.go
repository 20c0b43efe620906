package executor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/txerrors"
	"github.com/rensa-labs/rensa/types"
	"github.com/rensa-labs/rensa/vm"
)

type memKV struct{ m map[string][]byte }

func newMemKV() *memKV { return &memKV{m: make(map[string][]byte)} }
func (k *memKV) Get(key []byte) ([]byte, bool, error) {
	v, ok := k.m[string(key)]
	return v, ok, nil
}
func (k *memKV) Put(key []byte, value []byte) error {
	k.m[string(key)] = append([]byte{}, value...)
	return nil
}
func (k *memKV) Delete(key []byte) error {
	delete(k.m, string(key))
	return nil
}

type fixedResolver struct{ contracts map[crypto.Pubkey]vm.Contract }

func (r fixedResolver) Resolve(addr crypto.Pubkey, account types.Account) (vm.Contract, error) {
	if c, ok := r.contracts[addr]; ok {
		return c, nil
	}
	return nil, txerrors.ErrUnresolvable
}

func newBranch(t *testing.T) (*state.Overlay, *state.Base) {
	t.Helper()
	base := state.NewBase(newMemKV())
	return state.NewOverlay(base), base
}

func createCurrencyTx(t *testing.T, payer crypto.Keypair, nonce uint64, mintAddr crypto.Pubkey, authority crypto.Pubkey, seed []byte) types.Transaction {
	t.Helper()
	params, err := json.Marshal(struct {
		Op        string         `json:"op"`
		Seed      []byte         `json:"seed,omitempty"`
		Authority *crypto.Pubkey `json:"authority,omitempty"`
		Decimals  uint8          `json:"decimals,omitempty"`
		Symbol    string         `json:"symbol,omitempty"`
	}{Op: "create", Seed: seed, Authority: &authority, Decimals: 2, Symbol: "RNS"})
	require.NoError(t, err)

	tx := types.Transaction{
		Contract: vm.CurrencyAddress,
		Nonce:    nonce,
		Payer:    payer.Public,
		Accounts: []types.AccountMeta{{Address: mintAddr, Writable: true}},
		Params:   params,
	}
	sigs, err := types.Sign(tx, []crypto.Keypair{payer})
	require.NoError(t, err)
	tx.Signatures = sigs
	return tx
}

func resolverWithCurrency() fixedResolver {
	return fixedResolver{contracts: map[crypto.Pubkey]vm.Contract{vm.CurrencyAddress: vm.Currency{}}}
}

func mustSeedCurrencyContractAccount(t *testing.T, branch *state.Overlay) {
	t.Helper()
	branch.Set(vm.CurrencyAddress, types.Account{Executable: true})
}

func TestExecuteRejectsBadNonce(t *testing.T) {
	branch, _ := newBranch(t)
	mustSeedCurrencyContractAccount(t, branch)

	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	mintAddr := vm.CurrencyAddress.Derive([]byte("seed"))
	tx := createCurrencyTx(t, payer, 2, mintAddr, payer.Public, []byte("seed"))

	outcome := Execute(tx, branch, resolverWithCurrency())
	require.ErrorIs(t, outcome.Err, txerrors.ErrBadNonce)

	acc, ok := branch.Get(payer.Public)
	require.False(t, ok || acc.Nonce != 0, "nonce must not change on a rejected tx")
}

func TestExecuteRejectsBadSignature(t *testing.T) {
	branch, _ := newBranch(t)
	mustSeedCurrencyContractAccount(t, branch)

	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	mintAddr := vm.CurrencyAddress.Derive([]byte("seed"))
	tx := createCurrencyTx(t, payer, 1, mintAddr, payer.Public, []byte("seed"))
	tx.Signatures[0][0] ^= 0xFF // corrupt the signature

	outcome := Execute(tx, branch, resolverWithCurrency())
	require.ErrorIs(t, outcome.Err, txerrors.ErrBadSignature)
}

func TestExecuteSuccessBumpsNonceAndCommits(t *testing.T) {
	branch, _ := newBranch(t)
	mustSeedCurrencyContractAccount(t, branch)

	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	mintAddr := vm.CurrencyAddress.Derive([]byte("seed"))
	tx := createCurrencyTx(t, payer, 1, mintAddr, payer.Public, []byte("seed"))

	outcome := Execute(tx, branch, resolverWithCurrency())
	require.NoError(t, outcome.Err)
	require.Equal(t, types.TxOk, outcome.Status)

	payerAcc, ok := branch.Get(payer.Public)
	require.True(t, ok)
	require.Equal(t, uint64(1), payerAcc.Nonce)

	mintAcc, ok := branch.Get(mintAddr)
	require.True(t, ok)
	require.Equal(t, vm.CurrencyAddress, mintAcc.Owner)
}

func TestExecuteContractFailureStillBumpsNonce(t *testing.T) {
	branch, _ := newBranch(t)
	mustSeedCurrencyContractAccount(t, branch)

	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	mintAddr := vm.CurrencyAddress.Derive([]byte("seed"))
	tx := createCurrencyTx(t, payer, 1, mintAddr, payer.Public, []byte("seed"))

	// Seed a conflicting, already-initialized mint account so Currency.Create errors.
	branch.Set(mintAddr, types.Account{Owner: vm.CurrencyAddress, Data: []byte(`{"supply":1}`)})

	outcome := Execute(tx, branch, resolverWithCurrency())
	require.Error(t, outcome.Err)
	require.Equal(t, types.TxFailed, outcome.Status)

	payerAcc, ok := branch.Get(payer.Public)
	require.True(t, ok)
	require.Equal(t, uint64(1), payerAcc.Nonce, "nonce still advances on a failed tx per spec.md section 4.4")
}

func TestExecuteRejectsUnauthorizedWrite(t *testing.T) {
	branch, _ := newBranch(t)
	mustSeedCurrencyContractAccount(t, branch)

	payer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	other, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	writable := other.Public // not owned by CurrencyAddress
	branch.Set(writable, types.Account{Owner: other.Public, Data: []byte("x")})

	tx := types.Transaction{
		Contract: vm.CurrencyAddress,
		Nonce:    1,
		Payer:    payer.Public,
		Accounts: []types.AccountMeta{{Address: writable, Writable: true}},
		Params:   []byte(`{"op":"create"}`),
	}
	sigs, err := types.Sign(tx, []crypto.Keypair{payer})
	require.NoError(t, err)
	tx.Signatures = sigs

	outcome := Execute(tx, branch, resolverWithCurrency())
	require.ErrorIs(t, outcome.Err, txerrors.ErrUnauthorized)
}
