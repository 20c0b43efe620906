package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

type memKV struct {
	m map[string][]byte
}

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

func TestOverlayReadThrough(t *testing.T) {
	base := NewBase(newMemKV())
	var addr crypto.Pubkey
	addr[0] = 1
	require.NoError(t, base.Put(addr, types.Account{Nonce: 5}))

	ov := NewOverlay(base)
	acc, ok := ov.Get(addr)
	require.True(t, ok)
	require.Equal(t, uint64(5), acc.Nonce)

	ov.Set(addr, types.Account{Nonce: 6})
	acc, ok = ov.Get(addr)
	require.True(t, ok)
	require.Equal(t, uint64(6), acc.Nonce)

	// base is unaffected until Promote.
	acc, ok = base.Get(addr)
	require.True(t, ok)
	require.Equal(t, uint64(5), acc.Nonce)
}

func TestTxScopeOwnershipEnforced(t *testing.T) {
	base := NewBase(newMemKV())
	branch := NewOverlay(base)

	var contract, other, addr crypto.Pubkey
	contract[0], other[0], addr[0] = 1, 2, 3

	branch.Set(addr, types.Account{Owner: other})

	scope := branch.BeginTx(contract)
	err := scope.Set(addr, types.Account{Owner: contract})
	require.Error(t, err)
	scope.Abort()
}

func TestTxScopeCommitAppliesDustReclamation(t *testing.T) {
	base := NewBase(newMemKV())
	branch := NewOverlay(base)

	var contract, addr crypto.Pubkey
	contract[0], addr[0] = 1, 2

	scope := branch.BeginTx(contract)
	require.NoError(t, scope.Set(addr, types.Account{Owner: contract, Data: []byte{}}))
	scope.Commit()

	_, ok := branch.Get(addr)
	require.False(t, ok, "empty contract-owned account must be dust-reclaimed on commit")
}

func TestTxScopeAbortDiscardsMutations(t *testing.T) {
	base := NewBase(newMemKV())
	branch := NewOverlay(base)

	var contract, addr crypto.Pubkey
	contract[0], addr[0] = 1, 2

	scope := branch.BeginTx(contract)
	require.NoError(t, scope.Set(addr, types.Account{Owner: contract, Data: []byte("x")}))
	scope.Abort()

	_, ok := branch.Get(addr)
	require.False(t, ok)
}

func TestPromoteMergesOverlayIntoBase(t *testing.T) {
	base := NewBase(newMemKV())
	branch := NewOverlay(base)

	var addr crypto.Pubkey
	addr[0] = 9
	branch.Set(addr, types.Account{Nonce: 42})

	require.NoError(t, base.Promote(branch))
	acc, ok := base.Get(addr)
	require.True(t, ok)
	require.Equal(t, uint64(42), acc.Nonce)
}
