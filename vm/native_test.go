package vm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

func TestSha3TestHashesAccountData(t *testing.T) {
	var addr crypto.Pubkey
	addr[0] = 1
	acc := types.Account{Owner: CurrencyAddress, Data: []byte("hello")}

	env := Environment{
		Address: Sha3TestAddress,
		Accounts: []AccountEntry{
			{Address: addr, Account: &acc, Writable: true},
		},
	}

	inv, err := Sha3Test{}.Invoke(env, nil)
	require.NoError(t, err)
	require.Len(t, inv.Outputs, 2)
	require.NotNil(t, inv.Outputs[0].State)
	require.NotEmpty(t, inv.Outputs[0].State.Data)
}

func TestSha3TestMissingAccountErrors(t *testing.T) {
	env := Environment{Address: Sha3TestAddress}
	_, err := Sha3Test{}.Invoke(env, nil)
	require.Error(t, err)
}

func currencyParams(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func accountFromData(data []byte) types.Account {
	return types.Account{Owner: CurrencyAddress, Data: data}
}

func TestCurrencyCreateMintTransferBurn(t *testing.T) {
	var authority, wallet1, wallet2 crypto.Pubkey
	authority[0], wallet1[0], wallet2[0] = 1, 2, 3
	seed := []byte("usd-stablecoin")
	mintAddr := CurrencyAddress.Derive(seed)

	// Create.
	createEnv := Environment{
		Address:  CurrencyAddress,
		Accounts: []AccountEntry{{Address: mintAddr, Writable: true}},
	}
	createParams := currencyParams(t, currencyInstruction{
		Op: "create", Seed: seed, Authority: &authority, Decimals: 2, Symbol: "USD",
	})
	inv, err := Currency{}.Invoke(createEnv, createParams)
	require.NoError(t, err)
	require.NotEmpty(t, inv.Outputs)
	require.NotNil(t, inv.Outputs[0].State)

	mintAcc := accountFromData(inv.Outputs[0].State.Data)
	mint, err := decodeMint(&mintAcc)
	require.NoError(t, err)
	require.NotNil(t, mint.Authority)
	require.Equal(t, authority, *mint.Authority)

	// Mint 1000 to wallet1's token account.
	tokenAddr1 := CurrencyAddress.Derive(mintAddr.Bytes(), wallet1.Bytes())
	mintEnv := Environment{
		Address: CurrencyAddress,
		Accounts: []AccountEntry{
			{Address: mintAddr, Account: &mintAcc, Writable: true},
			{Address: authority, Signer: true},
			{Address: wallet1},
			{Address: tokenAddr1, Writable: true},
		},
	}
	mintParams := currencyParams(t, currencyInstruction{Op: "mint", Amount: 1000})
	inv, err = Currency{}.Invoke(mintEnv, mintParams)
	require.NoError(t, err)
	require.Len(t, inv.Outputs, 3)

	mintedMintAcc := accountFromData(inv.Outputs[0].State.Data)
	tokenAcc1 := accountFromData(inv.Outputs[1].State.Data)

	updatedMint, err := decodeMint(&mintedMintAcc)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), updatedMint.Supply)

	holder1, err := decodeTokenAccount(&tokenAcc1)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), holder1.Balance)
	require.Equal(t, wallet1, holder1.Owner)

	// Transfer 400 from wallet1 to wallet2.
	tokenAddr2 := CurrencyAddress.Derive(mintAddr.Bytes(), wallet2.Bytes())
	transferEnv := Environment{
		Address: CurrencyAddress,
		Accounts: []AccountEntry{
			{Address: mintAddr, Account: &mintedMintAcc},
			{Address: wallet1, Signer: true},
			{Address: tokenAddr1, Account: &tokenAcc1, Writable: true},
			{Address: wallet2},
			{Address: tokenAddr2, Writable: true},
		},
	}
	transferParams := currencyParams(t, currencyInstruction{Op: "transfer", Amount: 400})
	inv, err = Currency{}.Invoke(transferEnv, transferParams)
	require.NoError(t, err)

	newSender := accountFromData(inv.Outputs[0].State.Data)
	newRecipient := accountFromData(inv.Outputs[1].State.Data)

	senderTok, err := decodeTokenAccount(&newSender)
	require.NoError(t, err)
	require.Equal(t, uint64(600), senderTok.Balance)

	recipientTok, err := decodeTokenAccount(&newRecipient)
	require.NoError(t, err)
	require.Equal(t, uint64(400), recipientTok.Balance)
	require.Equal(t, wallet2, recipientTok.Owner)

	// Burn the recipient's full balance; dust reclamation expects empty data.
	burnEnv := Environment{
		Address: CurrencyAddress,
		Accounts: []AccountEntry{
			{Address: mintAddr, Account: &mintedMintAcc},
			{Address: wallet2, Signer: true},
			{Address: tokenAddr2, Account: &newRecipient},
		},
	}
	burnParams := currencyParams(t, currencyInstruction{Op: "burn", Amount: 400})
	inv, err = Currency{}.Invoke(burnEnv, burnParams)
	require.NoError(t, err)
	require.Empty(t, inv.Outputs[1].State.Data)
}

func TestCurrencyMintRequiresAuthoritySignature(t *testing.T) {
	var authority, wallet crypto.Pubkey
	authority[0], wallet[0] = 9, 10
	mint := Mint{Authority: &authority, Decimals: 0}
	mintAcc := accountFromData(encodeMint(mint))

	var mintAddr, tokenAddr crypto.Pubkey
	mintAddr[0], tokenAddr[0] = 1, 2

	env := Environment{
		Address: CurrencyAddress,
		Accounts: []AccountEntry{
			{Address: mintAddr, Account: &mintAcc},
			{Address: authority, Signer: false},
			{Address: wallet},
			{Address: tokenAddr, Writable: true},
		},
	}
	params := currencyParams(t, currencyInstruction{Op: "mint", Amount: 10})
	_, err := Currency{}.Invoke(env, params)
	require.Error(t, err)
}

func TestCurrencySetAuthorityClearsAuthority(t *testing.T) {
	var authority crypto.Pubkey
	authority[0] = 5
	mint := Mint{Authority: &authority}
	mintAcc := accountFromData(encodeMint(mint))

	var mintAddr crypto.Pubkey
	mintAddr[0] = 1

	env := Environment{
		Address: CurrencyAddress,
		Accounts: []AccountEntry{
			{Address: mintAddr, Account: &mintAcc},
			{Address: authority, Signer: true},
		},
	}
	params := currencyParams(t, currencyInstruction{Op: "set_authority"})
	inv, err := Currency{}.Invoke(env, params)
	require.NoError(t, err)

	updated := accountFromData(inv.Outputs[0].State.Data)
	mint2, err := decodeMint(&updated)
	require.NoError(t, err)
	require.Nil(t, mint2.Authority)
}
