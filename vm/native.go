package vm

import (
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/txerrors"
	"github.com/rensa-labs/rensa/types"
)

// Sha3TestAddress is the well-known address of the diagnostic Sha3Test
// builtin, used by the vm package's tests to exercise a native contract
// without needing a compiled WASM module.
var Sha3TestAddress = crypto.Pubkey(crypto.Sum3([]byte("rensa-builtin-sha3test")))

// Sha3Test hashes account 0's data (or params, if the account carries
// none) and writes the digest back into the same account. It exists
// purely to give callers a trivial, side-effect-visible contract to
// probe the dispatch and state-write paths with.
type Sha3Test struct{}

func (Sha3Test) Invoke(env Environment, params []byte) (Invocation, error) {
	if len(env.Accounts) == 0 {
		return Invocation{}, txerrors.ErrUnresolvable
	}
	entry := env.Accounts[0]
	if entry.Account == nil {
		return Invocation{}, txerrors.ErrUnresolvable
	}

	h := sha3.New256()
	if len(entry.Account.Data) > 0 {
		h.Write(entry.Account.Data)
	} else {
		h.Write(params)
	}
	digest := h.Sum(nil)

	return Invocation{Outputs: []Output{
		{State: &StateChange{Address: entry.Address, Data: digest}},
		{Log: &LogEntry{Key: "action", Value: "sha3"}},
	}}, nil
}

// CurrencyAddress is the well-known address of the Currency builtin.
var CurrencyAddress = crypto.Pubkey(crypto.Sum3([]byte("rensa-builtin-currency")))

// Mint describes a fungible or non-fungible token type, stored in the
// account owned by the Currency contract at the derived mint address.
type Mint struct {
	Authority *crypto.Pubkey `json:"authority,omitempty"`
	Supply    uint64         `json:"supply"`
	Decimals  uint8          `json:"decimals"`
	Name      string         `json:"name,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
}

// TokenAccount holds one wallet's balance of one mint. By convention its
// address is Currency.Derive(mint, wallet); the Currency instructions do
// not check that the token account they are given sits at that address.
type TokenAccount struct {
	Mint    crypto.Pubkey `json:"mint"`
	Owner   crypto.Pubkey `json:"owner"`
	Balance uint64        `json:"balance"`
}

// currencyInstruction is the tagged-union instruction params, encoded
// as JSON (the wire format this codebase already uses for account and
// block persistence; no SCALE/borsh-equivalent struct codec is grounded
// anywhere in the pack outside the JAM-specific scale/ package this
// project doesn't carry, so JSON keeps the encoding consistent with
// state.Base and storage.History instead of introducing a one-off).
type currencyInstruction struct {
	Op string `json:"op"`

	// Create
	Seed      []byte         `json:"seed,omitempty"`
	Authority *crypto.Pubkey `json:"authority,omitempty"`
	Decimals  uint8          `json:"decimals,omitempty"`
	Name      string         `json:"name,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`

	// Mint / Transfer / Burn
	Amount uint64 `json:"amount,omitempty"`

	// SetAuthority
	NewAuthority *crypto.Pubkey `json:"new_authority,omitempty"`
}

// Currency is the native fungible/non-fungible token program, grounded
// on the reference implementation's Currency contract: Create, Mint,
// Transfer, Burn and SetAuthority over Mint/TokenAccount pairs.
type Currency struct{}

func (Currency) Invoke(env Environment, params []byte) (Invocation, error) {
	var ix currencyInstruction
	if err := json.Unmarshal(params, &ix); err != nil {
		return Invocation{}, fmt.Errorf("%w: %v", txerrors.ErrMalformed, err)
	}
	switch ix.Op {
	case "create":
		return processCreate(env, ix)
	case "mint":
		return processMint(env, ix)
	case "transfer":
		return processTransfer(env, ix)
	case "burn":
		return processBurn(env, ix)
	case "set_authority":
		return processSetAuthority(env, ix)
	default:
		return Invocation{}, fmt.Errorf("%w: unknown currency instruction %q", txerrors.ErrMalformed, ix.Op)
	}
}

func decodeMint(acc *types.Account) (Mint, error) {
	var m Mint
	if acc == nil || len(acc.Data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(acc.Data, &m); err != nil {
		return Mint{}, fmt.Errorf("%w: corrupt mint account", txerrors.ErrContractFailure)
	}
	return m, nil
}

func encodeMint(m Mint) []byte {
	raw, _ := json.Marshal(m)
	return raw
}

func decodeTokenAccount(acc *types.Account) (TokenAccount, error) {
	var t TokenAccount
	if acc == nil || len(acc.Data) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(acc.Data, &t); err != nil {
		return TokenAccount{}, fmt.Errorf("%w: corrupt token account", txerrors.ErrContractFailure)
	}
	return t, nil
}

func encodeTokenAccount(t TokenAccount) []byte {
	raw, _ := json.Marshal(t)
	return raw
}

// processCreate creates a new mint at the address derived from
// CurrencyAddress and the caller-supplied seed.
func processCreate(env Environment, ix currencyInstruction) (Invocation, error) {
	if len(env.Accounts) != 1 {
		return Invocation{}, fmt.Errorf("%w: create expects exactly one account", txerrors.ErrUnresolvable)
	}
	entry := env.Accounts[0]
	expected := env.Address.Derive(ix.Seed)
	if expected != entry.Address {
		return Invocation{}, fmt.Errorf("%w: mint address does not match derive(seed)", txerrors.ErrUnresolvable)
	}
	if entry.Account != nil && len(entry.Account.Data) > 0 {
		return Invocation{}, fmt.Errorf("%w: mint account already initialized", txerrors.ErrContractFailure)
	}

	mint := Mint{
		Supply:   0,
		Decimals: ix.Decimals,
		Name:     ix.Name,
		Symbol:   ix.Symbol,
	}
	if ix.Authority != nil {
		auth := *ix.Authority
		mint.Authority = &auth
	}

	return Invocation{Outputs: []Output{
		{State: &StateChange{Address: entry.Address, Data: encodeMint(mint)}},
		{Log: &LogEntry{Key: "action", Value: "create"}},
	}}, nil
}

// processMint increases supply and credits the recipient token account.
// Accounts: [0] mint, [1] mint authority as signer, [2] recipient wallet
// (informational, supplies the owner to stamp a freshly created token
// account with), [3] recipient token account.
func processMint(env Environment, ix currencyInstruction) (Invocation, error) {
	if len(env.Accounts) != 4 {
		return Invocation{}, fmt.Errorf("%w: mint expects [mint, authority, wallet, token_account]", txerrors.ErrUnresolvable)
	}
	mintEntry, authorityEntry, walletEntry, tokenEntry := env.Accounts[0], env.Accounts[1], env.Accounts[2], env.Accounts[3]

	mint, err := decodeMint(mintEntry.Account)
	if err != nil {
		return Invocation{}, err
	}
	if mint.Authority == nil {
		return Invocation{}, fmt.Errorf("%w: mint has no authority, cannot mint", txerrors.ErrUnauthorized)
	}
	if *mint.Authority != authorityEntry.Address || !authorityEntry.Signer {
		return Invocation{}, fmt.Errorf("%w: mint authority did not sign", txerrors.ErrUnauthorized)
	}

	recipient, err := decodeTokenAccount(tokenEntry.Account)
	if err != nil {
		return Invocation{}, err
	}
	recipient.Mint = mintEntry.Address
	recipient.Owner = walletEntry.Address
	recipient.Balance += ix.Amount
	mint.Supply += ix.Amount

	return Invocation{Outputs: []Output{
		{State: &StateChange{Address: mintEntry.Address, Data: encodeMint(mint)}},
		{State: &StateChange{Address: tokenEntry.Address, Data: encodeTokenAccount(recipient)}},
		{Log: &LogEntry{Key: "action", Value: "mint"}},
	}}, nil
}

// processTransfer moves Amount from sender to recipient token accounts
// of the same mint. Accounts: [0] mint, [1] sender wallet as signer, [2]
// sender token account, [3] recipient wallet (informational), [4]
// recipient token account.
func processTransfer(env Environment, ix currencyInstruction) (Invocation, error) {
	if len(env.Accounts) != 5 {
		return Invocation{}, fmt.Errorf("%w: transfer expects [mint, sender_wallet, sender_token, recipient_wallet, recipient_token]", txerrors.ErrUnresolvable)
	}
	mintEntry := env.Accounts[0]
	senderWalletEntry, senderTokenEntry := env.Accounts[1], env.Accounts[2]
	recipientWalletEntry, recipientTokenEntry := env.Accounts[3], env.Accounts[4]

	if !senderWalletEntry.Signer {
		return Invocation{}, fmt.Errorf("%w: sender did not sign transfer", txerrors.ErrUnauthorized)
	}

	sender, err := decodeTokenAccount(senderTokenEntry.Account)
	if err != nil {
		return Invocation{}, err
	}
	if sender.Mint != mintEntry.Address || sender.Owner != senderWalletEntry.Address {
		return Invocation{}, fmt.Errorf("%w: sender token account does not belong to signer", txerrors.ErrUnresolvable)
	}
	if sender.Balance < ix.Amount {
		return Invocation{}, fmt.Errorf("%w: insufficient balance", txerrors.ErrContractFailure)
	}

	recipient, err := decodeTokenAccount(recipientTokenEntry.Account)
	if err != nil {
		return Invocation{}, err
	}
	recipient.Mint = mintEntry.Address
	recipient.Owner = recipientWalletEntry.Address

	sender.Balance -= ix.Amount
	recipient.Balance += ix.Amount

	return Invocation{Outputs: []Output{
		{State: &StateChange{Address: senderTokenEntry.Address, Data: encodeTokenAccount(sender)}},
		{State: &StateChange{Address: recipientTokenEntry.Address, Data: encodeTokenAccount(recipient)}},
		{Log: &LogEntry{Key: "action", Value: "transfer"}},
	}}, nil
}

// processBurn removes Amount from circulation. Accounts: [0] mint, [1]
// wallet owner as signer, [2] token account.
func processBurn(env Environment, ix currencyInstruction) (Invocation, error) {
	if len(env.Accounts) != 3 {
		return Invocation{}, fmt.Errorf("%w: burn expects [mint, owner, token_account]", txerrors.ErrUnresolvable)
	}
	mintEntry, ownerEntry, tokenEntry := env.Accounts[0], env.Accounts[1], env.Accounts[2]

	mint, err := decodeMint(mintEntry.Account)
	if err != nil {
		return Invocation{}, err
	}
	holder, err := decodeTokenAccount(tokenEntry.Account)
	if err != nil {
		return Invocation{}, err
	}
	if holder.Owner != ownerEntry.Address || !ownerEntry.Signer {
		return Invocation{}, fmt.Errorf("%w: holder did not sign burn", txerrors.ErrUnauthorized)
	}
	if holder.Balance < ix.Amount {
		return Invocation{}, fmt.Errorf("%w: insufficient balance to burn", txerrors.ErrContractFailure)
	}

	holder.Balance -= ix.Amount
	if mint.Supply < ix.Amount {
		return Invocation{}, fmt.Errorf("%w: burn amount exceeds recorded supply", txerrors.ErrContractFailure)
	}
	mint.Supply -= ix.Amount

	var holderData []byte
	if holder.Balance > 0 {
		holderData = encodeTokenAccount(holder)
	}

	return Invocation{Outputs: []Output{
		{State: &StateChange{Address: mintEntry.Address, Data: encodeMint(mint)}},
		{State: &StateChange{Address: tokenEntry.Address, Data: holderData}},
		{Log: &LogEntry{Key: "action", Value: "burn"}},
	}}, nil
}

// processSetAuthority replaces (or permanently clears) a mint's minting
// authority. Accounts: [0] mint, [1] current authority as signer.
// Clearing it (NewAuthority == nil) is irreversible.
func processSetAuthority(env Environment, ix currencyInstruction) (Invocation, error) {
	if len(env.Accounts) != 2 {
		return Invocation{}, fmt.Errorf("%w: set_authority expects [mint, authority]", txerrors.ErrUnresolvable)
	}
	mintEntry, authorityEntry := env.Accounts[0], env.Accounts[1]
	mint, err := decodeMint(mintEntry.Account)
	if err != nil {
		return Invocation{}, err
	}
	if mint.Authority == nil {
		return Invocation{}, fmt.Errorf("%w: mint authority already cleared", txerrors.ErrUnauthorized)
	}
	if *mint.Authority != authorityEntry.Address || !authorityEntry.Signer {
		return Invocation{}, fmt.Errorf("%w: current authority did not sign", txerrors.ErrUnauthorized)
	}

	mint.Authority = ix.NewAuthority

	return Invocation{Outputs: []Output{
		{State: &StateChange{Address: mintEntry.Address, Data: encodeMint(mint)}},
		{Log: &LogEntry{Key: "action", Value: "set_authority"}},
	}}, nil
}

// Registry maps well-known addresses to the native contracts they
// dispatch to, mirroring the reference implementation's BUILTIN_CONTRACTS
// table.
func Registry() map[crypto.Pubkey]Contract {
	return map[crypto.Pubkey]Contract{
		Sha3TestAddress: Sha3Test{},
		CurrencyAddress: Currency{},
	}
}
