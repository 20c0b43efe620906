// Package types defines the wire-level data model shared across the
// node: accounts, transactions, blocks and votes (§3).
package types

import "github.com/rensa-labs/rensa/crypto"

// Account is the unit of state: an addressable tuple of owner, opaque
// data, an executable flag, and a nonce. Only the owner pubkey may
// mutate Data; for the signer role in a transaction the account's own
// address must match.
type Account struct {
	Owner      crypto.Pubkey `json:"owner"`
	Data       []byte        `json:"data"`
	Executable bool          `json:"executable"`
	Nonce      uint64        `json:"nonce"`
}

// Clone returns a deep copy, so callers can hand out overlay entries
// without aliasing the backing Data slice.
func (a Account) Clone() Account {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return Account{Owner: a.Owner, Data: data, Executable: a.Executable, Nonce: a.Nonce}
}

// IsEmpty reports whether the account holds no data, the condition dust
// reclamation (§4.2) checks before deleting a contract-owned account.
func (a Account) IsEmpty() bool { return len(a.Data) == 0 }
