// Package vm implements the contract execution surface described in
// spec.md §4.4: a tagged union of WebAssembly-hosted contracts and
// native "builtin" contracts, both invoked through the same
// Environment/Output interface so the executor never needs to know
// which kind of contract it's calling.
package vm

import (
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// AccountEntry pairs an address from the transaction's account list with
// its current value, or nil if the account doesn't exist yet.
type AccountEntry struct {
	Address  crypto.Pubkey
	Account  *types.Account
	Writable bool
	Signer   bool
}

// Environment is the self-contained input handed to a contract
// invocation: its own address and every account the calling
// transaction listed.
type Environment struct {
	Address  crypto.Pubkey
	Accounts []AccountEntry
}

// Find returns the entry for addr, or ok=false if the transaction never
// listed that account.
func (e Environment) Find(addr crypto.Pubkey) (AccountEntry, bool) {
	for _, a := range e.Accounts {
		if a.Address == addr {
			return a, true
		}
	}
	return AccountEntry{}, false
}

// LogEntry is a key/value pair a contract emits, surfaced to RPC clients.
type LogEntry struct {
	Key   string
	Value string
}

// StateChange is a write a contract makes to one of the accounts it was
// given: replace its Data with the contents below. The invoking
// contract is always the new owner (§3 Invariant 2); Executable and
// Nonce are carried forward by the executor, which is the only layer
// that sees the account's pre-image. Empty Data on an account already
// owned by the contract is what triggers dust reclamation in
// state.TxScope.Commit; there is no separate delete tag.
type StateChange struct {
	Address crypto.Pubkey
	Data    []byte
}

// Output is either a log line or a state mutation a contract produced.
type Output struct {
	Log   *LogEntry
	State *StateChange
}

// Invocation is the result of a single successful contract call: the
// outputs it produced. A failed call reports its error through
// Contract.Invoke's error return instead.
type Invocation struct {
	Outputs []Output
}

// Contract is anything invocable with an Environment and raw
// instruction parameters. WasmContract and the native contracts in
// native.go both satisfy this.
type Contract interface {
	Invoke(env Environment, params []byte) (Invocation, error)
}
