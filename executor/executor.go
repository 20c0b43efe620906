// Package executor implements the deterministic transaction-execution
// pipeline described in spec.md §4.4: the five ordered pre-checks, then
// dispatch into a contract (vm.Contract) against a transient state
// overlay (state.TxScope), committing or aborting based on the
// contract's outcome.
package executor

import (
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/txerrors"
	"github.com/rensa-labs/rensa/types"
	"github.com/rensa-labs/rensa/vm"
)

// maxAccountsPerTx and maxParamsSize bound the structural check (§4.4
// step 1): generous enough for the Currency instructions in vm/native.go
// plus headroom for WASM contracts with a handful more accounts.
const (
	maxAccountsPerTx = 32
	maxParamsSize    = 64 * 1024
)

// ContractResolver looks up the invocable vm.Contract behind an address,
// consulting the native registry first and falling back to a cached
// WasmContract built from the account's own Data when Executable=true.
type ContractResolver interface {
	Resolve(addr crypto.Pubkey, account types.Account) (vm.Contract, error)
}

// Outcome is the result of executing one transaction against a branch:
// exactly one of Output or Err is meaningful, matching
// TxOutcome = Ok(output, diff) | Err(kind) from spec.md §4.4.
type Outcome struct {
	Status  types.TxStatus
	Output  []byte
	Err     error
	Touched []crypto.Pubkey // addresses this tx wrote, deleted, or bumped the nonce of
}

// Execute runs the full §4.4 pipeline for tx against branch, open over
// resolver's contract set. It always returns an Outcome and has no
// separate Go error return; every failure is reported in Outcome.Err.
func Execute(tx types.Transaction, branch *state.Overlay, resolver ContractResolver) Outcome {
	if err := checkStructural(tx); err != nil {
		log.Debug(log.Executor, "reject malformed tx", "err", err)
		return Outcome{Status: types.TxFailed, Err: err}
	}

	payerAcc, ok := branch.Get(tx.Payer)
	expectedNonce := uint64(0)
	if ok {
		expectedNonce = payerAcc.Nonce
	}
	if tx.Nonce != expectedNonce+1 {
		log.Debug(log.Executor, "reject bad nonce", "expected", expectedNonce+1, "got", tx.Nonce)
		return Outcome{Status: types.TxFailed, Err: fmt.Errorf("%w: expected %d, got %d", txerrors.ErrBadNonce, expectedNonce+1, tx.Nonce)}
	}

	if err := checkSignatures(tx); err != nil {
		log.Debug(log.Executor, "reject bad signature", "err", err)
		return Outcome{Status: types.TxFailed, Err: err}
	}

	entries, contractAccount, err := resolveAccounts(tx, branch)
	if err != nil {
		log.Debug(log.Executor, "reject unresolvable", "err", err)
		return Outcome{Status: types.TxFailed, Err: err}
	}

	if err := checkOwnership(tx, entries); err != nil {
		log.Debug(log.Executor, "reject unauthorized", "err", err)
		return Outcome{Status: types.TxFailed, Err: err}
	}

	contract, err := resolver.Resolve(tx.Contract, contractAccount)
	if err != nil {
		return Outcome{Status: types.TxFailed, Err: err}
	}

	scope := branch.BeginTx(tx.Contract)
	env := vm.Environment{Address: tx.Contract, Accounts: entries}
	outcome := runAndBumpNonce(tx, branch, scope, contract, env)
	return outcome
}

// runAndBumpNonce invokes the contract and applies §4.4's commit rule:
// on Ok, the scope commits and the nonce bumps; on Err, the scope aborts
// but the nonce still bumps (the transaction is included either way).
func runAndBumpNonce(tx types.Transaction, branch *state.Overlay, scope *state.TxScope, contract vm.Contract, env vm.Environment) (result Outcome) {
	committed := false
	defer func() {
		if committed {
			scope.Commit()
		} else {
			scope.Abort()
		}
		bumpNonce(branch, tx.Payer, tx.Nonce)
		result.Touched = touchedAddresses(scope, tx.Payer)
	}()

	inv, err := safeInvoke(contract, env, tx.Params)
	if err != nil {
		return Outcome{Status: types.TxFailed, Err: err}
	}

	var output []byte
	for _, out := range inv.Outputs {
		if out.State == nil {
			continue
		}
		existing, _ := scope.Get(out.State.Address)
		acc := types.Account{
			Owner:      env.Address,
			Data:       out.State.Data,
			Executable: existing.Executable,
			Nonce:      existing.Nonce,
		}
		if err := scope.Set(out.State.Address, acc); err != nil {
			return Outcome{Status: types.TxFailed, Err: fmt.Errorf("%w: %v", txerrors.ErrUnauthorized, err)}
		}
		// Fold the touched address into Output the same way a Log entry
		// is, so callers polling GET /transaction/{hash} can recover
		// addresses a contract created or mutated (§8 scenario 1:
		// "output.Ok.address == mint_address") without a separate field.
		output = append(output, []byte("address="+out.State.Address.String()+";")...)
	}
	for _, out := range inv.Outputs {
		if out.Log != nil {
			output = append(output, []byte(out.Log.Key+"="+out.Log.Value+";")...)
		}
	}

	committed = true
	return Outcome{Status: types.TxOk, Output: output}
}

// safeInvoke converts any panic raised inside a contract invocation into
// a TxOutcome.Err (spec.md §9: "all runtime failures in contract
// execution must be caught ... they must never abort the node").
func safeInvoke(contract vm.Contract, env vm.Environment, params []byte) (inv vm.Invocation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", txerrors.ErrContractTrap, r)
		}
	}()
	return contract.Invoke(env, params)
}

// touchedAddresses dedups the scope's own diff with the payer (whose
// nonce is always bumped directly on the branch, outside the scope).
func touchedAddresses(scope *state.TxScope, payer crypto.Pubkey) []crypto.Pubkey {
	seen := map[crypto.Pubkey]struct{}{payer: {}}
	out := []crypto.Pubkey{payer}
	for _, a := range scope.Touched() {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func bumpNonce(branch *state.Overlay, payer crypto.Pubkey, nonce uint64) {
	acc, ok := branch.Get(payer)
	if !ok {
		acc = types.Account{Owner: payer}
	}
	acc.Nonce = nonce
	branch.Set(payer, acc)
}

func checkStructural(tx types.Transaction) error {
	if tx.Contract.IsZero() {
		return fmt.Errorf("%w: contract address is zero", txerrors.ErrMalformed)
	}
	if tx.Payer.IsZero() {
		return fmt.Errorf("%w: payer address is zero", txerrors.ErrMalformed)
	}
	if len(tx.Accounts) > maxAccountsPerTx {
		return fmt.Errorf("%w: too many accounts (%d > %d)", txerrors.ErrMalformed, len(tx.Accounts), maxAccountsPerTx)
	}
	if len(tx.Params) > maxParamsSize {
		return fmt.Errorf("%w: params too large (%d > %d)", txerrors.ErrMalformed, len(tx.Params), maxParamsSize)
	}
	return nil
}

func checkSignatures(tx types.Transaction) error {
	signers := tx.SignerPubkeys()
	if len(tx.Signatures) != len(signers) {
		return fmt.Errorf("%w: expected %d signatures, got %d", txerrors.ErrBadSignature, len(signers), len(tx.Signatures))
	}
	h := tx.Hash()
	for i, pub := range signers {
		if !crypto.Verify(pub, h.Bytes(), tx.Signatures[i]) {
			return fmt.Errorf("%w: signature %d invalid for %s", txerrors.ErrBadSignature, i, pub)
		}
	}
	return nil
}

// resolveAccounts loads every declared account, materializing missing
// writable ones as empty and contract-owned (§4.4 step 4). It also
// returns the contract account itself, which the resolver needs to
// distinguish a native from a WASM contract.
func resolveAccounts(tx types.Transaction, branch *state.Overlay) ([]vm.AccountEntry, types.Account, error) {
	contractAcc, ok := branch.Get(tx.Contract)
	if !ok {
		return nil, types.Account{}, fmt.Errorf("%w: unknown contract %s", txerrors.ErrUnresolvable, tx.Contract)
	}

	entries := make([]vm.AccountEntry, 0, len(tx.Accounts))
	for _, meta := range tx.Accounts {
		acc, found := branch.Get(meta.Address)
		var accPtr *types.Account
		if found {
			cloned := acc.Clone()
			accPtr = &cloned
		} else if meta.Writable {
			created := types.Account{Owner: tx.Contract}
			accPtr = &created
		} else {
			return nil, types.Account{}, fmt.Errorf("%w: account %s not found", txerrors.ErrUnresolvable, meta.Address)
		}
		entries = append(entries, vm.AccountEntry{
			Address:  meta.Address,
			Account:  accPtr,
			Writable: meta.Writable,
			Signer:   meta.Signer,
		})
	}
	return entries, contractAcc, nil
}

// checkOwnership enforces §4.4 step 5 / §3 Invariant 2: every writable
// account must already be owned by the target contract. Accounts this tx
// creates pass, since resolveAccounts materializes them with Owner set to
// the contract. An account whose stored owner is zero is let through
// here; TxScope.Set refuses any write to it during execution.
func checkOwnership(tx types.Transaction, entries []vm.AccountEntry) error {
	for _, e := range entries {
		if !e.Writable {
			continue
		}
		if e.Account.Owner.IsZero() {
			continue // zero owner: left to TxScope.Set's ownership check
		}
		if e.Account.Owner != tx.Contract {
			return fmt.Errorf("%w: account %s owned by %s, not %s", txerrors.ErrUnauthorized, e.Address, e.Account.Owner, tx.Contract)
		}
	}
	return nil
}
