package state

import (
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// TxScope is the transient overlay a single transaction executes
// against. Writes are only visible once Commit folds them into the
// branch overlay; Abort discards them. Exactly one of Commit/Abort must
// be called, callers are expected to use a defer pattern:
//
//	scope := branch.BeginTx(contract)
//	ok := false
//	defer func() {
//		if ok { scope.Commit() } else { scope.Abort() }
//	}()
//
// mirroring the "scoped acquisition with guaranteed cleanup on all exit
// paths" requirement in spec.md §4.2.
type TxScope struct {
	branch   *Overlay
	inner    *Overlay
	contract crypto.Pubkey
	done     bool
}

// BeginTx opens a transient overlay against branch, for contract's
// exclusive write access (contract is the only principal allowed to
// Set/Delete accounts it owns within this scope, per §4.4 step 5).
func (o *Overlay) BeginTx(contract crypto.Pubkey) *TxScope {
	return &TxScope{branch: o, inner: NewOverlay(o), contract: contract}
}

// Get reads through the transient overlay to the branch and base.
func (s *TxScope) Get(addr crypto.Pubkey) (types.Account, bool) {
	return s.inner.Get(addr)
}

// Set writes addr within this transaction scope. The account's Owner
// must equal the executing contract (or the account must not yet exist,
// i.e. this call is creating it), §3 Invariant 2 / §4.4 step 5.
func (s *TxScope) Set(addr crypto.Pubkey, acc types.Account) error {
	if existing, ok := s.inner.Get(addr); ok && existing.Owner != s.contract {
		return fmt.Errorf("account %s is owned by %s, not %s", addr, existing.Owner, s.contract)
	}
	if acc.Owner != s.contract {
		return fmt.Errorf("cannot set account %s with owner %s while executing as %s", addr, acc.Owner, s.contract)
	}
	s.inner.Set(addr, acc)
	return nil
}

// Delete tombstones addr within this transaction scope, subject to the
// same ownership rule as Set.
func (s *TxScope) Delete(addr crypto.Pubkey) error {
	if existing, ok := s.inner.Get(addr); ok && existing.Owner != s.contract {
		return fmt.Errorf("account %s is owned by %s, not %s", addr, existing.Owner, s.contract)
	}
	s.inner.Delete(addr)
	return nil
}

// Commit folds the transient overlay into the branch overlay, applying
// dust reclamation (§4.2): any account now empty and owned by the
// executing contract is deleted rather than persisted.
func (s *TxScope) Commit() {
	if s.done {
		return
	}
	s.done = true
	reclaimDust(s.inner, s.contract)
	s.branch.Merge(s.inner)
}

// Abort discards every mutation made within this scope. Per §4.4, the
// payer's nonce bump is applied by the caller independently of
// Commit/Abort, aborting a scope never touches the nonce.
func (s *TxScope) Abort() {
	s.done = true
}

// Touched returns the addresses this scope wrote or deleted, whether or
// not it was ultimately committed. Callers computing a per-transaction
// state-root contribution read the scope's own diff this way rather
// than diffing the branch overlay before and after.
func (s *TxScope) Touched() []crypto.Pubkey {
	return s.inner.Touched()
}

// WasDeleted reports whether addr was tombstoned within this scope.
func (s *TxScope) WasDeleted(addr crypto.Pubkey) bool {
	return s.inner.IsDeleted(addr)
}

// reclaimDust implements the "dust reclamation" rule from §4.2: after a
// successful transaction, any account whose Data is empty and whose
// Owner is the executing contract is deleted from the overlay, so
// zero-balance coin accounts don't accumulate forever.
func reclaimDust(overlay *Overlay, contract crypto.Pubkey) {
	for _, addr := range overlay.Touched() {
		if overlay.IsDeleted(addr) {
			continue
		}
		acc, ok := overlay.set[addr]
		if !ok {
			continue
		}
		if acc.Owner == contract && acc.IsEmpty() {
			overlay.Delete(addr)
		}
	}
}
