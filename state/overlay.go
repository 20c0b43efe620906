// Package state implements the versioned account store described in
// spec.md §4.2: a Base holding the last finalized state, and a chain of
// differential Overlays layered on top, one per pending block.
package state

import (
	"sync"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// Overlay is a differential view of account state versus its parent.
// Reads miss through to the parent; a negative entry in deleted models a
// deletion without having to mutate the parent.
type Overlay struct {
	mu      sync.RWMutex
	parent  Reader
	set     map[crypto.Pubkey]types.Account
	deleted map[crypto.Pubkey]struct{}
}

// Reader is satisfied by both *Overlay and *Base, so overlays can chain
// onto either another overlay or the root store.
type Reader interface {
	Get(addr crypto.Pubkey) (types.Account, bool)
}

// NewOverlay creates an overlay layered on top of parent.
func NewOverlay(parent Reader) *Overlay {
	return &Overlay{
		parent:  parent,
		set:     make(map[crypto.Pubkey]types.Account),
		deleted: make(map[crypto.Pubkey]struct{}),
	}
}

// Get walks this overlay, falling through to the parent on miss.
func (o *Overlay) Get(addr crypto.Pubkey) (types.Account, bool) {
	o.mu.RLock()
	if acc, ok := o.set[addr]; ok {
		o.mu.RUnlock()
		return acc, true
	}
	if _, ok := o.deleted[addr]; ok {
		o.mu.RUnlock()
		return types.Account{}, false
	}
	parent := o.parent
	o.mu.RUnlock()
	if parent == nil {
		return types.Account{}, false
	}
	return parent.Get(addr)
}

// Set records a write in this overlay.
func (o *Overlay) Set(addr crypto.Pubkey, acc types.Account) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.deleted, addr)
	o.set[addr] = acc
}

// Delete records a tombstone in this overlay, shadowing the parent.
func (o *Overlay) Delete(addr crypto.Pubkey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.set, addr)
	o.deleted[addr] = struct{}{}
}

// Touched returns the set of addresses this overlay directly writes or
// deletes (not including anything only visible through the parent),
// sorted ascending, the order the state-root diff chain hashes over.
func (o *Overlay) Touched() []crypto.Pubkey {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]crypto.Pubkey, 0, len(o.set)+len(o.deleted))
	for a := range o.set {
		out = append(out, a)
	}
	for a := range o.deleted {
		out = append(out, a)
	}
	sortPubkeys(out)
	return out
}

// IsDeleted reports whether addr is tombstoned directly in this overlay.
func (o *Overlay) IsDeleted(addr crypto.Pubkey) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.deleted[addr]
	return ok
}

// Merge folds every entry of child into o, used to promote a transient
// tx-scope overlay into its block's overlay. Folding a finalized block's
// overlay into the base store is Base.Promote's job, not Merge's.
func (o *Overlay) Merge(child *Overlay) {
	child.mu.RLock()
	defer child.mu.RUnlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	for addr, acc := range child.set {
		delete(o.deleted, addr)
		o.set[addr] = acc
	}
	for addr := range child.deleted {
		delete(o.set, addr)
		o.deleted[addr] = struct{}{}
	}
}

func sortPubkeys(keys []crypto.Pubkey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && lessPubkey(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func lessPubkey(a, b crypto.Pubkey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
