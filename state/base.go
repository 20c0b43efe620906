package state

import (
	"encoding/json"
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// KV is the minimal persistence contract the base store needs. The
// concrete implementation (storage.KVStore) is LevelDB-backed; state
// deliberately doesn't import the storage package to avoid a cycle;
// callers wire a storage.KVStore in at construction time.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

const accountKeyPrefix = "acct/"

// Base is the last-finalized account state, persisted to disk. It is the
// root every Overlay chain eventually reads through on a miss.
type Base struct {
	kv KV
}

// NewBase wraps a KV store as the root of the overlay chain.
func NewBase(kv KV) *Base {
	return &Base{kv: kv}
}

func accountKey(addr crypto.Pubkey) []byte {
	return append([]byte(accountKeyPrefix), addr.Bytes()...)
}

// Get returns the finalized account at addr, if any.
func (b *Base) Get(addr crypto.Pubkey) (types.Account, bool) {
	raw, ok, err := b.kv.Get(accountKey(addr))
	if err != nil || !ok {
		return types.Account{}, false
	}
	var acc types.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return types.Account{}, false
	}
	return acc, true
}

// Put writes an account directly into the base store (genesis loading,
// and Promote below).
func (b *Base) Put(addr crypto.Pubkey, acc types.Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal account %s: %w", addr, err)
	}
	return b.kv.Put(accountKey(addr), raw)
}

// Delete removes an account from the base store.
func (b *Base) Delete(addr crypto.Pubkey) error {
	return b.kv.Delete(accountKey(addr))
}

// Promote folds a finalized block's overlay into the base store,
// writing or deleting each address the overlay touched. This is the only path that permanently mutates
// already-finalized state (§4.6).
func (b *Base) Promote(overlay *Overlay) error {
	for _, addr := range overlay.Touched() {
		if overlay.IsDeleted(addr) {
			if err := b.Delete(addr); err != nil {
				return fmt.Errorf("promote delete %s: %w", addr, err)
			}
			continue
		}
		acc, ok := overlay.set[addr]
		if !ok {
			continue
		}
		if err := b.Put(addr, acc); err != nil {
			return fmt.Errorf("promote put %s: %w", addr, err)
		}
	}
	return nil
}
