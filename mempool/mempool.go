// Package mempool implements the bounded transaction buffer described in
// spec.md §4.8: admission requires structural validity and a valid
// signature (not full execution), duplicates are suppressed by
// transaction hash, and stale nonces are evicted on a payer-nonce gap.
package mempool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/txerrors"
	"github.com/rensa-labs/rensa/types"
)

// NonceSource resolves a payer's currently stored nonce, so EvictStale
// can drop transactions whose nonce has already fallen behind the
// fork-choice tip (§4.8 "eviction by payer-nonce gap").
type NonceSource interface {
	Nonce(payer crypto.Pubkey) uint64
}

// Mempool is a bounded, hash-deduplicated buffer of admitted
// transactions, ready to be drained into the next block a local leader
// assembles.
type Mempool struct {
	mu       sync.Mutex
	capacity int
	byHash   map[crypto.Hash]types.Transaction
	order    []crypto.Hash // FIFO admission order, for deterministic draining
}

func New(capacity int) *Mempool {
	return &Mempool{capacity: capacity, byHash: make(map[crypto.Hash]types.Transaction)}
}

// Admit validates structure and signature only (§4.8); full execution
// happens only when a block assembles. Admit does not look at the pool;
// duplicate hashes are handled by Add, which accepts a resubmission
// silently (idempotent), not as an error.
func Admit(tx types.Transaction) error {
	if tx.Contract.IsZero() || tx.Payer.IsZero() {
		return fmt.Errorf("%w: zero contract or payer", txerrors.ErrMalformed)
	}
	signers := tx.SignerPubkeys()
	if len(tx.Signatures) != len(signers) {
		return fmt.Errorf("%w: signature count mismatch", txerrors.ErrBadSignature)
	}
	h := tx.Hash()
	for i, pub := range signers {
		if !crypto.Verify(pub, h.Bytes(), tx.Signatures[i]) {
			return fmt.Errorf("%w: signature %d invalid", txerrors.ErrBadSignature, i)
		}
	}
	return nil
}

// Add validates and admits tx, evicting the oldest entry if the pool is
// at capacity.
func (m *Mempool) Add(tx types.Transaction) error {
	if err := Admit(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := tx.Hash()
	if _, dup := m.byHash[h]; dup {
		return nil
	}
	if len(m.order) >= m.capacity {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.byHash, oldest)
		log.Debug(log.Mempool, "evicted oldest tx for capacity", "hash", oldest)
	}
	m.byHash[h] = tx
	m.order = append(m.order, h)
	return nil
}

// EvictStale drops every transaction whose nonce is below src's next
// expected nonce for its payer (already applied), per §4.8's nonce-gap
// eviction policy. Transactions whose nonce is ahead of it are kept.
func (m *Mempool) EvictStale(src NonceSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0:0]
	for _, h := range m.order {
		tx := m.byHash[h]
		want := src.Nonce(tx.Payer) + 1
		if tx.Nonce < want {
			delete(m.byHash, h)
			log.Debug(log.Mempool, "evicted stale nonce tx", "hash", h, "nonce", tx.Nonce, "want", want)
			continue
		}
		kept = append(kept, h)
	}
	m.order = kept
}

// Drain returns up to maxCount transactions in FIFO admission order,
// removing them from the pool. Callers that fail to include a drained
// transaction (e.g. slot expired mid-assembly, §5 "cancellation") must
// resubmit it via Add to return it to the pool unchanged.
func (m *Mempool) Drain(maxCount int) []types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxCount > len(m.order) {
		maxCount = len(m.order)
	}
	out := make([]types.Transaction, 0, maxCount)
	for _, h := range m.order[:maxCount] {
		out = append(out, m.byHash[h])
		delete(m.byHash, h)
	}
	m.order = m.order[maxCount:]
	return out
}

// Len returns the current pool size.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Get returns a pending transaction by hash, for RPC status lookups.
func (m *Mempool) Get(h crypto.Hash) (types.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byHash[h]
	return tx, ok
}

// Pending returns a snapshot of pending hashes, sorted for deterministic
// debug output.
func (m *Mempool) Pending() []crypto.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]crypto.Hash{}, m.order...)
	sort.Slice(out, func(i, j int) bool { return string(out[i].Bytes()) < string(out[j].Bytes()) })
	return out
}
