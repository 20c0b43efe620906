package storage

import (
	"encoding/json"
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// History is the append-only record of finalized blocks, keyed by height
// and by transaction hash for point lookups, per spec.md §6's
// persistence layout.
type History struct {
	kv *KVStore
}

func NewHistory(kv *KVStore) *History { return &History{kv: kv} }

const (
	blockByHeightPrefix = "hist/block/h/"
	blockHashAtHeight   = "hist/block/hash/"
	txLocationPrefix    = "hist/tx/"
	votesByTargetPrefix = "hist/votes/"
	latestFinalizedKey  = "hist/latest"
)

type txLocation struct {
	BlockHeight uint64 `json:"block_height"`
	Index       int    `json:"index"`
}

// AppendFinalized durably records a newly finalized block and indexes
// each of its transactions by hash, so GET /transaction/{hash} and
// GET /block/{height} (§6) can serve it after a restart.
func (h *History) AppendFinalized(b types.Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	heightKey := []byte(fmt.Sprintf("%s%020d", blockByHeightPrefix, b.Height))
	if err := h.kv.Put(heightKey, raw); err != nil {
		return err
	}
	bhash := b.Hash()
	if err := h.kv.Put([]byte(blockHashAtHeight+bhash.String()), crypto.LE64(b.Height)); err != nil {
		return err
	}
	for i, et := range b.Transactions {
		loc := txLocation{BlockHeight: b.Height, Index: i}
		locRaw, _ := json.Marshal(loc)
		key := []byte(txLocationPrefix + et.Transaction.Hash().String())
		if err := h.kv.Put(key, locRaw); err != nil {
			return err
		}
	}
	return h.kv.Put([]byte(latestFinalizedKey), crypto.LE64(b.Height))
}

// BlockAtHeight returns a previously finalized block.
func (h *History) BlockAtHeight(height uint64) (types.Block, bool, error) {
	raw, ok, err := h.kv.Get([]byte(fmt.Sprintf("%s%020d", blockByHeightPrefix, height)))
	if err != nil || !ok {
		return types.Block{}, ok, err
	}
	var b types.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return types.Block{}, false, fmt.Errorf("unmarshal block at %d: %w", height, err)
	}
	return b, true, nil
}

// TransactionByHash locates the finalized block+index for a tx hash.
func (h *History) TransactionByHash(hash crypto.Hash) (types.Block, types.ExecutedTransaction, bool, error) {
	raw, ok, err := h.kv.Get([]byte(txLocationPrefix + hash.String()))
	if err != nil || !ok {
		return types.Block{}, types.ExecutedTransaction{}, false, err
	}
	var loc txLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return types.Block{}, types.ExecutedTransaction{}, false, err
	}
	b, ok, err := h.BlockAtHeight(loc.BlockHeight)
	if err != nil || !ok {
		return types.Block{}, types.ExecutedTransaction{}, false, err
	}
	if loc.Index >= len(b.Transactions) {
		return types.Block{}, types.ExecutedTransaction{}, false, fmt.Errorf("tx index %d out of range for block %d", loc.Index, loc.BlockHeight)
	}
	return b, b.Transactions[loc.Index], true, nil
}

// AppendVotes durably records the votes that justified a block's
// finalization, indexed by target hash, so a debug client can audit why
// a given block finalized.
func (h *History) AppendVotes(target crypto.Hash, votes []types.Vote) error {
	raw, err := json.Marshal(votes)
	if err != nil {
		return fmt.Errorf("marshal votes for %s: %w", target, err)
	}
	return h.kv.Put([]byte(votesByTargetPrefix+target.String()), raw)
}

// VotesForTarget returns the votes recorded for a finalized target hash.
func (h *History) VotesForTarget(target crypto.Hash) ([]types.Vote, error) {
	raw, ok, err := h.kv.Get([]byte(votesByTargetPrefix + target.String()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var votes []types.Vote
	if err := json.Unmarshal(raw, &votes); err != nil {
		return nil, fmt.Errorf("unmarshal votes for %s: %w", target, err)
	}
	return votes, nil
}

// LatestFinalizedHeight returns the highest finalized height recorded, or
// false if nothing has finalized yet.
func (h *History) LatestFinalizedHeight() (uint64, bool, error) {
	raw, ok, err := h.kv.Get([]byte(latestFinalizedKey))
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt latest-finalized marker")
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	return v, true, nil
}

// Recover reports how far finalized history has progressed on restart.
// It does not replay blocks: per-block state diffs are not stored here,
// and the on-disk base store already holds the finalized account state.
// The in-memory fork tree always starts empty and is repopulated by
// gossip, never by history replay.
func (h *History) Recover() (latestHeight uint64, found bool, err error) {
	return h.LatestFinalizedHeight()
}
