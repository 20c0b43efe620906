// Package chain implements the fork-aware block tree described in
// spec.md §4.5: an arena of nodes keyed by block hash (§9's "prefer an
// arena... edges stored as ids" guidance), each carrying its own state
// overlay, received votes and accumulated stake, rooted at the most
// recently finalized block.
package chain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/executor"
	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/txerrors"
	"github.com/rensa-labs/rensa/types"
)

// Commitment is a block's position in the monotonic lattice from
// spec.md §3/§4.6: Pending -> Confirmed -> Finalized.
type Commitment uint8

const (
	Pending Commitment = iota
	Confirmed
	Finalized
)

func (c Commitment) String() string {
	switch c {
	case Confirmed:
		return "confirmed"
	case Finalized:
		return "finalized"
	default:
		return "pending"
	}
}

// Node is one block in the forest, with its own differential overlay
// versus its parent and the votes it has directly received.
type Node struct {
	Block      types.Block
	Hash       crypto.Hash
	ParentHash crypto.Hash
	Overlay    *state.Overlay
	Children   []crypto.Hash

	// DirectVotes maps a validator to the vote it cast with Target ==
	// this node's hash (not votes for a descendant). Cumulative stake on
	// this node's path is computed by CumulativeStake, which sums this
	// across the whole subtree.
	DirectVotes map[crypto.Pubkey]types.Vote
	Commitment  Commitment
}

// Schedule is the subset of schedule.Schedule the forest needs: which
// validator was owed the slot a block claims, so insertion can reject an
// impostor producer (§4.8/§7 "BadProducerSignature"/"NotLeaderForSlot").
type Schedule interface {
	LeaderForSlot(slot uint64) crypto.Pubkey
}

// ContractResolver is executor.ContractResolver, re-exported so callers
// wiring the forest don't need to import both packages for one type.
type ContractResolver = executor.ContractResolver

// Forest is the in-memory DAG rooted at the last finalized block.
type Forest struct {
	mu sync.RWMutex

	nodes map[crypto.Hash]*Node
	root  crypto.Hash
	base  *state.Base

	maxReorgDepth uint64
	schedule      Schedule
	resolver      ContractResolver

	// lastVote tracks, per validator, the most recent (height, target)
	// it voted for, to detect equivocation (§4.5/§7 "EquivocatingVote").
	lastVote map[crypto.Pubkey]voteRecord
}

type voteRecord struct {
	height uint64
	target crypto.Hash
}

// NewForest roots a fresh forest at genesisBlock, backed by base (the
// last-finalized account state) and validating block producers against
// schedule.
func NewForest(genesisBlock types.Block, base *state.Base, schedule Schedule, resolver ContractResolver, maxReorgDepth uint64) *Forest {
	hash := genesisBlock.Hash()
	root := &Node{
		Block:       genesisBlock,
		Hash:        hash,
		Overlay:     state.NewOverlay(base),
		DirectVotes: make(map[crypto.Pubkey]types.Vote),
		Commitment:  Finalized,
	}
	return &Forest{
		nodes:         map[crypto.Hash]*Node{hash: root},
		root:          hash,
		base:          base,
		maxReorgDepth: maxReorgDepth,
		schedule:      schedule,
		resolver:      resolver,
		lastVote:      make(map[crypto.Pubkey]voteRecord),
	}
}

// Root returns the current finalized root's hash.
func (f *Forest) Root() crypto.Hash {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.root
}

// Node returns the node at hash, if present.
func (f *Forest) Node(hash crypto.Hash) (*Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[hash]
	return n, ok
}

// Leaves returns every node with no children, candidates for fork-choice.
func (f *Forest) Leaves() []*Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Node
	for _, n := range f.nodes {
		if len(n.Children) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// InsertBlock validates and inserts block into the forest, per §4.5:
// parent must exist and be within the reorg-depth window, re-executing
// its transactions against the parent overlay must reproduce the
// declared StateRoot, and the producer signature/slot must check out.
func (f *Forest) InsertBlock(block types.Block) (*Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash := block.Hash()
	if _, exists := f.nodes[hash]; exists {
		return nil, txerrors.ErrDuplicateBlockHash
	}

	parent, ok := f.nodes[block.ParentHash]
	if !ok {
		return nil, fmt.Errorf("%w: parent %s", txerrors.ErrUnknownParent, block.ParentHash)
	}

	rootNode := f.nodes[f.root]
	if block.Height > rootNode.Block.Height+f.maxReorgDepth {
		return nil, fmt.Errorf("%w: height %d exceeds root %d + max depth %d", txerrors.ErrReorgTooDeep, block.Height, rootNode.Block.Height, f.maxReorgDepth)
	}

	if !block.SignedBy(block.Producer) {
		return nil, txerrors.ErrBadProducerSig
	}
	if f.schedule != nil && f.schedule.LeaderForSlot(block.Slot) != block.Producer {
		return nil, txerrors.ErrNotLeaderForSlot
	}

	overlay, err := reexecute(block, parent.Block.StateRoot, parent.Overlay, f.resolver)
	if err != nil {
		return nil, err
	}

	node := &Node{
		Block:       block,
		Hash:        hash,
		ParentHash:  block.ParentHash,
		Overlay:     overlay,
		DirectVotes: make(map[crypto.Pubkey]types.Vote),
		Commitment:  Pending,
	}
	f.nodes[hash] = node
	parent.Children = append(parent.Children, hash)
	log.Info(log.Forest, "inserted block", "height", block.Height, "hash", hash, "parent", block.ParentHash)
	return node, nil
}

// reexecute replays block's transactions sequentially against parent,
// producing the node's overlay and checking the recomputed state root,
// per §4.5 / §8's "Replaying a finalized block's transactions against
// its parent overlay yields the same state_root" law (checked here for
// every block, not only finalized ones).
func reexecute(block types.Block, parentStateRoot crypto.Hash, parent *state.Overlay, resolver ContractResolver) (*state.Overlay, error) {
	overlay := state.NewOverlay(parent)
	root := parentStateRoot
	for _, et := range block.Transactions {
		outcome := executor.Execute(et.Transaction, overlay, resolver)
		status := types.TxOk
		if outcome.Err != nil {
			status = types.TxFailed
		}
		if status != et.Status {
			return nil, fmt.Errorf("%w: tx %s status mismatch", txerrors.ErrStateRootMismatch, et.Transaction.Hash())
		}
		root = StateRootStep(root, et.Transaction.Hash(), status, outcome.Touched, overlay)
	}
	if root != block.StateRoot {
		return nil, txerrors.ErrStateRootMismatch
	}
	return overlay, nil
}

// StateRootStep folds one transaction's contribution into the running
// state root, per SPEC_FULL.md's Open Question 1:
//
//	state_root = SHA3-256(parent_state_root ‖ SHA3-256(tx_hash ‖
//	             status_byte ‖ diff_encoding))
//
// diff_encoding sorts touched addresses ascending and concatenates, per
// address: address ‖ existed_byte ‖ len_le_u32(data) ‖ data ‖ owner ‖
// executable_byte ‖ nonce_le_u64, or a single 0xFF byte for a deletion.
// Exported so block assembly (consensus.Driver.produceBlock) computes
// the exact same root that re-execution on insert will check.
func StateRootStep(prevRoot crypto.Hash, txHash crypto.Hash, status types.TxStatus, touched []crypto.Pubkey, overlay *state.Overlay) crypto.Hash {
	addrs := append([]crypto.Pubkey{}, touched...)
	sort.Slice(addrs, func(i, j int) bool { return lessPubkey(addrs[i], addrs[j]) })

	var diff []byte
	for _, addr := range addrs {
		acc, ok := overlay.Get(addr)
		if !ok {
			diff = append(diff, addr.Bytes()...)
			diff = append(diff, 0xFF)
			continue
		}
		diff = append(diff, addr.Bytes()...)
		diff = append(diff, 0x01)
		diff = append(diff, crypto.LE32(uint32(len(acc.Data)))...)
		diff = append(diff, acc.Data...)
		diff = append(diff, acc.Owner.Bytes()...)
		diff = append(diff, crypto.Bool1(acc.Executable)...)
		diff = append(diff, crypto.LE64(acc.Nonce)...)
	}

	statusByte := byte(0)
	if status == types.TxFailed {
		statusByte = 1
	}
	txContribution := crypto.Sum3(txHash.Bytes(), []byte{statusByte}, diff)
	return crypto.Sum3(prevRoot.Bytes(), txContribution.Bytes())
}

func lessPubkey(a, b crypto.Pubkey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
