// Package commitment implements the two-phase Casper-FFG-style finality
// rule described in spec.md §4.6, driving a chain.Forest's nodes
// through the Pending -> Confirmed -> Finalized lattice.
package commitment

import (
	"sort"

	"github.com/rensa-labs/rensa/chain"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/types"
)

// Notifier is told about finality advances, e.g. to persist the
// finalized block to storage.History and notify RPC subscribers (§4.8
// step 4).
type Notifier interface {
	OnFinalized(block types.Block, votes []types.Vote, pruned []crypto.Hash)
}

// Engine evaluates the two-phase rule over a forest's current votes.
type Engine struct {
	forest   *chain.Forest
	stakeOf  chain.StakeOf
	notifier Notifier
}

func NewEngine(forest *chain.Forest, stakeOf chain.StakeOf, notifier Notifier) *Engine {
	return &Engine{forest: forest, stakeOf: stakeOf, notifier: notifier}
}

// Evaluate implements §4.6:
//
//   - B becomes Confirmed the first time cumulative stake on B-or-a-
//     descendant exceeds 2/3 of total active stake.
//   - B becomes Finalized when B is Confirmed and a strictly later
//     descendant is also Confirmed (one supermajority link crossing B).
//
// Evaluate is idempotent and safe to call after every new vote; it scans
// every node once per call, preferring simplicity over incremental
// bookkeeping since the forest is pruned back to a single finalized
// root on every finalize.
func (e *Engine) Evaluate() {
	nodes := e.forest.Nodes()
	total := e.stakeOf.TotalStake()
	if total == 0 {
		return
	}
	threshold := (total * 2) / 3

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Block.Height < nodes[j].Block.Height })

	confirmedByHash := make(map[crypto.Hash]*chain.Node)
	for _, n := range nodes {
		stake := e.forest.CumulativeStake(n.Hash, e.stakeOf)
		if stake > threshold {
			e.forest.MarkConfirmed(n.Hash)
			confirmedByHash[n.Hash] = n
		}
	}

	e.finalizeFromConfirmed(confirmedByHash)
}

// finalizeFromConfirmed looks for a confirmed ancestor with a strictly
// later confirmed descendant, the "one supermajority link" condition,
// and finalizes the ancestor, walking root-ward so the earliest
// finalizable block wins (finalizing it prunes everything else moot).
func (e *Engine) finalizeFromConfirmed(confirmed map[crypto.Hash]*chain.Node) {
	ordered := make([]*chain.Node, 0, len(confirmed))
	for _, n := range confirmed {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Block.Height < ordered[j].Block.Height })
	for _, candidate := range ordered {
		hash := candidate.Hash
		if candidate.Commitment == chain.Finalized {
			continue
		}
		if e.hasLaterConfirmedDescendant(hash, candidate.Block.Height, confirmed) {
			pruned, err := e.forest.Finalize(hash)
			if err != nil {
				log.Error(log.Commitment, "finalize failed", "hash", hash, "err", err)
				continue
			}
			if e.notifier != nil {
				e.notifier.OnFinalized(candidate.Block, votesOf(candidate), pruned)
			}
			// The forest root moved; any remaining confirmed entries for
			// pruned siblings are now gone. Re-run to catch any further
			// finalizable ancestor/descendant pair under the new root.
			e.Evaluate()
			return
		}
	}
}

func (e *Engine) hasLaterConfirmedDescendant(hash crypto.Hash, height uint64, confirmed map[crypto.Hash]*chain.Node) bool {
	node, ok := e.forest.Node(hash)
	if !ok {
		return false
	}
	for _, childHash := range node.Children {
		if c, ok := confirmed[childHash]; ok && c.Block.Height > height {
			return true
		}
		if e.hasLaterConfirmedDescendant(childHash, height, confirmed) {
			return true
		}
	}
	return false
}

func votesOf(n *chain.Node) []types.Vote {
	out := make([]types.Vote, 0, len(n.DirectVotes))
	for _, v := range n.DirectVotes {
		out = append(out, v)
	}
	return out
}
