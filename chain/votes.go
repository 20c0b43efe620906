package chain

import (
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/txerrors"
	"github.com/rensa-labs/rensa/types"
)

// StakeOf resolves a validator's vote-power weight, supplied by the
// caller (genesis validator set + any future re-weighting is out of
// scope, §4.7).
type StakeOf interface {
	Stake(validator crypto.Pubkey) uint64
	TotalStake() uint64
}

// InsertVote validates and records vote, crediting stakeOf's weight to
// the vote's target node, per §4.5. A validator who has already voted
// at this height for a different target has the new, conflicting vote
// silently discarded (§4.5/§7 "EquivocatingVote"): no core-level
// slashing, simply don't double-count their stake.
func (f *Forest) InsertVote(vote types.Vote, stakeOf StakeOf) error {
	if !vote.VerifySignature() {
		return txerrors.ErrBadVoteSignature
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	target, ok := f.nodes[vote.Target]
	if !ok {
		return fmt.Errorf("%w: %s", txerrors.ErrUnknownVoteTarget, vote.Target)
	}

	if prev, voted := f.lastVote[vote.Validator]; voted {
		if prev.height == target.Block.Height && prev.target != vote.Target {
			log.Info(log.Forest, "discarding equivocating vote", "validator", vote.Validator, "height", prev.height)
			return txerrors.ErrEquivocatingVote
		}
		if prev.height >= target.Block.Height {
			// Stale vote for a height this validator already voted past;
			// ignore rather than double-count.
			return nil
		}
	}

	f.lastVote[vote.Validator] = voteRecord{height: target.Block.Height, target: vote.Target}
	target.DirectVotes[vote.Validator] = vote
	log.Debug(log.Forest, "recorded vote", "validator", vote.Validator, "target", vote.Target, "stake", stakeOf.Stake(vote.Validator))
	return nil
}

// CumulativeStake sums the direct-vote stake of hash and every node in
// its subtree: the "stake weight on the path to root" fork-choice and
// confirmation both key off of.
func (f *Forest) CumulativeStake(hash crypto.Hash, stakeOf StakeOf) uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cumulativeStakeLocked(hash, stakeOf)
}

func (f *Forest) cumulativeStakeLocked(hash crypto.Hash, stakeOf StakeOf) uint64 {
	node, ok := f.nodes[hash]
	if !ok {
		return 0
	}
	var total uint64
	for validator := range node.DirectVotes {
		total += stakeOf.Stake(validator)
	}
	for _, childHash := range node.Children {
		total += f.cumulativeStakeLocked(childHash, stakeOf)
	}
	return total
}

// Tip implements the GHOST fork-choice rule from §4.5: starting at root,
// repeatedly descend into whichever *direct child* carries the greatest
// accumulated (subtree) stake weight, breaking ties by greater height
// then lexicographically smaller block hash, until a leaf is reached.
// This is a root-down descent, not a root-to-leaf path sum: at every
// branch point only the candidate children are compared against each
// other, matching the reference fork-choice's head-selection walk.
func (f *Forest) Tip(stakeOf StakeOf) crypto.Hash {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cur := f.root
	for {
		node, ok := f.nodes[cur]
		if !ok || len(node.Children) == 0 {
			return cur
		}

		var bestChild crypto.Hash
		var bestNode *Node
		var bestStake uint64
		for i, childHash := range node.Children {
			child := f.nodes[childHash]
			stake := f.cumulativeStakeLocked(childHash, stakeOf)
			if i == 0 || better(stake, child, bestStake, bestNode) {
				bestChild, bestNode, bestStake = childHash, child, stake
			}
		}
		cur = bestChild
	}
}

func better(stake uint64, n *Node, bestStake uint64, best *Node) bool {
	if stake != bestStake {
		return stake > bestStake
	}
	if n.Block.Height != best.Block.Height {
		return n.Block.Height > best.Block.Height
	}
	return lessHash(n.Hash, best.Hash)
}

func lessHash(a, b crypto.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
