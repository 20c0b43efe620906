package chain

import (
	"fmt"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/log"
)

// Nodes returns a snapshot of every node currently in the forest, for
// the commitment engine to scan for confirmation/finalization
// transitions. The slice is a copy; mutating the forest concurrently is
// safe.
func (f *Forest) Nodes() []*Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out
}

// MarkConfirmed advances hash from Pending to Confirmed. It is a no-op
// if the node is already Confirmed or Finalized: commitment transitions
// are monotonic (§3/§4.6), never regress.
func (f *Forest) MarkConfirmed(hash crypto.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[hash]
	if !ok || n.Commitment != Pending {
		return
	}
	n.Commitment = Confirmed
	log.Info(log.Commitment, "block confirmed", "height", n.Block.Height, "hash", hash)
}

// ancestorPathLocked returns the hashes from the current root down to hash,
// inclusive of both ends, or nil if hash isn't a descendant of root.
func (f *Forest) ancestorPathLocked(hash crypto.Hash) []crypto.Hash {
	path := []crypto.Hash{hash}
	cur := hash
	for cur != f.root {
		n, ok := f.nodes[cur]
		if !ok {
			return nil
		}
		cur = n.ParentHash
		path = append(path, cur)
	}
	// reverse to root-first order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Finalize implements §4.6's finalization consequence: B's overlay is
// merged into the base store, every sibling branch off the root->B path
// is deleted, and the forest root becomes B. Returns the hashes of
// pruned subtree roots, so callers can tell external collaborators
// (history store, RPC subscribers) what was orphaned.
func (f *Forest) Finalize(hash crypto.Hash) (pruned []crypto.Hash, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, ok := f.nodes[hash]
	if !ok {
		return nil, fmt.Errorf("finalize: unknown node %s", hash)
	}
	path := f.ancestorPathLocked(hash)
	if path == nil {
		return nil, fmt.Errorf("finalize: %s is not a descendant of root %s", hash, f.root)
	}

	// Merge overlays root-exclusive, B-inclusive, in order, into base so
	// each ancestor's diff lands before its child's.
	for _, h := range path[1:] {
		n := f.nodes[h]
		if err := f.base.Promote(n.Overlay); err != nil {
			return nil, fmt.Errorf("promote %s: %w", h, err)
		}
	}

	// Delete every sibling subtree branching off the finalized path.
	for i := 0; i < len(path)-1; i++ {
		parent := f.nodes[path[i]]
		keep := path[i+1]
		for _, child := range parent.Children {
			if child == keep {
				continue
			}
			pruned = append(pruned, child)
			f.deleteSubtreeLocked(child)
		}
		parent.Children = []crypto.Hash{keep}
	}

	node.Commitment = Finalized
	node.ParentHash = crypto.Hash{}

	// The old root and every intermediate ancestor on the path are now
	// folded into base and superseded by the new root; drop them from
	// the arena so the forest stays rooted at only the most recent
	// finalized block (§3: "older blocks are pruned").
	for _, h := range path[:len(path)-1] {
		delete(f.nodes, h)
	}

	f.root = hash
	log.Info(log.Commitment, "block finalized", "height", node.Block.Height, "hash", hash, "pruned", len(pruned))
	return pruned, nil
}

func (f *Forest) deleteSubtreeLocked(hash crypto.Hash) {
	n, ok := f.nodes[hash]
	if !ok {
		return
	}
	for _, c := range n.Children {
		f.deleteSubtreeLocked(c)
	}
	delete(f.nodes, hash)
}
