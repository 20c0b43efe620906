package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nsf/jsondiff"
	"github.com/xlab/treeprint"

	"github.com/rensa-labs/rensa/chain"
	"github.com/rensa-labs/rensa/crypto"
)

// handleDebugForest renders the live fork tree as ASCII art, one branch
// per leaf, using treeprint the way an operator tool would — a
// convenience over a JSON dump that's otherwise impossible to read by
// eye once the forest has more than a couple of pending blocks.
func (s *Server) handleDebugForest(w http.ResponseWriter, r *http.Request) {
	nodes := s.forest.Nodes()
	byHash := make(map[crypto.Hash]*chain.Node, len(nodes))
	children := make(map[crypto.Hash][]crypto.Hash)
	for _, n := range nodes {
		byHash[n.Hash] = n
		if !n.ParentHash.IsZero() || n.Hash == s.forest.Root() {
			children[n.ParentHash] = append(children[n.ParentHash], n.Hash)
		}
	}

	root := s.forest.Root()
	tree := treeprint.New()
	tree.SetValue(nodeLabel(byHash[root]))
	var walk func(treeprint.Tree, crypto.Hash)
	walk = func(branch treeprint.Tree, hash crypto.Hash) {
		for _, childHash := range children[hash] {
			child := byHash[childHash]
			if child == nil {
				continue
			}
			node := branch.AddBranch(nodeLabel(child))
			walk(node, childHash)
		}
	}
	walk(tree, root)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, tree.String())
}

func nodeLabel(n *chain.Node) string {
	if n == nil {
		return "?"
	}
	return fmt.Sprintf("#%d %s (%s)", n.Block.Height, n.Hash, n.Commitment)
}

// handleDebugDiff compares the confirmed and finalized account views of
// a given address, using jsondiff to highlight exactly which fields
// moved between the two commitment levels — useful when a reorg just
// happened and an operator wants to see what's still provisional.
func (s *Server) handleDebugDiff(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.PubkeyFromBase58(r.URL.Query().Get("addr"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var confirmedNode, finalizedNode *chain.Node
	for _, n := range s.forest.Nodes() {
		if n.Commitment != chain.Pending && (confirmedNode == nil || n.Block.Height > confirmedNode.Block.Height) {
			confirmedNode = n
		}
		if n.Commitment == chain.Finalized && (finalizedNode == nil || n.Block.Height > finalizedNode.Block.Height) {
			finalizedNode = n
		}
	}
	if confirmedNode == nil || finalizedNode == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	confirmedAcc, _ := confirmedNode.Overlay.Get(addr)
	finalizedAcc, _ := finalizedNode.Overlay.Get(addr)
	confirmedJSON, _ := json.Marshal(confirmedAcc)
	finalizedJSON, _ := json.Marshal(finalizedAcc)

	opts := jsondiff.DefaultConsoleOptions()
	diffType, report := jsondiff.Compare(finalizedJSON, confirmedJSON, &opts)

	writeJSON(w, http.StatusOK, map[string]string{
		"diff_type": diffType.String(),
		"report":    report,
	})
}
