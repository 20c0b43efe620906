// Package rpc implements the HTTP/JSON interface described in spec.md
// §6: transaction submission, point lookups for transactions/accounts/
// blocks, and a chain-info summary, plus two operator-facing debug
// endpoints that exercise libraries the rest of the domain stack
// otherwise wouldn't reach (treeprint, jsondiff).
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rensa-labs/rensa/chain"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/mempool"
	"github.com/rensa-labs/rensa/storage"
	"github.com/rensa-labs/rensa/types"
)

// Ingestor is the subset of consensus.Driver the RPC server calls into,
// kept narrow so this package never needs to import consensus.
type Ingestor interface {
	SubmitTransaction(types.Transaction)
}

// Server exposes the node's external HTTP surface.
type Server struct {
	forest   *chain.Forest
	mempool  *mempool.Mempool
	history  *storage.History
	ingestor Ingestor
	mux      *http.ServeMux
}

func NewServer(forest *chain.Forest, mp *mempool.Mempool, history *storage.History, ingestor Ingestor) *Server {
	s := &Server{forest: forest, mempool: mp, history: history, ingestor: ingestor, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /transactions", s.handlePostTransactions)
	s.mux.HandleFunc("GET /transaction/{hash}", s.handleGetTransaction)
	s.mux.HandleFunc("GET /account/{addr}", s.handleGetAccount)
	s.mux.HandleFunc("GET /info", s.handleInfo)
	s.mux.HandleFunc("GET /block/{height}", s.handleGetBlock)
	s.mux.HandleFunc("GET /debug/forest", s.handleDebugForest)
	s.mux.HandleFunc("GET /debug/diff", s.handleDebugDiff)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(log.RPC, "encode response", "err", err)
	}
}

type txSubmitResult struct {
	TxHash string `json:"txhash"`
}

// handlePostTransactions implements "POST /transactions": body is an
// array of wire transactions; admission is structural+signature only
// (§4.8), full execution happens when a block includes it.
func (s *Server) handlePostTransactions(w http.ResponseWriter, r *http.Request) {
	var txs []types.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	results := make([]txSubmitResult, 0, len(txs))
	for _, tx := range txs {
		if err := mempool.Admit(tx); err != nil {
			results = append(results, txSubmitResult{TxHash: err.Error()})
			continue
		}
		s.ingestor.SubmitTransaction(tx)
		results = append(results, txSubmitResult{TxHash: "ok"})
	}
	writeJSON(w, http.StatusAccepted, results)
}

type transactionResponse struct {
	Block       uint64                    `json:"block"`
	Commitment  string                    `json:"commitment"`
	Hash        string                    `json:"hash"`
	Output      []byte                    `json:"output,omitempty"`
	Transaction types.ExecutedTransaction `json:"transaction"`
}

// handleGetTransaction implements "GET /transaction/{hash}", checking
// finalized history first, then any pending block still in the forest.
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := crypto.HashFromBase58(r.PathValue("hash"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if block, et, ok, err := s.history.TransactionByHash(hash); err == nil && ok {
		writeJSON(w, http.StatusOK, transactionResponse{
			Block: block.Height, Commitment: "finalized", Hash: hash.String(),
			Output: et.Output, Transaction: et,
		})
		return
	}

	for _, n := range s.forest.Nodes() {
		for _, et := range n.Block.Transactions {
			if et.Transaction.Hash() == hash {
				writeJSON(w, http.StatusOK, transactionResponse{
					Block: n.Block.Height, Commitment: n.Commitment.String(), Hash: hash.String(),
					Output: et.Output, Transaction: et,
				})
				return
			}
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

// handleGetAccount implements "GET /account/{addr}?commitment=confirmed|finalized".
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.PubkeyFromBase58(r.PathValue("addr"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	want := r.URL.Query().Get("commitment")
	if want == "" {
		want = "confirmed"
	}

	var target *chain.Node
	for _, n := range s.forest.Nodes() {
		if want == "finalized" && n.Commitment != chain.Finalized {
			continue
		}
		if want == "confirmed" && n.Commitment == chain.Pending {
			continue
		}
		if target == nil || n.Block.Height > target.Block.Height {
			target = n
		}
	}
	if target == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	acc, ok := target.Overlay.Get(addr)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acc})
}

type commitmentInfo struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// handleInfo implements "GET /info".
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var confirmed, finalized commitmentInfo
	for _, n := range s.forest.Nodes() {
		if n.Commitment == chain.Finalized && n.Block.Height >= finalized.Height {
			finalized = commitmentInfo{Height: n.Block.Height, Hash: n.Hash.String()}
		}
		if n.Commitment != chain.Pending && n.Block.Height >= confirmed.Height {
			confirmed = commitmentInfo{Height: n.Block.Height, Hash: n.Hash.String()}
		}
	}
	writeJSON(w, http.StatusOK, map[string]commitmentInfo{"confirmed": confirmed, "finalized": finalized})
}

// handleGetBlock implements "GET /block/{height}", finalized history
// first and falling through to the live forest for pending heights.
func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	var height uint64
	if _, err := fmt.Sscanf(r.PathValue("height"), "%d", &height); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid height"})
		return
	}
	if b, ok, err := s.history.BlockAtHeight(height); err == nil && ok {
		writeJSON(w, http.StatusOK, b)
		return
	}
	for _, n := range s.forest.Nodes() {
		if n.Block.Height == height {
			writeJSON(w, http.StatusOK, n.Block)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

// Close is a no-op placeholder for symmetry with other long-lived
// components; http.Server shutdown is owned by cmd/rensa.
func (s *Server) Close(_ context.Context) error { return nil }
