// Package gossip is the overlay transport external collaborator spec.md
// §1 scopes out of the core: it moves Block/Vote/Transaction messages
// between peers over WebSocket connections (github.com/gorilla/websocket,
// the transport this codebase's ancestry already depends on), with no
// peer discovery or transport encryption (explicit non-goals, §1).
package gossip

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/types"
)

// Sink is the consensus driver's ingestion surface: gossip only ever
// decodes envelopes and hands them off, it never touches the forest or
// mempool directly.
type Sink interface {
	SubmitBlock(types.Block)
	SubmitVote(types.Vote)
	SubmitTransaction(types.Transaction)
}

// messageType tags the payload carried by an envelope.
type messageType string

const (
	msgBlock       messageType = "block"
	msgVote        messageType = "vote"
	msgTransaction messageType = "transaction"
)

type envelope struct {
	Type    messageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans outgoing messages to every connected peer and accepts
// incoming connections (both inbound listeners and outbound dials to
// --peer addresses land in the same peer set).
type Hub struct {
	sink Sink

	mu    sync.Mutex
	peers map[*websocket.Conn]struct{}
}

func NewHub(sink Sink) *Hub {
	return &Hub{sink: sink, peers: make(map[*websocket.Conn]struct{})}
}

// SetSink wires the consensus driver in after both it and the hub have
// been constructed, breaking the hub<->driver construction cycle (the
// driver needs the hub as its Broadcaster, the hub needs the driver as
// its Sink).
func (h *Hub) SetSink(sink Sink) { h.sink = sink }

// HandleUpgrade accepts an inbound WebSocket connection on the node's
// gossip listener.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.Gossip, "upgrade failed", "err", err)
		return
	}
	h.addPeer(conn)
}

// Dial connects outward to a peer given on the CLI via --peer, per §6.
func (h *Hub) Dial(addr string) error {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/gossip", nil)
	if err != nil {
		return err
	}
	h.addPeer(conn)
	return nil
}

func (h *Hub) addPeer(conn *websocket.Conn) {
	h.mu.Lock()
	h.peers[conn] = struct{}{}
	h.mu.Unlock()
	go h.readLoop(conn)
}

// readLoop processes messages from a single peer in arrival order,
// preserving the per-peer ordering guarantee spec.md §5 requires: a
// dedicated goroutine per connection, never fanned out across workers.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.dropPeer(conn)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug(log.Gossip, "peer disconnected", "err", err)
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn(log.Gossip, "malformed envelope", "err", err)
			continue
		}
		h.dispatch(env)
	}
}

func (h *Hub) dispatch(env envelope) {
	if h.sink == nil {
		return
	}
	switch env.Type {
	case msgBlock:
		var b types.Block
		if err := json.Unmarshal(env.Payload, &b); err == nil {
			h.sink.SubmitBlock(b)
		}
	case msgVote:
		var v types.Vote
		if err := json.Unmarshal(env.Payload, &v); err == nil {
			h.sink.SubmitVote(v)
		}
	case msgTransaction:
		var tx types.Transaction
		if err := json.Unmarshal(env.Payload, &tx); err == nil {
			h.sink.SubmitTransaction(tx)
		}
	default:
		log.Warn(log.Gossip, "unknown envelope type", "type", env.Type)
	}
}

func (h *Hub) dropPeer(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.peers, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// BroadcastBlock implements consensus.Broadcaster.
func (h *Hub) BroadcastBlock(b types.Block) { h.broadcast(msgBlock, b) }

// BroadcastVote implements consensus.Broadcaster.
func (h *Hub) BroadcastVote(v types.Vote) { h.broadcast(msgVote, v) }

// BroadcastTransaction re-gossips a transaction received over RPC.
func (h *Hub) BroadcastTransaction(tx types.Transaction) { h.broadcast(msgTransaction, tx) }

func (h *Hub) broadcast(t messageType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error(log.Gossip, "marshal broadcast payload", "err", err)
		return
	}
	env, err := json.Marshal(envelope{Type: t, Payload: raw})
	if err != nil {
		log.Error(log.Gossip, "marshal envelope", "err", err)
		return
	}

	h.mu.Lock()
	peers := make([]*websocket.Conn, 0, len(h.peers))
	for c := range h.peers {
		peers = append(peers, c)
	}
	h.mu.Unlock()

	// Fan the write out to every peer concurrently: one slow or wedged
	// connection must not delay delivery to the rest of the mesh.
	var g errgroup.Group
	for _, c := range peers {
		c := c
		g.Go(func() error {
			c.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.WriteMessage(websocket.TextMessage, env); err != nil {
				log.Debug(log.Gossip, "broadcast write failed", "err", err)
				h.dropPeer(c)
			}
			return nil
		})
	}
	_ = g.Wait()
}
