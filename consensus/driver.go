// Package consensus implements the single logical driver loop described
// in spec.md §4.8: drain gossip into the forest/mempool, produce a
// block when we're the scheduled leader, vote for newly-inserted blocks
// on the fork-choice branch, and advance finality.
package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/rensa-labs/rensa/chain"
	"github.com/rensa-labs/rensa/commitment"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/executor"
	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/mempool"
	"github.com/rensa-labs/rensa/schedule"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// Broadcaster is the gossip transport's publish surface, an external
// collaborator per spec.md §1: the driver never knows how a message
// reaches peers, only that it was handed off.
type Broadcaster interface {
	BroadcastBlock(types.Block)
	BroadcastVote(types.Vote)
}

// Driver is the single-goroutine event loop tying C5 (forest), C6
// (commitment), C7 (schedule) and the mempool together.
type Driver struct {
	forest   *chain.Forest
	engine   *commitment.Engine
	mempool  *mempool.Mempool
	schedule *schedule.Schedule
	resolver executor.ContractResolver
	self     crypto.Keypair
	genesis  types.Genesis
	bcast    Broadcaster

	blocks txCh
	votes  voteCh
	txs    txIngestCh

	lastVotedBranch crypto.Hash
	maxBlockTxs     int
}

type txCh chan types.Block
type voteCh chan types.Vote
type txIngestCh chan types.Transaction

// New builds a Driver. bcast may be nil for a node running without a
// live gossip transport (tests, single-node devnets).
func New(forest *chain.Forest, engine *commitment.Engine, mp *mempool.Mempool, sched *schedule.Schedule, resolver executor.ContractResolver, self crypto.Keypair, genesis types.Genesis, bcast Broadcaster) *Driver {
	return &Driver{
		forest:      forest,
		engine:      engine,
		mempool:     mp,
		schedule:    sched,
		resolver:    resolver,
		self:        self,
		genesis:     genesis,
		bcast:       bcast,
		blocks:      make(txCh, 256),
		votes:       make(voteCh, 256),
		txs:         make(txIngestCh, 1024),
		maxBlockTxs: 512,
	}
}

// SubmitBlock queues a gossiped block for processing by the driver
// loop. Messages from a given peer are expected to be fed in arrival
// order (§5); this channel preserves that as long as the caller does.
func (d *Driver) SubmitBlock(b types.Block) { d.blocks <- b }

// SubmitVote queues a gossiped vote.
func (d *Driver) SubmitVote(v types.Vote) { d.votes <- v }

// SubmitTransaction queues an incoming transaction (from RPC or gossip)
// for mempool admission.
func (d *Driver) SubmitTransaction(tx types.Transaction) { d.txs <- tx }

// Run is the driver's single event loop. It exits when ctx is canceled.
// Long-running per-message work (signature checks, re-execution) happens
// synchronously here; spec.md §5 only requires that fork-choice,
// commitment and state-root checks execute atomically without
// suspension, which a single goroutine trivially satisfies.
func (d *Driver) Run(ctx context.Context) {
	slotDuration := time.Duration(d.genesis.SlotDurationMS) * time.Millisecond
	if slotDuration <= 0 {
		slotDuration = time.Second
	}
	ticker := time.NewTicker(slotDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info(log.Consensus, "driver stopping")
			return
		case b := <-d.blocks:
			d.handleBlock(b)
		case v := <-d.votes:
			d.handleVote(v)
		case tx := <-d.txs:
			d.handleTransaction(tx)
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Driver) handleTransaction(tx types.Transaction) {
	if err := d.mempool.Add(tx); err != nil {
		log.Debug(log.Mempool, "rejected transaction", "hash", tx.Hash(), "err", err)
	}
}

func (d *Driver) handleBlock(b types.Block) {
	node, err := d.forest.InsertBlock(b)
	if err != nil {
		log.Warn(log.Consensus, "rejected block", "height", b.Height, "err", err)
		return
	}
	d.maybeVoteFor(node.Hash)
	d.engine.Evaluate()
}

func (d *Driver) handleVote(v types.Vote) {
	if err := d.forest.InsertVote(v, d.schedule); err != nil {
		log.Debug(log.Consensus, "dropped vote", "validator", v.Validator, "err", err)
		return
	}
	d.engine.Evaluate()
}

// tick runs one slot's worth of driver work: if we're the scheduled
// leader, assemble and broadcast a block; in any case, vote for the
// current fork-choice tip if we haven't already (§4.8 steps 2-3).
func (d *Driver) tick() {
	slot := schedule.SlotAt(nowMS(), d.genesis.GenesisTimestamp, d.genesis.SlotDurationMS)
	leader := d.schedule.LeaderForSlot(slot)

	if leader == d.self.Public {
		if err := d.produceBlock(slot); err != nil {
			log.Error(log.Consensus, "block production failed", "slot", slot, "err", err)
		}
	}

	tip := d.forest.Tip(d.schedule)
	d.maybeVoteFor(tip)
}

// produceBlock implements §4.8 step 2: drain the mempool (deduplicated,
// capped), execute sequentially against the fork-choice tip, sign and
// broadcast.
func (d *Driver) produceBlock(slot uint64) error {
	d.mempool.EvictStale(nonceSourceFunc(func(payer crypto.Pubkey) uint64 {
		acc, ok := tipOverlay(d.forest, d.schedule).Get(payer)
		if !ok {
			return 0
		}
		return acc.Nonce
	}))

	tipHash := d.forest.Tip(d.schedule)
	tipNode, ok := d.forest.Node(tipHash)
	if !ok {
		return fmt.Errorf("fork-choice tip %s not found", tipHash)
	}

	pending := d.mempool.Drain(d.maxBlockTxs)
	overlay := state.NewOverlay(tipNode.Overlay)

	executed := make([]types.ExecutedTransaction, 0, len(pending))
	root := tipNode.Block.StateRoot
	for _, tx := range pending {
		outcome := executor.Execute(tx, overlay, d.resolver)
		status := types.TxOk
		reason := ""
		if outcome.Err != nil {
			status = types.TxFailed
			reason = outcome.Err.Error()
		}
		executed = append(executed, types.ExecutedTransaction{
			Transaction: tx,
			Status:      status,
			Output:      outcome.Output,
			ErrorReason: reason,
		})
		root = chain.StateRootStep(root, tx.Hash(), status, outcome.Touched, overlay)
	}

	block := types.Block{
		Height:       tipNode.Block.Height + 1,
		ParentHash:   tipHash,
		Producer:     d.self.Public,
		StateRoot:    root,
		Timestamp:    time.Now().UnixMilli(),
		Slot:         slot,
		Transactions: executed,
	}
	block.Sign(d.self)

	node, err := d.forest.InsertBlock(block)
	if err != nil {
		return fmt.Errorf("insert own block: %w", err)
	}
	log.Info(log.Consensus, "produced block", "height", block.Height, "hash", node.Hash, "txs", len(executed))
	if d.bcast != nil {
		d.bcast.BroadcastBlock(block)
	}
	d.maybeVoteFor(node.Hash)
	return nil
}

// maybeVoteFor emits a vote for hash if it's the current fork-choice tip
// and we haven't already voted for this branch (§4.8 step 3).
func (d *Driver) maybeVoteFor(hash crypto.Hash) {
	if hash == d.lastVotedBranch {
		return
	}
	if d.forest.Tip(d.schedule) != hash {
		return
	}
	node, ok := d.forest.Node(hash)
	if !ok {
		return
	}
	vote := types.Vote{Target: hash, Justification: d.forest.Root()}
	vote.Sign(d.self)

	if err := d.forest.InsertVote(vote, d.schedule); err != nil {
		log.Debug(log.Consensus, "own vote rejected", "err", err)
		return
	}
	d.lastVotedBranch = hash
	log.Info(log.Consensus, "voted", "height", node.Block.Height, "target", hash)
	if d.bcast != nil {
		d.bcast.BroadcastVote(vote)
	}
	d.engine.Evaluate()
}

type nonceSourceFunc func(crypto.Pubkey) uint64

func (f nonceSourceFunc) Nonce(payer crypto.Pubkey) uint64 { return f(payer) }

func tipOverlay(f *chain.Forest, sched *schedule.Schedule) *state.Overlay {
	tip := f.Tip(sched)
	node, ok := f.Node(tip)
	if !ok {
		return state.NewOverlay(nil)
	}
	return node.Overlay
}

func nowMS() int64 { return time.Now().UnixMilli() }
