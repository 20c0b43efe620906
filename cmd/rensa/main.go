// Command rensa runs a single Rensa validator node: it loads a keypair
// and genesis file, opens its persistence layer, and starts the gossip
// listener, the consensus driver, and the HTTP RPC surface, per
// spec.md §6.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rensa-labs/rensa/chain"
	"github.com/rensa-labs/rensa/commitment"
	"github.com/rensa-labs/rensa/consensus"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/genesis"
	"github.com/rensa-labs/rensa/gossip"
	"github.com/rensa-labs/rensa/log"
	"github.com/rensa-labs/rensa/mempool"
	"github.com/rensa-labs/rensa/rpc"
	"github.com/rensa-labs/rensa/schedule"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/storage"
	"github.com/rensa-labs/rensa/telemetry"
	"github.com/rensa-labs/rensa/types"
	"github.com/rensa-labs/rensa/vm"
)

const (
	defaultMempoolCapacity = 10_000
	shutdownGrace          = 5 * time.Second
)

func main() {
	cfg := types.CommandConfig{}

	rootCmd := &cobra.Command{
		Use:   "rensa",
		Short: "Rensa proof-of-stake validator node",
		Long:  "Rensa participates in the replicated state machine: it gossips blocks, transactions and votes, proposes and votes per its stake-weighted slot schedule, and serves an HTTP/JSON RPC surface.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringVar(&cfg.KeypairBase58, "keypair", "", "base58 32-byte Ed25519 private key seed")
	rootCmd.Flags().StringVar(&cfg.GenesisPath, "genesis", "", "path to genesis.json")
	rootCmd.Flags().StringArrayVar(&cfg.Peers, "peer", nil, "peer address (ip:port), repeatable")
	rootCmd.Flags().IntVar(&cfg.RPCPort, "rpc", 8080, "HTTP RPC listen port")
	rootCmd.Flags().IntVar(&cfg.BlocksHistory, "blocks-history", 0, "number of finalized blocks to retain; parsed but not applied, all finalized blocks are kept")
	rootCmd.Flags().StringVar(&cfg.DataDir, "data-dir", "", "persistence directory (empty = in-memory)")
	rootCmd.Flags().StringVar(&cfg.LogLevel, "loglevel", "info", "log level: trace/debug/info/warn/error/crit")
	rootCmd.Flags().BoolVar(&cfg.LogJSON, "logjson", false, "emit structured JSON logs instead of terminal text")
	_ = rootCmd.MarkFlagRequired("keypair")
	_ = rootCmd.MarkFlagRequired("genesis")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg types.CommandConfig) error {
	log.InitLogger(cfg.LogLevel, cfg.LogJSON)

	seed, err := crypto.Base58Decode(cfg.KeypairBase58)
	if err != nil {
		return fmt.Errorf("decode --keypair: %w", err)
	}
	self, err := crypto.KeypairFromSeed(seed)
	if err != nil {
		return fmt.Errorf("derive keypair: %w", err)
	}

	g, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	kvPath := ""
	if cfg.DataDir != "" {
		kvPath = cfg.DataDir + "/state"
	}
	kv, err := storage.NewKVStore(kvPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer kv.Close()

	base := state.NewBase(kv)

	historyPath := ""
	if cfg.DataDir != "" {
		historyPath = cfg.DataDir + "/history"
	}
	historyKV, err := storage.NewKVStore(historyPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer historyKV.Close()
	history := storage.NewHistory(historyKV)

	// Only seed genesis accounts on a cold start. On restart the base
	// store already holds the chain's post-genesis state; reseeding
	// would stomp it back to height zero (§6 restart semantics).
	if _, recovered, err := history.Recover(); err != nil {
		return fmt.Errorf("recover history: %w", err)
	} else if !recovered {
		if err := genesis.SeedBase(g, base); err != nil {
			return fmt.Errorf("genesis mismatch with peers: %w", err)
		}
	}

	sched := schedule.New(g.ScheduleSeed(), g.Validators)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{ChainID: g.ChainID})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	engine, err := vm.NewWasmEngine(ctx)
	if err != nil {
		return fmt.Errorf("init wasm engine: %w", err)
	}
	defer engine.Close(ctx)
	resolver := vm.NewResolver(engine)

	forest := chain.NewForest(genesis.Block(g), base, sched, resolver, maxReorgDepth(g))

	mp := mempool.New(defaultMempoolCapacity)

	notifier := &finalityNotifier{history: history}
	commEngine := commitment.NewEngine(forest, sched, notifier)

	hub := gossip.NewHub(nil) // sink wired to the driver below
	driver := consensus.New(forest, commEngine, mp, sched, resolver, self, g, hub)
	hub.SetSink(driver)

	for _, peer := range cfg.Peers {
		if err := hub.Dial(peer); err != nil {
			log.Warn(log.Gossip, "failed to dial peer", "peer", peer, "err", err)
		}
	}

	server := rpc.NewServer(forest, mp, history, driver)
	mux := http.NewServeMux()
	mux.Handle("/", server)
	mux.HandleFunc("/gossip", hub.HandleUpgrade)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.RPCPort), Handler: mux}

	go func() {
		log.Info(log.RPC, "listening", "port", cfg.RPCPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(log.RPC, "http server error", "err", err)
		}
	}()

	log.Info(log.Consensus, "node started", "chain_id", g.ChainID, "validator", self.Public)
	driver.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func maxReorgDepth(g types.Genesis) uint64 {
	if g.MaxReorgDepth == 0 {
		return 64
	}
	return g.MaxReorgDepth
}

type finalityNotifier struct {
	history *storage.History
}

func (n *finalityNotifier) OnFinalized(block types.Block, votes []types.Vote, pruned []crypto.Hash) {
	if err := n.history.AppendFinalized(block); err != nil {
		log.Crit(log.Storage, "failed to append finalized block", "height", block.Height, "err", err)
		return
	}
	if err := n.history.AppendVotes(block.Hash(), votes); err != nil {
		log.Error(log.Storage, "failed to append finalization votes", "height", block.Height, "err", err)
	}
	log.Info(log.Commitment, "finality advanced", "height", block.Height, "pruned_branches", len(pruned))
}
