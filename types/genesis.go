package types

import "github.com/rensa-labs/rensa/crypto"

// GenesisAccount seeds an account at startup (§6).
type GenesisAccount struct {
	Address    crypto.Pubkey `json:"address"`
	Owner      crypto.Pubkey `json:"owner"`
	Data       string        `json:"data"` // base58
	Executable bool          `json:"executable"`
}

// Genesis is the decoded genesis.json: protocol constants, the initial
// validator set and accounts, and the chain_id that (per SPEC_FULL.md)
// also pins the state-root hashing scheme in use.
type Genesis struct {
	ChainID          string           `json:"chain_id"`
	SlotDurationMS   uint64           `json:"slot_duration_ms"`
	MaxBlockSize     uint64           `json:"max_block_size"`
	MaxBlockGas      uint64           `json:"max_block_gas"`
	MaxReorgDepth    uint64           `json:"max_reorg_depth"`
	FeeLamports      uint64           `json:"fee_lamports"`
	GenesisTimestamp int64            `json:"genesis_timestamp"`
	Validators       []Validator      `json:"validators"`
	Accounts         []GenesisAccount `json:"accounts"`
}

// ScheduleSeed derives the deterministic seed for the validator schedule
// (§4.7) from the chain_id, so every node computes the same leader
// rotation without any additional coordination.
func (g Genesis) ScheduleSeed() crypto.Hash {
	return crypto.Sum3([]byte(g.ChainID))
}

// CommandConfig is the parsed shape of the CLI flags in §6: --keypair,
// --genesis, --peer (repeatable), --rpc, --blocks-history.
type CommandConfig struct {
	Help          bool
	DataDir       string
	KeypairBase58 string
	GenesisPath   string
	Peers         []string
	RPCPort       int
	BlocksHistory int
	LogLevel      string
	LogJSON       bool
}
