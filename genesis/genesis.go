// Package genesis decodes the genesis.json file described in spec.md
// §6 (protocol constants, initial validator set, initial accounts,
// chain_id) and seeds the base account store and genesis block the rest
// of the node bootstraps from.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/types"
)

// Load parses the genesis file at path.
func Load(path string) (types.Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Genesis{}, fmt.Errorf("read genesis %q: %w", path, err)
	}
	var g types.Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return types.Genesis{}, fmt.Errorf("parse genesis %q: %w", path, err)
	}
	if err := validate(g); err != nil {
		return types.Genesis{}, fmt.Errorf("invalid genesis %q: %w", path, err)
	}
	return g, nil
}

func validate(g types.Genesis) error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if len(g.Validators) == 0 {
		return fmt.Errorf("at least one validator is required")
	}
	if g.SlotDurationMS == 0 {
		return fmt.Errorf("slot_duration_ms must be nonzero")
	}
	seen := make(map[crypto.Pubkey]bool, len(g.Validators))
	for _, v := range g.Validators {
		if seen[v.Pubkey] {
			return fmt.Errorf("duplicate validator %s", v.Pubkey)
		}
		seen[v.Pubkey] = true
		if v.Stake == 0 {
			return fmt.Errorf("validator %s has zero stake", v.Pubkey)
		}
	}
	return nil
}

// SeedBase writes every genesis account into the base store, decoding
// each account's base58 Data field (§6: "initial accounts
// [{address, owner, data (base58), executable}]").
func SeedBase(g types.Genesis, base *state.Base) error {
	for _, ga := range g.Accounts {
		data, err := crypto.Base58Decode(ga.Data)
		if err != nil {
			return fmt.Errorf("decode data for account %s: %w", ga.Address, err)
		}
		acc := types.Account{Owner: ga.Owner, Data: data, Executable: ga.Executable}
		if err := base.Put(ga.Address, acc); err != nil {
			return fmt.Errorf("seed account %s: %w", ga.Address, err)
		}
	}
	return nil
}

// Block constructs the genesis block itself: height 0, no parent, no
// transactions, a zero state root (nothing has executed yet) and signed
// by no one in particular — peers accept it by chain_id agreement, not
// by verifying a producer signature (there is no producer for genesis).
func Block(g types.Genesis) types.Block {
	return types.Block{
		Height:    0,
		Timestamp: g.GenesisTimestamp,
		StateRoot: crypto.Hash{},
	}
}
