// Package schedule implements the deterministic, stake-weighted leader
// rotation described in spec.md §4.7: a pure function of slot number
// that every validator computes identically without further
// coordination.
package schedule

import (
	"sort"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/types"
)

// Schedule maps slot numbers to the validator owed that slot, and
// exposes each validator's stake weight for §4.6's confirmation math.
type Schedule struct {
	seed       crypto.Hash
	validators []types.Validator
	stakeOf    map[crypto.Pubkey]uint64
	total      uint64
}

// New builds a schedule from the genesis validator set and a seed
// (SPEC_FULL.md's Open Question 3: derived from the genesis chain_id via
// Genesis.ScheduleSeed). Validators are sorted by pubkey so every node
// builds an identical cumulative-stake table regardless of the order
// they appear in the genesis JSON.
func New(seed crypto.Hash, validators []types.Validator) *Schedule {
	sorted := append([]types.Validator{}, validators...)
	sort.Slice(sorted, func(i, j int) bool { return lessPubkey(sorted[i].Pubkey, sorted[j].Pubkey) })

	stakeOf := make(map[crypto.Pubkey]uint64, len(sorted))
	var total uint64
	for _, v := range sorted {
		stakeOf[v.Pubkey] += v.Stake
		total += v.Stake
	}
	return &Schedule{seed: seed, validators: sorted, stakeOf: stakeOf, total: total}
}

// Stake implements chain.StakeOf.
func (s *Schedule) Stake(validator crypto.Pubkey) uint64 { return s.stakeOf[validator] }

// TotalStake implements chain.StakeOf.
func (s *Schedule) TotalStake() uint64 { return s.total }

// LeaderForSlot implements the §4.7 stake-weighted round robin: hash the
// schedule seed with the slot index into a uniform uint64, then walk the
// validators in order, accumulating stake, until the point falls inside
// one validator's range. Deterministic and identical across every node that shares the
// same genesis (SPEC_FULL.md §4.7).
func (s *Schedule) LeaderForSlot(slot uint64) crypto.Pubkey {
	if s.total == 0 {
		return crypto.Pubkey{}
	}
	digest := crypto.Sum3(s.seed.Bytes(), crypto.LE64(slot))
	point := uniformUint64(digest) % s.total

	var cumulative uint64
	for _, v := range s.validators {
		cumulative += v.Stake
		if point < cumulative {
			return v.Pubkey
		}
	}
	// Unreachable if total was computed correctly, but fall back to the
	// last validator rather than the zero key.
	return s.validators[len(s.validators)-1].Pubkey
}

// SlotAt returns the slot number covering the given unix-millisecond
// timestamp, given genesis's timestamp and slot duration (§4.7: "Slot
// duration is a protocol constant").
func SlotAt(nowMS int64, genesisMS int64, slotDurationMS uint64) uint64 {
	if nowMS <= genesisMS || slotDurationMS == 0 {
		return 0
	}
	return uint64(nowMS-genesisMS) / slotDurationMS
}

func uniformUint64(h crypto.Hash) uint64 {
	b := h.Bytes()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func lessPubkey(a, b crypto.Pubkey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
