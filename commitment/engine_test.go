package commitment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rensa-labs/rensa/chain"
	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/storage"
	"github.com/rensa-labs/rensa/types"
)

type stubSchedule struct{ leader crypto.Pubkey }

func (s stubSchedule) LeaderForSlot(slot uint64) crypto.Pubkey { return s.leader }

type stubStake struct{ byValidator map[crypto.Pubkey]uint64 }

func (s stubStake) Stake(v crypto.Pubkey) uint64 { return s.byValidator[v] }
func (s stubStake) TotalStake() uint64 {
	var total uint64
	for _, v := range s.byValidator {
		total += v
	}
	return total
}

type recordingNotifier struct {
	finalized []types.Block
}

func (n *recordingNotifier) OnFinalized(block types.Block, votes []types.Vote, pruned []crypto.Hash) {
	n.finalized = append(n.finalized, block)
}

func childBlock(parent types.Block, producer crypto.Keypair, slot uint64) types.Block {
	b := types.Block{
		Height:     parent.Height + 1,
		ParentHash: parent.Hash(),
		Producer:   producer.Public,
		StateRoot:  parent.StateRoot,
		Slot:       slot,
	}
	b.Sign(producer)
	return b
}

func vote(target, justification crypto.Hash, kp crypto.Keypair) types.Vote {
	v := types.Vote{Target: target, Justification: justification}
	v.Sign(kp)
	return v
}

func TestEvaluateConfirmsAndFinalizesAncestorWithLaterDescendant(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	kv, err := storage.NewKVStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	base := state.NewBase(kv)

	genesisBlock := types.Block{Height: 0}
	forest := chain.NewForest(genesisBlock, base, stubSchedule{leader: producer.Public}, nil, 64)

	blockA := childBlock(genesisBlock, producer, 1)
	_, err = forest.InsertBlock(blockA)
	require.NoError(t, err)
	blockB := childBlock(blockA, producer, 2)
	_, err = forest.InsertBlock(blockB)
	require.NoError(t, err)

	v1, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	v2, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	stakeOf := stubStake{byValidator: map[crypto.Pubkey]uint64{v1.Public: 40, v2.Public: 40, producer.Public: 20}}

	require.NoError(t, forest.InsertVote(vote(blockB.Hash(), genesisBlock.Hash(), v1), stakeOf))
	require.NoError(t, forest.InsertVote(vote(blockB.Hash(), genesisBlock.Hash(), v2), stakeOf))

	notifier := &recordingNotifier{}
	engine := NewEngine(forest, stakeOf, notifier)
	engine.Evaluate()

	require.Len(t, notifier.finalized, 1)
	require.Equal(t, blockA.Hash(), notifier.finalized[0].Hash())
	require.Equal(t, blockA.Hash(), forest.Root())

	nodeA, ok := forest.Node(blockA.Hash())
	require.True(t, ok)
	require.Equal(t, chain.Finalized, nodeA.Commitment)
}

func TestEvaluateDoesNothingBelowThreshold(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)

	kv, err := storage.NewKVStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	base := state.NewBase(kv)

	genesisBlock := types.Block{Height: 0}
	forest := chain.NewForest(genesisBlock, base, stubSchedule{leader: producer.Public}, nil, 64)

	blockA := childBlock(genesisBlock, producer, 1)
	_, err = forest.InsertBlock(blockA)
	require.NoError(t, err)

	v1, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	stakeOf := stubStake{byValidator: map[crypto.Pubkey]uint64{v1.Public: 10, producer.Public: 90}}
	require.NoError(t, forest.InsertVote(vote(blockA.Hash(), genesisBlock.Hash(), v1), stakeOf))

	notifier := &recordingNotifier{}
	engine := NewEngine(forest, stakeOf, notifier)
	engine.Evaluate()

	require.Empty(t, notifier.finalized)
	require.Equal(t, genesisBlock.Hash(), forest.Root())
}
