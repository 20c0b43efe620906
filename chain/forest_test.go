package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/state"
	"github.com/rensa-labs/rensa/storage"
	"github.com/rensa-labs/rensa/txerrors"
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

func newTestForest(t *testing.T, producer crypto.Keypair) (*Forest, types.Block) {
	t.Helper()
	kv, err := storage.NewKVStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	base := state.NewBase(kv)

	genesisBlock := types.Block{Height: 0}
	forest := NewForest(genesisBlock, base, stubSchedule{leader: producer.Public}, nil, 64)
	return forest, genesisBlock
}

// childBlock builds a transaction-free child of parent, whose recomputed
// state root must equal the parent's own (reexecute folds nothing), and
// signs it with producer.
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

func TestInsertBlockUnknownParent(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	orphan := childBlock(genesisBlock, producer, 1)
	orphan.ParentHash = crypto.Sum3([]byte("nonexistent"))
	orphan.Sign(producer)

	_, err = forest.InsertBlock(orphan)
	require.ErrorIs(t, err, txerrors.ErrUnknownParent)
}

func TestInsertBlockRejectsBadProducerSignature(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	b := childBlock(genesisBlock, producer, 1)
	b.ProducerSignature[0] ^= 0xFF

	_, err = forest.InsertBlock(b)
	require.ErrorIs(t, err, txerrors.ErrBadProducerSig)
}

func TestInsertBlockRejectsWrongLeader(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	impostor, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer) // schedule says producer leads every slot

	b := childBlock(genesisBlock, impostor, 1)
	_, err = forest.InsertBlock(b)
	require.ErrorIs(t, err, txerrors.ErrNotLeaderForSlot)
}

func TestInsertBlockRejectsStateRootMismatch(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	b := childBlock(genesisBlock, producer, 1)
	b.StateRoot = crypto.Sum3([]byte("wrong root"))
	b.Sign(producer)

	_, err = forest.InsertBlock(b)
	require.ErrorIs(t, err, txerrors.ErrStateRootMismatch)
}

func TestInsertBlockSuccessLinksChild(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	b := childBlock(genesisBlock, producer, 1)
	node, err := forest.InsertBlock(b)
	require.NoError(t, err)
	require.Equal(t, b.Hash(), node.Hash)

	root, ok := forest.Node(genesisBlock.Hash())
	require.True(t, ok)
	require.Contains(t, root.Children, b.Hash())
}

func TestInsertBlockRejectsDuplicateHash(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	b := childBlock(genesisBlock, producer, 1)
	_, err = forest.InsertBlock(b)
	require.NoError(t, err)

	_, err = forest.InsertBlock(b)
	require.ErrorIs(t, err, txerrors.ErrDuplicateBlockHash)
}

func TestTipPrefersGreaterStake(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	branchA := childBlock(genesisBlock, producer, 1)
	_, err = forest.InsertBlock(branchA)
	require.NoError(t, err)

	branchB := childBlock(genesisBlock, producer, 2)
	branchB.Timestamp = 1 // perturb hash vs branchA without affecting validity
	branchB.Sign(producer)
	_, err = forest.InsertBlock(branchB)
	require.NoError(t, err)

	validatorA, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	voteA := types.Vote{Target: branchA.Hash(), Justification: genesisBlock.Hash()}
	voteA.Sign(validatorA)
	require.NoError(t, forest.InsertVote(voteA, stubStake{byValidator: map[crypto.Pubkey]uint64{validatorA.Public: 100}}))

	tip := forest.Tip(stubStake{byValidator: map[crypto.Pubkey]uint64{validatorA.Public: 100}})
	require.Equal(t, branchA.Hash(), tip, "branch with more direct-vote stake must win fork choice")
}

// TestTipGHOSTPrefersDirectChildWeightNotPathSum builds a shallow branch
// with more direct votes against a deeper branch whose every node
// inherits the same single vote's subtree weight. A root-to-leaf
// path-sum fork-choice would prefer the deep chain (its per-node
// weight is counted once per ancestor); true GHOST compares only
// root's direct children and must pick the shallow one.
func TestTipGHOSTPrefersDirectChildWeightNotPathSum(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	shallow := childBlock(genesisBlock, producer, 1)
	_, err = forest.InsertBlock(shallow)
	require.NoError(t, err)

	deep1 := childBlock(genesisBlock, producer, 2)
	deep1.Timestamp = 1
	deep1.Sign(producer)
	_, err = forest.InsertBlock(deep1)
	require.NoError(t, err)

	deep2 := childBlock(deep1, producer, 3)
	_, err = forest.InsertBlock(deep2)
	require.NoError(t, err)

	deep3 := childBlock(deep2, producer, 4)
	_, err = forest.InsertBlock(deep3)
	require.NoError(t, err)

	deep4 := childBlock(deep3, producer, 5)
	_, err = forest.InsertBlock(deep4)
	require.NoError(t, err)

	shallowVoter, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	deepVoter, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	stake := stubStake{byValidator: map[crypto.Pubkey]uint64{
		shallowVoter.Public: 10,
		deepVoter.Public:    9,
	}}

	voteShallow := types.Vote{Target: shallow.Hash(), Justification: genesisBlock.Hash()}
	voteShallow.Sign(shallowVoter)
	require.NoError(t, forest.InsertVote(voteShallow, stake))

	voteDeep := types.Vote{Target: deep4.Hash(), Justification: genesisBlock.Hash()}
	voteDeep.Sign(deepVoter)
	require.NoError(t, forest.InsertVote(voteDeep, stake))

	tip := forest.Tip(stake)
	require.Equal(t, shallow.Hash(), tip, "GHOST must compare root's direct children, not root-to-leaf stake sums")
}

func TestInsertVoteDiscardsEquivocation(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	branchA := childBlock(genesisBlock, producer, 1)
	_, err = forest.InsertBlock(branchA)
	require.NoError(t, err)
	branchB := childBlock(genesisBlock, producer, 2)
	branchB.Timestamp = 1
	branchB.Sign(producer)
	_, err = forest.InsertBlock(branchB)
	require.NoError(t, err)

	validator, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	stake := stubStake{byValidator: map[crypto.Pubkey]uint64{validator.Public: 50}}

	voteA := types.Vote{Target: branchA.Hash(), Justification: genesisBlock.Hash()}
	voteA.Sign(validator)
	require.NoError(t, forest.InsertVote(voteA, stake))

	voteB := types.Vote{Target: branchB.Hash(), Justification: genesisBlock.Hash()}
	voteB.Sign(validator)
	err = forest.InsertVote(voteB, stake)
	require.ErrorIs(t, err, txerrors.ErrEquivocatingVote)

	require.Equal(t, uint64(50), forest.CumulativeStake(branchA.Hash(), stake))
	require.Equal(t, uint64(0), forest.CumulativeStake(branchB.Hash(), stake))
}

func TestFinalizePromotesPathAndPrunesSiblings(t *testing.T) {
	producer, err := crypto.GenerateKeypair(nil)
	require.NoError(t, err)
	forest, genesisBlock := newTestForest(t, producer)

	keep := childBlock(genesisBlock, producer, 1)
	_, err = forest.InsertBlock(keep)
	require.NoError(t, err)

	sibling := childBlock(genesisBlock, producer, 2)
	sibling.Timestamp = 1
	sibling.Sign(producer)
	_, err = forest.InsertBlock(sibling)
	require.NoError(t, err)

	pruned, err := forest.Finalize(keep.Hash())
	require.NoError(t, err)
	require.Contains(t, pruned, sibling.Hash())

	require.Equal(t, keep.Hash(), forest.Root())
	_, stillThere := forest.Node(sibling.Hash())
	require.False(t, stillThere)

	// The superseded root must also be gone: the forest stays rooted at
	// only the most recently finalized block, not accumulate every past
	// root as a zombie node.
	_, oldRootStillThere := forest.Node(genesisBlock.Hash())
	require.False(t, oldRootStillThere)
	require.Len(t, forest.Nodes(), 1)
}
