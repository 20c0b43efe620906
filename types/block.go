package types

import "github.com/rensa-labs/rensa/crypto"

// Block is a single node in the fork tree (§3). StateRoot commits to the
// cumulative state diff produced by this block's transactions, per the
// scheme pinned in SPEC_FULL.md's Open Questions.
type Block struct {
	Height            uint64                `json:"height"`
	ParentHash        crypto.Hash           `json:"parent_hash"`
	Producer          crypto.Pubkey         `json:"producer"`
	StateRoot         crypto.Hash           `json:"state_root"`
	Timestamp         int64                 `json:"timestamp"`
	Slot              uint64                `json:"slot"`
	Transactions      []ExecutedTransaction `json:"transactions"`
	ProducerSignature []byte                `json:"producer_signature"`
}

// signingPreimage is the canonical encoding hashed for both ParentHash
// computation and producer-signature verification. It intentionally
// excludes ProducerSignature itself (a signature cannot sign over itself).
func (b Block) signingPreimage() []byte {
	parts := make([][]byte, 0, 6+4*len(b.Transactions))
	parts = append(parts,
		crypto.LE64(b.Height),
		b.ParentHash.Bytes(),
		b.Producer.Bytes(),
		b.StateRoot.Bytes(),
		crypto.LE64(uint64(b.Timestamp)),
		crypto.LE64(b.Slot),
	)
	for _, et := range b.Transactions {
		h := et.Transaction.Hash()
		parts = append(parts, h.Bytes(), crypto.LE32(uint32(et.Status)), et.Output)
	}
	var buf []byte
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// Hash is the block's canonical hash, used as ParentHash by its children
// and as the key it's stored under in the forest.
func (b Block) Hash() crypto.Hash {
	return crypto.Sum3(b.signingPreimage())
}

// SignedBy reports whether ProducerSignature verifies under Producer.
func (b Block) SignedBy(producer crypto.Pubkey) bool {
	return crypto.Verify(producer, b.signingPreimage(), b.ProducerSignature)
}

// Sign fills in ProducerSignature using the given producer keypair.
func (b *Block) Sign(kp crypto.Keypair) {
	b.ProducerSignature = kp.Sign(b.signingPreimage())
}

// Validator is a single entry in the genesis validator set.
type Validator struct {
	Pubkey crypto.Pubkey `json:"pubkey"`
	Stake  uint64        `json:"stake"`
}

// Vote justifies Target by pointing back to an earlier Justification,
// the FFG-style link described in §3.
type Vote struct {
	Target        crypto.Hash   `json:"target_hash"`
	Justification crypto.Hash   `json:"justification_hash"`
	Validator     crypto.Pubkey `json:"validator"`
	Signature     []byte        `json:"signature"`
}

func (v Vote) signingPreimage() []byte {
	return append(append([]byte{}, v.Target.Bytes()...), v.Justification.Bytes()...)
}

// Hash identifies a vote uniquely for mempool/gossip deduplication.
func (v Vote) Hash() crypto.Hash {
	return crypto.Sum3(v.signingPreimage(), v.Validator.Bytes())
}

// VerifySignature checks that Signature was produced by Validator over
// (Target, Justification).
func (v Vote) VerifySignature() bool {
	return crypto.Verify(v.Validator, v.signingPreimage(), v.Signature)
}

// Sign fills Signature using the voting validator's keypair.
func (v *Vote) Sign(kp crypto.Keypair) {
	v.Validator = kp.Public
	v.Signature = kp.Sign(v.signingPreimage())
}
