package types

import "github.com/rensa-labs/rensa/crypto"

// AccountMeta declares one account a transaction touches, and under what
// access mode (§3).
type AccountMeta struct {
	Address  crypto.Pubkey `json:"address"`
	Signer   bool          `json:"signer"`
	Writable bool          `json:"writable"`
}

// Transaction is the unit of state mutation. The payer covers fees
// (unenforced, see SPEC_FULL.md Open Questions) and always signs; nonce
// is the payer's strictly-monotonic next expected nonce.
type Transaction struct {
	Contract   crypto.Pubkey `json:"contract"`
	Nonce      uint64        `json:"nonce"`
	Payer      crypto.Pubkey `json:"payer"`
	Accounts   []AccountMeta `json:"accounts"`
	Params     []byte        `json:"params"`
	Signatures [][]byte      `json:"signatures"`
}

// Hash computes the canonical transaction hash defined in §3:
//
//	SHA3-256(contract ‖ nonce_le_u64 ‖ payer ‖
//	          for each account: (address ‖ writable_byte ‖ signer_byte) ‖
//	          params)
//
// Signatures sign this hash exactly, in the order payer-then-signer-accounts.
func (t Transaction) Hash() crypto.Hash {
	parts := make([][]byte, 0, 4+3*len(t.Accounts))
	parts = append(parts, t.Contract.Bytes(), crypto.LE64(t.Nonce), t.Payer.Bytes())
	for _, a := range t.Accounts {
		parts = append(parts, a.Address.Bytes(), crypto.Bool1(a.Writable), crypto.Bool1(a.Signer))
	}
	parts = append(parts, t.Params)
	return crypto.Sum3(parts...)
}

// SignerPubkeys returns, in order, the pubkeys expected to have produced
// Signatures: the payer first, then every account marked Signer in
// declaration order.
func (t Transaction) SignerPubkeys() []crypto.Pubkey {
	out := make([]crypto.Pubkey, 0, 1+len(t.Accounts))
	out = append(out, t.Payer)
	for _, a := range t.Accounts {
		if a.Signer {
			out = append(out, a.Address)
		}
	}
	return out
}

// Sign produces the Signatures slice for this transaction given the
// keypairs of the payer and every signer account, in the same order
// SignerPubkeys returns them.
func Sign(tx Transaction, signers []crypto.Keypair) ([][]byte, error) {
	h := tx.Hash()
	sigs := make([][]byte, len(signers))
	for i, kp := range signers {
		sigs[i] = kp.Sign(h.Bytes())
	}
	return sigs, nil
}

// TxStatus is the final disposition of a transaction included in a block.
type TxStatus uint8

const (
	TxOk TxStatus = iota
	TxFailed
)

// ExecutedTransaction pairs a transaction with its on-chain outcome, as
// stored in a block and surfaced by GET /transaction/{hash}.
type ExecutedTransaction struct {
	Transaction Transaction `json:"transaction"`
	Status      TxStatus    `json:"status"`
	Output      []byte      `json:"output,omitempty"`
	ErrorReason string      `json:"error,omitempty"`
}
