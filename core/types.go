package core

// types.go declares the data model shared across the block processing
// pipeline: blocks, transactions, accounts and the state-diff record that
// makes block application reversible. Field shapes follow the canonical
// wire layout; helper methods only compute derived, content-addressed ids.

import (
	"encoding/hex"
)

// Address is a binary-safe account identifier. Hex is used only at
// external boundaries (RPC, logs).
type Address []byte

// Hex renders the address using lower-case hex, the textual form used at
// the RPC boundary.
func (a Address) Hex() string { return hex.EncodeToString(a) }

// String lets Address participate as a map key via its hex form without
// forcing callers to convert explicitly in logs.
func (a Address) String() string { return a.Hex() }

// ID is a content-addressed identifier for a block or transaction.
type ID []byte

// Hex renders the id using lower-case hex.
func (id ID) Hex() string { return hex.EncodeToString(id) }

func (id ID) key() string { return string(id) }

// Asset is a module-specific, schema-decoded payload carried inside a
// transaction or an account's module-scoped sub-object. It is kept as raw
// bytes at this layer; modules decode it against their own schema (§4.1,
// §4.7).
type Asset []byte

// BlockHeader carries everything about a block except its transaction
// payload. id is derived from the encoding of the header (§3).
type BlockHeader struct {
	Version          uint32   `json:"version"`
	Height           uint32   `json:"height"`
	Timestamp        uint32   `json:"timestamp"`
	PreviousBlockID  ID       `json:"previousBlockID"`
	GeneratorAddress Address  `json:"generatorAddress"`
	TransactionRoot  ID       `json:"transactionRoot"`
	StateRoot        ID       `json:"stateRoot"`
	Assets           [][]byte `json:"assets"`
	Signature        []byte   `json:"signature"`
}

// Block pairs a header with its ordered transaction payload. An empty
// payload is allowed.
type Block struct {
	Header  BlockHeader    `json:"header"`
	Payload []*Transaction `json:"payload"`
}

// ID computes the content address of the block header. Equal encodings
// produce equal ids (round-trip law of §4.1); the signature is included in
// the hashed bytes, matching the scheme used by `core/ledger.go`'s
// block-hash convention in the teacher repo.
func (b *Block) ID() (ID, error) {
	enc, err := EncodeBlockHeader(&b.Header)
	if err != nil {
		return nil, err
	}
	return Hash(enc), nil
}

// Transaction is a single state-mutating operation addressed to a module
// and one of its asset kinds.
type Transaction struct {
	ModuleID        uint32   `json:"moduleID"`
	AssetID         uint32   `json:"assetID"`
	Nonce           uint64   `json:"nonce"`
	Fee             uint64   `json:"fee"`
	SenderPublicKey []byte   `json:"senderPublicKey"`
	Signatures      [][]byte `json:"signatures"`
	Asset           Asset    `json:"asset"`
}

// ID computes the content address of the transaction.
func (tx *Transaction) ID() (ID, error) {
	enc, err := EncodeTransaction(tx)
	if err != nil {
		return nil, err
	}
	return Hash(enc), nil
}

// AccountKeys describes the multisignature policy attached to an account.
type AccountKeys struct {
	NumberOfSignatures uint32   `json:"numberOfSignatures"`
	MandatoryKeys      [][]byte `json:"mandatoryKeys"`
	OptionalKeys       [][]byte `json:"optionalKeys"`
}

// DPoSAsset is the module-scoped sub-object carried by an Account for the
// DPoS module: delegate registration and voting bookkeeping (§3).
type DPoSAsset struct {
	Username                string       `json:"username,omitempty"`
	PomHeights              []uint32     `json:"pomHeights,omitempty"`
	ConsecutiveMissedBlocks uint32       `json:"consecutiveMissedBlocks"`
	LastForgedHeight        uint32       `json:"lastForgedHeight"`
	IsBanned                bool         `json:"isBanned"`
	TotalVotesReceived      uint64       `json:"totalVotesReceived"`
	SentVotes               []Vote       `json:"sentVotes,omitempty"`
	Unlocking               []UnlockItem `json:"unlocking,omitempty"`
}

// Vote records stake a delegator has directed at a delegate.
type Vote struct {
	DelegateAddress Address `json:"delegateAddress"`
	Amount          uint64  `json:"amount"`
}

// UnlockItem tracks stake pending return to its owner after the unvote
// cooldown.
type UnlockItem struct {
	DelegateAddress Address `json:"delegateAddress"`
	Amount          uint64  `json:"amount"`
	UnvoteHeight    uint32  `json:"unvoteHeight"`
}

// Account is keyed by Address; that address is the account's sole identity
// invariant (§3).
type Account struct {
	Address Address     `json:"address"`
	Balance uint64      `json:"balance"`
	Nonce   uint64      `json:"nonce"`
	Keys    AccountKeys `json:"keys"`
	Asset   DPoSAsset   `json:"asset"`
}

// StateDiff is the minimal, invertible record of a block's mutation of the
// key space (§3, §4.3). Created keys are removed on revert; Updated and
// Deleted entries carry the pre-image value needed to restore the prior
// state exactly.
type StateDiff struct {
	Created []string       `json:"created"`
	Updated []KeyValue     `json:"updated"`
	Deleted []KeyValue     `json:"deleted"`
}

// KeyValue pairs a storage key with its pre-image value for reversible
// diff entries.
type KeyValue struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// ForkStatus is the sum type produced by fork-choice (§4.5). Use exhaustive
// switches over its values; never compare by string.
type ForkStatus int

const (
	ForkStatusUnknown ForkStatus = iota
	ForkStatusIdenticalBlock
	ForkStatusValidBlock
	ForkStatusDoubleForging
	ForkStatusTieBreak
	ForkStatusDifferentChain
	ForkStatusDiscard
)

func (s ForkStatus) String() string {
	switch s {
	case ForkStatusIdenticalBlock:
		return "IDENTICAL_BLOCK"
	case ForkStatusValidBlock:
		return "VALID_BLOCK"
	case ForkStatusDoubleForging:
		return "DOUBLE_FORGING"
	case ForkStatusTieBreak:
		return "TIE_BREAK"
	case ForkStatusDifferentChain:
		return "DIFFERENT_CHAIN"
	case ForkStatusDiscard:
		return "DISCARD"
	default:
		return "UNKNOWN"
	}
}
