package core

// chain.go implements the chain module of §4.5/§4.6's data-access half: it
// holds the canonical tip, validates headers structurally, and exposes
// read-only access primitives. Mutation (save/delete) is exclusively
// reached through the Processor's job queue (§3 Ownership); Chain itself
// only wraps BlockStore with the tip bookkeeping and header checks.
// Generalizes `core/chain_fork_manager.go`'s tip tracking from the
// teacher's hybrid PoW/PoS scheme to the DPoS header checks of §4.6 step 2.

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
)

// Chain holds the canonical tip and provides block/transaction/account
// read access. All mutation happens through Processor.
type Chain struct {
	mu              sync.RWMutex
	kv              *KVStore
	blocks          *BlockStore
	tip             *Block
	tipID           ID
	finalizedHeight uint32
}

// NewChain loads the current tip (if any) from kv.
func NewChain(kv *KVStore) (*Chain, error) {
	bs := NewBlockStore(kv)
	c := &Chain{kv: kv, blocks: bs}
	fh, err := bs.FinalizedHeight()
	if err != nil {
		return nil, err
	}
	c.finalizedHeight = fh

	// Find the highest recorded height by scanning the height index; an
	// empty chain (pre-genesis) has no tip.
	gte, lte := prefixRange(prefixBlocksHeight)
	entries, err := c.kv.Range(gte, lte, RangeOptions{Reverse: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return c, nil
	}
	id := ID(entries[0].Value)
	block, err := c.loadBlock(id)
	if err != nil {
		return nil, err
	}
	c.tip = block
	c.tipID = id
	return c, nil
}

func (c *Chain) loadBlock(id ID) (*Block, error) {
	hdr, err := c.blocks.GetBlockHeaderByID(id)
	if err != nil {
		return nil, err
	}
	txs, err := c.blocks.GetBlockTransactions(id)
	if err != nil {
		return nil, err
	}
	return &Block{Header: *hdr, Payload: txs}, nil
}

// Tip returns the current chain tip, or nil before genesis is applied.
func (c *Chain) Tip() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// TipID returns the id of the current tip.
func (c *Chain) TipID() ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipID
}

// FinalizedHeight returns the greatest height BFT accounting has locked in.
func (c *Chain) FinalizedHeight() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalizedHeight
}

// VerifyBlockHeader performs the structural/consensus checks of §4.6 step
// 2: signature validity (only when the header carries a signature; an
// unsigned header passes this check), generator eligibility (an active,
// non-banned delegate) and transaction-root consistency. stateRoot is
// checked by the Processor after transaction application rather than here.
func (c *Chain) VerifyBlockHeader(block *Block, stateStore *StateStore) error {
	h := &block.Header

	sigMsg, err := EncodeBlockHeader(&BlockHeader{
		Version: h.Version, Height: h.Height, Timestamp: h.Timestamp,
		PreviousBlockID: h.PreviousBlockID, GeneratorAddress: h.GeneratorAddress,
		TransactionRoot: h.TransactionRoot, StateRoot: h.StateRoot, Assets: h.Assets,
	})
	if err != nil {
		return &ApplyPenaltyError{Reason: "header re-encode failed: " + err.Error(), Penalty: 100}
	}
	if len(h.Signature) > 0 && !VerifyBlockSignature(h.GeneratorAddress, h.Signature, sigMsg) {
		return NewApplyPenaltyError("invalid block signature")
	}

	expectedRoot := MerkleRoot(txIDsOf(block.Payload))
	if !bytes.Equal(expectedRoot, h.TransactionRoot) {
		return NewApplyPenaltyError("transaction root mismatch")
	}

	acc, err := stateStore.GetAccount(h.GeneratorAddress)
	if IsNotFound(err) {
		return NewApplyPenaltyError("generator is not a registered delegate")
	}
	if err != nil {
		return err
	}
	if acc.Asset.IsBanned {
		return NewApplyPenaltyError("generator is banned")
	}
	return nil
}

func txIDsOf(txs []*Transaction) []ID {
	ids := make([]ID, len(txs))
	for i, tx := range txs {
		id, err := tx.ID()
		if err != nil {
			logrus.WithError(err).Error("chain: failed to hash transaction for merkle root")
			continue
		}
		ids[i] = id
	}
	return ids
}

// SetTip is called by Processor after a successful save/delete to update
// the in-memory tip pointer atomically with the persisted state.
func (c *Chain) SetTip(block *Block, id ID, finalizedHeight uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tip = block
	c.tipID = id
	c.finalizedHeight = finalizedHeight
}

// Blocks exposes the underlying BlockStore for Processor's save/delete
// calls.
func (c *Chain) Blocks() *BlockStore { return c.blocks }

// GetBlockByHeight resolves the canonical block at height.
func (c *Chain) GetBlockByHeight(height uint32) (*Block, error) {
	id, err := c.blocks.GetBlockIDByHeight(height)
	if err != nil {
		return nil, err
	}
	return c.loadBlock(id)
}

// GetBlockByID resolves a block by content id.
func (c *Chain) GetBlockByID(id ID) (*Block, error) {
	return c.loadBlock(id)
}

// GetTransactionByID resolves a single transaction.
func (c *Chain) GetTransactionByID(id ID) (*Transaction, error) {
	return c.blocks.GetTransactionByID(id)
}

// GetAccount resolves an account directly from the committed KV state
// (not an in-flight overlay), for read-only Bus queries.
func (c *Chain) GetAccount(addr Address) (*Account, error) {
	view := NewStateStore(c.kv)
	defer view.Drop()
	return view.GetAccount(addr)
}
