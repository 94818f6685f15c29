package core

// blockstore.go implements block storage (§4.4): persisting headers,
// transaction payloads, forward/reverse indexes, the temp-block buffer and
// per-height state diffs, with atomic saveBlock/deleteBlock that keep the
// whole operation reversible. Generalizes the teacher's WAL-replay save
// path (`core/ledger.go`) and rollback bookkeeping (`core/replication.go`)
// onto the KV store's batch primitive instead of an append-only WAL file.

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"
)

// tempBlockRetention bounds the TEMPBLOCKS buffer (§9 Open Question
// decision: capped, not unbounded) so a long string of rolled-back blocks
// cannot grow disk usage without limit while the synchronizer re-attempts
// them.
const tempBlockRetention = 16

// BlockStore owns the on-disk representation of blocks, transactions and
// state diffs.
type BlockStore struct {
	kv *KVStore
}

// NewBlockStore wraps kv with the block/transaction/diff layout of §3.
func NewBlockStore(kv *KVStore) *BlockStore { return &BlockStore{kv: kv} }

type encodedBlock struct {
	Header []byte
	Payload [][]byte
}

func encodeFullBlock(b *Block) ([]byte, error) {
	hdr, err := EncodeBlockHeader(&b.Header)
	if err != nil {
		return nil, err
	}
	payload := make([][]byte, len(b.Payload))
	for i, tx := range b.Payload {
		enc, err := EncodeTransaction(tx)
		if err != nil {
			return nil, err
		}
		payload[i] = enc
	}
	return rlp.EncodeToBytes(encodedBlock{Header: hdr, Payload: payload})
}

func decodeFullBlock(data []byte) (*Block, error) {
	var eb encodedBlock
	if err := rlp.DecodeBytes(data, &eb); err != nil {
		return nil, &DBError{Op: "decode block", Cause: err}
	}
	hdr, err := DecodeBlockHeader(eb.Header)
	if err != nil {
		return nil, err
	}
	payload := make([]*Transaction, len(eb.Payload))
	for i, raw := range eb.Payload {
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return nil, err
		}
		payload[i] = tx
	}
	return &Block{Header: *hdr, Payload: payload}, nil
}

// SaveBlockOptions configures saveBlock's interaction with the temp-block
// buffer.
type SaveBlockOptions struct {
	RemoveFromTemp bool
}

// SaveBlock persists block atomically, flushing stateStore's diff and
// advancing finalizedHeight (§4.4 steps 1-6). Step 7 (best-effort diff
// pruning below finalizedHeight) runs via PruneDiffs after the batch has
// been written, outside the atomic commit; a pruning failure is logged and
// does not fail the save.
func (bs *BlockStore) SaveBlock(block *Block, stateStore *StateStore, finalizedHeight uint32, opts SaveBlockOptions) (StateDiff, error) {
	id, err := block.ID()
	if err != nil {
		return StateDiff{}, err
	}
	hdrBytes, err := EncodeBlockHeader(&block.Header)
	if err != nil {
		return StateDiff{}, err
	}

	batch := bs.kv.Batch()
	batch.Put(keyBlocksID(id), hdrBytes)
	batch.Put(keyBlocksHeight(block.Header.Height), id)

	txIDs := make([]byte, 0, len(block.Payload)*32)
	for _, tx := range block.Payload {
		txID, err := tx.ID()
		if err != nil {
			return StateDiff{}, err
		}
		txBytes, err := EncodeTransaction(tx)
		if err != nil {
			return StateDiff{}, err
		}
		batch.Put(keyTxID(txID), txBytes)
		txIDs = append(txIDs, txID...)
	}
	if len(block.Payload) > 0 {
		batch.Put(keyTxBlockID(id), txIDs)
	}

	if opts.RemoveFromTemp {
		batch.Del(keyTempBlock(block.Header.Height))
	}

	diff := stateStore.finalize(batch)
	diffBytes, err := rlp.EncodeToBytes(diff)
	if err != nil {
		return StateDiff{}, &DBError{Op: "encode diff", Cause: err}
	}
	batch.Put(keyDiffState(block.Header.Height), diffBytes)
	batch.Put(keyFinalizedHeight(), be32(finalizedHeight))

	if err := batch.Write(); err != nil {
		return StateDiff{}, err
	}

	if err := bs.PruneDiffs(finalizedHeight); err != nil {
		logrus.WithError(err).Warn("blockstore: best-effort diff prune failed, will retry on next save")
	}
	return diff, nil
}

// PruneDiffs best-effort clears DIFF_STATE entries below finalizedHeight
// (§4.4 step 7); failures are logged and retried on the next SaveBlock.
func (bs *BlockStore) PruneDiffs(finalizedHeight uint32) error {
	gte, _ := prefixRange(prefixDiffState)
	return bs.kv.Clear(gte, keyDiffState(finalizedHeight))
}

// DeleteBlockOptions configures deleteBlock's temp-block behavior.
type DeleteBlockOptions struct {
	SaveTempBlock bool
}

// DeleteBlock rolls a block back (§4.4): it fails for heights at or below
// finalizedHeight, applies the inverse of the stored diff through
// stateStore, and atomically removes the block's indexes and diff.
func (bs *BlockStore) DeleteBlock(block *Block, stateStore *StateStore, finalizedHeight uint32, opts DeleteBlockOptions) error {
	if block.Header.Height <= finalizedHeight {
		return &ValidationError{Reason: "cannot delete a block at or below finalized height"}
	}
	id, err := block.ID()
	if err != nil {
		return err
	}

	batch := bs.kv.Batch()
	batch.Del(keyBlocksID(id))
	batch.Del(keyBlocksHeight(block.Header.Height))
	for _, tx := range block.Payload {
		txID, err := tx.ID()
		if err != nil {
			return err
		}
		batch.Del(keyTxID(txID))
	}
	if len(block.Payload) > 0 {
		batch.Del(keyTxBlockID(id))
	}

	if opts.SaveTempBlock {
		full, err := encodeFullBlock(block)
		if err != nil {
			return err
		}
		batch.Put(keyTempBlock(block.Header.Height), full)
	}

	raw, err := bs.kv.Get(keyDiffState(block.Header.Height))
	if err != nil && !IsNotFound(err) {
		return err
	}
	if err == nil {
		var diff StateDiff
		if err := rlp.DecodeBytes(raw, &diff); err != nil {
			return &DBError{Op: "decode diff", Cause: err}
		}
		if err := applyInverseDiff(stateStore, diff); err != nil {
			return err
		}
	}
	// The rollback's own diff is discarded: the inverse application above
	// already expresses the rollback; finalize() here only drains the
	// overlay into the batch.
	stateStore.finalize(batch)
	batch.Del(keyDiffState(block.Header.Height))

	if err := batch.Write(); err != nil {
		return err
	}
	return bs.evictOldTempBlocks(block.Header.Height)
}

// applyInverseDiff restores the pre-state recorded by diff: created keys
// are deleted, updated/deleted keys are restored to their pre-image
// (§4.4 step 4, §8 round-trip invariant).
func applyInverseDiff(s *StateStore, diff StateDiff) error {
	for _, k := range diff.Created {
		if err := s.del([]byte(k)); err != nil {
			return err
		}
	}
	for _, kv := range diff.Updated {
		if err := s.set([]byte(kv.Key), kv.Value); err != nil {
			return err
		}
	}
	for _, kv := range diff.Deleted {
		if err := s.set([]byte(kv.Key), kv.Value); err != nil {
			return err
		}
	}
	return nil
}

// evictOldTempBlocks drops the oldest temp-block entries once the buffer
// exceeds tempBlockRetention.
func (bs *BlockStore) evictOldTempBlocks(justWrittenHeight uint32) error {
	gte, lte := prefixRange(prefixTempBlockHeight)
	entries, err := bs.kv.Range(gte, lte, RangeOptions{})
	if err != nil {
		return err
	}
	if len(entries) <= tempBlockRetention {
		return nil
	}
	excess := len(entries) - tempBlockRetention
	batch := bs.kv.Batch()
	for i := 0; i < excess; i++ {
		batch.Del(entries[i].Key)
		logrus.WithField("key", entries[i].Key).Debug("blockstore: evicting old temp block")
	}
	return batch.Write()
}

// GetBlockHeaderByID returns the block header stored under id; payload is
// resolved via GetBlockTransactions.
func (bs *BlockStore) GetBlockHeaderByID(id ID) (*BlockHeader, error) {
	raw, err := bs.kv.Get(keyBlocksID(id))
	if err != nil {
		return nil, err
	}
	return DecodeBlockHeader(raw)
}

// GetBlockIDByHeight resolves the canonical block id at height.
func (bs *BlockStore) GetBlockIDByHeight(height uint32) (ID, error) {
	return bs.kv.Get(keyBlocksHeight(height))
}

// GetTransactionByID returns a single transaction by id.
func (bs *BlockStore) GetTransactionByID(id ID) (*Transaction, error) {
	raw, err := bs.kv.Get(keyTxID(id))
	if err != nil {
		return nil, err
	}
	return DecodeTransaction(raw)
}

// GetBlockTransactions resolves the ordered payload for a block id.
func (bs *BlockStore) GetBlockTransactions(blockID ID) ([]*Transaction, error) {
	raw, err := bs.kv.Get(keyTxBlockID(blockID))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n := len(raw) / 32
	out := make([]*Transaction, 0, n)
	for i := 0; i < n; i++ {
		txID := ID(raw[i*32 : (i+1)*32])
		tx, err := bs.GetTransactionByID(txID)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// FinalizedHeight reads the persisted finalized height.
func (bs *BlockStore) FinalizedHeight() (uint32, error) {
	raw, err := bs.kv.Get(keyFinalizedHeight())
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeBE32(raw), nil
}

func decodeBE32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}
