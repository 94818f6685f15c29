package core

// bft.go implements the fork-choice classification of §4.5: given an
// incoming block and the current tip, derive a ForkStatus and, on
// VALID_BLOCK, advance the finalized-height watermark. Generalizes the
// teacher's `core/quorum_tracker.go` vote-weighting loop into the
// deterministic, stateless comparison DPoS fork choice actually needs —
// no quorum certificate aggregation survives since §1 Non-goals exclude a
// BFT light-client; only the ForkStatus sum type and finalization
// bookkeeping are kept.

import "bytes"

// BFT derives fork status for incoming blocks against the current chain
// and tracks the finalized-height watermark.
type BFT struct {
	chain *Chain
	// activeDelegates is the ordered round-robin forging set for the
	// current round; finality requires a supermajority (2/3+1) of
	// distinct generators to have forged since the last finalized block.
	activeDelegates func() ([]Address, error)
	seenGenerators  map[string]struct{}
	seenSinceHeight uint32
}

// NewBFT constructs a BFT tracker over chain, using activeDelegates to
// resolve the current forging set for quorum counting.
func NewBFT(chain *Chain, activeDelegates func() ([]Address, error)) *BFT {
	return &BFT{
		chain:           chain,
		activeDelegates: activeDelegates,
		seenGenerators:  make(map[string]struct{}),
		seenSinceHeight: chain.FinalizedHeight(),
	}
}

// ClassifyBlock derives the ForkStatus of incoming against the current
// tip, per §4.5's decision table.
func (b *BFT) ClassifyBlock(incoming *Block) (ForkStatus, error) {
	tip := b.chain.Tip()
	if tip == nil {
		return ForkStatusValidBlock, nil
	}

	incomingID, err := incoming.ID()
	if err != nil {
		return ForkStatusDiscard, err
	}
	tipID := b.chain.TipID()

	if incoming.Header.Height == tip.Header.Height && bytes.Equal(incomingID, tipID) {
		return ForkStatusIdenticalBlock, nil
	}

	if incoming.Header.Height == tip.Header.Height {
		if bytes.Equal(incoming.Header.GeneratorAddress, tip.Header.GeneratorAddress) {
			return ForkStatusDoubleForging, nil
		}
		return ForkStatusTieBreak, nil
	}

	if incoming.Header.Height == tip.Header.Height+1 {
		if bytes.Equal(incoming.Header.PreviousBlockID, tipID) {
			return ForkStatusValidBlock, nil
		}
		return ForkStatusDifferentChain, nil
	}

	if incoming.Header.Height <= b.chain.FinalizedHeight() {
		return ForkStatusDiscard, nil
	}

	return ForkStatusDifferentChain, nil
}

// PreferIncoming breaks a TIE_BREAK between two same-height blocks: the
// block forged in the earlier slot wins; an exact slot tie is broken by
// the lexicographically lower block id (§9 Open Question decision — the
// spec asserts this order and no contradicting signal was found in
// original_source/).
func PreferIncoming(incoming, current *Block, incomingID, currentID ID) bool {
	if incoming.Header.Timestamp != current.Header.Timestamp {
		return incoming.Header.Timestamp < current.Header.Timestamp
	}
	return bytes.Compare(incomingID, currentID) < 0
}

// RecordGenerator tracks a distinct generator forging since the last
// finalized height, advancing finalizedHeight once 2/3+1 of the active
// delegate set has been seen (§4.5 finality rule).
func (b *BFT) RecordGenerator(height uint32, generator Address) (uint32, error) {
	if height <= b.seenSinceHeight {
		return b.chain.FinalizedHeight(), nil
	}
	b.seenGenerators[string(generator)] = struct{}{}

	delegates, err := b.activeDelegates()
	if err != nil {
		return b.chain.FinalizedHeight(), err
	}
	quorum := (len(delegates)*2)/3 + 1
	if len(b.seenGenerators) < quorum {
		return b.chain.FinalizedHeight(), nil
	}

	// A quorum of distinct generators forged since the old watermark:
	// everything up to the block just before this one is final.
	newFinalized := height - 1
	b.seenGenerators = make(map[string]struct{})
	b.seenSinceHeight = newFinalized
	return newFinalized, nil
}

// Reset clears generator-quorum tracking, used after a rollback
// (deleteLastBlock) moves the tip backward.
func (b *BFT) Reset() {
	b.seenGenerators = make(map[string]struct{})
	b.seenSinceHeight = b.chain.FinalizedHeight()
}
