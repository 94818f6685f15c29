package core

// transport.go wires Node's gossipsub/RPC primitives into the DPoS
// protocol handlers of §4.9: block/transaction announcement over
// gossipsub, and the getHighestCommonBlock/getTransactions RPCs over
// direct peer streams, each rate-limited and penalty-signaling per peer.
// This is new relative to the teacher, which had no protocol-level
// handlers above raw pubsub Publish/Subscribe; grounded on the same
// repo's libp2p usage in `network.go`/`peer_management.go`.

import (
	"context"
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

const (
	maxGetTransactionsIDs     = 25
	maxGetHighestCommonBlocks = 500
)

// Transport binds Node/PeerManager/RateLimiter to the chain, tx pool and
// processor, dispatching protocol events and RPCs.
type Transport struct {
	node      *Node
	peers     *PeerManager
	limiter   *RateLimiter
	chain     *Chain
	pool      *TxPool
	processor *Processor
	bus       *Bus
}

// NewTransport wires a Transport over the given collaborators.
func NewTransport(node *Node, peers *PeerManager, limiter *RateLimiter, chain *Chain, pool *TxPool, processor *Processor, bus *Bus) *Transport {
	return &Transport{node: node, peers: peers, limiter: limiter, chain: chain, pool: pool, processor: processor, bus: bus}
}

// Start subscribes to the gossipsub topics and registers the RPC stream
// handlers. Intended to be called once at node startup.
func (t *Transport) Start(ctx context.Context) error {
	blockMsgs, err := t.node.Subscribe(topicBlockAnnouncement)
	if err != nil {
		return err
	}
	txMsgs, err := t.node.Subscribe(topicTransactionAnnouncement)
	if err != nil {
		return err
	}

	go t.consume(ctx, blockMsgs, t.handleBlockAnnouncement)
	go t.consume(ctx, txMsgs, func(msg Message) {
		ids := make([]ID, 0, len(msg.Data)/32)
		for i := 0; i+32 <= len(msg.Data); i += 32 {
			ids = append(ids, ID(msg.Data[i:i+32]))
		}
		t.handleEventPostTransactionsAnnouncement(ctx, msg.From, ids)
	})

	t.peers.SetRequestHandler("getHighestCommonBlock", t.handleRPCGetHighestCommonBlock)
	t.peers.SetRequestHandler("getTransactions", t.handleRPCGetTransactions)

	t.bus.Subscribe("network:broadcastBlock", func(payload interface{}) {
		block, ok := payload.(*Block)
		if !ok {
			return
		}
		if err := t.BroadcastBlock(block); err != nil {
			logrus.WithError(err).Warn("transport: block broadcast failed")
		}
	})
	return nil
}

func (t *Transport) consume(ctx context.Context, msgs <-chan Message, handle func(Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			handle(msg)
		}
	}
}

// BroadcastBlock announces block on the block-announcement topic.
func (t *Transport) BroadcastBlock(block *Block) error {
	data, err := encodeFullBlock(block)
	if err != nil {
		return err
	}
	return t.node.Publish(topicBlockAnnouncement, data)
}

// BroadcastTransactions announces a batch of transaction ids; peers that
// lack the full transaction follow up with a getTransactions RPC (§4.7,
// §4.9 postTransactionsAnnouncement).
func (t *Transport) BroadcastTransactions(batch []*Transaction) error {
	ids := make([]byte, 0, len(batch)*32)
	for _, tx := range batch {
		id, err := tx.ID()
		if err != nil {
			return err
		}
		ids = append(ids, id...)
	}
	return t.node.Publish(topicTransactionAnnouncement, ids)
}

// handleBlockAnnouncement decodes a gossiped block and hands it to the
// processor, penalizing peers that send malformed payloads.
func (t *Transport) handleBlockAnnouncement(msg Message) {
	block, err := decodeFullBlock(msg.Data)
	if err != nil {
		t.node.Penalize(msg.From, 100)
		logrus.WithError(err).WithField("peer", msg.From).Warn("transport: malformed block announcement")
		return
	}
	if err := t.processor.Process(context.Background(), block, ProcessOptions{PeerID: string(msg.From)}); err != nil {
		if _, ok := err.(*ApplyPenaltyError); ok {
			t.node.Penalize(msg.From, 100)
		}
		logrus.WithError(err).WithField("peer", msg.From).Debug("transport: block processing rejected")
	}
}

// handleBroadcastTransaction decodes msg's payload as a single encoded
// transaction and admits it into the pool after a signature check. Start
// does not attach it to any topic.
func (t *Transport) handleBroadcastTransaction(msg Message) {
	tx, err := DecodeTransaction(msg.Data)
	if err != nil {
		t.node.Penalize(msg.From, 100)
		logrus.WithError(err).WithField("peer", msg.From).Warn("transport: malformed transaction")
		return
	}
	if err := t.validateTransaction(tx); err != nil {
		t.node.Penalize(msg.From, 100)
		return
	}
	if err := t.pool.Add(tx); err != nil {
		return // already pending or recently included; not a protocol violation
	}
}

// validateTransaction checks a transaction's signature against its
// declared sender before the pool admits it.
func (t *Transport) validateTransaction(tx *Transaction) error {
	enc, err := EncodeTransaction(&Transaction{
		ModuleID: tx.ModuleID, AssetID: tx.AssetID, Nonce: tx.Nonce, Fee: tx.Fee,
		SenderPublicKey: tx.SenderPublicKey, Asset: tx.Asset,
	})
	if err != nil {
		return err
	}
	if len(tx.Signatures) == 0 || !VerifyTransactionSignature(tx.SenderPublicKey, tx.Signatures[0], enc) {
		return NewApplyPenaltyError("invalid transaction signature")
	}
	return nil
}

// handleEventPostTransactionsAnnouncement is a peer's announcement of
// locally pending transaction ids; we request any we do not have.
func (t *Transport) handleEventPostTransactionsAnnouncement(ctx context.Context, from NodeID, announcedIDs []ID) {
	missing := make([]byte, 0, len(announcedIDs)*32)
	for _, id := range announcedIDs {
		if !t.pool.Contains(id) {
			missing = append(missing, id...)
		}
	}
	if len(missing) == 0 {
		return
	}
	resp, err := t.peers.Request(ctx, from, "getTransactions", missing)
	if err != nil {
		logrus.WithError(err).WithField("peer", from).Debug("transport: getTransactions request failed")
		return
	}
	n := len(resp) / 4
	offset := 0
	for i := 0; i < n; i++ {
		if offset+4 > len(resp) {
			break
		}
		length := int(binary.BigEndian.Uint32(resp[offset : offset+4]))
		offset += 4
		if offset+length > len(resp) {
			break
		}
		tx, err := DecodeTransaction(resp[offset : offset+length])
		offset += length
		if err != nil {
			continue
		}
		if err := t.validateTransaction(tx); err != nil {
			t.node.Penalize(from, 100)
			continue
		}
		_ = t.pool.Add(tx)
	}
}

// handleRPCGetHighestCommonBlock answers with the first of the requester's
// candidate ids, in the order supplied, that this node also has recorded,
// used to find the fork point during synchronization (§4.9).
func (t *Transport) handleRPCGetHighestCommonBlock(ctx context.Context, msg InboundMsg) ([]byte, error) {
	if err := t.limiter.Allow(msg.PeerID, "getHighestCommonBlock"); err != nil {
		t.node.Penalize(msg.PeerID, 10)
		return nil, err
	}
	candidateIDs := msg.Payload
	n := len(candidateIDs) / 32
	if n > maxGetHighestCommonBlocks {
		t.node.Penalize(msg.PeerID, 100)
		return nil, &InvalidRequestError{Reason: "too many candidate block ids"}
	}
	for i := 0; i < n; i++ {
		id := ID(candidateIDs[i*32 : (i+1)*32])
		if _, err := t.chain.Blocks().GetBlockHeaderByID(id); err == nil {
			return id, nil
		}
	}
	return nil, nil
}

// handleRPCGetTransactions answers a peer's request for specific
// transaction ids with their length-prefixed encodings. A request with no
// ids returns up to maxGetTransactionsIDs merged pool transactions (§4.9).
func (t *Transport) handleRPCGetTransactions(ctx context.Context, msg InboundMsg) ([]byte, error) {
	if err := t.limiter.Allow(msg.PeerID, "getTransactions"); err != nil {
		t.node.Penalize(msg.PeerID, 10)
		return nil, err
	}
	ids := msg.Payload
	if len(ids) == 0 {
		return encodeTransactionsLengthPrefixed(t.pool.Peek(maxGetTransactionsIDs))
	}
	n := len(ids) / 32
	if n > maxGetTransactionsIDs {
		t.node.Penalize(msg.PeerID, 100)
		return nil, &InvalidRequestError{Reason: "too many requested transaction ids"}
	}

	txs := make([]*Transaction, 0, n)
	for i := 0; i < n; i++ {
		id := ID(ids[i*32 : (i+1)*32])
		if tx, ok := t.pool.Get(id); ok {
			txs = append(txs, tx)
		} else if tx, err := t.chain.GetTransactionByID(id); err == nil {
			txs = append(txs, tx)
		}
	}
	return encodeTransactionsLengthPrefixed(txs)
}

// encodeTransactionsLengthPrefixed encodes each transaction with a 4-byte
// big-endian length prefix, the wire format handleRPCGetTransactions and
// handleEventPostTransactionsAnnouncement's response parsing both use.
func encodeTransactionsLengthPrefixed(txs []*Transaction) ([]byte, error) {
	out := make([]byte, 0)
	for _, tx := range txs {
		enc, err := EncodeTransaction(tx)
		if err != nil {
			continue
		}
		lenPrefix := make([]byte, 4)
		binary.BigEndian.PutUint32(lenPrefix, uint32(len(enc)))
		out = append(out, lenPrefix...)
		out = append(out, enc...)
	}
	return out, nil
}
