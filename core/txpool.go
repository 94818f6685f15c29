package core

// txpool.go implements the transaction pool of §4.7: a pending-set keyed
// by id with a de-duplicated broadcast queue. Generalizes the teacher's
// `core/txpool_addtx.go`/`core/txpool_snapshot.go` pair (which tracked a
// single-shard mempool with an LRU of recently-broadcast hashes) onto the
// DPoS pool's validate-then-hold-then-broadcast lifecycle; the recently-
// included cache keeps a block's now-committed transactions from being
// immediately re-announced.

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const (
	recentlyIncludedCacheSize = 4096
	broadcastInterval         = 5 * time.Second
	releaseLimit              = 25
)

// TxPool holds transactions awaiting inclusion and feeds the Broadcaster's
// periodic release.
type TxPool struct {
	mu       sync.Mutex
	pending  map[string]*Transaction
	order    []string // FIFO order of everything currently pending, for Len/Peek
	announce []string // FIFO of ids not yet handed to the broadcaster (§4.8)
	recent   *lru.Cache[string, struct{}]
}

// NewTxPool constructs an empty pool.
func NewTxPool() (*TxPool, error) {
	recent, err := lru.New[string, struct{}](recentlyIncludedCacheSize)
	if err != nil {
		return nil, &DBError{Op: "new recently-included cache", Cause: err}
	}
	return &TxPool{
		pending: make(map[string]*Transaction),
		recent:  recent,
	}, nil
}

// Contains reports whether id is already pending.
func (p *TxPool) Contains(id ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id.key()]
	return ok
}

// Add admits tx into the pool, rejecting duplicates and transactions
// already committed within the recently-included window.
func (p *TxPool) Add(tx *Transaction) error {
	id, err := tx.ID()
	if err != nil {
		return err
	}
	k := id.key()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.recent.Get(k); ok {
		return &DuplicateError{Kind: "transaction", Name: id.Hex()}
	}
	if _, ok := p.pending[k]; ok {
		return &DuplicateError{Kind: "transaction", Name: id.Hex()}
	}
	p.pending[k] = tx
	p.order = append(p.order, k)
	p.announce = append(p.announce, k)
	return nil
}

// Remove evicts id from the pending set, e.g. once it has been committed,
// and marks it recently-included so a straggling announcement for the
// same id is not re-admitted.
func (p *TxPool) Remove(id ID) {
	k := id.key()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[k]; !ok {
		return
	}
	delete(p.pending, k)
	p.recent.Add(k, struct{}{})
	p.order = removeKey(p.order, k)
	p.announce = removeKey(p.announce, k)
}

func removeKey(keys []string, k string) []string {
	for i, o := range keys {
		if o == k {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

// Get returns the pending transaction for id, if any.
func (p *TxPool) Get(id ID) (*Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.pending[id.key()]
	return tx, ok
}

// Len reports the number of pending transactions.
func (p *TxPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// drainBatch dequeues up to limit ids off the front of the announce queue
// and returns their transactions for broadcast. Dequeuing from announce is
// distinct from eviction from pending: a transaction stays pending (and
// addressable via Get/Contains) until Remove commits it; drainBatch only
// consumes the "not yet announced" queue, so each id is handed to the
// broadcaster exactly once (§4.8, §8 scenario 4).
func (p *TxPool) drainBatch(limit int) []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit > len(p.announce) {
		limit = len(p.announce)
	}
	ids := p.announce[:limit]
	p.announce = p.announce[limit:]

	out := make([]*Transaction, 0, limit)
	for _, k := range ids {
		if tx, ok := p.pending[k]; ok {
			out = append(out, tx)
		}
	}
	return out
}

// Peek returns up to limit currently pending transactions in FIFO order,
// without affecting the announce queue; used to answer an RPC request for
// "merged pool transactions" when no explicit ids are given (§4.9).
func (p *TxPool) Peek(limit int) []*Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit > len(p.order) {
		limit = len(p.order)
	}
	out := make([]*Transaction, 0, limit)
	for _, k := range p.order[:limit] {
		out = append(out, p.pending[k])
	}
	return out
}

// Broadcaster periodically announces batches of pending transactions
// (§4.7, §8 scenario: 50 queued transactions release as two batches of 25
// five seconds apart).
type Broadcaster struct {
	pool    *TxPool
	publish func(announcement []*Transaction)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewBroadcaster wires a Broadcaster to pool, calling publish with each
// release batch.
func NewBroadcaster(pool *TxPool, publish func([]*Transaction)) *Broadcaster {
	return &Broadcaster{pool: pool, publish: publish, stopCh: make(chan struct{})}
}

// Run drives the periodic release loop until Stop is called. Intended to
// be run in its own goroutine.
func (b *Broadcaster) Run() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			batch := b.pool.drainBatch(releaseLimit)
			if len(batch) == 0 {
				continue
			}
			logrus.WithField("count", len(batch)).Debug("txpool: releasing transaction batch")
			b.publish(batch)
		}
	}
}

// Stop halts the release loop. Safe to call more than once.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}
