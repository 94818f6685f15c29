package core

import (
	"testing"
	"time"
)

func TestTxPoolAddRejectsDuplicate(t *testing.T) {
	pool, err := NewTxPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	tx := signedTestTx(1)
	if err := pool.Add(tx); err != nil {
		t.Fatalf("add: %v", err)
	}
	err = pool.Add(tx)
	if _, ok := err.(*DuplicateError); !ok {
		t.Fatalf("expected *DuplicateError, got %v", err)
	}
}

func TestTxPoolRemoveBlocksReadmission(t *testing.T) {
	pool, err := NewTxPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	tx := signedTestTx(1)
	if err := pool.Add(tx); err != nil {
		t.Fatalf("add: %v", err)
	}
	id, err := tx.ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	pool.Remove(id)
	if pool.Contains(id) {
		t.Fatalf("expected removed transaction to no longer be pending")
	}
	if err := pool.Add(tx); err == nil {
		t.Fatalf("expected a recently-included transaction to be rejected on re-add")
	}
}

func TestTxPoolDrainBatchRespectsFIFOAndLimit(t *testing.T) {
	pool, err := NewTxPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	for i := uint64(0); i < 50; i++ {
		if err := pool.Add(signedTestTx(i)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if pool.Len() != 50 {
		t.Fatalf("got %d pending, want 50", pool.Len())
	}

	first := pool.drainBatch(releaseLimit)
	if len(first) != 25 {
		t.Fatalf("got batch of %d, want 25", len(first))
	}
	// drainBatch dequeues the announce queue, not the pending set: the
	// transactions stay pending (Len still 50) until Remove is called on
	// commit, but a second drain must move on to the next 25, not repeat
	// the first batch.
	if pool.Len() != 50 {
		t.Fatalf("drainBatch must not evict from pending, got %d pending", pool.Len())
	}
	second := pool.drainBatch(releaseLimit)
	if len(second) != 25 {
		t.Fatalf("got second batch of %d, want 25", len(second))
	}
	firstID, err := first[0].ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	secondID, err := second[0].ID()
	if err != nil {
		t.Fatalf("id: %v", err)
	}
	if firstID.key() == secondID.key() {
		t.Fatalf("second drainBatch must announce the remaining transactions, not repeat the first batch")
	}

	third := pool.drainBatch(releaseLimit)
	if len(third) != 0 {
		t.Fatalf("expected the announce queue to be empty after releasing all 50, got %d", len(third))
	}
}

func TestBroadcasterReleasesQueuedTransactionsInBatches(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real-time broadcaster cadence test in short mode")
	}
	pool, err := NewTxPool()
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	for i := uint64(0); i < 50; i++ {
		if err := pool.Add(signedTestTx(i)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	batches := make(chan []*Transaction, 4)
	broadcaster := NewBroadcaster(pool, func(batch []*Transaction) {
		batches <- batch
		for _, tx := range batch {
			id, _ := tx.ID()
			pool.Remove(id)
		}
	})
	go broadcaster.Run()
	defer broadcaster.Stop()

	select {
	case b := <-batches:
		if len(b) != 25 {
			t.Fatalf("first batch: got %d, want 25", len(b))
		}
	case <-time.After(7 * time.Second):
		t.Fatalf("timed out waiting for first broadcast batch")
	}

	select {
	case b := <-batches:
		if len(b) != 25 {
			t.Fatalf("second batch: got %d, want 25", len(b))
		}
	case <-time.After(7 * time.Second):
		t.Fatalf("timed out waiting for second broadcast batch")
	}

	if pool.Len() != 0 {
		t.Fatalf("expected pool drained after both batches, got %d remaining", pool.Len())
	}
}
