package core

import (
	"bytes"
	"testing"
)

func TestStateStoreSetGetOverlayBeforeFlush(t *testing.T) {
	kv := openTestKV(t)
	s := NewStateStore(kv)

	acc := &Account{Address: Address{1, 2, 3}, Balance: 100}
	if err := s.SetAccount(acc); err != nil {
		t.Fatalf("set account: %v", err)
	}

	got, err := s.GetAccount(acc.Address)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Balance != 100 {
		t.Fatalf("got balance %d, want 100", got.Balance)
	}

	// The underlying KV store has not been touched yet; a fresh overlay
	// over the same kv must not see the uncommitted write.
	other := NewStateStore(kv)
	if _, err := other.GetAccount(acc.Address); !IsNotFound(err) {
		t.Fatalf("expected not-found in a separate overlay, got %v", err)
	}
}

func TestStateStoreFinalizeClassifiesDiff(t *testing.T) {
	kv := openTestKV(t)

	// Seed one account directly so the next transition sees it as existing.
	seed := NewStateStore(kv)
	existing := &Account{Address: Address{9}, Balance: 5}
	if err := seed.SetAccount(existing); err != nil {
		t.Fatalf("seed: %v", err)
	}
	batch := kv.Batch()
	seed.finalize(batch)
	if err := batch.Write(); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	toDelete := &Account{Address: Address{2}, Balance: 2}
	if err := seedAccount(kv, toDelete); err != nil {
		t.Fatalf("seed delete target: %v", err)
	}

	s := NewStateStore(kv)
	created := &Account{Address: Address{1}, Balance: 1}
	if err := s.SetAccount(created); err != nil {
		t.Fatalf("set created: %v", err)
	}
	existing.Balance = 50
	if err := s.SetAccount(existing); err != nil {
		t.Fatalf("set updated: %v", err)
	}
	if err := s.del(keyAccount(toDelete.Address)); err != nil {
		t.Fatalf("del target: %v", err)
	}

	b2 := kv.Batch()
	diff := s.finalize(b2)
	if err := b2.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	if len(diff.Created) != 1 {
		t.Fatalf("expected 1 created key, got %d: %+v", len(diff.Created), diff.Created)
	}
	if len(diff.Updated) != 1 {
		t.Fatalf("expected 1 updated key, got %d: %+v", len(diff.Updated), diff.Updated)
	}
	if len(diff.Deleted) != 1 {
		t.Fatalf("expected 1 deleted key, got %d: %+v", len(diff.Deleted), diff.Deleted)
	}
}

func seedAccount(kv *KVStore, acc *Account) error {
	s := NewStateStore(kv)
	if err := s.SetAccount(acc); err != nil {
		return err
	}
	b := kv.Batch()
	s.finalize(b)
	return b.Write()
}

func TestStateStoreApplyInverseDiffRevertsExactly(t *testing.T) {
	kv := openTestKV(t)

	original := &Account{Address: Address{7}, Balance: 42}
	if err := seedAccount(kv, original); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewStateStore(kv)
	mutated := &Account{Address: Address{7}, Balance: 999}
	if err := s.SetAccount(mutated); err != nil {
		t.Fatalf("set: %v", err)
	}
	created := &Account{Address: Address{8}, Balance: 1}
	if err := s.SetAccount(created); err != nil {
		t.Fatalf("set created: %v", err)
	}

	b := kv.Batch()
	diff := s.finalize(b)
	if err := b.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	revert := NewStateStore(kv)
	if err := applyInverseDiff(revert, diff); err != nil {
		t.Fatalf("apply inverse: %v", err)
	}
	rb := kv.Batch()
	revert.finalize(rb)
	if err := rb.Write(); err != nil {
		t.Fatalf("revert write: %v", err)
	}

	final := NewStateStore(kv)
	restored, err := final.GetAccount(Address{7})
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if restored.Balance != 42 {
		t.Fatalf("got balance %d, want 42 after revert", restored.Balance)
	}
	if _, err := final.GetAccount(Address{8}); !IsNotFound(err) {
		t.Fatalf("created account should be gone after revert, got %v", err)
	}
}

func TestStateStoreDropDiscardsMutations(t *testing.T) {
	kv := openTestKV(t)
	s := NewStateStore(kv)
	if err := s.SetAccount(&Account{Address: Address{1}, Balance: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Drop()

	fresh := NewStateStore(kv)
	if _, err := fresh.GetAccount(Address{1}); !IsNotFound(err) {
		t.Fatalf("dropped mutation should never have reached storage")
	}
}

func TestStateStoreChainState(t *testing.T) {
	kv := openTestKV(t)
	s := NewStateStore(kv)
	if err := s.SetChainState([]byte("round"), []byte{1, 2, 3}); err != nil {
		t.Fatalf("set chain state: %v", err)
	}
	v, err := s.GetChainState([]byte("round"))
	if err != nil {
		t.Fatalf("get chain state: %v", err)
	}
	if !bytes.Equal(v, []byte{1, 2, 3}) {
		t.Fatalf("got %v, want [1 2 3]", v)
	}
	if err := s.DelChainState([]byte("round")); err != nil {
		t.Fatalf("del chain state: %v", err)
	}
	if _, err := s.GetChainState([]byte("round")); !IsNotFound(err) {
		t.Fatalf("expected not-found after delete")
	}
}
