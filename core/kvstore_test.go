package core

import (
	"bytes"
	"testing"

	"synnergy-dpos-core/internal/testutil"
)

func openTestKV(t *testing.T) *KVStore {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })
	kv, err := OpenKVStore(sb.Path("db"))
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestKVStorePutGetDel(t *testing.T) {
	kv := openTestKV(t)

	if _, err := kv.Get([]byte("missing")); !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}

	if err := kv.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := kv.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("got %q, want v1", v)
	}

	ok, err := kv.Exists([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("exists: %v %v", ok, err)
	}

	if err := kv.Del([]byte("k")); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := kv.Get([]byte("k")); !IsNotFound(err) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestKVStoreBatchIsAtomic(t *testing.T) {
	kv := openTestKV(t)
	b := kv.Batch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	if err := b.Write(); err != nil {
		t.Fatalf("batch write: %v", err)
	}
	for _, pair := range [][2]string{{"a", "1"}, {"b", "2"}} {
		v, err := kv.Get([]byte(pair[0]))
		if err != nil {
			t.Fatalf("get %s: %v", pair[0], err)
		}
		if string(v) != pair[1] {
			t.Fatalf("get %s: got %s, want %s", pair[0], v, pair[1])
		}
	}
}

func TestKVStoreRangeOrderingAndLimit(t *testing.T) {
	kv := openTestKV(t)
	b := kv.Batch()
	b.Put([]byte{0x10, 1}, []byte("one"))
	b.Put([]byte{0x10, 2}, []byte("two"))
	b.Put([]byte{0x10, 3}, []byte("three"))
	b.Put([]byte{0x11, 1}, []byte("other-prefix"))
	if err := b.Write(); err != nil {
		t.Fatalf("batch write: %v", err)
	}

	entries, err := kv.Range([]byte{0x10}, []byte{0x10, 0xff}, RangeOptions{})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if string(entries[0].Value) != "one" || string(entries[2].Value) != "three" {
		t.Fatalf("range not ascending: %+v", entries)
	}

	limited, err := kv.Range([]byte{0x10}, []byte{0x10, 0xff}, RangeOptions{Limit: 2})
	if err != nil {
		t.Fatalf("range limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("got %d entries, want 2", len(limited))
	}

	reversed, err := kv.Range([]byte{0x10}, []byte{0x10, 0xff}, RangeOptions{Reverse: true})
	if err != nil {
		t.Fatalf("range reverse: %v", err)
	}
	if len(reversed) != 3 || string(reversed[0].Value) != "three" {
		t.Fatalf("range reverse mismatch: %+v", reversed)
	}
}

func TestKVStoreClearPrunesPrefixRange(t *testing.T) {
	kv := openTestKV(t)
	b := kv.Batch()
	b.Put(keyDiffState(1), []byte("diff-1"))
	b.Put(keyDiffState(2), []byte("diff-2"))
	b.Put(keyDiffState(5), []byte("diff-5"))
	if err := b.Write(); err != nil {
		t.Fatalf("batch write: %v", err)
	}

	gte, _ := prefixRange(prefixDiffState)
	if err := kv.Clear(gte, keyDiffState(5)); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if _, err := kv.Get(keyDiffState(1)); !IsNotFound(err) {
		t.Fatalf("diff 1 should have been pruned")
	}
	if _, err := kv.Get(keyDiffState(2)); !IsNotFound(err) {
		t.Fatalf("diff 2 should have been pruned")
	}
	if _, err := kv.Get(keyDiffState(5)); err != nil {
		t.Fatalf("diff 5 should remain: %v", err)
	}
}
