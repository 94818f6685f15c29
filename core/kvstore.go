package core

// kvstore.go implements the ordered key/value store of §4.2: get/put/del,
// existence checks, atomic write batches and prefix range scans. The
// on-disk engine is badger, generalizing the teacher's own WAL-backed
// `Ledger.State` map (see DESIGN.md) into a real LSM-tree store so prefix
// scans (needed by block/tx indexes and height ordering) are native rather
// than emulated over an in-memory map.

import (
	"bytes"

	badger "github.com/dgraph-io/badger/v4"
)

// KVStore is the single owner of on-disk bytes (§3 Ownership).
type KVStore struct {
	db *badger.DB
}

// OpenKVStore opens (creating if absent) a badger database rooted at dir.
func OpenKVStore(dir string) (*KVStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &DBError{Op: "open", Cause: err}
	}
	return &KVStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *KVStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &DBError{Op: "close", Cause: err}
	}
	return nil
}

// Get returns the value stored under key, or a *NotFoundError.
func (s *KVStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return &NotFoundError{Key: string(key)}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if nf, ok := err.(*NotFoundError); ok {
		return nil, nf
	}
	if err != nil {
		return nil, &DBError{Op: "get", Cause: err}
	}
	return out, nil
}

// Exists reports whether key is present.
func (s *KVStore) Exists(key []byte) (bool, error) {
	_, err := s.Get(key)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put writes a single key/value pair outside of a batch.
func (s *KVStore) Put(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return &DBError{Op: "put", Cause: err}
	}
	return nil
}

// Del removes a single key outside of a batch.
func (s *KVStore) Del(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return &DBError{Op: "del", Cause: err}
	}
	return nil
}

// batchOp is one queued mutation.
type batchOp struct {
	del   bool
	key   []byte
	value []byte
}

// Batch is an append-only queue of puts and deletes. Write() applies the
// whole queue atomically: readers never observe a partially-applied batch
// (§4.2).
type Batch struct {
	store *KVStore
	ops   []batchOp
}

// Batch begins a new write batch.
func (s *KVStore) Batch() *Batch { return &Batch{store: s} }

// Put queues a write.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

// Del queues a delete.
func (b *Batch) Del(key []byte) {
	b.ops = append(b.ops, batchOp{del: true, key: append([]byte(nil), key...)})
}

// Write atomically applies every queued operation.
func (b *Batch) Write() error {
	err := b.store.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			if op.del {
				if err := txn.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &DBError{Op: "batch write", Cause: err}
	}
	return nil
}

// RangeEntry is one row returned by Range.
type RangeEntry struct {
	Key   []byte
	Value []byte
}

// RangeOptions configures a Range scan.
type RangeOptions struct {
	Reverse bool
	Limit   int
}

// Range returns every key in [gte, lte] (inclusive on both ends), ascending
// unless Reverse is set, honoring Limit when positive.
func (s *KVStore) Range(gte, lte []byte, opts RangeOptions) ([]RangeEntry, error) {
	var out []RangeEntry
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Reverse = opts.Reverse
		it := txn.NewIterator(iopts)
		defer it.Close()

		seek := gte
		if opts.Reverse {
			seek = lte
		}
		for it.Seek(seek); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if bytes.Compare(k, gte) < 0 || bytes.Compare(k, lte) > 0 {
				if opts.Reverse && bytes.Compare(k, lte) > 0 {
					continue
				}
				if !opts.Reverse && bytes.Compare(k, gte) < 0 {
					continue
				}
				break
			}
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, RangeEntry{Key: k, Value: v})
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, &DBError{Op: "range", Cause: err}
	}
	return out, nil
}

// Clear deletes every key in [gte, lt) (exclusive upper bound), used by
// block storage to prune finalized state diffs (§4.4 step 7).
func (s *KVStore) Clear(gte, lt []byte) error {
	entries, err := s.Range(gte, prevKey(lt), RangeOptions{})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	b := s.Batch()
	for _, e := range entries {
		b.Del(e.Key)
	}
	return b.Write()
}

// prevKey returns the largest key of the same length strictly less than k,
// used to turn an exclusive upper bound over fixed-length keys into the
// inclusive one Range expects.
func prevKey(k []byte) []byte {
	if len(k) == 0 {
		return k
	}
	out := append([]byte(nil), k...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] > 0 {
			out[i]--
			return out
		}
		out[i] = 0xff
	}
	return nil
}
