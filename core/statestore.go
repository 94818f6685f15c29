package core

// statestore.go implements the per-transition overlay of §4.3: a state
// store wraps the KV store with snapshot/write bookkeeping so that
// finalize() can classify every touched key as created, updated or
// deleted and hand back a self-sufficient StateDiff. The overlay itself is
// plain maps (see DESIGN.md for why no third-party transactional-KV
// wrapper fits here without binding the diff format to one storage
// engine).

import (
	"github.com/ethereum/go-ethereum/rlp"
)

type snapshotEntry struct {
	existed bool
	value   []byte
}

type writeEntry struct {
	deleted bool
	value   []byte
}

// StateStore is created fresh per block application and is consumed
// (finalized or dropped) before the job queue moves on (§3 Lifecycle).
type StateStore struct {
	kv        *KVStore
	snapshots map[string]snapshotEntry
	writes    map[string]writeEntry
}

// NewStateStore opens a fresh overlay over the current KV state.
func NewStateStore(kv *KVStore) *StateStore {
	return &StateStore{
		kv:        kv,
		snapshots: make(map[string]snapshotEntry),
		writes:    make(map[string]writeEntry),
	}
}

// get is the overlay's core read path: an in-flight write wins; otherwise
// the underlying value is fetched once and cached as a snapshot.
func (s *StateStore) get(rawKey []byte) ([]byte, error) {
	k := string(rawKey)
	if w, ok := s.writes[k]; ok {
		if w.deleted {
			return nil, &NotFoundError{Key: k}
		}
		return w.value, nil
	}
	if snap, ok := s.snapshots[k]; ok {
		if !snap.existed {
			return nil, &NotFoundError{Key: k}
		}
		return snap.value, nil
	}
	v, err := s.kv.Get(rawKey)
	if IsNotFound(err) {
		s.snapshots[k] = snapshotEntry{existed: false}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.snapshots[k] = snapshotEntry{existed: true, value: v}
	return v, nil
}

// set records value for rawKey, snapshotting the pre-image first if one has
// not already been captured.
func (s *StateStore) set(rawKey, value []byte) error {
	k := string(rawKey)
	if _, ok := s.snapshots[k]; !ok {
		if _, err := s.peek(rawKey); err != nil && !IsNotFound(err) {
			return err
		}
	}
	s.writes[k] = writeEntry{value: append([]byte(nil), value...)}
	return nil
}

// del records the deletion of rawKey, snapshotting its pre-image first.
func (s *StateStore) del(rawKey []byte) error {
	k := string(rawKey)
	if _, ok := s.snapshots[k]; !ok {
		if _, err := s.peek(rawKey); err != nil && !IsNotFound(err) {
			return err
		}
	}
	s.writes[k] = writeEntry{deleted: true}
	return nil
}

// peek populates the snapshot cache without consulting in-flight writes,
// used by set/del to capture the pre-image exactly once.
func (s *StateStore) peek(rawKey []byte) ([]byte, error) {
	k := string(rawKey)
	if snap, ok := s.snapshots[k]; ok {
		if !snap.existed {
			return nil, &NotFoundError{Key: k}
		}
		return snap.value, nil
	}
	v, err := s.kv.Get(rawKey)
	if IsNotFound(err) {
		s.snapshots[k] = snapshotEntry{existed: false}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.snapshots[k] = snapshotEntry{existed: true, value: v}
	return v, nil
}

// --- account domain --------------------------------------------------

// GetAccount fetches an account by address, or *NotFoundError.
func (s *StateStore) GetAccount(addr Address) (*Account, error) {
	raw, err := s.get(keyAccount(addr))
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := rlp.DecodeBytes(raw, &acc); err != nil {
		return nil, &DBError{Op: "decode account", Cause: err}
	}
	return &acc, nil
}

// SetAccount writes an account by address.
func (s *StateStore) SetAccount(acc *Account) error {
	raw, err := rlp.EncodeToBytes(acc)
	if err != nil {
		return &DBError{Op: "encode account", Cause: err}
	}
	return s.set(keyAccount(acc.Address), raw)
}

// --- chain-state domain (opaque, module-scoped) -----------------------

// GetChainState fetches an opaque module-scoped value, or *NotFoundError.
func (s *StateStore) GetChainState(key []byte) ([]byte, error) {
	return s.get(keyChainState(key))
}

// SetChainState writes an opaque module-scoped value.
func (s *StateStore) SetChainState(key, value []byte) error {
	return s.set(keyChainState(key), value)
}

// DelChainState removes an opaque module-scoped value.
func (s *StateStore) DelChainState(key []byte) error {
	return s.del(keyChainState(key))
}

// finalize flushes accumulated mutations into batch and returns the
// StateDiff classifying every touched key (§4.3). The invariant that the
// diff inverts to the pre-state follows directly from snapshotting the
// pre-image before the first write/delete of a key.
func (s *StateStore) finalize(batch *Batch) StateDiff {
	diff := StateDiff{}
	for k, w := range s.writes {
		snap, hadSnapshot := s.snapshots[k]
		existed := hadSnapshot && snap.existed

		if w.deleted {
			if existed {
				batch.Del([]byte(k))
				diff.Deleted = append(diff.Deleted, KeyValue{Key: k, Value: snap.value})
			}
			continue
		}

		batch.Put([]byte(k), w.value)
		if !existed {
			diff.Created = append(diff.Created, k)
		} else {
			diff.Updated = append(diff.Updated, KeyValue{Key: k, Value: snap.value})
		}
	}
	return diff
}

// Drop releases all recorded mutations without touching the KV store
// (cancellation semantics, §4.3/§5).
func (s *StateStore) Drop() {
	s.writes = nil
	s.snapshots = nil
}
