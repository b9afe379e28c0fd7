package txm

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxStore is the queue aggregate: a map from entry id to TrackedTx plus a
// newest-first order list for stable iteration. All access goes through one
// RWMutex so the map and order list are never observed out of sync.
type TxStore struct {
	lock  sync.RWMutex
	txs   map[string]*TrackedTx
	order []string // newest first
}

func NewTxStore() *TxStore {
	return &TxStore{
		txs: make(map[string]*TrackedTx),
	}
}

func (s *TxStore) Insert(tx *TrackedTx) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, exists := s.txs[tx.ID]; exists {
		return fmt.Errorf("tx already exists: %s", tx.ID)
	}
	s.txs[tx.ID] = tx
	s.order = append([]string{tx.ID}, s.order...)
	return nil
}

// Get returns a copy of the entry, so callers never share mutable state
// with the monitor.
func (s *TxStore) Get(id string) (*TrackedTx, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, false
	}
	return tx.clone(), true
}

// mutate re-fetches the entry by id under the write lock and applies fn to
// the live record. A missing id is a silent no-op: an in-flight monitor step
// whose entry was removed concurrently must not resurrect it. fn reports
// whether it applied a change.
func (s *TxStore) mutate(id string, fn func(*TrackedTx) bool) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return false
	}
	return fn(tx)
}

func (s *TxStore) Remove(id string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.unsafeRemove(id)
}

func (s *TxStore) unsafeRemove(id string) bool {
	if _, ok := s.txs[id]; !ok {
		return false
	}
	delete(s.txs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// GC removes terminal entries whose UpdatedAt is older than the cutoff.
// Non-terminal entries are never collected regardless of age.
func (s *TxStore) GC(olderThan time.Time) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	var doomed []string
	for id, tx := range s.txs {
		if tx.Terminal() && tx.UpdatedAt.Before(olderThan) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		s.unsafeRemove(id)
	}
	return len(doomed)
}

// Batch returns up to n non-terminal entries, newest first.
func (s *TxStore) Batch(n int) []*TrackedTx {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var batch []*TrackedTx
	for _, id := range s.order {
		if len(batch) >= n {
			break
		}
		if tx := s.txs[id]; !tx.Terminal() {
			batch = append(batch, tx.clone())
		}
	}
	return batch
}

// All returns every entry, newest first.
func (s *TxStore) All() []*TrackedTx {
	s.lock.RLock()
	defer s.lock.RUnlock()

	all := make([]*TrackedTx, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.txs[id].clone())
	}
	return all
}

// PendingLike returns entries still moving through the lifecycle (queued,
// broadcasting or pending), newest first.
func (s *TxStore) PendingLike() []*TrackedTx {
	return s.filtered(func(tx *TrackedTx) bool { return !tx.Terminal() })
}

// Finished returns entries in a terminal status, newest first.
func (s *TxStore) Finished() []*TrackedTx {
	return s.filtered(func(tx *TrackedTx) bool { return tx.Terminal() })
}

func (s *TxStore) filtered(keep func(*TrackedTx) bool) []*TrackedTx {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var out []*TrackedTx
	for _, id := range s.order {
		if tx := s.txs[id]; keep(tx) {
			out = append(out, tx.clone())
		}
	}
	return out
}

// FindByHash looks an entry up by any hash it ever broadcast. Resends change
// the current hash, but a caller may only know an old one.
func (s *TxStore) FindByHash(hash common.Hash) (*TrackedTx, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for _, id := range s.order {
		tx := s.txs[id]
		for _, h := range tx.Hashes {
			if h == hash {
				return tx.clone(), true
			}
		}
	}
	return nil, false
}

func (s *TxStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.txs)
}

// InflightCount returns the number of non-terminal entries.
func (s *TxStore) InflightCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	count := 0
	for _, tx := range s.txs {
		if !tx.Terminal() {
			count++
		}
	}
	return count
}

// AttachResigner replaces the resend callback on an existing entry. Used
// after Hydrate, since callbacks cannot be serialized.
func (s *TxStore) AttachResigner(id string, resigner Resigner) bool {
	return s.mutate(id, func(tx *TrackedTx) bool {
		tx.resigner = resigner
		return true
	})
}

// replaceAll swaps in a freshly hydrated state wholesale.
func (s *TxStore) replaceAll(txs map[string]*TrackedTx, order []string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.txs = txs
	s.order = order
}
