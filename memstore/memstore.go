// Package memstore is an in-memory implementation of the lattice
// service boundary with snapshot isolation and first-committer-wins
// conflict detection. It backs unit tests and local development; the
// dynamo package is the production driver.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/jacentio/lattice/internal/keypath"
	"github.com/jacentio/lattice/store"
)

// version is one committed value of a key. A nil entity is a
// tombstone.
type version struct {
	seq    uint64
	entity *store.Entity
}

type record struct {
	versions []version
}

// latest returns the newest committed sequence for the record, zero
// when none.
func (r *record) latest() uint64 {
	if len(r.versions) == 0 {
		return 0
	}
	return r.versions[len(r.versions)-1].seq
}

// visible returns the entity as of the given snapshot sequence.
func (r *record) visible(snapshot uint64) *store.Entity {
	for i := len(r.versions) - 1; i >= 0; i-- {
		if r.versions[i].seq <= snapshot {
			return r.versions[i].entity
		}
	}
	return nil
}

type txn struct {
	snapshot uint64
	pinned   bool
}

// Store is an in-memory multi-version store. The zero value is not
// usable; call New. All operations are safe for concurrent use by
// multiple transactions; a single transaction handle remains
// single-caller as documented in the store package.
type Store struct {
	mu     sync.Mutex
	data   *btree.Map[string, *record]
	seq    uint64
	nextID int64
	txns   map[store.TxID]*txn
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data: btree.NewMap[string, *record](16),
		txns: make(map[store.TxID]*txn),
	}
}

var _ store.Service = (*Store)(nil)

// BeginTransaction registers a transaction. The snapshot is pinned
// lazily at the first read, or at commit for write-only transactions.
func (s *Store) BeginTransaction(ctx context.Context) (store.TxID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := store.TxID(uuid.NewString())
	s.mu.Lock()
	s.txns[id] = &txn{}
	s.mu.Unlock()
	return id, nil
}

// pin assigns the snapshot on first use.
func (s *Store) pin(t *txn) {
	if !t.pinned {
		t.snapshot = s.seq
		t.pinned = true
	}
}

// Lookup returns the entities found at the given keys as of the
// transaction's snapshot. Missing keys are omitted.
func (s *Store) Lookup(ctx context.Context, id store.TxID, keys []*store.Key) ([]*store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok {
		return nil, store.ErrNotActive
	}
	s.pin(t)

	var found []*store.Entity
	for _, k := range keys {
		rec, ok := s.data.Get(keypath.EncodeKey(k))
		if !ok {
			continue
		}
		if e := rec.visible(t.snapshot); e != nil {
			found = append(found, e)
		}
	}
	return found, nil
}

// RunQuery evaluates the query against the transaction's snapshot.
func (s *Store) RunQuery(ctx context.Context, id store.TxID, q *store.Query) ([]*store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok {
		return nil, store.ErrNotActive
	}
	s.pin(t)

	limit := q.ResultLimit()
	var found []*store.Entity
	s.data.Scan(func(_ string, rec *record) bool {
		e := rec.visible(t.snapshot)
		if e == nil || !q.Matches(e) {
			return true
		}
		found = append(found, e)
		return limit == 0 || len(found) < limit
	})
	return found, nil
}

// Commit applies the mutations atomically under a single commit
// sequence. The commit fails when any mutated key has a committed
// version newer than the transaction's snapshot.
func (s *Store) Commit(ctx context.Context, id store.TxID, muts []store.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok {
		return store.ErrNotActive
	}
	delete(s.txns, id)
	s.pin(t)

	for _, m := range muts {
		rec, ok := s.data.Get(keypath.EncodeKey(mutationKey(m)))
		if ok && rec.latest() > t.snapshot {
			return fmt.Errorf("memstore: stale snapshot: %w", store.ErrConflict)
		}
	}

	if len(muts) == 0 {
		return nil
	}
	s.seq++
	commitSeq := s.seq
	for _, m := range muts {
		path := keypath.EncodeKey(mutationKey(m))
		rec, ok := s.data.Get(path)
		if !ok {
			rec = &record{}
			s.data.Set(path, rec)
		}
		rec.versions = append(rec.versions, version{seq: commitSeq, entity: m.Put})
	}
	return nil
}

// Rollback discards the transaction's server-side state.
func (s *Store) Rollback(ctx context.Context, id store.TxID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txns[id]; !ok {
		return store.ErrNotActive
	}
	delete(s.txns, id)
	return nil
}

// AllocateID completes an incomplete key with the next numeric id.
func (s *Store) AllocateID(ctx context.Context, k *store.Key) (*store.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()
	return store.IDKey(k.Kind, id, k.Parent), nil
}

func mutationKey(m store.Mutation) *store.Key {
	if m.Put != nil {
		return m.Put.Key()
	}
	return m.Delete
}
