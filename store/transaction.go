package store

import (
	"context"
	"errors"
	"fmt"
)

type txState uint8

const (
	txActive txState = iota
	txCommitted
	txRolledBack
)

// Transaction is a single-use handle over an optimistic transaction.
// Reads observe the transaction's snapshot; writes accumulate in a
// client-side buffer and apply atomically at Commit. Reads never
// observe the transaction's own buffered writes.
//
// A Transaction is not safe for concurrent use: one logical sequence
// of reads, writes and a terminal Commit or Rollback owns the handle.
type Transaction struct {
	svc   Service
	id    TxID
	state txState
	muts  []Mutation
}

// Active reports whether the transaction can still accept operations.
func (t *Transaction) Active() bool {
	return t.state == txActive
}

// Get returns the entity at key as of the transaction's snapshot, or
// ErrNotFound when absent.
func (t *Transaction) Get(ctx context.Context, key *Key) (*Entity, error) {
	if t.state != txActive {
		return nil, ErrNotActive
	}
	found, err := t.svc.Lookup(ctx, t.id, []*Key{key})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found[0], nil
}

// GetMulti returns the entities found at the given keys as a lazy
// sequence. Missing keys are silently omitted and the order is the
// order the service returned, not the input order; use Fetch when
// positional alignment matters.
func (t *Transaction) GetMulti(ctx context.Context, keys ...*Key) (*Results, error) {
	if t.state != txActive {
		return nil, ErrNotActive
	}
	found, err := t.svc.Lookup(ctx, t.id, keys)
	if err != nil {
		return nil, err
	}
	return newResults(found), nil
}

// Fetch returns one element per input key, in input order, with nil at
// positions whose key has no entity.
func (t *Transaction) Fetch(ctx context.Context, keys ...*Key) ([]*Entity, error) {
	if t.state != txActive {
		return nil, ErrNotActive
	}
	found, err := t.svc.Lookup(ctx, t.id, keys)
	if err != nil {
		return nil, err
	}
	// Align by key equality, not by the printed path: String does not
	// escape separators, so distinct keys can render identically.
	out := make([]*Entity, len(keys))
	for i, k := range keys {
		for _, e := range found {
			if e.Key().Equal(k) {
				out[i] = e
				break
			}
		}
	}
	return out, nil
}

// Run evaluates a query against the transaction's snapshot. The
// results are a finite, non-restartable sequence.
func (t *Transaction) Run(ctx context.Context, q *Query) (*Results, error) {
	if t.state != txActive {
		return nil, ErrNotActive
	}
	found, err := t.svc.RunQuery(ctx, t.id, q)
	if err != nil {
		return nil, err
	}
	return newResults(found), nil
}

// Put buffers an insert-or-replace of the entity. Nothing reaches the
// store until Commit.
func (t *Transaction) Put(e *Entity) error {
	if t.state != txActive {
		return ErrNotActive
	}
	key := e.Key()
	if !key.valid() {
		return ErrInvalidKey
	}
	if key.Incomplete() {
		return ErrIncompleteKey
	}
	t.muts = append(t.muts, Mutation{Put: e})
	return nil
}

// Delete buffers removal of the entities at the given keys.
func (t *Transaction) Delete(keys ...*Key) error {
	if t.state != txActive {
		return ErrNotActive
	}
	for _, k := range keys {
		if !k.valid() {
			return ErrInvalidKey
		}
		if k.Incomplete() {
			return ErrIncompleteKey
		}
	}
	for _, k := range keys {
		t.muts = append(t.muts, Mutation{Delete: k})
	}
	return nil
}

// Commit applies every buffered mutation as a single atomic batch.
//
// On a write conflict the transaction is already discarded server-side;
// the handle transitions to rolled back and an error wrapping
// ErrConflict is returned. The caller must restart the whole
// transaction, reads included.
//
// On a transport failure the outcome is ambiguous (the commit may or
// may not have applied). The error is returned as-is, no retry is
// attempted here, and the handle stays active so the usual cleanup
// path (Rollback when still Active) runs.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != txActive {
		return ErrNotActive
	}
	if err := t.svc.Commit(ctx, t.id, t.muts); err != nil {
		if errors.Is(err, ErrConflict) {
			t.state = txRolledBack
			return fmt.Errorf("commit: %w", err)
		}
		return err
	}
	t.state = txCommitted
	t.muts = nil
	return nil
}

// Rollback discards the buffered mutations and releases any
// server-side state held for the transaction. Rolling back a
// transaction that is already rolled back (including the implicit
// rollback after a commit conflict) is a no-op; rolling back after a
// successful commit fails with ErrNotActive.
func (t *Transaction) Rollback(ctx context.Context) error {
	switch t.state {
	case txRolledBack:
		return nil
	case txCommitted:
		return ErrNotActive
	}
	t.state = txRolledBack
	t.muts = nil
	return t.svc.Rollback(ctx, t.id)
}
