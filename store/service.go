package store

import "context"

// TxID identifies a transaction at the service boundary.
type TxID string

// Mutation is one buffered write. Exactly one of Put and Delete is
// set. Mutations apply in order; a later mutation on the same key wins.
type Mutation struct {
	// Put inserts or replaces the entity at its key.
	Put *Entity

	// Delete removes the entity at the key, if any.
	Delete *Key
}

// Service is the remote store boundary the transaction coordinator
// translates its calls into. Implementations own snapshot assignment
// (pinned at the first Lookup or RunQuery for a transaction) and
// conflict detection at Commit time.
//
// Lookup returns found entities only, in whatever order the service
// produced them; batch reads are not guaranteed to preserve request
// order. Commit returns an error wrapping ErrConflict when the
// transaction's snapshot is stale, in which case the transaction is
// already discarded server-side.
type Service interface {
	BeginTransaction(ctx context.Context) (TxID, error)
	Lookup(ctx context.Context, id TxID, keys []*Key) ([]*Entity, error)
	RunQuery(ctx context.Context, id TxID, q *Query) ([]*Entity, error)
	Commit(ctx context.Context, id TxID, muts []Mutation) error
	Rollback(ctx context.Context, id TxID) error
	AllocateID(ctx context.Context, k *Key) (*Key, error)
}
