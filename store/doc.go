// Package store provides the lattice data model and the optimistic
// transaction coordinator over a remote hierarchical key-value store.
//
// Lattice models entities as immutable keys plus ordered property
// lists, and wraps every interaction with the store in a transaction:
// snapshot-isolated reads, client-side buffered writes, and a
// single-use terminal Commit or Rollback.
//
// # Transactions
//
// A [Transaction] moves through exactly one lifecycle:
//
//	ACTIVE -> COMMITTED     (Commit succeeds)
//	ACTIVE -> ROLLED_BACK   (Rollback, or Commit detects a conflict)
//
// After the terminal transition every further operation returns
// [ErrNotActive]. Conflicts are detected only at commit time
// (optimistic concurrency); on [ErrConflict] the snapshot is
// invalidated and the caller restarts the whole transaction, reads
// included.
//
// The usual shape, with cleanup guaranteed on every exit path:
//
//	err := client.RunInTransaction(ctx, func(tx *store.Transaction) error {
//	    e, err := tx.Get(ctx, key)
//	    if err != nil {
//	        return err
//	    }
//	    updated := store.NewEntity(key).
//	        SetInt("count", e.Int("count")+1).
//	        Build()
//	    return tx.Put(updated)
//	})
//
// # Batched reads
//
// [Transaction.GetMulti] and [Transaction.Fetch] are deliberately two
// operations with different ordering contracts. GetMulti yields found
// entities only, in the order the service returned them; batch lookups
// do not preserve request order. Fetch returns one element per input
// key, positionally aligned, nil where the key has no entity.
//
// # Drivers
//
// The remote store is reached through the [Service] interface. The
// memstore package implements it in memory with real snapshot
// isolation for tests and local development; the dynamo package backs
// it with Amazon DynamoDB.
package store
