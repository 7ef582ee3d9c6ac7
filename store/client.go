package store

import "context"

// Client creates transactions against a Service implementation.
type Client struct {
	svc Service
}

// NewClient creates a client over the given service boundary.
func NewClient(svc Service) *Client {
	return &Client{svc: svc}
}

// NewTransaction begins a transaction. The read snapshot is assigned
// by the service at the transaction's first read.
func (c *Client) NewTransaction(ctx context.Context) (*Transaction, error) {
	id, err := c.svc.BeginTransaction(ctx)
	if err != nil {
		return nil, err
	}
	return &Transaction{svc: c.svc, id: id}, nil
}

// AllocateID completes an incomplete key with a store-assigned numeric
// id.
func (c *Client) AllocateID(ctx context.Context, k *Key) (*Key, error) {
	if !k.valid() {
		return nil, ErrInvalidKey
	}
	if !k.Incomplete() {
		return k, nil
	}
	return c.svc.AllocateID(ctx, k)
}

// RunInTransaction runs fn inside a transaction and commits when fn
// returns nil. On every other exit path the transaction is rolled back
// if it is still active, so server-side state is always released.
//
// There is no automatic retry: a commit conflict surfaces as an error
// wrapping ErrConflict and the caller decides whether to run the whole
// function again.
func (c *Client) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	tx, err := c.NewTransaction(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if tx.Active() {
			tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
