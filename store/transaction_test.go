package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jacentio/lattice/store"
)

// fakeService scripts the remote boundary so the coordinator's state
// machine can be exercised without a store.
type fakeService struct {
	beginErr  error
	lookup    func(keys []*store.Key) ([]*store.Entity, error)
	runQuery  func(q *store.Query) ([]*store.Entity, error)
	commitErr error

	commits   int
	rollbacks int
	committed []store.Mutation
}

func (f *fakeService) BeginTransaction(ctx context.Context) (store.TxID, error) {
	if f.beginErr != nil {
		return "", f.beginErr
	}
	return "tx-1", nil
}

func (f *fakeService) Lookup(ctx context.Context, id store.TxID, keys []*store.Key) ([]*store.Entity, error) {
	if f.lookup == nil {
		return nil, nil
	}
	return f.lookup(keys)
}

func (f *fakeService) RunQuery(ctx context.Context, id store.TxID, q *store.Query) ([]*store.Entity, error) {
	if f.runQuery == nil {
		return nil, nil
	}
	return f.runQuery(q)
}

func (f *fakeService) Commit(ctx context.Context, id store.TxID, muts []store.Mutation) error {
	f.commits++
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = muts
	return nil
}

func (f *fakeService) Rollback(ctx context.Context, id store.TxID) error {
	f.rollbacks++
	return nil
}

func (f *fakeService) AllocateID(ctx context.Context, k *store.Key) (*store.Key, error) {
	return store.IDKey(k.Kind, 1, k.Parent), nil
}

func newTx(t *testing.T, svc *fakeService) *store.Transaction {
	t.Helper()
	tx, err := store.NewClient(svc).NewTransaction(context.Background())
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	return tx
}

func entity(name string) *store.Entity {
	return store.NewEntity(store.NameKey("Thing", name, nil)).
		SetString("name", name).
		Build()
}

func TestTransaction_ActiveLifecycle(t *testing.T) {
	ctx := context.Background()

	tx := newTx(t, &fakeService{})
	if !tx.Active() {
		t.Fatal("new transaction should be active")
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if tx.Active() {
		t.Error("committed transaction should be inactive")
	}

	tx = newTx(t, &fakeService{})
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if tx.Active() {
		t.Error("rolled-back transaction should be inactive")
	}
}

func TestTransaction_OperationsAfterCommitFail(t *testing.T) {
	ctx := context.Background()
	tx := newTx(t, &fakeService{})
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	key := store.NameKey("Thing", "a", nil)
	if _, err := tx.Get(ctx, key); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Get after commit: %v", err)
	}
	if _, err := tx.GetMulti(ctx, key); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("GetMulti after commit: %v", err)
	}
	if _, err := tx.Fetch(ctx, key); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Fetch after commit: %v", err)
	}
	if _, err := tx.Run(ctx, store.NewQuery("Thing")); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Run after commit: %v", err)
	}
	if err := tx.Put(entity("a")); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Put after commit: %v", err)
	}
	if err := tx.Delete(key); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Delete after commit: %v", err)
	}
}

func TestTransaction_CommitTwice(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	tx := newTx(t, svc)
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("second Commit: %v", err)
	}
	if svc.commits != 1 {
		t.Errorf("service saw %d commits, want 1", svc.commits)
	}
}

func TestTransaction_RollbackAfterCommit(t *testing.T) {
	ctx := context.Background()
	tx := newTx(t, &fakeService{})
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Rollback after commit: %v", err)
	}
}

func TestTransaction_CommitAfterRollback(t *testing.T) {
	ctx := context.Background()
	tx := newTx(t, &fakeService{})
	if err := tx.Put(entity("a")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, store.ErrNotActive) {
		t.Errorf("Commit after rollback: %v", err)
	}
}

func TestTransaction_RollbackTwice(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	tx := newTx(t, svc)
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("second Rollback should be a no-op, got %v", err)
	}
	if svc.rollbacks != 1 {
		t.Errorf("service saw %d rollbacks, want 1", svc.rollbacks)
	}
}

func TestTransaction_ConflictRollsBackImplicitly(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{commitErr: fmt.Errorf("stale: %w", store.ErrConflict)}
	tx := newTx(t, svc)

	err := tx.Commit(ctx)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Commit: %v, want ErrConflict", err)
	}
	if tx.Active() {
		t.Error("conflicted transaction should be inactive")
	}
	// The conflict already discarded the transaction server-side:
	// rollback is a safe no-op and must not reach the service.
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("Rollback after conflict: %v", err)
	}
	if svc.rollbacks != 0 {
		t.Errorf("service saw %d rollbacks, want 0", svc.rollbacks)
	}
}

func TestTransaction_TransportFailureKeepsActive(t *testing.T) {
	ctx := context.Background()
	transportErr := errors.New("connection reset")
	svc := &fakeService{commitErr: transportErr}
	tx := newTx(t, svc)

	if err := tx.Commit(ctx); !errors.Is(err, transportErr) {
		t.Fatalf("Commit: %v, want transport error as-is", err)
	}
	if !tx.Active() {
		t.Error("ambiguous commit outcome must leave the handle active for cleanup")
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("Rollback after transport failure: %v", err)
	}
	if svc.rollbacks != 1 {
		t.Errorf("service saw %d rollbacks, want 1", svc.rollbacks)
	}
}

func TestTransaction_GetNotFound(t *testing.T) {
	svc := &fakeService{lookup: func([]*store.Key) ([]*store.Entity, error) {
		return nil, nil
	}}
	tx := newTx(t, svc)
	if _, err := tx.Get(context.Background(), store.NameKey("Thing", "gone", nil)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get: %v, want ErrNotFound", err)
	}
}

func TestTransaction_GetMultiServiceOrder(t *testing.T) {
	// The service returns found entities in its own order; GetMulti
	// passes it through and omits missing keys.
	e1, e3 := entity("one"), entity("three")
	svc := &fakeService{lookup: func([]*store.Key) ([]*store.Entity, error) {
		return []*store.Entity{e3, e1}, nil
	}}
	tx := newTx(t, svc)

	results, err := tx.GetMulti(context.Background(),
		store.NameKey("Thing", "one", nil),
		store.NameKey("Thing", "two", nil),
		store.NameKey("Thing", "three", nil),
	)
	if err != nil {
		t.Fatal(err)
	}
	got := results.All()
	if len(got) != 2 || got[0] != e3 || got[1] != e1 {
		t.Errorf("GetMulti = %v, want [three one] in service order", got)
	}
}

func TestTransaction_FetchPositional(t *testing.T) {
	// Fetch realigns the service's unordered response to input order,
	// with nil holes for missing keys.
	e1, e3 := entity("one"), entity("three")
	svc := &fakeService{lookup: func([]*store.Key) ([]*store.Entity, error) {
		return []*store.Entity{e3, e1}, nil
	}}
	tx := newTx(t, svc)

	got, err := tx.Fetch(context.Background(),
		store.NameKey("Thing", "one", nil),
		store.NameKey("Thing", "two", nil),
		store.NameKey("Thing", "three", nil),
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("Fetch returned %d elements, want 3", len(got))
	}
	if got[0] != e1 || got[1] != nil || got[2] != e3 {
		t.Errorf("Fetch = [%v %v %v], want [one nil three]", got[0], got[1], got[2])
	}
}

func TestTransaction_FetchDistinguishesCollidingPaths(t *testing.T) {
	// These two keys print identically ("/A,b/C,d") because String does
	// not escape separators. Alignment must use key equality so the
	// never-written key stays a nil hole.
	nested := store.NameKey("C", "d", store.NameKey("A", "b", nil))
	flat := store.NameKey("A", "b/C,d", nil)
	e := store.NewEntity(nested).SetString("name", "nested").Build()

	svc := &fakeService{lookup: func([]*store.Key) ([]*store.Entity, error) {
		return []*store.Entity{e}, nil
	}}
	tx := newTx(t, svc)

	got, err := tx.Fetch(context.Background(), nested, flat)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Fetch returned %d elements, want 2", len(got))
	}
	if got[0] != e {
		t.Errorf("Fetch[0] = %v, want the nested key's entity", got[0])
	}
	if got[1] != nil {
		t.Errorf("Fetch[1] = %v, want nil for the never-written key", got[1])
	}
}

func TestTransaction_PutValidatesKeys(t *testing.T) {
	tx := newTx(t, &fakeService{})

	incomplete := store.NewEntity(store.IncompleteKey("Thing", nil)).Build()
	if err := tx.Put(incomplete); !errors.Is(err, store.ErrIncompleteKey) {
		t.Errorf("Put incomplete key: %v", err)
	}

	invalid := store.NewEntity(store.NameKey("", "x", nil)).Build()
	if err := tx.Put(invalid); !errors.Is(err, store.ErrInvalidKey) {
		t.Errorf("Put invalid key: %v", err)
	}

	if err := tx.Delete(store.IncompleteKey("Thing", nil)); !errors.Is(err, store.ErrIncompleteKey) {
		t.Errorf("Delete incomplete key: %v", err)
	}
}

func TestTransaction_CommitSendsBufferInOrder(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	tx := newTx(t, svc)

	e := entity("a")
	k := store.NameKey("Thing", "b", nil)
	if err := tx.Put(e); err != nil {
		t.Fatal(err)
	}
	if err := tx.Delete(k); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if len(svc.committed) != 2 {
		t.Fatalf("committed %d mutations, want 2", len(svc.committed))
	}
	if svc.committed[0].Put != e {
		t.Error("first mutation should be the put")
	}
	if svc.committed[1].Delete == nil || !svc.committed[1].Delete.Equal(k) {
		t.Error("second mutation should be the delete")
	}
}

func TestRunInTransaction_CommitsOnSuccess(t *testing.T) {
	svc := &fakeService{}
	client := store.NewClient(svc)

	err := client.RunInTransaction(context.Background(), func(tx *store.Transaction) error {
		return tx.Put(entity("a"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if svc.commits != 1 || svc.rollbacks != 0 {
		t.Errorf("commits=%d rollbacks=%d, want 1/0", svc.commits, svc.rollbacks)
	}
}

func TestRunInTransaction_RollsBackOnError(t *testing.T) {
	svc := &fakeService{}
	client := store.NewClient(svc)
	boom := errors.New("boom")

	err := client.RunInTransaction(context.Background(), func(tx *store.Transaction) error {
		if err := tx.Put(entity("a")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if svc.commits != 0 || svc.rollbacks != 1 {
		t.Errorf("commits=%d rollbacks=%d, want 0/1", svc.commits, svc.rollbacks)
	}
}

func TestRunInTransaction_RollsBackAfterTransportFailure(t *testing.T) {
	svc := &fakeService{commitErr: errors.New("connection reset")}
	client := store.NewClient(svc)

	err := client.RunInTransaction(context.Background(), func(tx *store.Transaction) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected commit error")
	}
	// The deferred cleanup sees the handle still active and rolls back.
	if svc.rollbacks != 1 {
		t.Errorf("rollbacks=%d, want 1", svc.rollbacks)
	}
}

func TestRunInTransaction_BeginError(t *testing.T) {
	boom := errors.New("begin failed")
	client := store.NewClient(&fakeService{beginErr: boom})

	err := client.RunInTransaction(context.Background(), func(tx *store.Transaction) error {
		t.Fatal("fn must not run when begin fails")
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("RunInTransaction: %v", err)
	}
}

func TestClient_AllocateID(t *testing.T) {
	client := store.NewClient(&fakeService{})
	ctx := context.Background()

	complete, err := client.AllocateID(ctx, store.IncompleteKey("Thing", nil))
	if err != nil {
		t.Fatal(err)
	}
	if complete.Incomplete() {
		t.Error("allocated key should be complete")
	}

	already := store.NameKey("Thing", "a", nil)
	got, err := client.AllocateID(ctx, already)
	if err != nil || got != already {
		t.Errorf("AllocateID on complete key = %v, %v; want the key unchanged", got, err)
	}
}
