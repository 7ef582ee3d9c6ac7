// Package dynamo backs the lattice service boundary with Amazon
// DynamoDB.
//
// Entities live in one table keyed by (pk, sk) where pk hashes the key
// path's root element and sk is the encoded path, so an entity group
// occupies a contiguous range of one partition. Snapshot staleness is
// detected at commit time: every read records the item version it
// observed, and Commit replays those observations as condition checks
// inside a single TransactWriteItems call. Any concurrent commit that
// moved a version cancels the batch, which surfaces as
// store.ErrConflict.
package dynamo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/lattice/internal/keypath"
	"github.com/jacentio/lattice/store"
)

// batchGetLimit is the BatchGetItem ceiling per request.
const batchGetLimit = 100

// Service implements store.Service over DynamoDB.
type Service struct {
	client *dynamodb.Client
	cfg    Config

	mu   sync.Mutex
	txns map[store.TxID]*txnState
}

// txnState is the driver-side record of one open transaction: the
// versions its reads observed, keyed by encoded path. A single
// transaction is single-caller, so reads needs no lock of its own.
type txnState struct {
	reads map[string]readRecord
}

// New creates a driver over the given DynamoDB client.
func New(client *dynamodb.Client, cfg Config) *Service {
	cfg.validate()
	return &Service{
		client: client,
		cfg:    cfg,
		txns:   make(map[store.TxID]*txnState),
	}
}

var _ store.Service = (*Service)(nil)

// BeginTransaction registers transaction state. No RPC is made; the
// snapshot materializes as the read set grows.
func (s *Service) BeginTransaction(ctx context.Context) (store.TxID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := store.TxID(uuid.NewString())
	s.mu.Lock()
	s.txns[id] = &txnState{reads: make(map[string]readRecord)}
	s.mu.Unlock()
	return id, nil
}

func (s *Service) state(id store.TxID) (*txnState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	return t, ok
}

// Lookup batch-reads the given keys, recording observed versions in
// the transaction's read set. Missing and soft-deleted keys are
// omitted from the result; the order is whatever BatchGetItem
// returned.
func (s *Service) Lookup(ctx context.Context, id store.TxID, keys []*store.Key) ([]*store.Entity, error) {
	state, ok := s.state(id)
	if !ok {
		return nil, store.ErrNotActive
	}
	return s.lookup(ctx, state, keys)
}

func (s *Service) lookup(ctx context.Context, state *txnState, keys []*store.Key) ([]*store.Entity, error) {
	// BatchGetItem rejects duplicate keys in one request.
	unique := make(map[string]*store.Key, len(keys))
	var order []string
	for _, k := range keys {
		sk := keypath.EncodeKey(k)
		if _, seen := unique[sk]; !seen {
			unique[sk] = k
			order = append(order, sk)
		}
	}

	var found []*store.Entity
	returned := make(map[string]bool, len(order))

	for start := 0; start < len(order); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(order) {
			end = len(order)
		}
		chunk := make([]map[string]types.AttributeValue, 0, end-start)
		for _, sk := range order[start:end] {
			chunk = append(chunk, itemKey(keypath.PartitionKey(unique[sk]), sk))
		}

		request := map[string]types.KeysAndAttributes{
			s.cfg.Table: {Keys: chunk, ConsistentRead: aws.Bool(true)},
		}
		for len(request[s.cfg.Table].Keys) > 0 {
			out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: request,
			})
			if err != nil {
				return nil, fmt.Errorf("dynamo: batch get: %w", err)
			}
			for _, item := range out.Responses[s.cfg.Table] {
				sk, ok := item[attrSK].(*types.AttributeValueMemberS)
				if !ok {
					return nil, fmt.Errorf("dynamo: item without sort key")
				}
				returned[sk.Value] = true
				state.record(sk.Value, readRecord{
					pk:      keypath.PartitionKey(unique[sk.Value]),
					version: itemVersion(item),
				})
				if isDeleted(item) {
					continue
				}
				e, _, err := decodeEntity(item)
				if err != nil {
					return nil, fmt.Errorf("dynamo: decode %s: %w", sk.Value, err)
				}
				found = append(found, e)
			}
			request = out.UnprocessedKeys
			if len(request) == 0 {
				break
			}
		}
	}

	// Keys the service never returned were observed absent; the commit
	// validates the absence.
	for _, sk := range order {
		if !returned[sk] {
			state.record(sk, readRecord{pk: keypath.PartitionKey(unique[sk])})
		}
	}
	return found, nil
}

// record keeps the first observation of a key; the transaction's view
// of the key is whatever it saw first.
func (t *txnState) record(sk string, r readRecord) {
	if _, seen := t.reads[sk]; !seen {
		t.reads[sk] = r
	}
}

// RunQuery evaluates a query, recording every decoded item in the read
// set. Key conditions and TTL filtering run server-side; property
// predicates run here after decoding (see buildQueryInput).
func (s *Service) RunQuery(ctx context.Context, id store.TxID, q *store.Query) ([]*store.Entity, error) {
	state, ok := s.state(id)
	if !ok {
		return nil, store.ErrNotActive
	}

	input, err := buildQueryInput(s.cfg, q)
	if err != nil {
		return nil, err
	}

	limit := q.ResultLimit()
	var found []*store.Entity
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: query: %w", err)
		}
		for _, item := range page.Items {
			e, version, err := decodeEntity(item)
			if err != nil {
				return nil, fmt.Errorf("dynamo: decode: %w", err)
			}
			sk := keypath.EncodeKey(e.Key())
			state.record(sk, readRecord{pk: keypath.PartitionKey(e.Key()), version: version})
			if !q.Matches(e) {
				continue
			}
			found = append(found, e)
			if limit > 0 && len(found) == limit {
				return found, nil
			}
		}
	}
	return found, nil
}

// Commit applies the buffered mutations in one TransactWriteItems
// call. On a canceled transaction (stale read set or concurrent
// transaction) the state is discarded and the error wraps
// store.ErrConflict. On a transport failure the state is kept so the
// caller's rollback path can release it.
func (s *Service) Commit(ctx context.Context, id store.TxID, muts []store.Mutation) error {
	state, ok := s.state(id)
	if !ok {
		return store.ErrNotActive
	}

	if len(muts) == 0 {
		s.forget(id)
		return nil
	}

	// Deletes of keys this transaction never read resolve their current
	// version first, so an absent key becomes an absence check rather
	// than an upserted row. A failure here happened before anything
	// applied; the handle stays active.
	if unread := unreadDeletes(state, muts); len(unread) > 0 {
		if _, err := s.lookup(ctx, state, unread); err != nil {
			return err
		}
	}

	items, err := buildCommitItems(s.cfg.Table, state.reads, muts, time.Now().Unix())
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
		// The transaction id doubles as the idempotency token: a retried
		// delivery of the same commit cannot apply twice.
		ClientRequestToken: aws.String(string(id)),
	})
	err = mapCommitError(err)
	if err == nil || errors.Is(err, store.ErrConflict) {
		s.forget(id)
	}
	return err
}

// Rollback discards the transaction's read set. The store holds no
// locks, so there is nothing to release remotely.
func (s *Service) Rollback(ctx context.Context, id store.TxID) error {
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

// unreadDeletes returns the delete keys missing from the read set.
func unreadDeletes(state *txnState, muts []store.Mutation) []*store.Key {
	var keys []*store.Key
	for _, m := range muts {
		if m.Delete == nil {
			continue
		}
		if _, read := state.reads[keypath.EncodeKey(m.Delete)]; !read {
			keys = append(keys, m.Delete)
		}
	}
	return keys
}

func (s *Service) forget(id store.TxID) {
	s.mu.Lock()
	delete(s.txns, id)
	s.mu.Unlock()
}

// AllocateID completes an incomplete key with a random 63-bit id.
// DynamoDB has no id sequence; random allocation also avoids hot
// ranges in the sort key space.
func (s *Service) AllocateID(ctx context.Context, k *store.Key) (*store.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var id int64
	for id == 0 {
		u := uuid.New()
		id = int64(binary.BigEndian.Uint64(u[:8]) >> 1)
	}
	return store.IDKey(k.Kind, id, k.Parent), nil
}

// ItemRef locates one stored item for maintenance operations.
type ItemRef struct {
	PK string
	SK string
}

// Descendants lists every item whose sort key extends the given
// encoded path, the queried path itself included. Used by the streams
// cascade handler.
func (s *Service) Descendants(ctx context.Context, pk, pathPrefix string) ([]ItemRef, error) {
	var refs []ItemRef
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.cfg.Table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ProjectionExpression:   aws.String("pk, sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: pathPrefix},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: descendants: %w", err)
		}
		for _, item := range page.Items {
			ref := ItemRef{}
			if v, ok := item[attrPK].(*types.AttributeValueMemberS); ok {
				ref.PK = v.Value
			}
			if v, ok := item[attrSK].(*types.AttributeValueMemberS); ok {
				ref.SK = v.Value
			}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Expire soft-deletes one item by setting its TTL, bumping the version
// so concurrent transactional reads of it conflict. Items that already
// carry a TTL are left alone.
func (s *Service) Expire(ctx context.Context, ref ItemRef, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.cfg.Table),
		Key:                 itemKey(ref.PK, ref.SK),
		UpdateExpression:    aws.String("SET #ttl = :ttl, #version = if_not_exists(#version, :zero) + :one"),
		ConditionExpression: aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
		},
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}
