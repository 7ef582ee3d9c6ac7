package dynamo

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/keypath"
	"github.com/jacentio/lattice/store"
)

// maxTransactItems is the DynamoDB TransactWriteItems ceiling.
const maxTransactItems = 100

// readRecord is one observation in a transaction's read set.
type readRecord struct {
	pk      string
	version int64 // 0 when the key was observed absent
}

// buildCommitItems translates the transaction's read set and buffered
// mutations into a single TransactWriteItems batch.
//
// Read keys that are not written become ConditionChecks pinning the
// observed version, so any concurrent commit that touched them cancels
// the batch. Written keys fold their read condition into the write
// itself; blind puts (no prior read in this transaction) use an Update
// that replaces the entity payload and increments the version
// unconditionally. Every delete must carry a read record: Commit
// resolves unread delete keys before building the batch, otherwise an
// unconditional TTL update would upsert rows for keys that were never
// stored.
func buildCommitItems(table string, reads map[string]readRecord, muts []store.Mutation, ttl int64) ([]types.TransactWriteItem, error) {
	// Later mutations on the same key win.
	writes := make(map[string]store.Mutation, len(muts))
	var order []string
	for _, m := range muts {
		sk := keypath.EncodeKey(mutationKey(m))
		if _, seen := writes[sk]; !seen {
			order = append(order, sk)
		}
		writes[sk] = m
	}

	var items []types.TransactWriteItem

	var readOnly []string
	for sk := range reads {
		if _, written := writes[sk]; !written {
			readOnly = append(readOnly, sk)
		}
	}
	sort.Strings(readOnly)
	for _, sk := range readOnly {
		r := reads[sk]
		items = append(items, types.TransactWriteItem{
			ConditionCheck: readCondition(table, r.pk, sk, r.version),
		})
	}

	for _, sk := range order {
		m := writes[sk]
		key := mutationKey(m)
		r, read := reads[sk]

		var item types.TransactWriteItem
		var err error
		switch {
		case m.Put != nil:
			item, err = putItem(table, m.Put, r, read)
		case !read:
			err = fmt.Errorf("dynamo: delete of %s has no resolved version", sk)
		case r.version == 0:
			// Deleting a key observed absent: nothing to expire, but the
			// absence must still hold at commit time.
			item = types.TransactWriteItem{
				ConditionCheck: readCondition(table, keypath.PartitionKey(key), sk, 0),
			}
		default:
			item = expireItem(table, keypath.PartitionKey(key), sk, r.version, ttl)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if len(items) > maxTransactItems {
		return nil, fmt.Errorf("dynamo: transaction spans %d items, limit is %d", len(items), maxTransactItems)
	}
	return items, nil
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

// readCondition pins an unwritten read to its observed version.
func readCondition(table, pk, sk string, version int64) *types.ConditionCheck {
	check := &types.ConditionCheck{
		TableName: aws.String(table),
		Key:       itemKey(pk, sk),
	}
	if version == 0 {
		check.ConditionExpression = aws.String("attribute_not_exists(pk)")
		return check
	}
	check.ConditionExpression = aws.String("#version = :v")
	check.ExpressionAttributeNames = map[string]string{"#version": attrVersion}
	check.ExpressionAttributeValues = map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
	}
	return check
}

// putItem builds the insert-or-replace write for one entity.
func putItem(table string, e *store.Entity, r readRecord, read bool) (types.TransactWriteItem, error) {
	item, err := encodeEntity(e)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("encode %s: %w", e.Key(), err)
	}

	if read {
		put := &types.Put{
			TableName: aws.String(table),
			Item:      item,
		}
		if r.version == 0 {
			item[attrVersion] = &types.AttributeValueMemberN{Value: "1"}
			put.ConditionExpression = aws.String("attribute_not_exists(pk)")
		} else {
			item[attrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatInt(r.version+1, 10)}
			put.ConditionExpression = aws.String("#version = :expected")
			put.ExpressionAttributeNames = map[string]string{"#version": attrVersion}
			put.ExpressionAttributeValues = map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(r.version, 10)},
			}
		}
		return types.TransactWriteItem{Put: put}, nil
	}

	// Blind write: replace the payload whatever the current version is,
	// clearing any soft delete.
	pk := item[attrPK].(*types.AttributeValueMemberS).Value
	sk := item[attrSK].(*types.AttributeValueMemberS).Value
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(table),
			Key:       itemKey(pk, sk),
			UpdateExpression: aws.String(
				"SET #kind = :kind, #path = :path, #props = :props, " +
					"#version = if_not_exists(#version, :zero) + :one REMOVE #ttl"),
			ExpressionAttributeNames: map[string]string{
				"#kind":    attrKind,
				"#path":    attrPath,
				"#props":   attrProps,
				"#version": attrVersion,
				"#ttl":     attrTTL,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":kind":  item[attrKind],
				":path":  item[attrPath],
				":props": item[attrProps],
				":zero":  &types.AttributeValueMemberN{Value: "0"},
				":one":   &types.AttributeValueMemberN{Value: "1"},
			},
		},
	}, nil
}

// expireItem builds the soft delete for one key, conditioned on the
// version the transaction observed.
func expireItem(table, pk, sk string, version, ttl int64) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(table),
			Key:                 itemKey(pk, sk),
			UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
			ConditionExpression: aws.String("#version = :expected"),
			ExpressionAttributeNames: map[string]string{
				"#ttl":     attrTTL,
				"#version": attrVersion,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ttl":      &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
				":one":      &types.AttributeValueMemberN{Value: "1"},
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
			},
		},
	}
}

// mapCommitError translates a TransactWriteItems failure. A canceled
// transaction whose reasons include a failed condition or a concurrent
// transaction means the snapshot went stale.
func mapCommitError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed", "TransactionConflict":
				return fmt.Errorf("dynamo: transaction canceled: %w", store.ErrConflict)
			}
		}
		return err
	}

	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return fmt.Errorf("dynamo: concurrent transaction: %w", store.ErrConflict)
	}

	return err
}

func mutationKey(m store.Mutation) *store.Key {
	if m.Put != nil {
		return m.Put.Key()
	}
	return m.Delete
}
