package dynamo

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/keypath"
	"github.com/jacentio/lattice/store"
)

// buildQueryInput translates a query into the key conditions the table
// layout supports. Ancestor queries stay on the base table: the
// ancestor's entity group is a single partition and its encoded path
// is a prefix of every descendant's sort key. Kind-only queries go
// through the kind GSI.
//
// Property predicates are not pushed down: properties live in an
// ordered list attribute, which DynamoDB filter expressions cannot
// address by name, so the driver evaluates them client-side after
// decoding. TTL filtering alone happens server-side.
func buildQueryInput(cfg Config, q *store.Query) (*dynamodb.QueryInput, error) {
	names := map[string]string{
		"#ttl":  attrTTL,
		"#kind": attrKind,
	}
	values := ttlFilterValues()
	values[":kind"] = &types.AttributeValueMemberS{Value: q.Kind()}

	input := &dynamodb.QueryInput{
		TableName:                aws.String(cfg.Table),
		ExpressionAttributeNames: names,
	}

	if ancestor := q.AncestorKey(); ancestor != nil {
		if ancestor.Incomplete() {
			return nil, fmt.Errorf("dynamo: ancestor: %w", store.ErrIncompleteKey)
		}
		values[":pk"] = &types.AttributeValueMemberS{Value: keypath.PartitionKey(ancestor)}
		values[":prefix"] = &types.AttributeValueMemberS{Value: keypath.EncodeKey(ancestor)}
		input.KeyConditionExpression = aws.String("pk = :pk AND begins_with(sk, :prefix)")
		input.FilterExpression = aws.String("#kind = :kind AND (" + ttlFilterExpr() + ")")
	} else {
		input.IndexName = aws.String(cfg.KindIndex)
		input.KeyConditionExpression = aws.String("#kind = :kind")
		input.FilterExpression = aws.String(ttlFilterExpr())
	}

	input.ExpressionAttributeValues = values
	return input, nil
}
