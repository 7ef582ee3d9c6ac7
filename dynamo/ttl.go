package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Deletes are TTL soft deletes: the item keeps its version history
// alive for conflict detection until DynamoDB expires it, and the
// streams cascade handler uses the TTL transition to delete the
// entity's descendants.

// isDeleted reports whether an item carries an expired TTL.
func isDeleted(item map[string]types.AttributeValue) bool {
	ttlAttr, ok := item[attrTTL]
	if !ok {
		return false
	}
	n, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= time.Now().Unix()
}

// ttlFilterExpr is the filter expression excluding soft-deleted items.
// Use with a "#ttl" name placeholder and a ":now" value.
func ttlFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

func ttlFilterValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
}
