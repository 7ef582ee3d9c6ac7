package dynamo

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/internal/keypath"
	"github.com/jacentio/lattice/store"
)

// Item attribute layout:
//
//	pk      S  hash of the key path's root element
//	sk      S  encoded key path
//	kind    S  leaf kind, partition key of the kind GSI
//	path    L  key path elements, attributevalue-encoded
//	props   L  ordered properties, each {name, t, v}
//	version N  optimistic lock counter
//	ttl     N  soft-delete timestamp, absent while live
const (
	attrPK      = "pk"
	attrSK      = "sk"
	attrKind    = "kind"
	attrPath    = "path"
	attrProps   = "props"
	attrVersion = "version"
	attrTTL     = "ttl"
)

// Property type tags stored alongside each value so the typed Go
// representation survives the round trip.
const (
	tagString = "s"
	tagInt    = "i"
	tagFloat  = "f"
	tagBool   = "b"
	tagTime   = "t"
	tagBytes  = "x"
	tagKey    = "k"
	tagNull   = "0"
)

// encodeEntity renders an entity as a full item, version excluded; the
// commit builder owns version bookkeeping.
func encodeEntity(e *store.Entity) (map[string]types.AttributeValue, error) {
	key := e.Key()
	elems := keypath.FromKey(key)
	pathAttr, err := attributevalue.Marshal(elems)
	if err != nil {
		return nil, fmt.Errorf("marshal path: %w", err)
	}
	props, err := encodeProps(e.Properties())
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		attrPK:    &types.AttributeValueMemberS{Value: keypath.Partition(elems)},
		attrSK:    &types.AttributeValueMemberS{Value: keypath.Encode(elems)},
		attrKind:  &types.AttributeValueMemberS{Value: key.Kind},
		attrPath:  pathAttr,
		attrProps: props,
	}, nil
}

// encodeProps renders properties as a list, preserving insertion
// order; DynamoDB maps would lose it.
func encodeProps(props []store.Property) (types.AttributeValue, error) {
	list := make([]types.AttributeValue, 0, len(props))
	for _, p := range props {
		tag, v, err := encodeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", p.Name, err)
		}
		list = append(list, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: p.Name},
			"t":    &types.AttributeValueMemberS{Value: tag},
			"v":    v,
		}})
	}
	return &types.AttributeValueMemberL{Value: list}, nil
}

func encodeValue(v store.Value) (string, types.AttributeValue, error) {
	switch val := v.(type) {
	case store.StringValue:
		return tagString, &types.AttributeValueMemberS{Value: string(val)}, nil
	case store.IntValue:
		return tagInt, &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(val), 10)}, nil
	case store.FloatValue:
		return tagFloat, &types.AttributeValueMemberN{Value: strconv.FormatFloat(float64(val), 'g', -1, 64)}, nil
	case store.BoolValue:
		return tagBool, &types.AttributeValueMemberBOOL{Value: bool(val)}, nil
	case store.TimeValue:
		return tagTime, &types.AttributeValueMemberS{Value: time.Time(val).UTC().Format(time.RFC3339Nano)}, nil
	case store.BytesValue:
		return tagBytes, &types.AttributeValueMemberB{Value: val}, nil
	case store.KeyValue:
		av, err := attributevalue.Marshal(keypath.FromKey(val.Key))
		if err != nil {
			return "", nil, fmt.Errorf("marshal key reference: %w", err)
		}
		return tagKey, av, nil
	case store.NullValue:
		return tagNull, &types.AttributeValueMemberNULL{Value: true}, nil
	}
	return "", nil, fmt.Errorf("unsupported value type %T", v)
}

func decodeValue(tag string, av types.AttributeValue) (store.Value, error) {
	switch tag {
	case tagString:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("tag %q: expected S attribute", tag)
		}
		return store.StringValue(s.Value), nil
	case tagInt:
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("tag %q: expected N attribute", tag)
		}
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int %q: %w", n.Value, err)
		}
		return store.IntValue(i), nil
	case tagFloat:
		n, ok := av.(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("tag %q: expected N attribute", tag)
		}
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", n.Value, err)
		}
		return store.FloatValue(f), nil
	case tagBool:
		b, ok := av.(*types.AttributeValueMemberBOOL)
		if !ok {
			return nil, fmt.Errorf("tag %q: expected BOOL attribute", tag)
		}
		return store.BoolValue(b.Value), nil
	case tagTime:
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return nil, fmt.Errorf("tag %q: expected S attribute", tag)
		}
		t, err := time.Parse(time.RFC3339Nano, s.Value)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", s.Value, err)
		}
		return store.TimeValue(t), nil
	case tagBytes:
		b, ok := av.(*types.AttributeValueMemberB)
		if !ok {
			return nil, fmt.Errorf("tag %q: expected B attribute", tag)
		}
		return store.BytesValue(b.Value), nil
	case tagKey:
		var elems []keypath.Element
		if err := attributevalue.Unmarshal(av, &elems); err != nil {
			return nil, fmt.Errorf("unmarshal key reference: %w", err)
		}
		return store.KeyValue{Key: keypath.ToKey(elems)}, nil
	case tagNull:
		return store.NullValue{}, nil
	}
	return nil, fmt.Errorf("unknown value tag %q", tag)
}

// decodeEntity rebuilds an entity and its stored version from an item.
func decodeEntity(item map[string]types.AttributeValue) (*store.Entity, int64, error) {
	var elems []keypath.Element
	if err := attributevalue.Unmarshal(item[attrPath], &elems); err != nil {
		return nil, 0, fmt.Errorf("unmarshal path: %w", err)
	}
	if len(elems) == 0 {
		return nil, 0, fmt.Errorf("item has no key path")
	}

	b := store.NewEntity(keypath.ToKey(elems))
	if list, ok := item[attrProps].(*types.AttributeValueMemberL); ok {
		for i, raw := range list.Value {
			m, ok := raw.(*types.AttributeValueMemberM)
			if !ok {
				return nil, 0, fmt.Errorf("property %d: expected M attribute", i)
			}
			name, ok := m.Value["name"].(*types.AttributeValueMemberS)
			if !ok {
				return nil, 0, fmt.Errorf("property %d: missing name", i)
			}
			tag, ok := m.Value["t"].(*types.AttributeValueMemberS)
			if !ok {
				return nil, 0, fmt.Errorf("property %q: missing type tag", name.Value)
			}
			v, err := decodeValue(tag.Value, m.Value["v"])
			if err != nil {
				return nil, 0, fmt.Errorf("property %q: %w", name.Value, err)
			}
			b.Set(name.Value, v)
		}
	}

	version := itemVersion(item)
	return b.Build(), version, nil
}

// itemVersion reads the optimistic lock counter, zero when absent or
// malformed.
func itemVersion(item map[string]types.AttributeValue) int64 {
	n, ok := item[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
