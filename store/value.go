package store

import (
	"bytes"
	"time"
)

// Value is a typed property value. The set of implementations is
// closed: StringValue, IntValue, FloatValue, BoolValue, TimeValue,
// BytesValue, KeyValue and NullValue.
type Value interface {
	isValue()
}

type StringValue string

type IntValue int64

type FloatValue float64

type BoolValue bool

type TimeValue time.Time

type BytesValue []byte

// KeyValue is a reference to another entity's key.
type KeyValue struct {
	Key *Key
}

type NullValue struct{}

func (StringValue) isValue() {}
func (IntValue) isValue()    {}
func (FloatValue) isValue()  {}
func (BoolValue) isValue()   {}
func (TimeValue) isValue()   {}
func (BytesValue) isValue()  {}
func (KeyValue) isValue()    {}
func (NullValue) isValue()   {}

// valuesEqual reports whether two values have the same type and
// contents.
func valuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case StringValue:
		bv, ok := b.(StringValue)
		return ok && av == bv
	case IntValue:
		bv, ok := b.(IntValue)
		return ok && av == bv
	case FloatValue:
		bv, ok := b.(FloatValue)
		return ok && av == bv
	case BoolValue:
		bv, ok := b.(BoolValue)
		return ok && av == bv
	case TimeValue:
		bv, ok := b.(TimeValue)
		return ok && time.Time(av).Equal(time.Time(bv))
	case BytesValue:
		bv, ok := b.(BytesValue)
		return ok && bytes.Equal(av, bv)
	case KeyValue:
		bv, ok := b.(KeyValue)
		return ok && av.Key.Equal(bv.Key)
	case NullValue:
		_, ok := b.(NullValue)
		return ok
	}
	return false
}

// compareValues orders two values of the same type. The second return
// is false when the types differ or the type has no ordering (bool,
// key, null).
func compareValues(a, b Value) (int, bool) {
	switch av := a.(type) {
	case StringValue:
		if bv, ok := b.(StringValue); ok {
			return strcmp(string(av), string(bv)), true
		}
	case IntValue:
		if bv, ok := b.(IntValue); ok {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			}
			return 0, true
		}
	case FloatValue:
		if bv, ok := b.(FloatValue); ok {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			}
			return 0, true
		}
	case TimeValue:
		if bv, ok := b.(TimeValue); ok {
			at, bt := time.Time(av), time.Time(bv)
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			}
			return 0, true
		}
	case BytesValue:
		if bv, ok := b.(BytesValue); ok {
			return bytes.Compare(av, bv), true
		}
	}
	return 0, false
}

func strcmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
