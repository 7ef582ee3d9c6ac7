// Package keypath encodes hierarchical key paths into stable strings
// for storage layouts that sort and prefix-match on them.
package keypath

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jacentio/lattice/store"
)

// Element is one (kind, identifier) step of a key path.
type Element struct {
	Kind string `dynamodbav:"k"`
	Name string `dynamodbav:"n,omitempty"`
	ID   int64  `dynamodbav:"i,omitempty"`
}

// FromKey flattens a key into path order, root first.
func FromKey(k *store.Key) []Element {
	var n int
	for cur := k; cur != nil; cur = cur.Parent {
		n++
	}
	elems := make([]Element, n)
	for cur := k; cur != nil; cur = cur.Parent {
		n--
		elems[n] = Element{Kind: cur.Kind, Name: cur.Name, ID: cur.ID}
	}
	return elems
}

// ToKey rebuilds a key from a root-first path.
func ToKey(elems []Element) *store.Key {
	var k *store.Key
	for _, e := range elems {
		if e.Name != "" {
			k = store.NameKey(e.Kind, e.Name, k)
		} else {
			k = store.IDKey(e.Kind, e.ID, k)
		}
	}
	return k
}

// Encode renders a root-first path as a stable string. Each element
// ends with "/", so the encoding of an ancestor is a strict prefix of
// the encodings of all its descendants and never a prefix of a sibling:
//
//	Account,nalice/             <- ancestor
//	Account,nalice/Ledger,i...  <- descendant
//
// Numeric ids render as a fixed-width decimal tagged "i"; names are
// escaped and tagged "n". Within one parent and kind, ids order
// numerically and sort before all names. Ids must be non-negative
// (keys with negative ids never validate, so drivers never store
// them); a negative id would break the fixed width.
func Encode(elems []Element) string {
	var b strings.Builder
	for _, e := range elems {
		b.WriteString(escape(e.Kind))
		b.WriteByte(',')
		if e.Name != "" {
			b.WriteByte('n')
			b.WriteString(escape(e.Name))
		} else {
			fmt.Fprintf(&b, "i%019d", e.ID)
		}
		b.WriteByte('/')
	}
	return b.String()
}

// EncodeKey is Encode over FromKey.
func EncodeKey(k *store.Key) string {
	return Encode(FromKey(k))
}

// Partition derives the hash-distributed partition key for a path: all
// entities sharing a root element land in one partition, so ancestor
// reads stay single-partition while distinct entity groups spread
// across the key space.
func Partition(elems []Element) string {
	root := Encode(elems[:1])
	h := sha256.Sum256([]byte(root))
	return hex.EncodeToString(h[:16])
}

// PartitionKey is Partition over FromKey.
func PartitionKey(k *store.Key) string {
	return Partition(FromKey(k))
}

// escape keeps ",", "/" and "%" out of encoded identifiers so the
// element structure stays parseable and the prefix property holds.
func escape(s string) string {
	if !strings.ContainsAny(s, ",/%") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case ',', '/', '%':
			fmt.Fprintf(&b, "%%%02x", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
