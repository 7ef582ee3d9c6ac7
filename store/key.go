package store

import (
	"fmt"
	"strings"
)

// Key identifies an entity by a hierarchical path of (kind, identifier)
// elements. The identifier of each element is either a caller-provided
// name or a numeric id; a key whose leaf element has neither is
// incomplete and must be completed via [Client.AllocateID] before it can
// be written. Keys are immutable once constructed.
type Key struct {
	// Kind is the entity kind of the leaf path element.
	Kind string

	// Name is the provided string identifier. Mutually exclusive with ID.
	Name string

	// ID is the numeric identifier. Zero when Name is set or the key is
	// incomplete.
	ID int64

	// Parent is the enclosing path element, or nil for a root key.
	Parent *Key
}

// NameKey creates a key with a caller-provided name identifier.
func NameKey(kind, name string, parent *Key) *Key {
	return &Key{Kind: kind, Name: name, Parent: parent}
}

// IDKey creates a key with a numeric identifier. Valid ids are
// positive; AllocateID only ever assigns positive ids.
func IDKey(kind string, id int64, parent *Key) *Key {
	return &Key{Kind: kind, ID: id, Parent: parent}
}

// IncompleteKey creates a key without an identifier. The store assigns
// a numeric id when the key is passed to AllocateID.
func IncompleteKey(kind string, parent *Key) *Key {
	return &Key{Kind: kind, Parent: parent}
}

// Incomplete reports whether the key's leaf element has no identifier.
func (k *Key) Incomplete() bool {
	return k.Name == "" && k.ID == 0
}

// valid reports whether every element of the path has a kind, a
// non-negative id, and every non-leaf element has an identifier.
func (k *Key) valid() bool {
	if k == nil {
		return false
	}
	for ; k != nil; k = k.Parent {
		if k.Kind == "" || k.ID < 0 {
			return false
		}
		if k.Name != "" && k.ID != 0 {
			return false
		}
		if k.Parent != nil && k.Parent.Incomplete() {
			return false
		}
	}
	return true
}

// Equal reports whether two keys have identical paths.
func (k *Key) Equal(o *Key) bool {
	for k != nil && o != nil {
		if k.Kind != o.Kind || k.Name != o.Name || k.ID != o.ID {
			return false
		}
		k, o = k.Parent, o.Parent
	}
	return k == o
}

// HasAncestor reports whether a is k itself or one of the keys on k's
// parent path.
func (k *Key) HasAncestor(a *Key) bool {
	for cur := k; cur != nil; cur = cur.Parent {
		if cur.Equal(a) {
			return true
		}
	}
	return false
}

// Root returns the first element of the key path.
func (k *Key) Root() *Key {
	for k.Parent != nil {
		k = k.Parent
	}
	return k
}

// String returns a readable path representation such as
// /Account,alice/Ledger,42. The output is for diagnostics only; drivers
// use their own stable encoding.
func (k *Key) String() string {
	if k == nil {
		return ""
	}
	var b strings.Builder
	k.path(&b)
	return b.String()
}

func (k *Key) path(b *strings.Builder) {
	if k.Parent != nil {
		k.Parent.path(b)
	}
	b.WriteByte('/')
	b.WriteString(k.Kind)
	b.WriteByte(',')
	if k.Name != "" {
		b.WriteString(k.Name)
	} else {
		fmt.Fprintf(b, "%d", k.ID)
	}
}
