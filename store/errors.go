package store

import "errors"

var (
	// ErrNotActive is returned when an operation is attempted on a
	// transaction that has already committed or rolled back.
	ErrNotActive = errors.New("lattice: transaction is not active")

	// ErrConflict is returned by Commit when another transaction
	// committed a conflicting write after this transaction's snapshot
	// was taken. The transaction is rolled back; the caller must restart
	// it from the beginning, reads included.
	ErrConflict = errors.New("lattice: transaction conflict")

	// ErrNotFound is returned when no entity exists at a key.
	ErrNotFound = errors.New("lattice: entity not found")

	// ErrIncompleteKey is returned when an operation requires a complete
	// key but the key's leaf element has no identifier.
	ErrIncompleteKey = errors.New("lattice: incomplete key")

	// ErrInvalidKey is returned for keys with empty kinds, both name and
	// id set, or incomplete non-leaf elements.
	ErrInvalidKey = errors.New("lattice: invalid key")

	// Done is returned by Results.Next when the sequence is exhausted.
	Done = errors.New("lattice: no more results")
)
