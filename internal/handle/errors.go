package handle

import "errors"

var (
	// ErrDuplicatePrimaryKey is returned by Insert when the primary key
	// already exists in the pool.
	ErrDuplicatePrimaryKey = errors.New("handle: duplicate primary key")
	// ErrRowNotFound is returned when a primary key has no live row.
	ErrRowNotFound = errors.New("handle: row not found")
	// ErrRowNotTombstoned is returned by Purge on a live row.
	ErrRowNotTombstoned = errors.New("handle: row is not tombstoned")
	// ErrUnknownKeyID is returned when a secondary index has not been
	// defined via DefineSecondaryIndex.
	ErrUnknownKeyID = errors.New("handle: unknown secondary key id")
)
