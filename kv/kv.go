// Package kv defines the minimal transactional key-value engine contract
// that walletdb is built on. The engine itself — file creation, on-disk
// recovery, environment verification — is an external collaborator; this
// package only names the surface walletdb needs from it, the same way
// erigon-lib/kv separates the table-name taxonomy from the engine that
// backs it.
package kv

import (
	"context"
	"errors"
)

// ErrKeyNotFound is not returned by the bbolt engine in this package:
// Tx.GetOne reports a missing key as a nil value with a nil error, and a
// Cursor that finds nothing returns a nil key. It is never a corruption
// signal by itself.
var ErrKeyNotFound = errors.New("kv: key not found")

// DB is a single opened wallet file. All records for every tag in the
// walletdb taxonomy share one bucket inside it — the tag embedded in the
// key, not the bucket, is the discriminator (spec: "no global header
// distinguishes records").
type DB interface {
	View(ctx context.Context, f func(tx Tx) error) error
	Update(ctx context.Context, f func(tx RwTx) error) error

	// BeginRw starts a transaction that the caller must Commit or Rollback.
	// A batch holds at most one active transaction.
	BeginRw(ctx context.Context) (RwTx, error)

	// Checkpoint flushes any buffered writes to stable storage. Used by the
	// flush scheduler; cheap to call when nothing changed.
	Checkpoint() error

	// Path returns the filesystem path backing this DB, for the backup
	// manager's file-level copy.
	Path() string

	Close() error
}

// Tx is a read-only view of the database.
type Tx interface {
	GetOne(key []byte) (value []byte, err error)
	Cursor() (Cursor, error)
}

// RwTx additionally allows mutation, and must be explicitly finished.
type RwTx interface {
	Tx
	Put(key, value []byte) error
	Delete(key []byte) error
	RwCursor() (RwCursor, error)
	Commit() error
	Rollback() error
}

// Cursor walks keys in ascending byte order.
type Cursor interface {
	Seek(prefix []byte) (key, value []byte, err error)
	First() (key, value []byte, err error)
	Next() (key, value []byte, err error)
	Close()
}

// RwCursor additionally allows deleting the current entry.
type RwCursor interface {
	Cursor
	DeleteCurrent() error
}
