package kv

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"
	"go.etcd.io/bbolt"
)

// walletBucket is the single bucket every record lives in; the tag embedded
// in the key (see walletdb/codec.go) is the sole discriminator, matching
// the source format's single flat keyspace.
var walletBucket = []byte("wallet")

// boltDB wraps a bbolt.DB as a kv.DB. Opening one also takes an advisory
// file lock on a sibling "<path>.lock" file so two processes never open the
// same wallet file concurrently — the file-level counterpart to the
// in-memory wallet lock the loader assumes its caller is holding.
type boltDB struct {
	db   *bbolt.DB
	path string
	flk  *flock.Flock
}

// Open opens (creating if absent) the bbolt-backed wallet file at path.
func Open(path string) (DB, error) {
	flk := flock.New(path + ".lock")
	locked, err := flk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("kv: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("kv: %s is locked by another process", path)
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		_ = flk.Unlock()
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(walletBucket)
		return err
	}); err != nil {
		_ = db.Close()
		_ = flk.Unlock()
		return nil, fmt.Errorf("kv: init bucket: %w", err)
	}
	return &boltDB{db: db, path: path, flk: flk}, nil
}

func (d *boltDB) Path() string { return d.path }

func (d *boltDB) View(_ context.Context, f func(tx Tx) error) error {
	return d.db.View(func(btx *bbolt.Tx) error {
		return f(&boltTx{btx.Bucket(walletBucket)})
	})
}

func (d *boltDB) Update(_ context.Context, f func(tx RwTx) error) error {
	return d.db.Update(func(btx *bbolt.Tx) error {
		return f(&boltRwTx{boltTx{btx.Bucket(walletBucket)}})
	})
}

// BeginRw starts an explicit transaction for callers (the batch facade)
// that need to hold it open across several calls rather than a single
// closure.
func (d *boltDB) BeginRw(_ context.Context) (RwTx, error) {
	btx, err := d.db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &explicitRwTx{btx: btx, bucket: btx.Bucket(walletBucket)}, nil
}

func (d *boltDB) Checkpoint() error {
	return d.db.Sync()
}

func (d *boltDB) Close() error {
	err := d.db.Close()
	if unlockErr := d.flk.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

type boltTx struct {
	b *bbolt.Bucket
}

func (t *boltTx) GetOne(key []byte) ([]byte, error) {
	v := t.b.Get(key)
	if v == nil {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *boltTx) Cursor() (Cursor, error) {
	return &boltCursor{c: t.b.Cursor()}, nil
}

type boltRwTx struct {
	boltTx
}

func (t *boltRwTx) Put(key, value []byte) error { return t.b.Put(key, value) }
func (t *boltRwTx) Delete(key []byte) error     { return t.b.Delete(key) }
func (t *boltRwTx) RwCursor() (RwCursor, error) {
	return &boltRwCursor{boltCursor{c: t.b.Cursor()}}, nil
}

// explicitRwTx backs kv.DB.BeginRw: an outer *bbolt.Tx the caller commits or
// rolls back explicitly, used by the batch facade to hold one transaction
// open across several typed Write*/Erase* calls.
type explicitRwTx struct {
	btx    *bbolt.Tx
	bucket *bbolt.Bucket
}

func (t *explicitRwTx) GetOne(key []byte) ([]byte, error) {
	v := t.bucket.Get(key)
	if v == nil {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}
func (t *explicitRwTx) Cursor() (Cursor, error) { return &boltCursor{c: t.bucket.Cursor()}, nil }
func (t *explicitRwTx) Put(key, value []byte) error { return t.bucket.Put(key, value) }
func (t *explicitRwTx) Delete(key []byte) error     { return t.bucket.Delete(key) }
func (t *explicitRwTx) RwCursor() (RwCursor, error) {
	return &boltRwCursor{boltCursor{c: t.bucket.Cursor()}}, nil
}
func (t *explicitRwTx) Commit() error   { return t.btx.Commit() }
func (t *explicitRwTx) Rollback() error { return t.btx.Rollback() }

// boltTx.Commit/Rollback are no-ops for the closure-scoped View/Update
// variants: bbolt itself manages the transaction lifetime there.
func (t *boltTx) Commit() error   { return nil }
func (t *boltTx) Rollback() error { return nil }

type boltCursor struct {
	c *bbolt.Cursor
}

func (c *boltCursor) Seek(prefix []byte) ([]byte, []byte, error) {
	k, v := c.c.Seek(prefix)
	return cloneKV(k, v)
}
func (c *boltCursor) First() ([]byte, []byte, error) {
	k, v := c.c.First()
	return cloneKV(k, v)
}
func (c *boltCursor) Next() ([]byte, []byte, error) {
	k, v := c.c.Next()
	return cloneKV(k, v)
}
func (c *boltCursor) Close() {}

type boltRwCursor struct {
	boltCursor
}

func (c *boltRwCursor) DeleteCurrent() error { return c.c.Delete() }

func cloneKV(k, v []byte) ([]byte, []byte, error) {
	if k == nil {
		return nil, nil, nil
	}
	ck := make([]byte, len(k))
	copy(ck, k)
	var cv []byte
	if v != nil {
		cv = make([]byte, len(v))
		copy(cv, v)
	}
	return ck, cv, nil
}
