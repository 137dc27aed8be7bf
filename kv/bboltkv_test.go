package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRefusesSecondHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(path)
	require.Error(t, err)
}

func TestPutGetDelete(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx RwTx) error {
		return tx.Put([]byte("k"), []byte("v"))
	}))

	require.NoError(t, db.View(ctx, func(tx Tx) error {
		v, err := tx.GetOne([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), v)
		return nil
	}))

	require.NoError(t, db.Update(ctx, func(tx RwTx) error {
		return tx.Delete([]byte("k"))
	}))

	require.NoError(t, db.View(ctx, func(tx Tx) error {
		v, err := tx.GetOne([]byte("k"))
		require.NoError(t, err)
		require.Nil(t, v)
		return nil
	}))
}

func TestCursorOrdering(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	require.NoError(t, db.Update(ctx, func(tx RwTx) error {
		for _, k := range keys {
			if err := tx.Put(k, k); err != nil {
				return err
			}
		}
		return nil
	}))

	var seen [][]byte
	require.NoError(t, db.View(ctx, func(tx Tx) error {
		cur, err := tx.Cursor()
		require.NoError(t, err)
		defer cur.Close()
		for k, _, err := cur.First(); k != nil; k, _, err = cur.Next() {
			require.NoError(t, err)
			seen = append(seen, k)
		}
		return nil
	}))
	require.Equal(t, keys, seen)
}

func TestExplicitRwTxCommit(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	tx, err := db.BeginRw(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("x"), []byte("1")))
	require.NoError(t, tx.Commit())

	require.NoError(t, db.View(ctx, func(tx Tx) error {
		v, err := tx.GetOne([]byte("x"))
		require.NoError(t, err)
		require.Equal(t, []byte("1"), v)
		return nil
	}))
}

func TestExplicitRwTxRollback(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	tx, err := db.BeginRw(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("y"), []byte("1")))
	require.NoError(t, tx.Rollback())

	require.NoError(t, db.View(ctx, func(tx Tx) error {
		v, err := tx.GetOne([]byte("y"))
		require.NoError(t, err)
		require.Nil(t, v)
		return nil
	}))
}
