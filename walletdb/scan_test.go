package walletdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/erigontech/erigon-walletdb/kv"
)

func seedTxs(t *testing.T, db kv.DB, hashes [][32]byte) {
	t.Helper()
	ctx := context.Background()
	b := newBatch(db, &counter{})
	for _, h := range hashes {
		require.NoError(t, b.WriteTx(ctx, &TxRecord{Hash: h, MapValue: map[string]string{}}))
	}
}

func TestZapSelectTxSetAlgebra(t *testing.T) {
	outer := t
	rapid.Check(t, func(rt *rapid.T) {
		db, err := kv.Open(filepath.Join(outer.TempDir(), "wallet.db"))
		require.NoError(rt, err)
		defer db.Close()

		n := rapid.IntRange(0, 12).Draw(rt, "n")
		all := make([][32]byte, n)
		for i := range all {
			all[i][0] = byte(i + 1)
			all[i][1] = byte(i + 1)
		}
		seedTxs(outer, db, all)

		// Pick a pseudo-random subset S to erase, plus one hash never
		// written at all (present in S but absent from the db).
		var want [][32]byte
		for i, h := range all {
			if rapid.Bool().Draw(rt, "include") {
				want = append(want, h)
			}
			_ = i
		}
		var ghost [32]byte
		ghost[0] = 0xee
		want = append(want, ghost)

		erased, err := ZapSelectTx(context.Background(), db, want)
		require.NoError(rt, err)

		erasedSet := map[[32]byte]bool{}
		for _, h := range erased {
			erasedSet[h] = true
		}
		wantSet := map[[32]byte]bool{}
		for _, h := range want {
			wantSet[h] = true
		}
		haveSet := map[[32]byte]bool{}
		for _, h := range all {
			haveSet[h] = true
		}

		// erased == T ∩ S
		for h := range wantSet {
			if haveSet[h] {
				require.True(rt, erasedSet[h], "expected %x to be erased", h)
			}
		}
		for h := range erasedSet {
			require.True(rt, wantSet[h] && haveSet[h])
		}

		remaining, _, err := FindWalletTx(context.Background(), db)
		require.NoError(rt, err)
		remainingSet := map[[32]byte]bool{}
		for _, h := range remaining {
			remainingSet[h] = true
		}
		for h := range haveSet {
			if wantSet[h] {
				require.False(rt, remainingSet[h])
			} else {
				require.True(rt, remainingSet[h])
			}
		}
	})
}

func TestZapWalletTxErasesEverything(t *testing.T) {
	db, err := kv.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	defer db.Close()

	all := [][32]byte{{1}, {2}, {3}}
	seedTxs(t, db, all)

	erased, err := ZapWalletTx(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, erased, 3)

	remaining, _, err := FindWalletTx(context.Background(), db)
	require.NoError(t, err)
	require.Empty(t, remaining)
}
