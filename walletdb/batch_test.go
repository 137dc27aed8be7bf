package walletdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigon-walletdb/kv"
)

func newBatchForTest(t *testing.T) *Batch {
	t.Helper()
	db, err := kv.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newBatch(db, &counter{})
}

func TestWriteNameReadBack(t *testing.T) {
	b := newBatchForTest(t)
	ctx := context.Background()
	require.NoError(t, b.WriteName(ctx, "addr1", "alice"))
	name, ok, err := b.ReadName(ctx, "addr1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", name)
}

func TestWriteICRejectsOverwriteWhenDisallowed(t *testing.T) {
	b := newBatchForTest(t)
	ctx := context.Background()
	key := []byte("k")
	require.NoError(t, b.WriteIC(ctx, key, []byte("v1"), false))
	err := b.WriteIC(ctx, key, []byte("v2"), false)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestTxnBeginRejectsNested(t *testing.T) {
	b := newBatchForTest(t)
	ctx := context.Background()
	require.NoError(t, b.TxnBegin(ctx))
	defer b.TxnAbort()
	err := b.TxnBegin(ctx)
	require.ErrorIs(t, err, ErrTxActive)
}

func TestTxnCommitWithoutBeginFails(t *testing.T) {
	b := newBatchForTest(t)
	err := b.TxnCommit()
	require.ErrorIs(t, err, ErrNoTx)
}

// TestWriteKeyIsAtomic verifies the compound keymeta+key write lands
// entirely within one transaction: a non-overwrite collision on the second
// half must leave the first half's write rolled back too.
func TestWriteKeyIsAtomic(t *testing.T) {
	b := newBatchForTest(t)
	ctx := context.Background()
	pub := []byte{1, 2, 3}

	// Pre-seed the key sub-record so the compound write's second half
	// collides and the whole operation must unwind.
	require.NoError(t, b.WriteIC(ctx, pubKeyKey(TagKey, pub), []byte("existing"), true))

	meta := &KeyMetadata{Version: 1}
	value := &PlainKeyValue{PrivKey: []byte{9, 9, 9}}
	err := b.WriteKey(ctx, pub, value, meta)
	require.Error(t, err)

	// keymeta must not have been left behind by the aborted transaction.
	_, ok, err := b.read(ctx, pubKeyKey(TagKeyMeta, pub))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteKeyRefusedOnceEncrypted(t *testing.T) {
	b := newBatchForTest(t)
	ctx := context.Background()
	pub := []byte{1, 2, 3}
	meta := &KeyMetadata{Version: 1}
	require.NoError(t, b.WriteCryptedKey(ctx, pub, []byte("cipher"), meta))

	err := b.WriteKey(ctx, pub, &PlainKeyValue{PrivKey: []byte{1}}, meta)
	require.ErrorIs(t, err, ErrEncrypted)
}

func TestWriteCryptedKeyErasesPlaintextKeys(t *testing.T) {
	b := newBatchForTest(t)
	ctx := context.Background()
	pub := []byte{4, 5, 6}
	meta := &KeyMetadata{Version: 1}

	require.NoError(t, b.WriteKey(ctx, pub, &PlainKeyValue{PrivKey: []byte{1, 2}}, meta))
	require.NoError(t, b.WriteWKey(ctx, pub, &LegacyKeyValue{PrivKey: []byte{1, 2}}))

	require.NoError(t, b.WriteCryptedKey(ctx, pub, []byte("cipher"), meta))

	_, ok, err := b.read(ctx, pubKeyKey(TagKey, pub))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = b.read(ctx, pubKeyKey(TagWKey, pub))
	require.NoError(t, err)
	require.False(t, ok)

	require.True(t, b.IsEncrypted())
}

// TestWriteKeyStampsIntegrityHash covers spec invariant 3: every key this
// core writes must carry the integrity tag, regardless of what the caller
// populated on the PlainKeyValue.
func TestWriteKeyStampsIntegrityHash(t *testing.T) {
	b := newBatchForTest(t)
	ctx := context.Background()
	pub := []byte{7, 8, 9}
	priv := []byte{1, 2, 3}
	require.NoError(t, b.WriteKey(ctx, pub, &PlainKeyValue{PrivKey: priv}, &KeyMetadata{Version: 1}))

	raw, ok, err := b.read(ctx, pubKeyKey(TagKey, pub))
	require.NoError(t, err)
	require.True(t, ok)
	v, err := decodePlainKeyValue(raw)
	require.NoError(t, err)
	require.True(t, v.HasHash)
	require.Equal(t, integrityHash(pub, priv), v.Hash)
}

func TestCounterBumpsOnEverySuccessfulWrite(t *testing.T) {
	b := newBatchForTest(t)
	ctx := context.Background()
	require.NoError(t, b.WriteName(ctx, "a", "one"))
	require.NoError(t, b.WriteName(ctx, "b", "two"))
	require.Equal(t, uint64(2), b.counter.value.Load())
}
