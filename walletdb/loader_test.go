package walletdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/erigon-walletdb/kv"
)

// fakeWallet is a Wallet test double recording every callback invocation
// so tests can assert what the loader dispatched.
type fakeWallet struct {
	logger log.Logger

	keys          map[string][]byte
	cryptedKeys   map[string][]byte
	keyMeta       map[string]*KeyMetadata
	txs           []*TxRecord
	flags         uint64
	minVersion    int32
	hdChain       *HDChain
	encrypted     bool
	reordered     bool
	masterKeyMax  uint32
	unreliable    bool
	lockedForDerv bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		logger:      log.New(),
		keys:        map[string][]byte{},
		cryptedKeys: map[string][]byte{},
		keyMeta:     map[string]*KeyMetadata{},
	}
}

func (w *fakeWallet) LoadKey(pubKey, privKey []byte) error {
	w.keys[string(pubKey)] = privKey
	return nil
}
func (w *fakeWallet) LoadCryptedKey(pubKey, encryptedPrivKey []byte) error {
	w.cryptedKeys[string(pubKey)] = encryptedPrivKey
	return nil
}
func (w *fakeWallet) LoadKeyMetadata(pubKey []byte, meta *KeyMetadata) error {
	w.keyMeta[string(pubKey)] = meta
	return nil
}
func (w *fakeWallet) LoadScriptMetadata(scriptHash []byte, meta *KeyMetadata) error { return nil }
func (w *fakeWallet) LoadCScript(redeemScript []byte) error                        { return nil }
func (w *fakeWallet) LoadWatchOnly(script []byte) error                            { return nil }
func (w *fakeWallet) LoadKeyPool(index uint64, entry *KeyPoolEntry) error          { return nil }
func (w *fakeWallet) LoadToWallet(tx *TxRecord) error {
	w.txs = append(w.txs, tx)
	return nil
}
func (w *fakeWallet) LoadDestData(address, key, value string) error { return nil }
func (w *fakeWallet) SetHDChain(chain *HDChain) error                { w.hdChain = chain; return nil }
func (w *fakeWallet) SetWalletFlags(flags uint64) error              { w.flags = flags; return nil }
func (w *fakeWallet) LoadMinVersion(version int32) error             { w.minVersion = version; return nil }
func (w *fakeWallet) ReorderTransactions() error                     { w.reordered = true; return nil }
func (w *fakeWallet) UpdateTimeFirstKey(unixTime int64, reliable bool) { w.unreliable = !reliable }
func (w *fakeWallet) IsEncrypted() bool                              { return w.encrypted }
func (w *fakeWallet) MarkEncrypted()                                  { w.encrypted = true }
func (w *fakeWallet) SetMasterKeyMaxID(id uint32)                     { w.masterKeyMax = id }
func (w *fakeWallet) KeyPoolSize() int                                { return 0 }
func (w *fakeWallet) IsLockedForDerivation() bool                     { return w.lockedForDerv }
func (w *fakeWallet) Logger() log.Logger                              { return w.logger }

func openDBForTest(t *testing.T) kv.DB {
	t.Helper()
	db, err := kv.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestLoadWalletPlainKeyHappyPath is scenario 1 of spec §8: a well-formed
// file with a plain key loads cleanly and the key reaches the wallet.
func TestLoadWalletPlainKeyHappyPath(t *testing.T) {
	db := openDBForTest(t)
	ctx := context.Background()
	batch := newBatch(db, &counter{})
	pub := []byte{1, 2, 3}
	priv := []byte{9, 9, 9}
	meta := &KeyMetadata{Version: 1}
	require.NoError(t, batch.WriteKey(ctx, pub, &PlainKeyValue{PrivKey: priv}, meta))

	loader := NewLoader(db, nil, nil, 1_000_000)
	w := newFakeWallet()
	res, err := loader.LoadWallet(ctx, NewLockToken(), w)
	require.NoError(t, err)
	require.Equal(t, LoadOk, res)
	require.Equal(t, priv, w.keys[string(pub)])
}

// TestLoadWalletKeyIntegrityHashMismatchIsCorrupt covers invariant 3.
func TestLoadWalletKeyIntegrityHashMismatchIsCorrupt(t *testing.T) {
	db := openDBForTest(t)
	ctx := context.Background()
	batch := newBatch(db, &counter{})
	pub := []byte{1, 2, 3}
	value := &PlainKeyValue{PrivKey: []byte{9}, HasHash: true, Hash: [32]byte{0xff}}
	require.NoError(t, batch.WriteIC(ctx, pubKeyKey(TagKey, pub), value.encode(), true))

	loader := NewLoader(db, nil, nil, 1_000_000)
	res, err := loader.LoadWallet(ctx, NewLockToken(), newFakeWallet())
	require.NoError(t, err)
	require.Equal(t, Corrupt, res)
}

// TestLoadWalletMinVersionTooNewAborts covers the minversion gate aborting
// before any record dispatch.
func TestLoadWalletMinVersionTooNewAborts(t *testing.T) {
	db := openDBForTest(t)
	ctx := context.Background()
	batch := newBatch(db, &counter{})
	require.NoError(t, batch.WriteMinVersion(ctx, 2_000_000))

	loader := NewLoader(db, nil, nil, 1_000_000)
	res, err := loader.LoadWallet(ctx, NewLockToken(), newFakeWallet())
	require.NoError(t, err)
	require.Equal(t, TooNew, res)
}

// TestLoadWalletUnknownRecordsTolerated covers invariant 1: unknown tags
// are counted, never rejected.
func TestLoadWalletUnknownRecordsTolerated(t *testing.T) {
	db := openDBForTest(t)
	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Put(tagKey("somefuturetag"), []byte("payload"))
	}))

	loader := NewLoader(db, nil, nil, 1_000_000)
	res, err := loader.LoadWallet(ctx, NewLockToken(), newFakeWallet())
	require.NoError(t, err)
	require.Equal(t, LoadOk, res)
}

// TestLoadWalletUnorderedTxTriggersReorder covers the post-scan action.
func TestLoadWalletUnorderedTxTriggersReorder(t *testing.T) {
	db := openDBForTest(t)
	ctx := context.Background()
	batch := newBatch(db, &counter{})
	rec := &TxRecord{Hash: [32]byte{1}, OrderPos: unorderedSentinel, MapValue: map[string]string{}}
	require.NoError(t, batch.WriteTx(ctx, rec))

	loader := NewLoader(db, nil, nil, 1_000_000)
	w := newFakeWallet()
	res, err := loader.LoadWallet(ctx, NewLockToken(), w)
	require.NoError(t, err)
	require.Equal(t, LoadOk, res)
	require.True(t, w.reordered)
}

func TestResolveBestBlockPrefersNonEmptyBestBlock(t *testing.T) {
	bb := &Locator{Hashes: [][32]byte{{1}}}
	nm := &Locator{Hashes: [][32]byte{{2}}}
	require.Equal(t, bb, ResolveBestBlock(bb, nm))
	require.Equal(t, nm, ResolveBestBlock(&Locator{}, nm))
	require.Equal(t, nm, ResolveBestBlock(nil, nm))
}
