package walletdb

import (
	"context"
	"fmt"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/erigontech/erigon-walletdb/kv"
)

// RecoveryFilter decides, per spec §4.6, which decoded records a salvage
// pass keeps. It is handed the same tag and decoded payload the loader
// would route through dispatchByTag, and returns whether to keep it.
type RecoveryFilter func(tag Tag, keyDec *decoder, value []byte) bool

// KeysOnlyFilter implements the filter spec §4.6 names explicitly: keep
// only key-bearing records (key, ckey, wkey, mkey, defaultkey), keymeta,
// and the HD chain record, discarding transaction history and everything
// else. It decides on the tag alone; the record's payload is not decoded
// or validated.
func KeysOnlyFilter(tag Tag, _ *decoder, _ []byte) bool {
	switch tag {
	case TagKey, TagCKey, TagWKey, TagMKey, TagKeyMeta, TagHDChain, TagDefaultKey:
		return true
	default:
		return false
	}
}

// sinkWallet is a Wallet implementation that discards what the loader
// dispatches to it: it never reconstructs in-memory wallet state, it just
// lets the loader's dispatch/classification machinery run.
// VerifyDatabaseFile loads through it. Recover does not use it: Recover
// decodes only each record's tag and applies its filter, without running
// the record through the loader's per-record handlers.
type sinkWallet struct {
	logger  log.Logger
	kept    []keptRecord
	flags   uint64
	hdChain *HDChain
}

type keptRecord struct {
	Tag   Tag
	Key   []byte
	Value []byte
}

func newSinkWallet(logger log.Logger) *sinkWallet {
	if logger == nil {
		logger = log.New()
	}
	return &sinkWallet{logger: logger}
}

func (s *sinkWallet) LoadKey(pubKey, privKey []byte) error { return nil }
func (s *sinkWallet) LoadCryptedKey(pubKey, encryptedPrivKey []byte) error { return nil }
func (s *sinkWallet) LoadKeyMetadata(pubKey []byte, meta *KeyMetadata) error { return nil }
func (s *sinkWallet) LoadScriptMetadata(scriptHash []byte, meta *KeyMetadata) error { return nil }
func (s *sinkWallet) LoadCScript(redeemScript []byte) error { return nil }
func (s *sinkWallet) LoadWatchOnly(script []byte) error { return nil }
func (s *sinkWallet) LoadKeyPool(index uint64, entry *KeyPoolEntry) error { return nil }
func (s *sinkWallet) LoadToWallet(tx *TxRecord) error { return nil }
func (s *sinkWallet) LoadDestData(address, key, value string) error { return nil }
func (s *sinkWallet) SetHDChain(chain *HDChain) error { s.hdChain = chain; return nil }
func (s *sinkWallet) SetWalletFlags(flags uint64) error { s.flags = flags; return nil }
func (s *sinkWallet) LoadMinVersion(version int32) error { return nil }
func (s *sinkWallet) ReorderTransactions() error { return nil }
func (s *sinkWallet) UpdateTimeFirstKey(unixTime int64, reliable bool) {}
func (s *sinkWallet) IsEncrypted() bool { return false }
func (s *sinkWallet) MarkEncrypted() {}
func (s *sinkWallet) SetMasterKeyMaxID(id uint32) {}
func (s *sinkWallet) KeyPoolSize() int { return 0 }
func (s *sinkWallet) IsLockedForDerivation() bool { return false }
func (s *sinkWallet) Logger() log.Logger { return s.logger }

// RecoverResult summarizes a salvage pass.
type RecoverResult struct {
	LoadResult LoadResult
	Kept       int
	Skipped    int
}

// Recover runs a filtered scan over path per spec §4.6: every record in
// the file is visited, but only the ones filter accepts are re-written
// into outPath. It is the "salvage tool" spec.md calls for — a way to
// pull out one class of record from a file that otherwise fails to load
// cleanly.
func Recover(ctx context.Context, path, outPath string, filter RecoveryFilter, logger log.Logger) (*RecoverResult, error) {
	if filter == nil {
		filter = KeysOnlyFilter
	}
	src, err := kv.Open(path)
	if err != nil {
		return nil, fmt.Errorf("walletdb: recover: open source: %w", err)
	}
	defer src.Close()

	dst, err := kv.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("walletdb: recover: open destination: %w", err)
	}
	defer dst.Close()

	res := &RecoverResult{LoadResult: LoadOk}

	err = src.View(ctx, func(tx kv.Tx) error {
		cur, err := tx.Cursor()
		if err != nil {
			return err
		}
		defer cur.Close()

		return dst.Update(ctx, func(wtx kv.RwTx) error {
			for k, v, err := cur.First(); k != nil; k, v, err = cur.Next() {
				if err != nil {
					return err
				}
				tag, keyDec, err := decodeTag(k)
				if err != nil {
					res.Skipped++
					continue
				}
				if !filter(tag, keyDec, v) {
					res.Skipped++
					continue
				}
				if err := wtx.Put(append([]byte{}, k...), append([]byte{}, v...)); err != nil {
					return err
				}
				res.Kept++
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("walletdb: recover: %w", err)
	}
	return res, nil
}

// VerifyEnvironment checks that the directory containing path exists and
// is writable enough to host a wallet database, the precondition spec
// §4.6 calls "verify environment" before attempting a load.
func VerifyEnvironment(path string) error {
	db, err := kv.Open(path)
	if err != nil {
		return fmt.Errorf("walletdb: environment check failed: %w", err)
	}
	return db.Close()
}

// VerifyDatabaseFile opens path, runs LoadWallet over it with a sinkWallet
// that discards every dispatched record, and reports whether the file is
// salvageable
// without mutating it. It is the read-only half of spec §4.6's
// "verify database file" step, run before LoadWallet is attempted for
// real.
func VerifyDatabaseFile(ctx context.Context, path string, featureLatest int32, logger log.Logger) (LoadResult, error) {
	db, err := kv.Open(path)
	if err != nil {
		return LoadFail, fmt.Errorf("walletdb: verify: open: %w", err)
	}
	defer db.Close()

	loader := NewLoader(db, nil, NewSecp256k1Deriver(true), featureLatest)
	w := newSinkWallet(logger)
	return loader.LoadWallet(ctx, NewLockToken(), w)
}
